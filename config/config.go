// Package config loads the on-disk server configuration. The file format
// and the operator-facing semantics of each field are an external
// collaborator per spec.md §1 ("out of scope: the on-disk configuration
// file parser") — this package exists only to hand the rest of the server
// a typed, validated struct.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Config is the server's static configuration, loaded once at startup.
type Config struct {
	General GeneralConfig `toml:"general"`
}

// GeneralConfig groups the fields spec.md §6 names explicitly.
type GeneralConfig struct {
	Port           int    `toml:"port"`
	MaxPlayers     int    `toml:"max_players"`
	MaxCars        int    `toml:"max_cars"`
	Map            string `toml:"map"`
	AuthKey        string `toml:"auth_key"`
	Private        bool   `toml:"private"`
	Name           string `toml:"name"`
	Description    string `toml:"description"`
	ResourceFolder string `toml:"resource_folder"`
	AuthHost       string `toml:"auth_host"`

	// LogLevel, tick, DB, and admin-API knobs are ambient operational
	// settings the distilled spec does not name but any real deployment
	// needs.
	LogLevel  string        `toml:"log_level"`
	Tick      time.Duration `toml:"-"`
	DBPath    string        `toml:"db_path"`
	AdminAddr string        `toml:"admin_addr"`
}

const (
	defaultPort       = 48900
	defaultMaxPlayers = 10
	defaultMaxCars    = 1
	defaultAuthHost   = "auth.beammp.com"
	defaultTick       = 50 * time.Millisecond
)

// Default returns a Config populated with the same defaults the original
// server ships with.
func Default() Config {
	return Config{General: GeneralConfig{
		Port:           defaultPort,
		MaxPlayers:     defaultMaxPlayers,
		MaxCars:        defaultMaxCars,
		Map:            "/levels/gridmap_v2/info.json",
		Private:        true,
		Name:           "BeamMP Server",
		ResourceFolder: "Resources",
		AuthHost:       defaultAuthHost,
		LogLevel:       "info",
		Tick:           defaultTick,
		DBPath:         "server.db",
		AdminAddr:      "127.0.0.1:7890",
	}}
}

// Load reads and parses the TOML configuration file at path, applying
// defaults for any field it omits, and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.General.Tick <= 0 {
		cfg.General.Tick = defaultTick
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field-level invariants spec.md §6 calls out explicitly
// (the auth_key "UUID format validated" requirement) plus basic sanity
// bounds on the numeric fields.
func (c Config) Validate() error {
	if c.General.Port <= 0 || c.General.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.General.Port)
	}
	if c.General.MaxPlayers <= 0 || c.General.MaxPlayers > 256 {
		return fmt.Errorf("config: max_players must be in (0, 256], got %d", c.General.MaxPlayers)
	}
	if c.General.MaxCars <= 0 {
		return fmt.Errorf("config: max_cars must be positive, got %d", c.General.MaxCars)
	}
	if c.General.AuthKey != "" {
		if _, err := uuid.Parse(c.General.AuthKey); err != nil {
			return fmt.Errorf("config: auth_key is not a valid UUID: %w", err)
		}
	}
	return nil
}
