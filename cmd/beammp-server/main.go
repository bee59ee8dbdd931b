// Command beammp-server is the entrypoint: load config, open the
// administrative store, build the resource catalog and identity client,
// then run the server until an interrupt signal arrives.
//
// Grounded on the teacher's main.go: flag-driven startup, store.New +
// defer Close, a context canceled by os/signal, and a background metrics
// goroutine alongside the main blocking Run call.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BeamMP/BeamMP-Server/config"
	"github.com/BeamMP/BeamMP-Server/identity"
	"github.com/BeamMP/BeamMP-Server/metrics"
	"github.com/BeamMP/BeamMP-Server/resources"
	"github.com/BeamMP/BeamMP-Server/server"
	"github.com/BeamMP/BeamMP-Server/store"
)

func main() {
	configPath := flag.String("config", "ServerConfig.toml", "path to the server's TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	setLogLevel(cfg.General.LogLevel)

	st, err := store.New(cfg.General.DBPath)
	if err != nil {
		slog.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	catalog, err := resources.BuildCatalog(cfg.General.ResourceFolder)
	if err != nil {
		slog.Error("resource catalog build failed", "resource_folder", cfg.General.ResourceFolder, "err", err)
		os.Exit(1)
	}

	idClient := identity.NewClient(cfg.General.AuthHost)

	srv, err := server.New(cfg, idClient, catalog, st)
	if err != nil {
		slog.Error("server init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go metrics.Run(ctx, srv.World(), 30*time.Second)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := st.Optimize(); err != nil {
					slog.Warn("store optimize failed", "err", err)
				}
				if n, err := st.PurgeExpiredBans(); err != nil {
					slog.Warn("purge expired bans failed", "err", err)
				} else if n > 0 {
					slog.Info("purged expired bans", "count", n)
				}
			}
		}
	}()

	slog.Info("starting server", "name", cfg.General.Name, "port", cfg.General.Port)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
