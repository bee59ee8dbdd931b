package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BeamMP/BeamMP-Server/gameerr"
)

// NotificationFrame wraps msg in the `J`-coded join/leave notification
// (spec.md §4.5, §4.9; SPEC_FULL.md supplemented feature #3, grounded on
// the original source's NotificationPacket).
func NotificationFrame(msg string) []byte {
	return append([]byte{'J'}, []byte(msg)...)
}

// KickFrame builds the `K<reason>` frame (spec.md §4.2, §4.3).
func KickFrame(reason string) []byte {
	return append([]byte{'K'}, []byte(reason)...)
}

// VehicleDeleteFrame builds the `Od:<pid>-<vid>` correction/delete frame
// (spec.md §4.5 'd', §4.7 vetoed-effects).
func VehicleDeleteFrame(pid, vid uint8) []byte {
	return []byte(fmt.Sprintf("Od:%d-%d", pid, vid))
}

// FullSyncSpawnFrame builds the `Os:<role>:<name>:<pid>-<vid>:<descriptor>`
// frame sent once per car during full sync (spec.md §4.5 'H').
func FullSyncSpawnFrame(role, name string, pid, vid uint8, descriptor string) []byte {
	return []byte(fmt.Sprintf("Os:%s:%s:%d-%d:%s", role, name, pid, vid, descriptor))
}

// PlayerNameFrame builds the `Sn<username>` frame sent to a player during
// full sync (spec.md §4.5 'H').
func PlayerNameFrame(username string) []byte {
	return []byte("Sn" + username)
}

// MapFrame builds the `M<map-name>` frame sent at the end of resource
// sync (spec.md §4.4).
func MapFrame(mapName string) []byte {
	return []byte("M" + mapName)
}

// ChatFrame builds the `C:<name>:<message>` frame (spec.md §4.5 'C',
// §4.7 ChatSlot approved effect).
func ChatFrame(name, message string) []byte {
	return []byte(fmt.Sprintf("C:%s:%s", name, message))
}

// SpawnParts is a parsed `Os:<role>:<name>:<pid>-<vid>:<descriptor>` frame.
type SpawnParts struct {
	Role       string
	Name       string
	PID        uint8
	VID        uint8
	Descriptor string
}

// ParseSpawnFrame splits payload (with the leading "Os:" already present)
// on ':' into at most 5 fields so the descriptor — which may itself
// contain colons — is never truncated (spec.md §4.5 's': "splitting on
// ':' into at most 3 chunks (descriptor keeps its internal colons)" —
// generalized here to the full role:name:pid-vid:descriptor shape named
// in §4.5/§6).
func ParseSpawnFrame(payload []byte) (SpawnParts, error) {
	s := string(payload)
	if !strings.HasPrefix(s, "Os:") {
		return SpawnParts{}, gameerr.New(gameerr.Protocol, "spawn.prefix", fmt.Errorf("missing Os: prefix"))
	}
	parts := strings.SplitN(s[len("Os:"):], ":", 4)
	if len(parts) != 4 {
		return SpawnParts{}, gameerr.New(gameerr.Protocol, "spawn.shape", fmt.Errorf("expected role:name:pid-vid:descriptor, got %d fields", len(parts)))
	}
	pid, vid, err := parsePIDVID(parts[2])
	if err != nil {
		return SpawnParts{}, err
	}
	return SpawnParts{Role: parts[0], Name: parts[1], PID: pid, VID: vid, Descriptor: parts[3]}, nil
}

func parsePIDVID(s string) (pid, vid uint8, err error) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return 0, 0, gameerr.New(gameerr.Protocol, "pidvid.shape", fmt.Errorf("expected pid-vid, got %q", s))
	}
	p, perr := strconv.Atoi(s[:dash])
	v, verr := strconv.Atoi(s[dash+1:])
	if perr != nil || verr != nil || p < 0 || p > 255 || v < 0 || v > 255 {
		return 0, 0, gameerr.New(gameerr.Protocol, "pidvid.parse", fmt.Errorf("malformed pid-vid %q", s))
	}
	return uint8(p), uint8(v), nil
}

// ParseDeleteFrame parses `Od:<pid>-<vid>` (spec.md §4.5 'd').
func ParseDeleteFrame(payload []byte) (pid, vid uint8, err error) {
	s := string(payload)
	if !strings.HasPrefix(s, "Od:") {
		return 0, 0, gameerr.New(gameerr.Protocol, "delete.prefix", fmt.Errorf("missing Od: prefix"))
	}
	return parsePIDVID(s[len("Od:"):])
}

// ParseChatFrame parses `C:<name>:<message>` (spec.md §4.5 'C'). The
// message itself may contain colons, so only the first two are split on.
func ParseChatFrame(payload []byte) (name, message string, err error) {
	s := string(payload)
	if !strings.HasPrefix(s, "C:") {
		return "", "", gameerr.New(gameerr.Protocol, "chat.prefix", fmt.Errorf("missing C: prefix"))
	}
	parts := strings.SplitN(s[len("C:"):], ":", 2)
	if len(parts) != 2 {
		return "", "", gameerr.New(gameerr.Protocol, "chat.shape", fmt.Errorf("expected name:message"))
	}
	return parts[0], parts[1], nil
}

// digitAt reads the ASCII digit at offset off in payload and returns its
// numeric value (spec.md §9 "ASCII-digit pids in packet bodies": "treat
// values outside [0-9] ... as Protocol errors").
func digitAt(payload []byte, off int) (uint8, error) {
	if off >= len(payload) || payload[off] < '0' || payload[off] > '9' {
		return 0, gameerr.New(gameerr.Protocol, "digit.range", fmt.Errorf("offset %d is not an ASCII digit", off))
	}
	return payload[off] - '0', nil
}

// ParseEditFrame reads pid/vid as ASCII digits at payload offsets 3 and 5
// and the descriptor starting at offset 7 (spec.md §4.5 'c').
func ParseEditFrame(payload []byte) (pid, vid uint8, descriptor string, err error) {
	pid, err = digitAt(payload, 3)
	if err != nil {
		return 0, 0, "", err
	}
	vid, err = digitAt(payload, 5)
	if err != nil {
		return 0, 0, "", err
	}
	if len(payload) < 7 {
		return 0, 0, "", gameerr.New(gameerr.Protocol, "edit.length", fmt.Errorf("payload too short for descriptor"))
	}
	return pid, vid, string(payload[7:]), nil
}

// ParsePositionFrame reads pid/vid as ASCII digits at offsets 3 and 5 and
// returns the JSON body starting at offset 7 (spec.md §4.6 'Z'). Payloads
// shorter than 7 bytes are rejected without mutating state (spec.md §8
// "A Z packet with payload length <7 is rejected as Protocol error").
func ParsePositionFrame(payload []byte) (pid, vid uint8, jsonBody []byte, err error) {
	if len(payload) < 7 {
		return 0, 0, nil, gameerr.New(gameerr.Protocol, "position.length", fmt.Errorf("payload length %d < 7", len(payload)))
	}
	pid, err = digitAt(payload, 3)
	if err != nil {
		return 0, 0, nil, err
	}
	vid, err = digitAt(payload, 5)
	if err != nil {
		return 0, 0, nil, err
	}
	return pid, vid, payload[7:], nil
}
