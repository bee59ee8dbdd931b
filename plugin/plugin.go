// Package plugin implements the bidirectional message bus to user-supplied
// scripts (spec.md §6 "Plugin channel", §9 "Bidirectional plugin ↔ server
// calls"). The script language adapter itself is an external collaborator
// (spec.md §1 out-of-scope); this package only owns the typed channel
// protocol and the per-plugin task that every adapter implementation talks
// through.
//
// Grounded on the teacher's per-session channel + single-goroutine-owner
// pattern (internal/ws/handler.go, internal/core/channel_state.go) and the
// original Rust source's bidirectional tokio::sync::mpsc pair
// (src/server/plugins/mod.rs) — both model one task per remote collaborator
// communicating exclusively through channels, never shared memory.
package plugin

import (
	"context"
	"log/slog"
	"time"
)

// Event names dispatched to plugins (spec.md §6).
const (
	OnPluginLoaded        = "OnPluginLoaded"
	OnShutdown            = "OnShutdown"
	OnPlayerAuthenticated = "OnPlayerAuthenticated"
	OnPlayerConnecting    = "OnPlayerConnecting"
	OnPlayerJoining       = "OnPlayerJoining"
	OnPlayerDisconnect    = "OnPlayerDisconnect"
	OnVehicleSpawn        = "OnVehicleSpawn"
	OnVehicleEdited       = "OnVehicleEdited"
	OnVehicleDeleted      = "OnVehicleDeleted"
	OnChatMessage         = "OnChatMessage"
)

// ValueKind tags the heterogeneous reply variant described in spec.md §9
// ("model replies as a tagged variant of {integer, number, boolean,
// string, table}").
type ValueKind int

const (
	KindNone ValueKind = iota
	KindInteger
	KindNumber
	KindBoolean
	KindString
	KindTable
)

// Value is one plugin reply.
type Value struct {
	Kind    ValueKind
	Integer int64
	Number  float64
	Boolean bool
	String  string
	Table   map[string]Value
}

// IsVeto implements spec.md §4.7's veto rule: "vetoed if any reply is
// Integer(1), Number(1.0), or Boolean(true)".
func (v Value) IsVeto() bool {
	switch v.Kind {
	case KindInteger:
		return v.Integer == 1
	case KindNumber:
		return v.Number == 1.0
	case KindBoolean:
		return v.Boolean
	default:
		return false
	}
}

// Event is one server-to-plugin call (spec.md §6 plugin-bound
// "CallEventHandler(event, optional-reply-channel)"). Reply is nil for
// fire-and-forget events (OnPlayerDisconnect, OnPluginLoaded, ...); it is
// non-nil for events an approval slot awaits a verdict on.
type Event struct {
	Name    string
	Payload map[string]any
	Reply   chan<- Value
}

// RequestKind enumerates the plugin-to-server data requests named in
// spec.md §6 ("server-bound").
type RequestKind int

const (
	RequestPlayerCount RequestKind = iota
	RequestPlayers
	RequestPlayerIdentifiers
	RequestPlayerVehicles
	RequestPositionRaw
	RequestSendChatMessage
	RequestPluginLoaded
	RequestRegisterEventHandler
)

// Request is one plugin-to-server call. Reply carries the corresponding
// answer (PlayerCount, Players, PlayerIdentifiers, PlayerVehicles,
// PositionRaw); it is nil for calls with no answer (SendChatMessage,
// PluginLoaded, RegisterEventHandler).
type Request struct {
	Kind   RequestKind
	PID    uint8
	VID    uint8
	Target uint8
	Event  string
	Handler string
	Message string
	Reply  chan<- Response
}

// Response answers a Request. A request for an unknown pid/vid returns
// None=true rather than an error (spec.md §9: "requests that cannot be
// satisfied return a distinguished 'none' reply, not an error").
type Response struct {
	None              bool
	PlayerCount       int
	Players           []PlayerSummary
	PlayerIdentifiers PlayerSummary
	PlayerVehicles    []VehicleSummary
	Position          PositionRaw
}

// PlayerSummary is the data shape returned by RequestPlayers /
// RequestPlayerIdentifiers.
type PlayerSummary struct {
	ID       uint8
	Username string
	UID      string
	Roles    string
	Guest    bool
}

// VehicleSummary is the data shape returned by RequestPlayerVehicles.
type VehicleSummary struct {
	ID         uint8
	Descriptor string
}

// PositionRaw is the data shape returned by RequestPositionRaw.
type PositionRaw struct {
	Pos  [3]float64
	Rot  [4]float64
	Vel  [3]float64
	RVel [3]float64
	Tim  float64
	Ping float64
}

// eventQueueSize bounds the per-plugin inbound event channel.
const eventQueueSize = 64

// replyTimeout bounds how long Shutdown waits for one plugin to
// acknowledge OnShutdown before moving on to the next plugin. Approval
// slots do not use it: their reply channels are polled every tick until
// each plugin replies or its channel is closed.
const replyTimeout = 2 * time.Second

// Handle is the server's view of one loaded plugin's task (spec.md §5
// item 4: "one plugin task per plugin").
type Handle struct {
	Name    string
	events  chan Event
	Request chan Request // plugin-to-server; buffered, see NewHandle
}

// NewHandle registers a plugin task named name. The returned Handle's
// Request channel is buffered to eventQueueSize entries. No package in
// this module reads from it, the server's main tick loop included, so
// requests sent on it receive no Response.
func NewHandle(name string) *Handle {
	return &Handle{
		Name:    name,
		events:  make(chan Event, eventQueueSize),
		Request: make(chan Request, eventQueueSize),
	}
}

// Events exposes the channel a plugin adapter implementation reads
// server-dispatched events from.
func (h *Handle) Events() <-chan Event { return h.events }

// send delivers ev to this plugin's queue without blocking the caller
// beyond a short grace period; a wedged plugin adapter must never stall
// the main tick loop.
func (h *Handle) send(ev Event) {
	select {
	case h.events <- ev:
	case <-time.After(50 * time.Millisecond):
		slog.Warn("plugin: event queue full, dropping", "plugin", h.Name, "event", ev.Name)
		if ev.Reply != nil {
			close(ev.Reply)
		}
	}
}

// Manager fans events out to every loaded plugin and tears them down on
// shutdown (spec.md §5 item 4, §9).
type Manager struct {
	handles []*Handle
}

// NewManager returns an empty Manager; plugins register with Load.
func NewManager() *Manager {
	return &Manager{}
}

// Load registers a new plugin task named name and returns its Handle.
func (m *Manager) Load(name string) *Handle {
	h := NewHandle(name)
	m.handles = append(m.handles, h)
	return h
}

// Handles returns every loaded plugin's Handle.
func (m *Manager) Handles() []*Handle { return m.handles }

// Dispatch fires ev.Name with payload to every loaded plugin,
// fire-and-forget (used for OnPlayerConnecting, OnPlayerJoining and
// OnPlayerDisconnect — spec.md §4.7 JoinSlot approved
// effect: "dispatch ... to every plugin (no reply expected)").
func (m *Manager) Dispatch(name string, payload map[string]any) {
	for _, h := range m.handles {
		h.send(Event{Name: name, Payload: payload})
	}
}

// DispatchForReplies fires name to every loaded plugin and returns one
// reply channel per plugin, for an approval slot to poll non-blockingly
// across ticks (spec.md §4.7: "holds ... one pending reply per plugin").
func (m *Manager) DispatchForReplies(name string, payload map[string]any) []<-chan Value {
	out := make([]<-chan Value, 0, len(m.handles))
	for _, h := range m.handles {
		reply := make(chan Value, 1)
		h.send(Event{Name: name, Payload: payload, Reply: reply})
		out = append(out, reply)
	}
	return out
}

// Shutdown dispatches OnShutdown to each plugin in turn and waits for its
// acknowledgement on the reply channel, for at most replyTimeout per
// plugin and never past ctx's deadline, before returning
// (spec.md §5: "sends OnShutdown to each plugin and awaits its reply
// before dropping plugin tasks").
func (m *Manager) Shutdown(ctx context.Context) {
	for _, h := range m.handles {
		reply := make(chan Value, 1)
		h.send(Event{Name: OnShutdown, Reply: reply})
		select {
		case <-reply:
		case <-ctx.Done():
		case <-time.After(replyTimeout):
		}
	}
}
