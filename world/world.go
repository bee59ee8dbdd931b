// Package world owns the live player registry: id allocation, the
// Active-player set, broadcast fan-out, and the disconnect sweep
// (spec.md §3, §4.8, §4.9). Exactly one goroutine — the server package's
// main tick loop — is meant to call the mutating methods; the locking
// here exists only to let read-mostly callers (admin API, metrics) look
// in safely, matching the teacher's Room ("taken-id set: a small
// mutex-guarded bitmap") pattern from room.go's id allocator.
package world

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BeamMP/BeamMP-Server/gameerr"
	"github.com/BeamMP/BeamMP-Server/session"
)

// World is the live player/car store.
type World struct {
	maxPlayers int

	mu       sync.Mutex
	taken    map[uint8]*session.Session
	lastList time.Time
}

// New returns a World that will refuse to allocate more than maxPlayers
// concurrent ids.
func New(maxPlayers int) *World {
	return &World{
		maxPlayers: maxPlayers,
		taken:      make(map[uint8]*session.Session),
	}
}

// AllocateID returns the smallest id in [0,255] not currently taken
// (spec.md §3: "drawn from the smallest unused value in [0,255]"). It
// fails with a Fatal-kind error if the configured max_players has been
// reached, or if the full byte range is saturated.
func (w *World) AllocateID() (uint8, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	limit := 256
	if w.maxPlayers > 0 && w.maxPlayers < limit {
		limit = w.maxPlayers
	}
	if len(w.taken) >= limit {
		return 0, gameerr.New(gameerr.Fatal, "world.allocate_id", fmt.Errorf("player id space saturated (%d/%d)", len(w.taken), limit))
	}
	for id := 0; id < 256; id++ {
		if _, ok := w.taken[uint8(id)]; !ok {
			return uint8(id), nil
		}
	}
	return 0, gameerr.New(gameerr.Fatal, "world.allocate_id", fmt.Errorf("player id space saturated"))
}

// Register adds s to the live set under id. Callers must have already
// obtained id from AllocateID.
func (w *World) Register(id uint8, s *session.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.taken[id] = s
}

// Release removes id from the live set, making it available for reuse
// (spec.md §3: "released on destruction").
func (w *World) Release(id uint8) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.taken, id)
}

// Get returns the session registered under id, if any.
func (w *World) Get(id uint8) (*session.Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.taken[id]
	return s, ok
}

// All returns every live session (any state), in ascending id order.
func (w *World) All() []*session.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.allLocked()
}

func (w *World) allLocked() []*session.Session {
	ids := make([]uint8, 0, len(w.taken))
	for id := range w.taken {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*session.Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, w.taken[id])
	}
	return out
}

// Active returns every live session currently in the Active state, in
// ascending id order (spec.md §4.8: "the list uses display names in
// session-order").
func (w *World) Active() []*session.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeLocked()
}

func (w *World) activeLocked() []*session.Session {
	all := w.allLocked()
	out := make([]*session.Session, 0, len(all))
	for _, s := range all {
		if s.State() == session.Active {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of live sessions.
func (w *World) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.taken)
}

// Broadcast enqueues payload to every Active session except skip (pass
// nil to include everyone).
func (w *World) Broadcast(payload []byte, skip *session.Session) {
	w.mu.Lock()
	active := w.activeLocked()
	w.mu.Unlock()

	for _, s := range active {
		if s == skip {
			continue
		}
		s.EnqueueFrame(payload)
	}
}

// BroadcastAll enqueues payload to every Active session, including the
// originator.
func (w *World) BroadcastAll(payload []byte) {
	w.Broadcast(payload, nil)
}

// PlayerListFrame builds the `Ss<count>/<max>:name1,name2,...` frame
// described by spec.md §4.8.
func (w *World) PlayerListFrame() []byte {
	w.mu.Lock()
	active := w.activeLocked()
	w.mu.Unlock()

	names := make([]string, 0, len(active))
	for _, s := range active {
		names = append(names, s.Identity.Username)
	}
	body := fmt.Sprintf("Ss%d/%d:%s", len(active), w.maxPlayers, joinComma(names))
	return []byte(body)
}

// ShouldBroadcastPlayerList reports whether at least one second has
// elapsed since the last player-list broadcast, and — if so — records now
// as the new high-water mark (spec.md §4.8: "at most once per second").
func (w *World) ShouldBroadcastPlayerList(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if now.Sub(w.lastList) < time.Second {
		return false
	}
	w.lastList = now
	return true
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}
	return out
}

// DisconnectedEvent describes one session reclaimed by the sweep.
type DisconnectedEvent struct {
	ID       uint8
	Username string
	CarIDs   []uint8
}

// Sweep scans the live set for sessions in state=Disconnect, releases
// their ids, and returns one DisconnectedEvent per reclaimed session in
// ascending id order (spec.md §4.9). Callers are responsible for sending
// the `Od:<pid>-<vid>` / `OnPlayerDisconnect` / leave-notification effects
// described there — Sweep only owns registry bookkeeping.
func (w *World) Sweep() []DisconnectedEvent {
	var events []DisconnectedEvent
	for _, s := range w.All() {
		if s.State() != session.Disconnect {
			continue
		}
		cars := s.Cars()
		carIDs := make([]uint8, len(cars))
		for i, c := range cars {
			carIDs[i] = c.ID
		}
		events = append(events, DisconnectedEvent{
			ID:       s.ID,
			Username: s.Identity.Username,
			CarIDs:   carIDs,
		})
		w.Release(s.ID)
		s.Close()
	}
	return events
}
