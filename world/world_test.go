package world

import (
	"net"
	"testing"
	"time"

	"github.com/BeamMP/BeamMP-Server/protocol"
	"github.com/BeamMP/BeamMP-Server/session"
)

func newSession(t *testing.T, name string) *session.Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	s := session.New(server, protocol.NewCodec(), 4)
	s.Identity.Username = name
	return s
}

func TestAllocateIDSmallestUnused(t *testing.T) {
	w := New(256)

	id0, err := w.AllocateID()
	if err != nil || id0 != 0 {
		t.Fatalf("expected id 0, got %d err=%v", id0, err)
	}
	w.Register(id0, newSession(t, "a"))

	id1, err := w.AllocateID()
	if err != nil || id1 != 1 {
		t.Fatalf("expected id 1, got %d err=%v", id1, err)
	}
	w.Register(id1, newSession(t, "b"))

	w.Release(0)
	id2, err := w.AllocateID()
	if err != nil || id2 != 0 {
		t.Fatalf("expected reused id 0, got %d err=%v", id2, err)
	}
}

func TestAllocateIDFailsCleanlyWhenSaturated(t *testing.T) {
	w := New(2)
	id0, _ := w.AllocateID()
	w.Register(id0, newSession(t, "a"))
	id1, _ := w.AllocateID()
	w.Register(id1, newSession(t, "b"))

	if _, err := w.AllocateID(); err == nil {
		t.Fatal("expected error when saturated")
	}
}

func TestActiveFiltersByState(t *testing.T) {
	w := New(256)
	s0 := newSession(t, "a")
	s1 := newSession(t, "b")
	s0.SetState(session.Active)
	s1.SetState(session.Connecting)
	w.Register(0, s0)
	w.Register(1, s1)

	active := w.Active()
	if len(active) != 1 || active[0].Identity.Username != "a" {
		t.Fatalf("expected only 'a' active, got %+v", active)
	}
}

func TestPlayerListFrameFormat(t *testing.T) {
	w := New(10)
	s0 := newSession(t, "alice")
	s1 := newSession(t, "bob")
	s0.SetState(session.Active)
	s1.SetState(session.Active)
	w.Register(0, s0)
	w.Register(1, s1)

	got := string(w.PlayerListFrame())
	want := "Ss2/10:alice,bob"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestShouldBroadcastPlayerListRateLimited(t *testing.T) {
	w := New(10)
	now := time.Now()
	if !w.ShouldBroadcastPlayerList(now) {
		t.Fatal("expected first call to be allowed")
	}
	if w.ShouldBroadcastPlayerList(now.Add(100 * time.Millisecond)) {
		t.Fatal("expected second call within 1s to be suppressed")
	}
	if !w.ShouldBroadcastPlayerList(now.Add(1100 * time.Millisecond)) {
		t.Fatal("expected call after 1s to be allowed")
	}
}

func TestSweepReclaimsDisconnectedSessions(t *testing.T) {
	w := New(10)
	s0 := newSession(t, "alice")
	s0.SetState(session.Active)
	if _, err := s0.RegisterCar("car-a"); err != nil {
		t.Fatalf("RegisterCar: %v", err)
	}
	w.Register(0, s0)

	s1 := newSession(t, "bob")
	s1.SetState(session.Active)
	w.Register(1, s1)

	s0.SetState(session.Disconnect)

	events := w.Sweep()
	if len(events) != 1 {
		t.Fatalf("expected 1 disconnect event, got %d", len(events))
	}
	if events[0].ID != 0 || events[0].Username != "alice" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if len(events[0].CarIDs) != 1 || events[0].CarIDs[0] != 0 {
		t.Fatalf("expected car id 0, got %+v", events[0].CarIDs)
	}
	if _, ok := w.Get(0); ok {
		t.Fatal("expected id 0 to be released")
	}
	if _, ok := w.Get(1); !ok {
		t.Fatal("expected id 1 (still active) to remain")
	}
}
