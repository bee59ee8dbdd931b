package plugin

import (
	"context"
	"testing"
	"time"
)

func TestValueIsVeto(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		veto bool
	}{
		{"integer 1 vetoes", Value{Kind: KindInteger, Integer: 1}, true},
		{"integer 0 does not veto", Value{Kind: KindInteger, Integer: 0}, false},
		{"number 1.0 vetoes", Value{Kind: KindNumber, Number: 1.0}, true},
		{"number 0.5 does not veto", Value{Kind: KindNumber, Number: 0.5}, false},
		{"boolean true vetoes", Value{Kind: KindBoolean, Boolean: true}, true},
		{"boolean false does not veto", Value{Kind: KindBoolean, Boolean: false}, false},
		{"string never vetoes", Value{Kind: KindString, String: "[modded] hi"}, false},
		{"none never vetoes", Value{Kind: KindNone}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.v.IsVeto(); got != c.veto {
				t.Errorf("IsVeto() = %v, want %v", got, c.veto)
			}
		})
	}
}

func TestDispatchForRepliesOnePerPlugin(t *testing.T) {
	m := NewManager()
	h1 := m.Load("p1")
	h2 := m.Load("p2")

	replies := m.DispatchForReplies(OnVehicleSpawn, map[string]any{"pid": uint8(0)})
	if len(replies) != 2 {
		t.Fatalf("expected 2 reply channels, got %d", len(replies))
	}

	ev1 := <-h1.Events()
	if ev1.Name != OnVehicleSpawn {
		t.Fatalf("expected OnVehicleSpawn, got %s", ev1.Name)
	}
	ev1.Reply <- Value{Kind: KindBoolean, Boolean: true}

	ev2 := <-h2.Events()
	ev2.Reply <- Value{Kind: KindNone}

	select {
	case v := <-replies[0]:
		if !v.IsVeto() {
			t.Error("expected first plugin's reply to veto")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply 0")
	}
	select {
	case v := <-replies[1]:
		if v.IsVeto() {
			t.Error("expected second plugin's reply not to veto")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply 1")
	}
}

func TestDispatchFireAndForgetDoesNotBlock(t *testing.T) {
	m := NewManager()
	m.Load("p1")
	done := make(chan struct{})
	go func() {
		m.Dispatch(OnPlayerDisconnect, map[string]any{"pid": uint8(2)})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked unexpectedly")
	}
}

func TestShutdownWaitsForReply(t *testing.T) {
	m := NewManager()
	h := m.Load("p1")

	go func() {
		ev := <-h.Events()
		if ev.Name != OnShutdown {
			t.Errorf("expected OnShutdown, got %s", ev.Name)
		}
		ev.Reply <- Value{Kind: KindNone}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Shutdown(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return after plugin replied")
	}
}
