package approval

import (
	"testing"

	"github.com/BeamMP/BeamMP-Server/plugin"
)

func ch(v plugin.Value) <-chan plugin.Value {
	c := make(chan plugin.Value, 1)
	c <- v
	return c
}

func TestChatSlotVetoAndOverride(t *testing.T) {
	replies := []<-chan plugin.Value{
		ch(plugin.Value{Kind: plugin.KindString, String: "[modded] hi"}),
	}
	s := NewChatSlot(0, "alice", "hi", replies)
	s.poll()
	if !s.resolved() {
		t.Fatal("expected slot to resolve after one ready reply")
	}
	if s.Vetoed() {
		t.Fatal("string reply must not veto")
	}
	text, ok := s.ChatOverride()
	if !ok || text != "[modded] hi" {
		t.Fatalf("expected override text, got %q ok=%v", text, ok)
	}
}

func TestSpawnSlotVetoedByInteger1(t *testing.T) {
	replies := []<-chan plugin.Value{ch(plugin.Value{Kind: plugin.KindInteger, Integer: 1})}
	s := NewSpawnSlot(0, 0, `{"model":"covet"}`, []byte("Os:player:alice:0-0:{\"model\":\"covet\"}"), replies)
	s.poll()
	if !s.resolved() || !s.Vetoed() {
		t.Fatal("expected resolved+vetoed spawn slot")
	}
}

func TestQueuePreservesFIFOOrderPerLane(t *testing.T) {
	q := NewQueue()

	slowCh := make(chan plugin.Value) // never fires in this test
	fastCh := ch(plugin.Value{Kind: plugin.KindNone})

	slow := NewChatSlot(0, "a", "first", []<-chan plugin.Value{slowCh})
	fast := NewChatSlot(1, "b", "second", []<-chan plugin.Value{fastCh})
	q.Submit(slow)
	q.Submit(fast)

	ready := q.Tick()
	if len(ready) != 0 {
		t.Fatalf("expected no slots ready while head of lane is still pending, got %d", len(ready))
	}
	if q.Pending() != 2 {
		t.Fatalf("expected both slots still pending, got %d", q.Pending())
	}
}

func TestQueueYieldsResolvedSlotsInOrder(t *testing.T) {
	q := NewQueue()
	a := NewJoinSlot(0, []<-chan plugin.Value{ch(plugin.Value{Kind: plugin.KindNone})})
	b := NewJoinSlot(1, []<-chan plugin.Value{ch(plugin.Value{Kind: plugin.KindNone})})
	q.Submit(a)
	q.Submit(b)

	ready := q.Tick()
	if len(ready) != 2 || ready[0] != a || ready[1] != b {
		t.Fatalf("expected [a, b] in order, got %+v", ready)
	}
	if q.Pending() != 0 {
		t.Fatalf("expected queue empty after both resolved, got %d", q.Pending())
	}
}
