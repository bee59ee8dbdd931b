// Package approval implements the script-mediated approval pipeline for
// joins, chat, and vehicle events (spec.md §4.7, §3 "ApprovalSlot").
//
// Grounded on the teacher's Room, which holds several per-feature pending
// maps polled and mutated only from specific call sites (e.g. msgOwners,
// reactions in room.go) — the same "hold until resolved, mutate only from
// the owning tick" discipline spec.md §3 requires of ApprovalSlot
// ("mutated only by the tick routine that polls the reply channels").
package approval

import "github.com/BeamMP/BeamMP-Server/plugin"

// Kind identifies which of the four slot shapes a Slot holds.
type Kind int

const (
	Join Kind = iota
	Chat
	Spawn
	Edit
)

// Slot is one pending approval decision (spec.md §3 "ApprovalSlot").
type Slot struct {
	Kind     Kind
	PlayerID uint8

	// Chat fields.
	ChatName    string
	ChatMessage string

	// Spawn/Edit fields.
	VehicleID  uint8
	Descriptor string
	RawFrame   []byte // the originating Os:/Oc: frame bytes, kept for echo/broadcast

	replies []<-chan plugin.Value
	results []plugin.Value
}

func newSlot(kind Kind, pid uint8, replies []<-chan plugin.Value) *Slot {
	return &Slot{Kind: kind, PlayerID: pid, replies: replies}
}

// NewJoinSlot builds a JoinSlot (spec.md §4.7 "JoinSlot").
func NewJoinSlot(pid uint8, replies []<-chan plugin.Value) *Slot {
	return newSlot(Join, pid, replies)
}

// NewChatSlot builds a ChatSlot.
func NewChatSlot(pid uint8, name, message string, replies []<-chan plugin.Value) *Slot {
	s := newSlot(Chat, pid, replies)
	s.ChatName = name
	s.ChatMessage = message
	return s
}

// NewSpawnSlot builds a SpawnSlot.
func NewSpawnSlot(pid, vid uint8, descriptor string, rawFrame []byte, replies []<-chan plugin.Value) *Slot {
	s := newSlot(Spawn, pid, replies)
	s.VehicleID = vid
	s.Descriptor = descriptor
	s.RawFrame = rawFrame
	return s
}

// NewEditSlot builds an EditSlot.
func NewEditSlot(pid, vid uint8, descriptor string, rawFrame []byte, replies []<-chan plugin.Value) *Slot {
	s := newSlot(Edit, pid, replies)
	s.VehicleID = vid
	s.Descriptor = descriptor
	s.RawFrame = rawFrame
	return s
}

// poll drains every currently-ready reply channel without blocking,
// dropping channels once they produce a value or are closed (spec.md
// §4.7: "reply received: append to the slot's result vector, close the
// channel; no reply yet: keep the channel for next tick"). A plugin
// whose channel closes without a value contributes no opinion (spec.md
// §7 Plugin: "treat missing replies as no opinion").
func (s *Slot) poll() {
	remaining := s.replies[:0]
	for _, ch := range s.replies {
		select {
		case v, ok := <-ch:
			if ok {
				s.results = append(s.results, v)
			}
		default:
			remaining = append(remaining, ch)
		}
	}
	s.replies = remaining
}

// resolved reports whether every plugin has replied.
func (s *Slot) resolved() bool { return len(s.replies) == 0 }

// Vetoed reduces the slot's collected results per spec.md §4.7's decision
// rule: vetoed if any reply is Integer(1), Number(1.0), or Boolean(true).
func (s *Slot) Vetoed() bool {
	for _, v := range s.results {
		if v.IsVeto() {
			return true
		}
	}
	return false
}

// ChatOverride returns the chat text to use after reduction: the last
// String reply wins (spec.md §4.7 "a String reply overrides the message
// text (last one wins) and does not veto"); ok is false if no plugin
// replied with a String.
func (s *Slot) ChatOverride() (text string, ok bool) {
	for _, v := range s.results {
		if v.Kind == plugin.KindString {
			text, ok = v.String, true
		}
	}
	return text, ok
}

// Queue holds the four per-type FIFOs (spec.md §4.7: "relative ordering
// within one type is preserved (FIFO per type), but a join decision does
// not block chat or spawn decisions for other clients").
type Queue struct {
	lanes map[Kind][]*Slot
}

// NewQueue returns an empty approval Queue.
func NewQueue() *Queue {
	return &Queue{lanes: make(map[Kind][]*Slot)}
}

// Submit enqueues slot onto its type's lane.
func (q *Queue) Submit(slot *Slot) {
	q.lanes[slot.Kind] = append(q.lanes[slot.Kind], slot)
}

// Tick polls every lane and returns, in FIFO order per lane, every slot
// that has now fully resolved. A lane stops yielding at its first
// still-pending slot so that same-type ordering is never violated by a
// later slot resolving sooner (spec.md §4.7 FIFO-per-type guarantee);
// slots of other types are unaffected (spec.md: "does not block ... for
// other clients").
func (q *Queue) Tick() []*Slot {
	var ready []*Slot
	for kind, lane := range q.lanes {
		i := 0
		for i < len(lane) {
			lane[i].poll()
			if !lane[i].resolved() {
				break
			}
			ready = append(ready, lane[i])
			i++
		}
		q.lanes[kind] = lane[i:]
	}
	return ready
}

// Pending returns the total number of slots still awaiting resolution,
// for diagnostics/metrics.
func (q *Queue) Pending() int {
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}
