// Package session implements the per-connection client session: the read
// half, a single writer task draining a bounded outbound queue, the car
// list, and the state machine from spec.md §4.3 and §4.10.
//
// The teacher repo's per-client goroutine (rustyguts-bken's
// handleClient/readDatagrams plus the simpler internal/ws/handler.go
// "go func() { for out := range session.Send { ... } }" writer) is the
// direct model for the writer task here: one goroutine owns the socket's
// write half exclusively, and every other goroutine communicates with it
// only by enqueueing onto a channel.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/BeamMP/BeamMP-Server/gameerr"
	"github.com/BeamMP/BeamMP-Server/identity"
	"github.com/BeamMP/BeamMP-Server/protocol"
)

// State is the per-session state machine from spec.md §4.10.
type State int32

const (
	Connecting State = iota
	SyncingResources
	Active
	Disconnect
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case SyncingResources:
		return "syncing_resources"
	case Active:
		return "active"
	case Disconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// writeQueueSize is the bound on a session's outbound frame queue
// (spec.md §3: "bounded queue (≥128)").
const writeQueueSize = 256

// authReadDeadline bounds every blocking read performed during auth/sync
// (spec.md §4.2: "5 seconds").
const authReadDeadline = 5 * time.Second

// protocolStrikeLimit is how many Protocol-kind errors a session may trip
// within protocolStrikeWindow before it is kicked outright (spec.md §7:
// "do not disconnect unless the same session trips it repeatedly").
const protocolStrikeLimit = 20
const protocolStrikeWindow = 10 * time.Second

// inboundRate bounds how many frames per second a single session may
// submit before frames start getting dropped (spec.md §7: "log, drop the
// packet; do not disconnect unless the same session trips it
// repeatedly"). A normal client's transform-update cadence sits well
// under this; only a misbehaving or hostile client trips it.
const inboundRate = 120
const inboundBurst = 240

// Car is one vehicle instance owned by this session (spec.md §3).
type Car struct {
	ID         uint8
	Descriptor string // opaque JSON-shaped text; never parsed by the server

	mu         sync.Mutex
	Pos        [3]float64
	Rot        [4]float64
	Vel        [3]float64
	RVel       [3]float64
	Tim        float64
	Ping       float64
	LastUpdate time.Time
}

// ApplyTransform atomically updates the car's last-known kinematic state.
func (c *Car) ApplyTransform(pos, rvel, vel [3]float64, rot [4]float64, tim, ping float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pos, c.RVel, c.Vel, c.Rot = pos, rvel, vel, rot
	c.Tim, c.Ping = tim, ping
	c.LastUpdate = now
}

// Snapshot returns a copy of the car's current kinematic state.
func (c *Car) Snapshot() (pos, rvel, vel [3]float64, rot [4]float64, tim, ping float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Pos, c.RVel, c.Vel, c.Rot, c.Tim, c.Ping
}

// SetDescriptor replaces the car's opaque descriptor text (vehicle edit).
func (c *Car) SetDescriptor(d string) {
	c.mu.Lock()
	c.Descriptor = d
	c.mu.Unlock()
}

// DescriptorSnapshot returns the car's current descriptor text.
func (c *Car) DescriptorSnapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Descriptor
}

// Inbound is one decoded frame (or terminal read error) delivered from a
// session's reader goroutine to the server's single main task.
type Inbound struct {
	Session *Session
	Payload []byte
	Err     error
}

// Session is server-side state for one connected game client.
type Session struct {
	ID       uint8
	conn     net.Conn
	codec    *protocol.Codec
	Identity identity.User

	state atomic.Int32

	writeQueue chan []byte
	writerDone chan struct{}
	closeOnce  sync.Once

	udpAddr atomic.Pointer[net.UDPAddr]

	carsMu  sync.Mutex
	cars    map[uint8]*Car
	nextCar uint8 // hint only; allocation always scans for smallest free id

	protoMu       sync.Mutex
	protoStrikes  int
	protoWindowAt time.Time

	limiter *rate.Limiter

	maxCars int
}

// New creates a Session bound to conn. The caller is responsible for
// running the auth/sync handshake before calling StartWriter and
// StartReader.
func New(conn net.Conn, codec *protocol.Codec, maxCars int) *Session {
	s := &Session{
		conn:       conn,
		codec:      codec,
		writeQueue: make(chan []byte, writeQueueSize),
		writerDone: make(chan struct{}),
		cars:       make(map[uint8]*Car),
		maxCars:    maxCars,
		limiter:    rate.NewLimiter(inboundRate, inboundBurst),
	}
	s.state.Store(int32(Connecting))
	return s
}

// State returns the session's current state.
func (s *Session) State() State { return State(s.state.Load()) }

// SetState transitions the session to state.
func (s *Session) SetState(state State) { s.state.Store(int32(state)) }

// RemoteAddr returns the underlying connection's remote address string.
func (s *Session) RemoteAddr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// UDPAddr returns the most recently observed UDP source address for this
// player, or nil if none has been seen yet.
func (s *Session) UDPAddr() *net.UDPAddr { return s.udpAddr.Load() }

// SetUDPAddr records the most recent UDP source address observed for this
// player (spec.md §3 invariant: "updated to the most recent source address
// observed").
func (s *Session) SetUDPAddr(addr *net.UDPAddr) { s.udpAddr.Store(addr) }

// --- Auth/sync blocking I/O -------------------------------------------------

// ReadByte reads exactly one byte with the standard auth/sync deadline.
func (s *Session) ReadByte() (byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(authReadDeadline)); err != nil {
		return 0, err
	}
	var b [1]byte
	if _, err := s.conn.Read(b[:]); err != nil {
		return 0, classifyReadErr(err)
	}
	return b[0], nil
}

// ReadN reads exactly n bytes with the standard auth/sync deadline.
func (s *Session) ReadN(n int) ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(authReadDeadline)); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := s.conn.Read(buf[read:])
		if err != nil {
			return nil, classifyReadErr(err)
		}
		read += m
	}
	return buf, nil
}

// BlockingReadFrame reads one frame with the standard auth/sync deadline
// (spec.md §4.3: "blocking_read_frame with 5 s deadline").
func (s *Session) BlockingReadFrame() ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(authReadDeadline)); err != nil {
		return nil, err
	}
	payload, err := s.codec.ReadFrame(s.conn)
	if err != nil {
		return nil, classifyReadErr(err)
	}
	return payload, nil
}

// WriteFrame writes one frame directly, bypassing the write queue. Used
// only during the auth/sync handshake, before a writer task exists.
func (s *Session) WriteFrame(payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(authReadDeadline)); err != nil {
		return err
	}
	if err := s.codec.WriteFrame(s.conn, payload); err != nil {
		return gameerr.New(gameerr.IO, "session.write", err)
	}
	return nil
}

func classifyReadErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return gameerr.New(gameerr.Timeout, "session.read", err)
	}
	return gameerr.New(gameerr.IO, "session.read", err)
}

// --- Writer task -------------------------------------------------------

// StartWriter launches the single goroutine that owns the TCP write half
// from this point on (spec.md §3 invariant: "at most one writer task per
// player at any instant"; §5 item 3).
func (s *Session) StartWriter() {
	go func() {
		defer close(s.writerDone)
		for payload := range s.writeQueue {
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.codec.WriteFrame(s.conn, payload); err != nil {
				slog.Warn("session: write error", "player_id", s.ID, "err", err)
				s.SetState(Disconnect)
				return
			}
		}
	}()
}

// EnqueueFrame pushes payload onto the outbound queue. It never blocks the
// caller (spec.md §5: "the main task must never write TCP directly, only
// enqueue"); if the queue is saturated the frame is dropped and logged —
// a client slow enough to fill a 256-deep queue is already a write-error
// candidate the writer task will discover on its own.
func (s *Session) EnqueueFrame(payload []byte) {
	select {
	case s.writeQueue <- payload:
	default:
		slog.Warn("session: write queue saturated, dropping frame", "player_id", s.ID)
	}
}

// StartReader launches the goroutine that blocks on frame reads and
// forwards each to out, fanning this session's traffic into the single
// main task's select loop (spec.md §5: "reading any ready TCP session").
// Protocol- and Compression-kind frame errors are forwarded and reading
// continues; any other read error marks the session Disconnect, is
// forwarded as an IO/Timeout-kind error, and ends the goroutine. It also
// returns once the state is Disconnect before the next read.
func (s *Session) StartReader(out chan<- Inbound) {
	go func() {
		for {
			if s.State() == Disconnect {
				out <- Inbound{Session: s, Err: gameerr.New(gameerr.IO, "session.closed", errors.New("disconnect"))}
				return
			}
			_ = s.conn.SetReadDeadline(time.Time{})
			payload, err := s.codec.ReadFrame(s.conn)
			if err != nil {
				if gameerr.Is(err, gameerr.Protocol) || gameerr.Is(err, gameerr.Compression) {
					out <- Inbound{Session: s, Err: err}
					continue
				}
				s.SetState(Disconnect)
				out <- Inbound{Session: s, Err: classifyReadErr(err)}
				return
			}
			if !s.limiter.Allow() {
				slog.Debug("session: inbound rate exceeded, dropping frame", "player_id", s.ID)
				if s.RecordProtocolStrike() {
					out <- Inbound{Session: s, Err: gameerr.New(gameerr.Protocol, "session.rate_limit", errors.New("repeated rate-limit violations"))}
				}
				continue
			}
			out <- Inbound{Session: s, Payload: payload}
		}
	}()
}

// RecordProtocolStrike increments the repeat-offender counter for Protocol
// errors and reports whether the session has now exceeded the limit within
// the strike window and should be kicked (spec.md §7, supplemented per
// SPEC_FULL.md "repeat-offender disconnect for protocol errors").
func (s *Session) RecordProtocolStrike() bool {
	s.protoMu.Lock()
	defer s.protoMu.Unlock()
	now := time.Now()
	if now.Sub(s.protoWindowAt) > protocolStrikeWindow {
		s.protoStrikes = 0
		s.protoWindowAt = now
	}
	s.protoStrikes++
	return s.protoStrikes > protocolStrikeLimit
}

// Kick enqueues a `K<reason>` frame and transitions the session to
// Disconnect (spec.md §4.2, §4.3).
func (s *Session) Kick(reason string) {
	s.EnqueueFrame(append([]byte{'K'}, []byte(reason)...))
	s.SetState(Disconnect)
}

// Close closes the underlying connection and the write queue exactly
// once. Safe to call from multiple goroutines.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.writeQueue)
		_ = s.conn.Close()
	})
}

// --- Car registry --------------------------------------------------------

// ErrMaxCars is returned by RegisterCar when the session already owns
// maxCars vehicles.
var ErrMaxCars = errors.New("session: max cars reached")

// RegisterCar allocates the smallest unused car id for this session and
// stores descriptor under it (spec.md §3: "smallest unused within owning
// player").
func (s *Session) RegisterCar(descriptor string) (*Car, error) {
	s.carsMu.Lock()
	defer s.carsMu.Unlock()

	if s.maxCars > 0 && len(s.cars) >= s.maxCars {
		return nil, ErrMaxCars
	}

	var id uint8
	for id = 0; id < 255; id++ {
		if _, taken := s.cars[id]; !taken {
			break
		}
	}
	if _, taken := s.cars[id]; taken {
		return nil, fmt.Errorf("session: no free car id")
	}

	car := &Car{ID: id, Descriptor: descriptor, LastUpdate: time.Now()}
	s.cars[id] = car
	return car, nil
}

// UnregisterCar removes the car with the given id. A missing id is logged,
// not treated as fatal (spec.md §4.3: "a no-op is logged (not fatal)").
func (s *Session) UnregisterCar(id uint8) {
	s.carsMu.Lock()
	_, ok := s.cars[id]
	delete(s.cars, id)
	s.carsMu.Unlock()
	if !ok {
		slog.Debug("session: unregister_car no-op, id not found", "player_id", s.ID, "car_id", id)
	}
}

// Car returns the car with the given id, or nil if this session does not
// own it.
func (s *Session) Car(id uint8) *Car {
	s.carsMu.Lock()
	defer s.carsMu.Unlock()
	return s.cars[id]
}

// Cars returns a snapshot of this session's cars sorted by id ascending.
// The disconnect sweep and full-sync broadcasts rely on this order being
// deterministic (spec.md §8 scenario #5: "Od:2-0" precedes "Od:2-1").
func (s *Session) Cars() []*Car {
	s.carsMu.Lock()
	defer s.carsMu.Unlock()
	out := make([]*Car, 0, len(s.cars))
	for _, c := range s.cars {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CarCount returns the number of cars this session currently owns.
func (s *Session) CarCount() int {
	s.carsMu.Lock()
	defer s.carsMu.Unlock()
	return len(s.cars)
}
