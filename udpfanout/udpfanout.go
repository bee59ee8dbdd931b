// Package udpfanout owns the single shared UDP socket. A dedicated reader
// goroutine performs the blocking ReadFromUDP and forwards raw datagrams to
// the main tick loop over a channel — the same read-goroutine/main-task
// split session.StartReader uses for TCP — so that strips-header,
// refresh-udp_addr, dispatch, reply, and rebroadcast all happen on the one
// goroutine that is the sole mutator of gameplay state (spec.md §4.6, §3,
// §5 item 2).
//
// Grounded on the UDP client/server pattern in
// other_examples/2af8814a_enzodjabali-acserver-exporter__main.go.go
// (net.ListenUDP + ReadFromUDP/WriteToUDP, a per-source-address map) —
// the closest pack precedent to a UDP game-state relay, since the teacher
// repo itself is TCP/WebSocket-only.
package udpfanout

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/BeamMP/BeamMP-Server/dispatch"
	"github.com/BeamMP/BeamMP-Server/protocol"
	"github.com/BeamMP/BeamMP-Server/session"
)

// maxDatagram bounds a single read; well above any legitimate transform
// payload but small enough to keep the read buffer cheap to reuse.
const maxDatagram = 8192

// Datagram is one raw UDP read, handed from the reader goroutine to the
// main tick loop.
type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// Fanout owns the UDP socket. Handle must only ever be called from the
// single goroutine that also drives dispatch.HandleTCP and world mutation.
type Fanout struct {
	conn *net.UDPConn
	ctx  *dispatch.Context
}

// New wraps an already-bound UDP connection (the caller owns binding so it
// can share the configured port with the TCP listener).
func New(conn *net.UDPConn, ctx *dispatch.Context) *Fanout {
	return &Fanout{conn: conn, ctx: ctx}
}

// StartReader launches the goroutine that blocks on ReadFromUDP and
// forwards each datagram to out. It returns once the socket errors (e.g.
// closed during shutdown).
func (f *Fanout) StartReader(out chan<- Datagram) {
	go func() {
		var buf [maxDatagram]byte
		for {
			n, addr, err := f.conn.ReadFromUDP(buf[:])
			if err != nil {
				slog.Debug("udpfanout: reader stopping", "err", err)
				return
			}
			data := append([]byte(nil), buf[:n]...)
			out <- Datagram{Data: data, Addr: addr}
		}
	}()
}

// Handle decodes and dispatches one datagram (spec.md §4.6). Called from
// the main tick loop only.
func (f *Fanout) Handle(dg Datagram) {
	raw := dg.Data
	if len(raw) < 2 {
		slog.Debug("udpfanout: datagram too short", "len", len(raw))
		return
	}
	pidPlusOne := raw[0]
	if pidPlusOne == 0 {
		slog.Debug("udpfanout: illegal zero player id byte")
		return
	}
	pid := pidPlusOne - 1

	sess, ok := f.ctx.World.Get(pid)
	if !ok || sess.State() != session.Active {
		slog.Debug("udpfanout: datagram for unknown/inactive player, dropped", "player_id", pid)
		return
	}
	sess.SetUDPAddr(dg.Addr)

	payload := raw[2:]
	if protocol.IsCompressed(payload) {
		decompressed, err := protocol.Decompress(payload)
		if err != nil {
			slog.Warn("udpfanout: decompress failed, dropping datagram", "player_id", pid, "err", err)
			return
		}
		payload = decompressed
	}

	reply, err := dispatch.HandleUDP(f.ctx, sess, payload)
	if err != nil {
		slog.Debug("udpfanout: dispatch error, dropped", "player_id", pid, "err", err)
		return
	}
	if reply != nil {
		if _, err := f.conn.WriteToUDP(reply, dg.Addr); err != nil {
			slog.Warn("udpfanout: reply write failed", "player_id", pid, "err", err)
		}
		return
	}

	// A nil reply with a nil error means either the raw-broadcast range or
	// a position update (spec.md §4.6): both rebroadcast the *original*
	// datagram bytes (header included) to every other Active player's
	// most recently observed UDP address.
	if len(payload) > 0 && (protocol.IsRawBroadcast(payload[0]) || payload[0] == protocol.CodePosition) {
		f.rebroadcast(raw, sess)
	}
}

func (f *Fanout) rebroadcast(raw []byte, skip *session.Session) {
	for _, peer := range f.ctx.World.Active() {
		if peer == skip {
			continue
		}
		addr := peer.UDPAddr()
		if addr == nil {
			continue
		}
		if _, err := f.conn.WriteToUDP(raw, addr); err != nil {
			slog.Warn("udpfanout: rebroadcast write failed", "to_player_id", peer.ID, "err", err)
		}
	}
}

// Addr returns the local address the socket is bound to, for logging.
func (f *Fanout) Addr() string {
	if f.conn == nil {
		return ""
	}
	return fmt.Sprintf("%v", f.conn.LocalAddr())
}
