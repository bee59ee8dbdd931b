package udpfanout

import (
	"net"
	"testing"
	"time"

	"github.com/BeamMP/BeamMP-Server/approval"
	"github.com/BeamMP/BeamMP-Server/dispatch"
	"github.com/BeamMP/BeamMP-Server/plugin"
	"github.com/BeamMP/BeamMP-Server/protocol"
	"github.com/BeamMP/BeamMP-Server/session"
	"github.com/BeamMP/BeamMP-Server/world"
)

func newUDPConn(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newGameSession(t *testing.T, id uint8) *session.Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	s := session.New(server, protocol.NewCodec(), 4)
	s.ID = id
	s.SetState(session.Active)
	s.StartWriter()
	return s
}

func recvOne(t *testing.T, ch <-chan Datagram) Datagram {
	t.Helper()
	select {
	case dg := <-ch:
		return dg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
		return Datagram{}
	}
}

func TestReaderToHandlerRepliesToPong(t *testing.T) {
	serverConn := newUDPConn(t)
	clientConn := newUDPConn(t)

	w := world.New(10)
	sess := newGameSession(t, 0)
	w.Register(0, sess)
	ctx := &dispatch.Context{World: w, Queue: approval.NewQueue(), Plugins: plugin.NewManager()}
	fo := New(serverConn, ctx)

	ch := make(chan Datagram, 4)
	fo.StartReader(ch)

	datagram := []byte{1, 0, protocol.CodePong}
	if _, err := clientConn.WriteToUDP(datagram, serverConn.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}
	fo.Handle(recvOne(t, ch))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := clientConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if n != 1 || buf[0] != protocol.CodePong {
		t.Fatalf("expected single pong byte reply, got %v", buf[:n])
	}
}

func TestHandleRebroadcastsPositionToPeerAddr(t *testing.T) {
	serverConn := newUDPConn(t)
	senderConn := newUDPConn(t)
	peerConn := newUDPConn(t)

	w := world.New(10)
	sender := newGameSession(t, 0)
	w.Register(0, sender)
	car, err := sender.RegisterCar("x")
	if err != nil {
		t.Fatalf("RegisterCar: %v", err)
	}
	if car.ID != 0 {
		t.Fatalf("expected car id 0, got %d", car.ID)
	}

	peer := newGameSession(t, 1)
	w.Register(1, peer)
	peer.SetUDPAddr(peerConn.LocalAddr().(*net.UDPAddr))

	ctx := &dispatch.Context{World: w, Queue: approval.NewQueue(), Plugins: plugin.NewManager()}
	fo := New(serverConn, ctx)

	ch := make(chan Datagram, 4)
	fo.StartReader(ch)

	json := []byte(`{"pos":[1,2,3],"rot":[0,0,0,1],"vel":[0,0,0],"rvel":[0,0,0],"tim":0,"ping":0}`)
	zPayload := append([]byte("ZXX0X0X"), json...)
	datagram := append([]byte{1, 0}, zPayload...)
	if _, err := senderConn.WriteToUDP(datagram, serverConn.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}
	fo.Handle(recvOne(t, ch))

	peerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := peerConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != string(datagram) {
		t.Fatalf("expected unchanged datagram rebroadcast, got %q", buf[:n])
	}

	pos, _, _, _, _, _ := car.Snapshot()
	if pos != [3]float64{1, 2, 3} {
		t.Fatalf("expected car pos updated, got %+v", pos)
	}
}

func TestHandleDropsZeroPlayerIDByte(t *testing.T) {
	serverConn := newUDPConn(t)
	w := world.New(10)
	ctx := &dispatch.Context{World: w, Queue: approval.NewQueue(), Plugins: plugin.NewManager()}
	fo := New(serverConn, ctx)

	fo.Handle(Datagram{Data: []byte{0, 0, protocol.CodePong}, Addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}})
}

func TestHandleDropsUnknownPlayerID(t *testing.T) {
	serverConn := newUDPConn(t)
	w := world.New(10)
	ctx := &dispatch.Context{World: w, Queue: approval.NewQueue(), Plugins: plugin.NewManager()}
	fo := New(serverConn, ctx)

	fo.Handle(Datagram{Data: []byte{99, 0, protocol.CodePong}, Addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}})
}
