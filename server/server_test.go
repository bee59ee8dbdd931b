package server

import (
	"net"
	"testing"
	"time"

	"github.com/BeamMP/BeamMP-Server/config"
	"github.com/BeamMP/BeamMP-Server/gameerr"
	"github.com/BeamMP/BeamMP-Server/identity"
	"github.com/BeamMP/BeamMP-Server/protocol"
	"github.com/BeamMP/BeamMP-Server/resources"
	"github.com/BeamMP/BeamMP-Server/session"
	"github.com/BeamMP/BeamMP-Server/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.General.Port = 0
	cfg.General.MaxPlayers = 10

	catalog, err := resources.BuildCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}
	idClient := identity.NewClient("auth.example.invalid")

	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	s, err := New(cfg, idClient, catalog, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		s.tcpListener.Close()
		s.udpConn.Close()
	})
	return s
}

func newActiveSession(t *testing.T, id uint8, name string) (*session.Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	s := session.New(server, protocol.NewCodec(), 4)
	s.ID = id
	s.Identity.Username = name
	s.Identity.Roles = "player"
	s.SetState(session.Active)
	s.StartWriter()
	return s, client
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := protocol.NewCodec().ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return payload
}

func TestNewBindsSocketsAndWiresSubsystems(t *testing.T) {
	s := newTestServer(t)
	if s.world == nil || s.queue == nil || s.plugins == nil || s.dctx == nil {
		t.Fatal("expected subsystems wired")
	}
	if s.dctx.World != s.world {
		t.Fatal("expected dispatch context to share the server's world")
	}
}

func TestOnNewSessionThenTickApprovesJoinWithNoPlugins(t *testing.T) {
	s := newTestServer(t)

	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	sess := session.New(server, protocol.NewCodec(), 4)
	sess.ID = 0
	sess.Identity.Username = "alice"
	sess.SetState(session.SyncingResources)
	s.world.Register(0, sess)

	s.onNewSession(sess)
	if sess.State() != session.SyncingResources {
		t.Fatalf("expected session still pending approval, got %v", sess.State())
	}

	s.tick(time.Now())
	if sess.State() != session.Active {
		t.Fatalf("expected join approved with zero plugins, got %v", sess.State())
	}
}

func TestOnInboundDispatchesFullSyncForActiveSession(t *testing.T) {
	s := newTestServer(t)
	sess, conn := newActiveSession(t, 0, "alice")
	s.world.Register(0, sess)

	s.onInbound(session.Inbound{Session: sess, Payload: []byte{protocol.CodeFullSync}})

	if got := string(readFrame(t, conn)); got != "Snalice" {
		t.Fatalf("expected Snalice full-sync reply, got %q", got)
	}
}

func TestOnInboundKicksRepeatProtocolOffender(t *testing.T) {
	s := newTestServer(t)
	sess, conn := newActiveSession(t, 0, "alice")
	s.world.Register(0, sess)

	protoErr := gameerr.New(gameerr.Protocol, "test.offense", nil)
	for i := 0; i < 25; i++ {
		s.onInbound(session.Inbound{Session: sess, Err: protoErr})
	}

	if sess.State() != session.Disconnect {
		t.Fatalf("expected repeat protocol offender kicked, state=%v", sess.State())
	}
	got := readFrame(t, conn)
	if len(got) == 0 || got[0] != 'K' {
		t.Fatalf("expected K-coded kick frame, got %q", got)
	}
}

func TestTickSweepsDisconnectedSessionAndNotifiesPeers(t *testing.T) {
	s := newTestServer(t)
	gone, _ := newActiveSession(t, 0, "bob")
	peer, peerConn := newActiveSession(t, 1, "alice")
	s.world.Register(0, gone)
	s.world.Register(1, peer)

	car, err := gone.RegisterCar("x")
	if err != nil {
		t.Fatalf("RegisterCar: %v", err)
	}
	gone.SetState(session.Disconnect)

	s.tick(time.Now())

	deleteFrame := readFrame(t, peerConn)
	if string(deleteFrame) != string(protocol.VehicleDeleteFrame(0, car.ID)) {
		t.Fatalf("expected vehicle delete frame, got %q", deleteFrame)
	}
	leaveFrame := readFrame(t, peerConn)
	if string(leaveFrame) != "Jbob left the server" {
		t.Fatalf("expected leave notification, got %q", leaveFrame)
	}

	if _, ok := s.world.Get(0); ok {
		t.Fatal("expected disconnected session released from world")
	}
}
