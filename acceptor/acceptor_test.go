package acceptor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BeamMP/BeamMP-Server/identity"
	"github.com/BeamMP/BeamMP-Server/protocol"
	"github.com/BeamMP/BeamMP-Server/resources"
	"github.com/BeamMP/BeamMP-Server/session"
	"github.com/BeamMP/BeamMP-Server/store"
	"github.com/BeamMP/BeamMP-Server/world"
)

func newIdentityClient(t *testing.T, user identity.User) *identity.Client {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(user)
	}))
	t.Cleanup(srv.Close)
	c := identity.NewClient(strings.TrimPrefix(srv.URL, "https://"))
	return c.WithHTTPClient(srv.Client())
}

func TestHandleGameClientHappyPath(t *testing.T) {
	idc := newIdentityClient(t, identity.User{UID: "u1", Username: "alice", Roles: "player", Guest: false})
	cat, err := resources.BuildCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("BuildCatalog: %v", err)
	}
	w := world.New(10)
	out := make(chan *session.Session, 1)

	a := New(Config{
		Identity:    idc,
		Catalog:     cat,
		Progress:    resources.NewProgress(),
		World:       w,
		MaxCars:     1,
		MapName:     "/map",
		SessionsOut: out,
	})

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.handleGameClient(ctx, serverConn)
		close(done)
	}()

	codec := protocol.NewCodec()
	clientConn.SetDeadline(time.Now().Add(4 * time.Second))

	// Step 1: client sends version.
	if err := codec.WriteFrame(clientConn, []byte("v1")); err != nil {
		t.Fatalf("write version: %v", err)
	}
	// Step 2: expect 'S'.
	reply, err := codec.ReadFrame(clientConn)
	if err != nil || string(reply) != "S" {
		t.Fatalf("expected S, got %q err=%v", reply, err)
	}
	// Step 3: client sends key.
	if err := codec.WriteFrame(clientConn, []byte("abc")); err != nil {
		t.Fatalf("write key: %v", err)
	}
	// Step 5: expect P<id>.
	reply, err = codec.ReadFrame(clientConn)
	if err != nil || string(reply) != "P0" {
		t.Fatalf("expected P0, got %q err=%v", reply, err)
	}
	// Sync: empty catalog.
	if err := codec.WriteFrame(clientConn, []byte("SR")); err != nil {
		t.Fatalf("write SR: %v", err)
	}
	reply, err = codec.ReadFrame(clientConn)
	if err != nil || string(reply) != "-" {
		t.Fatalf("expected '-', got %q err=%v", reply, err)
	}
	if err := codec.WriteFrame(clientConn, []byte("Done")); err != nil {
		t.Fatalf("write Done: %v", err)
	}
	reply, err = codec.ReadFrame(clientConn)
	if err != nil || string(reply) != "M/map" {
		t.Fatalf("expected M/map, got %q err=%v", reply, err)
	}

	select {
	case <-done:
	case <-time.After(4 * time.Second):
		t.Fatal("handleGameClient did not finish")
	}

	select {
	case sess := <-out:
		if sess.Identity.Username != "alice" || sess.ID != 0 {
			t.Fatalf("unexpected session: id=%d identity=%+v", sess.ID, sess.Identity)
		}
	default:
		t.Fatal("expected a session to be handed off")
	}
}

func TestHandleGameClientKicksOnOversizedKey(t *testing.T) {
	idc := newIdentityClient(t, identity.User{UID: "u1", Username: "alice"})
	cat, _ := resources.BuildCatalog(t.TempDir())
	w := world.New(10)
	out := make(chan *session.Session, 1)

	a := New(Config{Identity: idc, Catalog: cat, Progress: resources.NewProgress(), World: w, MaxCars: 1, MapName: "/map", SessionsOut: out})

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.handleGameClient(ctx, serverConn)
		close(done)
	}()

	codec := protocol.NewCodec()
	clientConn.SetDeadline(time.Now().Add(4 * time.Second))
	codec.WriteFrame(clientConn, []byte("v1"))
	codec.ReadFrame(clientConn) // 'S'

	oversized := make([]byte, 51)
	codec.WriteFrame(clientConn, oversized)

	reply, err := codec.ReadFrame(clientConn)
	if err != nil || reply[0] != 'K' {
		t.Fatalf("expected kick frame, got %q err=%v", reply, err)
	}

	<-done
	if w.Count() != 0 {
		t.Fatalf("expected no player id allocated, got %d", w.Count())
	}
}

func TestHandleGameClientRejectsBannedUID(t *testing.T) {
	idc := newIdentityClient(t, identity.User{UID: "banned-uid", Username: "cheater"})
	cat, _ := resources.BuildCatalog(t.TempDir())
	w := world.New(10)
	out := make(chan *session.Session, 1)

	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer st.Close()
	if _, err := st.InsertBan("banned-uid", "", "cheating", "admin", 0); err != nil {
		t.Fatalf("InsertBan: %v", err)
	}

	a := New(Config{Identity: idc, Catalog: cat, Progress: resources.NewProgress(), World: w, MaxCars: 1, MapName: "/map", SessionsOut: out, Bans: st})

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.handleGameClient(ctx, serverConn)
		close(done)
	}()

	codec := protocol.NewCodec()
	clientConn.SetDeadline(time.Now().Add(4 * time.Second))
	codec.WriteFrame(clientConn, []byte("v1"))
	codec.ReadFrame(clientConn) // 'S'
	codec.WriteFrame(clientConn, []byte("abc"))

	reply, err := codec.ReadFrame(clientConn)
	if err != nil || reply[0] != 'K' {
		t.Fatalf("expected kick frame, got %q err=%v", reply, err)
	}

	<-done
	if w.Count() != 0 {
		t.Fatalf("expected no player id allocated for banned uid, got %d", w.Count())
	}

	select {
	case <-out:
		t.Fatal("expected no session handed off for banned uid")
	default:
	}
}
