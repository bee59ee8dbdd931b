// Package server wires every subsystem together and runs the single main
// tick loop described by spec.md §5: the sole mutator of gameplay state,
// selecting each tick over TCP-readable notifications from Active sessions,
// UDP datagrams, and a timer, plus newly-handshaked sessions handed off by
// the acceptor.
//
// Grounded on the teacher's Server.Run(ctx) shape (server/server.go): a
// single blocking Run that spawns its listeners, wires a shutdown goroutine
// off ctx.Done, and returns once torn down.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BeamMP/BeamMP-Server/acceptor"
	"github.com/BeamMP/BeamMP-Server/approval"
	"github.com/BeamMP/BeamMP-Server/config"
	"github.com/BeamMP/BeamMP-Server/dispatch"
	"github.com/BeamMP/BeamMP-Server/gameerr"
	"github.com/BeamMP/BeamMP-Server/identity"
	"github.com/BeamMP/BeamMP-Server/internal/adminapi"
	"github.com/BeamMP/BeamMP-Server/plugin"
	"github.com/BeamMP/BeamMP-Server/protocol"
	"github.com/BeamMP/BeamMP-Server/resources"
	"github.com/BeamMP/BeamMP-Server/session"
	"github.com/BeamMP/BeamMP-Server/store"
	"github.com/BeamMP/BeamMP-Server/udpfanout"
	"github.com/BeamMP/BeamMP-Server/world"
)

// sessionsChanSize bounds the handoff channel between the acceptor's
// handshake goroutines and the main task.
const sessionsChanSize = 64

// inboundChanSize bounds the shared fan-in channel every session reader
// goroutine forwards decoded TCP frames onto.
const inboundChanSize = 256

// udpChanSize bounds the fan-in channel the UDP reader goroutine forwards
// raw datagrams onto.
const udpChanSize = 256

// Server owns every long-lived subsystem and the main tick loop.
type Server struct {
	cfg config.Config

	world   *world.World
	queue   *approval.Queue
	plugins *plugin.Manager
	dctx    *dispatch.Context

	catalog  *resources.Catalog
	progress *resources.Progress
	identity *identity.Client

	store *store.Store
	admin *adminapi.Server

	tcpListener net.Listener
	udpConn     *net.UDPConn
	acceptor    *acceptor.Acceptor
	fanout      *udpfanout.Fanout

	sessionsIn chan *session.Session
	inbound    chan session.Inbound
	datagrams  chan udpfanout.Datagram
}

// New constructs a Server ready to Run. Callers provide the already-loaded
// config, the identity client, the resource catalog, and the opened
// administrative store so startup failures (bad resource folder, bad
// config, unopenable database) can be handled before any socket is opened.
func New(cfg config.Config, idClient *identity.Client, catalog *resources.Catalog, st *store.Store) (*Server, error) {
	tcpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.General.Port))
	if err != nil {
		return nil, gameerr.New(gameerr.Fatal, "server.listen_tcp", err)
	}
	udpAddr := &net.UDPAddr{Port: cfg.General.Port}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		tcpListener.Close()
		return nil, gameerr.New(gameerr.Fatal, "server.listen_udp", err)
	}

	w := world.New(cfg.General.MaxPlayers)
	queue := approval.NewQueue()
	plugins := plugin.NewManager()
	dctx := &dispatch.Context{World: w, Queue: queue, Plugins: plugins}
	admin := adminapi.New(w, st, cfg.General.Name, cfg.General.MaxPlayers)

	s := &Server{
		cfg:         cfg,
		world:       w,
		queue:       queue,
		plugins:     plugins,
		dctx:        dctx,
		catalog:     catalog,
		progress:    resources.NewProgress(),
		identity:    idClient,
		store:       st,
		admin:       admin,
		tcpListener: tcpListener,
		udpConn:     udpConn,
		sessionsIn:  make(chan *session.Session, sessionsChanSize),
		inbound:     make(chan session.Inbound, inboundChanSize),
		datagrams:   make(chan udpfanout.Datagram, udpChanSize),
	}
	s.fanout = udpfanout.New(udpConn, dctx)
	s.acceptor = acceptor.New(acceptor.Config{
		Listener:    tcpListener,
		Identity:    idClient,
		Catalog:     catalog,
		Progress:    s.progress,
		World:       w,
		MaxCars:     cfg.General.MaxCars,
		MapName:     cfg.General.Map,
		SessionsOut: s.sessionsIn,
		Status:      admin,
		Bans:        st,
	})
	return s, nil
}

// Plugins exposes the plugin Manager so callers can Load plugin handles
// before calling Run.
func (s *Server) Plugins() *plugin.Manager { return s.plugins }

// World exposes the live player registry for read-only ambient consumers
// (metrics) that run alongside the main tick loop rather than inside it.
func (s *Server) World() *world.World { return s.world }

// Run drives the acceptor, the UDP reader, and the main tick loop until ctx
// is canceled, then performs the shutdown sequence from spec.md §5:
// "cancels the acceptor task first, then sends K to each Active player,
// then sends OnShutdown to each plugin and awaits its reply before
// dropping plugin tasks."
func (s *Server) Run(ctx context.Context) error {
	acceptorErr := make(chan error, 1)
	go func() { acceptorErr <- s.acceptor.Run(ctx) }()
	s.fanout.StartReader(s.datagrams)

	var adminSrv *http.Server
	if s.cfg.General.AdminAddr != "" {
		adminSrv = &http.Server{Addr: s.cfg.General.AdminAddr, Handler: s.admin.Router()}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warn("server: admin API stopped", "err", err)
			}
		}()
		slog.Info("server: admin API listening", "addr", s.cfg.General.AdminAddr)
	}

	slog.Info("server: listening", "tcp", s.tcpListener.Addr(), "udp", s.fanout.Addr())

	ticker := time.NewTicker(s.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown(context.Background())
			if adminSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = adminSrv.Shutdown(shutdownCtx)
				cancel()
			}
			<-acceptorErr
			return nil

		case sess := <-s.sessionsIn:
			s.onNewSession(sess)

		case in := <-s.inbound:
			s.onInbound(in)

		case dg := <-s.datagrams:
			s.fanout.Handle(dg)

		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Server) tickInterval() time.Duration {
	if s.cfg.General.Tick > 0 {
		return s.cfg.General.Tick
	}
	return 50 * time.Millisecond
}

// onNewSession creates the JoinSlot for a freshly handshaked session
// (spec.md §4.7 JoinSlot) and starts its TCP reader goroutine so future
// frames reach the main tick loop via s.inbound.
func (s *Server) onNewSession(sess *session.Session) {
	replies := s.plugins.DispatchForReplies(plugin.OnPlayerAuthenticated, map[string]any{
		"pid": sess.ID, "username": sess.Identity.Username, "uid": sess.Identity.UID,
	})
	s.queue.Submit(approval.NewJoinSlot(sess.ID, replies))
	sess.StartWriter()
	sess.StartReader(s.inbound)
	slog.Info("server: session handshaked, join pending approval", "player_id", sess.ID, "username", sess.Identity.Username)
}

// onInbound processes one decoded TCP frame, or a terminal read error, from
// an Active session.
func (s *Server) onInbound(in session.Inbound) {
	if in.Err != nil {
		if gameerr.Is(in.Err, gameerr.Protocol) {
			if in.Session.RecordProtocolStrike() {
				slog.Warn("server: repeat protocol offender, kicking", "player_id", in.Session.ID)
				in.Session.Kick("too many protocol errors")
			}
			return
		}
		// Compression-kind: only the frame is dropped. IO/Timeout-kind: the
		// session is already marked Disconnect by its own reader/writer; the
		// sweep will reclaim it.
		return
	}

	if in.Session.State() != session.Active {
		return
	}
	if err := dispatch.HandleTCP(s.dctx, in.Session, in.Payload); err != nil {
		if gameerr.Is(err, gameerr.Protocol) {
			if in.Session.RecordProtocolStrike() {
				slog.Warn("server: repeat protocol offender, kicking", "player_id", in.Session.ID)
				in.Session.Kick("too many protocol errors")
			}
			return
		}
		slog.Warn("server: dispatch error", "player_id", in.Session.ID, "err", err)
	}
}

// tick runs the once-per-timer maintenance work: draining resolved
// approval slots, sweeping disconnected sessions, and the throttled
// player-list broadcast (spec.md §4.7, §4.8, §4.9).
func (s *Server) tick(now time.Time) {
	for _, slot := range s.queue.Tick() {
		dispatch.ApplyApproval(s.dctx, slot)
	}

	for _, ev := range s.world.Sweep() {
		for _, carID := range ev.CarIDs {
			s.world.BroadcastAll(protocol.VehicleDeleteFrame(ev.ID, carID))
		}
		s.plugins.Dispatch(plugin.OnPlayerDisconnect, map[string]any{"pid": ev.ID, "username": ev.Username})
		s.progress.Clear(ev.ID)
		s.world.BroadcastAll(protocol.NotificationFrame(fmt.Sprintf("%s left the server", ev.Username)))
	}

	if s.world.ShouldBroadcastPlayerList(now) {
		s.world.BroadcastAll(s.world.PlayerListFrame())
	}
}

// shutdown implements spec.md §5's teardown order. The acceptor is already
// stopped by ctx cancellation before shutdown is called; this kicks every
// Active player and waits for plugins to acknowledge OnShutdown.
func (s *Server) shutdown(ctx context.Context) {
	slog.Info("server: shutting down")
	for _, sess := range s.world.Active() {
		sess.Kick("server shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.plugins.Shutdown(shutdownCtx)
	s.udpConn.Close()
}
