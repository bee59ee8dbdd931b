// Package acceptor implements spec.md §4.2: the TCP accept loop, the
// first-byte role dispatch to {game client, legacy downloader, HTTP
// probe}, and the authentication + resource-sync handshake that produces
// a fully-synced session ready for handoff to the main server task.
//
// Handshake goroutines never touch shared gameplay state (spec.md §5 item
// 1: "they never touch shared gameplay state except to deliver a fully-
// authenticated session over an MPSC channel") — the one exception is the
// taken-id bitmap, which spec.md §5 explicitly calls out as a
// mutex-guarded piece of shared state handshake tasks may touch directly.
package acceptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/BeamMP/BeamMP-Server/gameerr"
	"github.com/BeamMP/BeamMP-Server/identity"
	"github.com/BeamMP/BeamMP-Server/protocol"
	"github.com/BeamMP/BeamMP-Server/resources"
	"github.com/BeamMP/BeamMP-Server/session"
	"github.com/BeamMP/BeamMP-Server/store"
	"github.com/BeamMP/BeamMP-Server/world"
)

const maxKeyLen = 50

// fallbackProbeStatus is served to an HTTP GET probe on the game port
// when no StatusProvider is configured (spec.md §4.2 'G', out-of-scope
// external collaborator "HTTP health responses on the TCP port" — the
// response body itself is implementation-defined per spec.md §8 scenario
// 6).
const fallbackProbeStatus = "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 2\r\nConnection: close\r\n\r\nOK"

// StatusProvider renders the current player-count status as a JSON body.
// internal/adminapi.Server implements this; it is the same body served on
// its own /status route, so the HTTP-GET probe on the game port gets a
// real structured response instead of a hand-rolled string.
type StatusProvider interface {
	StatusJSON() []byte
}

// Acceptor owns the listening socket and drives the per-connection
// handshake (spec.md §4.2).
type Acceptor struct {
	listener    net.Listener
	identity    *identity.Client
	catalog     *resources.Catalog
	progress    *resources.Progress
	world       *world.World
	maxCars     int
	mapName     string
	sessionsOut chan<- *session.Session
	status      StatusProvider
	bans        *store.Store
}

// Config bundles the collaborators an Acceptor needs.
type Config struct {
	Listener    net.Listener
	Identity    *identity.Client
	Catalog     *resources.Catalog
	Progress    *resources.Progress
	World       *world.World
	MaxCars     int
	MapName     string
	SessionsOut chan<- *session.Session
	Status      StatusProvider
	Bans        *store.Store
}

// New builds an Acceptor from cfg.
func New(cfg Config) *Acceptor {
	return &Acceptor{
		listener:    cfg.Listener,
		identity:    cfg.Identity,
		catalog:     cfg.Catalog,
		progress:    cfg.Progress,
		world:       cfg.World,
		maxCars:     cfg.MaxCars,
		mapName:     cfg.MapName,
		sessionsOut: cfg.SessionsOut,
		status:      cfg.Status,
		bans:        cfg.Bans,
	}
}

// Run accepts connections until ctx is canceled or the listener errors
// (spec.md §5 item 1: "one acceptor task listens on the TCP port and
// spawns a short-lived handshake task per accepted socket").
func (a *Acceptor) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.listener.Close()
	}()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("acceptor: accept: %w", err)
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		go a.handle(ctx, conn)
	}
}

func (a *Acceptor) handle(ctx context.Context, conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var roleBuf [1]byte
	if _, err := conn.Read(roleBuf[:]); err != nil {
		conn.Close()
		return
	}

	switch roleBuf[0] {
	case protocol.RoleGameClient:
		a.handleGameClient(ctx, conn)
	case protocol.RoleDownloader:
		a.handleDownloader(conn)
	case protocol.RoleHTTPProbe:
		a.handleHTTPProbe(conn)
	default:
		slog.Debug("acceptor: unknown role byte, closing", "byte", roleBuf[0])
		conn.Close()
	}
}

// handleGameClient runs the full auth + resource-sync sequence
// (spec.md §4.2 steps 1-6, §4.4) and on success hands the resulting
// session off to the main server task.
func (a *Acceptor) handleGameClient(ctx context.Context, conn net.Conn) {
	sess := session.New(conn, protocol.NewCodec(), a.maxCars)

	// Step 1: client version, accepted as-is.
	if _, err := sess.BlockingReadFrame(); err != nil {
		a.failAuth(sess, "bad version frame")
		return
	}

	// Step 2: server -> client 'S'.
	if err := sess.WriteFrame([]byte("S")); err != nil {
		sess.Close()
		return
	}

	// Step 3: client -> server opaque key, <= 50 bytes.
	keyFrame, err := sess.BlockingReadFrame()
	if err != nil {
		a.failAuth(sess, "timed out waiting for key")
		return
	}
	if len(keyFrame) > maxKeyLen {
		a.failAuth(sess, "key too long")
		return
	}

	// Step 4: resolve identity.
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	user, err := a.identity.Resolve(reqCtx, string(keyFrame))
	cancel()
	if err != nil {
		a.failAuth(sess, "identity service rejected key")
		return
	}
	sess.Identity = user

	if a.bans != nil {
		if banned, reason, err := a.bans.IsUIDBanned(user.UID); err != nil {
			slog.Debug("acceptor: uid ban lookup failed", "uid", user.UID, "err", err)
		} else if banned {
			a.failAuth(sess, "banned: "+reason)
			return
		}
		if ip, _, splitErr := net.SplitHostPort(conn.RemoteAddr().String()); splitErr == nil {
			if banned, reason, err := a.bans.IsIPBanned(ip); err != nil {
				slog.Debug("acceptor: ip ban lookup failed", "ip", ip, "err", err)
			} else if banned {
				a.failAuth(sess, "banned: "+reason)
				return
			}
		}
	}

	// Id allocation touches the shared taken-id bitmap directly, per
	// spec.md §5's carve-out for that one piece of state.
	id, err := a.world.AllocateID()
	if err != nil {
		a.failAuth(sess, "server full")
		return
	}
	sess.ID = id
	a.world.Register(id, sess)

	// Step 5: server -> client `P<id>`.
	if err := sess.WriteFrame([]byte(fmt.Sprintf("P%d", id))); err != nil {
		a.world.Release(id)
		sess.Close()
		return
	}

	// Step 6: transition to SyncingResources and run resource sync.
	sess.SetState(session.SyncingResources)
	if err := resources.RunSync(sess, a.catalog, a.progress, id, a.mapName); err != nil {
		a.world.Release(id)
		a.kickForSyncError(sess, err)
		return
	}

	select {
	case a.sessionsOut <- sess:
	case <-ctx.Done():
		a.world.Release(id)
		sess.Close()
	}
}

func (a *Acceptor) failAuth(sess *session.Session, reason string) {
	_ = sess.WriteFrame(protocol.KickFrame(reason))
	sess.Close()
}

func (a *Acceptor) kickForSyncError(sess *session.Session, err error) {
	reason := "resource sync failed"
	if gameerr.Is(err, gameerr.Resource) {
		reason = "invalid resource path"
	}
	_ = sess.WriteFrame(protocol.KickFrame(reason))
	sess.Close()
}

// handleDownloader implements the legacy `'D'` path (spec.md §4.2, §4.4,
// §9): a one-byte player id follows, then the server streams the second
// half of whatever file that player's sync cursor points at.
func (a *Acceptor) handleDownloader(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var pidBuf [1]byte
	if _, err := conn.Read(pidBuf[:]); err != nil {
		return
	}
	pid := pidBuf[0]

	cursor, ok := a.progress.Get(pid)
	if !ok {
		slog.Debug("acceptor: downloader request with no progress cursor", "player_id", pid)
		return
	}

	data, err := resources.ReadSecondHalf(cursor.Path, cursor.Offset)
	if err != nil {
		slog.Warn("acceptor: downloader read failed", "player_id", pid, "err", err)
		return
	}

	codec := protocol.NewCodec()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = codec.WriteFrame(conn, data)
}

// handleHTTPProbe implements spec.md §4.2 'G': peek three more bytes; if
// they read "ET " (completing "GET ") serve the StatusProvider's JSON body,
// or the fixed fallbackProbeStatus response when no provider is set.
func (a *Acceptor) handleHTTPProbe(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rest [3]byte
	if _, err := conn.Read(rest[:]); err != nil {
		return
	}
	if string(rest[:]) != "ET " {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if a.status == nil {
		_, _ = conn.Write([]byte(fallbackProbeStatus))
		return
	}
	body := a.status.StatusJSON()
	header := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", len(body))
	_, _ = conn.Write([]byte(header))
	_, _ = conn.Write(body)
}
