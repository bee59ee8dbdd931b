// Package adminapi is the operator HTTP surface: read-only status and
// player/car listing, plus kick and ban create/list/delete — ambient ops
// tooling, never part of
// the TCP/UDP gameplay wire protocol. It is also the source of the JSON
// status body the acceptor serves to a bare HTTP GET probe on the game
// port (spec.md §4.2 'G'), so that probe gets a real structured response
// instead of a hand-rolled static string.
//
// Grounded on the teacher's api.go REST surface (labstack/echo routes over
// room + store), generalized from a voice-chat room to this server's
// player/car/ban model.
package adminapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/BeamMP/BeamMP-Server/store"
	"github.com/BeamMP/BeamMP-Server/world"
)

// Server is the admin HTTP API. It never mutates gameplay state directly;
// Kick only flips a session's state to Disconnect, which the main tick
// loop's sweep reconciles on its own schedule (spec.md §5 item 1: "they
// never touch shared gameplay state" applies here the same way it does to
// handshake goroutines).
type Server struct {
	world      *world.World
	store      *store.Store
	name       string
	maxPlayers int
	startedAt  time.Time
}

// New builds an admin API Server. name is the configured server name and
// maxPlayers the configured cap, both included in the status body.
func New(w *world.World, st *store.Store, name string, maxPlayers int) *Server {
	return &Server{world: w, store: st, name: name, maxPlayers: maxPlayers, startedAt: time.Now()}
}

// Router builds the echo router. Callers mount it on whatever address the
// operator configures (spec.md Non-goals exclude this surface from the
// gameplay wire protocol entirely; it is expected to bind to localhost or
// a private network in production).
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.GET("/status", s.getStatus)
	e.GET("/players", s.getPlayers)
	e.POST("/players/:id/kick", s.postKick)
	e.GET("/bans", s.getBans)
	e.POST("/bans", s.postBan)
	e.DELETE("/bans/:id", s.deleteBan)
	return e
}

// statusBody is shared between the /status route and the acceptor's bare
// HTTP probe response.
type statusBody struct {
	Name       string `json:"name"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	UptimeSec  int64  `json:"uptime_seconds"`
}

// StatusJSON renders the current player-count status as JSON, for use both
// by the /status route and the acceptor's 'G' probe response.
func (s *Server) StatusJSON() []byte {
	body := statusBody{
		Name:       s.name,
		Players:    s.world.Count(),
		MaxPlayers: s.maxPlayers,
		UptimeSec:  int64(time.Since(s.startedAt).Seconds()),
	}
	data, _ := json.Marshal(body)
	return data
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSONBlob(http.StatusOK, s.StatusJSON())
}

type playerView struct {
	ID       uint8   `json:"id"`
	Username string  `json:"username"`
	UID      string  `json:"uid"`
	CarIDs   []uint8 `json:"car_ids"`
}

func (s *Server) getPlayers(c echo.Context) error {
	active := s.world.Active()
	out := make([]playerView, 0, len(active))
	for _, p := range active {
		cars := p.Cars()
		ids := make([]uint8, 0, len(cars))
		for _, car := range cars {
			ids = append(ids, car.ID)
		}
		out = append(out, playerView{ID: p.ID, Username: p.Identity.Username, UID: p.Identity.UID, CarIDs: ids})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) postKick(c echo.Context) error {
	id, err := parsePlayerID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, ok := s.world.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such player")
	}
	reason := c.QueryParam("reason")
	if reason == "" {
		reason = "kicked by admin"
	}
	sess.Kick(reason)
	if s.store != nil {
		details, _ := json.Marshal(map[string]string{"reason": reason})
		_ = s.store.InsertAuditLog(0, "admin", "kick", sess.Identity.Username, string(details))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getBans(c echo.Context) error {
	bans, err := s.store.GetBans()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, bans)
}

type banRequest struct {
	UID       string `json:"uid"`
	IP        string `json:"ip"`
	Reason    string `json:"reason"`
	BannedBy  string `json:"banned_by"`
	DurationS int    `json:"duration_seconds"`
}

func (s *Server) postBan(c echo.Context) error {
	var req banRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := s.store.InsertBan(req.UID, req.IP, req.Reason, req.BannedBy, req.DurationS)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	details, _ := json.Marshal(map[string]string{"reason": req.Reason})
	_ = s.store.InsertAuditLog(0, req.BannedBy, "ban", req.UID, string(details))
	return c.JSON(http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) deleteBan(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.DeleteBan(id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func parsePlayerID(raw string) (uint8, error) {
	n, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}
