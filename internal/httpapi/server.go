// Package httpapi serves the polling request surface: game snapshots, move
// commands, and resource queries. Streaming sessions live in transport/ws.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"gridhold.gg/internal/admission"
	"gridhold.gg/internal/engine"
	"gridhold.gg/internal/game"
	"gridhold.gg/internal/master"
	"gridhold.gg/internal/protocol"
	"gridhold.gg/internal/store"
)

// MaxResourceIDs bounds a single resources query.
const MaxResourceIDs = 20

// Metrics are cheap request counters scraped by the /metrics endpoint.
type Metrics struct {
	Game        atomic.Int64
	Move        atomic.Int64
	Resources   atomic.Int64
	TimeLimited atomic.Int64
	Rejected    atomic.Int64
}

type Server struct {
	store   *store.Store
	master  *master.MasterData
	clock   *game.Clock
	tuning  game.Tuning
	engine  *engine.Engine
	adm     *admission.Controller
	logger  *log.Logger
	metrics Metrics
}

func New(s *store.Store, md *master.MasterData, clock *game.Clock, tuning game.Tuning, eng *engine.Engine, adm *admission.Controller, logger *log.Logger) *Server {
	return &Server{
		store:  s,
		master: md,
		clock:  clock,
		tuning: tuning,
		engine: eng,
		adm:    adm,
		logger: logger,
	}
}

func (s *Server) Metrics() *Metrics { return &s.metrics }

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/game/{token}", s.handleGame)
	mux.HandleFunc("GET /api/move/{token}/{cmd}", s.handleMove)
	mux.HandleFunc("GET /api/will_move/{token}/{cmd}", s.handleWillMove)
	mux.HandleFunc("GET /api/resources/{token}/{ids}", s.handleResources)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("write response: %v", err)
	}
}

func (s *Server) reject(w http.ResponseWriter) {
	s.metrics.Rejected.Add(1)
	http.Error(w, "not found", http.StatusNotFound)
}

// resolveUser validates the token and maps it to a user id. Unknown and
// malformed tokens are indistinguishable to the caller.
func (s *Server) resolveUser(token string) string {
	if !protocol.ValidToken.MatchString(token) {
		return ""
	}
	return s.store.UserID(token)
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	s.metrics.Game.Add(1)

	userID := s.resolveUser(r.PathValue("token"))
	if userID == "" {
		s.reject(w)
		return
	}

	now, err := s.adm.Wait(r.Context(), "game", userID, s.tuning.GameTimeLimit)
	if err != nil {
		s.timeLimited(w, err)
		return
	}
	if now < 0 {
		s.reject(w)
		return
	}
	if now >= s.master.Period {
		s.writeJSON(w, protocol.StatusResponse{Status: protocol.StatusGameFinished})
		return
	}

	s.writeJSON(w, protocol.GameResponse{
		Status:        protocol.StatusOK,
		Now:           now,
		Agent:         s.engine.Snapshot(userID, now),
		Resource:      s.master.Visible(now, s.tuning.ResourceLead),
		NextResource:  s.master.NextVisible(now, s.tuning.ResourceLead),
		OwnedResource: s.ownedScores(userID),
	})
}

// ownedScores is the per-type score breakdown, or empty until the scoring
// engine has produced one.
func (s *Server) ownedScores(userID string) []protocol.TypeAmount {
	types := s.master.Types()
	owned := make([]protocol.TypeAmount, 0, len(types))
	complete := true
	s.store.View(func(d *store.Data) {
		for _, typ := range types {
			v, ok := d.Scores[userID+"_"+typ]
			if !ok {
				complete = false
				return
			}
			owned = append(owned, protocol.TypeAmount{Type: typ, Amount: v})
		}
	})
	if !complete {
		return []protocol.TypeAmount{}
	}
	return owned
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	nums, ok := parseCommand(r.PathValue("cmd"), 3)
	if !ok {
		s.reject(w)
		return
	}
	s.runMove(w, r, int(nums[0]), int(nums[1]), int(nums[2]), -1)
}

func (s *Server) handleWillMove(w http.ResponseWriter, r *http.Request) {
	nums, ok := parseCommand(r.PathValue("cmd"), 4)
	if !ok {
		s.reject(w)
		return
	}
	s.runMove(w, r, int(nums[0]), int(nums[1]), int(nums[2]), nums[3])
}

// parseCommand splits a dash-joined parameter list of exactly n non-negative
// numbers.
func parseCommand(cmd string, n int) ([]int64, bool) {
	parts := strings.Split(cmd, "-")
	if len(parts) != n {
		return nil, false
	}
	nums := make([]int64, n)
	for i, p := range parts {
		if !protocol.ValidNumber.MatchString(p) {
			return nil, false
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, false
		}
		nums[i] = v
	}
	return nums, true
}

// runMove handles both immediate and scheduled moves; when < 0 means "now".
func (s *Server) runMove(w http.ResponseWriter, r *http.Request, idx, x, y int, when int64) {
	s.metrics.Move.Add(1)

	if idx < 1 || idx > engine.NumAgents || x < 0 || x > game.AreaSize || y < 0 || y > game.AreaSize {
		s.reject(w)
		return
	}
	if when >= 0 && when >= s.master.Period {
		s.reject(w)
		return
	}

	userID := s.resolveUser(r.PathValue("token"))
	if userID == "" {
		s.reject(w)
		return
	}

	now, err := s.adm.Wait(r.Context(), fmt.Sprintf("move_%d", idx), userID, s.tuning.MoveTimeLimit)
	if err != nil {
		s.timeLimited(w, err)
		return
	}
	if now < 0 {
		s.reject(w)
		return
	}
	if now >= s.master.Period {
		s.writeJSON(w, protocol.StatusResponse{Status: protocol.StatusGameFinished})
		return
	}

	if when < now {
		when = now
	}

	move, err := s.engine.Move(userID, idx, x, y, now, when)
	if err != nil {
		s.logger.Printf("move %s agent=%d: %v", userID, idx, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, protocol.MoveResponse{Status: protocol.StatusOK, Now: now, Move: move})
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	s.metrics.Resources.Add(1)

	userID := s.resolveUser(r.PathValue("token"))
	if userID == "" {
		s.reject(w)
		return
	}

	var ids []int
	for _, p := range strings.Split(r.PathValue("ids"), "-") {
		if !protocol.ValidNumber.MatchString(p) {
			s.reject(w)
			return
		}
		id, err := strconv.Atoi(p)
		if err != nil {
			s.reject(w)
			return
		}
		ids = append(ids, id)
		if len(ids) > MaxResourceIDs {
			s.writeJSON(w, protocol.StatusResponse{Status: protocol.StatusTooManyIDs})
			return
		}
	}

	now, err := s.adm.Wait(r.Context(), "resources", userID, s.tuning.ResourcesTimeLimit)
	if err != nil {
		s.timeLimited(w, err)
		return
	}
	if now < 0 {
		s.reject(w)
		return
	}
	if now >= s.master.Period {
		s.writeJSON(w, protocol.StatusResponse{Status: protocol.StatusGameFinished})
		return
	}

	resources := make([]master.Resource, 0, len(ids))
	for _, id := range ids {
		res, ok := s.master.Get(id)
		if !ok || now+s.tuning.ResourceLead <= int64(res.T0) {
			s.writeJSON(w, protocol.StatusResponse{Status: protocol.StatusInvalidResource})
			return
		}
		resources = append(resources, res)
	}

	states := make([]protocol.ResourceState, len(resources))
	s.store.View(func(d *store.Data) {
		for i, res := range resources {
			states[i] = protocol.ResourceState{
				ID:     res.ID,
				X:      res.X,
				Y:      res.Y,
				T0:     res.T0,
				T1:     res.T1,
				Type:   res.Type,
				Weight: res.Weight,
				Amount: d.Amounts[fmt.Sprintf("%s_%d", userID, res.ID)],
			}
		}
	})
	s.writeJSON(w, protocol.ResourcesResponse{Status: protocol.StatusOK, Resource: states})
}

func (s *Server) timeLimited(w http.ResponseWriter, err error) {
	if !errors.Is(err, admission.ErrTimeLimit) {
		// Context canceled mid-wait; the client is gone.
		return
	}
	s.metrics.TimeLimited.Add(1)
	s.writeJSON(w, protocol.StatusResponse{Status: protocol.StatusTimeLimit})
}
