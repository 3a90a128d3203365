// Package ws serves the streaming sessions: one WebSocket per user that
// relays bus frames as typed JSON events, and a privileged spectator session
// that replays the top players on a delay.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gridhold.gg/internal/admission"
	"gridhold.gg/internal/engine"
	"gridhold.gg/internal/game"
	"gridhold.gg/internal/master"
	"gridhold.gg/internal/protocol"
	"gridhold.gg/internal/store"
)

// AdminPath is the unguessable spectator endpoint; the path segment is the
// shared secret.
const AdminPath = "/event/admin/39lnrqo51f5"

const writeTimeout = 5 * time.Second

type Server struct {
	store  *store.Store
	master *master.MasterData
	clock  *game.Clock
	tuning game.Tuning
	engine *engine.Engine
	adm    *admission.Controller
	log    *log.Logger

	upgrader websocket.Upgrader
	active   atomic.Int64
}

func NewServer(s *store.Store, md *master.MasterData, clock *game.Clock, tuning game.Tuning, eng *engine.Engine, adm *admission.Controller, logger *log.Logger) *Server {
	return &Server{
		store:  s,
		master: md,
		clock:  clock,
		tuning: tuning,
		engine: eng,
		adm:    adm,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// ActiveSessions is the number of open streaming sessions.
func (s *Server) ActiveSessions() int64 { return s.active.Load() }

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+AdminPath, s.handleAdmin)
	mux.HandleFunc("GET /event/{token}", s.handleUser)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	connectTime := s.clock.Now()
	if connectTime < 0 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	token := r.PathValue("token")
	userID := ""
	if protocol.ValidToken.MatchString(token) {
		userID = s.store.UserID(token)
	}
	if userID == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.active.Add(1)
	defer s.active.Add(-1)

	sessionID := uuid.NewString()
	s.log.Printf("session %s open user=%s connect=%d", sessionID, userID, connectTime)
	defer s.log.Printf("session %s closed", sessionID)

	if connectTime >= s.master.Period {
		s.writeSignal(conn, protocol.EventGameFinished)
		return
	}
	if _, ok := s.adm.CheckAndSet("SSE_"+userID, connectTime, s.tuning.StreamTimeLimit); !ok {
		s.writeSignal(conn, protocol.EventTimeLimit)
		return
	}

	// Announce the takeover before subscribing, so only older sessions see
	// the connect frame and disconnect themselves.
	s.store.Publish(userID, protocol.ConnectFrame(connectTime))
	sub := s.store.Subscribe(userID)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go watchClose(conn, cancel)

	// Let the takeover settle so a racing older session stops publishing
	// into our window.
	if !s.settle(ctx) {
		return
	}

	subStart := s.clock.Now()
	if subStart >= s.master.Period {
		s.writeSignal(conn, protocol.EventGameFinished)
		return
	}
	s.writeJSON(conn, protocol.GameEvent{
		Type:       protocol.EventGame,
		Now:        subStart,
		GamePeriod: s.master.Period,
		Agent:      s.engine.Snapshot(userID, subStart),
		Resource:   s.master.Visible(subStart, s.tuning.ResourceLead),
		UserID:     userID,
	})

	s.run(ctx, conn, sub, sessionID, subStart, connectTime, 0, false)
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.active.Add(1)
	defer s.active.Add(-1)

	sessionID := uuid.NewString()
	s.log.Printf("session %s open spectator", sessionID)
	defer s.log.Printf("session %s closed", sessionID)

	sub := s.store.Subscribe(protocol.SpectatorTopic)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go watchClose(conn, cancel)

	if !s.settle(ctx) {
		return
	}

	subStart := s.clock.Now() - s.tuning.SpectatorDelay
	if subStart >= s.master.Period {
		s.writeSignal(conn, protocol.EventGameFinished)
		return
	}
	s.writeJSON(conn, protocol.GameEvent{
		Type:       protocol.EventGame,
		Now:        subStart,
		GamePeriod: s.master.Period,
		Agent:      []protocol.AgentMoves{},
		Resource:   s.master.Visible(subStart, s.tuning.ResourceLead),
		UserID:     "admin",
	})

	s.run(ctx, conn, sub, sessionID, subStart, 0, s.tuning.SpectatorDelay, true)
}

// run relays bus frames until the game or the connection ends. Spectator
// sessions run their clock behind the live one by delay.
func (s *Server) run(ctx context.Context, conn *websocket.Conn, sub *store.Subscription, sessionID string, subStart, connectTime, delay int64, spectator bool) {
	lastResourceTime := subStart

	for {
		msgCtx, cancel := context.WithTimeout(ctx, time.Duration(s.tuning.StreamIdleTimeout)*time.Millisecond)
		msg, err := sub.Next(msgCtx)
		cancel()

		switch {
		case err == nil:
			if len(msg) == 0 {
				continue
			}
			switch msg[0] {
			case 'M':
				idx, moveTime, move, perr := protocol.ParseMoveFrame(msg)
				if perr != nil {
					s.log.Printf("session %s: %v", sessionID, perr)
					return
				}
				// Moves already covered by the opening snapshot are skipped.
				if moveTime >= subStart {
					if !s.writeJSON(conn, protocol.MoveEvent{
						Type: protocol.EventMove,
						Idx:  idx,
						Now:  moveTime,
						Move: move,
					}) {
						return
					}
				}
			case 'R':
				if !s.writeRaw(conn, msg[1:]) {
					return
				}
			case 'C':
				ct, perr := protocol.ParseConnectFrame(msg)
				if perr != nil {
					s.log.Printf("session %s: %v", sessionID, perr)
					return
				}
				if spectator || ct != connectTime {
					s.writeSignal(conn, protocol.EventDisconnected)
					return
				}
			case 'U':
				if !spectator {
					s.log.Printf("session %s: unexpected update frame", sessionID)
					return
				}
				if !s.writeSignal(conn, protocol.EventUpdate) {
					return
				}
			default:
				s.log.Printf("session %s: unknown frame %q", sessionID, msg[0])
				return
			}
		case errors.Is(err, context.DeadlineExceeded):
			// Idle; keep the connection alive.
			if werr := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); werr != nil {
				return
			}
		default:
			return
		}

		now := s.clock.Now() - delay
		if now >= s.master.Period {
			s.writeSignal(conn, protocol.EventGameFinished)
			return
		}

		// Resources whose reveal instant crossed into this iteration's window.
		var revealed []master.Resource
		for _, res := range s.master.Resources {
			reveal := int64(res.T0) - s.tuning.ResourceLead
			if lastResourceTime <= reveal && reveal < now {
				revealed = append(revealed, res)
			}
		}
		lastResourceTime = now
		if len(revealed) > 0 {
			if !s.writeJSON(conn, protocol.ResourceEvent{
				Type:     protocol.EventResource,
				Resource: revealed,
				Now:      s.clock.Now(),
			}) {
				return
			}
		}
	}
}

// settle waits the configured delay; false when the client left meanwhile.
func (s *Server) settle(ctx context.Context) bool {
	t := time.NewTimer(time.Duration(s.tuning.StreamSettleDelay) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// watchClose drains the connection; clients never send data frames, so a
// read returning is the close signal.
func watchClose(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Printf("marshal event: %v", err)
		return false
	}
	return s.writeRaw(conn, b)
}

func (s *Server) writeRaw(conn *websocket.Conn, b []byte) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b) == nil
}

func (s *Server) writeSignal(conn *websocket.Conn, typ string) bool {
	return s.writeJSON(conn, protocol.SignalEvent{Type: typ})
}
