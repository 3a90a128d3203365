// Package engine implements the authoritative agent movement model: the cost
// function, the three-slot agent state machine (anchor, in-flight leg, queued
// leg), and the waypoint projection served to clients.
package engine

import (
	"errors"
	"math"

	"gridhold.gg/internal/protocol"
	"gridhold.gg/internal/store"
)

// NumAgents is the number of agent slots per user, indexed 1..NumAgents.
const NumAgents = 5

// ErrMoveFence reports a move whose admission time is not newer than the tick
// the scoring engine is reading. The caller's prerequisite was violated; it
// must not be retried by the engine.
var ErrMoveFence = errors.New("move time at or behind scoring fence")

// Cost is the travel time in time units for a displacement of (dx,dy) cells.
// Never zero, so every leg has positive duration.
func Cost(dx, dy float64) int64 {
	c := int64(math.Ceil(math.Sqrt(dx*dx+dy*dy) * 100))
	if c < 1 {
		return 1
	}
	return c
}

var startPos = [NumAgents][2]float64{{0, 0}, {0, 30}, {15, 15}, {30, 0}, {30, 30}}

// StartPos is the fixed starting cell of agent slot idx (1-based).
func StartPos(idx int) (x, y float64) {
	return startPos[idx-1][0], startPos[idx-1][1]
}

func lerp(st *store.AgentState, t int64) (x, y float64) {
	x = (st.X0*float64(st.T1-t) + st.X1*float64(t-st.T0)) / float64(st.T1-st.T0)
	y = (st.Y0*float64(st.T1-t) + st.Y1*float64(t-st.T0)) / float64(st.T1-st.T0)
	return x, y
}

// Project reports the agent's future path as waypoints: the anchor, the
// in-flight leg if any, and the queued leg if any. Read-only.
func Project(st *store.AgentState) []protocol.Waypoint {
	anchor := protocol.Waypoint{X: st.X0, Y: st.Y0, T: st.T0}
	switch {
	case st.HasLeg && st.HasPlan:
		if st.T2 < st.T1 {
			// The queued leg preempts the in-flight one mid-span.
			xx, yy := lerp(st, st.T2)
			t3 := st.T2 + Cost(xx-st.X3, yy-st.Y3)
			return []protocol.Waypoint{
				anchor,
				{X: xx, Y: yy, T: st.T2},
				{X: st.X3, Y: st.Y3, T: t3},
			}
		}
		t3 := st.T2 + Cost(st.X1-st.X3, st.Y1-st.Y3)
		if st.T2 == st.T1 {
			return []protocol.Waypoint{
				anchor,
				{X: st.X1, Y: st.Y1, T: st.T1},
				{X: st.X3, Y: st.Y3, T: t3},
			}
		}
		// The agent rests at the leg end until the queued start.
		return []protocol.Waypoint{
			anchor,
			{X: st.X1, Y: st.Y1, T: st.T1},
			{X: st.X1, Y: st.Y1, T: st.T2},
			{X: st.X3, Y: st.Y3, T: t3},
		}
	case st.HasLeg:
		return []protocol.Waypoint{anchor, {X: st.X1, Y: st.Y1, T: st.T1}}
	case st.HasPlan:
		t3 := st.T2 + Cost(st.X0-st.X3, st.Y0-st.Y3)
		return []protocol.Waypoint{
			anchor,
			{X: st.X0, Y: st.Y0, T: st.T2},
			{X: st.X3, Y: st.Y3, T: t3},
		}
	default:
		return []protocol.Waypoint{anchor}
	}
}

// MoveEntry is one committed move, as given to the audit log.
type MoveEntry struct {
	UserID string              `json:"user_id"`
	Idx    int                 `json:"idx"`
	X      int                 `json:"x"`
	Y      int                 `json:"y"`
	Now    int64               `json:"now"`
	Time   int64               `json:"time"`
	Move   []protocol.Waypoint `json:"move"`
}

// MoveLogger receives every committed move. Implementations must be safe for
// concurrent use.
type MoveLogger interface {
	LogMove(MoveEntry)
}

// Engine executes move commands against the store.
type Engine struct {
	store *store.Store
	audit MoveLogger
}

// New builds an engine. audit may be nil to disable the move log.
func New(s *store.Store, audit MoveLogger) *Engine {
	return &Engine{store: s, audit: audit}
}

// stateOrStart returns the stored agent state, or a fresh anchor on the
// slot's start cell at now.
func stateOrStart(d *store.Data, key store.AgentKey, now int64) *store.AgentState {
	if st, ok := d.Agents[key]; ok {
		return st
	}
	x, y := StartPos(key.Idx)
	return &store.AgentState{X0: x, Y0: y, T0: now}
}

func pushHistory(d *store.Data, key store.AgentKey, x, y float64, from, to int64) {
	if from < to {
		d.History[key] = append(d.History[key], store.Occupancy{X: x, Y: y, From: from, To: to})
	}
}

// Move applies a move command for (userID, idx): target cell (x,y), taking
// effect at when (>= now). The whole update is one store transaction; the
// committed path is returned and published to the user's topic.
func (e *Engine) Move(userID string, idx, x, y int, now, when int64) ([]protocol.Waypoint, error) {
	var (
		move []protocol.Waypoint
		err  error
	)
	e.store.Update(func(tx *store.Tx) {
		d := tx.Data
		if now <= d.CalcTime {
			err = ErrMoveFence
			return
		}

		key := store.AgentKey{UserID: userID, Idx: idx}
		st := stateOrStart(d, key, now)

		// A queued leg whose start has passed becomes the in-flight leg.
		if st.HasPlan && st.T2 <= now {
			if st.HasLeg {
				if st.T2 < st.T1 {
					st.X0, st.Y0 = lerp(st, st.T2)
				} else {
					pushHistory(d, key, st.X1, st.Y1, st.T1, st.T2)
					st.X0, st.Y0 = st.X1, st.Y1
				}
			}
			st.T0 = st.T2
			st.X1, st.Y1 = st.X3, st.Y3
			st.T1 = st.T0 + Cost(st.X0-st.X1, st.Y0-st.Y1)
			st.HasLeg = true
		}
		st.HasPlan = false

		// An in-flight leg that already arrived collapses into the anchor.
		if st.HasLeg && st.T1 <= now {
			pushHistory(d, key, st.X1, st.Y1, st.T1, now)
			st.X0, st.Y0 = st.X1, st.Y1
			st.T0 = now
			st.HasLeg = false
		}

		if when == now {
			if st.HasLeg {
				st.X0, st.Y0 = lerp(st, now)
			} else {
				pushHistory(d, key, st.X0, st.Y0, st.T0, now)
			}
			st.T0 = now
			st.X1, st.Y1 = float64(x), float64(y)
			st.T1 = st.T0 + Cost(st.X0-st.X1, st.Y0-st.Y1)
			st.HasLeg = true
		} else {
			st.HasPlan = true
			st.T2 = when
			st.X3, st.Y3 = float64(x), float64(y)
		}

		// Zero-duration leg: arrive immediately.
		if st.HasLeg && st.T0 == st.T1 {
			st.X0, st.Y0 = st.X1, st.Y1
			st.HasLeg = false
		}

		d.Agents[key] = st
		move = Project(st)

		record := protocol.EncodeRecord(now, move)
		d.Records[key] = append(d.Records[key], record)
		tx.Publish(userID, protocol.MoveFrame(idx, record))
	})
	if err != nil {
		return nil, err
	}
	if e.audit != nil {
		e.audit.LogMove(MoveEntry{UserID: userID, Idx: idx, X: x, Y: y, Now: now, Time: when, Move: move})
	}
	return move, nil
}

// Snapshot projects every agent slot of a user at now. Slots never moved
// report their start cell.
func (e *Engine) Snapshot(userID string, now int64) []protocol.AgentMoves {
	agents := make([]protocol.AgentMoves, 0, NumAgents)
	e.store.View(func(d *store.Data) {
		for idx := 1; idx <= NumAgents; idx++ {
			st := stateOrStart(d, store.AgentKey{UserID: userID, Idx: idx}, now)
			agents = append(agents, protocol.AgentMoves{Move: Project(st)})
		}
	})
	return agents
}
