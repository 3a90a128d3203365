// Package protocol defines the wire-level types shared by the HTTP surface,
// the streaming sessions, and the internal bus frames.
package protocol

import "gridhold.gg/internal/master"

// Event type discriminators. Every streamed message carries exactly one.
const (
	EventGame         = "game"
	EventMove         = "move"
	EventResource     = "resource"
	EventRanking      = "ranking"
	EventGameFinished = "game_finished"
	EventTimeLimit    = "error_time_limit"
	EventDisconnected = "disconnected"
	EventUpdate       = "update"
)

// Waypoint is one point of an agent's path: the agent is at (X,Y) at time T.
type Waypoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t"`
}

// AgentMoves is the projected path of one agent slot.
type AgentMoves struct {
	Move []Waypoint `json:"move"`
}

// TypeAmount is a per-resource-type score or ownership figure.
type TypeAmount struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

// GameEvent is the full snapshot sent when a streaming session opens.
type GameEvent struct {
	Type       string            `json:"type"`
	Now        int64             `json:"now"`
	GamePeriod int64             `json:"game_period"`
	Agent      []AgentMoves      `json:"agent"`
	Resource   []master.Resource `json:"resource"`
	UserID     string            `json:"userId"`
}

// MoveEvent reports one agent's new path after a committed move.
type MoveEvent struct {
	Type string     `json:"type"`
	Idx  int64      `json:"idx"`
	Now  int64      `json:"now"`
	Move []Waypoint `json:"move"`
}

// ResourceEvent announces resources that just became visible.
type ResourceEvent struct {
	Type     string            `json:"type"`
	Resource []master.Resource `json:"resource"`
	Now      int64             `json:"now"`
}

// RankingEntry is one leaderboard row.
type RankingEntry struct {
	Point  float64 `json:"point"`
	UserID string  `json:"userId"`
	Rank   int     `json:"rank"`
}

// RankingEvent carries the leaderboard plus the viewer's own per-type
// ownership breakdown.
type RankingEvent struct {
	Type          string         `json:"type"`
	Ranking       []RankingEntry `json:"ranking"`
	OwnedResource []TypeAmount   `json:"owned_resource"`
}

// SignalEvent is a bare type-only message (game_finished, error_time_limit,
// disconnected, update).
type SignalEvent struct {
	Type string `json:"type"`
}
