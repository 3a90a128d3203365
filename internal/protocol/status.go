package protocol

import "gridhold.gg/internal/master"

// Statuses returned by the request surface.
const (
	StatusOK              = "ok"
	StatusTimeLimit       = "error_time_limit"
	StatusGameFinished    = "game_finished"
	StatusTooManyIDs      = "too_many_ids"
	StatusInvalidResource = "invalid_resource_id"
)

// StatusResponse is the body of every non-ok request outcome.
type StatusResponse struct {
	Status string `json:"status"`
}

// GameResponse answers a state query: the caller's agents, the visible
// resources, the next activation still hidden, and the per-type scores.
type GameResponse struct {
	Status        string            `json:"status"`
	Now           int64             `json:"now"`
	Agent         []AgentMoves      `json:"agent"`
	Resource      []master.Resource `json:"resource"`
	NextResource  int64             `json:"next_resource"`
	OwnedResource []TypeAmount      `json:"owned_resource"`
}

// MoveResponse answers a move command with the agent's new path.
type MoveResponse struct {
	Status string     `json:"status"`
	Now    int64      `json:"now"`
	Move   []Waypoint `json:"move"`
}

// ResourceState is one row of a resources query: the static schedule entry
// plus the caller's accumulated amount on it.
type ResourceState struct {
	ID     int     `json:"id"`
	X      int     `json:"x"`
	Y      int     `json:"y"`
	T0     int     `json:"t0"`
	T1     int     `json:"t1"`
	Type   string  `json:"type"`
	Weight int     `json:"weight"`
	Amount float64 `json:"amount"`
}

// ResourcesResponse answers a resources query.
type ResourcesResponse struct {
	Status   string          `json:"status"`
	Resource []ResourceState `json:"resource"`
}
