// Package game holds the game clock and the tuning parameters shared by the
// request surface, the streaming sessions, and the scoring engine.
package game

import "time"

// AreaSize is the grid extent; coordinates run 0..AreaSize inclusive.
const AreaSize = 30

// Clock converts wall time into game time: integer milliseconds since the
// configured start. Game time is negative before the game begins.
type Clock struct {
	start int64
	now   func() time.Time
}

func NewClock(startUnixMilli int64) *Clock {
	return &Clock{start: startUnixMilli, now: time.Now}
}

// NewClockAt is the test constructor; now supplies the wall clock.
func NewClockAt(startUnixMilli int64, now func() time.Time) *Clock {
	return &Clock{start: startUnixMilli, now: now}
}

// Now is the current game time in milliseconds.
func (c *Clock) Now() int64 {
	return c.now().UnixMilli() - c.start
}

// StartAt is the configured start in unix milliseconds.
func (c *Clock) StartAt() int64 { return c.start }
