// Package admission rate-limits request classes per user. Each (class, user)
// pair holds an unlock time in the store; a request either claims the slot by
// pushing the unlock forward, or waits for it.
package admission

import (
	"context"
	"errors"
	"time"

	"gridhold.gg/internal/game"
	"gridhold.gg/internal/store"
)

// ErrTimeLimit reports contention the waiter cannot safely resolve: a second
// caller claimed the slot while this one slept.
var ErrTimeLimit = errors.New("time limit contention")

type Controller struct {
	store *store.Store
	clock *game.Clock
}

func New(s *store.Store, clock *game.Clock) *Controller {
	return &Controller{store: s, clock: clock}
}

// CheckAndSet atomically claims field at now for limit time units. On success
// ok is true; otherwise the pending unlock time is returned unchanged.
func (c *Controller) CheckAndSet(field string, now, limit int64) (unlock int64, ok bool) {
	unlock = -1
	c.store.Update(func(tx *store.Tx) {
		if t, exists := tx.Data.Unlocks[field]; exists && now < t {
			unlock = t
			return
		}
		tx.Data.Unlocks[field] = now + limit
	})
	return unlock, unlock < 0
}

// Wait claims the (class, user) slot, sleeping until a pending unlock passes.
// It returns the game time at which the claim succeeded; before game start it
// returns the (negative) time immediately without claiming. If a competing
// caller wins the slot mid-wait, ErrTimeLimit is returned rather than looping
// indefinitely.
func (c *Controller) Wait(ctx context.Context, class, userID string, limit int64) (int64, error) {
	now := c.clock.Now()
	if now < 0 {
		return now, nil
	}

	field := class + "_" + userID
	unlockTime := int64(-1)
	for {
		ut, ok := c.CheckAndSet(field, now, limit)
		if ok {
			return now, nil
		}
		if unlockTime < 0 {
			unlockTime = ut
		} else if unlockTime != ut {
			return 0, ErrTimeLimit
		}

		if err := sleep(ctx, max(1, unlockTime-now)); err != nil {
			return 0, err
		}
		now = c.clock.Now()
		// Fine-grained polls absorb clock drift around the unlock instant.
		for now < unlockTime {
			if err := sleep(ctx, 1); err != nil {
				return 0, err
			}
			now = c.clock.Now()
		}
	}
}

func sleep(ctx context.Context, ms int64) error {
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
