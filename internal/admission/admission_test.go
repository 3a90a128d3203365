package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"gridhold.gg/internal/game"
	"gridhold.gg/internal/store"
)

func TestCheckAndSet(t *testing.T) {
	s := store.New()
	c := New(s, game.NewClock(time.Now().UnixMilli()))

	if _, ok := c.CheckAndSet("move_u", 0, 100); !ok {
		t.Fatal("first claim refused")
	}
	unlock, ok := c.CheckAndSet("move_u", 50, 100)
	if ok {
		t.Fatal("claim succeeded inside the limit window")
	}
	if unlock != 100 {
		t.Errorf("pending unlock = %d, want 100", unlock)
	}
	// The pending unlock is reported, never extended.
	if unlock, _ = c.CheckAndSet("move_u", 99, 100); unlock != 100 {
		t.Errorf("pending unlock = %d, want 100", unlock)
	}
	if _, ok = c.CheckAndSet("move_u", 100, 100); !ok {
		t.Fatal("claim refused after unlock passed")
	}
	// Distinct fields never interfere.
	if _, ok = c.CheckAndSet("move_v", 0, 100); !ok {
		t.Fatal("claim on other user refused")
	}
}

func TestWaitBeforeStart(t *testing.T) {
	s := store.New()
	start := time.Now().Add(time.Hour).UnixMilli()
	c := New(s, game.NewClock(start))

	now, err := c.Wait(context.Background(), "game", "u", 1000)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if now >= 0 {
		t.Errorf("now = %d, want negative before start", now)
	}
	s.View(func(d *store.Data) {
		if len(d.Unlocks) != 0 {
			t.Errorf("pre-start wait claimed a slot: %v", d.Unlocks)
		}
	})
}

func TestWaitForUnlock(t *testing.T) {
	s := store.New()
	c := New(s, game.NewClock(time.Now().UnixMilli()))

	first, err := c.Wait(context.Background(), "game", "u", 30)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	second, err := c.Wait(context.Background(), "game", "u", 30)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if second < first+30 {
		t.Errorf("second admission at %d, want >= %d", second, first+30)
	}
}

func TestWaitContention(t *testing.T) {
	s := store.New()
	c := New(s, game.NewClock(time.Now().UnixMilli()))

	// Lock the slot well past the horizon, then steal it mid-wait: the waiter
	// wakes to a different pending unlock and must give up.
	s.Update(func(tx *store.Tx) { tx.Data.Unlocks["game_u"] = 40 })
	done := make(chan error, 1)
	go func() {
		_, err := c.Wait(context.Background(), "game", "u", 30)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	s.Update(func(tx *store.Tx) { tx.Data.Unlocks["game_u"] = 1 << 40 })

	select {
	case err := <-done:
		if !errors.Is(err, ErrTimeLimit) {
			t.Fatalf("err = %v, want ErrTimeLimit", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not return")
	}
}

func TestWaitCancel(t *testing.T) {
	s := store.New()
	c := New(s, game.NewClock(time.Now().UnixMilli()))
	s.Update(func(tx *store.Tx) { tx.Data.Unlocks["game_u"] = 1 << 40 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Wait(ctx, "game", "u", 30); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
