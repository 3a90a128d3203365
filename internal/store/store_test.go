package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func nextString(t *testing.T, sub *Subscription) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	return string(msg)
}

func TestPublishOrder(t *testing.T) {
	s := New()
	sub := s.Subscribe("u")
	defer sub.Close()

	for i := 0; i < 10; i++ {
		i := i
		s.Update(func(tx *Tx) {
			tx.Publish("u", []byte(fmt.Sprintf("a%d", i)))
			tx.Publish("u", []byte(fmt.Sprintf("b%d", i)))
		})
	}
	for i := 0; i < 10; i++ {
		if got := nextString(t, sub); got != fmt.Sprintf("a%d", i) {
			t.Fatalf("got %q at %d", got, i)
		}
		if got := nextString(t, sub); got != fmt.Sprintf("b%d", i) {
			t.Fatalf("got %q at %d", got, i)
		}
	}
}

func TestSubscribeTopicIsolation(t *testing.T) {
	s := New()
	a := s.Subscribe("a")
	defer a.Close()
	b := s.Subscribe("b")
	defer b.Close()

	s.Publish("a", []byte("only-a"))
	if got := nextString(t, a); got != "only-a" {
		t.Fatalf("got %q", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("message leaked across topics")
	}
}

func TestSubscriptionClose(t *testing.T) {
	s := New()
	sub := s.Subscribe("u")
	s.Publish("u", []byte("one"))
	sub.Close()

	// Queued messages still drain after close, then the sentinel error.
	if got := nextString(t, sub); got != "one" {
		t.Fatalf("got %q", got)
	}
	if _, err := sub.Next(context.Background()); !errors.Is(err, ErrSubscriptionClosed) {
		t.Fatalf("err = %v", err)
	}

	// Publishing to a closed subscription is a no-op.
	s.Publish("u", []byte("two"))
	if _, err := sub.Next(context.Background()); !errors.Is(err, ErrSubscriptionClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateSerializes(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(tx *Tx) { tx.Data.StartAt++ })
		}()
	}
	wg.Wait()
	s.View(func(d *Data) {
		if d.StartAt != 50 {
			t.Errorf("StartAt = %d, want 50", d.StartAt)
		}
	})
}

func TestResetKeepsRoster(t *testing.T) {
	s := New()
	s.Update(func(tx *Tx) {
		tx.Data.Tokens["tok"] = "u"
		tx.Data.StartAt = 100
		tx.Data.Period = 600000
		tx.Data.Scores["u_A"] = 1.5
		tx.Data.Agents[AgentKey{UserID: "u", Idx: 1}] = &AgentState{}
		tx.Data.CalcTime = 42
	})
	s.Reset()
	s.View(func(d *Data) {
		if d.Tokens["tok"] != "u" || d.StartAt != 100 || d.Period != 600000 {
			t.Error("roster or window lost on reset")
		}
		if len(d.Scores) != 0 || len(d.Agents) != 0 {
			t.Error("volatile state survived reset")
		}
		if d.CalcTime != -1 {
			t.Errorf("CalcTime = %d, want -1", d.CalcTime)
		}
	})
	if s.UserID("tok") != "u" {
		t.Error("token lookup failed after reset")
	}
	if s.UserID("nope") != "" {
		t.Error("unknown token resolved")
	}
}
