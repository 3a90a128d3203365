package game

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	base := time.UnixMilli(1_000_000)
	c := NewClockAt(500_000, func() time.Time { return base })
	if got := c.Now(); got != 500_000 {
		t.Errorf("now = %d, want 500000", got)
	}
	c = NewClockAt(2_000_000, func() time.Time { return base })
	if got := c.Now(); got != -1_000_000 {
		t.Errorf("now = %d, want -1000000 before start", got)
	}
	if c.StartAt() != 2_000_000 {
		t.Errorf("start = %d", c.StartAt())
	}
}

func TestLoadTuningPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("move_time_limit: 250\ncalc_period: 2000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tn, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tn.MoveTimeLimit != 250 || tn.CalcPeriod != 2000 {
		t.Errorf("overrides not applied: %+v", tn)
	}
	// Unset keys keep their defaults.
	if tn.GameTimeLimit != Defaults().GameTimeLimit || tn.NumRanking != Defaults().NumRanking {
		t.Errorf("defaults lost: %+v", tn)
	}
}

func TestLoadUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	if err := os.WriteFile(path, []byte("tokens:\n  abc123: team01\n  def456: team02\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	users, err := LoadUsers(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(users) != 2 || users["abc123"] != "team01" || users["def456"] != "team02" {
		t.Errorf("users = %v", users)
	}
}
