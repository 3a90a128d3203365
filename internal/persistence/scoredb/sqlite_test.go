package scoredb

import (
	"bytes"
	"path/filepath"
	"testing"

	"gridhold.gg/internal/protocol"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "score.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLastCalcTime(t *testing.T) {
	db := openTestDB(t)

	got, err := db.LastCalcTime()
	if err != nil || got != 0 {
		t.Fatalf("fresh db: %d, %v", got, err)
	}
	if err := db.SetLastCalcTime(500); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetLastCalcTime(1000); err != nil {
		t.Fatalf("set again: %v", err)
	}
	if got, err = db.LastCalcTime(); err != nil || got != 1000 {
		t.Fatalf("got %d, %v, want 1000", got, err)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if data, err := db.LoadBackup(500); err != nil || data != nil {
		t.Fatalf("missing backup: %q, %v", data, err)
	}

	payload := []byte(`{"team01":{"a":[1,0.5]},"team02":null}`)
	if err := db.SaveBackup(500, payload); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := db.LoadBackup(500)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("backup = %q, want %q", got, payload)
	}

	// Same tick overwrites.
	if err := db.SaveBackup(500, []byte("{}")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _ = db.LoadBackup(500); string(got) != "{}" {
		t.Errorf("backup = %q after overwrite", got)
	}
}

func TestLeaderboardRoundTrip(t *testing.T) {
	db := openTestDB(t)

	entries := []protocol.RankingEntry{
		{Point: 5.0, UserID: "team02", Rank: 1},
		{Point: 5.0, UserID: "team03", Rank: 1},
		{Point: 3.0, UserID: "team01", Rank: 3},
	}
	if err := db.SaveLeaderboard(60000, entries); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.SaveLeaderboard(120000, entries[:1]); err != nil {
		t.Fatalf("save: %v", err)
	}

	times, err := db.LeaderboardTimes()
	if err != nil {
		t.Fatalf("times: %v", err)
	}
	if len(times) != 2 || times[0] != 60000 || times[1] != 120000 {
		t.Errorf("times = %v", times)
	}

	got, err := db.Leaderboard(60000)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries", len(got))
	}
	for i, e := range entries {
		if got[i] != e {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], e)
		}
	}
}

func TestReset(t *testing.T) {
	db := openTestDB(t)
	if err := db.SetLastCalcTime(500); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveBackup(500, []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if err := db.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got, _ := db.LastCalcTime(); got != 0 {
		t.Errorf("last calc time = %d after reset", got)
	}
	if data, _ := db.LoadBackup(500); data != nil {
		t.Error("backup survived reset")
	}
}
