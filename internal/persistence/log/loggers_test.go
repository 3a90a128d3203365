package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"gridhold.gg/internal/engine"
	"gridhold.gg/internal/protocol"
)

func TestMoveLogRoundTrip(t *testing.T) {
	dir := t.TempDir()

	var logErr error
	l := NewMoveLog(dir, func(err error) { logErr = err })

	var rotated []string
	l.OnRotate(func(path string) { rotated = append(rotated, path) })

	entries := []engine.MoveEntry{
		{UserID: "team01", Idx: 1, X: 3, Y: 4, Now: 0, Time: 0,
			Move: []protocol.Waypoint{{X: 0, Y: 0, T: 0}, {X: 3, Y: 4, T: 500}}},
		{UserID: "team02", Idx: 5, X: 30, Y: 30, Now: 1000, Time: 2000,
			Move: []protocol.Waypoint{{X: 30, Y: 30, T: 1000}}},
	}
	for _, e := range entries {
		l.LogMove(e)
	}
	if logErr != nil {
		t.Fatalf("log: %v", logErr)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(rotated) != 1 {
		t.Fatalf("rotated = %v, want one finished file", rotated)
	}

	files, err := filepath.Glob(filepath.Join(dir, "moves-*.jsonl.zst"))
	if err != nil || len(files) != 1 {
		t.Fatalf("files = %v, %v", files, err)
	}
	if files[0] != rotated[0] {
		t.Errorf("rotate callback path %q, file %q", rotated[0], files[0])
	}

	f, err := os.Open(files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	var got []engine.MoveEntry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e engine.MoveEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Bytes(), err)
		}
		got = append(got, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i].UserID != entries[i].UserID || got[i].Idx != entries[i].Idx ||
			got[i].Now != entries[i].Now || len(got[i].Move) != len(entries[i].Move) {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}
}
