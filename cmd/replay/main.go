// Command replay reads the move audit trail written by the server and prints
// the committed moves, optionally filtered by user and time window. It is the
// offline counterpart of the spectator stream: the same paths, recovered from
// the durable log instead of the bus.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"gridhold.gg/internal/engine"
	"gridhold.gg/internal/protocol"
)

func main() {
	var (
		logDir = flag.String("movelog", "./data/movelog", "move log directory")
		user   = flag.String("user", "", "filter by user id (optional)")
		from   = flag.Int64("from", 0, "start of time window, game milliseconds (inclusive)")
		to     = flag.Int64("to", 0, "end of time window, game milliseconds (0: unbounded)")
		asJSON = flag.Bool("json", false, "print raw JSON lines instead of a summary")
	)
	flag.Parse()

	files, err := filepath.Glob(filepath.Join(*logDir, "moves-*.jsonl.zst"))
	if err != nil || len(files) == 0 {
		fmt.Fprintf(os.Stderr, "no move logs under %s\n", *logDir)
		os.Exit(1)
	}
	sort.Strings(files)

	count := 0
	for _, path := range files {
		n, err := dumpFile(path, *user, *from, *to, *asJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			os.Exit(1)
		}
		count += n
	}
	fmt.Fprintf(os.Stderr, "%d moves\n", count)
}

func dumpFile(path, user string, from, to int64, asJSON bool) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	count := 0
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e engine.MoveEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return count, fmt.Errorf("bad line: %w", err)
		}
		if user != "" && e.UserID != user {
			continue
		}
		if e.Now < from || (to > 0 && e.Now >= to) {
			continue
		}
		count++
		if asJSON {
			fmt.Println(string(sc.Bytes()))
			continue
		}
		fmt.Printf("%10d %-20s agent=%d -> (%d,%d) at=%d path=%s\n",
			e.Now, e.UserID, e.Idx, e.X, e.Y, e.Time, protocol.EncodeRecord(e.Now, e.Move))
	}
	return count, sc.Err()
}
