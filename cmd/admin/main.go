// Command admin inspects the persisted scoring state of a game: leaderboard
// snapshots, per-tick score backups, and the tick watermark.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gridhold.gg/internal/persistence/scoredb"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "board":
			boardCmd(os.Args[2:])
			return
		case "backup":
			backupCmd(os.Args[2:])
			return
		case "last":
			lastCmd(os.Args[2:])
			return
		}
	}
	timesCmd(os.Args[1:])
}

func openDB(fs *flag.FlagSet, args []string) (*scoredb.DB, *flag.FlagSet) {
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "score db path (default: <data>/score.db)")
	_ = fs.Parse(args)

	path := *dbPath
	if path == "" {
		path = filepath.Join(*dataDir, "score.db")
	}
	db, err := scoredb.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return db, fs
}

func timesCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	db, _ := openDB(fs, args)
	defer db.Close()

	times, err := db.LeaderboardTimes()
	if err != nil {
		fmt.Fprintln(os.Stderr, "leaderboard times:", err)
		os.Exit(1)
	}
	for _, t := range times {
		fmt.Println(t)
	}
}

func boardCmd(args []string) {
	fs := flag.NewFlagSet("board", flag.ExitOnError)
	tick := fs.Int64("tick", 0, "snapshot tick (0: latest)")
	db, _ := openDB(fs, args)
	defer db.Close()

	t := *tick
	if t == 0 {
		times, err := db.LeaderboardTimes()
		if err != nil || len(times) == 0 {
			fmt.Fprintln(os.Stderr, "no leaderboard snapshots")
			os.Exit(1)
		}
		t = times[len(times)-1]
	}

	entries, err := db.Leaderboard(t)
	if err != nil {
		fmt.Fprintln(os.Stderr, "leaderboard:", err)
		os.Exit(1)
	}
	fmt.Printf("tick %d\n", t)
	for _, e := range entries {
		fmt.Printf("%4d  %-20s %g\n", e.Rank, e.UserID, e.Point)
	}
}

func backupCmd(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	tick := fs.Int64("tick", 0, "backup tick (0: last completed)")
	db, _ := openDB(fs, args)
	defer db.Close()

	t := *tick
	if t == 0 {
		var err error
		if t, err = db.LastCalcTime(); err != nil || t == 0 {
			fmt.Fprintln(os.Stderr, "no completed tick")
			os.Exit(1)
		}
	}

	data, err := db.LoadBackup(t)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load backup:", err)
		os.Exit(1)
	}
	if data == nil {
		fmt.Fprintf(os.Stderr, "no backup for tick %d\n", t)
		os.Exit(1)
	}

	var pretty json.RawMessage = data
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		os.Stdout.Write(data)
		return
	}
	os.Stdout.Write(append(out, '\n'))
}

func lastCmd(args []string) {
	fs := flag.NewFlagSet("last", flag.ExitOnError)
	db, _ := openDB(fs, args)
	defer db.Close()

	t, err := db.LastCalcTime()
	if err != nil {
		fmt.Fprintln(os.Stderr, "last calc time:", err)
		os.Exit(1)
	}
	fmt.Println(t)
}
