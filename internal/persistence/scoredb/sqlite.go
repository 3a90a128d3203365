// Package scoredb persists scoring-engine state across restarts: the last
// completed tick, compressed per-tick score backups, and the periodic
// leaderboard snapshots.
package scoredb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"gridhold.gg/internal/protocol"
)

type DB struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db, enc: enc, dec: dec}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for the append-style tick workload.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS meta (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS backups (
  tick INTEGER PRIMARY KEY,
  data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS leaderboards (
  tick    INTEGER NOT NULL,
  user_id TEXT    NOT NULL,
  point   REAL    NOT NULL,
  rank    INTEGER NOT NULL,
  PRIMARY KEY (tick, user_id)
);
CREATE TABLE IF NOT EXISTS leaderboard_times (
  tick INTEGER PRIMARY KEY
);
`
	_, err := db.Exec(schema)
	return err
}

func (d *DB) Close() error {
	d.enc.Close()
	d.dec.Close()
	return d.db.Close()
}

// Reset wipes all persisted scoring state for a fresh game.
func (d *DB) Reset() error {
	_, err := d.db.Exec(`
DELETE FROM meta;
DELETE FROM backups;
DELETE FROM leaderboards;
DELETE FROM leaderboard_times;
`)
	return err
}

// LastCalcTime is the last completed scoring tick, 0 when none has run.
func (d *DB) LastCalcTime() (int64, error) {
	var v int64
	err := d.db.QueryRow(`SELECT value FROM meta WHERE key = 'last_calc_time'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

func (d *DB) SetLastCalcTime(t int64) error {
	_, err := d.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('last_calc_time', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, t)
	return err
}

// SaveBackup stores the serialized per-user scoring state for a tick,
// zstd-compressed.
func (d *DB) SaveBackup(tick int64, data []byte) error {
	blob := d.enc.EncodeAll(data, nil)
	_, err := d.db.Exec(
		`INSERT INTO backups (tick, data) VALUES (?, ?)
		 ON CONFLICT(tick) DO UPDATE SET data = excluded.data`, tick, blob)
	return err
}

// LoadBackup returns the decompressed backup for a tick, or nil when absent.
func (d *DB) LoadBackup(tick int64) ([]byte, error) {
	var blob []byte
	err := d.db.QueryRow(`SELECT data FROM backups WHERE tick = ?`, tick).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.dec.DecodeAll(blob, nil)
}

// SaveLeaderboard stores a full ranking snapshot for a tick.
func (d *DB) SaveLeaderboard(tick int64, entries []protocol.RankingEntry) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		if _, err := tx.Exec(
			`INSERT INTO leaderboards (tick, user_id, point, rank) VALUES (?, ?, ?, ?)
			 ON CONFLICT(tick, user_id) DO UPDATE SET point = excluded.point, rank = excluded.rank`,
			tick, e.UserID, e.Point, e.Rank); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO leaderboard_times (tick) VALUES (?) ON CONFLICT(tick) DO NOTHING`, tick); err != nil {
		return err
	}
	return tx.Commit()
}

// LeaderboardTimes lists the ticks with stored snapshots, ascending.
func (d *DB) LeaderboardTimes() ([]int64, error) {
	rows, err := d.db.Query(`SELECT tick FROM leaderboard_times ORDER BY tick`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Leaderboard returns the snapshot stored for a tick, best first.
func (d *DB) Leaderboard(tick int64) ([]protocol.RankingEntry, error) {
	rows, err := d.db.Query(
		`SELECT user_id, point, rank FROM leaderboards WHERE tick = ? ORDER BY rank, user_id`, tick)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.RankingEntry
	for rows.Next() {
		var e protocol.RankingEntry
		if err := rows.Scan(&e.UserID, &e.Point, &e.Rank); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
