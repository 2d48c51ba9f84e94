package main

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// historyDB records past export cycles and their artifacts in a local
// SQLite database inside the config directory.
type historyDB struct {
	db *sql.DB
}

type cycleRecord struct {
	ID         string
	Daemon     string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Exported   int
	Failed     int
	Deleted    int
}

type artifactRecord struct {
	CycleID   string
	Snapshot  string
	Field     string
	Path      string
	Bytes     int64
	Min       float64
	Max       float64
	Mean      float64
	CreatedAt time.Time
}

func historyPath(configDir string) string {
	return filepath.Join(configDir, "history.db")
}

func openHistoryDB(configDir string) (*historyDB, error) {
	db, err := sql.Open("sqlite", historyPath(configDir))
	if err != nil {
		return nil, err
	}
	if err := initHistorySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &historyDB{db: db}, nil
}

func initHistorySchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
  id          TEXT PRIMARY KEY,
  daemon      TEXT,
  source      TEXT,
  started_at  TEXT,
  finished_at TEXT,
  exported    INTEGER,
  failed      INTEGER,
  deleted     INTEGER
);`,
		`CREATE TABLE IF NOT EXISTS artifacts (
  cycle_id   TEXT,
  snapshot   TEXT,
  field      TEXT,
  path       TEXT,
  bytes      INTEGER,
  min        REAL,
  max        REAL,
  mean       REAL,
  created_at TEXT
);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (h *historyDB) Close() error {
	return h.db.Close()
}

func (h *historyDB) recordCycle(rec cycleRecord, artifacts []artifactRecord) error {
	_, err := h.db.Exec(
		`INSERT INTO cycles (id, daemon, source, started_at, finished_at, exported, failed, deleted)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Daemon, rec.Source,
		rec.StartedAt.Format(time.RFC3339), rec.FinishedAt.Format(time.RFC3339),
		rec.Exported, rec.Failed, rec.Deleted,
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	for _, a := range artifacts {
		_, err := h.db.Exec(
			`INSERT INTO artifacts (cycle_id, snapshot, field, path, bytes, min, max, mean, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, a.Snapshot, a.Field, a.Path, a.Bytes, a.Min, a.Max, a.Mean,
			a.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
	}
	return nil
}

func (h *historyDB) listCycles(limit int) ([]cycleRecord, error) {
	rows, err := h.db.Query(
		`SELECT id, daemon, source, started_at, finished_at, exported, failed, deleted
         FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []cycleRecord
	for rows.Next() {
		var rec cycleRecord
		var started, finished string
		if err := rows.Scan(&rec.ID, &rec.Daemon, &rec.Source, &started, &finished,
			&rec.Exported, &rec.Failed, &rec.Deleted); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (h *historyDB) listArtifacts(cycleID string) ([]artifactRecord, error) {
	rows, err := h.db.Query(
		`SELECT cycle_id, snapshot, field, path, bytes, min, max, mean, created_at
         FROM artifacts WHERE cycle_id = ? ORDER BY snapshot, field`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []artifactRecord
	for rows.Next() {
		var a artifactRecord
		var created string
		if err := rows.Scan(&a.CycleID, &a.Snapshot, &a.Field, &a.Path, &a.Bytes,
			&a.Min, &a.Max, &a.Mean, &created); err != nil {
			return nil, err
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, created)
		recs = append(recs, a)
	}
	return recs, rows.Err()
}

func printCycles(recs []cycleRecord) {
	fmt.Printf("%-36s %-15s %-10s %-8s %-8s %-20s\n",
		"CYCLE", "DAEMON", "EXPORTED", "FAILED", "DELETED", "FINISHED")
	for _, rec := range recs {
		daemon := rec.Daemon
		if daemon == "" {
			daemon = "(direct)"
		}
		fmt.Printf("%-36s %-15s %-10d %-8d %-8d %-20s\n",
			rec.ID, daemon, rec.Exported, rec.Failed, rec.Deleted,
			humanize.Time(rec.FinishedAt))
	}
}

func printArtifacts(recs []artifactRecord) {
	fmt.Printf("%-10s %-10s %-10s %12s %12s %12s  %s\n",
		"SNAPSHOT", "FIELD", "SIZE", "MIN", "MAX", "MEAN", "PATH")
	for _, a := range recs {
		fmt.Printf("%-10s %-10s %-10s %12.5g %12.5g %12.5g  %s\n",
			a.Snapshot, a.Field, humanize.IBytes(uint64(a.Bytes)),
			a.Min, a.Max, a.Mean, a.Path)
	}
}
