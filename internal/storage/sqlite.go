// Package storage persists refresh snapshots in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"tmusync/migrations"
)

const timeLayout = time.RFC3339Nano

// ErrNoSnapshot is returned when nothing has been stored yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Snapshot is one stored refresh.
type Snapshot struct {
	ID          int64
	TakenAt     time.Time
	Assignments int
	Classes     int
	Sessions    int
	Failures    []FeedFailure

	// Payload is the JSON encoding of the refresh result.
	Payload []byte
}

// FeedFailure mirrors one per-feed failure of a snapshot.
type FeedFailure struct {
	FeedID string
	Stage  string
	Error  string
}

// SQLite stores snapshots in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveSnapshot inserts snap and populates its ID.
func (s *SQLite) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (taken_at, assignments, classes, sessions, failures, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.TakenAt.UTC().Format(timeLayout), snap.Assignments, snap.Classes, snap.Sessions,
		len(snap.Failures), string(snap.Payload),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for _, f := range snap.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO feed_failures (snapshot_id, feed_id, stage, error) VALUES (?, ?, ?, ?)`,
			id, f.FeedID, f.Stage, f.Error,
		); err != nil {
			return fmt.Errorf("insert feed failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	snap.ID = id
	return nil
}

// Latest returns the most recent snapshot, or ErrNoSnapshot.
func (s *SQLite) Latest(ctx context.Context) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, taken_at, assignments, classes, sessions, payload
		 FROM snapshots ORDER BY id DESC LIMIT 1`,
	)
	var snap Snapshot
	var takenAt, payload string
	err := row.Scan(&snap.ID, &takenAt, &snap.Assignments, &snap.Classes, &snap.Sessions, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.TakenAt, _ = time.Parse(timeLayout, takenAt)
	snap.Payload = []byte(payload)

	rows, err := s.db.QueryContext(ctx,
		`SELECT feed_id, stage, error FROM feed_failures WHERE snapshot_id = ? ORDER BY feed_id, stage`,
		snap.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query feed failures: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var f FeedFailure
		if err := rows.Scan(&f.FeedID, &f.Stage, &f.Error); err != nil {
			return nil, fmt.Errorf("scan feed failure: %w", err)
		}
		snap.Failures = append(snap.Failures, f)
	}
	return &snap, rows.Err()
}

// Prune keeps the newest keep snapshots and deletes the rest.
func (s *SQLite) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
