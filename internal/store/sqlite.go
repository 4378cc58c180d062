package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clawinfra/rapport/internal/queue"
)

// schemaVersion is bumped whenever the queue_items layout changes.
const schemaVersion = 1

// SQLite keeps every queue in one database file, one row per item.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database at path in WAL mode and
// migrates it to the current schema.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("sqlite: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of the engine's read-modify-write.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: wal mode: %w", err)
	}

	s := &SQLite{db: db, logger: logger.With("component", "store", "backend", "sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

// migrate creates tables on first run and refuses databases written by a
// newer schema.
func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queue_items (
			queue       TEXT    NOT NULL,
			position    INTEGER NOT NULL,
			id          TEXT    NOT NULL,
			kind        TEXT    NOT NULL,
			payload     TEXT    NOT NULL,
			enqueued_at TEXT    NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (queue, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_items_id ON queue_items(queue, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion)
		return err
	case err != nil:
		return err
	case version > schemaVersion:
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, schemaVersion)
	}
	return nil
}

// Queue returns the store for one queue kind.
func (s *SQLite) Queue(kind queue.Kind) queue.Store {
	return &sqliteQueue{s: s, name: string(kind)}
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqliteQueue struct {
	s    *SQLite
	name string
}

// Read returns the queue's rows in position order. A row that does not
// decode makes the whole queue read as empty.
func (q *sqliteQueue) Read(ctx context.Context) ([]queue.Item, error) {
	rows, err := q.s.db.QueryContext(ctx,
		`SELECT id, kind, payload, enqueued_at, retry_count
		   FROM queue_items WHERE queue = ? ORDER BY position`, q.name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read %s: %w", q.name, err)
	}
	defer rows.Close()

	var items []queue.Item
	for rows.Next() {
		var (
			it         queue.Item
			kind       string
			payload    string
			enqueuedAt string
		)
		if err := rows.Scan(&it.ID, &kind, &payload, &enqueuedAt, &it.RetryCount); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", q.name, err)
		}
		t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
		if err != nil || !json.Valid([]byte(payload)) {
			q.s.logger.Warn("discarding corrupt queue rows", "queue", q.name, "id", it.ID)
			return nil, nil
		}
		it.Kind = queue.Kind(kind)
		it.Payload = json.RawMessage(payload)
		it.EnqueuedAt = t
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read %s: %w", q.name, err)
	}
	return items, nil
}

// Write replaces the queue's rows in one transaction.
func (q *sqliteQueue) Write(ctx context.Context, items []queue.Item) error {
	tx, err := q.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE queue = ?`, q.name); err != nil {
		return fmt.Errorf("sqlite: clear %s: %w", q.name, err)
	}

	if len(items) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO queue_items (queue, position, id, kind, payload, enqueued_at, retry_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("sqlite: prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, it := range items {
			if _, err := stmt.ExecContext(ctx, q.name, i, it.ID, string(it.Kind),
				string(it.Payload), it.EnqueuedAt.UTC().Format(time.RFC3339Nano), it.RetryCount); err != nil {
				return fmt.Errorf("sqlite: insert %s: %w", it.ID, err)
			}
		}
	}

	return tx.Commit()
}
