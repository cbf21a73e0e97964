// Package state persists timeline metadata and the audit log in SQLite.
// It stores command parameters, never materialized data; snapshots live in
// the snapshot store and are referenced here by position and key.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/nitro41992/cleanslate/pkg/core"
)

// SQLiteStore is the durable backing for timeline records.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new store instance. Call Open before use.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens the SQLite database. Use ":memory:" for an in-memory store.
func (s *SQLiteStore) Open(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveTimeline replaces the persisted record for one table: the command
// log, the cursor, and the snapshot index.
func (s *SQLiteStore) SaveTimeline(ctx context.Context, rec core.TimelineRecord, refs []core.SnapshotRef) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO timelines (table_id, current_position, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(table_id) DO UPDATE SET current_position = excluded.current_position, updated_at = excluded.updated_at
	`, string(rec.Table), rec.CurrentPosition, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert timeline: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM timeline_commands WHERE table_id = ?`, string(rec.Table)); err != nil {
		return fmt.Errorf("clear commands: %w", err)
	}
	cmdStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO timeline_commands (table_id, position, command_id, kind, label, params, rows_affected)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare command insert: %w", err)
	}
	defer func() { _ = cmdStmt.Close() }()

	for i, cmd := range rec.Commands {
		params, err := json.Marshal(cmd.Params)
		if err != nil {
			return fmt.Errorf("marshal params for command %d: %w", i, err)
		}
		if _, err := cmdStmt.ExecContext(ctx,
			string(rec.Table), i, cmd.ID, string(cmd.Kind), cmd.Label, string(params), cmd.RowsAffected); err != nil {
			return fmt.Errorf("insert command %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM timeline_snapshots WHERE table_id = ?`, string(rec.Table)); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	for _, ref := range refs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO timeline_snapshots (table_id, position, key) VALUES (?, ?, ?)
		`, string(ref.Table), ref.Position, ref.Key); err != nil {
			return fmt.Errorf("insert snapshot ref at %d: %w", ref.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteTimeline removes the persisted record for one table. Commands and
// snapshot refs cascade.
func (s *SQLiteStore) DeleteTimeline(ctx context.Context, table core.TableID) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timelines WHERE table_id = ?`, string(table)); err != nil {
		return fmt.Errorf("delete timeline: %w", err)
	}
	return nil
}

// PersistedTimeline pairs a record with its snapshot refs as loaded from
// the database, before any validation.
type PersistedTimeline struct {
	Record core.TimelineRecord
	Refs   []core.SnapshotRef
}

// LoadTimelines reads every persisted timeline. Command kinds are not
// validated here; the bridge decides what to drop.
func (s *SQLiteStore) LoadTimelines(ctx context.Context) ([]PersistedTimeline, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT table_id, current_position FROM timelines ORDER BY table_id`)
	if err != nil {
		return nil, fmt.Errorf("query timelines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var loaded []PersistedTimeline
	for rows.Next() {
		var tableID string
		var position int
		if err := rows.Scan(&tableID, &position); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		loaded = append(loaded, PersistedTimeline{
			Record: core.TimelineRecord{Table: core.TableID(tableID), CurrentPosition: position},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timelines: %w", err)
	}

	for i := range loaded {
		if err := s.loadCommands(ctx, &loaded[i]); err != nil {
			return nil, err
		}
		if err := s.loadSnapshotRefs(ctx, &loaded[i]); err != nil {
			return nil, err
		}
	}
	return loaded, nil
}

func (s *SQLiteStore) loadCommands(ctx context.Context, pt *PersistedTimeline) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT command_id, kind, label, params, rows_affected
		FROM timeline_commands WHERE table_id = ? ORDER BY position
	`, string(pt.Record.Table))
	if err != nil {
		return fmt.Errorf("query commands for %s: %w", pt.Record.Table, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cmd core.Command
		var kind, params string
		if err := rows.Scan(&cmd.ID, &kind, &cmd.Label, &params, &cmd.RowsAffected); err != nil {
			return fmt.Errorf("scan command for %s: %w", pt.Record.Table, err)
		}
		cmd.Kind = core.CommandKind(kind)
		if params != "" && params != "null" {
			if err := json.Unmarshal([]byte(params), &cmd.Params); err != nil {
				return fmt.Errorf("unmarshal params for %s: %w", pt.Record.Table, err)
			}
		}
		pt.Record.Commands = append(pt.Record.Commands, cmd)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadSnapshotRefs(ctx context.Context, pt *PersistedTimeline) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, key FROM timeline_snapshots WHERE table_id = ? ORDER BY position
	`, string(pt.Record.Table))
	if err != nil {
		return fmt.Errorf("query snapshots for %s: %w", pt.Record.Table, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		ref := core.SnapshotRef{Table: pt.Record.Table}
		if err := rows.Scan(&ref.Position, &ref.Key); err != nil {
			return fmt.Errorf("scan snapshot ref for %s: %w", pt.Record.Table, err)
		}
		pt.Refs = append(pt.Refs, ref)
		pt.Record.SnapshotPositions = append(pt.Record.SnapshotPositions, ref.Position)
	}
	return rows.Err()
}
