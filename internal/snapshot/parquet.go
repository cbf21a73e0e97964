// Package snapshot provides durable full-table materializations keyed by
// timeline position. The store knows nothing about commands; it only
// captures and restores table state.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// ParquetStore materializes tables as Parquet files in a local directory,
// using the same DuckDB connection that holds the live tables.
type ParquetStore struct {
	db     *sql.DB
	dir    string
	logger *slog.Logger
}

// NewParquetStore creates the store, making dir if needed.
func NewParquetStore(db *sql.DB, dir string, logger *slog.Logger) (*ParquetStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &ParquetStore{db: db, dir: dir, logger: logger}, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// Materialize writes the table to a fresh Parquet file. The COPY goes to a
// temp name first and is renamed into place, so a crash mid-write leaves
// no ref that Validate would accept.
func (s *ParquetStore) Materialize(ctx context.Context, table core.TableID, position int) (core.SnapshotRef, error) {
	key := fmt.Sprintf("%s.pos%d.%s.parquet", table, position, uuid.New().String()[:8])
	finalPath := filepath.Join(s.dir, key)
	tmpPath := finalPath + ".tmp"

	stmt := fmt.Sprintf("COPY (SELECT * FROM %s) TO %s (FORMAT PARQUET)",
		quoteIdent(string(table)), quoteString(tmpPath))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		_ = os.Remove(tmpPath)
		return core.SnapshotRef{}, &core.SnapshotFailure{Table: table, Position: position,
			Err: fmt.Errorf("copy to parquet: %w", err)}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return core.SnapshotRef{}, &core.SnapshotFailure{Table: table, Position: position,
			Err: fmt.Errorf("rename snapshot: %w", err)}
	}

	ref := core.SnapshotRef{Table: table, Position: position, Key: key}
	s.logger.Debug("snapshot materialized", "ref", ref.String())
	return ref, nil
}

// Restore overwrites the live table, schema and data, from the snapshot.
func (s *ParquetStore) Restore(ctx context.Context, ref core.SnapshotRef) error {
	path := filepath.Join(s.dir, ref.Key)
	stmt := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM read_parquet(%s)",
		quoteIdent(string(ref.Table)), quoteString(path))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return &core.SnapshotFailure{Table: ref.Table, Position: ref.Position,
			Err: fmt.Errorf("restore from parquet: %w", err)}
	}

	s.logger.Debug("snapshot restored", "ref", ref.String())
	return nil
}

// Release deletes the snapshot file. Releasing a missing ref is a no-op.
func (s *ParquetStore) Release(_ context.Context, ref core.SnapshotRef) error {
	err := os.Remove(filepath.Join(s.dir, ref.Key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to release snapshot %s: %w", ref.Key, err)
	}
	return nil
}

// Validate reports whether the ref resolves to a readable Parquet file.
// A truncated file left by a crash fails the DESCRIBE.
func (s *ParquetStore) Validate(ctx context.Context, ref core.SnapshotRef) bool {
	path := filepath.Join(s.dir, ref.Key)
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}

	stmt := fmt.Sprintf("DESCRIBE SELECT * FROM read_parquet(%s)", quoteString(path))
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return false
	}
	_ = rows.Close()
	return rows.Err() == nil
}

var _ core.SnapshotStore = (*ParquetStore)(nil)
