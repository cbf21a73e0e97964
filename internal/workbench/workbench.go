// Package workbench wires the dataset engine, snapshot store, timeline
// engine, and persistence bridge into one unit behind the CLI.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nitro41992/cleanslate/internal/dataset"
	"github.com/nitro41992/cleanslate/internal/snapshot"
	"github.com/nitro41992/cleanslate/internal/state"
	"github.com/nitro41992/cleanslate/internal/timeline"
	"github.com/nitro41992/cleanslate/pkg/core"
)

// Config holds workbench configuration.
type Config struct {
	// DatabasePath is the DuckDB database holding live tables. Empty means
	// in-memory (useful for tests; snapshots still persist).
	DatabasePath string

	// StatePath is the SQLite database holding timeline metadata and the
	// audit log.
	StatePath string

	// SnapshotDir is where Parquet snapshots are materialized.
	SnapshotDir string

	// CheckpointInterval is K, the periodic snapshot cadence.
	CheckpointInterval int

	// Debounce is the persistence debounce window.
	Debounce time.Duration

	// Progress reports replay steps. Optional.
	Progress timeline.ProgressFunc

	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Workbench owns the engines and stores for one cleanslate project.
type Workbench struct {
	dataset  *dataset.Engine
	store    *state.SQLiteStore
	bridge   *state.Bridge
	snaps    *snapshot.ParquetStore
	timeline *timeline.Engine
	logger   *slog.Logger
}

// Open builds the workbench: DuckDB for live tables, Parquet snapshots,
// SQLite state, and the timeline engine on top. Persisted timelines are
// restored and pruned before Open returns.
func Open(ctx context.Context, cfg Config) (*Workbench, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	for _, dir := range []string{filepath.Dir(cfg.StatePath), cfg.SnapshotDir} {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	ds, err := dataset.New(cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	snaps, err := snapshot.NewParquetStore(ds.DB(), cfg.SnapshotDir, logger)
	if err != nil {
		_ = ds.Close()
		return nil, err
	}

	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		_ = ds.Close()
		return nil, fmt.Errorf("failed to migrate state store: %w", err)
	}

	bridge := state.NewBridge(store, cfg.Debounce, logger)

	engine := timeline.NewEngine(ds, snaps, timeline.Options{
		CheckpointInterval: cfg.CheckpointInterval,
		Saver:              bridge,
		Progress:           cfg.Progress,
		Logger:             logger,
	})

	restored, err := bridge.RestoreAll(ctx, engine, snaps, ds.TableExists)
	if err != nil {
		_ = store.Close()
		_ = ds.Close()
		return nil, fmt.Errorf("failed to restore timelines: %w", err)
	}
	if restored > 0 {
		logger.Info("timelines restored", "count", restored)
	}

	return &Workbench{
		dataset:  ds,
		store:    store,
		bridge:   bridge,
		snaps:    snaps,
		timeline: engine,
		logger:   logger,
	}, nil
}

// Close flushes pending saves and releases the databases.
func (w *Workbench) Close() error {
	var errs []error
	if err := w.bridge.Flush(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := w.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := w.dataset.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ImportCSV loads a CSV file as a new table and starts its timeline with
// an immediate baseline snapshot. A failed baseline is non-fatal; it is
// retried on the first edit.
func (w *Workbench) ImportCSV(ctx context.Context, table core.TableID, path string) (core.TableState, error) {
	if !dataset.ValidTableName(string(table)) {
		return core.TableState{}, fmt.Errorf("invalid table name %q", table)
	}
	exists, err := w.dataset.TableExists(ctx, table)
	if err != nil {
		return core.TableState{}, err
	}
	if exists {
		return core.TableState{}, fmt.Errorf("table %s already exists", table)
	}

	if err := w.dataset.LoadCSV(ctx, table, path); err != nil {
		return core.TableState{}, err
	}

	if err := w.timeline.Initialize(ctx, table); err != nil {
		var snapErr *core.SnapshotFailure
		if !errors.As(err, &snapErr) {
			return core.TableState{}, err
		}
		w.logger.Warn("baseline snapshot deferred", "table", table, "error", err)
	}

	return w.dataset.CurrentState(ctx, table)
}

// Apply executes a command through the timeline and records the audit
// entry. The audit entry is written here, at original append time, so
// replays never duplicate it.
func (w *Workbench) Apply(ctx context.Context, table core.TableID, cmd core.Command) (core.ApplyResult, error) {
	result, err := w.timeline.Append(ctx, table, cmd)
	if err != nil {
		return core.ApplyResult{}, err
	}

	entry := core.AuditEntry{
		Table:        table,
		CommandID:    cmd.ID,
		Kind:         cmd.Kind,
		Label:        cmd.Label,
		RowsAffected: result.RowsAffected,
	}
	if err := w.store.RecordAudit(ctx, entry); err != nil {
		w.logger.Warn("failed to record audit entry", "table", table, "error", err)
	}

	return result, nil
}

// Undo steps the table back one command. Nil state means nothing to undo.
func (w *Workbench) Undo(ctx context.Context, table core.TableID) (*core.TableState, error) {
	return w.timeline.Undo(ctx, table)
}

// Redo steps the table forward one command. Nil state means no redo tail.
func (w *Workbench) Redo(ctx context.Context, table core.TableID) (*core.TableState, error) {
	return w.timeline.Redo(ctx, table)
}

// Jump moves the table to an arbitrary position on its timeline.
func (w *Workbench) Jump(ctx context.Context, table core.TableID, position int) (core.TableState, error) {
	return w.timeline.ReplayToPosition(ctx, table, position)
}

// Checkpoint materializes an explicit snapshot at the current position.
func (w *Workbench) Checkpoint(ctx context.Context, table core.TableID) error {
	return w.timeline.Checkpoint(ctx, table)
}

// Drop deletes the table, its timeline, and every snapshot it owns.
func (w *Workbench) Drop(ctx context.Context, table core.TableID) error {
	if err := w.timeline.Remove(ctx, table); err != nil && !errors.Is(err, core.ErrUnknownTable) {
		return err
	}
	return w.dataset.DropTable(ctx, table)
}

// Status returns the timeline projection for one table.
func (w *Workbench) Status(table core.TableID) (core.TimelineStatus, error) {
	return w.timeline.Status(table)
}

// History returns the table's command log in causal order.
func (w *Workbench) History(table core.TableID) ([]core.Command, error) {
	return w.timeline.Commands(table)
}

// Audit returns the most recent audit entries for a table, newest first.
func (w *Workbench) Audit(ctx context.Context, table core.TableID, limit int) ([]state.AuditRecord, error) {
	return w.store.ListAudit(ctx, table, limit)
}

// TableInfo describes one live table for listings.
type TableInfo struct {
	Table    core.TableID
	State    core.TableState
	Timeline *core.TimelineStatus
}

// Tables lists the live tables with their state and timeline status.
func (w *Workbench) Tables(ctx context.Context) ([]TableInfo, error) {
	names, err := w.dataset.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]TableInfo, 0, len(names))
	for _, name := range names {
		st, err := w.dataset.CurrentState(ctx, name)
		if err != nil {
			return nil, err
		}
		info := TableInfo{Table: name, State: st}
		if status, err := w.timeline.Status(name); err == nil {
			info.Timeline = &status
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// State returns the current row count and schema of a table.
func (w *Workbench) State(ctx context.Context, table core.TableID) (core.TableState, error) {
	return w.dataset.CurrentState(ctx, table)
}
