package timeline

// engine.go - the façade every other component calls. Serializes mutating
// operations per table and coordinates the snapshot store with the live
// dataset.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// Saver receives timeline metadata after every mutating operation. The
// persistence bridge implements it; saves may be debounced internally.
type Saver interface {
	SaveTimeline(ctx context.Context, rec core.TimelineRecord, refs []core.SnapshotRef) error
	DeleteTimeline(ctx context.Context, table core.TableID) error
}

// ProgressFunc is invoked after each replayed command so callers can show
// replay progress. step counts from 1 to total.
type ProgressFunc func(table core.TableID, step, total int)

// Options configures an Engine.
type Options struct {
	// CheckpointInterval is K: a snapshot is taken every K appended
	// commands. Defaults to DefaultCheckpointInterval when <= 0.
	CheckpointInterval int

	// Saver persists timeline metadata. Optional.
	Saver Saver

	// Progress reports replay steps. Optional.
	Progress ProgressFunc

	Logger *slog.Logger
}

// DefaultCheckpointInterval bounds worst-case replay to a handful of
// commands without snapshotting on every append.
const DefaultCheckpointInterval = 5

// Engine owns all timelines, keyed by table. At most one mutating
// operation is in flight per table; operations on different tables proceed
// independently.
type Engine struct {
	mu        sync.Mutex
	timelines map[core.TableID]*Timeline

	dataset  core.DatasetEngine
	store    core.SnapshotStore
	saver    Saver
	progress ProgressFunc
	interval int
	logger   *slog.Logger
}

// NewEngine creates the timeline engine over a dataset engine and a
// snapshot store.
func NewEngine(dataset core.DatasetEngine, store core.SnapshotStore, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	interval := opts.CheckpointInterval
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}

	return &Engine{
		timelines: make(map[core.TableID]*Timeline),
		dataset:   dataset,
		store:     store,
		saver:     opts.Saver,
		progress:  opts.Progress,
		interval:  interval,
		logger:    logger,
	}
}

// Initialize creates a new timeline for table with an empty log, cursor at
// -1, and a baseline snapshot captured immediately so the very first undo
// is instant. A baseline SnapshotFailure is returned but leaves the
// timeline registered: the baseline is captured lazily on first append.
func (e *Engine) Initialize(ctx context.Context, table core.TableID) error {
	e.mu.Lock()
	if _, exists := e.timelines[table]; exists {
		e.mu.Unlock()
		return fmt.Errorf("timeline for %s already exists", table)
	}
	tl := newTimeline(table)
	tl.busy = true
	e.timelines[table] = tl
	e.mu.Unlock()

	ref, err := e.store.Materialize(ctx, table, -1)

	e.mu.Lock()
	if err == nil {
		tl.snapshots[-1] = ref
	}
	tl.busy = false
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("baseline snapshot failed, will retry on first edit",
			"table", table, "error", err)
		return err
	}

	e.save(ctx, tl)
	e.logger.Info("timeline initialized", "table", table)
	return nil
}

// Append applies the command to the live dataset and records it at the
// head of the log. If the cursor sits before the end of the log the redo
// tail is discarded first; callers are expected to have confirmed that
// with the user. Returns the rows affected and the table's new state.
func (e *Engine) Append(ctx context.Context, table core.TableID, cmd core.Command) (core.ApplyResult, error) {
	tl, err := e.acquire(table)
	if err != nil {
		return core.ApplyResult{}, err
	}
	defer e.release(tl)

	// Baseline may be missing if the snapshot store failed during
	// Initialize. Retry before the table diverges from its import state;
	// past this point the original data is unrecoverable.
	e.mu.Lock()
	_, haveBaseline := tl.snapshots[-1]
	empty := len(tl.commands) == 0
	e.mu.Unlock()
	if !haveBaseline && empty {
		if ref, snapErr := e.store.Materialize(ctx, table, -1); snapErr == nil {
			e.mu.Lock()
			tl.snapshots[-1] = ref
			e.mu.Unlock()
		} else {
			e.logger.Warn("baseline snapshot still unavailable", "table", table, "error", snapErr)
		}
	}

	result, err := e.dataset.ExecuteCommand(ctx, table, cmd)
	if err != nil {
		// Not recorded; the dataset engine guarantees the table is
		// unchanged on failure.
		return core.ApplyResult{}, err
	}
	cmd.RowsAffected = result.RowsAffected

	e.mu.Lock()
	orphaned := tl.truncate()
	tl.commands = append(tl.commands, cmd)
	tl.current = len(tl.commands) - 1
	position := tl.current
	e.mu.Unlock()

	for _, ref := range orphaned {
		if relErr := e.store.Release(ctx, ref); relErr != nil {
			e.logger.Warn("failed to release orphaned snapshot", "ref", ref.String(), "error", relErr)
		}
	}

	if (position+1)%e.interval == 0 {
		e.periodicCheckpoint(ctx, tl, position)
	}

	e.save(ctx, tl)
	return result, nil
}

// Undo steps the cursor back one command. Returns nil state (and nil
// error) when there is nothing to undo.
func (e *Engine) Undo(ctx context.Context, table core.TableID) (*core.TableState, error) {
	return e.stepReplay(ctx, table, -1)
}

// Redo steps the cursor forward one command. Returns nil state (and nil
// error) when there is no redo tail.
func (e *Engine) Redo(ctx context.Context, table core.TableID) (*core.TableState, error) {
	return e.stepReplay(ctx, table, +1)
}

// stepReplay computes the undo/redo target and claims the busy flag in a
// single critical section, so two concurrent steps cannot both read the
// cursor and then replay to the same target.
func (e *Engine) stepReplay(ctx context.Context, table core.TableID, delta int) (*core.TableState, error) {
	e.mu.Lock()
	tl, exists := e.timelines[table]
	if !exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownTable, table)
	}
	if tl.busy {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", core.ErrReplayInProgress, table)
	}
	target := tl.current + delta
	if !tl.validPosition(target) {
		e.mu.Unlock()
		return nil, nil
	}
	tl.busy = true
	e.mu.Unlock()

	state, err := e.replay(ctx, tl, target)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ReplayToPosition moves the table to the state it had at target: restore
// the nearest checkpoint at or before target, then re-apply the commands
// between them. Audit entries and confirmation prompts belong to the
// original append and are not re-triggered here.
func (e *Engine) ReplayToPosition(ctx context.Context, table core.TableID, target int) (core.TableState, error) {
	e.mu.Lock()
	tl, exists := e.timelines[table]
	if !exists {
		e.mu.Unlock()
		return core.TableState{}, fmt.Errorf("%w: %s", core.ErrUnknownTable, table)
	}
	if tl.busy {
		e.mu.Unlock()
		return core.TableState{}, fmt.Errorf("%w: %s", core.ErrReplayInProgress, table)
	}
	if !tl.validPosition(target) {
		e.mu.Unlock()
		return core.TableState{}, fmt.Errorf("%w: %d not in [-1, %d]",
			core.ErrInvalidPosition, target, len(tl.commands)-1)
	}
	tl.busy = true
	e.mu.Unlock()

	return e.replay(ctx, tl, target)
}

// replay does the restore-then-reapply work. The caller has already set
// the timeline's busy flag; replay clears it on return.
func (e *Engine) replay(ctx context.Context, tl *Timeline, target int) (core.TableState, error) {
	defer e.release(tl)
	table := tl.table

	e.mu.Lock()
	snap, ok := tl.nearestSnapshot(target)
	if !ok {
		e.mu.Unlock()
		return core.TableState{}, &core.SnapshotFailure{Table: table, Position: target,
			Err: fmt.Errorf("no checkpoint at or before position %d", target)}
	}
	replay := make([]core.Command, target-snap.Position)
	copy(replay, tl.commands[snap.Position+1:target+1])
	e.mu.Unlock()

	e.logger.Debug("replaying", "table", table, "target", target,
		"from_snapshot", snap.Position, "commands", len(replay))

	if err := e.store.Restore(ctx, snap); err != nil {
		return core.TableState{}, err
	}

	var state core.TableState
	for i, cmd := range replay {
		position := snap.Position + 1 + i
		result, err := e.dataset.ExecuteCommand(ctx, table, cmd)
		if err != nil {
			// Dataset stays at the last successfully applied position and
			// the cursor follows it; the timeline itself is intact.
			lastGood := position - 1
			e.mu.Lock()
			tl.current = lastGood
			e.mu.Unlock()
			e.save(ctx, tl)
			return core.TableState{}, &core.ReplayFailure{
				Table: table, LastGood: lastGood, Failed: position, Err: err,
			}
		}
		state = result.State
		if e.progress != nil {
			e.progress(table, i+1, len(replay))
		}
	}

	if len(replay) == 0 {
		var err error
		state, err = e.dataset.CurrentState(ctx, table)
		if err != nil {
			return core.TableState{}, err
		}
	}

	e.mu.Lock()
	tl.current = target
	e.mu.Unlock()
	e.save(ctx, tl)

	return state, nil
}

// Checkpoint materializes an explicit snapshot at the current position.
// A no-op if that position is already checkpointed.
func (e *Engine) Checkpoint(ctx context.Context, table core.TableID) error {
	tl, err := e.acquire(table)
	if err != nil {
		return err
	}
	defer e.release(tl)

	e.mu.Lock()
	position := tl.current
	_, exists := tl.snapshots[position]
	e.mu.Unlock()
	if exists {
		return nil
	}

	ref, err := e.store.Materialize(ctx, table, position)
	if err != nil {
		return err
	}

	e.mu.Lock()
	tl.snapshots[position] = ref
	e.mu.Unlock()
	e.save(ctx, tl)
	return nil
}

// Remove destroys the table's timeline, releasing every snapshot it owns.
// Called when the owning table is deleted.
func (e *Engine) Remove(ctx context.Context, table core.TableID) error {
	e.mu.Lock()
	tl, exists := e.timelines[table]
	if !exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrUnknownTable, table)
	}
	if tl.busy {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrReplayInProgress, table)
	}
	refs := tl.refs()
	delete(e.timelines, table)
	e.mu.Unlock()

	for _, ref := range refs {
		if err := e.store.Release(ctx, ref); err != nil {
			e.logger.Warn("failed to release snapshot", "ref", ref.String(), "error", err)
		}
	}

	if e.saver != nil {
		if err := e.saver.DeleteTimeline(ctx, table); err != nil {
			e.logger.Warn("failed to delete persisted timeline", "table", table, "error", err)
		}
	}

	e.logger.Info("timeline removed", "table", table)
	return nil
}

// Status returns the read-only projection for one table.
func (e *Engine) Status(table core.TableID) (core.TimelineStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl, exists := e.timelines[table]
	if !exists {
		return core.TimelineStatus{}, fmt.Errorf("%w: %s", core.ErrUnknownTable, table)
	}
	return tl.status(), nil
}

// Record returns the persistable form of one timeline.
func (e *Engine) Record(table core.TableID) (core.TimelineRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl, exists := e.timelines[table]
	if !exists {
		return core.TimelineRecord{}, fmt.Errorf("%w: %s", core.ErrUnknownTable, table)
	}
	return tl.record(), nil
}

// Commands returns a copy of the command log for history display.
func (e *Engine) Commands(table core.TableID) ([]core.Command, error) {
	rec, err := e.Record(table)
	if err != nil {
		return nil, err
	}
	return rec.Commands, nil
}

// Tables returns the tables that currently have a timeline.
func (e *Engine) Tables() []core.TableID {
	e.mu.Lock()
	defer e.mu.Unlock()
	tables := make([]core.TableID, 0, len(e.timelines))
	for table := range e.timelines {
		tables = append(tables, table)
	}
	return tables
}

// Restore re-registers a timeline from its persisted record and the
// validated snapshot refs. Used by the persistence bridge at startup; the
// bridge has already dropped records with unknown kinds or a missing
// baseline.
func (e *Engine) Restore(rec core.TimelineRecord, refs []core.SnapshotRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.timelines[rec.Table]; exists {
		return fmt.Errorf("timeline for %s already exists", rec.Table)
	}

	tl := newTimeline(rec.Table)
	tl.commands = make([]core.Command, len(rec.Commands))
	copy(tl.commands, rec.Commands)
	tl.current = rec.CurrentPosition
	for _, ref := range refs {
		tl.snapshots[ref.Position] = ref
	}
	e.timelines[rec.Table] = tl
	return nil
}

// acquire marks the table's timeline busy, rejecting concurrent mutators.
func (e *Engine) acquire(table core.TableID) (*Timeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl, exists := e.timelines[table]
	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownTable, table)
	}
	if tl.busy {
		return nil, fmt.Errorf("%w: %s", core.ErrReplayInProgress, table)
	}
	tl.busy = true
	return tl, nil
}

func (e *Engine) release(tl *Timeline) {
	e.mu.Lock()
	tl.busy = false
	e.mu.Unlock()
}

// periodicCheckpoint takes a snapshot at position. Failures are recovered
// locally: skip this checkpoint, retry at the next boundary.
func (e *Engine) periodicCheckpoint(ctx context.Context, tl *Timeline, position int) {
	ref, err := e.store.Materialize(ctx, tl.table, position)
	if err != nil {
		e.logger.Warn("periodic checkpoint failed, skipping",
			"table", tl.table, "position", position, "error", err)
		return
	}
	e.mu.Lock()
	tl.snapshots[position] = ref
	e.mu.Unlock()
}

// save hands the timeline's record to the persistence bridge.
func (e *Engine) save(ctx context.Context, tl *Timeline) {
	if e.saver == nil {
		return
	}
	e.mu.Lock()
	rec := tl.record()
	refs := tl.refs()
	e.mu.Unlock()

	if err := e.saver.SaveTimeline(ctx, rec, refs); err != nil {
		e.logger.Warn("failed to persist timeline", "table", rec.Table, "error", err)
	}
}
