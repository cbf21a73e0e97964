package state

// bridge.go - the persistence bridge between the timeline engine and the
// SQLite store: debounced saves on mutation, restore and pruning at
// startup.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// DefaultDebounce batches the bursts of saves produced by scripted command
// sequences without risking much history on a crash.
const DefaultDebounce = 500 * time.Millisecond

// TimelineStore is the persistence surface the bridge writes through.
// Satisfied by *SQLiteStore.
type TimelineStore interface {
	SaveTimeline(ctx context.Context, rec core.TimelineRecord, refs []core.SnapshotRef) error
	DeleteTimeline(ctx context.Context, table core.TableID) error
	LoadTimelines(ctx context.Context) ([]PersistedTimeline, error)
}

// Bridge debounces timeline saves into the SQLite store. It implements
// timeline.Saver.
type Bridge struct {
	store    TimelineStore
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[core.TableID]pendingSave
	timer   *time.Timer
}

type pendingSave struct {
	rec  core.TimelineRecord
	refs []core.SnapshotRef
}

// NewBridge creates a bridge over the store. debounce <= 0 selects
// DefaultDebounce.
func NewBridge(store TimelineStore, debounce time.Duration, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Bridge{
		store:    store,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[core.TableID]pendingSave),
	}
}

// SaveTimeline queues the record; the latest record per table wins when
// the debounce window closes.
func (b *Bridge) SaveTimeline(_ context.Context, rec core.TimelineRecord, refs []core.SnapshotRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[rec.Table] = pendingSave{rec: rec, refs: refs}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.debounce, b.flushTimer)
	} else {
		b.timer.Reset(b.debounce)
	}
	return nil
}

// DeleteTimeline drops the table's record immediately; deletions are not
// debounced because the snapshots they reference are already released.
func (b *Bridge) DeleteTimeline(ctx context.Context, table core.TableID) error {
	b.mu.Lock()
	delete(b.pending, table)
	b.mu.Unlock()
	return b.store.DeleteTimeline(ctx, table)
}

func (b *Bridge) flushTimer() {
	if err := b.Flush(context.Background()); err != nil {
		b.logger.Warn("debounced save failed", "error", err)
	}
}

// Flush writes every pending record now. Call before closing the store.
// When a save fails the unsaved entries go back on the pending queue,
// unless a newer record for the same table arrived meanwhile, and the
// timer is re-armed so they are retried.
func (b *Bridge) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = make(map[core.TableID]pendingSave)
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	var failed error
	for table, p := range batch {
		if err := b.store.SaveTimeline(ctx, p.rec, p.refs); err != nil {
			b.logger.Warn("failed to persist timeline", "table", table, "error", err)
			failed = err
			break
		}
		delete(batch, table)
	}
	if failed == nil {
		return nil
	}

	b.mu.Lock()
	for table, p := range batch {
		if _, newer := b.pending[table]; !newer {
			b.pending[table] = p
		}
	}
	if len(b.pending) > 0 && b.timer == nil {
		b.timer = time.AfterFunc(b.debounce, b.flushTimer)
	}
	b.mu.Unlock()
	return failed
}

// Registrar re-registers a restored timeline in the engine. Implemented by
// timeline.Engine; declared here to keep the dependency pointing at core.
type Registrar interface {
	Restore(rec core.TimelineRecord, refs []core.SnapshotRef) error
}

// RestoreAll loads every persisted timeline and re-registers the usable
// ones with the engine:
//
//   - timelines whose table no longer exists are pruned silently;
//   - timelines with an unknown command kind are dropped with a warning,
//     never failing the whole restore;
//   - snapshot refs are validated (in parallel) against the store; refs
//     that fail validation are discarded and released;
//   - a timeline whose baseline snapshot (position -1) does not validate is
//     unrecoverable and dropped with a warning.
//
// Returns the number of timelines restored.
func (b *Bridge) RestoreAll(
	ctx context.Context,
	engine Registrar,
	snapshots core.SnapshotStore,
	tableExists func(ctx context.Context, table core.TableID) (bool, error),
) (int, error) {
	loaded, err := b.store.LoadTimelines(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, pt := range loaded {
		table := pt.Record.Table

		exists, err := tableExists(ctx, table)
		if err != nil {
			return restored, err
		}
		if !exists {
			b.logger.Debug("pruning timeline for missing table", "table", table)
			b.dropTimeline(ctx, pt, snapshots, false)
			continue
		}

		if kind, ok := unknownKind(pt.Record.Commands); !ok {
			b.logger.Warn("dropping timeline with unknown command kind",
				"table", table, "kind", kind)
			b.dropTimeline(ctx, pt, snapshots, true)
			continue
		}

		valid := b.validateRefs(ctx, snapshots, pt.Refs)

		if !hasBaseline(valid) {
			b.logger.Warn("dropping timeline with invalid baseline snapshot", "table", table)
			b.dropTimeline(ctx, pt, snapshots, true)
			continue
		}

		if err := engine.Restore(pt.Record, valid); err != nil {
			b.logger.Warn("failed to restore timeline", "table", table, "error", err)
			continue
		}
		restored++
	}

	return restored, nil
}

// validateRefs checks refs against the snapshot store in parallel and
// releases the ones that fail, returning the survivors.
func (b *Bridge) validateRefs(ctx context.Context, snapshots core.SnapshotStore, refs []core.SnapshotRef) []core.SnapshotRef {
	ok := make([]bool, len(refs))

	var g errgroup.Group
	for i, ref := range refs {
		g.Go(func() error {
			ok[i] = snapshots.Validate(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()

	valid := refs[:0:0]
	for i, ref := range refs {
		if ok[i] {
			valid = append(valid, ref)
			continue
		}
		b.logger.Warn("discarding invalid snapshot", "ref", ref.String())
		if err := snapshots.Release(ctx, ref); err != nil {
			b.logger.Warn("failed to release invalid snapshot", "ref", ref.String(), "error", err)
		}
	}
	return valid
}

// dropTimeline deletes the persisted record and releases its snapshots.
// warnOnReleaseFailure distinguishes prune (quiet) from drop (noisy).
func (b *Bridge) dropTimeline(ctx context.Context, pt PersistedTimeline, snapshots core.SnapshotStore, warnOnReleaseFailure bool) {
	for _, ref := range pt.Refs {
		if err := snapshots.Release(ctx, ref); err != nil && warnOnReleaseFailure {
			b.logger.Warn("failed to release snapshot", "ref", ref.String(), "error", err)
		}
	}
	if err := b.store.DeleteTimeline(ctx, pt.Record.Table); err != nil {
		b.logger.Warn("failed to delete timeline record", "table", pt.Record.Table, "error", err)
	}
}

// unknownKind scans for a command kind this build does not understand.
// ok is false when one is found.
func unknownKind(commands []core.Command) (core.CommandKind, bool) {
	for _, cmd := range commands {
		if !core.KnownKinds[cmd.Kind] {
			return cmd.Kind, false
		}
	}
	return "", true
}

func hasBaseline(refs []core.SnapshotRef) bool {
	for _, ref := range refs {
		if ref.Position == -1 {
			return true
		}
	}
	return false
}
