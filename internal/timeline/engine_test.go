package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitro41992/cleanslate/internal/snapshot"
	"github.com/nitro41992/cleanslate/internal/testutil"
	"github.com/nitro41992/cleanslate/pkg/core"
)

// fakeDataset models a table as the ordered list of command labels applied
// to it. Good enough to observe replay order and round-trip equality
// without a real database.
type fakeDataset struct {
	mu        sync.Mutex
	tables    map[core.TableID][]string
	applied   []string // labels in application order, across replays
	loads     int
	failOn    string        // applying a command with this label fails
	failDumps int           // next N Dump calls fail
	loadGate  chan struct{} // when set, Load blocks until it is closed
}

func newFakeDataset(tables ...core.TableID) *fakeDataset {
	f := &fakeDataset{tables: make(map[core.TableID][]string)}
	for _, t := range tables {
		f.tables[t] = []string{}
	}
	return f
}

func (f *fakeDataset) ExecuteCommand(_ context.Context, table core.TableID, cmd core.Command) (core.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && cmd.Label == f.failOn {
		return core.ApplyResult{}, fmt.Errorf("injected failure for %s", cmd.Label)
	}
	f.tables[table] = append(f.tables[table], cmd.Label)
	f.applied = append(f.applied, cmd.Label)
	return core.ApplyResult{RowsAffected: 1, State: f.stateLocked(table)}, nil
}

func (f *fakeDataset) CurrentState(_ context.Context, table core.TableID) (core.TableState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked(table), nil
}

func (f *fakeDataset) stateLocked(table core.TableID) core.TableState {
	return core.TableState{
		RowCount: int64(len(f.tables[table])),
		Columns:  []core.Column{{Name: "value", Type: "VARCHAR", Position: 1}},
	}
}

func (f *fakeDataset) Dump(_ context.Context, table core.TableID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDumps > 0 {
		f.failDumps--
		return nil, fmt.Errorf("injected dump failure")
	}
	return json.Marshal(f.tables[table])
}

func (f *fakeDataset) Load(_ context.Context, table core.TableID, data []byte) error {
	f.mu.Lock()
	gate := f.loadGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return err
	}
	f.tables[table] = labels
	f.loads++
	return nil
}

func (f *fakeDataset) contents(table core.TableID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.tables[table]))
	copy(out, f.tables[table])
	return out
}

func (f *fakeDataset) resetApplied() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = nil
	f.loads = 0
}

// recordingSaver captures the latest record per table.
type recordingSaver struct {
	mu      sync.Mutex
	records map[core.TableID]core.TimelineRecord
	deleted []core.TableID
}

func newRecordingSaver() *recordingSaver {
	return &recordingSaver{records: make(map[core.TableID]core.TimelineRecord)}
}

func (s *recordingSaver) SaveTimeline(_ context.Context, rec core.TimelineRecord, _ []core.SnapshotRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Table] = rec
	return nil
}

func (s *recordingSaver) DeleteTimeline(_ context.Context, table core.TableID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, table)
	return nil
}

func testCommand(label string) core.Command {
	return core.Command{ID: label + "-id", Kind: core.KindColumnTransform, Label: label}
}

func setupEngine(t *testing.T, opts Options) (*Engine, *fakeDataset, *snapshot.MemoryStore) {
	t.Helper()
	ds := newFakeDataset("people")
	store := snapshot.NewMemoryStore(ds)
	if opts.Logger == nil {
		opts.Logger = testutil.NewTestLogger(t)
	}
	eng := NewEngine(ds, store, opts)
	require.NoError(t, eng.Initialize(context.Background(), "people"))
	return eng, ds, store
}

func appendN(t *testing.T, eng *Engine, table core.TableID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := eng.Append(context.Background(), table, testCommand(fmt.Sprintf("cmd-%d", i)))
		require.NoError(t, err)
	}
}

func TestEngine_InitializeCapturesBaseline(t *testing.T) {
	eng, _, store := setupEngine(t, Options{})

	status, err := eng.Status("people")
	require.NoError(t, err)
	assert.Equal(t, -1, status.Position)
	assert.Equal(t, 0, status.Total)
	assert.False(t, status.CanUndo)
	assert.False(t, status.CanRedo)
	assert.Equal(t, 1, store.Len())

	rec, err := eng.Record("people")
	require.NoError(t, err)
	assert.Equal(t, []int{-1}, rec.SnapshotPositions)
}

func TestEngine_InitializeTwiceFails(t *testing.T) {
	eng, _, _ := setupEngine(t, Options{})
	assert.Error(t, eng.Initialize(context.Background(), "people"))
}

func TestEngine_AppendAdvancesCursor(t *testing.T) {
	eng, ds, _ := setupEngine(t, Options{})

	result, err := eng.Append(context.Background(), "people", testCommand("trim name"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RowsAffected)

	status, err := eng.Status("people")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Position)
	assert.Equal(t, 1, status.Total)
	assert.True(t, status.CanUndo)
	assert.False(t, status.CanRedo)
	assert.Equal(t, "trim name", status.UndoLabel)
	assert.Equal(t, []string{"trim name"}, ds.contents("people"))
}

func TestEngine_AppendRecordsRowsAffected(t *testing.T) {
	eng, _, _ := setupEngine(t, Options{})
	appendN(t, eng, "people", 1)

	commands, err := eng.Commands("people")
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, int64(1), commands[0].RowsAffected)
}

func TestEngine_AppendFailureNotRecorded(t *testing.T) {
	eng, ds, _ := setupEngine(t, Options{})
	ds.failOn = "bad"

	_, err := eng.Append(context.Background(), "people", testCommand("bad"))
	require.Error(t, err)

	status, err := eng.Status("people")
	require.NoError(t, err)
	assert.Equal(t, -1, status.Position)
	assert.Equal(t, 0, status.Total)
}

func TestEngine_UndoRedoRoundTrip(t *testing.T) {
	eng, ds, _ := setupEngine(t, Options{})
	appendN(t, eng, "people", 3)
	after := ds.contents("people")

	for i := 0; i < 3; i++ {
		state, err := eng.Undo(context.Background(), "people")
		require.NoError(t, err)
		require.NotNil(t, state)
	}
	assert.Empty(t, ds.contents("people"))

	status, err := eng.Status("people")
	require.NoError(t, err)
	assert.Equal(t, -1, status.Position)
	assert.False(t, status.CanUndo)
	assert.True(t, status.CanRedo)

	for i := 0; i < 3; i++ {
		state, err := eng.Redo(context.Background(), "people")
		require.NoError(t, err)
		require.NotNil(t, state)
	}
	assert.Equal(t, after, ds.contents("people"))
}

func TestEngine_UndoAtBaselineIsNoop(t *testing.T) {
	eng, _, _ := setupEngine(t, Options{})

	state, err := eng.Undo(context.Background(), "people")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestEngine_RedoAtHeadIsNoop(t *testing.T) {
	eng, _, _ := setupEngine(t, Options{})
	appendN(t, eng, "people", 2)

	state, err := eng.Redo(context.Background(), "people")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestEngine_UndoRedoLabels(t *testing.T) {
	eng, _, _ := setupEngine(t, Options{})
	appendN(t, eng, "people", 3)

	_, err := eng.Undo(context.Background(), "people")
	require.NoError(t, err)

	status, err := eng.Status("people")
	require.NoError(t, err)
	assert.Equal(t, "cmd-1", status.UndoLabel)
	assert.Equal(t, "cmd-2", status.RedoLabel)
}

func TestEngine_AppendTruncatesRedoTail(t *testing.T) {
	eng, ds, _ := setupEngine(t, Options{})
	appendN(t, eng, "people", 5)

	for i := 0; i < 2; i++ {
		_, err := eng.Undo(context.Background(), "people")
		require.NoError(t, err)
	}

	_, err := eng.Append(context.Background(), "people", testCommand("replacement"))
	require.NoError(t, err)

	status, err := eng.Status("people")
	require.NoError(t, err)
	assert.Equal(t, 4, status.Total)
	assert.Equal(t, 3, status.Position)
	assert.False(t, status.CanRedo)

	assert.Equal(t, []string{"cmd-0", "cmd-1", "cmd-2", "replacement"}, ds.contents("people"))
}

func TestEngine_TruncateReleasesOrphanedSnapshots(t *testing.T) {
	eng, _, store := setupEngine(t, Options{CheckpointInterval: 2})
	appendN(t, eng, "people", 4) // snapshots at -1, 1, 3

	rec, err := eng.Record("people")
	require.NoError(t, err)
	require.Equal(t, []int{-1, 1, 3}, rec.SnapshotPositions)
	require.Equal(t, 3, store.Len())

	// Move before position 3's snapshot, then branch.
	_, err = eng.ReplayToPosition(context.Background(), "people", 1)
	require.NoError(t, err)
	_, err = eng.Append(context.Background(), "people", testCommand("branch"))
	require.NoError(t, err)

	rec, err = eng.Record("people")
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 1}, rec.SnapshotPositions)
	assert.Equal(t, 2, store.Len())
}

func TestEngine_CheckpointCadence(t *testing.T) {
	eng, _, _ := setupEngine(t, Options{CheckpointInterval: 5})
	appendN(t, eng, "people", 12)

	rec, err := eng.Record("people")
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 4, 9}, rec.SnapshotPositions)
}

func TestEngine_ReplayUsesNearestSnapshot(t *testing.T) {
	eng, ds, _ := setupEngine(t, Options{CheckpointInterval: 5})
	appendN(t, eng, "people", 12) // snapshots at -1, 4, 9

	ds.resetApplied()
	state, err := eng.ReplayToPosition(context.Background(), "people", 7)
	require.NoError(t, err)

	// Restored from the checkpoint at 4, then replayed 5..7.
	assert.Equal(t, 1, ds.loads)
	assert.Equal(t, []string{"cmd-5", "cmd-6", "cmd-7"}, ds.applied)
	assert.Equal(t, int64(8), state.RowCount)
	assert.Equal(t, []string{
		"cmd-0", "cmd-1", "cmd-2", "cmd-3", "cmd-4", "cmd-5", "cmd-6", "cmd-7",
	}, ds.contents("people"))
}

func TestEngine_ReplayToSnapshottedPosition(t *testing.T) {
	eng, ds, _ := setupEngine(t, Options{CheckpointInterval: 5})
	appendN(t, eng, "people", 12)

	ds.resetApplied()
	state, err := eng.ReplayToPosition(context.Background(), "people", 9)
	require.NoError(t, err)

	// Direct restore, nothing replayed.
	assert.Equal(t, 1, ds.loads)
	assert.Empty(t, ds.applied)
	assert.Equal(t, int64(10), state.RowCount)
}

func TestEngine_ReplayIsIdempotent(t *testing.T) {
	eng, ds, _ := setupEngine(t, Options{})
	appendN(t, eng, "people", 6)

	first, err := eng.ReplayToPosition(context.Background(), "people", 3)
	require.NoError(t, err)
	contents := ds.contents("people")

	second, err := eng.ReplayToPosition(context.Background(), "people", 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, contents, ds.contents("people"))
}

func TestEngine_ReplayInvalidPosition(t *testing.T) {
	eng, _, _ := setupEngine(t, Options{})
	appendN(t, eng, "people", 2)

	_, err := eng.ReplayToPosition(context.Background(), "people", 5)
	assert.ErrorIs(t, err, core.ErrInvalidPosition)

	_, err = eng.ReplayToPosition(context.Background(), "people", -2)
	assert.ErrorIs(t, err, core.ErrInvalidPosition)
}

func TestEngine_ReplayUnknownTable(t *testing.T) {
	eng, _, _ := setupEngine(t, Options{})
	_, err := eng.ReplayToPosition(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, core.ErrUnknownTable)
}

func TestEngine_ReplayFailureLeavesLastGoodState(t *testing.T) {
	eng, ds, _ := setupEngine(t, Options{CheckpointInterval: 100})
	appendN(t, eng, "people", 4)

	ds.failOn = "cmd-2"
	_, err := eng.ReplayToPosition(context.Background(), "people", 3)
	require.Error(t, err)

	var rf *core.ReplayFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, core.TableID("people"), rf.Table)
	assert.Equal(t, 1, rf.LastGood)
	assert.Equal(t, 2, rf.Failed)

	// Cursor follows the dataset; the log itself is intact.
	status, err := eng.Status("people")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Position)
	assert.Equal(t, 4, status.Total)
	assert.Equal(t, []string{"cmd-0", "cmd-1"}, ds.contents("people"))

	// Recoverable once the cause clears.
	ds.failOn = ""
	_, err = eng.ReplayToPosition(context.Background(), "people", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"cmd-0", "cmd-1", "cmd-2", "cmd-3"}, ds.contents("people"))
}

func TestEngine_BusyTimelineRejectsMutations(t *testing.T) {
	eng, _, _ := setupEngine(t, Options{})
	appendN(t, eng, "people", 2)

	eng.mu.Lock()
	eng.timelines["people"].busy = true
	eng.mu.Unlock()

	_, err := eng.Append(context.Background(), "people", testCommand("x"))
	assert.ErrorIs(t, err, core.ErrReplayInProgress)

	_, err = eng.ReplayToPosition(context.Background(), "people", 0)
	assert.ErrorIs(t, err, core.ErrReplayInProgress)

	_, err = eng.Undo(context.Background(), "people")
	assert.ErrorIs(t, err, core.ErrReplayInProgress)

	_, err = eng.Redo(context.Background(), "people")
	assert.ErrorIs(t, err, core.ErrReplayInProgress)

	err = eng.Remove(context.Background(), "people")
	assert.ErrorIs(t, err, core.ErrReplayInProgress)

	status, err := eng.Status("people")
	require.NoError(t, err)
	assert.True(t, status.IsReplaying)
}

func TestEngine_ConcurrentUndoStepsOnce(t *testing.T) {
	eng, ds, _ := setupEngine(t, Options{})
	appendN(t, eng, "people", 3)

	gate := make(chan struct{})
	ds.mu.Lock()
	ds.loadGate = gate
	ds.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := eng.Undo(context.Background(), "people")
		done <- err
	}()

	// Wait until the first undo is mid-replay, parked in the restore.
	require.Eventually(t, func() bool {
		status, err := eng.Status("people")
		return err == nil && status.IsReplaying
	}, time.Second, time.Millisecond)

	// A second undo is rejected outright rather than queued behind the
	// first with a stale target.
	_, err := eng.Undo(context.Background(), "people")
	assert.ErrorIs(t, err, core.ErrReplayInProgress)

	close(gate)
	require.NoError(t, <-done)

	// Exactly one step back.
	status, err := eng.Status("people")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Position)
	assert.Equal(t, []string{"cmd-0", "cmd-1"}, ds.contents("people"))
}

func TestEngine_ExplicitCheckpoint(t *testing.T) {
	eng, _, store := setupEngine(t, Options{CheckpointInterval: 100})
	appendN(t, eng, "people", 3)

	require.NoError(t, eng.Checkpoint(context.Background(), "people"))
	rec, err := eng.Record("people")
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 2}, rec.SnapshotPositions)

	// Checkpointing the same position again does nothing.
	before := store.Len()
	require.NoError(t, eng.Checkpoint(context.Background(), "people"))
	assert.Equal(t, before, store.Len())
}

func TestEngine_RemoveReleasesEverything(t *testing.T) {
	eng, _, store := setupEngine(t, Options{CheckpointInterval: 2})
	saver := newRecordingSaver()
	eng.saver = saver
	appendN(t, eng, "people", 4)
	require.Greater(t, store.Len(), 1)

	require.NoError(t, eng.Remove(context.Background(), "people"))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, []core.TableID{"people"}, saver.deleted)

	_, err := eng.Status("people")
	assert.ErrorIs(t, err, core.ErrUnknownTable)
}

func TestEngine_LazyBaselineCapture(t *testing.T) {
	ds := newFakeDataset("people")
	ds.failDumps = 1
	store := snapshot.NewMemoryStore(ds)
	eng := NewEngine(ds, store, Options{})

	// Baseline fails but the timeline is still registered.
	err := eng.Initialize(context.Background(), "people")
	require.Error(t, err)
	_, err = eng.Status("people")
	require.NoError(t, err)

	// First append retries the baseline before the table diverges.
	_, err = eng.Append(context.Background(), "people", testCommand("cmd-0"))
	require.NoError(t, err)

	rec, err := eng.Record("people")
	require.NoError(t, err)
	assert.Contains(t, rec.SnapshotPositions, -1)

	// Undo back to the recovered baseline works.
	state, err := eng.Undo(context.Background(), "people")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Empty(t, ds.contents("people"))
}

func TestEngine_SaverReceivesRecords(t *testing.T) {
	saver := newRecordingSaver()
	eng, _, _ := setupEngine(t, Options{Saver: saver})
	appendN(t, eng, "people", 2)

	saver.mu.Lock()
	rec := saver.records["people"]
	saver.mu.Unlock()
	assert.Equal(t, 1, rec.CurrentPosition)
	require.Len(t, rec.Commands, 2)
	assert.Equal(t, "cmd-1", rec.Commands[1].Label)
}

func TestEngine_RestoreFromRecord(t *testing.T) {
	ds := newFakeDataset("people")
	store := snapshot.NewMemoryStore(ds)
	eng := NewEngine(ds, store, Options{})

	ref, err := store.Materialize(context.Background(), "people", -1)
	require.NoError(t, err)

	rec := core.TimelineRecord{
		Table:           "people",
		Commands:        []core.Command{testCommand("cmd-0"), testCommand("cmd-1")},
		CurrentPosition: 1,
	}
	require.NoError(t, eng.Restore(rec, []core.SnapshotRef{ref}))

	status, err := eng.Status("people")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Position)
	assert.Equal(t, 2, status.Total)

	// Re-registering is an error.
	assert.Error(t, eng.Restore(rec, nil))

	// The restored refs drive replay.
	state, err := eng.ReplayToPosition(context.Background(), "people", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.RowCount)
}

func TestEngine_ProgressCallback(t *testing.T) {
	var steps [][2]int
	eng, _, _ := setupEngine(t, Options{
		CheckpointInterval: 100,
		Progress: func(_ core.TableID, step, total int) {
			steps = append(steps, [2]int{step, total})
		},
	})
	appendN(t, eng, "people", 3)

	_, err := eng.ReplayToPosition(context.Background(), "people", -1)
	require.NoError(t, err)
	_, err = eng.ReplayToPosition(context.Background(), "people", 2)
	require.NoError(t, err)

	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, steps)
}

func TestEngine_BranchScenario(t *testing.T) {
	// trim, uppercase, undo, then a different command: the final state
	// reflects trim followed by the replacement only.
	eng, ds, _ := setupEngine(t, Options{})

	_, err := eng.Append(context.Background(), "people", testCommand("trim name"))
	require.NoError(t, err)
	_, err = eng.Append(context.Background(), "people", testCommand("upper name"))
	require.NoError(t, err)

	state, err := eng.Undo(context.Background(), "people")
	require.NoError(t, err)
	require.NotNil(t, state)

	_, err = eng.Append(context.Background(), "people", testCommand("lower name"))
	require.NoError(t, err)

	assert.Equal(t, []string{"trim name", "lower name"}, ds.contents("people"))

	status, err := eng.Status("people")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Position)
	assert.Equal(t, 2, status.Total)
	assert.False(t, status.CanRedo)
}
