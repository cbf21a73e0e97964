// Package timeline implements the versioned command timeline: the ordered
// command log, the sparse checkpoint index, and the undo/redo/jump replay
// algorithm over a table's live dataset.
package timeline

import (
	"sort"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// Timeline is the per-table state: an ordered command log, a cursor, and a
// sparse set of snapshot checkpoints keyed by log position. Position -1 is
// the pre-transformation baseline; it always has a snapshot once
// initialization succeeds. All mutation goes through the Engine; nothing
// outside this package touches these fields.
type Timeline struct {
	table     core.TableID
	commands  []core.Command
	current   int // in [-1, len(commands)-1]
	snapshots map[int]core.SnapshotRef
	busy      bool
}

func newTimeline(table core.TableID) *Timeline {
	return &Timeline{
		table:     table,
		current:   -1,
		snapshots: make(map[int]core.SnapshotRef),
	}
}

// canUndo reports whether the cursor can move backward.
func (t *Timeline) canUndo() bool {
	return t.current >= 0
}

// canRedo reports whether a redo tail exists.
func (t *Timeline) canRedo() bool {
	return t.current < len(t.commands)-1
}

// validPosition reports whether p is a reachable cursor position.
func (t *Timeline) validPosition(p int) bool {
	return p >= -1 && p <= len(t.commands)-1
}

// nearestSnapshot returns the checkpoint closest to but not exceeding
// target. The baseline at -1 guarantees a hit for any valid target.
func (t *Timeline) nearestSnapshot(target int) (core.SnapshotRef, bool) {
	best := -2
	var ref core.SnapshotRef
	for pos, r := range t.snapshots {
		if pos <= target && pos > best {
			best = pos
			ref = r
		}
	}
	return ref, best >= -1
}

// truncate discards the redo tail after the cursor and returns the
// snapshot refs that now point past the end of the log. The caller
// releases them; history past the cursor is unrecoverable afterwards.
func (t *Timeline) truncate() []core.SnapshotRef {
	if !t.canRedo() {
		return nil
	}

	t.commands = t.commands[:t.current+1]

	var orphaned []core.SnapshotRef
	for pos, ref := range t.snapshots {
		if pos > t.current {
			orphaned = append(orphaned, ref)
			delete(t.snapshots, pos)
		}
	}
	return orphaned
}

// snapshotPositions returns the checkpointed positions in ascending order.
func (t *Timeline) snapshotPositions() []int {
	positions := make([]int, 0, len(t.snapshots))
	for pos := range t.snapshots {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	return positions
}

// status builds the read-only projection for presentation layers.
func (t *Timeline) status() core.TimelineStatus {
	s := core.TimelineStatus{
		Table:       t.table,
		Position:    t.current,
		Total:       len(t.commands),
		CanUndo:     t.canUndo(),
		CanRedo:     t.canRedo(),
		IsReplaying: t.busy,
	}
	if s.CanUndo {
		s.UndoLabel = t.commands[t.current].Label
	}
	if s.CanRedo {
		s.RedoLabel = t.commands[t.current+1].Label
	}
	return s
}

// record builds the persistable form of the timeline.
func (t *Timeline) record() core.TimelineRecord {
	commands := make([]core.Command, len(t.commands))
	copy(commands, t.commands)
	return core.TimelineRecord{
		Table:             t.table,
		Commands:          commands,
		CurrentPosition:   t.current,
		SnapshotPositions: t.snapshotPositions(),
	}
}

// refs returns the snapshot refs in ascending position order.
func (t *Timeline) refs() []core.SnapshotRef {
	out := make([]core.SnapshotRef, 0, len(t.snapshots))
	for _, pos := range t.snapshotPositions() {
		out = append(out, t.snapshots[pos])
	}
	return out
}
