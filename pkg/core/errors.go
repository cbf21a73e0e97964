package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions callers branch on with errors.Is.
var (
	// ErrReplayInProgress is returned when a mutating timeline call arrives
	// while another one is in flight for the same table. No state changes.
	ErrReplayInProgress = errors.New("replay in progress")

	// ErrInvalidPosition is returned when a jump target is outside
	// [-1, len(commands)-1]. No state changes.
	ErrInvalidPosition = errors.New("position out of range")

	// ErrUnknownTable is returned when an operation names a table that has
	// no timeline.
	ErrUnknownTable = errors.New("no timeline for table")

	// ErrUnknownKind is returned when a persisted command kind is not
	// understood by this build.
	ErrUnknownKind = errors.New("unknown command kind")
)

// SnapshotFailure reports that a baseline or periodic checkpoint could not
// be materialized or restored. Checkpoint failures are non-fatal: the
// engine logs them and retries at the next checkpoint boundary.
type SnapshotFailure struct {
	Table    TableID
	Position int
	Err      error
}

func (e *SnapshotFailure) Error() string {
	return fmt.Sprintf("snapshot for %s at position %d: %v", e.Table, e.Position, e.Err)
}

func (e *SnapshotFailure) Unwrap() error { return e.Err }

// CommandFailure reports that a command's application was rejected by the
// dataset engine. The command is not recorded and the live dataset is
// assumed unchanged.
type CommandFailure struct {
	Command Command
	Err     error
}

func (e *CommandFailure) Error() string {
	return fmt.Sprintf("apply %q (%s): %v", e.Command.Label, e.Command.Kind, e.Err)
}

func (e *CommandFailure) Unwrap() error { return e.Err }

// ReplayFailure reports that a command failed during replay. The dataset is
// left at the last successfully applied position and the timeline cursor is
// not advanced past it.
type ReplayFailure struct {
	Table TableID

	// LastGood is the highest position whose command was successfully
	// re-applied; -1 means replay failed on the first command after the
	// restored snapshot.
	LastGood int

	// Failed is the position of the command that failed.
	Failed int

	Err error
}

func (e *ReplayFailure) Error() string {
	return fmt.Sprintf("replay of %s failed at position %d (last good %d): %v",
		e.Table, e.Failed, e.LastGood, e.Err)
}

func (e *ReplayFailure) Unwrap() error { return e.Err }
