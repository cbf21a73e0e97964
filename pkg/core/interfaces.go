package core

import "context"

// DatasetEngine is the boundary to the analytical engine holding the live
// datasets. The timeline treats it as an opaque capability: it never
// inspects the engine's query language, only the three operations below.
type DatasetEngine interface {
	// ExecuteCommand applies one command to the live table and reports rows
	// affected plus the table's resulting state. Application must be atomic
	// as observed through this interface: on error the table is unchanged.
	ExecuteCommand(ctx context.Context, table TableID, cmd Command) (ApplyResult, error)

	// CurrentState returns the table's row count and schema.
	CurrentState(ctx context.Context, table TableID) (TableState, error)
}

// SnapshotStore durably materializes and restores full copies of a table's
// state. Pure storage; it knows nothing about commands.
type SnapshotStore interface {
	// Materialize captures the table's current state under a fresh ref.
	// It must be crash-consistent: the snapshot either exists complete or
	// not at all.
	Materialize(ctx context.Context, table TableID, position int) (SnapshotRef, error)

	// Restore overwrites the live table, schema and data, with the
	// snapshot's contents.
	Restore(ctx context.Context, ref SnapshotRef) error

	// Release frees the snapshot's underlying storage. Releasing an
	// already-released ref is a no-op.
	Release(ctx context.Context, ref SnapshotRef) error

	// Validate reports whether the ref resolves to a complete snapshot.
	// Used at startup to discard partial materializations left by a crash.
	Validate(ctx context.Context, ref SnapshotRef) bool
}

// AuditEntry is one human-readable record of an applied command.
type AuditEntry struct {
	Table        TableID
	CommandID    string
	Kind         CommandKind
	Label        string
	RowsAffected int64
}

// AuditSink receives audit entries at original append time. Replay never
// re-emits entries.
type AuditSink interface {
	RecordAudit(ctx context.Context, entry AuditEntry) error
}
