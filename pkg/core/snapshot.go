package core

import "fmt"

// SnapshotRef is an opaque handle to a durable, full materialization of a
// table's state at a given log position. Refs are resolvable only by the
// SnapshotStore that produced them.
type SnapshotRef struct {
	Table    TableID `json:"table"`
	Position int     `json:"position"`

	// Key locates the materialization inside the store (a file name, an
	// object key, a map key for in-memory stores).
	Key string `json:"key"`
}

// String renders the ref for logs and error messages.
func (r SnapshotRef) String() string {
	return fmt.Sprintf("%s@%d (%s)", r.Table, r.Position, r.Key)
}
