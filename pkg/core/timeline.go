package core

// TimelineRecord is the persisted form of one table's timeline: the command
// log (parameters only, never materialized data), the cursor, and the set
// of checkpointed positions. One record per table in the durable state db.
type TimelineRecord struct {
	Table             TableID   `json:"table"`
	Commands          []Command `json:"commands"`
	CurrentPosition   int       `json:"current_position"`
	SnapshotPositions []int     `json:"snapshot_positions"`
}

// TimelineStatus is the read-only projection of timeline state consumed by
// presentation layers.
type TimelineStatus struct {
	Table       TableID `json:"table"`
	Position    int     `json:"position"`
	Total       int     `json:"total"`
	CanUndo     bool    `json:"can_undo"`
	CanRedo     bool    `json:"can_redo"`
	UndoLabel   string  `json:"undo_label,omitempty"`
	RedoLabel   string  `json:"redo_label,omitempty"`
	IsReplaying bool    `json:"is_replaying"`
}
