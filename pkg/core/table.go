package core

// TableID identifies one live dataset. A Timeline is tied to exactly one
// TableID for its whole lifecycle.
type TableID string

// Column describes one column of a table's schema.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Position int    `json:"position"`
}

// TableState is the observable state of a live dataset: its size and
// schema. It is returned by every mutating timeline operation so callers
// can refresh presentation layers without a second round trip.
type TableState struct {
	RowCount int64    `json:"row_count"`
	Columns  []Column `json:"columns"`
}

// ColumnOrder returns the column names in schema order.
func (s TableState) ColumnOrder() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// ApplyResult reports the outcome of applying one command.
type ApplyResult struct {
	RowsAffected int64
	State        TableState
}
