package core

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// CommandKind identifies the type of dataset mutation a Command describes.
type CommandKind string

// Command kind constants. The string values are part of the persisted
// record layout and must remain stable across releases.
const (
	KindColumnTransform CommandKind = "column_transform"
	KindScrubRule       CommandKind = "scrub_rule"
	KindManualCellEdit  CommandKind = "manual_cell_edit"
	KindRowInsert       CommandKind = "row_insert"
	KindRowDelete       CommandKind = "row_delete"
	KindRecordMerge     CommandKind = "record_merge"
	KindColumnAdd       CommandKind = "column_add"
)

// KnownKinds lists every command kind this build understands. Persisted
// timelines referencing a kind outside this set are dropped on restore.
var KnownKinds = map[CommandKind]bool{
	KindColumnTransform: true,
	KindScrubRule:       true,
	KindManualCellEdit:  true,
	KindRowInsert:       true,
	KindRowDelete:       true,
	KindRecordMerge:     true,
	KindColumnAdd:       true,
}

// Params holds the kind-specific parameters of a Command as a flat
// key/value map. Keeping parameters schemaless makes the persisted record
// forward-compatible: a newer build can add keys without breaking older
// timelines.
type Params map[string]any

// String returns the string value for key, or "" if absent or not a string.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int64 returns the integer value for key. JSON round-trips store numbers
// as float64, so both representations are accepted.
func (p Params) Int64(key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Float64 returns the float value for key, or 0 if absent.
func (p Params) Float64(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Strings returns the string-slice value for key. JSON round-trips store
// arrays as []any, so both representations are accepted.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Command is an immutable, serializable description of one dataset
// mutation. A Command records what to do and to which columns; it does not
// know how to invert itself. Application happens through the DatasetEngine.
type Command struct {
	// ID is an opaque unique identifier.
	ID string `json:"id"`

	// Kind selects the mutation variant.
	Kind CommandKind `json:"kind"`

	// Label is the human-readable description shown in history output and
	// recorded in the audit log.
	Label string `json:"label"`

	// Params carries the kind-specific parameters.
	Params Params `json:"params,omitempty"`

	// RowsAffected is recorded after the first successful application, for
	// display and audit. It is not consulted during replay.
	RowsAffected int64 `json:"rows_affected"`
}

func newCommand(kind CommandKind, label string, params Params) Command {
	return Command{
		ID:     uuid.New().String(),
		Kind:   kind,
		Label:  label,
		Params: params,
	}
}

// NewColumnTransform builds a command that rewrites every value of a column
// with a named operation (trim, upper, lower, replace, ...).
func NewColumnTransform(column, op string, args Params) Command {
	params := Params{"column": column, "op": op}
	for k, v := range args {
		params[k] = v
	}
	return newCommand(KindColumnTransform, fmt.Sprintf("%s %s", op, column), params)
}

// NewScrubRule builds a de-identification command for a column. A random
// seed is captured at construction time so that replaying the command
// reproduces the exact output the user originally saw and audited.
func NewScrubRule(column, algorithm string, args Params) Command {
	params := Params{
		"column":    column,
		"algorithm": algorithm,
		"seed":      rand.Float64(),
	}
	for k, v := range args {
		params[k] = v
	}
	return newCommand(KindScrubRule, fmt.Sprintf("scrub %s (%s)", column, algorithm), params)
}

// NewManualCellEdit builds a command that sets one cell, addressed by a key
// column/value pair, to a literal.
func NewManualCellEdit(column, keyColumn, keyValue, value string) Command {
	params := Params{
		"column":    column,
		"key_col":   keyColumn,
		"key_value": keyValue,
		"value":     value,
	}
	return newCommand(KindManualCellEdit, fmt.Sprintf("edit %s where %s=%s", column, keyColumn, keyValue), params)
}

// NewRowInsert builds a command that appends one row. Values are keyed by
// column name; unmentioned columns receive NULL.
func NewRowInsert(values map[string]string) Command {
	vals := make(Params, len(values))
	for k, v := range values {
		vals[k] = v
	}
	return newCommand(KindRowInsert, "insert row", Params{"values": map[string]any(vals)})
}

// NewRowDelete builds a command that deletes the rows matching a key
// column/value pair.
func NewRowDelete(keyColumn, keyValue string) Command {
	params := Params{"key_col": keyColumn, "key_value": keyValue}
	return newCommand(KindRowDelete, fmt.Sprintf("delete rows where %s=%s", keyColumn, keyValue), params)
}

// NewRecordMerge builds a command that collapses duplicate rows sharing the
// same value in the key columns, keeping the first row of each group.
func NewRecordMerge(keyColumns []string) Command {
	params := Params{"key_cols": keyColumns}
	return newCommand(KindRecordMerge, fmt.Sprintf("merge duplicates on %v", keyColumns), params)
}

// NewColumnAdd builds a command that adds a column, optionally populated
// from a SQL expression over existing columns.
func NewColumnAdd(column, sqlType, expression string) Command {
	params := Params{"column": column, "type": sqlType}
	if expression != "" {
		params["expression"] = expression
	}
	return newCommand(KindColumnAdd, fmt.Sprintf("add column %s", column), params)
}
