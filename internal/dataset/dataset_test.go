package dataset

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nitro41992/cleanslate/pkg/core"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open in-memory duckdb: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func mustExec(t *testing.T, eng *Engine, stmt string) {
	t.Helper()
	if _, err := eng.DB().ExecContext(context.Background(), stmt); err != nil {
		t.Fatalf("failed to exec %q: %v", stmt, err)
	}
}

// seedPeople creates the table every test mutates: two names need trimming,
// one phone is NULL.
func seedPeople(t *testing.T, eng *Engine) {
	t.Helper()
	mustExec(t, eng, `CREATE TABLE people (id INTEGER, name VARCHAR, email VARCHAR, phone VARCHAR)`)
	mustExec(t, eng, `
		INSERT INTO people VALUES
			(1, '  alice  ', 'alice@example.com', '555-0101'),
			(2, 'bob', 'bob@example.com', '555-0102'),
			(3, '  carol', 'carol@example.com', NULL)
	`)
}

// columnValues reads one column ordered by id, with NULLs as "".
func columnValues(t *testing.T, eng *Engine, column string) []string {
	t.Helper()
	stmt := "SELECT " + quoteIdent(column) + " FROM people ORDER BY id"
	rows, err := eng.DB().QueryContext(context.Background(), stmt)
	if err != nil {
		t.Fatalf("failed to query %s: %v", column, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("failed to scan %s: %v", column, err)
		}
		out = append(out, v.String)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("error iterating %s: %v", column, err)
	}
	return out
}

func TestEngine_LoadCSV(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	csvPath := filepath.Join(t.TempDir(), "people.csv")
	csvContent := `id,name,email
1,alice,alice@example.com
2,bob,bob@example.com
3,carol,carol@example.com`
	if err := os.WriteFile(csvPath, []byte(csvContent), 0o644); err != nil {
		t.Fatalf("failed to write CSV file: %v", err)
	}

	if err := eng.LoadCSV(ctx, "people", csvPath); err != nil {
		t.Fatalf("failed to load CSV: %v", err)
	}

	state, err := eng.CurrentState(ctx, "people")
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}
	if state.RowCount != 3 {
		t.Errorf("got %d rows, want 3", state.RowCount)
	}
	if len(state.Columns) != 3 {
		t.Errorf("got %d columns, want 3", len(state.Columns))
	}

	// The table already exists now.
	if err := eng.LoadCSV(ctx, "people", csvPath); err == nil {
		t.Error("expected loading into an existing table to fail")
	}

	if err := eng.LoadCSV(ctx, "people;--", csvPath); err == nil {
		t.Error("expected an invalid table name to be rejected")
	}
}

func TestEngine_ExecuteCommand_ColumnTransform(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	seedPeople(t, eng)

	result, err := eng.ExecuteCommand(ctx, "people", core.NewColumnTransform("name", "trim", nil))
	if err != nil {
		t.Fatalf("trim failed: %v", err)
	}

	// Only the two padded names count as affected.
	if result.RowsAffected != 2 {
		t.Errorf("got %d rows affected, want 2", result.RowsAffected)
	}
	got := columnValues(t, eng, "name")
	want := []string{"alice", "bob", "carol"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: got %q, want %q", i, got[i], want[i])
		}
	}
	if result.State.RowCount != 3 {
		t.Errorf("got row count %d, want 3", result.State.RowCount)
	}
}

func TestEngine_ExecuteCommand_Replace(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	seedPeople(t, eng)

	cmd := core.NewColumnTransform("email", "replace", core.Params{"find": "example.com", "with": "example.org"})
	result, err := eng.ExecuteCommand(ctx, "people", cmd)
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if result.RowsAffected != 3 {
		t.Errorf("got %d rows affected, want 3", result.RowsAffected)
	}
	if got := columnValues(t, eng, "email")[0]; got != "alice@example.org" {
		t.Errorf("got %q, want alice@example.org", got)
	}
}

func TestEngine_ExecuteCommand_ManualCellEdit(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	seedPeople(t, eng)

	cmd := core.NewManualCellEdit("phone", "id", "2", "555-9999")
	result, err := eng.ExecuteCommand(ctx, "people", cmd)
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if result.RowsAffected != 1 {
		t.Errorf("got %d rows affected, want 1", result.RowsAffected)
	}
	if got := columnValues(t, eng, "phone")[1]; got != "555-9999" {
		t.Errorf("got %q, want 555-9999", got)
	}
}

func TestEngine_ExecuteCommand_RowInsertAndDelete(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	seedPeople(t, eng)

	// Unmentioned columns receive NULL.
	insert := core.NewRowInsert(map[string]string{"id": "4", "name": "dave"})
	result, err := eng.ExecuteCommand(ctx, "people", insert)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if result.RowsAffected != 1 {
		t.Errorf("got %d rows affected, want 1", result.RowsAffected)
	}
	if result.State.RowCount != 4 {
		t.Errorf("got row count %d, want 4", result.State.RowCount)
	}
	if got := columnValues(t, eng, "email")[3]; got != "" {
		t.Errorf("expected NULL email for the inserted row, got %q", got)
	}

	del := core.NewRowDelete("id", "4")
	result, err = eng.ExecuteCommand(ctx, "people", del)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if result.RowsAffected != 1 {
		t.Errorf("got %d rows affected, want 1", result.RowsAffected)
	}
	if result.State.RowCount != 3 {
		t.Errorf("got row count %d, want 3", result.State.RowCount)
	}
}

func TestEngine_ExecuteCommand_RecordMerge(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	seedPeople(t, eng)
	mustExec(t, eng, `INSERT INTO people VALUES (9, 'alice again', 'alice@example.com', NULL)`)

	result, err := eng.ExecuteCommand(ctx, "people", core.NewRecordMerge([]string{"email"}))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if result.RowsAffected != 1 {
		t.Errorf("got %d rows affected, want 1", result.RowsAffected)
	}
	if result.State.RowCount != 3 {
		t.Errorf("got row count %d, want 3", result.State.RowCount)
	}

	// The survivor of each group is the ORDER BY ALL minimum.
	names := columnValues(t, eng, "name")
	for _, name := range names {
		if name == "alice again" {
			t.Error("expected the duplicate row to be dropped, not the original")
		}
	}
}

func TestEngine_ExecuteCommand_ColumnAdd(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	seedPeople(t, eng)

	cmd := core.NewColumnAdd("name_upper", "VARCHAR", `upper(trim(name))`)
	result, err := eng.ExecuteCommand(ctx, "people", cmd)
	if err != nil {
		t.Fatalf("column add failed: %v", err)
	}
	if result.RowsAffected != 3 {
		t.Errorf("got %d rows affected, want 3", result.RowsAffected)
	}
	if len(result.State.Columns) != 5 {
		t.Errorf("got %d columns, want 5", len(result.State.Columns))
	}
	if got := columnValues(t, eng, "name_upper")[0]; got != "ALICE" {
		t.Errorf("got %q, want ALICE", got)
	}
}

func TestEngine_ExecuteCommand_ScrubHash(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	seedPeople(t, eng)

	result, err := eng.ExecuteCommand(ctx, "people", core.NewScrubRule("phone", "hash", nil))
	if err != nil {
		t.Fatalf("scrub failed: %v", err)
	}

	// Only non-NULL values are scrubbed.
	if result.RowsAffected != 2 {
		t.Errorf("got %d rows affected, want 2", result.RowsAffected)
	}
	phones := columnValues(t, eng, "phone")
	if len(phones[0]) != 32 {
		t.Errorf("expected an md5 digest, got %q", phones[0])
	}
	if phones[2] != "" {
		t.Errorf("expected NULL to stay NULL, got %q", phones[2])
	}
}

func TestEngine_ExecuteCommand_ScrubReplayIsDeterministic(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	seedPeople(t, eng)

	// The seed travels inside the command, so re-applying it to the same
	// input reproduces the exact output the user originally saw.
	cmd := core.NewScrubRule("phone", "scramble_digits", nil)

	if _, err := eng.ExecuteCommand(ctx, "people", cmd); err != nil {
		t.Fatalf("first scrub failed: %v", err)
	}
	first := columnValues(t, eng, "phone")

	mustExec(t, eng, `DROP TABLE people`)
	seedPeople(t, eng)

	if _, err := eng.ExecuteCommand(ctx, "people", cmd); err != nil {
		t.Fatalf("replayed scrub failed: %v", err)
	}
	second := columnValues(t, eng, "phone")

	for i := range first {
		if first[i] != second[i] {
			t.Errorf("row %d: replay produced %q, first run produced %q", i, second[i], first[i])
		}
	}
	if first[0] == "555-0101" {
		t.Error("expected the phone digits to be scrambled")
	}
}

func TestEngine_ExecuteCommand_FailureLeavesTableUntouched(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	seedPeople(t, eng)

	// The ALTER succeeds and the populate fails, so the whole command must
	// roll back.
	cmd := core.NewColumnAdd("broken", "VARCHAR", `no_such_function(name)`)
	_, err := eng.ExecuteCommand(ctx, "people", cmd)
	if err == nil {
		t.Fatal("expected the command to fail")
	}
	var cf *core.CommandFailure
	if !errors.As(err, &cf) {
		t.Fatalf("expected a CommandFailure, got %T", err)
	}

	state, err := eng.CurrentState(ctx, "people")
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}
	if len(state.Columns) != 4 {
		t.Errorf("got %d columns after rollback, want 4", len(state.Columns))
	}
	if state.RowCount != 3 {
		t.Errorf("got %d rows after rollback, want 3", state.RowCount)
	}
}

func TestEngine_ExecuteCommand_UnknownKind(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	seedPeople(t, eng)

	_, err := eng.ExecuteCommand(ctx, "people", core.Command{ID: "x", Kind: "teleport", Label: "x"})
	if !errors.Is(err, core.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestEngine_CurrentState_NotFound(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.CurrentState(context.Background(), "nonexistent"); err == nil {
		t.Error("expected error for nonexistent table, got nil")
	}
}

func TestEngine_TableLifecycle(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	seedPeople(t, eng)

	exists, err := eng.TableExists(ctx, "people")
	if err != nil {
		t.Fatalf("failed to check table: %v", err)
	}
	if !exists {
		t.Error("expected people to exist")
	}

	tables, err := eng.ListTables(ctx)
	if err != nil {
		t.Fatalf("failed to list tables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "people" {
		t.Errorf("got tables %v, want [people]", tables)
	}

	if err := eng.DropTable(ctx, "people"); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}
	// Dropping again is a no-op.
	if err := eng.DropTable(ctx, "people"); err != nil {
		t.Errorf("expected dropping a missing table to succeed: %v", err)
	}

	exists, err = eng.TableExists(ctx, "people")
	if err != nil {
		t.Fatalf("failed to check table: %v", err)
	}
	if exists {
		t.Error("expected people to be gone")
	}
}
