package dataset

// sql.go - compilation of command kinds into DuckDB statements

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// quoteIdent quotes an identifier for DuckDB, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteString quotes a string literal for DuckDB.
func quoteString(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// applyCommand dispatches one command to its kind-specific compiler and
// returns the number of rows it affected. All statements run inside tx.
func applyCommand(ctx context.Context, tx *sql.Tx, table core.TableID, cmd core.Command) (int64, error) {
	switch cmd.Kind {
	case core.KindColumnTransform:
		return applyColumnTransform(ctx, tx, table, cmd.Params)
	case core.KindScrubRule:
		return applyScrubRule(ctx, tx, table, cmd.Params)
	case core.KindManualCellEdit:
		return applyManualCellEdit(ctx, tx, table, cmd.Params)
	case core.KindRowInsert:
		return applyRowInsert(ctx, tx, table, cmd.Params)
	case core.KindRowDelete:
		return applyRowDelete(ctx, tx, table, cmd.Params)
	case core.KindRecordMerge:
		return applyRecordMerge(ctx, tx, table, cmd.Params)
	case core.KindColumnAdd:
		return applyColumnAdd(ctx, tx, table, cmd.Params)
	default:
		return 0, fmt.Errorf("%w: %s", core.ErrUnknownKind, cmd.Kind)
	}
}

// transformExpr builds the replacement expression for a column transform.
func transformExpr(column string, p core.Params) (string, error) {
	c := quoteIdent(column)
	switch op := p.String("op"); op {
	case "trim":
		return fmt.Sprintf("trim(%s)", c), nil
	case "upper":
		return fmt.Sprintf("upper(%s)", c), nil
	case "lower":
		return fmt.Sprintf("lower(%s)", c), nil
	case "replace":
		return fmt.Sprintf("replace(%s, %s, %s)",
			c, quoteString(p.String("find")), quoteString(p.String("with"))), nil
	default:
		return "", fmt.Errorf("unknown transform op %q", op)
	}
}

func applyColumnTransform(ctx context.Context, tx *sql.Tx, table core.TableID, p core.Params) (int64, error) {
	column := p.String("column")
	expr, err := transformExpr(column, p)
	if err != nil {
		return 0, err
	}

	t := quoteIdent(string(table))
	c := quoteIdent(column)

	// Rows affected counts values the transform actually changes, not the
	// table size; this is what the audit log reports.
	var affected int64
	countStmt := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s IS DISTINCT FROM %s", t, c, expr)
	if err := tx.QueryRowContext(ctx, countStmt).Scan(&affected); err != nil {
		return 0, fmt.Errorf("count changed rows: %w", err)
	}

	updateStmt := fmt.Sprintf("UPDATE %s SET %s = %s", t, c, expr)
	if _, err := tx.ExecContext(ctx, updateStmt); err != nil {
		return 0, fmt.Errorf("transform %s: %w", column, err)
	}
	return affected, nil
}

// scrubExpr builds the replacement expression for a scrub rule. Expressions
// using random() are made deterministic by the setseed call in
// applyScrubRule.
func scrubExpr(column string, p core.Params) (string, error) {
	c := quoteIdent(column)
	switch alg := p.String("algorithm"); alg {
	case "hash":
		return fmt.Sprintf("md5(cast(%s AS VARCHAR))", c), nil
	case "mask":
		return fmt.Sprintf("repeat('*', length(cast(%s AS VARCHAR)))", c), nil
	case "jitter_days":
		days := p.Int64("days")
		if days <= 0 {
			days = 30
		}
		return fmt.Sprintf("%s + CAST(floor(random() * %d) - %d AS INTEGER)", c, 2*days+1, days), nil
	case "scramble_digits":
		return fmt.Sprintf(
			"regexp_replace(cast(%s AS VARCHAR), '[0-9]', cast(CAST(floor(random() * 10) AS INTEGER) AS VARCHAR), 'g')", c), nil
	default:
		return "", fmt.Errorf("unknown scrub algorithm %q", alg)
	}
}

func applyScrubRule(ctx context.Context, tx *sql.Tx, table core.TableID, p core.Params) (int64, error) {
	column := p.String("column")
	expr, err := scrubExpr(column, p)
	if err != nil {
		return 0, err
	}

	t := quoteIdent(string(table))
	c := quoteIdent(column)

	// Seed the generator so a replayed scrub reproduces the output the
	// user originally audited. The seed was captured at construction.
	if _, err := tx.ExecContext(ctx, "SELECT setseed(?)", p.Float64("seed")); err != nil {
		return 0, fmt.Errorf("setseed: %w", err)
	}

	var affected int64
	countStmt := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s IS NOT NULL", t, c)
	if err := tx.QueryRowContext(ctx, countStmt).Scan(&affected); err != nil {
		return 0, fmt.Errorf("count scrubbed rows: %w", err)
	}

	updateStmt := fmt.Sprintf("UPDATE %s SET %s = %s", t, c, expr)
	if _, err := tx.ExecContext(ctx, updateStmt); err != nil {
		return 0, fmt.Errorf("scrub %s: %w", column, err)
	}
	return affected, nil
}

func applyManualCellEdit(ctx context.Context, tx *sql.Tx, table core.TableID, p core.Params) (int64, error) {
	t := quoteIdent(string(table))
	c := quoteIdent(p.String("column"))
	k := quoteIdent(p.String("key_col"))

	var affected int64
	countStmt := fmt.Sprintf("SELECT count(*) FROM %s WHERE cast(%s AS VARCHAR) = ?", t, k)
	if err := tx.QueryRowContext(ctx, countStmt, p.String("key_value")).Scan(&affected); err != nil {
		return 0, fmt.Errorf("count matching rows: %w", err)
	}

	updateStmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE cast(%s AS VARCHAR) = ?", t, c, k)
	if _, err := tx.ExecContext(ctx, updateStmt, p.String("value"), p.String("key_value")); err != nil {
		return 0, fmt.Errorf("edit cell: %w", err)
	}
	return affected, nil
}

func applyRowInsert(ctx context.Context, tx *sql.Tx, table core.TableID, p core.Params) (int64, error) {
	values, ok := p["values"].(map[string]any)
	if !ok || len(values) == 0 {
		return 0, fmt.Errorf("row insert requires values")
	}

	// Sorted columns keep the generated statement stable across replays.
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdent(col)
		placeholders[i] = "?"
		args[i] = values[col]
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(string(table)), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return 0, fmt.Errorf("insert row: %w", err)
	}
	return 1, nil
}

func applyRowDelete(ctx context.Context, tx *sql.Tx, table core.TableID, p core.Params) (int64, error) {
	t := quoteIdent(string(table))
	k := quoteIdent(p.String("key_col"))

	var affected int64
	countStmt := fmt.Sprintf("SELECT count(*) FROM %s WHERE cast(%s AS VARCHAR) = ?", t, k)
	if err := tx.QueryRowContext(ctx, countStmt, p.String("key_value")).Scan(&affected); err != nil {
		return 0, fmt.Errorf("count matching rows: %w", err)
	}

	deleteStmt := fmt.Sprintf("DELETE FROM %s WHERE cast(%s AS VARCHAR) = ?", t, k)
	if _, err := tx.ExecContext(ctx, deleteStmt, p.String("key_value")); err != nil {
		return 0, fmt.Errorf("delete rows: %w", err)
	}
	return affected, nil
}

func applyRecordMerge(ctx context.Context, tx *sql.Tx, table core.TableID, p core.Params) (int64, error) {
	keyCols := p.Strings("key_cols")
	if len(keyCols) == 0 {
		return 0, fmt.Errorf("record merge requires key columns")
	}

	t := quoteIdent(string(table))
	quoted := make([]string, len(keyCols))
	for i, col := range keyCols {
		quoted[i] = quoteIdent(col)
	}
	partition := strings.Join(quoted, ", ")

	var before int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", t)).Scan(&before); err != nil {
		return 0, fmt.Errorf("count rows before merge: %w", err)
	}

	// ORDER BY ALL makes the surviving row of each group deterministic, so
	// replaying the merge reconstructs the same table.
	mergeStmt := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM %s QUALIFY row_number() OVER (PARTITION BY %s ORDER BY ALL) = 1",
		t, t, partition)
	if _, err := tx.ExecContext(ctx, mergeStmt); err != nil {
		return 0, fmt.Errorf("merge duplicates: %w", err)
	}

	var after int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", t)).Scan(&after); err != nil {
		return 0, fmt.Errorf("count rows after merge: %w", err)
	}
	return before - after, nil
}

func applyColumnAdd(ctx context.Context, tx *sql.Tx, table core.TableID, p core.Params) (int64, error) {
	t := quoteIdent(string(table))
	c := quoteIdent(p.String("column"))

	sqlType := p.String("type")
	if sqlType == "" {
		sqlType = "VARCHAR"
	}

	alterStmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", t, c, sqlType)
	if _, err := tx.ExecContext(ctx, alterStmt); err != nil {
		return 0, fmt.Errorf("add column: %w", err)
	}

	expr := p.String("expression")
	if expr == "" {
		return 0, nil
	}

	var affected int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", t)).Scan(&affected); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}

	updateStmt := fmt.Sprintf("UPDATE %s SET %s = (%s)", t, c, expr) //nolint:gosec // expression is the user's own SQL against their local database
	if _, err := tx.ExecContext(ctx, updateStmt); err != nil {
		return 0, fmt.Errorf("populate column: %w", err)
	}
	return affected, nil
}
