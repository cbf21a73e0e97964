// Package dataset implements the dataset engine boundary on DuckDB.
// It owns the live tables and knows how to compile each command kind into
// SQL; the timeline never sees any of this.
package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/nitro41992/cleanslate/pkg/core"
)

// Engine applies commands to live DuckDB tables.
type Engine struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens a DuckDB database at path. Use ":memory:" for an in-memory
// database (snapshots still work; they live in separate Parquet files).
func New(path string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	return &Engine{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (e *Engine) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// DB exposes the underlying connection pool. The snapshot store shares it
// so COPY statements address the same catalog.
func (e *Engine) DB() *sql.DB {
	return e.db
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTableName reports whether name is usable as a table identifier.
func ValidTableName(name string) bool {
	return tableNameRe.MatchString(name)
}

// ExecuteCommand applies one command inside a transaction so that
// multi-statement kinds are atomic as observed by the timeline. The
// resulting state is read inside the same transaction, before commit: a
// failed state read aborts the whole command rather than committing a
// mutation the caller was told failed.
func (e *Engine) ExecuteCommand(ctx context.Context, table core.TableID, cmd core.Command) (core.ApplyResult, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return core.ApplyResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rowsAffected, err := applyCommand(ctx, tx, table, cmd)
	if err != nil {
		return core.ApplyResult{}, &core.CommandFailure{Command: cmd, Err: err}
	}

	state, err := currentState(ctx, tx, table)
	if err != nil {
		return core.ApplyResult{}, &core.CommandFailure{Command: cmd, Err: fmt.Errorf("read state after apply: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return core.ApplyResult{}, &core.CommandFailure{Command: cmd, Err: fmt.Errorf("commit: %w", err)}
	}

	e.logger.Debug("command applied",
		"table", table, "kind", cmd.Kind, "label", cmd.Label, "rows_affected", rowsAffected)

	return core.ApplyResult{RowsAffected: rowsAffected, State: state}, nil
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CurrentState returns the table's row count and schema, in column order.
func (e *Engine) CurrentState(ctx context.Context, table core.TableID) (core.TableState, error) {
	return currentState(ctx, e.db, table)
}

func currentState(ctx context.Context, q querier, table core.TableID) (core.TableState, error) {
	query := `
		SELECT column_name, data_type, is_nullable, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = 'main' AND table_name = ?
		ORDER BY ordinal_position
	`

	rows, err := q.QueryContext(ctx, query, string(table))
	if err != nil {
		return core.TableState{}, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.Column
	for rows.Next() {
		var col core.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return core.TableState{}, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return core.TableState{}, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(columns) == 0 {
		return core.TableState{}, fmt.Errorf("table %s not found", table)
	}

	var rowCount int64
	countQuery := fmt.Sprintf("SELECT count(*) FROM %s", quoteIdent(string(table)))
	if err := q.QueryRowContext(ctx, countQuery).Scan(&rowCount); err != nil {
		return core.TableState{}, fmt.Errorf("failed to count rows: %w", err)
	}

	return core.TableState{RowCount: rowCount, Columns: columns}, nil
}

// LoadCSV creates the table from a CSV file with inferred schema. The
// table must not already exist.
func (e *Engine) LoadCSV(ctx context.Context, table core.TableID, filePath string) error {
	if !ValidTableName(string(table)) {
		return fmt.Errorf("invalid table name %q", table)
	}

	stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_csv_auto(%s)",
		quoteIdent(string(table)), quoteString(filePath))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to load csv into %s: %w", table, err)
	}

	e.logger.Info("csv loaded", "table", table, "path", filePath)
	return nil
}

// DropTable removes the live table. Dropping a missing table is not an
// error so that cleanup paths are idempotent.
func (e *Engine) DropTable(ctx context.Context, table core.TableID) error {
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(string(table)))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	return nil
}

// TableExists reports whether the live table is present in the catalog.
func (e *Engine) TableExists(ctx context.Context, table core.TableID) (bool, error) {
	var n int
	err := e.db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_schema = 'main' AND table_name = ?`,
		string(table),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return n > 0, nil
}

// ListTables returns the names of all live tables in the main schema.
func (e *Engine) ListTables(ctx context.Context) ([]core.TableID, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []core.TableID
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, core.TableID(name))
	}
	return tables, rows.Err()
}

var _ core.DatasetEngine = (*Engine)(nil)
