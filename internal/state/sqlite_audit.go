package state

import (
	"context"
	"fmt"
	"time"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// AuditRecord is one stored audit entry.
type AuditRecord struct {
	ID           int64
	Table        core.TableID
	CommandID    string
	Kind         core.CommandKind
	Label        string
	RowsAffected int64
	RecordedAt   time.Time
}

// RecordAudit appends one entry to the audit log. Entries are written at
// original append time only; replay never records.
func (s *SQLiteStore) RecordAudit(ctx context.Context, entry core.AuditEntry) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (table_id, command_id, kind, label, rows_affected, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(entry.Table), entry.CommandID, string(entry.Kind), entry.Label, entry.RowsAffected, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent entries for a table, newest first.
// limit <= 0 returns everything.
func (s *SQLiteStore) ListAudit(ctx context.Context, table core.TableID, limit int) ([]AuditRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = -1 // sqlite treats a negative LIMIT as unlimited
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, table_id, command_id, kind, label, rows_affected, recorded_at
		FROM audit_log WHERE table_id = ? ORDER BY id DESC LIMIT ?
	`, string(table), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var tableID, kind string
		if err := rows.Scan(&rec.ID, &tableID, &rec.CommandID, &kind, &rec.Label, &rec.RowsAffected, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		rec.Table = core.TableID(tableID)
		rec.Kind = core.CommandKind(kind)
		entries = append(entries, rec)
	}
	return entries, rows.Err()
}

var _ core.AuditSink = (*SQLiteStore)(nil)
