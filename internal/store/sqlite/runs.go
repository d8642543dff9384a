package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lu-zhengda/quotemail/internal/domain"
	"github.com/lu-zhengda/quotemail/internal/store"
)

// SaveRun stores a run and all of its audit records in one transaction, so a
// run is either fully recorded or not at all. An empty run ID is assigned.
func (s *DB) SaveRun(ctx context.Context, run *store.Run, records []domain.AuditRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, dry_run, fetched, included, replied, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.DryRun,
		run.Fetched, run.Included, run.Replied, run.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_records (run_id, message_id, sender, subject, item_names, prices,
			domain_trusted, has_match, replied, filed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		names, err := json.Marshal(nonNil(r.ItemNames))
		if err != nil {
			return fmt.Errorf("failed to marshal item names: %w", err)
		}
		prices, err := json.Marshal(nonNil(r.Prices))
		if err != nil {
			return fmt.Errorf("failed to marshal prices: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			run.ID, r.MessageID, r.Sender, r.Subject, string(names), string(prices),
			r.DomainTrusted, r.HasMatch, r.Replied, r.Filed, r.Error,
		); err != nil {
			return fmt.Errorf("failed to insert audit record for %s: %w", r.MessageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *DB) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, dry_run, fetched, included, replied, failed
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var r store.Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.DryRun,
			&r.Fetched, &r.Included, &r.Replied, &r.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunRecords returns the audit records of one run in insertion order.
func (s *DB) RunRecords(ctx context.Context, runID string) ([]domain.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, sender, subject, item_names, prices,
			domain_trusted, has_match, replied, filed, error
		FROM audit_records WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records for run %s: %w", runID, err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var (
			r             domain.AuditRecord
			subject, errS sql.NullString
			names, prices string
		)
		if err := rows.Scan(&r.MessageID, &r.Sender, &subject, &names, &prices,
			&r.DomainTrusted, &r.HasMatch, &r.Replied, &r.Filed, &errS); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		r.Subject = subject.String
		r.Error = errS.String
		if err := json.Unmarshal([]byte(names), &r.ItemNames); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item names: %w", err)
		}
		if err := json.Unmarshal([]byte(prices), &r.Prices); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prices: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
