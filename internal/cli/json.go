package cli

import (
	"time"

	"github.com/lu-zhengda/quotemail/internal/app"
	"github.com/lu-zhengda/quotemail/internal/domain"
	"github.com/lu-zhengda/quotemail/internal/store"
)

// ---------------------------------------------------------------------------
// Run summary JSON types (root, check)
// ---------------------------------------------------------------------------

type jsonSummary struct {
	RunID      string       `json:"run_id"`
	StartedAt  string       `json:"started_at"`
	FinishedAt string       `json:"finished_at"`
	DryRun     bool         `json:"dry_run"`
	Fetched    int          `json:"fetched"`
	Included   int          `json:"included"`
	Replied    int          `json:"replied"`
	Filed      int          `json:"filed"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	AuditPath  string       `json:"audit_path,omitempty"`
	Records    []jsonRecord `json:"records"`
}

func toJSONSummary(sum *app.Summary) jsonSummary {
	return jsonSummary{
		RunID:      sum.RunID,
		StartedAt:  sum.StartedAt.Format(time.RFC3339),
		FinishedAt: sum.FinishedAt.Format(time.RFC3339),
		DryRun:     sum.DryRun,
		Fetched:    sum.Fetched,
		Included:   sum.Included,
		Replied:    sum.Replied,
		Filed:      sum.Filed,
		Skipped:    sum.Skipped,
		Failed:     sum.Failed,
		AuditPath:  sum.AuditPath,
		Records:    toJSONRecords(sum.Records),
	}
}

// ---------------------------------------------------------------------------
// Audit record JSON types (history <run-id>)
// ---------------------------------------------------------------------------

type jsonRecord struct {
	MessageID     string    `json:"message_id"`
	Sender        string    `json:"sender"`
	Subject       string    `json:"subject"`
	Items         []string  `json:"items"`
	Prices        []float64 `json:"prices"`
	DomainTrusted bool      `json:"domain_trusted"`
	HasMatch      bool      `json:"has_match"`
	Replied       bool      `json:"replied"`
	Filed         bool      `json:"filed"`
	Error         string    `json:"error,omitempty"`
}

func toJSONRecords(records []domain.AuditRecord) []jsonRecord {
	out := make([]jsonRecord, 0, len(records))
	for _, r := range records {
		items := r.ItemNames
		if items == nil {
			items = []string{}
		}
		prices := r.Prices
		if prices == nil {
			prices = []float64{}
		}
		out = append(out, jsonRecord{
			MessageID:     r.MessageID,
			Sender:        r.Sender,
			Subject:       r.Subject,
			Items:         items,
			Prices:        prices,
			DomainTrusted: r.DomainTrusted,
			HasMatch:      r.HasMatch,
			Replied:       r.Replied,
			Filed:         r.Filed,
			Error:         r.Error,
		})
	}
	return out
}

// ---------------------------------------------------------------------------
// Run JSON types (history)
// ---------------------------------------------------------------------------

type jsonRun struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	DryRun     bool   `json:"dry_run"`
	Fetched    int    `json:"fetched"`
	Included   int    `json:"included"`
	Replied    int    `json:"replied"`
	Failed     int    `json:"failed"`
}

func toJSONRuns(runs []store.Run) []jsonRun {
	out := make([]jsonRun, 0, len(runs))
	for _, r := range runs {
		out = append(out, jsonRun{
			ID:         r.ID,
			StartedAt:  r.StartedAt.Format(time.RFC3339),
			FinishedAt: r.FinishedAt.Format(time.RFC3339),
			DryRun:     r.DryRun,
			Fetched:    r.Fetched,
			Included:   r.Included,
			Replied:    r.Replied,
			Failed:     r.Failed,
		})
	}
	return out
}
