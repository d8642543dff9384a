package store

import (
	"context"
	"time"

	"github.com/lu-zhengda/quotemail/internal/domain"
)

// Store persists run history and the ledger of replies already sent.
type Store interface {
	// Reply ledger
	HasReplied(ctx context.Context, messageID string) (bool, error)
	MarkReplied(ctx context.Context, reply *domain.SentReply) error

	// Run history
	SaveRun(ctx context.Context, run *Run, records []domain.AuditRecord) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	RunRecords(ctx context.Context, runID string) ([]domain.AuditRecord, error)

	// Lifecycle
	Close() error
}

// Run summarises one batch invocation.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Fetched    int
	Included   int
	Replied    int
	Failed     int
}

// CredentialStore holds the single cached credential for the mailbox.
type CredentialStore interface {
	// Load returns nil, nil when nothing has been cached yet.
	Load() (*domain.Credential, error)
	// Save replaces the cached credential entirely.
	Save(cred *domain.Credential) error
	Delete() error
}
