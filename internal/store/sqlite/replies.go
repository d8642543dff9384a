package sqlite

import (
	"context"
	"fmt"

	"github.com/lu-zhengda/quotemail/internal/domain"
)

// HasReplied reports whether a reply to messageID was already sent.
func (s *DB) HasReplied(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sent_replies WHERE message_id = ?`, messageID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up reply for %s: %w", messageID, err)
	}
	return n > 0, nil
}

// MarkReplied records a sent reply. Recording the same message twice keeps
// the first entry.
func (s *DB) MarkReplied(ctx context.Context, r *domain.SentReply) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sent_replies (message_id, sender, subject, sent_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		r.MessageID, r.Sender, r.Subject, r.SentAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record reply for %s: %w", r.MessageID, err)
	}
	return nil
}
