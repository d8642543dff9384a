package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/lu-zhengda/quotemail/internal/domain"
)

// ErrNotFound is returned when a message or folder no longer exists.
var ErrNotFound = errors.New("not found")

type ListOptions struct {
	Folder     string
	PageToken  string
	MaxResults int
}

// Mailbox is the slice of a mail provider the quote run needs.
type Mailbox interface {
	ListMessages(ctx context.Context, opts ListOptions) ([]domain.Email, string, error)
	SendReply(ctx context.Context, original *domain.Email, draft domain.ReplyDraft) error

	// FindOrCreateFolder returns the ID of the folder with the given name,
	// creating it when it does not exist.
	FindOrCreateFolder(ctx context.Context, name string) (string, error)
	MoveMessage(ctx context.Context, messageID, folderID string) error
}

const DefaultPageSize = 100

// ListAll fetches every message in folder, following page tokens until the
// provider reports no more pages. Paging always starts from the first page.
func ListAll(ctx context.Context, m Mailbox, folder string, pageSize int) ([]domain.Email, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var (
		all       []domain.Email
		pageToken string
		seen      = make(map[string]bool)
	)
	for {
		msgs, next, err := m.ListMessages(ctx, ListOptions{
			Folder:     folder,
			PageToken:  pageToken,
			MaxResults: pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list messages (fetched %d so far): %w", len(all), err)
		}
		all = append(all, msgs...)

		// A page can be empty while more follow, e.g. when every message on
		// it vanished before it could be fetched.
		if next == "" {
			break
		}
		if seen[next] {
			return nil, fmt.Errorf("provider returned page token %q twice", next)
		}
		seen[next] = true
		pageToken = next
	}
	return all, nil
}
