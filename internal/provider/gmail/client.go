// Package gmail implements provider.Mailbox on top of the Gmail API.
// Folders are Gmail labels: moving a message adds the target label and
// removes INBOX.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/lu-zhengda/quotemail/internal/domain"
	"github.com/lu-zhengda/quotemail/internal/provider"
)

const userID = "me"

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
)

// Config tunes network behaviour. Zero values use the defaults.
type Config struct {
	// Timeout bounds each individual API request.
	Timeout time.Duration
	// MaxAttempts counts the first try.
	MaxAttempts    int
	InitialBackoff time.Duration
	// Endpoint overrides the API base URL.
	Endpoint string
}

// Client implements provider.Mailbox for Gmail.
type Client struct {
	service        *gmailapi.Service
	breaker        *gobreaker.CircuitBreaker
	timeout        time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	log            zerolog.Logger

	mu     sync.Mutex
	labels map[string]string // lower-cased name or ID -> ID
}

// New creates a Gmail client. Every request asks ts for the bearer token,
// so a token refreshed mid-run is picked up by the next request.
func New(ctx context.Context, ts oauth2.TokenSource, cfg Config, log zerolog.Logger) (*Client, error) {
	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
	}
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	srv, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	c := &Client{
		service:        srv,
		timeout:        cfg.Timeout,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		log:            log,
		labels:         make(map[string]string),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = 500 * time.Millisecond
	}
	c.breaker = newBreaker(c)
	return c, nil
}

// ListMessages returns a page of emails in the given folder. Messages that
// disappear between listing and fetching are skipped.
func (c *Client) ListMessages(ctx context.Context, opts provider.ListOptions) ([]domain.Email, string, error) {
	folder := opts.Folder
	if folder == "" {
		folder = domain.LabelInbox
	}
	labelID, err := c.resolveLabel(ctx, folder)
	if err != nil {
		return nil, "", err
	}

	listCall := c.service.Users.Messages.List(userID).LabelIds(labelID)
	if opts.MaxResults > 0 {
		listCall = listCall.MaxResults(int64(opts.MaxResults))
	}
	if opts.PageToken != "" {
		listCall = listCall.PageToken(opts.PageToken)
	}

	var resp *gmailapi.ListMessagesResponse
	err = c.call(ctx, "list gmail messages", isTransient, func(ctx context.Context) error {
		var err error
		resp, err = listCall.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, "", err
	}

	emails := make([]domain.Email, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		var msg *gmailapi.Message
		err := c.call(ctx, "get gmail message "+m.Id, isTransient, func(ctx context.Context) error {
			var err error
			msg, err = c.service.Users.Messages.Get(userID, m.Id).
				Format("full").Context(ctx).Do()
			return err
		})
		if errors.Is(err, provider.ErrNotFound) {
			c.log.Warn().Str("message_id", m.Id).Msg("message vanished before it could be fetched")
			continue
		}
		if err != nil {
			return nil, "", err
		}
		emails = append(emails, *mapMessage(msg))
	}

	return emails, resp.NextPageToken, nil
}

// SendReply sends draft as a reply in the original's thread.
func (c *Client) SendReply(ctx context.Context, original *domain.Email, draft domain.ReplyDraft) error {
	raw := buildReply(original, draft)
	msg := &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadId: original.ThreadID,
	}
	return c.call(ctx, "send reply to "+original.ID, isRateLimited, func(ctx context.Context) error {
		_, err := c.service.Users.Messages.Send(userID, msg).Context(ctx).Do()
		return err
	})
}

// FindOrCreateFolder returns the ID of the label called name, creating a
// user label when none exists.
func (c *Client) FindOrCreateFolder(ctx context.Context, name string) (string, error) {
	id, err := c.resolveLabel(ctx, name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, provider.ErrNotFound) {
		return "", err
	}

	var created *gmailapi.Label
	label := &gmailapi.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}
	err = c.call(ctx, "create label "+name, isTransient, func(ctx context.Context) error {
		var err error
		created, err = c.service.Users.Labels.Create(userID, label).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.labels[strings.ToLower(created.Name)] = created.Id
	c.labels[strings.ToLower(created.Id)] = created.Id
	c.mu.Unlock()

	c.log.Info().Str("folder", name).Str("label_id", created.Id).Msg("created folder")
	return created.Id, nil
}

// MoveMessage files a message under folderID and takes it out of the inbox.
func (c *Client) MoveMessage(ctx context.Context, messageID, folderID string) error {
	req := &gmailapi.ModifyMessageRequest{
		AddLabelIds:    []string{folderID},
		RemoveLabelIds: []string{domain.LabelInbox},
	}
	return c.call(ctx, "move message "+messageID, isTransient, func(ctx context.Context) error {
		_, err := c.service.Users.Messages.Modify(userID, messageID, req).Context(ctx).Do()
		return err
	})
}

// ListLabels returns all labels for the authenticated user.
func (c *Client) ListLabels(ctx context.Context) ([]domain.Label, error) {
	var resp *gmailapi.ListLabelsResponse
	err := c.call(ctx, "list gmail labels", isTransient, func(ctx context.Context) error {
		var err error
		resp, err = c.service.Users.Labels.List(userID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	labels := make([]domain.Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labelType := domain.LabelTypeUser
		if l.Type == "system" {
			labelType = domain.LabelTypeSystem
		}
		labels = append(labels, domain.Label{
			ID:   l.Id,
			Name: l.Name,
			Type: labelType,
		})
	}
	return labels, nil
}

// resolveLabel maps a label name or ID to its ID. Label names are
// case-insensitive in Gmail.
func (c *Client) resolveLabel(ctx context.Context, nameOrID string) (string, error) {
	key := strings.ToLower(nameOrID)

	c.mu.Lock()
	id, ok := c.labels[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	labels, err := c.ListLabels(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range labels {
		c.labels[strings.ToLower(l.Name)] = l.ID
		c.labels[strings.ToLower(l.ID)] = l.ID
	}
	if id, ok := c.labels[key]; ok {
		return id, nil
	}
	return "", fmt.Errorf("label %q: %w", nameOrID, provider.ErrNotFound)
}

// buildReply constructs an RFC 5322 reply to original.
func buildReply(original *domain.Email, draft domain.ReplyDraft) string {
	var b strings.Builder

	to := mail.Address{Name: original.From.Name, Address: original.From.Email}
	b.WriteString("To: " + to.String() + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", draft.Subject) + "\r\n")

	if original.MessageID != "" {
		b.WriteString("In-Reply-To: " + original.MessageID + "\r\n")
		b.WriteString("References: " + original.MessageID + "\r\n")
	}

	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(draft.Body, "\n", "\r\n"))

	return b.String()
}

// Compile-time interface compliance check.
var _ provider.Mailbox = (*Client)(nil)
