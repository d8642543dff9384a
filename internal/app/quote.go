package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lu-zhengda/quotemail/internal/audit"
	"github.com/lu-zhengda/quotemail/internal/catalog"
	"github.com/lu-zhengda/quotemail/internal/domain"
	"github.com/lu-zhengda/quotemail/internal/match"
	"github.com/lu-zhengda/quotemail/internal/provider"
	"github.com/lu-zhengda/quotemail/internal/reply"
	"github.com/lu-zhengda/quotemail/internal/store"
)

const DefaultRepliedFolder = "Replied"

// TokenProvider supplies a valid access token. A failure aborts the run.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context) (string, error)
}

// Deps are the collaborators of a QuoteService.
type Deps struct {
	Tokens   TokenProvider
	Catalog  catalog.Loader
	Mailbox  provider.Mailbox
	Matcher  *match.Matcher
	Composer reply.Composer
	Store    store.Store
	Sink     audit.Sink
}

// Options control a single run.
type Options struct {
	Folder        string
	RepliedFolder string
	PageSize      int
	// DryRun evaluates and records the run history but never sends, moves,
	// writes the reply ledger or replaces the audit report.
	DryRun bool
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Fetched    int
	Included   int
	Replied    int
	Filed      int
	// Skipped counts messages answered in an earlier run.
	Skipped int
	Failed  int
	// AuditPath is where the report was written; empty when it was not.
	AuditPath string
	Records   []domain.AuditRecord
}

// QuoteService runs one batch: fetch the inbox, reply with quotes to
// messages that ask for catalog items, file them and audit every message.
type QuoteService struct {
	deps Deps
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	repliedFolderID string
}

func NewQuoteService(deps Deps, opts Options, log zerolog.Logger) *QuoteService {
	if opts.Folder == "" {
		opts.Folder = domain.LabelInbox
	}
	if opts.RepliedFolder == "" {
		opts.RepliedFolder = DefaultRepliedFolder
	}
	if deps.Matcher == nil {
		deps.Matcher = match.New(match.WithLogger(log))
	}
	return &QuoteService{deps: deps, opts: opts, log: log, now: time.Now}
}

// Run processes the folder once. Messages are handled strictly one after
// another. If ctx is cancelled between messages the audit of the messages
// handled so far is still written and ctx.Err() is returned.
func (s *QuoteService) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		RunID:     uuid.New().String(),
		StartedAt: s.now(),
		DryRun:    s.opts.DryRun,
	}
	log := s.log.With().Str("run_id", sum.RunID).Logger()

	if _, err := s.deps.Tokens.GetValidAccessToken(ctx); err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}
	log.Info().Msg("access token ready")

	cat, err := s.deps.Catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	emails, err := provider.ListAll(ctx, s.deps.Mailbox, s.opts.Folder, s.opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	sum.Fetched = len(emails)
	log.Info().Int("count", len(emails)).Str("folder", s.opts.Folder).Msg("fetched messages")

	var runErr error
	for i := range emails {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("remaining", len(emails)-i).Msg("run cancelled, stopping early")
			runErr = err
			break
		}
		rec := s.handle(ctx, log, &emails[i], cat, sum)
		sum.Records = append(sum.Records, rec)
	}
	sum.FinishedAt = s.now()

	// The flush must happen even when the run context was cancelled.
	if err := s.flush(context.WithoutCancel(ctx), log, sum); err != nil {
		return sum, errors.Join(runErr, err)
	}

	log.Info().
		Int("fetched", sum.Fetched).
		Int("included", sum.Included).
		Int("replied", sum.Replied).
		Int("filed", sum.Filed).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Msg("run complete")
	return sum, runErr
}

// handle evaluates one message and, when it asks for catalog items, replies
// and files it. Failures are logged and recorded, never returned.
func (s *QuoteService) handle(ctx context.Context, runLog zerolog.Logger, email *domain.Email, cat *catalog.Catalog, sum *Summary) domain.AuditRecord {
	log := runLog.With().Str("message_id", email.ID).Logger()

	res := s.deps.Matcher.Evaluate(*email, cat.Items, cat.Domains)
	rec := domain.NewAuditRecord(res)
	log.Info().
		Str("sender", email.From.Email).
		Time("received", email.Date).
		Str("domain", res.SenderDomain).
		Bool("domain_trusted", res.DomainTrusted).
		Int("matched", len(res.MatchedItems)).
		Bool("included", res.Included).
		Msg("evaluated message")

	if res.Included {
		sum.Included++
	}
	if !res.Included || !res.HasMatch() {
		return rec
	}
	if s.opts.DryRun {
		log.Info().Msg("dry run, reply not sent")
		return rec
	}

	replied, err := s.deps.Store.HasReplied(ctx, email.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to check reply ledger, leaving message alone")
		rec.Error = err.Error()
		sum.Failed++
		return rec
	}
	if replied {
		// An earlier run sent the reply but could not file the message.
		sum.Skipped++
		log.Info().Msg("reply already sent in an earlier run, filing only")
		s.file(ctx, log, email, &rec, sum)
		return rec
	}

	draft := s.deps.Composer.Compose(email.Subject, res.MatchedItems)
	if err := s.deps.Mailbox.SendReply(ctx, email, draft); err != nil {
		log.Error().Err(err).Msg("failed to send reply")
		rec.Error = err.Error()
		sum.Failed++
		return rec
	}
	rec.Replied = true
	sum.Replied++
	log.Info().Strs("items", rec.ItemNames).Msg("reply sent")

	err = s.deps.Store.MarkReplied(ctx, &domain.SentReply{
		MessageID: email.ID,
		Sender:    email.From.Email,
		Subject:   email.Subject,
		SentAt:    s.now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to record reply in ledger")
	}

	s.file(ctx, log, email, &rec, sum)
	return rec
}

// file moves the message into the replied folder. A failure here never
// leads to the reply being sent again.
func (s *QuoteService) file(ctx context.Context, log zerolog.Logger, email *domain.Email, rec *domain.AuditRecord, sum *Summary) {
	folderID, err := s.repliedFolder(ctx)
	if err == nil {
		err = s.deps.Mailbox.MoveMessage(ctx, email.ID, folderID)
	}
	if err != nil {
		log.Error().Err(err).Str("folder", s.opts.RepliedFolder).Msg("failed to file message")
		rec.Error = err.Error()
		sum.Failed++
		return
	}
	rec.Filed = true
	sum.Filed++
	log.Info().Str("folder", s.opts.RepliedFolder).Msg("message filed")
}

// repliedFolder resolves the replied folder once per run. Failures are not
// cached so the next message tries again.
func (s *QuoteService) repliedFolder(ctx context.Context) (string, error) {
	if s.repliedFolderID != "" {
		return s.repliedFolderID, nil
	}
	id, err := s.deps.Mailbox.FindOrCreateFolder(ctx, s.opts.RepliedFolder)
	if err != nil {
		return "", fmt.Errorf("failed to resolve folder %q: %w", s.opts.RepliedFolder, err)
	}
	s.repliedFolderID = id
	return id, nil
}

// flush writes the audit report and the run history in one go at the end of
// the run.
func (s *QuoteService) flush(ctx context.Context, log zerolog.Logger, sum *Summary) error {
	var errs []error

	if !s.opts.DryRun {
		if err := s.deps.Sink.Write(sum.Records); err != nil {
			errs = append(errs, err)
		} else {
			sum.AuditPath = s.deps.Sink.Path()
			log.Info().
				Int("records", len(sum.Records)).
				Str("path", sum.AuditPath).
				Msg("audit report written")
		}
	}

	run := &store.Run{
		ID:         sum.RunID,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		DryRun:     sum.DryRun,
		Fetched:    sum.Fetched,
		Included:   sum.Included,
		Replied:    sum.Replied,
		Failed:     sum.Failed,
	}
	if err := s.deps.Store.SaveRun(ctx, run, sum.Records); err != nil {
		errs = append(errs, fmt.Errorf("failed to save run history: %w", err))
	}

	return errors.Join(errs...)
}
