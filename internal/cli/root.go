package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/lu-zhengda/quotemail/internal/app"
	"github.com/lu-zhengda/quotemail/internal/audit"
	"github.com/lu-zhengda/quotemail/internal/auth"
	"github.com/lu-zhengda/quotemail/internal/catalog"
	"github.com/lu-zhengda/quotemail/internal/config"
	"github.com/lu-zhengda/quotemail/internal/match"
	"github.com/lu-zhengda/quotemail/internal/provider/gmail"
	"github.com/lu-zhengda/quotemail/internal/reply"
	"github.com/lu-zhengda/quotemail/internal/store"
	"github.com/lu-zhengda/quotemail/internal/store/sqlite"
)

var (
	// version is set via ldflags at build time.
	version = "dev"
	cfgFile string

	// jsonFlag enables JSON output and JSON logs for all commands.
	jsonFlag bool
	logLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quotemail",
		Short: "Reply to customer emails with catalog quotes",
		Long: "Reads the inbox, replies with prices to messages that ask for catalog items,\n" +
			"files answered messages and writes an audit report.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := runBatch(cmd.Context(), false)
			if sum != nil {
				if jsonFlag {
					if perr := printJSON(toJSONSummary(sum)); perr != nil {
						return perr
					}
				} else {
					renderSummary(cmd.OutOrStdout(), sum)
				}
			}
			return err
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("quotemail %s\n", version))
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output and log in JSON format")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
	root.AddCommand(newCheckCmd())
	root.AddCommand(newResetCmd())
	root.AddCommand(newHistoryCmd())
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		log, _ := newLogger(os.Stderr, "error", jsonFlag)
		log.Error().Err(err).Msg("quotemail failed")
		os.Exit(1)
	}
}

// newLogger builds the process logger: human-readable on a terminal, one
// JSON object per line with --json.
func newLogger(w io.Writer, level string, jsonOut bool) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level = strings.TrimSpace(level); level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	if !jsonOut {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// setup loads env files and the config file and builds the logger.
func setup() (*config.Config, zerolog.Logger, error) {
	if err := config.LoadEnvFiles(config.DefaultEnvFiles...); err != nil {
		return nil, zerolog.Nop(), err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	level := logLevel
	if level == "" {
		level = cfg.Log.Level
	}
	log, err := newLogger(os.Stderr, level, jsonFlag)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

// runBatch wires every component from the config and runs one batch. The
// run stops between messages on SIGINT or SIGTERM.
func runBatch(parent context.Context, dryRun bool) (*app.Summary, error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	authority, err := auth.NewLoopbackAuthority(auth.LoopbackConfig{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Addr:         cfg.Auth.RedirectAddr,
		Timeout:      cfg.Auth.Timeout.Duration,
		Out:          os.Stderr,
	}, log)
	if err != nil {
		if errors.Is(err, auth.ErrMissingCredentials) {
			return nil, fmt.Errorf("%w: set client_id and client_secret in %s or QUOTEMAIL_CLIENT_ID/QUOTEMAIL_CLIENT_SECRET",
				err, configPath())
		}
		return nil, err
	}
	mgr := auth.NewManager(newCredentialStore(cfg), authority, auth.WithLogger(log))

	mailbox, err := gmail.New(ctx, mgr.TokenSource(ctx), gmail.Config{
		Timeout:     cfg.Network.Timeout.Duration,
		MaxAttempts: cfg.Network.MaxAttempts,
	}, log)
	if err != nil {
		return nil, err
	}

	mode, err := match.ParseMode(cfg.Match.Mode)
	if err != nil {
		return nil, err
	}
	matcher := match.New(
		match.WithMode(mode),
		match.WithFuzzyThreshold(cfg.Match.FuzzyThreshold),
		match.WithLogger(log),
	)

	db, err := openDB()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	fs := afero.NewOsFs()
	svc := app.NewQuoteService(app.Deps{
		Tokens:   mgr,
		Catalog:  catalog.NewFileLoader(fs, cfg.Catalog.ItemsPath, cfg.Catalog.CustomersPath, log),
		Mailbox:  mailbox,
		Matcher:  matcher,
		Composer: reply.Composer{Greeting: cfg.Reply.Greeting, Signature: cfg.Reply.Signature},
		Store:    db,
		Sink:     audit.NewCSVSink(fs, cfg.Audit.Path),
	}, app.Options{
		Folder:        cfg.Mailbox.Folder,
		RepliedFolder: cfg.Mailbox.RepliedFolder,
		PageSize:      cfg.Mailbox.PageSize,
		DryRun:        dryRun,
	}, log)

	return svc.Run(ctx)
}

// newCredentialStore picks the credential cache backend from the config.
func newCredentialStore(cfg *config.Config) store.CredentialStore {
	if cfg.Auth.Cache == config.CacheKeyring {
		return store.NewKeyringCredentialStore(cfg.Auth.ClientID)
	}
	return store.NewFileCredentialStore(afero.NewOsFs(), cfg.CredentialCachePath())
}

// openDB creates the data directory and opens the SQLite database.
func openDB() (*sqlite.DB, error) {
	dataDir := config.DataDir()
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "quotemail.db")
	db, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(config.ConfigDir(), "config.toml")
}

// loadConfig loads the application configuration from the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
