package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all quotemail configuration.
type Config struct {
	Auth    AuthConfig    `toml:"auth"`
	Mailbox MailboxConfig `toml:"mailbox"`
	Catalog CatalogConfig `toml:"catalog"`
	Match   MatchConfig   `toml:"match"`
	Reply   ReplyConfig   `toml:"reply"`
	Audit   AuditConfig   `toml:"audit"`
	Network NetworkConfig `toml:"network"`
	Log     LogConfig     `toml:"log"`
}

// AuthConfig holds the OAuth client and the credential cache settings.
// No credentials are embedded in the binary.
type AuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectAddr string `toml:"redirect_addr"`
	// Cache is "file" or "keyring".
	Cache     string   `toml:"cache"`
	CachePath string   `toml:"cache_path"`
	Timeout   Duration `toml:"timeout"`
}

type MailboxConfig struct {
	Folder        string `toml:"folder"`
	RepliedFolder string `toml:"replied_folder"`
	PageSize      int    `toml:"page_size"`
}

type CatalogConfig struct {
	ItemsPath     string `toml:"items_path"`
	CustomersPath string `toml:"customers_path"`
}

type MatchConfig struct {
	Mode           string  `toml:"mode"`
	FuzzyThreshold float64 `toml:"fuzzy_threshold"`
}

// ReplyConfig overrides the reply template. Empty values keep the built-in
// wording.
type ReplyConfig struct {
	Greeting  string `toml:"greeting"`
	Signature string `toml:"signature"`
}

type AuditConfig struct {
	Path string `toml:"path"`
}

type NetworkConfig struct {
	Timeout     Duration `toml:"timeout"`
	MaxAttempts int      `toml:"max_attempts"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string such as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

const (
	CacheFile    = "file"
	CacheKeyring = "keyring"
)

func defaults() Config {
	return Config{
		Auth: AuthConfig{
			RedirectAddr: "127.0.0.1:4001",
			Cache:        CacheFile,
			Timeout:      Duration{5 * time.Minute},
		},
		Mailbox: MailboxConfig{
			Folder:        "INBOX",
			RepliedFolder: "Replied",
			PageSize:      100,
		},
		Catalog: CatalogConfig{
			ItemsPath:     filepath.Join("demo_data", "demodata.csv"),
			CustomersPath: filepath.Join("demo_data", "customers.csv"),
		},
		Match: MatchConfig{
			Mode:           "exact",
			FuzzyThreshold: 0.8,
		},
		Audit: AuditConfig{
			Path: "audit_report.csv",
		},
		Network: NetworkConfig{
			Timeout:     Duration{30 * time.Second},
			MaxAttempts: 3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads config from path and applies environment overrides. A missing
// or empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFiles loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// DefaultEnvFiles are loaded by the CLI before the config.
var DefaultEnvFiles = []string{".env", filepath.Join("env", ".env.dev")}

func applyEnv(cfg *Config) error {
	if v := firstEnv("QUOTEMAIL_CLIENT_ID", "GMAIL_CLIENT_ID"); v != "" {
		cfg.Auth.ClientID = v
	}
	if v := firstEnv("QUOTEMAIL_CLIENT_SECRET", "GMAIL_CLIENT_SECRET"); v != "" {
		cfg.Auth.ClientSecret = v
	}
	if v := os.Getenv("QUOTEMAIL_ITEMS_CSV"); v != "" {
		cfg.Catalog.ItemsPath = v
	}
	if v := os.Getenv("QUOTEMAIL_CUSTOMERS_CSV"); v != "" {
		cfg.Catalog.CustomersPath = v
	}
	if v := os.Getenv("QUOTEMAIL_AUDIT_CSV"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("QUOTEMAIL_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QUOTEMAIL_MAX_ATTEMPTS %q: %w", v, err)
		}
		cfg.Network.MaxAttempts = n
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate rejects values no component could work with.
func (c *Config) Validate() error {
	switch c.Auth.Cache {
	case CacheFile, CacheKeyring:
	default:
		return fmt.Errorf("invalid auth.cache %q (use %s or %s)", c.Auth.Cache, CacheFile, CacheKeyring)
	}
	if c.Match.FuzzyThreshold <= 0 || c.Match.FuzzyThreshold > 1 {
		return fmt.Errorf("invalid match.fuzzy_threshold %v (must be in (0, 1])", c.Match.FuzzyThreshold)
	}
	if c.Network.MaxAttempts < 1 {
		return fmt.Errorf("invalid network.max_attempts %d (must be at least 1)", c.Network.MaxAttempts)
	}
	if c.Mailbox.PageSize < 1 || c.Mailbox.PageSize > 500 {
		return fmt.Errorf("invalid mailbox.page_size %d (must be 1-500)", c.Mailbox.PageSize)
	}
	return nil
}

// CredentialCachePath returns the configured cache path or the default file
// in the data directory.
func (c *Config) CredentialCachePath() string {
	if c.Auth.CachePath != "" {
		return c.Auth.CachePath
	}
	return filepath.Join(DataDir(), "token_cache.json")
}

// ConfigDir returns the quotemail config directory path.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quotemail")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "quotemail")
}

// DataDir returns the quotemail data directory path.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "quotemail")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "quotemail")
}
