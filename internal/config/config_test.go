package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"QUOTEMAIL_CLIENT_ID", "QUOTEMAIL_CLIENT_SECRET",
		"GMAIL_CLIENT_ID", "GMAIL_CLIENT_SECRET",
		"QUOTEMAIL_ITEMS_CSV", "QUOTEMAIL_CUSTOMERS_CSV", "QUOTEMAIL_AUDIT_CSV",
		"QUOTEMAIL_MAX_ATTEMPTS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Auth.RedirectAddr != "127.0.0.1:4001" {
		t.Errorf("redirect_addr = %q, want %q", cfg.Auth.RedirectAddr, "127.0.0.1:4001")
	}
	if cfg.Auth.Timeout.Duration != 5*time.Minute {
		t.Errorf("auth timeout = %v, want 5m", cfg.Auth.Timeout.Duration)
	}
	if cfg.Auth.Cache != CacheFile {
		t.Errorf("cache = %q, want %q", cfg.Auth.Cache, CacheFile)
	}
	if cfg.Mailbox.Folder != "INBOX" || cfg.Mailbox.RepliedFolder != "Replied" {
		t.Errorf("mailbox = %+v, want INBOX / Replied", cfg.Mailbox)
	}
	if cfg.Match.Mode != "exact" || cfg.Match.FuzzyThreshold != 0.8 {
		t.Errorf("match = %+v, want exact / 0.8", cfg.Match)
	}
	if cfg.Network.Timeout.Duration != 30*time.Second || cfg.Network.MaxAttempts != 3 {
		t.Errorf("network = %+v, want 30s / 3", cfg.Network)
	}
	if cfg.Catalog.ItemsPath != filepath.Join("demo_data", "demodata.csv") {
		t.Errorf("items_path = %q", cfg.Catalog.ItemsPath)
	}
}

func TestLoad_FromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	content := `
[auth]
client_id = "file-id"
client_secret = "file-secret"
cache = "keyring"
timeout = "90s"

[mailbox]
replied_folder = "Quoted"
page_size = 50

[match]
mode = "fuzzy"
fuzzy_threshold = 0.9

[reply]
signature = "Cheers,\nAcme"

[network]
timeout = "5s"
max_attempts = 5
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Auth.ClientID != "file-id" {
		t.Errorf("client_id = %q, want %q", cfg.Auth.ClientID, "file-id")
	}
	if cfg.Auth.Cache != CacheKeyring {
		t.Errorf("cache = %q, want %q", cfg.Auth.Cache, CacheKeyring)
	}
	if cfg.Auth.Timeout.Duration != 90*time.Second {
		t.Errorf("auth timeout = %v, want 90s", cfg.Auth.Timeout.Duration)
	}
	if cfg.Mailbox.RepliedFolder != "Quoted" || cfg.Mailbox.PageSize != 50 {
		t.Errorf("mailbox = %+v", cfg.Mailbox)
	}
	// Unset keys keep their defaults.
	if cfg.Mailbox.Folder != "INBOX" {
		t.Errorf("folder = %q, want default INBOX", cfg.Mailbox.Folder)
	}
	if cfg.Match.Mode != "fuzzy" || cfg.Match.FuzzyThreshold != 0.9 {
		t.Errorf("match = %+v", cfg.Match)
	}
	if cfg.Reply.Signature != "Cheers,\nAcme" {
		t.Errorf("signature = %q", cfg.Reply.Signature)
	}
	if cfg.Network.Timeout.Duration != 5*time.Second || cfg.Network.MaxAttempts != 5 {
		t.Errorf("network = %+v", cfg.Network)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	content := `
[auth]
client_id = "file-id"
client_secret = "file-secret"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUOTEMAIL_CLIENT_ID", "env-id")
	t.Setenv("GMAIL_CLIENT_SECRET", "gmail-secret")
	t.Setenv("QUOTEMAIL_ITEMS_CSV", "/data/items.csv")
	t.Setenv("QUOTEMAIL_AUDIT_CSV", "/data/audit.csv")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Auth.ClientID != "env-id" {
		t.Errorf("client_id = %q, want %q", cfg.Auth.ClientID, "env-id")
	}
	if cfg.Auth.ClientSecret != "gmail-secret" {
		t.Errorf("client_secret = %q, want GMAIL_ fallback %q", cfg.Auth.ClientSecret, "gmail-secret")
	}
	if cfg.Catalog.ItemsPath != "/data/items.csv" {
		t.Errorf("items_path = %q", cfg.Catalog.ItemsPath)
	}
	if cfg.Audit.Path != "/data/audit.csv" {
		t.Errorf("audit path = %q", cfg.Audit.Path)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load() should return defaults for missing file, got error: %v", err)
	}
	if cfg.Mailbox.Folder != "INBOX" {
		t.Errorf("folder = %q, want default %q", cfg.Mailbox.Folder, "INBOX")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(cfgPath, []byte("not valid [[ toml"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("Load() should return error for invalid TOML")
	}
	if !strings.Contains(err.Error(), "failed to parse config") {
		t.Errorf("error = %q, want it to contain %q", err.Error(), "failed to parse config")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown cache", "[auth]\ncache = \"cloud\"\n"},
		{"bad duration", "[network]\ntimeout = \"soon\"\n"},
		{"threshold too high", "[match]\nfuzzy_threshold = 1.5\n"},
		{"no attempts", "[network]\nmax_attempts = 0\n"},
		{"page too large", "[mailbox]\npage_size = 1000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfgPath := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(cfgPath, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(cfgPath); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}

func TestLoadEnvFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("QUOTEMAIL_CLIENT_ID=from-dotenv\nQUOTEMAIL_CLIENT_SECRET=kept\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUOTEMAIL_CLIENT_SECRET", "already-set")
	// godotenv only fills variables that are unset.
	os.Unsetenv("QUOTEMAIL_CLIENT_ID")

	if err := LoadEnvFiles(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadEnvFiles() error: %v", err)
	}
	if got := os.Getenv("QUOTEMAIL_CLIENT_ID"); got != "from-dotenv" {
		t.Errorf("QUOTEMAIL_CLIENT_ID = %q, want %q", got, "from-dotenv")
	}
	if got := os.Getenv("QUOTEMAIL_CLIENT_SECRET"); got != "already-set" {
		t.Errorf("QUOTEMAIL_CLIENT_SECRET = %q, want existing value kept", got)
	}
}

func TestCredentialCachePath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	cfg := defaults()
	if got := cfg.CredentialCachePath(); got != "/custom/data/quotemail/token_cache.json" {
		t.Errorf("CredentialCachePath() = %q", got)
	}
	cfg.Auth.CachePath = "/tmp/cache.json"
	if got := cfg.CredentialCachePath(); got != "/tmp/cache.json" {
		t.Errorf("CredentialCachePath() = %q, want override", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		dir := ConfigDir()
		want := "/custom/config/quotemail"
		if dir != want {
			t.Errorf("ConfigDir() = %q, want %q", dir, want)
		}
	})
	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		dir := ConfigDir()
		if !strings.HasSuffix(dir, filepath.Join(".config", "quotemail")) {
			t.Errorf("ConfigDir() = %q, want suffix %q", dir, filepath.Join(".config", "quotemail"))
		}
	})
}

func TestDataDir(t *testing.T) {
	t.Run("with XDG_DATA_HOME", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", "/custom/data")
		dir := DataDir()
		want := "/custom/data/quotemail"
		if dir != want {
			t.Errorf("DataDir() = %q, want %q", dir, want)
		}
	})
	t.Run("without XDG_DATA_HOME", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", "")
		dir := DataDir()
		if !strings.HasSuffix(dir, filepath.Join(".local", "share", "quotemail")) {
			t.Errorf("DataDir() = %q, want suffix %q", dir, filepath.Join(".local", "share", "quotemail"))
		}
	})
}
