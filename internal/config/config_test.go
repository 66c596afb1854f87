package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Store.BusyTimeout != 5*time.Second {
		t.Fatalf("expected 5s busy timeout, got %v", cfg.Store.BusyTimeout)
	}
	if cfg.Store.AdminTag != "admin" {
		t.Fatalf("expected admin tag, got %q", cfg.Store.AdminTag)
	}
	if cfg.Server.RateLimit.RPS != 5 || cfg.Server.RateLimit.Burst != 10 {
		t.Fatalf("unexpected rate limit: %+v", cfg.Server.RateLimit)
	}
	if cfg.Logging.Format != "auto" {
		t.Fatalf("expected auto log format, got %q", cfg.Logging.Format)
	}
}

func TestMergeFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailroom.yaml")
	content := `
handle: alice
store:
  path: /tmp/mail.db
  busy_timeout: 2s
logging:
  level: debug
server:
  allowed_origins: ["http://localhost:3000"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if cfg.Handle != "alice" || cfg.Store.Path != "/tmp/mail.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Store.BusyTimeout != 2*time.Second {
		t.Fatalf("expected 2s, got %v", cfg.Store.BusyTimeout)
	}
	if cfg.Store.AdminTag != "admin" {
		t.Fatalf("expected unset keys to keep defaults, got %q", cfg.Store.AdminTag)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "auto" {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Fatalf("expected one origin, got %v", cfg.Server.AllowedOrigins)
	}
}

func TestMergeFileMissing(t *testing.T) {
	cfg := Default()
	if err := cfg.mergeFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MAILROOM_AS":              "bob",
		"MAILROOM_BUSY_TIMEOUT":    "250ms",
		"MAILROOM_BUSY_RETRIES":    "4",
		"MAILROOM_ALLOWED_ORIGINS": "http://a, http://b",
		"MAILROOM_METRICS":         "false",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Handle != "bob" || cfg.Store.BusyTimeout != 250*time.Millisecond || cfg.Store.BusyRetries != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "http://b" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.Metrics {
		t.Fatal("expected metrics disabled")
	}

	env["MAILROOM_BUSY_RETRIES"] = "many"
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Fatal("expected invalid integer to fail")
	}
}

func TestLoadDotEnvMissingIsFine(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("expected missing .env to be ignored, got %v", err)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MAILROOM_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("MAILROOM_TEST_DOTENV", "from-env")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("MAILROOM_TEST_DOTENV"); got != "from-env" {
		t.Fatalf("expected existing env to win, got %q", got)
	}
}
