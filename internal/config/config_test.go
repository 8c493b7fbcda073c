package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SCRIPTORIA_CONFIG", "SCRIPTORIA_ADDR", "SCRIPTORIA_HISTORY", "OPENAI_API_KEY",
		"OPENAI_API_BASE", "SCRIPTORIA_MODEL", "SCRIPTORIA_CACHE_SIZE", "SCRIPTORIA_LOG_LEVEL",
		"SCRIPTORIA_LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
	// SCRIPTORIA_ARCHIVE is checked with LookupEnv, so it must be absent rather than empty.
	if v, ok := os.LookupEnv("SCRIPTORIA_ARCHIVE"); ok {
		_ = os.Unsetenv("SCRIPTORIA_ARCHIVE")
		t.Cleanup(func() { _ = os.Setenv("SCRIPTORIA_ARCHIVE", v) })
	}
	t.Setenv("HOME", t.TempDir())
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != DefaultAddr {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if filepath.Base(cfg.HistoryPath) != "history.json" {
		t.Fatalf("history path=%q", cfg.HistoryPath)
	}
	if cfg.ResolvedArchivePath() != filepath.Join(filepath.Dir(cfg.HistoryPath), "archive.sqlite") {
		t.Fatalf("archive path=%q", cfg.ResolvedArchivePath())
	}
	if cfg.CacheSize != 256 || cfg.OpenAI.Timeout != DefaultTimeout || cfg.OpenAI.APIKey != "" {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	if cfg.RateLimitRPS() != DefaultRateRPS || cfg.RateLimit.Burst != DefaultRateBurst {
		t.Fatalf("rate limit defaults: %v/%d", cfg.RateLimitRPS(), cfg.RateLimit.Burst)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("log defaults: %#v", cfg.Log)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", strings.TrimSpace(`
addr: ":8080"
history_path: /tmp/x/history.json
archive_path: ""
cache_size: 16
openai:
  api_key: from-file
  model: file-model
  timeout: 5s
rate_limit:
  rps: 0
log:
  level: debug
`))

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.HistoryPath != "/tmp/x/history.json" || cfg.CacheSize != 16 {
		t.Fatalf("file values not applied: %#v", cfg)
	}
	if cfg.ResolvedArchivePath() != "" {
		t.Fatalf("explicit empty archive_path should disable archiving, got %q", cfg.ResolvedArchivePath())
	}
	if cfg.OpenAI.APIKey != "from-file" || cfg.OpenAI.Model != "file-model" || cfg.OpenAI.Timeout != 5*time.Second {
		t.Fatalf("openai values: %#v", cfg.OpenAI)
	}
	if cfg.RateLimitRPS() != 0 {
		t.Fatalf("explicit rps 0 should disable rate limiting, got %v", cfg.RateLimitRPS())
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level=%q", cfg.Log.Level)
	}

	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("SCRIPTORIA_ADDR", "127.0.0.1:9999")
	cfg, err = Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpenAI.APIKey != "from-env" || cfg.Addr != "127.0.0.1:9999" {
		t.Fatalf("env should override file: %#v", cfg)
	}
}

func TestLoad_ConfigEnvPath(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, t.TempDir(), "c.yaml", "addr: \":7000\"\n")
	t.Setenv("SCRIPTORIA_CONFIG", p)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7000" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for explicit missing config")
	}

	bad := writeFile(t, dir, "bad.yaml", "addr: [unterminated\n")
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected parse error")
	}

	t.Setenv("SCRIPTORIA_CACHE_SIZE", "lots")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected cache size error")
	}
}
