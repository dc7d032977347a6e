package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()

	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.RateLimitRetries != 4 {
		t.Errorf("expected 4 rate-limit retries, got %d", cfg.RateLimitRetries)
	}
	if cfg.ArchiveSink != "local" {
		t.Errorf("expected local sink, got %s", cfg.ArchiveSink)
	}
	if cfg.CodeTrailingDigits != 10 {
		t.Errorf("expected 10 trailing digits, got %d", cfg.CodeTrailingDigits)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("VISION_ENABLED", "false")
	t.Setenv("VISION_RPS", "1.5")
	t.Setenv("MAX_BACKOFF", "5s")
	t.Setenv("ARCHIVE_SINK", "GCS")

	cfg := config.Load()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.VisionEnabled {
		t.Error("expected vision disabled")
	}
	if cfg.VisionRPS != 1.5 {
		t.Errorf("expected rps 1.5, got %f", cfg.VisionRPS)
	}
	if cfg.MaxBackoff != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.MaxBackoff)
	}
	if cfg.ArchiveSink != "gcs" {
		t.Errorf("expected gcs, got %s", cfg.ArchiveSink)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("REPORT_ENABLED", "maybe")

	cfg := config.Load()
	if cfg.Port != 8080 {
		t.Errorf("expected fallback port, got %d", cfg.Port)
	}
	if !cfg.ReportEnabled {
		t.Error("expected fallback report flag")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nRECONCILER_TEST_A=from-file\nRECONCILER_TEST_B=\"quoted\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RECONCILER_TEST_A", "from-env")
	os.Unsetenv("RECONCILER_TEST_B")
	t.Cleanup(func() { os.Unsetenv("RECONCILER_TEST_B") })

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if v := os.Getenv("RECONCILER_TEST_A"); v != "from-env" {
		t.Errorf("env must win over file, got %q", v)
	}
	if v := os.Getenv("RECONCILER_TEST_B"); v != "quoted" {
		t.Errorf("expected unquoted value, got %q", v)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := config.LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("missing file must be ignored, got %v", err)
	}
}
