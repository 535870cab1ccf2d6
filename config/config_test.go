package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SHOPSYNC_BASE_URL", "https://shop.example.com/api")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timeout != 30*time.Second || cfg.MaxAttempts != 3 || cfg.BaseDelay != 500*time.Millisecond {
		t.Fatalf("transport defaults: %+v", cfg)
	}
	if cfg.RefreshPath != "/auth/refresh" {
		t.Fatalf("refresh path = %q", cfg.RefreshPath)
	}
	s := cfg.Storage
	if s.Backend != BackendMemory || s.Codec != "json" || !s.Compress || !s.Encrypt || s.SweepInterval != time.Hour {
		t.Fatalf("storage defaults: %+v", s)
	}
	if cfg.Log.Backend != LogZap || cfg.Log.Level != "info" {
		t.Fatalf("log defaults: %+v", cfg.Log)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SHOPSYNC_BASE_URL", "http://localhost:8080")
	t.Setenv("SHOPSYNC_MAX_ATTEMPTS", "5")
	t.Setenv("SHOPSYNC_STORAGE", "redis")
	t.Setenv("SHOPSYNC_REDIS_DB", "2")
	t.Setenv("SHOPSYNC_CODEC", "cbor")
	t.Setenv("SHOPSYNC_ENCRYPT", "false")
	t.Setenv("SHOPSYNC_LOG_BACKEND", "logrus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxAttempts != 5 || cfg.Storage.Backend != BackendRedis || cfg.Storage.RedisDB != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Storage.Codec != "cbor" || cfg.Storage.Encrypt || cfg.Log.Backend != LogLogrus {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SHOPSYNC_BASE_URL", "not a url")
	t.Setenv("SHOPSYNC_STORAGE", "floppy")
	t.Setenv("SHOPSYNC_CODEC", "xml")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"SHOPSYNC_BASE_URL", "SHOPSYNC_STORAGE", "SHOPSYNC_CODEC"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("SHOPSYNC_BASE_URL", "https://shop.example.com")
	t.Setenv("SHOPSYNC_TIMEOUT", "soon")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}
