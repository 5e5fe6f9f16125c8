package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.NATS.StreamName != "SESSION_EVENTS" {
		t.Fatalf("expected default stream, got %s", cfg.NATS.StreamName)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: "9090"
nats:
  url: nats://broker:4222
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PORT", "7070")
	t.Setenv("NATS_MAX_DELIVER", "9")
	t.Setenv("NATS_ACK_WAIT", "45s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("env should override file, got %s", cfg.Server.Port)
	}
	if cfg.NATS.URL != "nats://broker:4222" {
		t.Fatalf("file should override default, got %s", cfg.NATS.URL)
	}
	if cfg.NATS.ConsumerName != "session-gateway" {
		t.Fatalf("untouched default lost: %s", cfg.NATS.ConsumerName)
	}
	if cfg.NATS.MaxDeliver != 9 {
		t.Fatalf("expected NATS_MAX_DELIVER override, got %d", cfg.NATS.MaxDeliver)
	}
	if cfg.NATS.AckWait != 45*time.Second {
		t.Fatalf("expected NATS_ACK_WAIT override, got %s", cfg.NATS.AckWait)
	}
}
