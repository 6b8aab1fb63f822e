package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"self_id":"initial"}`), 0o644); err != nil {
		t.Fatalf("failed to write initial config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	if err := Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }, nil); err != nil {
		t.Fatalf("Watch failed to start: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"self_id":"changed"}`), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.SelfID != "changed" {
			t.Fatalf("expected reloaded self_id %q, got %q", "changed", cfg.SelfID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload callback")
	}
}
