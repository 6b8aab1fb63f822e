package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"websocket_port": 0,
		"self_id": "test-bot",
		"plugin_dir": "` + filepath.Join(dir, "plugins") + `",
		"perm_file": "` + filepath.Join(dir, "coral.perms") + `"
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestNewWiresEverySubsystem(t *testing.T) {
	app, err := New(writeTestConfig(t), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if app.Bus == nil || app.Registry == nil || app.Permission == nil || app.Plugins == nil || app.Adapters == nil || app.Drivers == nil {
		t.Fatalf("expected every subsystem to be wired, got %+v", app)
	}
	if _, ok := app.Adapters.Get("onebot"); !ok {
		t.Fatal("expected onebot adapter to be registered")
	}
	if _, ok := app.Adapters.Get("console"); !ok {
		t.Fatal("expected console adapter to be registered")
	}
	if _, ok := app.Adapters.Get("generic_ws"); !ok {
		t.Fatal("expected generic_ws adapter to be registered")
	}
}

func TestStartAndShutdownLifecycle(t *testing.T) {
	app, err := New(writeTestConfig(t), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(app.Drivers.Drivers()) == 0 {
		t.Fatal("expected at least the reverse-websocket driver to be registered")
	}

	app.Shutdown(context.Background())
}
