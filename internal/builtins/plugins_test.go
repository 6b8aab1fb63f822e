package builtins

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ProjectCoral/Coral/internal/bus"
	"github.com/ProjectCoral/Coral/internal/permission"
	"github.com/ProjectCoral/Coral/internal/pluginmanager"
	"github.com/ProjectCoral/Coral/internal/registry"
	"github.com/ProjectCoral/Coral/pkg/protocol"
)

type fakePlugin struct {
	meta    pluginmanager.PluginMeta
	loadErr error
}

func (f *fakePlugin) Meta() pluginmanager.PluginMeta { return f.meta }
func (f *fakePlugin) Load(ctx context.Context, rt *pluginmanager.Runtime) error {
	return f.loadErr
}
func (f *fakePlugin) Unload(ctx context.Context) error { return nil }

func newTestPluginSetup(t *testing.T, pluginName string) (*registry.Registry, *pluginmanager.Manager, *permission.System) {
	t.Helper()
	perm, err := permission.New(filepath.Join(t.TempDir(), "perms.json"), nil)
	if err != nil {
		t.Fatalf("permission.New failed: %v", err)
	}
	b := bus.New(nil)
	reg := registry.New(b, perm, nil)

	fp := &fakePlugin{meta: pluginmanager.PluginMeta{
		Name:          pluginName,
		Version:       "0.1.0",
		Compatibility: pluginmanager.ManagerCompatibility,
	}}
	pluginmanager.Register(fp.meta, func() pluginmanager.Plugin { return fp })

	mgr := pluginmanager.New(&pluginmanager.Runtime{Bus: b, Registry: reg, Permission: perm}, b, nil)
	mgr.Discover()

	return reg, mgr, perm
}

func TestPluginsListShowsDiscoveredPlugin(t *testing.T) {
	reg, mgr, perm := newTestPluginSetup(t, "demo-plugin-list")
	RegisterPluginCommands(reg, mgr, perm)

	resp := reg.ExecuteCommand(context.Background(), &protocol.CommandEvent{
		EventBase: protocol.EventBase{Platform: "test", SelfID: "self"},
		Command:   "plugins",
		User:      protocol.UserInfo{Platform: "test", UserID: "u1"},
	})
	if resp.Message.ToPlainText() == "" {
		t.Fatal("expected non-empty plugin listing")
	}
}

func TestPluginsDisableRequiresAdmin(t *testing.T) {
	reg, mgr, perm := newTestPluginSetup(t, "demo-plugin-disable")
	RegisterPluginCommands(reg, mgr, perm)

	resp := reg.ExecuteCommand(context.Background(), &protocol.CommandEvent{
		EventBase: protocol.EventBase{Platform: "test", SelfID: "self"},
		Command:   "plugins",
		Args:      []string{"disable", "demo-plugin-disable"},
		User:      protocol.UserInfo{Platform: "test", UserID: "u1"},
	})
	if resp.Message.ToPlainText() != registry.PermissionDeniedMessage {
		t.Fatalf("expected permission denied, got %q", resp.Message.ToPlainText())
	}
}

func TestPluginsEnableDisableWithAdmin(t *testing.T) {
	reg, mgr, perm := newTestPluginSetup(t, "demo-plugin-enable")
	RegisterPluginCommands(reg, mgr, perm)
	if err := perm.GrantAll(PluginsAdminPermission, "u1"); err != nil {
		t.Fatalf("GrantAll failed: %v", err)
	}

	ev := func(args ...string) *protocol.CommandEvent {
		return &protocol.CommandEvent{
			EventBase: protocol.EventBase{Platform: "test", SelfID: "self"},
			Command:   "plugins",
			Args:      args,
			User:      protocol.UserInfo{Platform: "test", UserID: "u1"},
		}
	}

	resp := reg.ExecuteCommand(context.Background(), ev("disable", "demo-plugin-enable"))
	if resp.Message.ToPlainText() != `plugin "demo-plugin-enable" disabled` {
		t.Fatalf("unexpected disable response: %q", resp.Message.ToPlainText())
	}

	entry, ok := mgr.Entry("demo-plugin-enable")
	if !ok || entry.State != pluginmanager.StateDisabled {
		t.Fatalf("expected plugin to be disabled, got %+v", entry)
	}

	resp = reg.ExecuteCommand(context.Background(), ev("enable", "demo-plugin-enable"))
	if resp.Message.ToPlainText() != `plugin "demo-plugin-enable" enabled, run reload to load it` {
		t.Fatalf("unexpected enable response: %q", resp.Message.ToPlainText())
	}
}

func TestPluginMetricsUnknownPlugin(t *testing.T) {
	reg, mgr, perm := newTestPluginSetup(t, "demo-plugin-metrics")
	RegisterPluginCommands(reg, mgr, perm)

	resp := reg.ExecuteCommand(context.Background(), &protocol.CommandEvent{
		EventBase: protocol.EventBase{Platform: "test", SelfID: "self"},
		Command:   "plugin_metrics",
		Args:      []string{"ghost-plugin"},
		User:      protocol.UserInfo{Platform: "test", UserID: "u1"},
	})
	if resp.Message.ToPlainText() != `unknown plugin "ghost-plugin"` {
		t.Fatalf("unexpected response: %q", resp.Message.ToPlainText())
	}
}

func TestReloadUnknownPlugin(t *testing.T) {
	reg, mgr, perm := newTestPluginSetup(t, "demo-plugin-reload")
	RegisterPluginCommands(reg, mgr, perm)
	if err := perm.GrantAll(PluginsAdminPermission, "u1"); err != nil {
		t.Fatalf("GrantAll failed: %v", err)
	}

	resp := reg.ExecuteCommand(context.Background(), &protocol.CommandEvent{
		EventBase: protocol.EventBase{Platform: "test", SelfID: "self"},
		Command:   "reload",
		Args:      []string{"ghost-plugin"},
		User:      protocol.UserInfo{Platform: "test", UserID: "u1"},
	})
	if resp.Message.ToPlainText() != `unknown plugin "ghost-plugin"` {
		t.Fatalf("unexpected response: %q", resp.Message.ToPlainText())
	}
}
