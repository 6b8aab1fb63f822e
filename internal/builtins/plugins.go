package builtins

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ProjectCoral/Coral/internal/permission"
	"github.com/ProjectCoral/Coral/internal/pluginmanager"
	"github.com/ProjectCoral/Coral/internal/registry"
	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// PluginsAdminPermission gates reload/enable/disable; `plugins` (list) is
// informational and unguarded.
const PluginsAdminPermission = "builtins.plugins.admin"

// RegisterPluginCommands registers `plugins`, `reload`, and
// `plugin_metrics` — the supplemented built-ins SPEC_FULL.md adds for
// operating the Plugin Manager from chat or console.
func RegisterPluginCommands(reg *registry.Registry, mgr *pluginmanager.Manager, perm *permission.System) {
	perm.RegisterPerm(PluginsAdminPermission, "load/unload/enable/disable plugins")

	reg.RegisterCommand("plugins", "List/enable/disable discovered plugins", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		if len(ev.Args) == 0 || ev.Args[0] == "list" {
			entries := mgr.Entries()
			if len(entries) == 0 {
				return "no plugins discovered", nil
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

			var b strings.Builder
			for _, e := range entries {
				fmt.Fprintf(&b, "%s v%s [%s]", e.Name, e.Meta.Version, e.State)
				if e.State == pluginmanager.StateError {
					fmt.Fprintf(&b, " - %s", e.ErrorMessage)
				}
				if !e.DependenciesMet {
					b.WriteString(" (dependencies unmet)")
				}
				b.WriteString("\n")
			}
			return b.String(), nil
		}

		if !requirePluginsAdmin(perm, ev) {
			return registry.PermissionDeniedMessage, nil
		}

		switch ev.Args[0] {
		case "disable":
			if len(ev.Args) < 2 {
				return "usage: plugins disable <plugin_name>", nil
			}
			if err := mgr.Disable(ctx, ev.Args[1]); err != nil {
				return fmt.Sprintf("disable failed: %s", err), nil
			}
			return fmt.Sprintf("plugin %q disabled", ev.Args[1]), nil

		case "enable":
			if len(ev.Args) < 2 {
				return "usage: plugins enable <plugin_name>", nil
			}
			if err := mgr.Enable(ev.Args[1]); err != nil {
				return fmt.Sprintf("enable failed: %s", err), nil
			}
			return fmt.Sprintf("plugin %q enabled, run reload to load it", ev.Args[1]), nil

		default:
			return fmt.Sprintf("unknown plugins subcommand %q", ev.Args[0]), nil
		}
	}, registry.Permission{}, "builtins")

	reg.RegisterCommand("reload", "Unload and reload a plugin by name", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		groupID := "-1"
		if ev.Group != nil {
			groupID = ev.Group.GroupID
		}
		if !perm.Check(PluginsAdminPermission, ev.User.UserID, groupID) {
			return registry.PermissionDeniedMessage, nil
		}
		if len(ev.Args) < 1 {
			return "usage: reload <plugin_name>", nil
		}
		name := ev.Args[0]

		if _, ok := mgr.Entry(name); !ok {
			return fmt.Sprintf("unknown plugin %q", name), nil
		}
		if err := mgr.Unload(ctx, name); err != nil {
			return fmt.Sprintf("unload failed: %s", err), nil
		}
		if err := mgr.LoadAll(ctx); err != nil {
			return fmt.Sprintf("reload failed: %s", err), nil
		}
		entry, _ := mgr.Entry(name)
		return fmt.Sprintf("plugin %q is now %s", name, entry.State), nil
	}, registry.Permission{}, "builtins")

	reg.RegisterCommand("plugin_metrics", "Show load metrics for a plugin", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		if len(ev.Args) < 1 {
			return "usage: plugin_metrics <plugin_name>", nil
		}
		entry, ok := mgr.Entry(ev.Args[0])
		if !ok {
			return fmt.Sprintf("unknown plugin %q", ev.Args[0]), nil
		}
		return fmt.Sprintf("loads=%d errors=%d last_load=%s state=%s",
			entry.Metrics.LoadCount, entry.Metrics.ErrorCount, entry.Metrics.LastLoadTime, entry.State), nil
	}, registry.Permission{}, "builtins")
}

func requirePluginsAdmin(perm *permission.System, ev *protocol.CommandEvent) bool {
	groupID := "-1"
	if ev.Group != nil {
		groupID = ev.Group.GroupID
	}
	return perm.Check(PluginsAdminPermission, ev.User.UserID, groupID)
}
