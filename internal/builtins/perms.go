package builtins

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ProjectCoral/Coral/internal/permission"
	"github.com/ProjectCoral/Coral/internal/registry"
	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// PermsAdminPermission gates every `perms` subcommand except `perms list`
// and `perms show`, which are informational.
const PermsAdminPermission = "builtins.perms.admin"

// RegisterPermsCommand registers the `perms` chat command:
// show/list/add/remove/grant/revoke over the permission store. add/remove
// take an explicit group; grant/revoke are their ALL-group shorthand and
// accept no group argument. The headless CLI in cmd/perms.go offers only
// list/show/grant/revoke, and there grant/revoke take an optional group.
func RegisterPermsCommand(reg *registry.Registry, perm *permission.System) {
	perm.RegisterPerm(PermsAdminPermission, "administer the permission store via the perms command")

	reg.RegisterCommand("perms", "Inspect or modify the permission store", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		if len(ev.Args) == 0 {
			return "usage: perms <list|show|add|remove|grant|revoke> [args...]", nil
		}

		switch ev.Args[0] {
		case "list":
			names := perm.RegisteredPerms()
			keys := make([]string, 0, len(names))
			for k := range names {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var b strings.Builder
			for _, k := range keys {
				fmt.Fprintf(&b, "%s - %s\n", k, names[k])
			}
			if b.Len() == 0 {
				return "no permissions registered", nil
			}
			return b.String(), nil

		case "show":
			if len(ev.Args) < 2 {
				return "usage: perms show <user_id>", nil
			}
			grants := perm.ListUser(ev.Args[1])
			if len(grants) == 0 {
				return fmt.Sprintf("user %s has no grants", ev.Args[1]), nil
			}
			var b strings.Builder
			for _, g := range grants {
				fmt.Fprintf(&b, "%s @ %s\n", g.Perm, g.Group)
			}
			return b.String(), nil

		case "add":
			if len(ev.Args) != 4 {
				return "usage: perms add <perm> <user_id> <group_id>", nil
			}
			if !requireAdmin(perm, ev) {
				return registry.PermissionDeniedMessage, nil
			}
			if err := perm.Grant(ev.Args[1], ev.Args[2], ev.Args[3]); err != nil {
				return nil, err
			}
			return "added", nil

		case "remove":
			if len(ev.Args) != 4 {
				return "usage: perms remove <perm> <user_id> <group_id>", nil
			}
			if !requireAdmin(perm, ev) {
				return registry.PermissionDeniedMessage, nil
			}
			if err := perm.Revoke(ev.Args[1], ev.Args[2], ev.Args[3]); err != nil {
				return nil, err
			}
			return "removed", nil

		case "grant":
			if len(ev.Args) != 3 {
				return "usage: perms grant <perm> <user_id>", nil
			}
			if !requireAdmin(perm, ev) {
				return registry.PermissionDeniedMessage, nil
			}
			if err := perm.Grant(ev.Args[1], ev.Args[2], permission.ALLGroup); err != nil {
				return nil, err
			}
			return "granted", nil

		case "revoke":
			if len(ev.Args) != 3 {
				return "usage: perms revoke <perm> <user_id>", nil
			}
			if !requireAdmin(perm, ev) {
				return registry.PermissionDeniedMessage, nil
			}
			if err := perm.Revoke(ev.Args[1], ev.Args[2], permission.ALLGroup); err != nil {
				return nil, err
			}
			return "revoked", nil

		default:
			return fmt.Sprintf("unknown perms subcommand %q", ev.Args[0]), nil
		}
	}, registry.Permission{}, "builtins")
}

func requireAdmin(perm *permission.System, ev *protocol.CommandEvent) bool {
	groupID := "-1"
	if ev.Group != nil {
		groupID = ev.Group.GroupID
	}
	return perm.Check(PermsAdminPermission, ev.User.UserID, groupID)
}
