// Package builtins implements Coral's framework-owned handlers: the
// chat-command bridge and the `perms`/`plugins`/`reload`/`plugin_metrics`
// commands, per spec.md §6's "built-in handler" descriptions. Grounded on
// the Registry's own command/event contract types (internal/registry) —
// these are ordinary Registry clients, not privileged internals.
package builtins

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ProjectCoral/Coral/internal/bus"
	"github.com/ProjectCoral/Coral/internal/permission"
	"github.com/ProjectCoral/Coral/internal/registry"
	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// ChatCommandPermission is required to invoke a command synthesized from a
// chat message, per spec.md §6.
const ChatCommandPermission = "chat_command.execute"

// chatCommandOwner identifies this bridge's registrations for
// UnregisterOwner purposes, matching the Plugin Manager's owner-keyed
// registration convention even though the bridge is never unloaded as a
// plugin.
const chatCommandOwner = "builtins.chat_command"

// RegisterChatCommandBridge subscribes to MessageEvent at priority 1: any
// plain text beginning with "!" is split into command/args and routed
// through reg.ExecuteCommand as a synthesized CommandEvent inheriting the
// message's platform/event/user/group.
func RegisterChatCommandBridge(b *bus.EventBus, reg *registry.Registry, perm *permission.System, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	perm.RegisterPerm(ChatCommandPermission, "invoke a command via a chat message prefixed with !")

	b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, event protocol.Event) (any, error) {
		msg, ok := event.(*protocol.MessageEvent)
		if !ok {
			return nil, nil
		}
		text := msg.Message.ToPlainText()
		if !strings.HasPrefix(text, "!") {
			return nil, nil
		}

		groupID := "-1"
		if msg.Group != nil {
			groupID = msg.Group.GroupID
		}
		if !perm.Check(ChatCommandPermission, msg.User.UserID, groupID) {
			return msg.ReplyText(registry.PermissionDeniedMessage), nil
		}

		fields := strings.Fields(strings.TrimPrefix(text, "!"))
		if len(fields) == 0 {
			return nil, nil
		}

		cmdEvent := &protocol.CommandEvent{
			EventBase:  msg.EventBase,
			EventID:    msg.EventID,
			Command:    fields[0],
			Args:       fields[1:],
			RawMessage: msg.Message,
			User:       msg.User,
			Group:      msg.Group,
		}

		resp := reg.ExecuteCommand(ctx, cmdEvent)
		if resp == nil {
			return nil, nil
		}
		return resp, nil
	}, 1)

	logger.Debug("chat-command bridge registered", "owner", chatCommandOwner)
}
