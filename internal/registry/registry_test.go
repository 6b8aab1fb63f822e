package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ProjectCoral/Coral/internal/bus"
	"github.com/ProjectCoral/Coral/internal/permission"
	"github.com/ProjectCoral/Coral/pkg/protocol"
)

func newTestRegistry(t *testing.T) (*Registry, *permission.System) {
	t.Helper()
	perm, err := permission.New(filepath.Join(t.TempDir(), "perms.json"), nil)
	if err != nil {
		t.Fatalf("permission.New failed: %v", err)
	}
	b := bus.New(nil)
	return New(b, perm, nil), perm
}

func cmdEvent(command string, userID string, group *protocol.GroupInfo) *protocol.CommandEvent {
	return &protocol.CommandEvent{
		EventBase: protocol.EventBase{Platform: "test", SelfID: "self"},
		Command:   command,
		User:      protocol.UserInfo{Platform: "test", UserID: userID},
		Group:     group,
	}
}

func TestExecuteCommandUnknownCommand(t *testing.T) {
	reg, _ := newTestRegistry(t)

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("ghost", "u1", nil))
	if resp.Message.ToPlainText() != NoCommandMessage {
		t.Fatalf("expected %q, got %q", NoCommandMessage, resp.Message.ToPlainText())
	}
}

// TestExecuteCommandAnyOfPermission covers spec.md §8 scenario 2: a command
// guarded by an AnyOf permission set dispatches once the caller holds any
// one of the listed permissions, and is denied otherwise.
func TestExecuteCommandAnyOfPermission(t *testing.T) {
	reg, perm := newTestRegistry(t)
	reg.RegisterCommand("greet", "says hi", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "hello", nil
	}, AnyOf("greet.admin", "greet.mod"), "test-plugin")

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("greet", "u1", nil))
	if resp.Message.ToPlainText() != PermissionDeniedMessage {
		t.Fatalf("expected permission denied before grant, got %q", resp.Message.ToPlainText())
	}

	if err := perm.GrantAll("greet.mod", "u1"); err != nil {
		t.Fatalf("GrantAll failed: %v", err)
	}

	resp = reg.ExecuteCommand(context.Background(), cmdEvent("greet", "u1", nil))
	if resp.Message.ToPlainText() != "hello" {
		t.Fatalf("expected command to succeed holding any one of the any-of perms, got %q", resp.Message.ToPlainText())
	}
}

func TestExecuteCommandNoPermissionRequiredRunsUnguarded(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.RegisterCommand("ping", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "pong", nil
	}, Permission{}, "test-plugin")

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("ping", "u1", nil))
	if resp.Message.ToPlainText() != "pong" {
		t.Fatalf("expected unguarded command to run, got %q", resp.Message.ToPlainText())
	}
}

// TestExecuteCommandAutoDisablesAfterCrashThreshold covers spec.md §8
// scenario 4: a command that errors CrashThreshold times in a row is
// automatically unregistered.
func TestExecuteCommandAutoDisablesAfterCrashThreshold(t *testing.T) {
	reg, _ := newTestRegistry(t)
	calls := 0
	reg.RegisterCommand("flaky", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		calls++
		return nil, errors.New("boom")
	}, Permission{}, "test-plugin")

	for i := 0; i < CrashThreshold; i++ {
		reg.ExecuteCommand(context.Background(), cmdEvent("flaky", "u1", nil))
	}
	if calls != CrashThreshold {
		t.Fatalf("expected handler to run %d times, got %d", CrashThreshold, calls)
	}

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("flaky", "u1", nil))
	if resp.Message.ToPlainText() != NoCommandMessage {
		t.Fatalf("expected command to be auto-disabled after %d crashes, got %q", CrashThreshold, resp.Message.ToPlainText())
	}
	if calls != CrashThreshold {
		t.Fatalf("expected auto-disabled command to not run again, calls=%d", calls)
	}
}

func TestExecuteCommandHandlerPanicIsRecoveredAndCounted(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.RegisterCommand("panicky", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		panic("boom")
	}, Permission{}, "test-plugin")

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("panicky", "u1", nil))
	if resp == nil {
		t.Fatal("expected a reply even after a handler panic")
	}
	if reg.CrashCount("command", "panicky") != 1 {
		t.Fatalf("expected panic to be recorded as a crash, got %d", reg.CrashCount("command", "panicky"))
	}
}

func TestExecuteFunctionAutoDisablesAfterCrashThreshold(t *testing.T) {
	reg, _ := newTestRegistry(t)
	calls := 0
	if err := reg.RegisterFunction("flaky_fn", func(ctx context.Context, args ...any) (any, error) {
		calls++
		return nil, errors.New("boom")
	}, "test-plugin"); err != nil {
		t.Fatalf("RegisterFunction failed: %v", err)
	}

	for i := 0; i < CrashThreshold; i++ {
		reg.ExecuteFunction(context.Background(), "flaky_fn")
	}
	if calls != CrashThreshold {
		t.Fatalf("expected function to run %d times, got %d", CrashThreshold, calls)
	}

	reg.ExecuteFunction(context.Background(), "flaky_fn")
	if calls != CrashThreshold {
		t.Fatalf("expected auto-disabled function to not run again, calls=%d", calls)
	}
}

func TestUnregisterOwnerPurgesAllKinds(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.RegisterCommand("cmd1", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return nil, nil
	}, Permission{}, "owner-a")
	if err := reg.RegisterFunction("fn1", func(ctx context.Context, args ...any) (any, error) {
		return nil, nil
	}, "owner-a"); err != nil {
		t.Fatalf("RegisterFunction failed: %v", err)
	}
	if err := reg.RegisterEvent("some.event", "listener1", func(ctx context.Context, ev *protocol.GenericEvent) error {
		return nil
	}, 5, "owner-a"); err != nil {
		t.Fatalf("RegisterEvent failed: %v", err)
	}

	reg.UnregisterOwner("owner-a")

	if _, ok := reg.Commands()["cmd1"]; ok {
		t.Fatal("expected command to be purged")
	}
	resp := reg.ExecuteCommand(context.Background(), cmdEvent("cmd1", "u1", nil))
	if resp.Message.ToPlainText() != NoCommandMessage {
		t.Fatal("expected purged command to be unknown")
	}
	if err := reg.RegisterFunction("fn1", func(ctx context.Context, args ...any) (any, error) {
		return nil, nil
	}, "owner-b"); err != nil {
		t.Fatalf("expected purged function name to be free again: %v", err)
	}
	if err := reg.RegisterEvent("some.event", "listener1", func(ctx context.Context, ev *protocol.GenericEvent) error {
		return nil
	}, 5, "owner-b"); err != nil {
		t.Fatalf("expected purged event listener to be free again: %v", err)
	}
}

func TestRegisterCommandOverwritesDuplicate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.RegisterCommand("dup", "first", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "first", nil
	}, Permission{}, "owner-a")
	reg.RegisterCommand("dup", "second", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "second", nil
	}, Permission{}, "owner-b")

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("dup", "u1", nil))
	if resp.Message.ToPlainText() != "second" {
		t.Fatalf("expected overwritten registration to win, got %q", resp.Message.ToPlainText())
	}
}

func TestRegisterFunctionDuplicateIsError(t *testing.T) {
	reg, _ := newTestRegistry(t)
	noop := func(ctx context.Context, args ...any) (any, error) { return nil, nil }
	if err := reg.RegisterFunction("fn", noop, "owner-a"); err != nil {
		t.Fatalf("first RegisterFunction failed: %v", err)
	}
	if err := reg.RegisterFunction("fn", noop, "owner-b"); err == nil {
		t.Fatal("expected duplicate function registration to error")
	}
}
