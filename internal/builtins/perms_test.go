package builtins

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ProjectCoral/Coral/internal/bus"
	"github.com/ProjectCoral/Coral/internal/permission"
	"github.com/ProjectCoral/Coral/internal/registry"
	"github.com/ProjectCoral/Coral/pkg/protocol"
)

func newTestRegistry(t *testing.T) (*registry.Registry, *permission.System) {
	t.Helper()
	perm, err := permission.New(filepath.Join(t.TempDir(), "perms.json"), nil)
	if err != nil {
		t.Fatalf("permission.New failed: %v", err)
	}
	reg := registry.New(bus.New(nil), perm, nil)
	return reg, perm
}

func cmdEvent(args ...string) *protocol.CommandEvent {
	return &protocol.CommandEvent{
		EventBase: protocol.EventBase{Platform: "test", SelfID: "self"},
		Command:   "perms",
		Args:      args,
		User:      protocol.UserInfo{Platform: "test", UserID: "u1"},
	}
}

func TestPermsGrantRequiresAdmin(t *testing.T) {
	reg, perm := newTestRegistry(t)
	RegisterPermsCommand(reg, perm)

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("grant", "some.perm", "u2"))
	if resp.Message.ToPlainText() != registry.PermissionDeniedMessage {
		t.Fatalf("expected permission denied, got %q", resp.Message.ToPlainText())
	}
}

func TestPermsGrantSucceedsForAdmin(t *testing.T) {
	reg, perm := newTestRegistry(t)
	RegisterPermsCommand(reg, perm)

	if err := perm.GrantAll(PermsAdminPermission, "u1"); err != nil {
		t.Fatalf("GrantAll failed: %v", err)
	}

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("grant", "some.perm", "u2"))
	if resp.Message.ToPlainText() != "granted" {
		t.Fatalf("expected grant to succeed, got %q", resp.Message.ToPlainText())
	}
	if !perm.Check("some.perm", "u2", "-1") {
		t.Fatal("expected u2 to hold the granted permission")
	}
}

func TestPermsGrantRejectsGroupArgument(t *testing.T) {
	reg, perm := newTestRegistry(t)
	RegisterPermsCommand(reg, perm)
	if err := perm.GrantAll(PermsAdminPermission, "u1"); err != nil {
		t.Fatalf("GrantAll failed: %v", err)
	}

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("grant", "some.perm", "u2", "g1"))
	if resp.Message.ToPlainText() != "usage: perms grant <perm> <user_id>" {
		t.Fatalf("expected grant to reject a group argument, got %q", resp.Message.ToPlainText())
	}
}

func TestPermsAddRequiresAdminAndExplicitGroup(t *testing.T) {
	reg, perm := newTestRegistry(t)
	RegisterPermsCommand(reg, perm)

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("add", "some.perm", "u2", "g1"))
	if resp.Message.ToPlainText() != registry.PermissionDeniedMessage {
		t.Fatalf("expected permission denied, got %q", resp.Message.ToPlainText())
	}

	if err := perm.GrantAll(PermsAdminPermission, "u1"); err != nil {
		t.Fatalf("GrantAll failed: %v", err)
	}

	resp = reg.ExecuteCommand(context.Background(), cmdEvent("add", "some.perm", "u2", "g1"))
	if resp.Message.ToPlainText() != "added" {
		t.Fatalf("expected add to succeed, got %q", resp.Message.ToPlainText())
	}
	if !perm.Check("some.perm", "u2", "g1") {
		t.Fatal("expected u2 to hold the added permission within group g1")
	}
	if perm.Check("some.perm", "u2", "g2") {
		t.Fatal("expected add to be scoped to the given group, not ALL")
	}
}

func TestPermsRemoveRevokesFromGroup(t *testing.T) {
	reg, perm := newTestRegistry(t)
	RegisterPermsCommand(reg, perm)
	if err := perm.GrantAll(PermsAdminPermission, "u1"); err != nil {
		t.Fatalf("GrantAll failed: %v", err)
	}
	if err := perm.Grant("some.perm", "u2", "g1"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("remove", "some.perm", "u2", "g1"))
	if resp.Message.ToPlainText() != "removed" {
		t.Fatalf("expected remove to succeed, got %q", resp.Message.ToPlainText())
	}
	if perm.Check("some.perm", "u2", "g1") {
		t.Fatal("expected permission to be removed from g1")
	}
}

func TestPermsListIsUnguarded(t *testing.T) {
	reg, perm := newTestRegistry(t)
	RegisterPermsCommand(reg, perm)

	resp := reg.ExecuteCommand(context.Background(), cmdEvent("list"))
	if resp.Message.ToPlainText() == registry.PermissionDeniedMessage {
		t.Fatal("expected perms list to be accessible without admin")
	}
}
