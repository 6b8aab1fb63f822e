// Package registry is the single source of truth for the names a plugin
// exposes: commands, named functions, and event subscriptions. It enforces
// command permissions and auto-disables handlers that crash repeatedly.
// Grounded on Coral/register.py (newer Coral/ semantics, which spec.md marks
// authoritative over the core/register.py draft — see DESIGN.md).
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ProjectCoral/Coral/internal/bus"
	"github.com/ProjectCoral/Coral/internal/permission"
	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// CrashThreshold is the number of failures in the same (kind, name) before
// an entry is automatically unregistered.
const CrashThreshold = 3

// NoCommandMessage is returned when a CommandEvent names an unknown command.
const NoCommandMessage = "No command found"

// PermissionDeniedMessage is returned when the permission check fails.
const PermissionDeniedMessage = "Permission denied"

// CommandHandler executes a command and returns either a
// *protocol.MessageRequest (returned as-is), a string (wrapped as a text
// MessageRequest), nil (no reply), or an error. Any other value is
// formatted with %v and wrapped as a text MessageRequest.
type CommandHandler func(ctx context.Context, ev *protocol.CommandEvent) (any, error)

// FunctionHandler is a named, directly-invokable function.
type FunctionHandler func(ctx context.Context, args ...any) (any, error)

// EventHandler reacts to a GenericEvent matching a specific name.
type EventHandler func(ctx context.Context, ev *protocol.GenericEvent) error

// Permission is either a single permission name or a list (any-of).
type Permission struct {
	names []string
}

// Perm constructs a single-permission requirement.
func Perm(name string) Permission { return Permission{names: []string{name}} }

// AnyOf constructs an any-of permission requirement.
func AnyOf(names ...string) Permission { return Permission{names: names} }

func (p Permission) isZero() bool { return len(p.names) == 0 }

type commandEntry struct {
	description string
	handler     CommandHandler
	permission  Permission
	owner       string
}

type functionEntry struct {
	handler FunctionHandler
	owner   string
}

type eventEntry struct {
	eventName string
	handler   EventHandler
	wrapper   bus.Handler
	owner     string
}

// Registry indexes commands, functions, and event subscriptions, and
// mediates command dispatch.
type Registry struct {
	mu        sync.RWMutex
	commands  map[string]*commandEntry
	functions map[string]*functionEntry
	events    map[string]*eventEntry // keyed by "eventName|listenerName"

	crashCounts sync.Map // key: "kind:name" -> *int32

	bus  *bus.EventBus
	perm *permission.System
	log  *slog.Logger
}

// New constructs a Registry bound to bus b and permission system p.
func New(b *bus.EventBus, p *permission.System, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		commands:  make(map[string]*commandEntry),
		functions: make(map[string]*functionEntry),
		events:    make(map[string]*eventEntry),
		bus:       b,
		perm:      p,
		log:       logger,
	}
}

// RegisterCommand registers a chat command. A duplicate name overwrites the
// prior registration, logged as a warning (spec.md's authoritative
// overwrite semantics, superseding the older skip-on-duplicate draft).
func (r *Registry) RegisterCommand(name, description string, handler CommandHandler, perm Permission, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; exists {
		r.log.Warn("command already registered, overwriting", "name", name)
	}
	r.commands[name] = &commandEntry{description: description, handler: handler, permission: perm, owner: owner}
}

// UnregisterCommand removes a command registration.
func (r *Registry) UnregisterCommand(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, name)
}

// RegisterFunction registers a named function. A duplicate name is an
// error; functions are not overwritten.
func (r *Registry) RegisterFunction(name string, handler FunctionHandler, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.functions[name]; exists {
		return fmt.Errorf("function %q already registered", name)
	}
	r.functions[name] = &functionEntry{handler: handler, owner: owner}
	return nil
}

// UnregisterFunction removes a function registration.
func (r *Registry) UnregisterFunction(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.functions, name)
}

// RegisterEvent subscribes handler to GenericEvents named eventName,
// wrapping it in a filter subscribed once to protocol.GenericEvent on the
// bus. listenerName disambiguates multiple handlers for the same eventName
// (e.g. from different plugins). Duplicate (eventName, listenerName) is an
// error.
func (r *Registry) RegisterEvent(eventName, listenerName string, handler EventHandler, priority int, owner string) error {
	key := eventName + "|" + listenerName

	r.mu.Lock()
	if _, exists := r.events[key]; exists {
		r.mu.Unlock()
		return fmt.Errorf("event listener %q for %q already registered", listenerName, eventName)
	}
	r.mu.Unlock()

	wrapper := func(ctx context.Context, event protocol.Event) (any, error) {
		ge, ok := event.(*protocol.GenericEvent)
		if !ok || ge.Name != eventName {
			return nil, nil
		}
		if err := handler(ctx, ge); err != nil {
			r.recordCrash("event", key)
			return nil, err
		}
		return nil, nil
	}

	r.bus.Subscribe(&protocol.GenericEvent{}, wrapper, priority)

	r.mu.Lock()
	r.events[key] = &eventEntry{eventName: eventName, handler: handler, wrapper: wrapper, owner: owner}
	r.mu.Unlock()
	return nil
}

// UnregisterEvent removes the (eventName, listenerName) subscription,
// including its bus wrapper.
func (r *Registry) UnregisterEvent(eventName, listenerName string) {
	key := eventName + "|" + listenerName
	r.mu.Lock()
	entry, ok := r.events[key]
	if ok {
		delete(r.events, key)
	}
	r.mu.Unlock()
	if ok {
		r.bus.Unsubscribe(&protocol.GenericEvent{}, entry.wrapper)
	}
}

// UnregisterOwner purges every command, function, and event subscription
// registered with owner (a plugin name), used by the Plugin Manager on
// unload.
func (r *Registry) UnregisterOwner(owner string) {
	r.mu.Lock()
	var toUnsub []*eventEntry
	for name, e := range r.commands {
		if e.owner == owner {
			delete(r.commands, name)
		}
	}
	for name, e := range r.functions {
		if e.owner == owner {
			delete(r.functions, name)
		}
	}
	for key, e := range r.events {
		if e.owner == owner {
			delete(r.events, key)
			toUnsub = append(toUnsub, e)
		}
	}
	r.mu.Unlock()
	for _, e := range toUnsub {
		r.bus.Unsubscribe(&protocol.GenericEvent{}, e.wrapper)
	}
}

// ExecuteCommand dispatches a CommandEvent: unknown command, permission
// check, handler invocation, and crash recording, in that order.
func (r *Registry) ExecuteCommand(ctx context.Context, ev *protocol.CommandEvent) *protocol.MessageRequest {
	r.mu.RLock()
	entry, ok := r.commands[ev.Command]
	r.mu.RUnlock()

	if !ok {
		return ev.ReplyText(NoCommandMessage)
	}

	if !entry.permission.isZero() {
		groupID := "-1"
		if ev.Group != nil {
			groupID = ev.Group.GroupID
		}
		allowed := false
		for _, p := range entry.permission.names {
			if r.perm.Check(p, ev.User.UserID, groupID) {
				allowed = true
				break
			}
		}
		if !allowed {
			return ev.ReplyText(PermissionDeniedMessage)
		}
	}

	result, err := r.safeInvokeCommand(ctx, entry, ev)
	if err != nil {
		crashed := r.recordCrash("command", ev.Command)
		if crashed {
			r.UnregisterCommand(ev.Command)
			r.log.Warn("command auto-disabled after repeated crashes", "name", ev.Command)
		}
		return ev.ReplyText(fmt.Sprintf("Error executing command: %s", err))
	}

	switch v := result.(type) {
	case nil:
		return nil
	case *protocol.MessageRequest:
		return v
	case string:
		return ev.ReplyText(v)
	default:
		return ev.ReplyText(fmt.Sprintf("%v", v))
	}
}

func (r *Registry) safeInvokeCommand(ctx context.Context, entry *commandEntry, ev *protocol.CommandEvent) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return entry.handler(ctx, ev)
}

// ExecuteFunction directly invokes a named function. Exceptions are
// captured into the crash ledger and nil is returned rather than
// propagating the error.
func (r *Registry) ExecuteFunction(ctx context.Context, name string, args ...any) any {
	r.mu.RLock()
	entry, ok := r.functions[name]
	r.mu.RUnlock()
	if !ok {
		r.log.Warn("execute_function: unknown function", "name", name)
		return nil
	}

	result, err := r.safeInvokeFunction(ctx, entry, args...)
	if err != nil {
		crashed := r.recordCrash("function", name)
		r.log.Error("function execution failed", "name", name, "err", err)
		if crashed {
			r.UnregisterFunction(name)
			r.log.Warn("function auto-disabled after repeated crashes", "name", name)
		}
		return nil
	}
	return result
}

func (r *Registry) safeInvokeFunction(ctx context.Context, entry *functionEntry, args ...any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return entry.handler(ctx, args...)
}

// ExecuteEvent publishes a GenericEvent named name on the bus.
func (r *Registry) ExecuteEvent(ctx context.Context, platform, name string, data map[string]any) {
	r.bus.Publish(ctx, protocol.NewGenericEvent(platform, name, data))
}

// recordCrash increments the (kind, name) crash counter and reports whether
// it has just reached CrashThreshold.
func (r *Registry) recordCrash(kind, name string) bool {
	key := kind + ":" + name
	v, _ := r.crashCounts.LoadOrStore(key, new(int32))
	counter := v.(*int32)
	n := atomic.AddInt32(counter, 1)
	return n == CrashThreshold
}

// CrashCount returns the current crash counter for (kind, name), for
// diagnostics/metrics surfaces.
func (r *Registry) CrashCount(kind, name string) int32 {
	v, ok := r.crashCounts.Load(kind + ":" + name)
	if !ok {
		return 0
	}
	return atomic.LoadInt32(v.(*int32))
}

// Commands returns a snapshot of registered command names and descriptions,
// for the built-in `plugins`/help surfaces.
func (r *Registry) Commands() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.commands))
	for name, e := range r.commands {
		out[name] = e.description
	}
	return out
}
