// Package pluginmanager discovers, resolves, and loads Coral plugins.
//
// Go is compiled, not interpreted, so "parse a plugin's metadata without
// executing it" (spec.md §4.4) cannot mean static source analysis of an
// arbitrary file the way the original Python implementation's ast-based
// parser works. Per spec.md §9's own design note, Coral instead compiles
// plugins in as regular Go packages that call Register from an init()
// function — Register only records the declared PluginMeta; the plugin's
// Load method (the analogue of executing top-level code and on_load hooks)
// is not invoked until the Manager's layered loader calls it explicitly.
// This preserves the two-phase discover-then-load contract even though both
// phases now run in the same process.
package pluginmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// ManagerCompatibility is the manager's own API compatibility stamp.
// Plugins declaring a lower Compatibility are refused at load time.
const ManagerCompatibility = 250606

// PluginMeta is a plugin's declared, statically-known metadata.
type PluginMeta struct {
	Name          string
	Version       string
	Author        string
	Description   string
	Compatibility int
	Dependencies  []string
	Requirements  []string
}

// Runtime is the set of shared singletons a Plugin's Load/Unload methods
// receive — its view of the rest of the running Coral process.
type Runtime struct {
	Bus        EventPublisher
	Registry   CommandRegistry
	Permission PermissionChecker
}

// EventPublisher is the subset of *bus.EventBus a plugin needs.
type EventPublisher interface {
	Publish(ctx context.Context, event protocol.Event)
}

// CommandRegistry is the subset of *registry.Registry exposed through
// Runtime: UnregisterOwner, which the Manager calls to purge a plugin's
// commands, functions, and event handlers. Registration methods are not
// part of it.
type CommandRegistry interface {
	UnregisterOwner(owner string)
}

// PermissionChecker is the subset of *permission.System a plugin needs.
type PermissionChecker interface {
	RegisterPerm(name, description string)
}

// Plugin is the contract every Coral plugin implements — the Go analogue of
// spec.md §9's "explicit Load/Unload methods on a contract type".
type Plugin interface {
	Meta() PluginMeta
	Load(ctx context.Context, rt *Runtime) error
	Unload(ctx context.Context) error
}

// Factory constructs a fresh Plugin instance. Kept separate from the Plugin
// value itself so metadata can be inspected (and cached) before any
// plugin-owned state is allocated.
type Factory func() Plugin

type registration struct {
	meta    PluginMeta
	factory Factory
}

var (
	registryMu   sync.Mutex
	registrations = map[string]registration{}
)

// Register records a plugin's declared metadata and constructor. Called
// from a plugin package's init() — this is the compiled-in equivalent of
// the original framework's decorator-based dynamic registration, and it
// never invokes factory() or touches the plugin's Load method.
func Register(meta PluginMeta, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registrations[meta.Name]; exists {
		panic(fmt.Sprintf("pluginmanager: duplicate plugin registration %q", meta.Name))
	}
	registrations[meta.Name] = registration{meta: meta, factory: factory}
}

// discoveredMetadata returns the metadata of every compiled-in plugin,
// without instantiating any of them — the Go equivalent of spec.md's
// "parse metadata without executing" discovery phase.
func discoveredMetadata() map[string]PluginMeta {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make(map[string]PluginMeta, len(registrations))
	for name, r := range registrations {
		out[name] = r.meta
	}
	return out
}

func instantiate(name string) (Plugin, bool) {
	registryMu.Lock()
	r, ok := registrations[name]
	registryMu.Unlock()
	if !ok {
		return nil, false
	}
	return r.factory(), true
}
