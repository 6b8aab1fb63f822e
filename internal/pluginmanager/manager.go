package pluginmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// State is a PluginEntry's position in its lifecycle state machine:
// Unloaded -> Loading -> {Loaded, Error} -> Unloaded -> ...; Disabled is
// terminal, reachable from Unloaded or from Loaded via a prior unload.
// Enabled is a short-lived transitional marker immediately after re-enable,
// before the next explicit load.
type State string

const (
	StateUnloaded State = "Unloaded"
	StateLoading  State = "Loading"
	StateLoaded   State = "Loaded"
	StateError    State = "Error"
	StateDisabled State = "Disabled"
	StateEnabled  State = "Enabled"
)

// DefaultMaxConcurrentLoads caps simultaneous in-flight plugin loads across
// a layer.
const DefaultMaxConcurrentLoads = 5

// Metrics tracks per-plugin load timing and outcome counts.
type Metrics struct {
	LoadCount    int
	ErrorCount   int
	LastLoadTime time.Duration
}

// Entry is the Registry record for one discovered plugin.
type Entry struct {
	Name            string
	Meta            PluginMeta
	State           State
	Metrics         Metrics
	ErrorMessage    string
	DependenciesMet bool
	LoadedAt        time.Time

	plugin Plugin
}

// Manager discovers compiled-in plugins, resolves their dependency DAG,
// and loads/unloads them in topologically-ordered concurrent layers.
type Manager struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	disabled map[string]bool

	maxConcurrent int
	rt            *Runtime
	bus           eventPublisherForLifecycle
	crashLog      *CrashLog
	log           *slog.Logger
}

// SetCrashLog attaches a durable crash ledger; every load/unload failure is
// additionally recorded there once set. Optional — a nil crash log means
// only the in-memory Metrics counters track failures.
func (m *Manager) SetCrashLog(cl *CrashLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crashLog = cl
}

type eventPublisherForLifecycle interface {
	Publish(ctx context.Context, event protocol.Event)
}

// New constructs a Manager. rt is handed to every plugin's Load/Unload;
// bus is used to publish plugin_loaded lifecycle events.
func New(rt *Runtime, bus eventPublisherForLifecycle, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		entries:       make(map[string]*Entry),
		disabled:      make(map[string]bool),
		maxConcurrent: DefaultMaxConcurrentLoads,
		rt:            rt,
		bus:           bus,
		log:           logger,
	}
}

// SetMaxConcurrentLoads overrides the per-layer concurrency cap.
func (m *Manager) SetMaxConcurrentLoads(n int) {
	if n > 0 {
		m.maxConcurrent = n
	}
}

// SetDisabled marks name as administratively disabled (the Go analogue of
// renaming a plugin directory with a `.disabled` suffix — Go plugins have
// no on-disk directory, so this flag is the substitute mechanism).
func (m *Manager) SetDisabled(name string, disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled[name] = disabled
}

// IsDisabled reports whether name is administratively disabled.
func (m *Manager) IsDisabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disabled[name]
}

// Discover registers a PluginEntry (state Unloaded) for every compiled-in
// plugin not already known to the manager, without loading any of them.
func (m *Manager) Discover() {
	metas := discoveredMetadata()
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, meta := range metas {
		if _, exists := m.entries[name]; exists {
			continue
		}
		state := StateUnloaded
		if m.disabled[name] {
			state = StateDisabled
		}
		m.entries[name] = &Entry{Name: name, Meta: meta, State: state}
	}
}

// Entries returns a snapshot of every known plugin entry, for the
// `plugins` built-in command.
func (m *Manager) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out
}

// Entry returns a copy of a single plugin's entry.
func (m *Manager) Entry(name string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// LoadAll computes topological layers over every non-disabled discovered
// plugin and loads them layer by layer: every plugin in one layer loads
// concurrently (capped by maxConcurrent); the next layer begins only after
// every plugin in the previous layer has reached Loaded or Error.
func (m *Manager) LoadAll(ctx context.Context) error {
	metas := m.loadableMetas()

	for name, meta := range metas {
		if err := validateNoDuplicateDependency(meta); err != nil {
			m.markError(name, err)
		}
	}

	layers, _ := buildLayers(metas)
	stuck := cyclicNodes(metas, layers)
	for _, name := range stuck {
		m.markError(name, fmt.Errorf("plugin %q is part of a dependency cycle, refusing to load", name))
	}

	for _, layer := range layers {
		m.loadLayer(ctx, layer, metas)
	}

	return nil
}

func (m *Manager) loadableMetas() map[string]PluginMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]PluginMeta)
	for name, e := range m.entries {
		if e.State == StateDisabled {
			continue
		}
		out[name] = e.Meta
	}
	return out
}

func (m *Manager) loadLayer(ctx context.Context, layer []string, metas map[string]PluginMeta) {
	sem := make(chan struct{}, m.maxConcurrent)
	var wg sync.WaitGroup

	for _, name := range layer {
		name := name
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			missing := m.unloadedDependencies(metas[name].Dependencies)
			m.loadOne(ctx, name, missing)
		}()
	}
	wg.Wait()
}

// unloadedDependencies returns the subset of deps that are not in StateLoaded
// as of the end of the previous layer: a dependency that was never
// discovered, that failed to load, or that is administratively disabled all
// count as unmet, per spec.md §8 scenario 3. All prior layers have already
// finished loading by the time this layer starts, so an entry's state here
// is final for this LoadAll pass.
func (m *Manager) unloadedDependencies(deps []string) []string {
	if len(deps) == 0 {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var missing []string
	for _, dep := range deps {
		e, ok := m.entries[dep]
		if !ok || e.State != StateLoaded {
			missing = append(missing, dep)
		}
	}
	return missing
}

// loadOne runs the load pipeline for a single plugin: compatibility gate,
// instantiate + Load, success metrics + plugin_loaded event, or Error on
// any failure. It never leaves partial registry state behind — after a
// failed Load, everything registered with the plugin's name as owner is
// purged via Runtime.Registry.UnregisterOwner.
func (m *Manager) loadOne(ctx context.Context, name string, missingDeps []string) {
	m.setState(name, StateLoading)
	start := time.Now()

	entry, _ := m.Entry(name)
	if entry.Meta.Compatibility < ManagerCompatibility {
		m.markError(name, fmt.Errorf("plugin %q requires compatibility >= %d, manager is %d", name, entry.Meta.Compatibility, ManagerCompatibility))
		return
	}

	plugin, ok := instantiate(name)
	if !ok {
		m.markError(name, fmt.Errorf("plugin %q has no registered factory", name))
		return
	}

	err := m.safeLoad(ctx, plugin)
	elapsed := time.Since(start)

	m.mu.Lock()
	e := m.entries[name]
	if err != nil {
		e.State = StateError
		e.ErrorMessage = err.Error()
		e.Metrics.ErrorCount++
		e.DependenciesMet = len(missingDeps) == 0
		m.mu.Unlock()
		if m.rt != nil && m.rt.Registry != nil {
			m.rt.Registry.UnregisterOwner(name)
		}
		m.log.Error("plugin load failed", "name", name, "err", err)
		m.recordCrash(ctx, name, "load", err.Error())
		return
	}
	e.State = StateLoaded
	e.plugin = plugin
	e.LoadedAt = time.Now()
	e.Metrics.LoadCount++
	e.Metrics.LastLoadTime = elapsed
	e.DependenciesMet = len(missingDeps) == 0
	if len(missingDeps) > 0 {
		m.log.Warn("plugin loaded with unresolved dependencies", "name", name, "missing", missingDeps)
	}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(ctx, protocol.NewGenericEvent("coral", "plugin_loaded", map[string]any{
			"plugin_name":    name,
			"plugin_version": entry.Meta.Version,
			"timestamp":      time.Now().Unix(),
		}))
	}
}

func (m *Manager) safeLoad(ctx context.Context, plugin Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during plugin load: %v", r)
		}
	}()
	return plugin.Load(ctx, m.rt)
}

// Unload unloads a single plugin and purges everything registered with its
// name as owner from the Registry. Refuses if any other currently-Loaded
// plugin declares a dependency on it.
func (m *Manager) Unload(ctx context.Context, name string) error {
	if blockers := m.dependents(name); len(blockers) > 0 {
		return fmt.Errorf("cannot unload %q: depended on by %v", name, blockers)
	}

	m.mu.RLock()
	e, ok := m.entries[name]
	m.mu.RUnlock()
	if !ok || e.State != StateLoaded {
		return fmt.Errorf("plugin %q is not loaded", name)
	}

	if err := m.safeUnload(ctx, e.plugin); err != nil {
		return fmt.Errorf("unload %q: %w", name, err)
	}

	m.mu.Lock()
	e.plugin = nil
	e.State = StateUnloaded
	m.mu.Unlock()
	if m.rt != nil && m.rt.Registry != nil {
		m.rt.Registry.UnregisterOwner(name)
	}
	return nil
}

func (m *Manager) safeUnload(ctx context.Context, plugin Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during plugin unload: %v", r)
		}
	}()
	return plugin.Unload(ctx)
}

func (m *Manager) dependents(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for other, e := range m.entries {
		if other == name || e.State != StateLoaded {
			continue
		}
		for _, dep := range e.Meta.Dependencies {
			if dep == name {
				out = append(out, other)
			}
		}
	}
	return out
}

// UnloadAll unloads every currently-loaded plugin in reverse topological
// order, one layer at a time. Best-effort: a failure in one plugin does not
// stop the remaining plugins from being unloaded; all errors are returned
// together.
func (m *Manager) UnloadAll(ctx context.Context) []error {
	metas := m.loadedMetas()
	layers, _ := buildLayers(metas)

	var errs []error
	for i := len(layers) - 1; i >= 0; i-- {
		for _, name := range layers[i] {
			if err := m.Unload(ctx, name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

func (m *Manager) loadedMetas() map[string]PluginMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]PluginMeta)
	for name, e := range m.entries {
		if e.State == StateLoaded {
			out[name] = e.Meta
		}
	}
	return out
}

// Disable unloads name (if loaded) and marks it Disabled; re-enabling does
// not auto-load it.
func (m *Manager) Disable(ctx context.Context, name string) error {
	m.mu.RLock()
	e, ok := m.entries[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown plugin %q", name)
	}
	if e.State == StateLoaded {
		if err := m.Unload(ctx, name); err != nil {
			return err
		}
	}
	m.SetDisabled(name, true)
	m.mu.Lock()
	e.State = StateDisabled
	m.mu.Unlock()
	return nil
}

// Enable marks name as no longer administratively disabled. It transitions
// briefly through Enabled and settles at Unloaded; the caller must call
// LoadAll or load it explicitly to bring it back up.
func (m *Manager) Enable(name string) error {
	m.mu.RLock()
	e, ok := m.entries[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown plugin %q", name)
	}
	m.SetDisabled(name, false)
	m.mu.Lock()
	e.State = StateEnabled
	m.mu.Unlock()
	m.setState(name, StateUnloaded)
	return nil
}

func (m *Manager) setState(name string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[name]; ok {
		e.State = s
	}
}

func (m *Manager) markError(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[name]; ok {
		e.State = StateError
		e.ErrorMessage = err.Error()
		e.Metrics.ErrorCount++
	}
	m.log.Error("plugin error", "name", name, "err", err)
	m.recordCrash(context.Background(), name, "dependency", err.Error())
}

// recordCrash best-effort mirrors a failure into the durable crash ledger,
// if one is attached. Logging failures to persist a crash record is itself
// only logged, never propagated — the in-memory Entry state is always the
// authoritative source of truth for the running process.
func (m *Manager) recordCrash(ctx context.Context, name, kind, message string) {
	m.mu.RLock()
	cl := m.crashLog
	m.mu.RUnlock()
	if cl == nil {
		return
	}
	if err := cl.Record(ctx, name, kind, message); err != nil {
		m.log.Warn("failed to persist plugin crash record", "name", name, "err", err)
	}
}
