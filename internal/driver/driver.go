// Package driver implements Coral's transport tier: each Driver owns one
// connection (stdin, a WebSocket listener, …) and forwards raw bytes to a
// bound Adapter by protocol tag. Grounded on Coral/driver.py's BaseDriver /
// DriverManager: __init__ wiring adapter.add_driver(self), handle_receive
// forwarding to adapter.handle_incoming, on_connect/on_disconnect calling
// create_bot_for_driver/remove_bot_for_driver, and a tracked-task set
// cleaned up on stop.
//
// driver deliberately never imports internal/adapter. AdapterBinding below
// names only the methods a Driver needs, using unnamed function types so
// any concrete Adapter (defined in internal/adapter, which is structurally
// identical) satisfies it without either package referencing the other —
// internal/bootstrap wires the two together.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// AdapterBinding is the subset of an Adapter a Driver needs: where to route
// inbound payloads, and the connect/disconnect bot-lifecycle hooks.
type AdapterBinding interface {
	Protocol() string
	HandleIncoming(ctx context.Context, driverSelfID string, raw []byte)
	CreateBotForDriver(driverSelfID string, send func(ctx context.Context, raw []byte) error)
	RemoveBotForDriver(driverSelfID string)
}

// Driver owns one transport connection and declares a PROTOCOL tag shared
// with its bound Adapter.
type Driver interface {
	Protocol() string
	SelfID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendAction(ctx context.Context, raw []byte) error
}

// BaseDriver is embedded by concrete drivers for the bookkeeping shared by
// all of them: the bound adapter reference and a tracked set of background
// goroutines, mirroring the original's `_tasks: Set[asyncio.Task]`.
type BaseDriver struct {
	protocolTag string
	selfID      string
	adapter     AdapterBinding

	wg  sync.WaitGroup
	log *slog.Logger
}

// NewBase constructs the embeddable driver state. adapter must not be nil.
// Concrete drivers call it from their own constructors; Manager.Register
// does not construct drivers, it only skips one whose protocol has no
// registered adapter.
func NewBase(protocolTag, selfID string, adapter AdapterBinding, logger *slog.Logger) BaseDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return BaseDriver{protocolTag: protocolTag, selfID: selfID, adapter: adapter, log: logger}
}

func (b *BaseDriver) Protocol() string { return b.protocolTag }
func (b *BaseDriver) SelfID() string   { return b.selfID }

// Track spawns fn in a goroutine tracked by the driver's WaitGroup, so Wait
// (called from Stop) can block until every in-flight task has exited — the
// Go analogue of the original's done-callback-discarded asyncio.Task set.
func (b *BaseDriver) Track(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Wait blocks until every tracked task has returned.
func (b *BaseDriver) Wait() { b.wg.Wait() }

// HandleReceive forwards a raw inbound payload to the bound adapter.
func (b *BaseDriver) HandleReceive(ctx context.Context, raw []byte) {
	b.adapter.HandleIncoming(ctx, b.selfID, raw)
}

// OnConnect tells the bound adapter to create a Bot for this driver's
// self_id, wired to send through sendFn (normally the concrete driver's own
// SendAction method value).
func (b *BaseDriver) OnConnect(sendFn func(ctx context.Context, raw []byte) error) {
	b.adapter.CreateBotForDriver(b.selfID, sendFn)
}

// OnDisconnect tells the bound adapter to remove this driver's Bot.
func (b *BaseDriver) OnDisconnect() {
	b.adapter.RemoveBotForDriver(b.selfID)
}

// AdapterLookup resolves a protocol tag to its bound Adapter. Implemented
// in internal/bootstrap by wrapping *adapter.Manager.Get, which keeps this
// package import-free of internal/adapter.
type AdapterLookup interface {
	Lookup(protocol string) (AdapterBinding, bool)
}

// Manager owns every discovered Driver, binds each to its matching Adapter
// by protocol tag at registration, and fans start/stop out across all of
// them. Grounded on DriverManager.register_driver (warns and cleans up on
// protocol overwrite) and start_all/stop_all (gather with errors collected,
// never aborting the whole fan-out on one failure).
type Manager struct {
	mu      sync.RWMutex
	drivers map[string]Driver
	lookup  AdapterLookup
	log     *slog.Logger
}

// NewManager constructs a Manager bound to lookup for protocol resolution.
func NewManager(lookup AdapterLookup, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{drivers: make(map[string]Driver), lookup: lookup, log: logger}
}

// Register binds d to the Adapter matching its Protocol tag. A Driver whose
// protocol has no registered Adapter is skipped with a warning. Registering
// a second driver for an already-bound protocol stops and replaces the
// first, logging a warning (matches the original's overwrite behavior).
func (m *Manager) Register(d Driver) {
	proto := d.Protocol()

	if _, ok := m.lookup.Lookup(proto); !ok {
		m.log.Warn("driver has no matching adapter, skipping", "protocol", proto)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.drivers[proto]; ok {
		m.log.Warn("driver overwritten for protocol", "protocol", proto)
		go func() { _ = existing.Stop(context.Background()) }()
	}
	m.drivers[proto] = d
}

// Drivers returns a snapshot of every registered driver.
func (m *Manager) Drivers() []Driver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, d)
	}
	return out
}

// StartAll starts every registered driver concurrently, the Go equivalent
// of asyncio.gather(..., return_exceptions=True): every driver is given a
// chance to start regardless of another's failure, and every error is
// returned together.
func (m *Manager) StartAll(ctx context.Context) []error {
	drivers := m.Drivers()
	errCh := make(chan error, len(drivers))
	var wg sync.WaitGroup
	for _, d := range drivers {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Start(ctx); err != nil {
				errCh <- fmt.Errorf("start driver %q: %w", d.Protocol(), err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

// StopAll stops every registered driver concurrently and collects errors.
func (m *Manager) StopAll(ctx context.Context) []error {
	drivers := m.Drivers()
	errCh := make(chan error, len(drivers))
	var wg sync.WaitGroup
	for _, d := range drivers {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Stop(ctx); err != nil {
				errCh <- fmt.Errorf("stop driver %q: %w", d.Protocol(), err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}
