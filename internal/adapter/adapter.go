// Package adapter implements Coral's protocol-translation tier: each
// Adapter declares a PROTOCOL tag matching one or more Drivers, translates
// raw platform payloads into the typed event model, and routes outbound
// MessageRequest/ActionRequest values back out through whichever Driver
// owns the target Bot's transport. Grounded on Coral/adapter.py's
// BaseAdapter (bot directory keyed by self_id, create_bot_for_driver /
// remove_bot_for_driver) and on the AdapterManager's bus subscription for
// outbound routing described in spec.md §4.5.
//
// adapter deliberately never imports internal/driver; see driver.go's
// package comment for why the two stay decoupled.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/ProjectCoral/Coral/internal/bus"
	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// DefaultOutboundTimeout is the per-adapter deadline for handling one
// outgoing request, per spec.md §4.5/§5.
const DefaultOutboundTimeout = 30 * time.Second

// DefaultConcurrency caps simultaneous in-flight outbound calls per adapter.
const DefaultConcurrency = 10

// DefaultRateLimit caps steady-state outbound calls per second per adapter,
// protecting rate-limited platform APIs; DefaultRateBurst is the bucket
// size. These are additive to the concurrency semaphore, not a replacement
// for it.
const (
	DefaultRateLimit = 20
	DefaultRateBurst = 20
)

// Bot represents one connected client of a given Adapter, keyed by the
// owning Driver's self_id. send is the Driver's own SendAction method
// value — storing it directly avoids any adapter->driver type dependency.
type Bot struct {
	Platform string
	SelfID   string
	send     func(ctx context.Context, raw []byte) error
}

// SendAction forwards raw bytes to this bot's transport.
func (b *Bot) SendAction(ctx context.Context, raw []byte) error {
	if b.send == nil {
		return fmt.Errorf("bot %q has no transport bound", b.SelfID)
	}
	return b.send(ctx, raw)
}

// Adapter is the contract every protocol translator implements. Method
// parameter types are deliberately primitive/unnamed so that any type
// implementing this interface also structurally satisfies
// driver.AdapterBinding without importing it.
type Adapter interface {
	Protocol() string
	HandleIncoming(ctx context.Context, driverSelfID string, raw []byte)
	HandleOutgoingMessage(ctx context.Context, req *protocol.MessageRequest) *protocol.BotResponse
	HandleOutgoingAction(ctx context.Context, req *protocol.ActionRequest) *protocol.BotResponse
	CreateBotForDriver(driverSelfID string, send func(ctx context.Context, raw []byte) error)
	RemoveBotForDriver(driverSelfID string)
	Cleanup()
	// Bots returns the self_ids of every currently connected bot.
	Bots() []string
}

// Publisher is the subset of *bus.EventBus the Manager needs to subscribe
// for outbound routing and to publish translated inbound events.
type Publisher interface {
	Publish(ctx context.Context, event protocol.Event)
	Subscribe(sample protocol.Event, handler bus.Handler, priority int)
}

// Manager indexes every discovered Adapter by protocol, subscribes itself
// to the bus for outbound MessageRequest/ActionRequest routing, and
// enforces the per-adapter timeout + concurrency semaphore + rate limit
// described in spec.md §4.5/§5.
type Manager struct {
	adapters map[string]Adapter

	timeout     time.Duration
	concurrency int

	sems     map[string]chan struct{}
	limiters map[string]*rate.Limiter

	latency metric.Float64Histogram
	log     *slog.Logger
}

// SetLatencyHistogram attaches an OTel histogram recording outbound call
// duration in milliseconds, tagged with the target protocol. Optional —
// nil (the default) disables recording.
func (m *Manager) SetLatencyHistogram(h metric.Float64Histogram) { m.latency = h }

// NewManager constructs an empty Manager. Call Register for each discovered
// adapter, then Bind to subscribe it to bus for outbound routing.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		adapters:    make(map[string]Adapter),
		timeout:     DefaultOutboundTimeout,
		concurrency: DefaultConcurrency,
		sems:        make(map[string]chan struct{}),
		limiters:    make(map[string]*rate.Limiter),
		log:         logger,
	}
}

// SetTimeout overrides the per-adapter outbound deadline.
func (m *Manager) SetTimeout(d time.Duration) { m.timeout = d }

// SetConcurrency overrides the per-adapter outbound concurrency cap.
func (m *Manager) SetConcurrency(n int) {
	if n > 0 {
		m.concurrency = n
	}
}

// Register indexes a, keyed by its Protocol tag, and allocates its
// concurrency semaphore and rate limiter.
func (m *Manager) Register(a Adapter) {
	proto := strings.ToLower(a.Protocol())
	m.adapters[proto] = a
	m.sems[proto] = make(chan struct{}, m.concurrency)
	m.limiters[proto] = rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateBurst)
}

// Get returns the Adapter bound to protocol (case-insensitive), satisfying
// driver.AdapterLookup structurally once wrapped by internal/bootstrap.
func (m *Manager) Get(proto string) (Adapter, bool) {
	a, ok := m.adapters[strings.ToLower(proto)]
	return a, ok
}

// Bind subscribes the Manager to bus for outbound MessageRequest and
// ActionRequest delivery, per spec.md §4.5's "Adapter Manager subscribes
// itself on the bus".
func (m *Manager) Bind(bus Publisher) {
	bus.Subscribe(&protocol.MessageRequest{}, func(ctx context.Context, event protocol.Event) (any, error) {
		req, ok := event.(*protocol.MessageRequest)
		if !ok {
			return nil, nil
		}
		m.dispatchMessage(ctx, req)
		return nil, nil
	}, 0)

	bus.Subscribe(&protocol.ActionRequest{}, func(ctx context.Context, event protocol.Event) (any, error) {
		req, ok := event.(*protocol.ActionRequest)
		if !ok {
			return nil, nil
		}
		m.dispatchAction(ctx, req)
		return nil, nil
	}, 0)
}

func (m *Manager) dispatchMessage(ctx context.Context, req *protocol.MessageRequest) *protocol.BotResponse {
	a, sem, limiter, ok := m.resolve(req.Platform)
	if !ok {
		return protocol.FailedResponse(req.Platform, req.SelfID, req.EventID, fmt.Sprintf("no adapter registered for platform %q", req.Platform))
	}
	return m.timed(ctx, req.Platform, func() *protocol.BotResponse {
		return m.callWithGuards(ctx, sem, limiter, func(ctx context.Context) *protocol.BotResponse {
			return a.HandleOutgoingMessage(ctx, req)
		})
	})
}

func (m *Manager) dispatchAction(ctx context.Context, req *protocol.ActionRequest) *protocol.BotResponse {
	a, sem, limiter, ok := m.resolve(req.Platform)
	if !ok {
		return protocol.FailedResponse(req.Platform, req.SelfID, "", fmt.Sprintf("no adapter registered for platform %q", req.Platform))
	}
	return m.timed(ctx, req.Platform, func() *protocol.BotResponse {
		return m.callWithGuards(ctx, sem, limiter, func(ctx context.Context) *protocol.BotResponse {
			return a.HandleOutgoingAction(ctx, req)
		})
	})
}

func (m *Manager) timed(ctx context.Context, protocolTag string, fn func() *protocol.BotResponse) *protocol.BotResponse {
	if m.latency == nil {
		return fn()
	}
	start := time.Now()
	resp := fn()
	m.latency.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("protocol", protocolTag)))
	return resp
}

func (m *Manager) resolve(platform string) (Adapter, chan struct{}, *rate.Limiter, bool) {
	key := strings.ToLower(platform)
	a, ok := m.adapters[key]
	if !ok {
		return nil, nil, nil, false
	}
	return a, m.sems[key], m.limiters[key], true
}

// callWithGuards enforces the timeout, concurrency semaphore, and rate
// limiter around a single outbound call. A timeout or panic becomes a
// failed BotResponse — it never propagates back to the bus as an error,
// per spec.md §7's "exceptions never cross a subsystem boundary".
func (m *Manager) callWithGuards(ctx context.Context, sem chan struct{}, limiter *rate.Limiter, fn func(ctx context.Context) *protocol.BotResponse) *protocol.BotResponse {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := limiter.Wait(ctx); err != nil {
		return protocol.FailedResponse("", "", "", "adapter rate limit wait timed out")
	}

	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return protocol.FailedResponse("", "", "", "adapter outbound call timed out waiting for a concurrency slot")
	}

	resultCh := make(chan *protocol.BotResponse, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- protocol.FailedResponse("", "", "", fmt.Sprintf("adapter handler panicked: %v", r))
			}
		}()
		resultCh <- fn(ctx)
	}()

	select {
	case resp := <-resultCh:
		return resp
	case <-ctx.Done():
		return protocol.FailedResponse("", "", "", "adapter outbound call timed out")
	}
}

// ListBots returns the self_ids of every bot currently connected through
// the adapter bound to proto, per spec.md §4.5's bot directory concept.
func (m *Manager) ListBots(proto string) ([]string, bool) {
	a, ok := m.Get(proto)
	if !ok {
		return nil, false
	}
	return a.Bots(), true
}

// GetBot reports whether selfID is currently connected through the adapter
// bound to proto.
func (m *Manager) GetBot(proto, selfID string) bool {
	bots, ok := m.ListBots(proto)
	if !ok {
		return false
	}
	for _, id := range bots {
		if id == selfID {
			return true
		}
	}
	return false
}

// Cleanup runs every registered adapter's Cleanup, clearing bot
// directories and cancelling outstanding outbound work.
func (m *Manager) Cleanup() {
	for _, a := range m.adapters {
		a.Cleanup()
	}
}
