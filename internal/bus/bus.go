// Package bus implements Coral's Event Bus: a typed, prioritized,
// asynchronous pub/sub core with a middleware chain and a result queue that
// re-publishes handler-returned events. Grounded on the teacher's
// internal/bus.EventPublisher/MessageRouter interface contracts and on the
// original event_bus.py's priority/result-queue semantics.
package bus

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// ResultQueueSoftLimit is the soft capacity of the result queue; producers
// are never blocked by it, but crossing it is logged and counted.
const ResultQueueSoftLimit = 1000

const (
	resultBatchSize   = 10
	resultPollTimeout = 100 * time.Millisecond
	emptyPollDelay    = 10 * time.Millisecond
)

// DefaultPriority is applied to a handler registered without an explicit
// priority.
const DefaultPriority = 5

// Handler processes an event and may return a follow-up value to be
// re-published: another protocol.Event, a *protocol.MessageRequest, a plain
// string (legacy, coerced into a MessageRequest), or nil.
type Handler func(ctx context.Context, event protocol.Event) (any, error)

// Middleware runs before any handler for a published event. Returning
// (nil, false) or an error aborts propagation of this event entirely.
type Middleware func(ctx context.Context, event protocol.Event) (protocol.Event, bool)

type subscription struct {
	handler  Handler
	priority int
	seq      uint64 // registration order, used as the priority tie-breaker
}

// Metrics is a read-only snapshot of the bus's counters.
type Metrics struct {
	TotalEvents            int64
	TotalResults           int64
	TotalErrors            int64
	CurrentQueueSize       int
	MaxQueueSize           int
	AvgEventProcessMicros  int64
	AvgResultProcessMicros int64
}

// EventBus is the process-wide pub/sub core. Subscriber tables are guarded
// by an RWMutex (read on every Publish, written only on Subscribe/
// Unsubscribe/AddMiddleware — a rare operation during bootstrap). The
// result queue is an unbounded slice guarded by its own mutex so producers
// are never throttled (soft overflow past ResultQueueSoftLimit is accepted
// and logged, not rejected); a single worker goroutine drains it in
// batches, modeling the spec's "single consumer loop" design note.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[reflect.Type][]*subscription
	middlewares []Middleware
	seq         uint64

	resultsMu  sync.Mutex
	results    []protocol.Event
	resultsSig chan struct{}

	totalEvents  int64
	totalResults int64
	totalErrors  int64
	maxQueueSize int64

	eventProcessNanos  int64
	eventProcessCount  int64
	resultProcessNanos int64
	resultProcessCount int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// New constructs an EventBus. Call Initialize to start the result-queue
// worker before publishing events whose handlers return follow-up values.
func New(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		subscribers: make(map[reflect.Type][]*subscription),
		resultsSig:  make(chan struct{}, 1),
		log:         logger,
	}
}

// Subscribe registers handler for events of the same concrete type as
// sample (e.g. &protocol.MessageEvent{}). Handlers for a type are kept
// sorted by descending priority, then by registration order.
func (b *EventBus) Subscribe(sample protocol.Event, handler Handler, priority int) {
	t := reflect.TypeOf(sample)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	subs := append(b.subscribers[t], &subscription{handler: handler, priority: priority, seq: b.seq})
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority > subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})
	b.subscribers[t] = subs
}

// Unsubscribe removes handler from sample's subscriber list. Handler
// identity is the func value itself: a copy of the value passed to
// Subscribe matches, while two handlers created from the same closure
// template are distinct (reflect.Value.Pointer would not tell them apart,
// as it returns their shared code pointer).
func (b *EventBus) Unsubscribe(sample protocol.Event, handler Handler) {
	t := reflect.TypeOf(sample)
	identity := func(h Handler) uintptr { return *(*uintptr)(unsafe.Pointer(&h)) }
	target := identity(handler)

	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[t]
	out := subs[:0]
	for _, s := range subs {
		if identity(s.handler) != target {
			out = append(out, s)
		}
	}
	b.subscribers[t] = out
}

// AddMiddleware appends mw to the middleware chain, run in registration
// order ahead of every Publish.
func (b *EventBus) AddMiddleware(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mw)
}

// Initialize starts the result-queue worker. Safe to call once; a second
// call is a no-op logged at Warn.
func (b *EventBus) Initialize(ctx context.Context) {
	if b.cancel != nil {
		b.log.Warn("event bus already initialized")
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.wg.Add(1)
	go b.processResults(workerCtx)
}

// Shutdown stops the result-queue worker and waits for it to drain its
// current batch.
func (b *EventBus) Shutdown() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	b.wg.Wait()
	b.cancel = nil
}

// Publish runs the middleware chain, then invokes every handler subscribed
// to event's concrete type in priority order. A handler's panic or error is
// caught, counted, and logged; it never stops subsequent handlers from
// running. Non-nil handler results are enqueued on the result queue.
func (b *EventBus) Publish(ctx context.Context, event protocol.Event) {
	start := time.Now()
	atomic.AddInt64(&b.totalEvents, 1)

	b.mu.RLock()
	middlewares := b.middlewares
	b.mu.RUnlock()

	for _, mw := range middlewares {
		next, ok, aborted := b.invokeMiddleware(ctx, mw, event)
		if aborted || !ok || next == nil {
			return
		}
		event = next
	}

	t := reflect.TypeOf(event)
	b.mu.RLock()
	subs := make([]*subscription, len(b.subscribers[t]))
	copy(subs, b.subscribers[t])
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(ctx, s.handler, event)
	}

	atomic.AddInt64(&b.eventProcessNanos, time.Since(start).Nanoseconds())
	atomic.AddInt64(&b.eventProcessCount, 1)
}

// invokeMiddleware runs a single middleware, catching a panic the same way
// invoke does for handlers: counted, logged, and treated as an abort of
// this event's propagation rather than a crash of Publish itself.
func (b *EventBus) invokeMiddleware(ctx context.Context, mw Middleware, event protocol.Event) (next protocol.Event, ok bool, aborted bool) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&b.totalErrors, 1)
			b.log.Error("middleware panicked", "panic", r, "event_type", reflect.TypeOf(event))
			aborted = true
		}
	}()

	next, ok = mw(ctx, event)
	return next, ok, false
}

func (b *EventBus) invoke(ctx context.Context, handler Handler, event protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&b.totalErrors, 1)
			b.log.Error("event handler panicked", "panic", r, "event_type", reflect.TypeOf(event))
		}
	}()

	result, err := handler(ctx, event)
	if err != nil {
		atomic.AddInt64(&b.totalErrors, 1)
		b.log.Error("event handler failed", "err", err, "event_type", reflect.TypeOf(event))
		return
	}
	if result == nil {
		return
	}
	b.enqueueResult(result, event)
}

func (b *EventBus) enqueueResult(result any, origin protocol.Event) {
	converted := convertToProtocol(result, origin)
	if converted == nil {
		return
	}

	b.resultsMu.Lock()
	b.results = append(b.results, converted)
	size := int64(len(b.results))
	b.resultsMu.Unlock()

	select {
	case b.resultsSig <- struct{}{}:
	default:
	}

	for {
		cur := atomic.LoadInt64(&b.maxQueueSize)
		if size <= cur || atomic.CompareAndSwapInt64(&b.maxQueueSize, cur, size) {
			break
		}
	}
	if size == ResultQueueSoftLimit {
		b.log.Warn("result queue over soft limit", "size", size, "limit", ResultQueueSoftLimit)
	}
}

// drainBatch pops up to n items from the front of the result queue.
func (b *EventBus) drainBatch(n int) []protocol.Event {
	b.resultsMu.Lock()
	defer b.resultsMu.Unlock()
	if len(b.results) == 0 {
		return nil
	}
	if n > len(b.results) {
		n = len(b.results)
	}
	batch := make([]protocol.Event, n)
	copy(batch, b.results[:n])
	b.results = b.results[n:]
	return batch
}

// convertToProtocol coerces a handler's return value into a protocol.Event.
// A plain string is legacy-coerced into a MessageRequest inheriting
// platform/event_id/self_id/user/group from the originating event — logged
// as deprecated, matching the original framework's compatibility shim.
func convertToProtocol(result any, origin protocol.Event) protocol.Event {
	switch v := result.(type) {
	case protocol.Event:
		return v
	case string:
		slog.Default().Warn("handler returned a bare string; wrapping as MessageRequest is deprecated, return *protocol.MessageRequest instead")
		base := origin.Base()
		req := &protocol.MessageRequest{
			EventBase: base,
			Message:   protocol.TextChain(v),
		}
		switch o := origin.(type) {
		case *protocol.MessageEvent:
			req.EventID = o.EventID
			req.User = &o.User
			req.Group = o.Group
		case *protocol.CommandEvent:
			req.EventID = o.EventID
			req.User = &o.User
			req.Group = o.Group
		case *protocol.NoticeEvent:
			req.EventID = o.EventID
			req.User = o.User
			req.Group = o.Group
		}
		return req
	default:
		return nil
	}
}

func (b *EventBus) processResults(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch := b.drainBatch(resultBatchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-b.resultsSig:
			case <-time.After(resultPollTimeout):
			}
			continue
		}

		start := time.Now()
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("result worker panicked", "panic", r)
				}
			}()
			for _, ev := range batch {
				atomic.AddInt64(&b.totalResults, 1)
				b.Publish(ctx, ev)
			}
		}()
		atomic.AddInt64(&b.resultProcessNanos, time.Since(start).Nanoseconds())
		atomic.AddInt64(&b.resultProcessCount, 1)

		select {
		case <-ctx.Done():
			return
		case <-time.After(emptyPollDelay):
		}
	}
}

// IsQueueFull reports whether the result queue is at or over its soft
// limit.
func (b *EventBus) IsQueueFull() bool {
	b.resultsMu.Lock()
	defer b.resultsMu.Unlock()
	return len(b.results) >= ResultQueueSoftLimit
}

// Metrics returns a point-in-time snapshot of the bus's counters.
func (b *EventBus) Metrics() Metrics {
	avgEvent := int64(0)
	if c := atomic.LoadInt64(&b.eventProcessCount); c > 0 {
		avgEvent = atomic.LoadInt64(&b.eventProcessNanos) / c / int64(time.Microsecond)
	}
	avgResult := int64(0)
	if c := atomic.LoadInt64(&b.resultProcessCount); c > 0 {
		avgResult = atomic.LoadInt64(&b.resultProcessNanos) / c / int64(time.Microsecond)
	}
	b.resultsMu.Lock()
	queueSize := len(b.results)
	b.resultsMu.Unlock()

	return Metrics{
		TotalEvents:            atomic.LoadInt64(&b.totalEvents),
		TotalResults:           atomic.LoadInt64(&b.totalResults),
		TotalErrors:            atomic.LoadInt64(&b.totalErrors),
		CurrentQueueSize:       queueSize,
		MaxQueueSize:           int(atomic.LoadInt64(&b.maxQueueSize)),
		AvgEventProcessMicros:  avgEvent,
		AvgResultProcessMicros: avgResult,
	}
}
