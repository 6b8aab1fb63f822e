// Package genericjson implements a minimal pass-through Adapter: it does
// not understand any specific platform wire format. Inbound bytes are
// parsed as JSON (falling back to a raw string payload) and republished as
// a GenericEvent; outbound MessageRequest/ActionRequest values are
// marshaled back to JSON and handed to the bound Driver as-is. Grounded on
// Coral/adapter.py's BaseAdapter bot-directory bookkeeping, stripped of any
// platform-specific segment translation — the OneBot adapter
// (internal/adapters/onebot) is the adapter that does real translation.
package genericjson

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// Publisher is the subset of *bus.EventBus this adapter needs.
type Publisher interface {
	Publish(ctx context.Context, event protocol.Event)
}

type bot struct {
	selfID string
	send   func(ctx context.Context, raw []byte) error
}

// Adapter is a protocol-agnostic pass-through translator. protocolTag is
// supplied at construction so the same implementation can back both the
// console driver ("console") and the generic multi-client WebSocket driver
// ("generic_ws") under distinct PROTOCOL bindings.
type Adapter struct {
	protocolTag string
	bus         Publisher
	log         *slog.Logger

	mu   sync.RWMutex
	bots map[string]*bot
}

// New constructs a genericjson Adapter bound to protocolTag.
func New(protocolTag string, bus Publisher, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		protocolTag: protocolTag,
		bus:         bus,
		log:         logger,
		bots:        make(map[string]*bot),
	}
}

func (a *Adapter) Protocol() string { return a.protocolTag }

// HandleIncoming republishes raw as a GenericEvent named "generic_message".
// A JSON object payload is passed through as the event's data; anything
// else is wrapped under a "raw" key.
func (a *Adapter) HandleIncoming(ctx context.Context, driverSelfID string, raw []byte) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		data = map[string]any{"raw": string(raw)}
	}
	data["driver_self_id"] = driverSelfID

	a.bus.Publish(ctx, protocol.NewGenericEvent(a.protocolTag, "generic_message", data))
}

// HandleOutgoingMessage marshals req.Message to JSON and forwards it to the
// matching bot's transport; there is no platform segment format to
// translate into.
func (a *Adapter) HandleOutgoingMessage(ctx context.Context, req *protocol.MessageRequest) *protocol.BotResponse {
	frame := map[string]any{"message": req.Message.Segments}
	raw, err := json.Marshal(frame)
	if err != nil {
		return protocol.FailedResponse(a.protocolTag, req.SelfID, req.EventID, "failed to encode outbound message")
	}
	return a.send(ctx, req.SelfID, req.EventID, raw)
}

// HandleOutgoingAction marshals req as {type, data}, adding user_id and/or
// group_id when req.Target names a user or group, and forwards it.
func (a *Adapter) HandleOutgoingAction(ctx context.Context, req *protocol.ActionRequest) *protocol.BotResponse {
	frame := map[string]any{"type": req.Type, "data": req.Data}
	if req.Target.User != nil {
		frame["user_id"] = req.Target.User.UserID
	}
	if req.Target.Group != nil {
		frame["group_id"] = req.Target.Group.GroupID
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return protocol.FailedResponse(a.protocolTag, req.SelfID, "", "failed to encode outbound action")
	}
	return a.send(ctx, req.SelfID, "", raw)
}

func (a *Adapter) send(ctx context.Context, selfID, eventID string, raw []byte) *protocol.BotResponse {
	a.mu.RLock()
	b, ok := a.bots[selfID]
	a.mu.RUnlock()
	if !ok {
		return protocol.FailedResponse(a.protocolTag, selfID, eventID, fmt.Sprintf("no bot registered for self_id %q", selfID))
	}
	if err := b.send(ctx, raw); err != nil {
		return protocol.FailedResponse(a.protocolTag, selfID, eventID, err.Error())
	}
	return protocol.OKResponse(a.protocolTag, selfID, eventID, nil)
}

func (a *Adapter) CreateBotForDriver(driverSelfID string, send func(ctx context.Context, raw []byte) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bots[driverSelfID] = &bot{selfID: driverSelfID, send: send}
}

func (a *Adapter) RemoveBotForDriver(driverSelfID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.bots, driverSelfID)
}

func (a *Adapter) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bots = make(map[string]*bot)
}

// Bots returns the self_ids of every currently connected bot, for the
// Manager's GetBot/ListBots directory.
func (a *Adapter) Bots() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.bots))
	for id := range a.bots {
		out = append(out, id)
	}
	return out
}
