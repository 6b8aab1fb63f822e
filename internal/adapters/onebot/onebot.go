// Package onebot implements the OneBot V11 Adapter: bit-exact inbound and
// outbound segment translation between the OneBot wire format and Coral's
// typed protocol.MessageChain, per spec.md §6's mapping table. Grounded on
// pkg/protocol's discriminated-Type segment pattern, applied to OneBot's
// own discriminated `type`/`data` JSON shape.
package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// Protocol is this adapter's PROTOCOL tag, shared with internal/drivers/ws.
const Protocol = "onebot"

type wireSegment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type bot struct {
	platform string
	selfID   string
	send     func(ctx context.Context, raw []byte) error
}

type inboundEnvelope struct {
	PostType    string        `json:"post_type"`
	MessageType string        `json:"message_type"`
	NoticeType  string        `json:"notice_type"`
	SubType     string        `json:"sub_type"`
	UserID      json.Number   `json:"user_id"`
	GroupID     json.Number   `json:"group_id"`
	OperatorID  json.Number   `json:"operator_id"`
	SelfID      json.Number   `json:"self_id"`
	MessageID   json.Number   `json:"message_id"`
	Message     []wireSegment `json:"message"`
	Comment     string        `json:"comment"`
}

// Adapter translates between OneBot V11 JSON frames and Coral's event
// model. One Bot per connected driver self_id.
type Adapter struct {
	bus Publisher
	log *slog.Logger

	mu   sync.RWMutex
	bots map[string]*bot
}

// Publisher is the subset of *bus.EventBus needed to publish translated
// inbound events.
type Publisher interface {
	Publish(ctx context.Context, event protocol.Event)
}

// New constructs a OneBot adapter publishing translated events to bus.
func New(bus Publisher, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{bus: bus, log: logger, bots: make(map[string]*bot)}
}

func (a *Adapter) Protocol() string { return Protocol }

func (a *Adapter) CreateBotForDriver(driverSelfID string, send func(ctx context.Context, raw []byte) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bots[driverSelfID] = &bot{platform: Protocol, selfID: driverSelfID, send: send}
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

// HandleIncoming parses raw as a OneBot V11 envelope and publishes the
// translated event. Malformed frames are logged and dropped.
func (a *Adapter) HandleIncoming(ctx context.Context, driverSelfID string, raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		a.log.Warn("onebot: malformed inbound frame, dropping", "err", err)
		return
	}

	switch env.PostType {
	case "message":
		a.bus.Publish(ctx, a.toMessageEvent(driverSelfID, env))
	case "notice":
		a.bus.Publish(ctx, a.toNoticeEvent(driverSelfID, env))
	case "meta_event":
		if env.SubType == "connect" {
			a.log.Info("onebot: meta_event connect received", "self_id", driverSelfID)
		}
	default:
		a.log.Debug("onebot: unhandled post_type", "post_type", env.PostType)
	}
}

func (a *Adapter) toMessageEvent(driverSelfID string, env inboundEnvelope) *protocol.MessageEvent {
	chain := protocol.NewChain()
	for _, seg := range env.Message {
		converted, ok := inboundSegment(seg)
		if ok {
			chain.Segments = append(chain.Segments, converted)
		}
	}

	ev := &protocol.MessageEvent{
		EventBase: protocol.EventBase{Platform: Protocol, SelfID: driverSelfID},
		EventID:   env.MessageID.String(),
		Message:   chain,
		User:      protocol.UserInfo{Platform: Protocol, UserID: env.UserID.String()},
	}
	if env.MessageType == "group" && env.GroupID.String() != "" {
		ev.Group = &protocol.GroupInfo{Platform: Protocol, GroupID: env.GroupID.String()}
	}
	return ev
}

func (a *Adapter) toNoticeEvent(driverSelfID string, env inboundEnvelope) *protocol.NoticeEvent {
	ev := &protocol.NoticeEvent{
		EventBase: protocol.EventBase{Platform: Protocol, SelfID: driverSelfID},
		Type:      env.NoticeType,
	}
	if env.UserID.String() != "" {
		ev.User = &protocol.UserInfo{Platform: Protocol, UserID: env.UserID.String()}
	}
	if env.GroupID.String() != "" {
		ev.Group = &protocol.GroupInfo{Platform: Protocol, GroupID: env.GroupID.String()}
	}
	if env.OperatorID.String() != "" {
		ev.Operator = &protocol.UserInfo{Platform: Protocol, UserID: env.OperatorID.String()}
	}
	ev.Comment = env.Comment
	return ev
}

// inboundSegment applies spec.md §6's bit-exact mapping for inbound
// OneBot segments.
func inboundSegment(seg wireSegment) (protocol.MessageSegment, bool) {
	switch seg.Type {
	case "text":
		return protocol.Text(stringField(seg.Data, "text")), true
	case "image":
		return protocol.Image(stringField(seg.Data, "url"), 0, 0), true
	case "at":
		return protocol.At(stringField(seg.Data, "qq")), true
	case "record":
		return protocol.Audio(stringField(seg.Data, "url"), true), true
	case "video":
		return protocol.Video(stringField(seg.Data, "url")), true
	case "share":
		return protocol.Share(protocol.ShareWebsite, stringField(seg.Data, "title"), stringField(seg.Data, "url"), stringField(seg.Data, "image")), true
	case "location":
		return protocol.Share(protocol.ShareLocation, stringField(seg.Data, "title"), "", ""), true
	case "music":
		if stringField(seg.Data, "type") == "custom" {
			return protocol.MessageSegment{}, false
		}
		return protocol.Share(protocol.ShareMusic, stringField(seg.Data, "title"), stringField(seg.Data, "url"), ""), true
	default:
		return protocol.MessageSegment{}, false
	}
}

func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// HandleOutgoingMessage encodes req as a OneBot send_msg action and routes
// it through the target's driver transport.
func (a *Adapter) HandleOutgoingMessage(ctx context.Context, req *protocol.MessageRequest) *protocol.BotResponse {
	segments := make([]wireSegment, 0, len(req.Message.Segments))
	for _, seg := range req.Message.Segments {
		wire, ok := outboundSegment(seg)
		if !ok {
			a.log.Warn("onebot: dropping segment with no outbound encoding", "type", seg.Type)
			continue
		}
		segments = append(segments, wire)
	}

	params := map[string]any{"message": segments}
	if req.Group != nil {
		params["message_type"] = "group"
		params["group_id"] = req.Group.GroupID
	} else if req.User != nil {
		params["message_type"] = "private"
		params["user_id"] = req.User.UserID
	}

	frame := map[string]any{"action": "send_msg", "params": params}
	return a.send(ctx, req.SelfID, req.EventID, frame)
}

// HandleOutgoingAction encodes a generic ActionRequest as {action, params}.
func (a *Adapter) HandleOutgoingAction(ctx context.Context, req *protocol.ActionRequest) *protocol.BotResponse {
	params := map[string]any{}
	for k, v := range req.Data {
		params[k] = v
	}
	if req.Target.User != nil {
		params["user_id"] = req.Target.User.UserID
	}
	if req.Target.Group != nil {
		params["group_id"] = req.Target.Group.GroupID
	}

	frame := map[string]any{"action": string(req.Type), "params": params}
	return a.send(ctx, req.SelfID, "", frame)
}

func (a *Adapter) send(ctx context.Context, selfID string, eventID string, frame map[string]any) *protocol.BotResponse {
	a.mu.RLock()
	b := a.bots[selfID]
	a.mu.RUnlock()
	if b == nil || b.send == nil {
		return protocol.FailedResponse(Protocol, selfID, eventID, fmt.Sprintf("no connected bot for self_id %q", selfID))
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		return protocol.FailedResponse(Protocol, selfID, eventID, "failed to encode outbound frame")
	}
	if err := b.send(ctx, raw); err != nil {
		return protocol.FailedResponse(Protocol, selfID, eventID, err.Error())
	}
	return protocol.OKResponse(Protocol, selfID, eventID, nil)
}

// outboundSegment applies spec.md §6's bit-exact mapping for outbound
// segments; audio with Record==false has no OneBot encoding and is
// dropped (platform limitation), same as custom-type music on inbound.
func outboundSegment(seg protocol.MessageSegment) (wireSegment, bool) {
	switch seg.Type {
	case protocol.SegmentText:
		return wireSegment{Type: "text", Data: map[string]any{"text": seg.Content}}, true
	case protocol.SegmentImage:
		return wireSegment{Type: "image", Data: map[string]any{"url": seg.URL}}, true
	case protocol.SegmentAt:
		return wireSegment{Type: "at", Data: map[string]any{"qq": seg.TargetUserID}}, true
	case protocol.SegmentAudio:
		if !seg.Record {
			return wireSegment{}, false
		}
		return wireSegment{Type: "record", Data: map[string]any{"url": seg.URL}}, true
	case protocol.SegmentVideo:
		return wireSegment{Type: "video", Data: map[string]any{"url": seg.URL}}, true
	case protocol.SegmentShare:
		switch seg.ShareType {
		case protocol.ShareWebsite:
			return wireSegment{Type: "share", Data: map[string]any{"title": seg.ShareTitle, "url": seg.ShareURL, "image": seg.ShareImage}}, true
		case protocol.ShareLocation:
			return wireSegment{Type: "location", Data: map[string]any{"title": seg.ShareTitle}}, true
		case protocol.ShareMusic:
			return wireSegment{Type: "music", Data: map[string]any{"type": "163", "title": seg.ShareTitle, "url": seg.ShareURL}}, true
		default:
			return wireSegment{}, false
		}
	default:
		return wireSegment{}, false
	}
}
