package genericjson

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ProjectCoral/Coral/pkg/protocol"
)

type recordingPublisher struct {
	events []protocol.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event protocol.Event) {
	p.events = append(p.events, event)
}

func TestHandleIncomingJSONObjectPassthrough(t *testing.T) {
	pub := &recordingPublisher{}
	a := New("generic_ws", pub, nil)

	a.HandleIncoming(context.Background(), "conn-1", []byte(`{"hello":"world"}`))

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	ev, ok := pub.events[0].(*protocol.GenericEvent)
	if !ok {
		t.Fatalf("expected *protocol.GenericEvent, got %T", pub.events[0])
	}
	if ev.Data["hello"] != "world" || ev.Data["driver_self_id"] != "conn-1" {
		t.Fatalf("unexpected data: %+v", ev.Data)
	}
}

func TestHandleIncomingNonJSONWrappedAsRaw(t *testing.T) {
	pub := &recordingPublisher{}
	a := New("console", pub, nil)

	a.HandleIncoming(context.Background(), "self-1", []byte("plain text"))

	ev := pub.events[0].(*protocol.GenericEvent)
	if ev.Data["raw"] != "plain text" {
		t.Fatalf("expected raw fallback, got %+v", ev.Data)
	}
}

func TestHandleOutgoingMessageNoBot(t *testing.T) {
	a := New("generic_ws", &recordingPublisher{}, nil)
	resp := a.HandleOutgoingMessage(context.Background(), &protocol.MessageRequest{
		EventBase: protocol.EventBase{Platform: "generic_ws", SelfID: "ghost"},
		Message:   protocol.NewChain(protocol.Text("hi")),
	})
	if resp.Success {
		t.Fatal("expected failure with no bound bot")
	}
}

func TestHandleOutgoingMessageSendsJSON(t *testing.T) {
	a := New("generic_ws", &recordingPublisher{}, nil)
	var sent []byte
	a.CreateBotForDriver("conn-1", func(ctx context.Context, raw []byte) error {
		sent = raw
		return nil
	})

	resp := a.HandleOutgoingMessage(context.Background(), &protocol.MessageRequest{
		EventBase: protocol.EventBase{Platform: "generic_ws", SelfID: "conn-1"},
		EventID:   "evt-1",
		Message:   protocol.NewChain(protocol.Text("hi")),
	})
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}

	var frame map[string]any
	if err := json.Unmarshal(sent, &frame); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if _, ok := frame["message"]; !ok {
		t.Fatalf("expected message key in frame, got %v", frame)
	}
}

func TestHandleOutgoingActionIncludesTarget(t *testing.T) {
	a := New("generic_ws", &recordingPublisher{}, nil)
	var sent []byte
	a.CreateBotForDriver("conn-1", func(ctx context.Context, raw []byte) error {
		sent = raw
		return nil
	})

	resp := a.HandleOutgoingAction(context.Background(), &protocol.ActionRequest{
		EventBase: protocol.EventBase{Platform: "generic_ws", SelfID: "conn-1"},
		Type:      "kick",
		Target:    protocol.Target{Group: &protocol.GroupInfo{Platform: "generic_ws", GroupID: "100"}},
	})
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	var frame map[string]any
	json.Unmarshal(sent, &frame)
	if frame["group_id"] != "100" || frame["type"] != "kick" {
		t.Fatalf("unexpected frame: %v", frame)
	}
}

func TestCleanupClearsBots(t *testing.T) {
	a := New("generic_ws", &recordingPublisher{}, nil)
	a.CreateBotForDriver("conn-1", func(ctx context.Context, raw []byte) error { return nil })
	a.Cleanup()

	resp := a.HandleOutgoingMessage(context.Background(), &protocol.MessageRequest{
		EventBase: protocol.EventBase{Platform: "generic_ws", SelfID: "conn-1"},
		Message:   protocol.NewChain(protocol.Text("hi")),
	})
	if resp.Success {
		t.Fatal("expected failure after Cleanup removed all bots")
	}
}
