package onebot

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

func TestHandleIncomingMessageEvent(t *testing.T) {
	pub := &recordingPublisher{}
	a := New(pub, nil)

	frame := `{"post_type":"message","message_type":"group","user_id":123,"group_id":456,"message_id":1,"message":[{"type":"text","data":{"text":"hi"}},{"type":"at","data":{"qq":"789"}}]}`
	a.HandleIncoming(context.Background(), "self-1", []byte(frame))

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.events))
	}
	msg, ok := pub.events[0].(*protocol.MessageEvent)
	if !ok {
		t.Fatalf("expected *protocol.MessageEvent, got %T", pub.events[0])
	}
	if msg.User.UserID != "123" || msg.Group == nil || msg.Group.GroupID != "456" {
		t.Fatalf("unexpected user/group: %+v / %+v", msg.User, msg.Group)
	}
	if len(msg.Message.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(msg.Message.Segments))
	}
}

func TestHandleIncomingMalformedFrameDropped(t *testing.T) {
	pub := &recordingPublisher{}
	a := New(pub, nil)

	a.HandleIncoming(context.Background(), "self-1", []byte("not json"))

	if len(pub.events) != 0 {
		t.Fatalf("expected malformed frame to be dropped, got %d events", len(pub.events))
	}
}

func TestHandleIncomingNoticeEvent(t *testing.T) {
	pub := &recordingPublisher{}
	a := New(pub, nil)

	frame := `{"post_type":"notice","notice_type":"group_increase","user_id":1,"group_id":2,"operator_id":3}`
	a.HandleIncoming(context.Background(), "self-1", []byte(frame))

	notice, ok := pub.events[0].(*protocol.NoticeEvent)
	if !ok {
		t.Fatalf("expected *protocol.NoticeEvent, got %T", pub.events[0])
	}
	if notice.Type != "group_increase" || notice.Operator == nil || notice.Operator.UserID != "3" {
		t.Fatalf("unexpected notice: %+v", notice)
	}
}

func TestHandleOutgoingMessageNoBotBound(t *testing.T) {
	a := New(&recordingPublisher{}, nil)

	resp := a.HandleOutgoingMessage(context.Background(), &protocol.MessageRequest{
		EventBase: protocol.EventBase{Platform: Protocol, SelfID: "ghost"},
		Message:   protocol.NewChain(protocol.Text("hi")),
	})
	if resp.Success {
		t.Fatal("expected failure when no bot is bound to self_id")
	}
}

func TestHandleOutgoingMessageEncodesSegments(t *testing.T) {
	a := New(&recordingPublisher{}, nil)
	var sent []byte
	a.CreateBotForDriver("self-1", func(ctx context.Context, raw []byte) error {
		sent = raw
		return nil
	})

	resp := a.HandleOutgoingMessage(context.Background(), &protocol.MessageRequest{
		EventBase: protocol.EventBase{Platform: Protocol, SelfID: "self-1"},
		EventID:   "evt-1",
		Message:   protocol.NewChain(protocol.Text("hi"), protocol.At("42")),
		Group:     &protocol.GroupInfo{Platform: Protocol, GroupID: "100"},
	})
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}

	var frame map[string]any
	if err := json.Unmarshal(sent, &frame); err != nil {
		t.Fatalf("failed to decode sent frame: %v", err)
	}
	if frame["action"] != "send_msg" {
		t.Fatalf("unexpected action: %v", frame["action"])
	}
	params, _ := frame["params"].(map[string]any)
	if params["message_type"] != "group" || params["group_id"] != "100" {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestRemoveBotForDriverPreventsFurtherSends(t *testing.T) {
	a := New(&recordingPublisher{}, nil)
	a.CreateBotForDriver("self-1", func(ctx context.Context, raw []byte) error { return nil })
	a.RemoveBotForDriver("self-1")

	resp := a.HandleOutgoingMessage(context.Background(), &protocol.MessageRequest{
		EventBase: protocol.EventBase{Platform: Protocol, SelfID: "self-1"},
		Message:   protocol.NewChain(protocol.Text("hi")),
	})
	if resp.Success {
		t.Fatal("expected failure after bot removal")
	}
}

func TestOutboundSegmentMapping(t *testing.T) {
	cases := []struct {
		name string
		seg  protocol.MessageSegment
		want string
		ok   bool
	}{
		{"text", protocol.Text("hi"), "text", true},
		{"image", protocol.Image("http://x/1.png", 0, 0), "image", true},
		{"at", protocol.At("5"), "at", true},
		{"record-false-dropped", protocol.Audio("http://x/a.mp3", false), "", false},
		{"record-true", protocol.Audio("http://x/a.mp3", true), "record", true},
		{"video", protocol.Video("http://x/v.mp4"), "video", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire, ok := outboundSegment(tc.seg)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && wire.Type != tc.want {
				t.Fatalf("expected wire type %q, got %q", tc.want, wire.Type)
			}
		})
	}
}
