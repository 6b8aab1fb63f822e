package protocol

import "time"

// Event is implemented by every event that flows through the Event Bus.
type Event interface {
	Base() EventBase
}

// EventBase holds the fields common to every event in the hierarchy:
// platform, the bot's own identity, and a unix-seconds timestamp.
type EventBase struct {
	Platform string  `json:"platform"`
	SelfID   string  `json:"self_id"`
	Time     float64 `json:"time"`
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// MessageEvent is published when a user sends a message on some platform.
type MessageEvent struct {
	EventBase
	EventID string         `json:"event_id"`
	Message MessageChain   `json:"message"`
	User    UserInfo       `json:"user"`
	Group   *GroupInfo     `json:"group,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
}

func (e *MessageEvent) Base() EventBase { return e.EventBase }

// IsPrivate reports whether this event occurred in a private chat.
func (e *MessageEvent) IsPrivate() bool { return e.Group == nil }

// IsGroup reports whether this event occurred in a group chat.
func (e *MessageEvent) IsGroup() bool { return e.Group != nil }

// ToMe reports whether any `at` segment in the message targets SelfID.
func (e *MessageEvent) ToMe() bool {
	for _, seg := range e.Message.Segments {
		if seg.Type == SegmentAt && seg.TargetUserID == e.SelfID {
			return true
		}
	}
	return false
}

// Reply builds a MessageRequest tied to this event.
func (e *MessageEvent) Reply(message MessageChain, atSender bool, recallDuration *int) *MessageRequest {
	return &MessageRequest{
		EventBase:      EventBase{Platform: e.Platform, SelfID: e.SelfID, Time: now()},
		EventID:        e.EventID,
		Message:        message,
		User:           &e.User,
		Group:          e.Group,
		AtSender:       atSender,
		RecallDuration: recallDuration,
	}
}

// ReplyText is a convenience wrapper building a single-text-segment reply.
func (e *MessageEvent) ReplyText(text string) *MessageRequest {
	return e.Reply(TextChain(text), false, nil)
}

// NoticeEvent carries a platform-native system notification.
type NoticeEvent struct {
	EventBase
	EventID  string         `json:"event_id"`
	Type     string         `json:"type"`
	User     *UserInfo      `json:"user,omitempty"`
	Group    *GroupInfo     `json:"group,omitempty"`
	Operator *UserInfo      `json:"operator,omitempty"`
	Target   *UserInfo      `json:"target,omitempty"`
	Comment  string         `json:"comment,omitempty"`
	Raw      map[string]any `json:"raw,omitempty"`
}

func (e *NoticeEvent) Base() EventBase { return e.EventBase }

func (e *NoticeEvent) IsPrivate() bool { return e.Group == nil }
func (e *NoticeEvent) IsGroup() bool   { return e.Group != nil }

// ToMe reports whether Target refers to this bot's own identity.
func (e *NoticeEvent) ToMe() bool {
	return e.Target != nil && e.Target.UserID == e.SelfID
}

// IsOperator reports whether Operator refers to this bot's own identity.
func (e *NoticeEvent) IsOperator() bool {
	return e.Operator != nil && e.Operator.UserID == e.SelfID
}

// Reply builds a MessageRequest tied to this notice, preferring User and
// falling back to Target as the reply recipient when User is absent.
func (e *NoticeEvent) Reply(message MessageChain, atSender bool, recallDuration *int) *MessageRequest {
	recipient := e.User
	if recipient == nil {
		recipient = e.Target
	}
	return &MessageRequest{
		EventBase:      EventBase{Platform: e.Platform, SelfID: e.SelfID, Time: now()},
		EventID:        e.EventID,
		Message:        message,
		User:           recipient,
		Group:          e.Group,
		AtSender:       atSender,
		RecallDuration: recallDuration,
	}
}

// CommandEvent is synthesized from a MessageEvent whose text begins with the
// command prefix, or produced directly by a Console driver.
type CommandEvent struct {
	EventBase
	EventID    string       `json:"event_id"`
	Command    string       `json:"command"`
	Args       []string     `json:"args"`
	RawMessage MessageChain `json:"raw_message"`
	User       UserInfo     `json:"user"`
	Group      *GroupInfo   `json:"group,omitempty"`
}

func (e *CommandEvent) Base() EventBase { return e.EventBase }

func (e *CommandEvent) IsPrivate() bool { return e.Group == nil }
func (e *CommandEvent) IsGroup() bool   { return e.Group != nil }

// Reply builds a MessageRequest tied to this command invocation.
func (e *CommandEvent) Reply(message MessageChain, atSender bool, recallDuration *int) *MessageRequest {
	return &MessageRequest{
		EventBase:      EventBase{Platform: e.Platform, SelfID: e.SelfID, Time: now()},
		EventID:        e.EventID,
		Message:        message,
		User:           &e.User,
		Group:          e.Group,
		AtSender:       atSender,
		RecallDuration: recallDuration,
	}
}

// ReplyText is a convenience wrapper building a single-text-segment reply.
func (e *CommandEvent) ReplyText(text string) *MessageRequest {
	return e.Reply(TextChain(text), false, nil)
}

// GenericEvent is Coral's internal lifecycle/compat event: coral_initialized,
// coral_shutdown, plugin_loaded, and anything a plugin wants to broadcast by
// name rather than by static Go type.
type GenericEvent struct {
	EventBase
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

func (e *GenericEvent) Base() EventBase { return e.EventBase }

// NewGenericEvent constructs a GenericEvent. SelfID defaults to "Coral" for
// framework-originated lifecycle events with no bot identity in scope.
func NewGenericEvent(platform, name string, data map[string]any) *GenericEvent {
	return &GenericEvent{
		EventBase: EventBase{Platform: platform, SelfID: "Coral", Time: now()},
		Name:      name,
		Data:      data,
	}
}
