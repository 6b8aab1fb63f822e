package protocol

import "strings"

// ConsoleUserID is the sentinel user identity that bypasses every permission
// check (see permission.System.Check).
const ConsoleUserID = "Console"

// UserInfo identifies a sender on a platform. UserID is always a string even
// on platforms (QQ, OneBot) whose native identifiers are numeric — the
// adapter is responsible for stringifying at the boundary.
type UserInfo struct {
	Platform string   `json:"platform"`
	UserID   string   `json:"user_id"`
	Nickname string   `json:"nickname,omitempty"`
	CardName string   `json:"cardname,omitempty"`
	Avatar   string   `json:"avatar,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// GroupInfo identifies a group chat. Its absence on an event means the event
// occurred in a private chat.
type GroupInfo struct {
	Platform    string `json:"platform"`
	GroupID     string `json:"group_id"`
	Name        string `json:"name,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
}

// ShareType enumerates the kinds of rich-share segments a MessageSegment can
// carry.
type ShareType string

const (
	ShareWebsite  ShareType = "website"
	ShareMusic    ShareType = "music"
	ShareVideo    ShareType = "video"
	ShareLocation ShareType = "location"
)

// SegmentType discriminates MessageSegment.Data's concrete shape.
type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentImage SegmentType = "image"
	SegmentAt    SegmentType = "at"
	SegmentFace  SegmentType = "face"
	SegmentAudio SegmentType = "audio"
	SegmentVideo SegmentType = "video"
	SegmentShare SegmentType = "share"
)

// MessageSegment is a tagged-union member of a MessageChain. Exactly one of
// the typed accessor fields is meaningful, selected by Type — the Go
// equivalent of spec.md's dynamically-typed segment variants.
type MessageSegment struct {
	Type SegmentType `json:"type"`

	// text
	Content string `json:"content,omitempty"`

	// image / audio / video
	URL    string `json:"url,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	// Record distinguishes a short voice recording (true) from a regular
	// audio clip (false); matters because some platforms only accept the
	// former as a "record" segment.
	Record bool `json:"record,omitempty"`

	// at
	TargetUserID string `json:"target_user_id,omitempty"`

	// face
	FaceID string `json:"face_id,omitempty"`

	// share
	ShareType  ShareType `json:"share_type,omitempty"`
	ShareTitle string    `json:"share_title,omitempty"`
	ShareURL   string    `json:"share_url,omitempty"`
	ShareImage string    `json:"share_image,omitempty"`
}

// Text constructs a text segment.
func Text(content string) MessageSegment {
	return MessageSegment{Type: SegmentText, Content: content}
}

// Image constructs an image segment.
func Image(url string, width, height int) MessageSegment {
	return MessageSegment{Type: SegmentImage, URL: url, Width: width, Height: height}
}

// At constructs a segment addressing a single user.
func At(userID string) MessageSegment {
	return MessageSegment{Type: SegmentAt, TargetUserID: userID}
}

// Face constructs a platform sticker/emoji segment.
func Face(id string) MessageSegment {
	return MessageSegment{Type: SegmentFace, FaceID: id}
}

// Audio constructs an audio segment; record distinguishes short voice notes
// from regular audio clips.
func Audio(url string, record bool) MessageSegment {
	return MessageSegment{Type: SegmentAudio, URL: url, Record: record}
}

// Video constructs a video segment.
func Video(url string) MessageSegment {
	return MessageSegment{Type: SegmentVideo, URL: url}
}

// Share constructs a rich-share segment.
func Share(kind ShareType, title, url, image string) MessageSegment {
	return MessageSegment{Type: SegmentShare, ShareType: kind, ShareTitle: title, ShareURL: url, ShareImage: image}
}

// MessageChain is an ordered sequence of segments.
type MessageChain struct {
	Segments []MessageSegment `json:"segments"`
}

// NewChain builds a chain from segments.
func NewChain(segments ...MessageSegment) MessageChain {
	return MessageChain{Segments: segments}
}

// TextChain is a convenience constructor for a single-text-segment chain.
func TextChain(s string) MessageChain {
	return NewChain(Text(s))
}

// ToPlainText projects the chain onto its text segments only, concatenated
// and trimmed. Non-text segments are dropped.
func (c MessageChain) ToPlainText() string {
	var b strings.Builder
	for _, seg := range c.Segments {
		if seg.Type == SegmentText {
			b.WriteString(seg.Content)
		}
	}
	return strings.TrimSpace(b.String())
}
