package entry

import "time"

// MessageType tags the payload carried by a RawMessage.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeSticker  MessageType = "sticker"
	TypeContact  MessageType = "contact"
	TypeLocation MessageType = "location"
	TypeCall     MessageType = "call"
	TypeSignal   MessageType = "signal"
	TypeUnknown  MessageType = "unknown"
)

// RawMessage is a protocol message as delivered by the transport.
type RawMessage struct {
	ID              string
	ConversationID  string
	IsGroup         bool
	SenderID        string
	SenderName      string
	FromMe          bool
	Type            MessageType
	Body            string
	MediaURL        string
	Timestamp       time.Time
	NeedReadReceipt bool
	Revoked         bool
	Edited          bool
}

// Receipt reports that a peer has read messages.
// For groups MsgID names the message and ReadCount/UnreadCount carry the
// totals; for one-to-one chats everything up to Timestamp is read.
type Receipt struct {
	ConversationID string
	IsGroup        bool
	MsgID          string
	UserID         string
	ReadCount      int
	UnreadCount    int
	Timestamp      time.Time
}

// RevokeEvent reports that a message was revoked.
type RevokeEvent struct {
	ConversationID string
	ID             string
	Operator       string
	Reason         string
}

// Presence reports a peer's composing state.
type Presence struct {
	ConversationID string
	SenderID       string
	Composing      bool
}

// Contact is an address-book record reported by the transport.
type Contact struct {
	ID       string
	Name     string
	PushName string
}
