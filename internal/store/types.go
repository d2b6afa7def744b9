package store

import (
	"time"

	"github.com/matheus3301/chatline/internal/entry"
)

// Chat represents an archived conversation.
type Chat struct {
	JID                string
	Name               string
	IsGroup            bool
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Contact represents a synced contact.
type Contact struct {
	JID      string
	Name     string
	PushName string
}

// Message is one archived message row. Timestamps are unix milliseconds.
type Message struct {
	ID              int64
	ChatJID         string
	MsgID           string
	SenderJID       string
	SenderName      string
	Body            string
	MediaURL        string
	MessageType     string
	FromMe          bool
	IsGroup         bool
	NeedReadReceipt bool
	Edited          bool
	Revoked         bool
	RevokedBy       string
	Timestamp       int64
}

// MessageFromRaw converts a transport message into an archive row.
func MessageFromRaw(m *entry.RawMessage) *Message {
	return &Message{
		ChatJID:         m.ConversationID,
		MsgID:           m.ID,
		SenderJID:       m.SenderID,
		SenderName:      m.SenderName,
		Body:            m.Body,
		MediaURL:        m.MediaURL,
		MessageType:     string(m.Type),
		FromMe:          m.FromMe,
		IsGroup:         m.IsGroup,
		NeedReadReceipt: m.NeedReadReceipt,
		Edited:          m.Edited,
		Revoked:         m.Revoked,
		Timestamp:       m.Timestamp.UnixMilli(),
	}
}

// Raw converts the row back into a transport message.
func (m *Message) Raw() *entry.RawMessage {
	return &entry.RawMessage{
		ID:              m.MsgID,
		ConversationID:  m.ChatJID,
		IsGroup:         m.IsGroup,
		SenderID:        m.SenderJID,
		SenderName:      m.SenderName,
		FromMe:          m.FromMe,
		Type:            entry.MessageType(m.MessageType),
		Body:            m.Body,
		MediaURL:        m.MediaURL,
		Timestamp:       time.UnixMilli(m.Timestamp),
		NeedReadReceipt: m.NeedReadReceipt,
		Revoked:         m.Revoked,
		Edited:          m.Edited,
	}
}
