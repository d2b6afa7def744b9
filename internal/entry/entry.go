package entry

import (
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatline/internal/status"
)

// Kind is the presentation variant of an Entry.
type Kind string

const (
	KindText       Kind = "text"
	KindMedia      Kind = "media"
	KindSystem     Kind = "system"
	KindDate       Kind = "date"
	KindTyping     Kind = "typing"
	KindCallSignal Kind = "call_signal"
	KindCustom     Kind = "custom"
)

// Direction tells whether an entry was received or sent.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// ReadReceipt is the read state attached to an entry.
type ReadReceipt struct {
	ReadCount   int
	UnreadCount int
	PerUser     map[string]time.Time
	PeerRead    bool
}

// Entry is one presentation unit of a timeline.
type Entry struct {
	ID               string
	Kind             Kind
	SenderID         string
	SenderName       string
	Direction        Direction
	Timestamp        time.Time
	Status           status.State
	Text             string
	SameSenderAsNext bool
	ShowAvatar       bool
	Placeholder      bool
	Revoked          bool
	Edited           bool
	ReadReceipt      *ReadReceipt
	Source           *RawMessage
}

// NewLocalID returns an id for entries that have no protocol identifier yet.
func NewLocalID() string {
	return uuid.NewString()
}

// FromRaw builds the common part of an entry wrapping msg.
func FromRaw(msg *RawMessage, kind Kind) *Entry {
	e := &Entry{
		ID:         msg.ID,
		Kind:       kind,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Direction:  Incoming,
		Timestamp:  msg.Timestamp,
		Status:     status.Success,
		Text:       msg.Body,
		Edited:     msg.Edited,
		Source:     msg,
	}
	if msg.FromMe {
		e.Direction = Outgoing
	}
	return e
}

// NewDateSeparator returns a separator entry placed before a message at ts.
func NewDateSeparator(ts time.Time) *Entry {
	return &Entry{
		ID:        "date-" + NewLocalID(),
		Kind:      KindDate,
		Timestamp: ts,
		Status:    status.Success,
		Text:      ts.Format("2006-01-02 15:04"),
	}
}

// NewTyping returns a streaming placeholder for senderID in a conversation.
func NewTyping(conversationID, senderID string, ts time.Time) *Entry {
	return &Entry{
		ID:          "typing-" + conversationID,
		Kind:        KindTyping,
		SenderID:    senderID,
		Direction:   Incoming,
		Timestamp:   ts,
		Status:      status.Success,
		Placeholder: true,
	}
}

// IsMessage reports whether e shows message content (as opposed to a
// separator, system notice or placeholder).
func (e *Entry) IsMessage() bool {
	switch e.Kind {
	case KindText, KindMedia, KindCallSignal, KindCustom:
		return true
	}
	return false
}

// ConversationID returns the conversation of the wrapped message, if any.
func (e *Entry) ConversationID() string {
	if e.Source == nil {
		return ""
	}
	return e.Source.ConversationID
}
