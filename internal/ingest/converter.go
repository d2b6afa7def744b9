package ingest

import (
	"fmt"

	"github.com/matheus3301/chatline/internal/entry"
)

// Converter turns a raw message into an entry. It returns false when it does
// not handle the message, letting the next converter try.
type Converter interface {
	TryConvert(msg *entry.RawMessage) (*entry.Entry, bool)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(msg *entry.RawMessage) (*entry.Entry, bool)

// TryConvert implements Converter.
func (f ConverterFunc) TryConvert(msg *entry.RawMessage) (*entry.Entry, bool) {
	return f(msg)
}

// ConvertFunc builds an entry for one message type; nil means the type has no
// presentation.
type ConvertFunc func(msg *entry.RawMessage) *entry.Entry

func builtinConverters() map[entry.MessageType]ConvertFunc {
	media := func(msg *entry.RawMessage) *entry.Entry {
		e := entry.FromRaw(msg, entry.KindMedia)
		if e.Text == "" {
			e.Text = fmt.Sprintf("[%s]", msg.Type)
		}
		return e
	}
	custom := func(msg *entry.RawMessage) *entry.Entry {
		e := entry.FromRaw(msg, entry.KindCustom)
		if e.Text == "" {
			e.Text = fmt.Sprintf("[%s]", msg.Type)
		}
		return e
	}
	return map[entry.MessageType]ConvertFunc{
		entry.TypeText: func(msg *entry.RawMessage) *entry.Entry {
			if msg.Body == "" {
				return nil
			}
			return entry.FromRaw(msg, entry.KindText)
		},
		entry.TypeImage:    media,
		entry.TypeVideo:    media,
		entry.TypeAudio:    media,
		entry.TypeDocument: media,
		entry.TypeSticker:  media,
		entry.TypeContact:  custom,
		entry.TypeLocation: custom,
		entry.TypeCall: func(msg *entry.RawMessage) *entry.Entry {
			e := entry.FromRaw(msg, entry.KindCallSignal)
			if e.Text == "" {
				e.Text = "[call]"
			}
			return e
		},
	}
}

// RevokedEntry is the system entry that stands in for a revoked message.
func RevokedEntry(msg *entry.RawMessage, operator string) *entry.Entry {
	e := entry.FromRaw(msg, entry.KindSystem)
	e.Revoked = true
	switch {
	case msg.FromMe:
		e.Text = "You deleted this message"
	case operator != "" && operator != msg.SenderID:
		e.Text = "This message was deleted by " + operator
	default:
		e.Text = "This message was deleted"
	}
	return e
}
