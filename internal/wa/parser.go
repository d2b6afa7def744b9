package wa

import (
	"strings"
	"time"

	"github.com/matheus3301/chatline/internal/entry"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// NormalizeJID strips the device suffix so every device of a user maps to
// the same conversation.
func NormalizeJID(jid types.JID) string {
	if jid.IsEmpty() {
		return ""
	}
	return jid.ToNonAD().String()
}

// IsGroupID reports whether a normalized conversation id names a group.
func IsGroupID(id string) bool {
	return strings.HasSuffix(id, "@"+types.GroupServer)
}

// ParseLiveMessage normalizes a live whatsmeow message event. Protocol
// messages (edits, revocations) are not user content and yield nil; see
// ParseProtocol.
func ParseLiveMessage(evt *events.Message, resolve func(types.JID) string) *entry.RawMessage {
	if evt.Message.GetProtocolMessage() != nil {
		return nil
	}
	return buildRaw(evt.Message, evt.Info.MessageSource, evt.Info.ID, evt.Info.PushName, evt.Info.Timestamp, resolve)
}

// ParseHistoryMessage normalizes one message of a history sync conversation.
func ParseHistoryMessage(chat types.JID, wm *waWeb.WebMessageInfo, resolve func(types.JID) string) *entry.RawMessage {
	msg := wm.GetMessage()
	if msg == nil || msg.GetProtocolMessage() != nil {
		return nil
	}
	key := wm.GetKey()
	src := types.MessageSource{
		Chat:     chat,
		IsFromMe: key.GetFromMe(),
		IsGroup:  chat.Server == types.GroupServer,
	}
	if p := key.GetParticipant(); p != "" {
		if jid, err := types.ParseJID(p); err == nil {
			src.Sender = jid
		}
	} else if !src.IsFromMe {
		src.Sender = chat
	}
	ts := time.Unix(int64(wm.GetMessageTimestamp()), 0)
	raw := buildRaw(msg, src, key.GetID(), wm.GetPushName(), ts, resolve)
	raw.NeedReadReceipt = false
	return raw
}

// Protocol is a parsed edit or revocation.
type Protocol struct {
	Edit   *entry.RawMessage
	Revoke *entry.RevokeEvent
}

// ParseProtocol extracts an edit or revocation from a live message event.
func ParseProtocol(evt *events.Message, resolve func(types.JID) string) (Protocol, bool) {
	pm := evt.Message.GetProtocolMessage()
	if pm == nil {
		return Protocol{}, false
	}
	chat := resolve(evt.Info.Chat)
	switch pm.GetType() {
	case waE2E.ProtocolMessage_REVOKE:
		return Protocol{Revoke: &entry.RevokeEvent{
			ConversationID: chat,
			ID:             pm.GetKey().GetID(),
			Operator:       resolve(evt.Info.Sender),
		}}, true
	case waE2E.ProtocolMessage_MESSAGE_EDIT:
		edited := pm.GetEditedMessage()
		if edited == nil {
			return Protocol{}, false
		}
		raw := buildRaw(edited, evt.Info.MessageSource, pm.GetKey().GetID(), evt.Info.PushName, evt.Info.Timestamp, resolve)
		raw.Edited = true
		raw.NeedReadReceipt = false
		return Protocol{Edit: raw}, true
	}
	return Protocol{}, false
}

func buildRaw(msg *waE2E.Message, src types.MessageSource, id, pushName string, ts time.Time, resolve func(types.JID) string) *entry.RawMessage {
	msgType := detectMessageType(msg)
	return &entry.RawMessage{
		ID:              id,
		ConversationID:  resolve(src.Chat),
		IsGroup:         src.IsGroup,
		SenderID:        resolve(src.Sender),
		SenderName:      pushName,
		FromMe:          src.IsFromMe,
		Type:            msgType,
		Body:            extractTextBody(msg),
		MediaURL:        extractMediaURL(msg),
		Timestamp:       ts,
		NeedReadReceipt: !src.IsFromMe && msgType != entry.TypeUnknown,
	}
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}

func extractMediaURL(msg *waE2E.Message) string {
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetURL()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetURL()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetURL()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetURL()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetURL()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) entry.MessageType {
	if msg == nil {
		return entry.TypeUnknown
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return entry.TypeText
	case msg.GetImageMessage() != nil:
		return entry.TypeImage
	case msg.GetVideoMessage() != nil:
		return entry.TypeVideo
	case msg.GetAudioMessage() != nil:
		return entry.TypeAudio
	case msg.GetDocumentMessage() != nil:
		return entry.TypeDocument
	case msg.GetStickerMessage() != nil:
		return entry.TypeSticker
	case msg.GetContactMessage() != nil:
		return entry.TypeContact
	case msg.GetLocationMessage() != nil:
		return entry.TypeLocation
	case msg.GetCall() != nil:
		return entry.TypeCall
	default:
		return entry.TypeUnknown
	}
}
