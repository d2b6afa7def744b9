package wa

import (
	"context"
	"sync"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/entry"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// maxTrackedReads bounds the group read-receipt bookkeeping.
const maxTrackedReads = 4096

// EventHandler translates whatsmeow events into transport events on the
// bus. It does not touch any timeline or archive directly; consumers
// subscribe to the bus independently.
type EventHandler struct {
	bus     *bus.Bus
	adapter *Adapter
	logger  *zap.Logger

	mu      sync.Mutex
	readers map[string]map[string]struct{}
}

// NewEventHandler creates a new event handler. adapter may be nil, in which
// case LIDs are not resolved and group sizes are unknown.
func NewEventHandler(b *bus.Bus, adapter *Adapter, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		bus:     b,
		adapter: adapter,
		logger:  logger,
		readers: make(map[string]map[string]struct{}),
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Receipt:
		h.handleReceipt(evt)
	case *events.ChatPresence:
		h.bus.Publish(bus.NewEvent(bus.TransportPresence, entry.Presence{
			ConversationID: h.resolveJID(evt.Chat),
			SenderID:       h.resolveJID(evt.Sender),
			Composing:      evt.State == types.ChatPresenceComposing,
		}))
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.bus.Publish(bus.NewEvent(bus.TransportConnected, nil))
		if h.adapter != nil {
			go h.publishContacts()
		}
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.bus.Publish(bus.NewEvent(bus.TransportDisconnected, nil))
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.PushName:
		h.bus.Publish(bus.NewEvent(bus.TransportContacts, []entry.Contact{{
			ID:       h.resolveJID(evt.JID),
			PushName: evt.NewPushName,
		}}))
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.bus.Publish(bus.NewEvent(bus.SessionLoggedOut, evt.Reason.String()))
	}
}

// resolveJID maps LIDs to phone-number JIDs when possible and strips the
// device suffix.
func (h *EventHandler) resolveJID(jid types.JID) string {
	if h.adapter != nil {
		jid = h.adapter.ResolveLID(context.Background(), jid)
	}
	return NormalizeJID(jid)
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	if p, ok := ParseProtocol(evt, h.resolveJID); ok {
		switch {
		case p.Revoke != nil:
			h.bus.Publish(bus.NewEvent(bus.TransportRevoked, *p.Revoke))
		case p.Edit != nil:
			h.bus.Publish(bus.NewEvent(bus.TransportModified, p.Edit))
		}
		return
	}
	msg := ParseLiveMessage(evt, h.resolveJID)
	if msg == nil {
		return
	}
	h.bus.Publish(bus.NewEvent(bus.TransportMessage, msg))
}

func (h *EventHandler) handleReceipt(evt *events.Receipt) {
	if evt.Type != types.ReceiptTypeRead {
		return
	}
	chat := h.resolveJID(evt.Chat)
	reader := h.resolveJID(evt.Sender)

	if !evt.IsGroup {
		h.bus.Publish(bus.NewEvent(bus.TransportReceipts, []entry.Receipt{{
			ConversationID: chat,
			UserID:         reader,
			Timestamp:      evt.Timestamp,
		}}))
		return
	}

	size := 0
	if h.adapter != nil {
		size = h.adapter.GroupSize(context.Background(), evt.Chat)
	}
	receipts := make([]entry.Receipt, 0, len(evt.MessageIDs))
	for _, id := range evt.MessageIDs {
		read := h.countReader(chat+"/"+id, reader)
		unread := 0
		// The author does not read their own message.
		if size > 1 && size-1 > read {
			unread = size - 1 - read
		}
		receipts = append(receipts, entry.Receipt{
			ConversationID: chat,
			IsGroup:        true,
			MsgID:          id,
			UserID:         reader,
			ReadCount:      read,
			UnreadCount:    unread,
			Timestamp:      evt.Timestamp,
		})
	}
	h.bus.Publish(bus.NewEvent(bus.TransportReceipts, receipts))
}

func (h *EventHandler) countReader(key, reader string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.readers[key]
	if !ok {
		if len(h.readers) >= maxTrackedReads {
			h.readers = make(map[string]map[string]struct{})
		}
		set = make(map[string]struct{})
		h.readers[key] = set
	}
	set[reader] = struct{}{}
	return len(set)
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var (
		msgs     []*entry.RawMessage
		contacts []entry.Contact
	)
	for _, conv := range data.GetConversations() {
		chat, err := types.ParseJID(conv.GetID())
		if err != nil {
			h.logger.Debug("skipping conversation with invalid jid", zap.String("jid", conv.GetID()))
			continue
		}
		chatID := h.resolveJID(chat)
		if name := conv.GetName(); name != "" && chat.Server != types.GroupServer {
			contacts = append(contacts, entry.Contact{ID: chatID, Name: name})
		}
		for _, hm := range conv.GetMessages() {
			wm := hm.GetMessage()
			if wm == nil {
				continue
			}
			raw := ParseHistoryMessage(chat, wm, h.resolveJID)
			if raw == nil {
				continue
			}
			if raw.SenderName != "" && raw.SenderID != "" && !raw.FromMe {
				contacts = append(contacts, entry.Contact{ID: raw.SenderID, PushName: raw.SenderName})
			}
			msgs = append(msgs, raw)
		}
	}

	if len(msgs) > 0 {
		h.bus.Publish(bus.NewEvent(bus.TransportHistory, msgs))
	}
	if len(contacts) > 0 {
		h.bus.Publish(bus.NewEvent(bus.TransportContacts, contacts))
	}
}

func (h *EventHandler) publishContacts() {
	contacts := h.adapter.GetContacts(context.Background())
	if len(contacts) == 0 {
		return
	}
	h.bus.Publish(bus.NewEvent(bus.TransportContacts, contacts))
}
