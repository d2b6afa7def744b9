package wa

import (
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/entry"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

func next(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		if evt.Kind != kind {
			t.Fatalf("event kind = %q, want %q", evt.Kind, kind)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %s", kind)
	}
	return bus.Event{}
}

func quiet(t *testing.T, ch <-chan bus.Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleConnectionEvents(t *testing.T) {
	b := bus.New()
	h := NewEventHandler(b, nil, zap.NewNop())
	ch, unsub := b.Subscribe(bus.NamespaceTransport, 10)
	defer unsub()

	h.Handle(&events.Connected{})
	next(t, ch, bus.TransportConnected)
	h.Handle(&events.Disconnected{})
	next(t, ch, bus.TransportDisconnected)
}

func TestHandleLoggedOut(t *testing.T) {
	b := bus.New()
	h := NewEventHandler(b, nil, zap.NewNop())
	ch, unsub := b.Subscribe(bus.NamespaceSession, 10)
	defer unsub()

	h.Handle(&events.LoggedOut{})
	next(t, ch, bus.SessionLoggedOut)
}

func TestHandleMessagePublishesTransportMessage(t *testing.T) {
	b := bus.New()
	h := NewEventHandler(b, nil, zap.NewNop())
	ch, unsub := b.Subscribe(bus.NamespaceTransport, 10)
	defer unsub()

	h.Handle(liveEvent(&waE2E.Message{Conversation: proto.String("hi")}, false))
	evt := next(t, ch, bus.TransportMessage)
	msg, ok := evt.Payload.(*entry.RawMessage)
	if !ok || msg.ID != "MSG123" || msg.Body != "hi" {
		t.Errorf("payload = %+v", evt.Payload)
	}
}

func TestHandleProtocolMessages(t *testing.T) {
	b := bus.New()
	h := NewEventHandler(b, nil, zap.NewNop())
	ch, unsub := b.Subscribe(bus.NamespaceTransport, 10)
	defer unsub()

	h.Handle(liveEvent(&waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
		Type: waE2E.ProtocolMessage_REVOKE.Enum(),
		Key:  &waCommon.MessageKey{ID: proto.String("R1")},
	}}, false))
	rev := next(t, ch, bus.TransportRevoked).Payload.(entry.RevokeEvent)
	if rev.ID != "R1" || rev.ConversationID != "chat@s.whatsapp.net" {
		t.Errorf("revoke = %+v", rev)
	}

	h.Handle(liveEvent(&waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
		Type:          waE2E.ProtocolMessage_MESSAGE_EDIT.Enum(),
		Key:           &waCommon.MessageKey{ID: proto.String("E1")},
		EditedMessage: &waE2E.Message{Conversation: proto.String("new")},
	}}, false))
	edit := next(t, ch, bus.TransportModified).Payload.(*entry.RawMessage)
	if edit.ID != "E1" || edit.Body != "new" {
		t.Errorf("edit = %+v", edit)
	}
}

func TestHandleChatPresence(t *testing.T) {
	b := bus.New()
	h := NewEventHandler(b, nil, zap.NewNop())
	ch, unsub := b.Subscribe(bus.TransportPresence, 10)
	defer unsub()

	src := types.MessageSource{
		Chat:   types.JID{User: "peer", Server: types.DefaultUserServer},
		Sender: types.JID{User: "peer", Device: 1, Server: types.DefaultUserServer},
	}
	h.Handle(&events.ChatPresence{MessageSource: src, State: types.ChatPresenceComposing})
	p := next(t, ch, bus.TransportPresence).Payload.(entry.Presence)
	if !p.Composing || p.SenderID != "peer@s.whatsapp.net" {
		t.Errorf("presence = %+v", p)
	}

	h.Handle(&events.ChatPresence{MessageSource: src, State: types.ChatPresencePaused})
	if p := next(t, ch, bus.TransportPresence).Payload.(entry.Presence); p.Composing {
		t.Error("paused presence reported as composing")
	}
}

func TestHandleReceipts(t *testing.T) {
	b := bus.New()
	h := NewEventHandler(b, nil, zap.NewNop())
	ch, unsub := b.Subscribe(bus.TransportReceipts, 10)
	defer unsub()
	ts := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	// Delivery receipts are ignored.
	h.Handle(&events.Receipt{
		MessageSource: types.MessageSource{Chat: types.JID{User: "peer", Server: types.DefaultUserServer}},
		MessageIDs:    []types.MessageID{"m1"},
		Type:          types.ReceiptTypeDelivered,
	})
	quiet(t, ch)

	h.Handle(&events.Receipt{
		MessageSource: types.MessageSource{
			Chat:   types.JID{User: "peer", Server: types.DefaultUserServer},
			Sender: types.JID{User: "peer", Server: types.DefaultUserServer},
		},
		MessageIDs: []types.MessageID{"m1"},
		Timestamp:  ts,
		Type:       types.ReceiptTypeRead,
	})
	rs := next(t, ch, bus.TransportReceipts).Payload.([]entry.Receipt)
	if len(rs) != 1 || rs[0].IsGroup || !rs[0].Timestamp.Equal(ts) {
		t.Errorf("1:1 receipts = %+v", rs)
	}

	group := types.JID{User: "1203", Server: types.GroupServer}
	for i, reader := range []string{"a", "b", "a"} {
		h.Handle(&events.Receipt{
			MessageSource: types.MessageSource{
				Chat:    group,
				Sender:  types.JID{User: reader, Server: types.DefaultUserServer},
				IsGroup: true,
			},
			MessageIDs: []types.MessageID{"g1"},
			Timestamp:  ts,
			Type:       types.ReceiptTypeRead,
		})
		rs := next(t, ch, bus.TransportReceipts).Payload.([]entry.Receipt)
		want := []int{1, 2, 2}[i]
		if len(rs) != 1 || !rs[0].IsGroup || rs[0].MsgID != "g1" || rs[0].ReadCount != want {
			t.Errorf("receipt %d = %+v, want read count %d", i, rs, want)
		}
	}
}

func TestHandleHistorySync(t *testing.T) {
	b := bus.New()
	h := NewEventHandler(b, nil, zap.NewNop())
	ch, unsub := b.Subscribe(bus.NamespaceTransport, 10)
	defer unsub()

	msgTS := uint64(time.Now().Unix())
	h.Handle(&events.HistorySync{
		Data: &waHistorySync.HistorySync{
			Conversations: []*waHistorySync.Conversation{
				{
					ID:   proto.String("5585:3@s.whatsapp.net"),
					Name: proto.String("Eric"),
					Messages: []*waHistorySync.HistorySyncMsg{
						{
							Message: &waWeb.WebMessageInfo{
								Key: &waCommon.MessageKey{
									ID:        proto.String("hm1"),
									FromMe:    proto.Bool(false),
									RemoteJID: proto.String("5585@s.whatsapp.net"),
								},
								MessageTimestamp: &msgTS,
								Message:          &waE2E.Message{Conversation: proto.String("history msg")},
								PushName:         proto.String("Eric P"),
							},
						},
						{Message: nil},
					},
				},
			},
		},
	})

	batch := next(t, ch, bus.TransportHistory).Payload.([]*entry.RawMessage)
	if len(batch) != 1 || batch[0].ConversationID != "5585@s.whatsapp.net" || batch[0].Body != "history msg" {
		t.Fatalf("batch = %+v", batch)
	}
	contacts := next(t, ch, bus.TransportContacts).Payload.([]entry.Contact)
	var named, pushed bool
	for _, c := range contacts {
		named = named || (c.ID == "5585@s.whatsapp.net" && c.Name == "Eric")
		pushed = pushed || (c.ID == "5585@s.whatsapp.net" && c.PushName == "Eric P")
	}
	if !named || !pushed {
		t.Errorf("contacts = %+v", contacts)
	}
}

func TestHandleHistorySyncNilData(t *testing.T) {
	b := bus.New()
	h := NewEventHandler(b, nil, zap.NewNop())
	ch, unsub := b.Subscribe(bus.NamespaceTransport, 10)
	defer unsub()

	// Should not panic on nil data.
	h.Handle(&events.HistorySync{Data: nil})
	quiet(t, ch)
}
