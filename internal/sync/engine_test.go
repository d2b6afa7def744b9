package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func raw(chat, id, body string, ms int64) *entry.RawMessage {
	return &entry.RawMessage{
		ID:             id,
		ConversationID: chat,
		SenderID:       "peer@s",
		Type:           entry.TypeText,
		Body:           body,
		Timestamp:      time.UnixMilli(ms),
	}
}

func list(t *testing.T, db *store.DB, chat string) []store.Message {
	t.Helper()
	msgs, err := db.ListMessages(context.Background(), chat, 0, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}

func TestEngineIngestMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)

	ch, unsub := b.Subscribe(bus.NamespaceArchive, 10)
	defer unsub()

	if err := e.IngestMessage(raw("chat@s", "m1", "hello", 1000)); err != nil {
		t.Fatal(err)
	}

	chat, err := db.GetChat(context.Background(), "chat@s")
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil || chat.LastMessagePreview != "hello" {
		t.Fatalf("chat = %+v, want auto-created with preview", chat)
	}

	msgs := list(t, db, "chat@s")
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Errorf("got %d messages, want 1 with body=hello", len(msgs))
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.ArchiveMessageStored {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.ArchiveMessageStored)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for archive event")
	}
}

func TestEngineIngestMessageIdempotent(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil)

	msg := raw("chat@s", "m1", "v1", 1000)
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "v2"
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs := list(t, db, "chat@s")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Body != "v2" {
		t.Errorf("body = %q, want v2 (updated)", msgs[0].Body)
	}
}

func TestEngineRejectsMessageWithoutID(t *testing.T) {
	e := NewEngine(testDB(t), bus.New(), nil)
	if err := e.IngestMessage(raw("chat@s", "", "x", 1)); err == nil {
		t.Error("expected error for message without id")
	}
}

func TestEngineIngestHistoryBatch(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)

	ch, unsub := b.Subscribe(bus.ArchiveHistoryStored, 10)
	defer unsub()

	msgs := []*entry.RawMessage{
		raw("a@s", "m1", "one", 1000),
		raw("a@s", "m2", "two", 2000),
		raw("b@s", "m3", "three", 3000),
		raw("b@s", "", "dropped", 4000),
	}
	if err := e.IngestHistoryBatch(msgs); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(context.Background(), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Errorf("got %d chats, want 2", len(chats))
	}
	if a, b := list(t, db, "a@s"), list(t, db, "b@s"); len(a) != 2 || len(b) != 1 {
		t.Errorf("got %d+%d messages, want 2+1", len(a), len(b))
	}

	select {
	case evt := <-ch:
		stored := evt.Payload.(Stored)
		if stored.Messages != 3 || stored.Chats != 2 {
			t.Errorf("payload = %+v, want 3 messages in 2 chats", stored)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for history event")
	}
}

func TestEngineHistoryBatchIdempotent(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil)

	msgs := []*entry.RawMessage{raw("a@s", "m1", "hello", 1000)}
	for i := 0; i < 2; i++ {
		if err := e.IngestHistoryBatch(msgs); err != nil {
			t.Fatal(err)
		}
	}
	if stored := list(t, db, "a@s"); len(stored) != 1 {
		t.Errorf("got %d messages, want 1 (idempotent batch)", len(stored))
	}
}

// TestEngineBusSubscription verifies the engine archives every transport
// event kind it receives from the bus.
func TestEngineBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, zap.NewNop())

	e.Start(context.Background())
	defer e.Stop()

	stored, unsub := b.Subscribe(bus.NamespaceArchive, 10)
	defer unsub()

	b.Publish(bus.NewEvent(bus.TransportMessage, raw("bus@s", "bm1", "from bus", 5000)))
	b.Publish(bus.NewEvent(bus.TransportHistory, []*entry.RawMessage{
		raw("bus@s", "hm1", "history", 1000),
		raw("bus@s", "hm2", "history2", 2000),
	}))
	for i := 0; i < 2; i++ {
		select {
		case <-stored:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for archive events")
		}
	}
	if msgs := list(t, db, "bus@s"); len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}

	edited := raw("bus@s", "bm1", "edited", 5000)
	b.Publish(bus.NewEvent(bus.TransportModified, edited))
	b.Publish(bus.NewEvent(bus.TransportRevoked, entry.RevokeEvent{ConversationID: "bus@s", ID: "hm1", Operator: "peer@s"}))
	b.Publish(bus.NewEvent(bus.TransportContacts, []entry.Contact{{ID: "peer@s", PushName: "Pat"}}))

	// Events are handled in order, so once the contact is visible the edit
	// and the revocation are too.
	deadline := time.Now().Add(2 * time.Second)
	for {
		names, err := db.ResolveNames(context.Background(), []string{"peer@s"})
		if err != nil {
			t.Fatal(err)
		}
		if names["peer@s"] == "Pat" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for contacts")
		}
		time.Sleep(10 * time.Millisecond)
	}

	m, _ := db.GetMessage("bus@s", "bm1")
	if m == nil || m.Body != "edited" || !m.Edited {
		t.Errorf("edit not archived: %+v", m)
	}
	m, _ = db.GetMessage("bus@s", "hm1")
	if m == nil || !m.Revoked || m.Body != "" {
		t.Errorf("revocation not archived: %+v", m)
	}
}
