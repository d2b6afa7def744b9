package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/entry"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 3 || result.From != 3 {
		t.Errorf("version = %d -> %d, want 3 -> 3", result.From, result.Version)
	}
}

func TestMigrateFreshArchive(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Changed || result.From != 0 || result.Version != 3 || result.Dirty {
		t.Errorf("Migrate() = %+v, want 0 -> 3 changed", *result)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert chat", "INSERT INTO chats (jid, name, is_group, read_at, last_message_at, last_message_preview) VALUES (?, ?, ?, ?, ?, ?)", []any{"c@s", "Test", false, 0, 1000, "hi"}},
		{"insert message", "INSERT INTO messages (chat_jid, msg_id, sender_jid, sender_name, body, media_url, message_type, from_me, is_group, need_read_receipt, edited, revoked, revoked_by, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", []any{"c@s", "m1", "s@s", "Sender", "hello", "", "text", false, false, true, false, false, "", 1000}},
		{"insert contact", "INSERT INTO contacts (jid, name, push_name) VALUES (?, ?, ?)", []any{"j@s", "Name", "Push"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestChatUpsertAndList(t *testing.T) {
	db := testDB(t)

	chat := &Chat{JID: "123@s.whatsapp.net", Name: "Alice", LastMessageAt: 1000, LastMessagePreview: "hello"}
	if err := db.UpsertChat(context.Background(), chat); err != nil {
		t.Fatal(err)
	}
	chat.Name = "Alice Updated"
	if err := db.UpsertChat(context.Background(), chat); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(context.Background(), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	if chats[0].Name != "Alice Updated" {
		t.Errorf("name = %q, want Alice Updated", chats[0].Name)
	}
}

func TestGetChat(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(context.Background(), &Chat{JID: "a@s", Name: "A", IsGroup: true}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetChat(context.Background(), "a@s")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "A" || !c.IsGroup {
		t.Errorf("got %v, want group A", c)
	}

	c, err = db.GetChat(context.Background(), "missing@s")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil for missing chat")
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ChatJID: "chat@s", MsgID: "msg1", SenderJID: "a@s", Body: "hello", MessageType: "text", Timestamp: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "hello updated"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(context.Background(), "chat@s", 0, "", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", msgs[0].Body)
	}
}

func TestFetchHistoryKeyset(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var msgs []*Message
	for i := 0; i < 25; i++ {
		msgs = append(msgs, &Message{
			ChatJID:     "chat@s",
			MsgID:       fmt.Sprintf("m%02d", i),
			SenderJID:   "a@s",
			Body:        "x",
			MessageType: "text",
			// Pairs share a timestamp so the id breaks ties.
			Timestamp: base.Add(time.Duration(i/2) * time.Second).UnixMilli(),
		})
	}
	msgs = append(msgs, &Message{ChatJID: "other@s", MsgID: "o1", SenderJID: "a@s", MessageType: "text", Timestamp: base.UnixMilli()})
	if _, err := db.UpsertMessages(msgs); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	page, err := db.FetchHistory(ctx, "chat@s", nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 10 || page[0].ID != "m15" || page[9].ID != "m24" {
		t.Fatalf("first page = %s..%s (%d)", page[0].ID, page[len(page)-1].ID, len(page))
	}

	var all []string
	cursor := page[0]
	for _, m := range page {
		all = append(all, m.ID)
	}
	for {
		page, err = db.FetchHistory(ctx, "chat@s", cursor, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		for i := len(page) - 1; i >= 0; i-- {
			all = append([]string{page[i].ID}, all...)
		}
		cursor = page[0]
		if len(page) < 10 {
			break
		}
	}
	if len(all) != 25 {
		t.Fatalf("paged %d messages, want 25", len(all))
	}
	for i, id := range all {
		if want := fmt.Sprintf("m%02d", i); id != want {
			t.Errorf("position %d = %s, want %s", i, id, want)
		}
	}
}

func TestRevocationIsSticky(t *testing.T) {
	db := testDB(t)

	// Revocation arrives before the message itself.
	if err := db.MarkRevoked("chat@s", "m1", "a@s", 500); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ChatJID: "chat@s", MsgID: "m1", SenderJID: "a@s", Body: "secret", MessageType: "text", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMessage("chat@s", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || !m.Revoked || m.Body != "" || m.RevokedBy != "a@s" {
		t.Fatalf("got %+v, want revoked row with empty body", m)
	}
	if m.SenderJID != "a@s" || m.Timestamp != 1000 {
		t.Errorf("stub not completed by delivery: %+v", m)
	}
	if ok, err := db.EditMessage("chat@s", "m1", "edited"); err != nil || ok {
		t.Errorf("EditMessage on revoked = %v, %v; want false, nil", ok, err)
	}
	if !m.Raw().Revoked {
		t.Error("Raw() lost the revoked flag")
	}
}

func TestEditMessage(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertMessage(&Message{ChatJID: "chat@s", MsgID: "m1", SenderJID: "a@s", Body: "tpyo", MessageType: "text", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	ok, err := db.EditMessage("chat@s", "m1", "typo")
	if err != nil || !ok {
		t.Fatalf("EditMessage = %v, %v", ok, err)
	}
	m, _ := db.GetMessage("chat@s", "m1")
	if m.Body != "typo" || !m.Edited {
		t.Errorf("got %+v", m)
	}
}

func TestRawRoundTripKeepsFlags(t *testing.T) {
	raw := &entry.RawMessage{
		ID:              "m1",
		ConversationID:  "g@g.us",
		IsGroup:         true,
		SenderID:        "a@s",
		Type:            entry.TypeImage,
		MediaURL:        "https://example.invalid/x.jpg",
		Timestamp:       time.UnixMilli(1234),
		NeedReadReceipt: true,
	}
	got := MessageFromRaw(raw).Raw()
	if got.ID != raw.ID || !got.IsGroup || got.Type != entry.TypeImage || !got.NeedReadReceipt || !got.Timestamp.Equal(raw.Timestamp) {
		t.Errorf("round trip = %+v", got)
	}
}

func TestContactsResolveNames(t *testing.T) {
	db := testDB(t)

	if err := db.BulkUpsertContacts([]Contact{
		{JID: "a@s", Name: "Alice", PushName: "ally"},
		{JID: "b@s", PushName: "Bobby"},
		{JID: "c@s"},
	}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetContact("a@s")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.PushName != "ally" {
		t.Errorf("got %v, want ally", c)
	}

	names, err := db.ResolveNames(context.Background(), []string{"a@s", "b@s", "c@s", "zz@s"})
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names["a@s"] != "Alice" || names["b@s"] != "Bobby" {
		t.Errorf("names = %v", names)
	}
}

func TestChatUnreadFollowsReadMarker(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	msgs := []*Message{
		{ChatJID: "c@s", MsgID: "m1", SenderJID: "a@s", Body: "one", MessageType: "text", Timestamp: 1000},
		{ChatJID: "c@s", MsgID: "m2", SenderJID: "a@s", Body: "two", MessageType: "text", Timestamp: 2000},
		{ChatJID: "c@s", MsgID: "m3", SenderJID: "me@s", Body: "mine", MessageType: "text", FromMe: true, Timestamp: 3000},
	}
	if _, err := db.UpsertMessages(msgs); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat(ctx, "c@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", c.UnreadCount)
	}

	if err := db.MarkChatRead(ctx, "c@s", 1000); err != nil {
		t.Fatal(err)
	}
	// An older marker must not move it back.
	if err := db.MarkChatRead(ctx, "c@s", 10); err != nil {
		t.Fatal(err)
	}
	chats, err := db.ListChats(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].UnreadCount != 1 || chats[0].LastMessagePreview != "mine" {
		t.Errorf("chats = %+v", chats)
	}
}
