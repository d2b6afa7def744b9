package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/chatline/internal/entry"
)

const messageColumns = `id, chat_jid, msg_id, sender_jid, sender_name, body, media_url, message_type,
	from_me, is_group, need_read_receipt, edited, revoked, revoked_by, timestamp`

// UpsertMessage inserts or updates a message (idempotent on chat_jid + msg_id).
// A revoked row stays revoked and keeps its cleared body; a revocation stub
// takes the sender, type and timestamp of the late delivery.
func (db *DB) UpsertMessage(m *Message) error {
	return upsertMessage(db.DB, m)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertMessage(ex execer, m *Message) error {
	now := time.Now().UnixMilli()
	body := m.Body
	if m.Revoked {
		body = ""
	}
	_, err := ex.Exec(`
		INSERT INTO messages (chat_jid, msg_id, sender_jid, sender_name, body, media_url, message_type,
			from_me, is_group, need_read_receipt, edited, revoked, revoked_by, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_jid, msg_id) DO UPDATE SET
			sender_jid = CASE WHEN messages.sender_jid = '' THEN excluded.sender_jid ELSE messages.sender_jid END,
			message_type = CASE WHEN messages.sender_jid = '' THEN excluded.message_type ELSE messages.message_type END,
			from_me = CASE WHEN messages.sender_jid = '' THEN excluded.from_me ELSE messages.from_me END,
			timestamp = CASE WHEN messages.sender_jid = '' THEN excluded.timestamp ELSE messages.timestamp END,
			sender_name = CASE WHEN excluded.sender_name != '' THEN excluded.sender_name ELSE messages.sender_name END,
			body = CASE WHEN messages.revoked = 1 THEN '' ELSE excluded.body END,
			media_url = excluded.media_url,
			edited = MAX(messages.edited, excluded.edited),
			revoked = MAX(messages.revoked, excluded.revoked)`,
		m.ChatJID, m.MsgID, m.SenderJID, m.SenderName, body, m.MediaURL, m.MessageType,
		m.FromMe, m.IsGroup, m.NeedReadReceipt, m.Edited, m.Revoked, m.RevokedBy, m.Timestamp, now)
	return err
}

// EditMessage replaces the body of an archived message and flags it edited.
// Revoked messages are left untouched.
func (db *DB) EditMessage(chatJID, msgID, body string) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET body = ?, edited = 1
		WHERE chat_jid = ? AND msg_id = ? AND revoked = 0`, body, chatJID, msgID)
	if err != nil {
		return false, fmt.Errorf("edit message: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRevoked flags a message as revoked and clears its body. A revocation
// that arrives before the message itself leaves a stub row so the later
// delivery is archived as revoked.
func (db *DB) MarkRevoked(chatJID, msgID, operator string, ts int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (chat_jid, msg_id, sender_jid, revoked, revoked_by, timestamp, created_at)
		VALUES (?, ?, '', 1, ?, ?, ?)
		ON CONFLICT(chat_jid, msg_id) DO UPDATE SET
			body = '',
			revoked = 1,
			revoked_by = excluded.revoked_by`,
		chatJID, msgID, operator, ts, now)
	if err != nil {
		return fmt.Errorf("mark revoked: %w", err)
	}
	return nil
}

// GetMessage returns a single message, or nil when it is not archived.
func (db *DB) GetMessage(chatJID, msgID string) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE chat_jid = ? AND msg_id = ?`, chatJID, msgID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns up to limit messages of a chat older than the
// (beforeTs, beforeID) key, newest first. A zero beforeTs starts at the
// latest message.
func (db *DB) ListMessages(ctx context.Context, chatJID string, beforeTs int64, beforeID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if beforeTs <= 0 {
		rows, err = db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE chat_jid = ?
			ORDER BY timestamp DESC, msg_id DESC
			LIMIT ?`, chatJID, limit)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE chat_jid = ? AND (timestamp < ? OR (timestamp = ? AND msg_id < ?))
			ORDER BY timestamp DESC, msg_id DESC
			LIMIT ?`, chatJID, beforeTs, beforeTs, beforeID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// FetchHistory serves a page of archived messages older than before,
// oldest first. It implements transport.History.
func (db *DB) FetchHistory(ctx context.Context, conversationID string, before *entry.RawMessage, count int) ([]*entry.RawMessage, error) {
	var (
		ts int64
		id string
	)
	if before != nil {
		ts, id = before.Timestamp.UnixMilli(), before.ID
	}
	msgs, err := db.ListMessages(ctx, conversationID, ts, id, count)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	out := make([]*entry.RawMessage, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].Raw())
	}
	slices.Reverse(out)
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	var m Message
	err := s.Scan(&m.ID, &m.ChatJID, &m.MsgID, &m.SenderJID, &m.SenderName, &m.Body, &m.MediaURL, &m.MessageType,
		&m.FromMe, &m.IsGroup, &m.NeedReadReceipt, &m.Edited, &m.Revoked, &m.RevokedBy, &m.Timestamp)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMessages archives a batch in one transaction and bumps the chat
// summaries it touches. It returns the number of chats updated.
func (db *DB) UpsertMessages(msgs []*Message) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	chats := make(map[string]struct{})
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO chats (jid, is_group, last_message_at, last_message_preview, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(jid) DO UPDATE SET
				is_group = excluded.is_group,
				last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
				last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
				updated_at = excluded.updated_at`,
			m.ChatJID, m.IsGroup, m.Timestamp, Preview(m.Body, 100), time.Now().UnixMilli()); err != nil {
			return 0, fmt.Errorf("upsert chat %q: %w", m.ChatJID, err)
		}
		if err := upsertMessage(tx, m); err != nil {
			return 0, fmt.Errorf("upsert message %q: %w", m.MsgID, err)
		}
		chats[m.ChatJID] = struct{}{}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(chats), nil
}

// Preview truncates a body for the chat list.
func Preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
