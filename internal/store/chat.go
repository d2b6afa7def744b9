package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// chatColumns resolves the display name with fallback
// chat.name -> contact.push_name -> contact.name -> chat.jid and counts
// incoming messages newer than the read marker.
const chatColumns = `c.jid,
	COALESCE(NULLIF(c.name,''), NULLIF(ct.push_name,''), NULLIF(ct.name,''), c.jid) AS display_name,
	c.is_group,
	(SELECT COUNT(*) FROM messages m
		WHERE m.chat_jid = c.jid AND m.from_me = 0 AND m.revoked = 0 AND m.timestamp > c.read_at) AS unread,
	c.last_message_at, c.last_message_preview`

// UpsertChat inserts or updates a chat record.
func (db *DB) UpsertChat(ctx context.Context, c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO chats (jid, name, is_group, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = excluded.name,
			is_group = excluded.is_group,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at`,
		c.JID, c.Name, c.IsGroup, c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// ListChats returns chats sorted by last message timestamp descending.
func (db *DB) ListChats(ctx context.Context, limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats c
		LEFT JOIN contacts ct ON c.jid = ct.jid
		WHERE c.jid NOT LIKE '%@lid'
		ORDER BY c.last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.JID, &c.Name, &c.IsGroup, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by JID, or nil when it is not archived.
func (db *DB) GetChat(ctx context.Context, jid string) (*Chat, error) {
	var c Chat
	err := db.QueryRowContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats c
		LEFT JOIN contacts ct ON c.jid = ct.jid
		WHERE c.jid = ?`, jid).
		Scan(&c.JID, &c.Name, &c.IsGroup, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkChatRead moves the chat's read marker forward to ts (unix millis).
// The marker never moves backwards.
func (db *DB) MarkChatRead(ctx context.Context, jid string, ts int64) error {
	_, err := db.ExecContext(ctx, `UPDATE chats SET read_at = MAX(read_at, ?) WHERE jid = ?`, ts, jid)
	return err
}
