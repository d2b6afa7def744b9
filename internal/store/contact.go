package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// BulkUpsertContacts inserts or updates multiple contacts in a single transaction.
func (db *DB) BulkUpsertContacts(contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (jid, name, push_name, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(jid) DO UPDATE SET
				name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
				push_name = CASE WHEN excluded.push_name != '' THEN excluded.push_name ELSE contacts.push_name END,
				updated_at = excluded.updated_at`,
			c.JID, c.Name, c.PushName, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.JID, err)
		}
	}
	return tx.Commit()
}

// GetContact returns a contact by JID.
func (db *DB) GetContact(jid string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT jid, name, push_name FROM contacts WHERE jid = ?`, jid).
		Scan(&c.JID, &c.Name, &c.PushName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ResolveNames returns display names for the given JIDs, preferring the
// address-book name over the push name. Unknown JIDs are omitted. It
// implements transport.NameResolver.
func (db *DB) ResolveNames(ctx context.Context, jids []string) (map[string]string, error) {
	names := make(map[string]string, len(jids))
	if len(jids) == 0 {
		return names, nil
	}
	args := make([]any, len(jids))
	for i, jid := range jids {
		args[i] = jid
	}
	rows, err := db.QueryContext(ctx, `
		SELECT jid, COALESCE(NULLIF(name,''), NULLIF(push_name,''), '')
		FROM contacts
		WHERE jid IN (?`+strings.Repeat(",?", len(jids)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var jid, name string
		if err := rows.Scan(&jid, &name); err != nil {
			return nil, err
		}
		if name != "" {
			names[jid] = name
		}
	}
	return names, rows.Err()
}
