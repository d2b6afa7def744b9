package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// dsnParams puts the archive in WAL mode so history reads do not block the
// sync engine's writes.
const dsnParams = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"

const pingTimeout = 5 * time.Second

// DB wraps the SQLite message archive of a session.
type DB struct {
	*sql.DB
	path string
}

// Open opens the archive at path, creating the file when missing.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?"+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path returns the archive file path.
func (db *DB) Path() string {
	return db.path
}
