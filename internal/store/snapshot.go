package store

import (
	"database/sql"
	"time"
)

// Snapshot namespaces. Each namespace is a single serialized JSON blob,
// written whole on every persist (last write wins at the blob level).
const (
	NSMessages = "chat.messages"
	NSOutbox   = "chat.outbox"
	NSAppeals  = "appeals"
)

// LoadSnapshot returns the stored blob for a namespace, or nil if none
// exists.
func (db *DB) LoadSnapshot(namespace string) ([]byte, error) {
	var body string
	err := db.QueryRow(`SELECT body FROM snapshots WHERE namespace = ?`, namespace).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

// SaveSnapshot writes the blob for a namespace, replacing any previous
// value.
func (db *DB) SaveSnapshot(namespace string, body []byte) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO snapshots (namespace, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at`,
		namespace, string(body), now)
	return err
}
