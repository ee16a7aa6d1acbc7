package cache

import (
	"time"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/store"
)

// UpsertMessage inserts or updates a message (idempotent on thread_id + msg_id).
// Provisional messages are never cached: only confirmed history is durable, so
// a restart cannot resurrect sends the server never acknowledged.
func (db *DB) UpsertMessage(m *store.Message) error {
	if m.Provisional {
		return nil
	}
	var readAt int64
	if !m.ReadAt.IsZero() {
		readAt = m.ReadAt.UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO messages (thread_id, msg_id, sender_id, body, media_ref, delivery, read, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, msg_id) DO UPDATE SET
			body = excluded.body,
			media_ref = excluded.media_ref,
			delivery = excluded.delivery,
			read = excluded.read,
			read_at = excluded.read_at`,
		m.ThreadID, m.ID, m.SenderID, m.Text, m.MediaRef, string(m.Delivery), m.Read, readAt, m.CreatedAt.UnixMilli())
	return err
}

// ListMessages returns messages for a thread using keyset pagination by
// creation timestamp, newest first.
func (db *DB) ListMessages(threadID string, beforeTs int64, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT msg_id, thread_id, sender_id, body, media_ref, delivery, read, read_at, created_at
		FROM messages
		WHERE thread_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, threadID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []store.Message
	for rows.Next() {
		var (
			m         store.Message
			delivery  string
			readAtMs  int64
			createdMs int64
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Text, &m.MediaRef, &delivery, &m.Read, &readAtMs, &createdMs); err != nil {
			return nil, err
		}
		m.Delivery = store.Delivery(delivery)
		if readAtMs > 0 {
			m.ReadAt = time.UnixMilli(readAtMs)
		}
		m.CreatedAt = time.UnixMilli(createdMs)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead flags the given message ids as read in the cache.
func (db *DB) MarkRead(threadID string, messageIDs []string, at time.Time) error {
	for _, id := range messageIDs {
		if _, err := db.Exec(`
			UPDATE messages SET read = 1, read_at = ?
			WHERE thread_id = ? AND msg_id = ? AND read = 0`,
			at.UnixMilli(), threadID, id); err != nil {
			return err
		}
	}
	return nil
}
