package cache

import (
	"encoding/json"
	"time"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/store"
)

// UpsertThread inserts or updates a thread record.
func (db *DB) UpsertThread(t *store.Thread) error {
	participants, err := json.Marshal(t.ParticipantIDs)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO threads (id, participant_ids, last_message_id, last_activity_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participant_ids = excluded.participant_ids,
			last_message_id = excluded.last_message_id,
			last_activity_at = excluded.last_activity_at,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		t.ID, string(participants), t.LastMessageID, t.LastActivityAt.UnixMilli(), t.UnreadCount, now)
	return err
}

// ListThreads returns cached threads sorted by last activity descending.
func (db *DB) ListThreads(limit, offset int) ([]store.Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, participant_ids, last_message_id, last_activity_at, unread_count
		FROM threads
		ORDER BY last_activity_at DESC, id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var threads []store.Thread
	for rows.Next() {
		var (
			t            store.Thread
			participants string
			activityMs   int64
		)
		if err := rows.Scan(&t.ID, &participants, &t.LastMessageID, &activityMs, &t.UnreadCount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(participants), &t.ParticipantIDs); err != nil {
			return nil, err
		}
		t.LastActivityAt = time.UnixMilli(activityMs)
		threads = append(threads, t)
	}
	return threads, rows.Err()
}
