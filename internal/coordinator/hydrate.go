package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/store"
)

const hydratePageSize = 50

// Hydrate seeds the state store: cached history first so the UI renders
// instantly, then the server's current view layered on top. Messages already
// present from the cache are absorbed by ingestion idempotence. A REST
// failure leaves the cached view standing and returns the error.
func (c *Coordinator) Hydrate(ctx context.Context) error {
	c.hydrateFromCache()

	threads, err := c.rest.ListThreads(ctx)
	if err != nil {
		c.logger.Warn("thread hydration failed, serving cache only", zap.Error(err))
		return err
	}
	for _, t := range threads {
		c.store.EnsureThread(t.ID, t.ParticipantIDs)
		msgs, err := c.rest.ListMessages(ctx, t.ID, 0, hydratePageSize)
		if err != nil {
			c.logger.Warn("message hydration failed", zap.String("thread_id", t.ID), zap.Error(err))
			continue
		}
		// Pages arrive newest first; ingest oldest first to keep insertion order.
		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			c.store.IngestRemoteMessage(store.Message{
				ID:        m.ID,
				ThreadID:  m.ThreadID,
				SenderID:  m.SenderID,
				Text:      m.Text,
				MediaRef:  m.MediaRef,
				CreatedAt: m.CreatedAt,
				Read:      true, // history is read; unread state comes from live pushes
			})
		}
		c.persistThread(t.ID)
	}
	return nil
}

func (c *Coordinator) hydrateFromCache() {
	if c.cache == nil {
		return
	}
	threads, err := c.cache.ListThreads(0, 0)
	if err != nil {
		c.logger.Warn("cache thread load failed", zap.Error(err))
		return
	}
	for _, t := range threads {
		c.store.EnsureThread(t.ID, t.ParticipantIDs)
		msgs, err := c.cache.ListMessages(t.ID, 0, hydratePageSize)
		if err != nil {
			c.logger.Warn("cache message load failed", zap.String("thread_id", t.ID), zap.Error(err))
			continue
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			c.store.IngestRemoteMessage(msgs[i])
		}
	}
}

// persistThread writes the thread's current state behind the in-memory store.
func (c *Coordinator) persistThread(threadID string) {
	if c.cache == nil {
		return
	}
	t, ok := c.store.Thread(threadID)
	if !ok {
		return
	}
	if err := c.cache.UpsertThread(&t); err != nil {
		c.logger.Warn("thread cache write failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}

// persistMessage writes one message behind the in-memory store.
func (c *Coordinator) persistMessage(threadID, messageID string) {
	if c.cache == nil {
		return
	}
	for _, m := range c.store.Messages(threadID) {
		if m.ID != messageID {
			continue
		}
		if err := c.cache.UpsertMessage(&m); err != nil {
			c.logger.Warn("message cache write failed", zap.String("message_id", messageID), zap.Error(err))
		}
		return
	}
}

func (c *Coordinator) persistRead(threadID string, messageIDs []string, at time.Time) {
	if c.cache == nil {
		return
	}
	if err := c.cache.MarkRead(threadID, messageIDs, at); err != nil {
		c.logger.Warn("read cache write failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}
