// Package store holds the in-memory model of threads and messages. It is
// the only component allowed to mutate them; everything else communicates
// intent through the coordinator. Message order within a thread is
// insertion order, never wall-clock order: timestamps are advisory and
// re-sorting would make messages jump when clocks disagree.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/bus"
)

// threadState is the per-thread arena: ids in insertion order plus an
// id -> position index so provisional reconciliation is O(1).
type threadState struct {
	thread Thread
	order  []string
	index  map[string]int
	byID   map[string]*Message
}

// pendingReceipt buffers a read receipt that arrived before its message.
type pendingReceipt struct {
	threadID string
	timer    *clock.Timer
}

// Store is the conversation state store.
type Store struct {
	selfID        string
	receiptWindow time.Duration

	clock  clock.Clock
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.RWMutex
	threads  map[string]*threadState
	receipts map[string]*pendingReceipt
}

// New creates a store for the given local user id. receiptWindow bounds how
// long an out-of-order read receipt waits for its message before being
// dropped with a DesyncWarning.
func New(selfID string, receiptWindow time.Duration, clk clock.Clock, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		selfID:        selfID,
		receiptWindow: receiptWindow,
		clock:         clk,
		bus:           b,
		logger:        logger,
		threads:       make(map[string]*threadState),
		receipts:      make(map[string]*pendingReceipt),
	}
}

// EnsureThread creates the thread if it does not exist and returns a copy.
// Threads are never removed during a session; archival is server-side.
func (s *Store) EnsureThread(threadID string, participantIDs []string) Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.ensureThreadLocked(threadID, participantIDs)
	return ts.thread
}

func (s *Store) ensureThreadLocked(threadID string, participantIDs []string) *threadState {
	if ts, ok := s.threads[threadID]; ok {
		if len(participantIDs) > 0 && len(ts.thread.ParticipantIDs) == 0 {
			ts.thread.ParticipantIDs = dedupeIDs(participantIDs)
		}
		return ts
	}
	ts := &threadState{
		thread: Thread{
			ID:             threadID,
			ParticipantIDs: dedupeIDs(participantIDs),
		},
		index: make(map[string]int),
		byID:  make(map[string]*Message),
	}
	s.threads[threadID] = ts
	return ts
}

// ApplyOptimisticSend creates a pending message with a provisional id and
// appends it to the thread, returning a copy for immediate rendering.
func (s *Store) ApplyOptimisticSend(threadID, text, mediaRef string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.ensureThreadLocked(threadID, nil)
	m := &Message{
		ID:          uuid.NewString(),
		ThreadID:    threadID,
		SenderID:    s.selfID,
		Text:        text,
		MediaRef:    mediaRef,
		CreatedAt:   s.clock.Now(),
		Delivery:    DeliveryPending,
		Provisional: true,
	}
	s.appendLocked(ts, m)
	s.bus.Emit("message.upserted", messageRef(m))
	return *m
}

// ReconcileConfirmedMessage replaces the provisional entry with the
// server-confirmed one in place: same position in the ordered sequence,
// never duplicated. Unknown provisional ids (reconnection replay) fall back
// to remote ingestion. A thread mismatch indicates a server/client desync
// and is absorbed as a recoverable warning.
func (s *Store) ReconcileConfirmedMessage(provisionalID string, server Message) {
	s.mu.Lock()

	ts, ok := s.threads[server.ThreadID]
	var pos int
	if ok {
		pos, ok = ts.index[provisionalID]
	}
	if !ok {
		// Check whether the provisional id lives in a different thread.
		for id, other := range s.threads {
			if _, found := other.index[provisionalID]; found && id != server.ThreadID {
				s.mu.Unlock()
				s.desync("confirmed message thread mismatch", server.ThreadID, server.ID)
				return
			}
		}
		s.mu.Unlock()
		s.IngestRemoteMessage(server)
		return
	}

	confirmed := server
	confirmed.Delivery = DeliverySent
	confirmed.Provisional = false
	if confirmed.SenderID == "" {
		confirmed.SenderID = s.selfID
	}

	if _, dup := ts.index[confirmed.ID]; dup && confirmed.ID != provisionalID {
		// The confirmed id was already ingested via a server push; drop the
		// provisional entry rather than leaving the id in twice.
		s.removeLocked(ts, provisionalID, pos)
		s.mu.Unlock()
		s.resolveBufferedReceipt(confirmed.ID)
		s.bus.Emit("message.upserted", messageRef(&confirmed))
		return
	}

	delete(ts.byID, provisionalID)
	delete(ts.index, provisionalID)
	ts.order[pos] = confirmed.ID
	ts.index[confirmed.ID] = pos
	ts.byID[confirmed.ID] = &confirmed
	if ts.thread.LastMessageID == provisionalID {
		ts.thread.LastMessageID = confirmed.ID
	}
	s.mu.Unlock()

	s.resolveBufferedReceipt(confirmed.ID)
	s.bus.Emit("message.upserted", messageRef(&confirmed))
}

// IngestRemoteMessage inserts a server-pushed message in arrival order.
// Idempotent: a message id already present in the thread is a no-op, which
// absorbs at-least-once delivery duplicates from reconnection replay.
func (s *Store) IngestRemoteMessage(m Message) {
	s.mu.Lock()

	ts := s.ensureThreadLocked(m.ThreadID, nil)
	if _, exists := ts.byID[m.ID]; exists {
		s.mu.Unlock()
		return
	}

	msg := m
	if msg.Delivery == "" {
		msg.Delivery = DeliverySent
	}
	msg.Provisional = false
	s.appendLocked(ts, &msg)
	if msg.SenderID != s.selfID && !msg.Read {
		ts.thread.UnreadCount++
	}
	s.mu.Unlock()

	s.resolveBufferedReceipt(msg.ID)
	s.bus.Emit("message.upserted", messageRef(&msg))
}

// MarkSendFailed flips a provisional message to failed delivery so the UI
// can offer a local retry. No-op for unknown or already-confirmed ids.
func (s *Store) MarkSendFailed(threadID, provisionalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.threads[threadID]
	if !ok {
		return
	}
	m, ok := ts.byID[provisionalID]
	if !ok || !m.Provisional {
		return
	}
	m.Delivery = DeliveryFailed
	s.bus.Emit("message.send_failed", messageRef(m))
}

// MarkRead marks the given messages read and recomputes the unread count.
// Idempotent: already-read ids contribute nothing, and the count never goes
// negative. Returns the number of newly read messages.
func (s *Store) MarkRead(threadID string, messageIDs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markReadLocked(threadID, messageIDs)
}

func (s *Store) markReadLocked(threadID string, messageIDs []string) int {
	ts, ok := s.threads[threadID]
	if !ok {
		return 0
	}
	newlyInbound := 0
	newly := 0
	now := s.clock.Now()
	for _, id := range messageIDs {
		m, ok := ts.byID[id]
		if !ok || m.Read {
			continue
		}
		m.Read = true
		m.ReadAt = now
		newly++
		if m.SenderID != s.selfID {
			newlyInbound++
		}
	}
	ts.thread.UnreadCount -= newlyInbound
	if ts.thread.UnreadCount < 0 {
		ts.thread.UnreadCount = 0
	}
	return newly
}

// ApplyReadReceipt handles a remote receipt. Receipts referencing a message
// not yet in the store are buffered for the receipt window and dropped with
// a DesyncWarning if the message never shows up.
func (s *Store) ApplyReadReceipt(threadID string, messageIDs []string) {
	for _, id := range messageIDs {
		s.applyOneReceipt(threadID, id)
	}
}

func (s *Store) applyOneReceipt(threadID, messageID string) {
	s.mu.Lock()

	if ts, ok := s.threads[threadID]; ok {
		if _, known := ts.byID[messageID]; known {
			s.markReadLocked(threadID, []string{messageID})
			s.mu.Unlock()
			s.bus.Emit("message.upserted", busRef{ThreadID: threadID, MessageID: messageID})
			return
		}
	}

	if _, buffered := s.receipts[messageID]; buffered {
		s.mu.Unlock()
		return
	}
	id := messageID
	timer := s.clock.AfterFunc(s.receiptWindow, func() { s.expireReceipt(id) })
	s.receipts[messageID] = &pendingReceipt{threadID: threadID, timer: timer}
	s.mu.Unlock()
}

func (s *Store) expireReceipt(messageID string) {
	s.mu.Lock()
	pr, ok := s.receipts[messageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.receipts, messageID)
	s.mu.Unlock()
	s.desync("read receipt for unknown message", pr.threadID, messageID)
}

// resolveBufferedReceipt applies a buffered receipt once its message exists.
func (s *Store) resolveBufferedReceipt(messageID string) {
	s.mu.Lock()
	pr, ok := s.receipts[messageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.receipts, messageID)
	pr.timer.Stop()
	s.markReadLocked(pr.threadID, []string{messageID})
	s.mu.Unlock()
}

// ListThreadsOrdered returns threads by descending last activity, ties
// broken by thread id for determinism.
func (s *Store) ListThreadsOrdered() []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Thread, 0, len(s.threads))
	for _, ts := range s.threads {
		out = append(out, ts.thread)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Messages returns copies of a thread's messages in insertion order.
func (s *Store) Messages(threadID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.threads[threadID]
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(ts.order))
	for _, id := range ts.order {
		out = append(out, *ts.byID[id])
	}
	return out
}

// Thread returns a copy of the thread, reporting whether it exists.
func (s *Store) Thread(threadID string) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.threads[threadID]
	if !ok {
		return Thread{}, false
	}
	return ts.thread, true
}

func (s *Store) removeLocked(ts *threadState, id string, pos int) {
	delete(ts.byID, id)
	delete(ts.index, id)
	ts.order = append(ts.order[:pos], ts.order[pos+1:]...)
	for i := pos; i < len(ts.order); i++ {
		ts.index[ts.order[i]] = i
	}
	if ts.thread.LastMessageID == id {
		if n := len(ts.order); n > 0 {
			ts.thread.LastMessageID = ts.order[n-1]
		} else {
			ts.thread.LastMessageID = ""
		}
	}
}

func (s *Store) appendLocked(ts *threadState, m *Message) {
	ts.index[m.ID] = len(ts.order)
	ts.order = append(ts.order, m.ID)
	ts.byID[m.ID] = m
	ts.thread.LastMessageID = m.ID
	ts.thread.LastActivityAt = s.clock.Now()
}

func (s *Store) desync(reason, threadID, messageID string) {
	warn := &DesyncWarning{Reason: reason, ThreadID: threadID, MessageID: messageID}
	s.logger.Warn("state desync", zap.String("reason", reason),
		zap.String("thread_id", threadID), zap.String("message_id", messageID))
	s.bus.Emit("store.desync", warn)
}

// busRef identifies a message in bus payloads without copying it.
type busRef struct {
	ThreadID  string
	MessageID string
}

func messageRef(m *Message) busRef {
	return busRef{ThreadID: m.ThreadID, MessageID: m.ID}
}

func dedupeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
