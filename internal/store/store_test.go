package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/bus"
)

const self = "u-self"

func newTestStore(t *testing.T) (*Store, *bus.Bus, *clock.Mock) {
	t.Helper()
	b := bus.New()
	mock := clock.NewMock()
	logger, _ := zap.NewDevelopment()
	return New(self, 5*time.Second, mock, b, logger), b, mock
}

func remoteMsg(id, threadID, sender, text string) Message {
	return Message{ID: id, ThreadID: threadID, SenderID: sender, Text: text}
}

func TestOptimisticSendOrderSurvivesConfirmation(t *testing.T) {
	s, _, _ := newTestStore(t)

	first := s.ApplyOptimisticSend("t1", "one", "")
	second := s.ApplyOptimisticSend("t1", "two", "")
	third := s.ApplyOptimisticSend("t1", "three", "")

	// Confirmations arrive out of order.
	s.ReconcileConfirmedMessage(third.ID, remoteMsg("m-3", "t1", self, "three"))
	s.ReconcileConfirmedMessage(first.ID, remoteMsg("m-1", "t1", self, "one"))
	s.ReconcileConfirmedMessage(second.ID, remoteMsg("m-2", "t1", self, "two"))

	msgs := s.Messages("t1")
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Text != want {
			t.Errorf("msgs[%d].Text = %q, want %q (send order preserved)", i, msgs[i].Text, want)
		}
		if msgs[i].Provisional {
			t.Errorf("msgs[%d] still provisional after confirmation", i)
		}
		if msgs[i].Delivery != DeliverySent {
			t.Errorf("msgs[%d].Delivery = %q, want sent", i, msgs[i].Delivery)
		}
	}
}

func TestIngestRemoteMessageIdempotent(t *testing.T) {
	s, _, _ := newTestStore(t)

	m := remoteMsg("m-100", "t1", "u-b", "hi")
	for i := 0; i < 3; i++ {
		s.IngestRemoteMessage(m)
	}

	msgs := s.Messages("t1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want exactly 1", len(msgs))
	}
	if msgs[0].Text != "hi" {
		t.Errorf("Text = %q, want hi", msgs[0].Text)
	}
	th, _ := s.Thread("t1")
	if th.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1 (duplicates must not inflate)", th.UnreadCount)
	}
}

func TestConfirmationReplayedAsRemotePush(t *testing.T) {
	// End-to-end scenario: user A's "hi" (provisional p1) is confirmed as
	// m-100; user B's client replays m-100 twice after a reconnect.
	s, _, _ := newTestStore(t)

	p := s.ApplyOptimisticSend("t1", "hi", "")
	s.ReconcileConfirmedMessage(p.ID, remoteMsg("m-100", "t1", self, "hi"))
	s.IngestRemoteMessage(remoteMsg("m-100", "t1", self, "hi"))
	s.IngestRemoteMessage(remoteMsg("m-100", "t1", self, "hi"))

	msgs := s.Messages("t1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want exactly 1", len(msgs))
	}
	if msgs[0].ID != "m-100" || msgs[0].Text != "hi" {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestReconcileUnknownProvisionalFallsBackToIngest(t *testing.T) {
	s, _, _ := newTestStore(t)

	s.ReconcileConfirmedMessage("p-unknown", remoteMsg("m-1", "t1", "u-b", "hello"))

	msgs := s.Messages("t1")
	if len(msgs) != 1 || msgs[0].ID != "m-1" {
		t.Fatalf("messages = %+v, want single m-1", msgs)
	}
}

func TestReconcileThreadMismatchIsDesync(t *testing.T) {
	s, b, _ := newTestStore(t)
	ch, unsub := b.Subscribe("store.desync", 4)
	defer unsub()

	p := s.ApplyOptimisticSend("t1", "hi", "")
	s.ReconcileConfirmedMessage(p.ID, remoteMsg("m-1", "t-other", self, "hi"))

	// Original provisional entry is untouched.
	msgs := s.Messages("t1")
	if len(msgs) != 1 || !msgs[0].Provisional {
		t.Fatalf("messages = %+v, want untouched provisional", msgs)
	}

	select {
	case evt := <-ch:
		warn, ok := evt.Payload.(*DesyncWarning)
		if !ok {
			t.Fatalf("payload type = %T, want *DesyncWarning", evt.Payload)
		}
		if warn.ThreadID != "t-other" {
			t.Errorf("warn = %+v", warn)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for desync warning")
	}
}

func TestReconcileWhenConfirmedIDAlreadyIngested(t *testing.T) {
	s, _, _ := newTestStore(t)

	p := s.ApplyOptimisticSend("t1", "hi", "")
	// Server push beats the send confirmation.
	s.IngestRemoteMessage(remoteMsg("m-100", "t1", self, "hi"))
	s.ReconcileConfirmedMessage(p.ID, remoteMsg("m-100", "t1", self, "hi"))

	msgs := s.Messages("t1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (no duplicate m-100)", len(msgs))
	}
	if msgs[0].ID != "m-100" {
		t.Errorf("ID = %q, want m-100", msgs[0].ID)
	}
}

func TestUnreadCountInvariant(t *testing.T) {
	s, _, _ := newTestStore(t)

	s.IngestRemoteMessage(remoteMsg("m-1", "t1", "u-b", "a"))
	s.IngestRemoteMessage(remoteMsg("m-2", "t1", "u-b", "b"))
	s.IngestRemoteMessage(remoteMsg("m-3", "t1", self, "mine"))
	s.ApplyOptimisticSend("t1", "own", "")

	check := func() {
		t.Helper()
		th, _ := s.Thread("t1")
		want := 0
		for _, m := range s.Messages("t1") {
			if m.SenderID != self && !m.Read {
				want++
			}
		}
		if th.UnreadCount != want {
			t.Errorf("UnreadCount = %d, want %d (invariant)", th.UnreadCount, want)
		}
	}

	check()
	s.MarkRead("t1", []string{"m-1"})
	check()
	s.MarkRead("t1", []string{"m-1"}) // idempotent
	check()
	s.MarkRead("t1", []string{"m-2", "m-3"})
	check()
	// Clamped: re-marking everything cannot go negative.
	s.MarkRead("t1", []string{"m-1", "m-2", "m-3"})
	th, _ := s.Thread("t1")
	if th.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", th.UnreadCount)
	}
}

func TestMarkReadStampsReadAt(t *testing.T) {
	s, _, mock := newTestStore(t)

	s.IngestRemoteMessage(remoteMsg("m-1", "t1", "u-b", "a"))
	mock.Add(time.Minute)
	if n := s.MarkRead("t1", []string{"m-1"}); n != 1 {
		t.Fatalf("MarkRead() = %d, want 1", n)
	}

	m := s.Messages("t1")[0]
	if !m.Read || !m.ReadAt.Equal(mock.Now()) {
		t.Errorf("message = %+v, want read at %v", m, mock.Now())
	}
	if n := s.MarkRead("t1", []string{"m-1"}); n != 0 {
		t.Errorf("second MarkRead() = %d, want 0", n)
	}
}

func TestListThreadsOrdered(t *testing.T) {
	s, _, mock := newTestStore(t)

	s.IngestRemoteMessage(remoteMsg("m-1", "t-b", "u-x", "old"))
	mock.Add(time.Second)
	s.IngestRemoteMessage(remoteMsg("m-2", "t-a", "u-x", "new"))
	// Tie between t-c and t-d: both created at the same instant.
	mock.Add(time.Second)
	s.IngestRemoteMessage(remoteMsg("m-3", "t-d", "u-x", "tie"))
	s.IngestRemoteMessage(remoteMsg("m-4", "t-c", "u-x", "tie"))

	got := s.ListThreadsOrdered()
	var ids []string
	for _, th := range got {
		ids = append(ids, th.ID)
	}
	want := []string{"t-c", "t-d", "t-a", "t-b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestReadReceiptBuffering(t *testing.T) {
	s, _, mock := newTestStore(t)

	// Receipt arrives before its message.
	s.ApplyReadReceipt("t1", []string{"m-9"})

	// Message arrives within the window; the buffered receipt applies.
	mock.Add(2 * time.Second)
	s.IngestRemoteMessage(remoteMsg("m-9", "t1", self, "sent by us"))

	m := s.Messages("t1")[0]
	if !m.Read {
		t.Error("buffered receipt not applied on message arrival")
	}

	// The expiry timer must not fire a desync afterwards.
	mock.Add(time.Minute)
}

func TestReadReceiptExpiryRaisesDesync(t *testing.T) {
	s, b, mock := newTestStore(t)
	ch, unsub := b.Subscribe("store.desync", 4)
	defer unsub()

	s.ApplyReadReceipt("t1", []string{"m-ghost"})
	mock.Add(6 * time.Second) // past the 5s window

	select {
	case evt := <-ch:
		warn := evt.Payload.(*DesyncWarning)
		if warn.MessageID != "m-ghost" {
			t.Errorf("warn = %+v", warn)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for desync warning")
	}
}

func TestMarkSendFailed(t *testing.T) {
	s, b, _ := newTestStore(t)
	ch, unsub := b.Subscribe("message.send_failed", 4)
	defer unsub()

	p := s.ApplyOptimisticSend("t1", "doomed", "")
	s.MarkSendFailed("t1", p.ID)

	m := s.Messages("t1")[0]
	if m.Delivery != DeliveryFailed {
		t.Errorf("Delivery = %q, want failed", m.Delivery)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	// Confirmed messages are not failable.
	s.ReconcileConfirmedMessage(p.ID, remoteMsg("m-1", "t1", self, "doomed"))
	s.MarkSendFailed("t1", "m-1")
	if got := s.Messages("t1")[0].Delivery; got != DeliverySent {
		t.Errorf("Delivery = %q, want sent", got)
	}
}

func TestManyThreadsStayIndependent(t *testing.T) {
	s, _, _ := newTestStore(t)

	for i := 0; i < 10; i++ {
		tid := fmt.Sprintf("t-%d", i)
		s.IngestRemoteMessage(remoteMsg(fmt.Sprintf("m-%d", i), tid, "u-b", "x"))
	}
	if got := len(s.ListThreadsOrdered()); got != 10 {
		t.Fatalf("threads = %d, want 10", got)
	}
	for i := 0; i < 10; i++ {
		tid := fmt.Sprintf("t-%d", i)
		if got := len(s.Messages(tid)); got != 1 {
			t.Errorf("thread %s has %d messages, want 1", tid, got)
		}
	}
}
