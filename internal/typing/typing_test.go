package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/bus"
)

type recordingEmitter struct {
	mu    sync.Mutex
	calls []emitCall
}

type emitCall struct {
	ThreadID string
	IsTyping bool
}

func (r *recordingEmitter) EmitTyping(threadID string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, emitCall{ThreadID: threadID, IsTyping: isTyping})
}

func (r *recordingEmitter) all() []emitCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]emitCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func newTestCoordinator(t *testing.T) (*Coordinator, *recordingEmitter, *bus.Bus, *clock.Mock) {
	t.Helper()
	b := bus.New()
	mock := clock.NewMock()
	em := &recordingEmitter{}
	logger, _ := zap.NewDevelopment()
	c := New(2*time.Second, 3*time.Second, mock, b, em, logger)
	return c, em, b, mock
}

func TestLocalTypingDebounce(t *testing.T) {
	c, em, _, mock := newTestCoordinator(t)

	// Burst of keystrokes within the debounce window emits once.
	c.EmitLocalTyping("t1")
	mock.Add(500 * time.Millisecond)
	c.EmitLocalTyping("t1")
	mock.Add(500 * time.Millisecond)
	c.EmitLocalTyping("t1")

	calls := em.all()
	if len(calls) != 1 {
		t.Fatalf("got %d emissions, want 1 (debounced)", len(calls))
	}
	if !calls[0].IsTyping {
		t.Error("first emission should be started")
	}
}

func TestLocalTypingAutoStop(t *testing.T) {
	c, em, _, mock := newTestCoordinator(t)

	c.EmitLocalTyping("t1")
	mock.Add(2 * time.Second) // inactivity past the debounce window

	calls := em.all()
	if len(calls) != 2 {
		t.Fatalf("got %d emissions, want started+stopped", len(calls))
	}
	if calls[1].IsTyping {
		t.Error("second emission should be stopped")
	}
}

func TestLocalTypingKeepsAliveWhileActive(t *testing.T) {
	c, em, _, mock := newTestCoordinator(t)

	// Keystrokes every second keep pushing the auto-stop out.
	for i := 0; i < 4; i++ {
		c.EmitLocalTyping("t1")
		mock.Add(time.Second)
	}

	var stops int
	for _, call := range em.all() {
		if !call.IsTyping {
			stops++
		}
	}
	if stops != 0 {
		t.Fatalf("got %d stop emissions while still typing, want 0", stops)
	}

	mock.Add(2 * time.Second)
	calls := em.all()
	if last := calls[len(calls)-1]; last.IsTyping {
		t.Error("expected trailing stopped emission after inactivity")
	}
}

func TestStopLocalTypingImmediate(t *testing.T) {
	c, em, _, mock := newTestCoordinator(t)

	c.EmitLocalTyping("t1")
	c.StopLocalTyping("t1")

	calls := em.all()
	if len(calls) != 2 || calls[1].IsTyping {
		t.Fatalf("calls = %+v, want started then stopped", calls)
	}

	// The cancelled auto-stop timer must not fire a duplicate.
	mock.Add(time.Minute)
	if got := len(em.all()); got != 2 {
		t.Errorf("got %d emissions after timer window, want 2", got)
	}
}

func TestStopWithoutTypingEmitsNothing(t *testing.T) {
	c, em, _, _ := newTestCoordinator(t)
	c.StopLocalTyping("t1")
	if got := len(em.all()); got != 0 {
		t.Errorf("got %d emissions, want 0", got)
	}
}

func TestRemoteTypingExpires(t *testing.T) {
	c, _, _, mock := newTestCoordinator(t)

	c.OnRemoteTyping("t1", "u2", true)
	if got := c.TypingUsers("t1"); len(got) != 1 || got[0] != "u2" {
		t.Fatalf("TypingUsers = %v, want [u2]", got)
	}

	mock.Add(3 * time.Second)
	if got := c.TypingUsers("t1"); len(got) != 0 {
		t.Errorf("TypingUsers = %v after expiry, want empty", got)
	}
}

func TestRemoteTypingRefreshExtendsWindow(t *testing.T) {
	c, _, _, mock := newTestCoordinator(t)

	c.OnRemoteTyping("t1", "u2", true)
	mock.Add(2 * time.Second)
	c.OnRemoteTyping("t1", "u2", true) // refresh: window restarts, does not stack

	mock.Add(2 * time.Second) // 4s since first signal, 2s since refresh
	if got := c.TypingUsers("t1"); len(got) != 1 {
		t.Fatalf("TypingUsers = %v, want still typing after refresh", got)
	}

	mock.Add(time.Second + time.Millisecond)
	if got := c.TypingUsers("t1"); len(got) != 0 {
		t.Errorf("TypingUsers = %v, want cleared", got)
	}
}

func TestRemoteStoppedWinsImmediately(t *testing.T) {
	c, _, b, mock := newTestCoordinator(t)
	ch, unsub := b.Subscribe("typing.changed", 8)
	defer unsub()

	c.OnRemoteTyping("t1", "u2", true)
	c.OnRemoteTyping("t1", "u2", false)

	if got := c.TypingUsers("t1"); len(got) != 0 {
		t.Fatalf("TypingUsers = %v, want cleared by stopped", got)
	}

	// Drain the two change events; the stale expiry must not produce a third.
	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timeout draining change events")
		}
	}
	mock.Add(time.Minute)
	select {
	case evt := <-ch:
		t.Errorf("unexpected change after stopped: %+v", evt.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTypingIsPerThreadAndUser(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)

	c.OnRemoteTyping("t1", "u2", true)
	c.OnRemoteTyping("t1", "u3", true)
	c.OnRemoteTyping("t2", "u2", true)

	if got := c.TypingUsers("t1"); len(got) != 2 {
		t.Errorf("TypingUsers(t1) = %v, want 2 users", got)
	}
	c.OnRemoteTyping("t1", "u2", false)
	if got := c.TypingUsers("t1"); len(got) != 1 || got[0] != "u3" {
		t.Errorf("TypingUsers(t1) = %v, want [u3]", got)
	}
	if got := c.TypingUsers("t2"); len(got) != 1 {
		t.Errorf("TypingUsers(t2) = %v, want [u2]", got)
	}
}

func TestPresenceReplacedWholesale(t *testing.T) {
	c, _, b, _ := newTestCoordinator(t)
	ch, unsub := b.Subscribe("presence.", 4)
	defer unsub()

	c.SetPresence([]string{"u2", "u3"})
	if !c.IsOnline("u2") || !c.IsOnline("u3") {
		t.Error("expected u2 and u3 online")
	}

	c.SetPresence([]string{"u4"})
	if c.IsOnline("u2") {
		t.Error("u2 should be offline after replacement")
	}
	if got := c.Online(); len(got) != 1 || got[0] != "u4" {
		t.Errorf("Online() = %v, want [u4]", got)
	}

	select {
	case evt := <-ch:
		if _, ok := evt.Payload.(PresenceChange); !ok {
			t.Errorf("payload type = %T", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for presence event")
	}
}
