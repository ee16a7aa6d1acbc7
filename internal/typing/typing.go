// Package typing coordinates the ephemeral typing indicator and presence
// state. Typing signals are live timers, not stored entities: one debounce
// timer per thread for the local user, one expiry timer per (thread, user)
// for remote peers.
package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/bus"
)

// Emitter sends outbound typing signals. Satisfied by the connection
// manager's command surface.
type Emitter interface {
	EmitTyping(threadID string, isTyping bool)
}

// Change is the payload for "typing.changed" events.
type Change struct {
	ThreadID string
	UserID   string
	Typing   bool
}

// PresenceChange is the payload for "presence.changed" events.
type PresenceChange struct {
	Online []string
}

type remoteKey struct {
	threadID string
	userID   string
}

// Coordinator owns typing debounce, remote typing expiry, and the presence set.
type Coordinator struct {
	debounce time.Duration
	expiry   time.Duration

	clock   clock.Clock
	bus     *bus.Bus
	emitter Emitter
	logger  *zap.Logger

	mu         sync.Mutex
	lastSent   map[string]time.Time    // threadID -> last local "started" emission
	stopTimers map[string]*clock.Timer // threadID -> local auto-stop timer
	remote     map[remoteKey]*clock.Timer
	online     map[string]struct{}
}

// New creates a coordinator. debounce suppresses repeat local emissions and
// schedules the auto-stop; expiry clears a remote peer's flag when no
// refresh arrives.
func New(debounce, expiry time.Duration, clk clock.Clock, b *bus.Bus, e Emitter, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		debounce:   debounce,
		expiry:     expiry,
		clock:      clk,
		bus:        b,
		emitter:    e,
		logger:     logger,
		lastSent:   make(map[string]time.Time),
		stopTimers: make(map[string]*clock.Timer),
		remote:     make(map[remoteKey]*clock.Timer),
		online:     make(map[string]struct{}),
	}
}

// EmitLocalTyping is called on every local keystroke. Emission is debounced:
// at most one "started" signal per debounce interval per thread, and an
// automatic "stopped" follows after the same interval of inactivity.
func (c *Coordinator) EmitLocalTyping(threadID string) {
	c.mu.Lock()
	now := c.clock.Now()
	last, sent := c.lastSent[threadID]
	shouldEmit := !sent || now.Sub(last) >= c.debounce
	if shouldEmit {
		c.lastSent[threadID] = now
	}
	c.rescheduleStopLocked(threadID)
	c.mu.Unlock()

	if shouldEmit {
		c.emitter.EmitTyping(threadID, true)
	}
}

// StopLocalTyping emits an immediate "stopped" signal, cancelling the
// pending auto-stop. Called when the user sends the message or leaves the
// thread.
func (c *Coordinator) StopLocalTyping(threadID string) {
	c.mu.Lock()
	if t, ok := c.stopTimers[threadID]; ok {
		t.Stop()
		delete(c.stopTimers, threadID)
	}
	_, wasTyping := c.lastSent[threadID]
	delete(c.lastSent, threadID)
	c.mu.Unlock()

	if wasTyping {
		c.emitter.EmitTyping(threadID, false)
	}
}

func (c *Coordinator) rescheduleStopLocked(threadID string) {
	if t, ok := c.stopTimers[threadID]; ok {
		t.Stop()
	}
	id := threadID
	c.stopTimers[threadID] = c.clock.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		delete(c.stopTimers, id)
		_, wasTyping := c.lastSent[id]
		delete(c.lastSent, id)
		c.mu.Unlock()
		if wasTyping {
			c.emitter.EmitTyping(id, false)
		}
	})
}

// OnRemoteTyping applies an inbound typing signal. A "started" sets or
// extends the per-(thread,user) expiry; a "stopped" always clears
// immediately, winning over any stale "started".
func (c *Coordinator) OnRemoteTyping(threadID, userID string, isTyping bool) {
	key := remoteKey{threadID: threadID, userID: userID}

	c.mu.Lock()
	if t, ok := c.remote[key]; ok {
		t.Stop()
		delete(c.remote, key)
	}
	if !isTyping {
		c.mu.Unlock()
		c.bus.Emit("typing.changed", Change{ThreadID: threadID, UserID: userID, Typing: false})
		return
	}
	c.remote[key] = c.clock.AfterFunc(c.expiry, func() {
		c.mu.Lock()
		delete(c.remote, key)
		c.mu.Unlock()
		c.bus.Emit("typing.changed", Change{ThreadID: threadID, UserID: userID, Typing: false})
	})
	c.mu.Unlock()

	c.bus.Emit("typing.changed", Change{ThreadID: threadID, UserID: userID, Typing: true})
}

// TypingUsers returns the users currently flagged as typing in a thread,
// sorted for determinism.
func (c *Coordinator) TypingUsers(threadID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for key := range c.remote {
		if key.threadID == threadID {
			out = append(out, key.userID)
		}
	}
	sort.Strings(out)
	return out
}

// SetPresence replaces the online set wholesale from a presence push.
func (c *Coordinator) SetPresence(online []string) {
	c.mu.Lock()
	c.online = make(map[string]struct{}, len(online))
	for _, id := range online {
		c.online[id] = struct{}{}
	}
	c.mu.Unlock()

	snapshot := append([]string(nil), online...)
	sort.Strings(snapshot)
	c.bus.Emit("presence.changed", PresenceChange{Online: snapshot})
}

// IsOnline reports presence for a single user.
func (c *Coordinator) IsOnline(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.online[userID]
	return ok
}

// Online returns the sorted online user ids.
func (c *Coordinator) Online() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.online))
	for id := range c.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
