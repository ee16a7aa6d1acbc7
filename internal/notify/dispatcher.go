// Package notify maps coordinator events to user-facing notices. At most
// one notice is produced per logical occurrence: repeats are deduplicated
// by (kind, source, time bucket) so reconnection replay does not double-
// toast, and chatty warning kinds are paced through a rate limiter.
// Typing events are never surfaced here.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/bus"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/call"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/conn"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/event"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/store"
)

// Level is the visual severity of a notice.
type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

// Notice is one user-facing toast or banner.
type Notice struct {
	Level    Level
	Kind     string
	SourceID string
	Body     string
	At       time.Time
}

type dedupKey struct {
	kind   string
	source string
	bucket int64
}

// Dispatcher consumes bus events and emits notices on a bounded channel.
type Dispatcher struct {
	bus     *bus.Bus
	clock   clock.Clock
	logger  *zap.Logger
	bucket  time.Duration
	limiter ratelimit.Limiter

	mu     sync.Mutex
	seen   map[dedupKey]struct{}
	cancel context.CancelFunc

	notices chan Notice
}

// New creates a dispatcher. bucket is the dedup window for repeatable
// notices; warnRate caps warning notices per second.
func New(b *bus.Bus, clk clock.Clock, bucket time.Duration, warnRate int, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		bus:     b,
		clock:   clk,
		logger:  logger,
		bucket:  bucket,
		limiter: ratelimit.New(warnRate, ratelimit.WithClock(clk), ratelimit.WithoutSlack),
		seen:    make(map[dedupKey]struct{}),
		notices: make(chan Notice, 64),
	}
}

// Notices is the stream the UI renders. Full-buffer notices are dropped.
func (d *Dispatcher) Notices() <-chan Notice { return d.notices }

// Start subscribes to the event namespaces the dispatcher surfaces.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	ch, unsub := d.bus.Subscribe("", 256) // all namespaces; filtering is per-kind below

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				d.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the dispatch loop.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) handle(evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case event.FriendRequest:
		d.emitDeduped(Notice{
			Level:    Info,
			Kind:     "friend_request",
			SourceID: payload.FromUserID,
			Body:     fmt.Sprintf("%s sent you a friend request", payload.FromName),
		})
	case event.FriendEvent:
		if payload.Type == "accepted" {
			d.emitDeduped(Notice{
				Level:    Success,
				Kind:     "friend_accepted",
				SourceID: payload.UserID,
				Body:     "Friend request accepted",
			})
		}
	case event.IncomingCall:
		d.emitDeduped(Notice{
			Level:    Info,
			Kind:     "incoming_call",
			SourceID: payload.CallID,
			Body:     "Incoming call",
		})
	case *conn.ConnectionLostError:
		d.emit(Notice{
			Level: Error,
			Kind:  "offline",
			Body:  "Connection lost. Messages will be queued until you are back online.",
		})
	case *conn.BackpressureWarning:
		d.limiter.Take()
		d.emit(Notice{
			Level: Warning,
			Kind:  "backpressure",
			Body:  "Too many pending actions while offline; the oldest was dropped.",
		})
	case *store.DesyncWarning:
		d.limiter.Take()
		d.emit(Notice{
			Level:    Warning,
			Kind:     "desync",
			SourceID: payload.MessageID,
			Body:     "Conversation state is catching up.",
		})
	case call.FailureNotice:
		d.emit(Notice{
			Level:    Error,
			Kind:     "call_failed",
			SourceID: payload.CallID,
			Body:     fmt.Sprintf("Call failed: %v", payload.Err),
		})
	}
	// Everything else (typing, presence churn, message upserts, state
	// changes) is state, not a notice.
}

func (d *Dispatcher) emitDeduped(n Notice) {
	now := d.clock.Now()
	key := dedupKey{
		kind:   n.Kind,
		source: n.SourceID,
		bucket: now.Truncate(d.bucket).UnixNano(),
	}
	d.mu.Lock()
	if _, dup := d.seen[key]; dup {
		d.mu.Unlock()
		return
	}
	d.seen[key] = struct{}{}
	d.mu.Unlock()
	d.emit(n)
}

func (d *Dispatcher) emit(n Notice) {
	n.At = d.clock.Now()
	select {
	case d.notices <- n:
	default:
		d.logger.Warn("notice buffer full, dropping", zap.String("kind", n.Kind))
	}
}
