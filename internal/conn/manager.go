// Package conn owns the lifecycle of the single realtime connection:
// connect, authenticate, reconnect with backoff, disconnect. All other
// components reach the transport only through the manager's Send and the
// "remote.*" events it republishes on the bus.
package conn

import (
	"context"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/bus"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/transport"
)

// Command is an outbound realtime event. ProvisionalID, when set, is the
// dedup key that keeps reconnection replay from double-sending an
// optimistic message.
type Command struct {
	Event         string
	Payload       any
	ProvisionalID string
}

// Config tunes reconnection and queueing behavior.
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	QueueCapacity int
}

// Manager owns the realtime socket lifecycle and the bounded outbound queue.
type Manager struct {
	cfg    Config
	tr     transport.Transport
	bus    *bus.Bus
	clock  clock.Clock
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	attempt    int
	lastErr    error
	credential string
	queue      []Command
	queuedProv map[string]bool
	retryTimer *clock.Timer
	retry      *backoff.ExponentialBackOff
	forwarding bool
	cancel     context.CancelFunc
}

// NewManager creates a connection manager in the Disconnected state.
func NewManager(cfg Config, tr transport.Transport, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *Manager {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = cfg.BaseDelay
	retry.MaxInterval = cfg.MaxDelay
	retry.MaxElapsedTime = 0 // bounded by attempt count, not wall time
	retry.Clock = clk

	return &Manager{
		cfg:        cfg,
		tr:         tr,
		bus:        b,
		clock:      clk,
		logger:     logger,
		state:      Disconnected,
		queuedProv: make(map[string]bool),
		retry:      retry,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent connection error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// QueueLen reports how many outbound commands are waiting for reconnection.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Connect opens the realtime channel. Idempotent: a no-op when already
// connected or connecting. On failure the manager moves to Reconnecting
// and schedules retries on its own.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.state == Connected || m.state == Connecting {
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	m.credential = credential
	m.attempt = 0
	m.retry.Reset()
	m.transitionLocked(Connecting)
	m.startForwardingLocked()
	m.mu.Unlock()

	return m.dial(ctx)
}

// Disconnect closes the channel and cancels any pending reconnect. Always
// succeeds and is safe to call multiple times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopRetryLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
		m.forwarding = false
	}
	if m.state != Disconnected {
		m.transitionLocked(Disconnected)
	}
	m.mu.Unlock()
	_ = m.tr.Close()
}

// Send delivers a command immediately when connected, otherwise queues it
// for the flush that follows reconnection. Queue overflow drops the oldest
// entry and raises a BackpressureWarning.
func (m *Manager) Send(cmd Command) {
	m.mu.Lock()
	if m.state != Connected {
		m.enqueueLocked(cmd)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.tr.Send(cmd.Event, cmd.Payload); err != nil {
		m.logger.Warn("send failed, queueing for replay", zap.String("event", cmd.Event), zap.Error(err))
		m.mu.Lock()
		m.enqueueLocked(cmd)
		m.mu.Unlock()
		m.handleDrop(err)
	}
}

func (m *Manager) dial(ctx context.Context) error {
	err := m.tr.Dial(ctx, m.credential)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connecting && m.state != Reconnecting {
		// Disconnect raced the dial; leave whatever state it set.
		return nil
	}
	if err != nil {
		m.lastErr = err
		m.logger.Warn("connect failed", zap.Error(err), zap.Int("attempt", m.attempt))
		if m.state == Connecting {
			m.transitionLocked(Reconnecting)
		}
		m.scheduleRetryLocked(ctx)
		return err
	}

	m.transitionLocked(Connected)
	m.attempt = 0
	m.lastErr = nil
	m.retry.Reset()
	m.flushQueueLocked()
	return nil
}

func (m *Manager) scheduleRetryLocked(ctx context.Context) {
	m.attempt++
	if m.attempt > m.cfg.MaxAttempts {
		lost := &ConnectionLostError{Attempts: m.attempt - 1, LastErr: m.lastErr}
		m.logger.Error("reconnect attempts exhausted", zap.Error(lost))
		m.transitionLocked(Disconnected)
		m.bus.Emit("conn.lost", lost)
		return
	}

	delay := m.retry.NextBackOff()
	m.logger.Info("scheduling reconnect",
		zap.Int("attempt", m.attempt),
		zap.Duration("delay", delay))
	m.retryTimer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.state != Reconnecting {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		_ = m.dial(ctx)
	})
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) enqueueLocked(cmd Command) {
	if cmd.ProvisionalID != "" && m.queuedProv[cmd.ProvisionalID] {
		return
	}
	if len(m.queue) >= m.cfg.QueueCapacity {
		dropped := m.queue[0]
		m.queue = m.queue[1:]
		if dropped.ProvisionalID != "" {
			delete(m.queuedProv, dropped.ProvisionalID)
		}
		warn := &BackpressureWarning{Dropped: dropped}
		m.logger.Warn("outbound queue overflow", zap.String("dropped_event", dropped.Event))
		m.bus.Emit("conn.backpressure", warn)
	}
	m.queue = append(m.queue, cmd)
	if cmd.ProvisionalID != "" {
		m.queuedProv[cmd.ProvisionalID] = true
	}
}

// flushQueueLocked replays queued commands in original order exactly once.
// On a send failure the unflushed remainder (including the failed command)
// stays queued for the next reconnect.
func (m *Manager) flushQueueLocked() {
	for len(m.queue) > 0 {
		cmd := m.queue[0]
		if err := m.tr.Send(cmd.Event, cmd.Payload); err != nil {
			m.logger.Warn("flush interrupted", zap.String("event", cmd.Event), zap.Error(err))
			return
		}
		m.queue = m.queue[1:]
		if cmd.ProvisionalID != "" {
			delete(m.queuedProv, cmd.ProvisionalID)
		}
	}
	m.queue = nil
	m.bus.Emit("conn.flushed", nil)
}

// handleDrop reacts to a read- or write-side transport failure while connected.
func (m *Manager) handleDrop(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return
	}
	m.lastErr = err
	m.logger.Warn("connection dropped", zap.Error(err))
	_ = m.tr.Close()
	m.transitionLocked(Reconnecting)
	m.scheduleRetryLocked(context.Background())
}

// startForwardingLocked runs the single goroutine that republishes decoded
// transport events onto the bus under the "remote." namespace and turns
// transport read errors into reconnects. Survives redials because the
// transport channels persist.
func (m *Manager) startForwardingLocked() {
	if m.forwarding {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.forwarding = true

	go func() {
		for {
			select {
			case evt := <-m.tr.Events():
				m.bus.Emit("remote."+string(evt.Kind()), evt)
			case err := <-m.tr.Errors():
				m.handleDrop(err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) transitionLocked(to State) {
	allowed := validTransitions[m.state]
	ok := false
	for _, s := range allowed {
		if s == to {
			ok = true
			break
		}
	}
	if !ok {
		m.logger.Error("invalid connection transition",
			zap.String("from", string(m.state)),
			zap.String("to", string(to)))
		return
	}
	from := m.state
	m.state = to
	m.bus.Emit("conn.status_changed", StatusChange{From: from, To: to})
}
