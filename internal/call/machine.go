// Package call implements the signaling state machine for voice and video
// calls. It mediates between local user intent, remote signaling events,
// and the external media transport; at most one session is active per
// client, matching single-device expectations.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/bus"
)

// MediaKind selects the media stream type.
type MediaKind string

const (
	Audio MediaKind = "audio"
	Video MediaKind = "video"
)

// Direction is the call's direction relative to the local user.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// Session is the state of one call.
type Session struct {
	CallID    string
	PeerID    string
	Direction Direction
	MediaKind MediaKind
	State     State
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is the finalized elapsed time, zero until the call connected.
func (s Session) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// JoinCredentials are the per-party media transport join parameters
// returned by the call control API.
type JoinCredentials struct {
	Channel   string `json:"channel"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// MediaTransport is the external audio/video SDK boundary. Join failures
// move the machine to Failed; media events (remote published, peer left)
// are delivered back through the machine's handlers.
type MediaTransport interface {
	Join(ctx context.Context, creds JoinCredentials, kind MediaKind) error
	Leave(ctx context.Context) error
}

// Signaler emits call signals over the realtime connection.
type Signaler interface {
	EmitSignal(name string, payload any)
}

// ConcurrentCallError rejects call creation while a session is active and
// not yet terminal. Rejected synchronously with no state mutation.
type ConcurrentCallError struct {
	ActiveCallID string
}

func (e *ConcurrentCallError) Error() string {
	return fmt.Sprintf("call %s already active", e.ActiveCallID)
}

// FailureNotice is the payload for "call.failed" events.
type FailureNotice struct {
	CallID string
	Err    error
}

// Machine is the call signaling state machine.
type Machine struct {
	ringTimeout time.Duration

	clock  clock.Clock
	bus    *bus.Bus
	signal Signaler
	media  MediaTransport
	logger *zap.Logger

	mu        sync.Mutex
	session   *Session
	ringTimer *clock.Timer
}

// NewMachine creates a machine in the idle state.
func NewMachine(ringTimeout time.Duration, clk clock.Clock, b *bus.Bus, sig Signaler, media MediaTransport, logger *zap.Logger) *Machine {
	return &Machine{
		ringTimeout: ringTimeout,
		clock:       clk,
		bus:         b,
		signal:      sig,
		media:       media,
		logger:      logger,
	}
}

// Current returns a copy of the active or most recent session. The second
// return is false when no call has happened yet.
func (m *Machine) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Busy reports whether a session is active and not yet terminal.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busyLocked()
}

// busyLocked reports whether call creation must be rejected: the session is
// non-terminal, or it failed and the failure has not been acknowledged yet
// (Ack clears the session and returns the machine to idle).
func (m *Machine) busyLocked() bool {
	return m.session != nil && m.session.State != Ended
}

// Initiate starts an outgoing call. Fails synchronously with
// ConcurrentCallError while another session is active.
func (m *Machine) Initiate(peerID string, kind MediaKind) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.busyLocked() {
		return Session{}, &ConcurrentCallError{ActiveCallID: m.session.CallID}
	}

	m.session = &Session{
		CallID:    uuid.NewString(),
		PeerID:    peerID,
		Direction: Outgoing,
		MediaKind: kind,
		State:     Idle,
	}
	m.transitionLocked(OutgoingRinging)
	m.startRingTimerLocked()
	m.signal.EmitSignal("call_initiate", map[string]any{
		"callId":   m.session.CallID,
		"calleeId": peerID,
		"isVideo":  kind == Video,
	})
	return *m.session, nil
}

// HandleIncoming applies a remote incoming-call event. While busy the call
// is auto-rejected on the wire and ConcurrentCallError returned.
func (m *Machine) HandleIncoming(callID, callerID string, kind MediaKind) error {
	m.mu.Lock()

	if m.busyLocked() {
		active := m.session.CallID
		m.mu.Unlock()
		m.signal.EmitSignal("call_reject", map[string]any{"callId": callID})
		return &ConcurrentCallError{ActiveCallID: active}
	}

	m.session = &Session{
		CallID:    callID,
		PeerID:    callerID,
		Direction: Incoming,
		MediaKind: kind,
		State:     Idle,
	}
	m.transitionLocked(IncomingRinging)
	m.startRingTimerLocked()
	m.mu.Unlock()
	return nil
}

// Accept answers the ringing incoming call and joins the media transport
// with the supplied credentials. A join failure fails the session.
func (m *Machine) Accept(ctx context.Context, creds JoinCredentials) error {
	m.mu.Lock()
	if m.session == nil || m.session.State != IncomingRinging {
		state := Idle
		if m.session != nil {
			state = m.session.State
		}
		m.mu.Unlock()
		return fmt.Errorf("accept in state %s", state)
	}
	m.stopRingTimerLocked()
	m.transitionLocked(Connecting)
	callID := m.session.CallID
	kind := m.session.MediaKind
	m.mu.Unlock()

	m.signal.EmitSignal("call_answer", map[string]any{"callId": callID})

	if err := m.media.Join(ctx, creds, kind); err != nil {
		m.Fail(fmt.Errorf("media join: %w", err))
		return err
	}
	return nil
}

// Reject declines the ringing incoming call.
func (m *Machine) Reject() error {
	m.mu.Lock()
	if m.session == nil || m.session.State != IncomingRinging {
		state := Idle
		if m.session != nil {
			state = m.session.State
		}
		m.mu.Unlock()
		return fmt.Errorf("reject in state %s", state)
	}
	m.stopRingTimerLocked()
	m.transitionLocked(Ended)
	callID := m.session.CallID
	m.mu.Unlock()

	m.signal.EmitSignal("call_reject", map[string]any{"callId": callID})
	return nil
}

// End hangs up the connected call and leaves the media transport.
func (m *Machine) End(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil || terminal(m.session.State) {
		m.mu.Unlock()
		return nil
	}
	m.stopRingTimerLocked()
	wasConnected := m.session.State == Connected
	m.endLocked()
	callID := m.session.CallID
	m.mu.Unlock()

	m.signal.EmitSignal("call_end", map[string]any{"callId": callID})
	if wasConnected {
		if err := m.media.Leave(ctx); err != nil {
			m.logger.Warn("media leave failed", zap.Error(err))
		}
	}
	return nil
}

// HandleAnswered applies the remote answer on the caller side.
func (m *Machine) HandleAnswered(callID string) {
	m.connectIfRinging(callID)
}

// HandleMediaPublished applies the transport's "remote media published"
// event, completing the handshake for whichever side is still connecting.
func (m *Machine) HandleMediaPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	if m.session.State != OutgoingRinging && m.session.State != Connecting {
		return
	}
	m.stopRingTimerLocked()
	m.transitionLocked(Connected)
	m.session.StartedAt = m.clock.Now()
}

func (m *Machine) connectIfRinging(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.CallID != callID {
		return
	}
	if m.session.State != OutgoingRinging && m.session.State != Connecting {
		return
	}
	m.stopRingTimerLocked()
	m.transitionLocked(Connected)
	m.session.StartedAt = m.clock.Now()
}

// HandleRejected applies a remote rejection on the caller side. Events for
// unknown or already-terminal sessions are ignored.
func (m *Machine) HandleRejected(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.CallID != callID || terminal(m.session.State) {
		return
	}
	if m.session.State != OutgoingRinging {
		return
	}
	m.stopRingTimerLocked()
	m.endLocked()
}

// HandleEnded applies a remote hang-up or server teardown. A late event for
// a session already ended locally is a no-op.
func (m *Machine) HandleEnded(ctx context.Context, callID string) {
	m.mu.Lock()
	if m.session == nil || m.session.CallID != callID || terminal(m.session.State) {
		m.mu.Unlock()
		return
	}
	m.stopRingTimerLocked()
	wasConnected := m.session.State == Connected
	m.endLocked()
	m.mu.Unlock()

	if wasConnected {
		if err := m.media.Leave(ctx); err != nil {
			m.logger.Warn("media leave failed", zap.Error(err))
		}
	}
}

// HandlePeerLeft applies the transport's peer-departure event.
func (m *Machine) HandlePeerLeft(ctx context.Context) {
	m.mu.Lock()
	if m.session == nil || m.session.State != Connected {
		m.mu.Unlock()
		return
	}
	m.stopRingTimerLocked()
	m.endLocked()
	m.mu.Unlock()

	if err := m.media.Leave(ctx); err != nil {
		m.logger.Warn("media leave failed", zap.Error(err))
	}
}

// Fail moves any non-terminal session to Failed and surfaces the error.
// The session stays in Failed until Ack returns it to idle.
func (m *Machine) Fail(err error) {
	m.mu.Lock()
	if m.session == nil || terminal(m.session.State) {
		m.mu.Unlock()
		return
	}
	m.stopRingTimerLocked()
	m.transitionLocked(Failed)
	callID := m.session.CallID
	m.mu.Unlock()

	m.logger.Error("call failed", zap.String("call_id", callID), zap.Error(err))
	m.bus.Emit("call.failed", FailureNotice{CallID: callID, Err: err})
}

// Ack acknowledges a failed call, returning the machine to idle.
func (m *Machine) Ack() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.State != Failed {
		return
	}
	m.transitionLocked(Idle)
	m.session = nil
}

func (m *Machine) endLocked() {
	m.transitionLocked(Ended)
	m.session.EndedAt = m.clock.Now()
}

func (m *Machine) startRingTimerLocked() {
	callID := m.session.CallID
	m.ringTimer = m.clock.AfterFunc(m.ringTimeout, func() {
		m.ringTimeoutFired(callID)
	})
}

func (m *Machine) ringTimeoutFired(callID string) {
	m.mu.Lock()
	if m.session == nil || m.session.CallID != callID {
		m.mu.Unlock()
		return
	}
	state := m.session.State
	if state != OutgoingRinging && state != IncomingRinging {
		m.mu.Unlock()
		return
	}
	m.endLocked()
	m.mu.Unlock()

	m.logger.Info("call ring timeout", zap.String("call_id", callID))
	if state == IncomingRinging {
		m.signal.EmitSignal("call_reject", map[string]any{"callId": callID})
	} else {
		m.signal.EmitSignal("call_end", map[string]any{"callId": callID})
	}
}

func (m *Machine) stopRingTimerLocked() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
}

func (m *Machine) transitionLocked(to State) {
	from := Idle
	if m.session != nil {
		from = m.session.State
	}
	allowed := validTransitions[from]
	ok := false
	for _, s := range allowed {
		if s == to {
			ok = true
			break
		}
	}
	if !ok {
		m.logger.Error("invalid call transition",
			zap.String("from", string(from)), zap.String("to", string(to)))
		return
	}
	if m.session != nil {
		m.session.State = to
	}
	var callID string
	if m.session != nil {
		callID = m.session.CallID
	}
	m.bus.Emit("call.state_changed", StateChange{CallID: callID, From: from, To: to})
}
