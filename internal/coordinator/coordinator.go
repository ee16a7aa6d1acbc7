// Package coordinator is the client's single dispatch point: every decoded
// remote event flows through one loop that updates the state store, the
// typing coordinator, and the call machine, and every local command goes out
// through it. Serializing dispatch here is what lets the downstream
// components assume events arrive one at a time.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/api"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/bus"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/cache"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/call"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/event"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/store"
	"github.com/Sunnycharan27/loopyncsuperapp/internal/typing"
)

// Rest is the REST surface the coordinator depends on, implemented by
// api.Client and faked in tests.
type Rest interface {
	ListThreads(ctx context.Context) ([]api.ThreadDTO, error)
	ListMessages(ctx context.Context, threadID string, beforeTs int64, limit int) ([]api.MessageDTO, error)
	SendMessage(ctx context.Context, threadID, clientID, text, mediaRef string) (*api.MessageDTO, error)
	MarkRead(ctx context.Context, threadID string, messageIDs []string) error
	InitiateCall(ctx context.Context, callID, calleeID string, isVideo bool) (*api.CallSetup, error)
	AnswerCall(ctx context.Context, callID string) (*api.CallSetup, error)
	RejectCall(ctx context.Context, callID string) error
	EndCall(ctx context.Context, callID string) error
}

// Params collects the coordinator's collaborators. Cache may be nil when
// running without persistence.
type Params struct {
	SelfID  string
	Store   *store.Store
	Typing  *typing.Coordinator
	Machine *call.Machine
	Rest    Rest
	Media   call.MediaTransport
	Cache   *cache.DB
	Bus     *bus.Bus
	Logger  *zap.Logger
}

// Coordinator owns the remote-event dispatch loop and the command surface.
type Coordinator struct {
	selfID  string
	store   *store.Store
	typing  *typing.Coordinator
	machine *call.Machine
	rest    Rest
	media   call.MediaTransport
	cache   *cache.DB
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.Mutex
	joins  map[string]call.JoinCredentials
	cancel context.CancelFunc
}

// New creates a coordinator. Call Run to start dispatching.
func New(p Params) *Coordinator {
	return &Coordinator{
		selfID:  p.SelfID,
		store:   p.Store,
		typing:  p.Typing,
		machine: p.Machine,
		rest:    p.Rest,
		media:   p.Media,
		cache:   p.Cache,
		bus:     p.Bus,
		logger:  p.Logger,
		joins:   make(map[string]call.JoinCredentials),
	}
}

func (c *Coordinator) stashJoin(callID string, creds call.JoinCredentials) {
	c.mu.Lock()
	c.joins[callID] = creds
	c.mu.Unlock()
}

func (c *Coordinator) takeJoin(callID string) (call.JoinCredentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	creds, ok := c.joins[callID]
	if ok {
		delete(c.joins, callID)
	}
	return creds, ok
}

// Run starts the dispatch loop. It returns immediately; Stop shuts the loop
// down.
func (c *Coordinator) Run(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	ch, unsub := c.bus.Subscribe("remote.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if decoded, ok := evt.Payload.(event.Event); ok {
					c.dispatch(ctx, decoded)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts down the dispatch loop.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) dispatch(ctx context.Context, evt event.Event) {
	switch e := evt.(type) {
	case event.NewMessage:
		c.onNewMessage(e)
	case event.Typing:
		c.typing.OnRemoteTyping(e.ThreadID, e.UserID, e.IsTyping)
	case event.MessageRead:
		c.store.ApplyReadReceipt(e.ThreadID, e.IDs())
		c.persistRead(e.ThreadID, e.IDs(), e.ReadAt)
	case event.Presence:
		c.typing.SetPresence(e.Online)
	case event.IncomingCall:
		kind := call.Audio
		if e.IsVideo {
			kind = call.Video
		}
		if err := c.machine.HandleIncoming(e.CallID, e.CallerID, kind); err != nil {
			c.logger.Info("incoming call refused", zap.String("call_id", e.CallID), zap.Error(err))
		}
	case event.CallAnswered:
		c.onCallAnswered(ctx, e.CallID)
	case event.CallRejected:
		c.machine.HandleRejected(e.CallID)
	case event.CallEnded:
		c.machine.HandleEnded(ctx, e.CallID)
	case event.FriendRequest, event.FriendEvent:
		// Surfaced by the notice dispatcher; no state to update here.
	default:
		c.logger.Debug("unhandled remote event", zap.String("kind", string(evt.Kind())))
	}
}

// onNewMessage routes a pushed message: an echo of the local user's own send
// (ClientID set) reconciles the provisional entry, anything else is remote
// ingestion.
func (c *Coordinator) onNewMessage(e event.NewMessage) {
	msg := store.Message{
		ID:        e.ID,
		ThreadID:  e.ThreadID,
		SenderID:  e.SenderID,
		Text:      e.Text,
		MediaRef:  e.MediaRef,
		CreatedAt: e.CreatedAt,
	}
	if e.ClientID != "" && e.SenderID == c.selfID {
		c.store.ReconcileConfirmedMessage(e.ClientID, msg)
	} else {
		c.store.IngestRemoteMessage(msg)
	}
	c.persistThread(e.ThreadID)
	c.persistMessage(e.ThreadID, e.ID)
}

// onCallAnswered completes the caller-side handshake: mark connected, then
// join the media channel with the credentials stashed at initiation.
func (c *Coordinator) onCallAnswered(ctx context.Context, callID string) {
	creds, ok := c.takeJoin(callID)
	c.machine.HandleAnswered(callID)
	if !ok {
		return
	}
	sess, exists := c.machine.Current()
	if !exists || sess.CallID != callID || sess.State != call.Connected {
		return
	}
	if err := c.media.Join(ctx, creds, sess.MediaKind); err != nil {
		c.machine.Fail(err)
	}
}

// SendMessage performs an optimistic send: the provisional message renders
// immediately, the REST write runs with one silent retry, and failure flips
// the entry to failed delivery for a user-visible local retry.
func (c *Coordinator) SendMessage(ctx context.Context, threadID, text, mediaRef string) (store.Message, error) {
	provisional := c.store.ApplyOptimisticSend(threadID, text, mediaRef)

	dto, err := c.rest.SendMessage(ctx, threadID, provisional.ID, text, mediaRef)
	if err != nil {
		c.logger.Warn("send failed, retrying once", zap.String("thread_id", threadID), zap.Error(err))
		dto, err = c.rest.SendMessage(ctx, threadID, provisional.ID, text, mediaRef)
	}
	if err != nil {
		c.store.MarkSendFailed(threadID, provisional.ID)
		return provisional, err
	}

	confirmed := store.Message{
		ID:        dto.ID,
		ThreadID:  dto.ThreadID,
		SenderID:  c.selfID,
		Text:      dto.Text,
		MediaRef:  dto.MediaRef,
		CreatedAt: dto.CreatedAt,
	}
	c.store.ReconcileConfirmedMessage(provisional.ID, confirmed)
	c.persistThread(threadID)
	c.persistMessage(threadID, dto.ID)
	return confirmed, nil
}

// MarkRead marks messages read locally and reports the change to the server.
// Idempotent: nothing leaves the client when no message was newly read.
func (c *Coordinator) MarkRead(ctx context.Context, threadID string, messageIDs []string) error {
	newly := c.store.MarkRead(threadID, messageIDs)
	if newly == 0 {
		return nil
	}
	c.persistRead(threadID, messageIDs, time.Now())
	if err := c.rest.MarkRead(ctx, threadID, messageIDs); err != nil {
		c.logger.Warn("mark read failed", zap.String("thread_id", threadID), zap.Error(err))
		return err
	}
	return nil
}

// SetTyping reports local typing activity. active=false sends the stop
// signal immediately.
func (c *Coordinator) SetTyping(threadID string, active bool) {
	if active {
		c.typing.EmitLocalTyping(threadID)
	} else {
		c.typing.StopLocalTyping(threadID)
	}
}

// InitiateCall starts an outgoing call: the machine rings locally and signals
// the callee while REST allocates the media channel. The join credentials are
// held until the remote answer arrives.
func (c *Coordinator) InitiateCall(ctx context.Context, calleeID string, video bool) (call.Session, error) {
	kind := call.Audio
	if video {
		kind = call.Video
	}
	sess, err := c.machine.Initiate(calleeID, kind)
	if err != nil {
		return call.Session{}, err
	}

	setup, err := c.rest.InitiateCall(ctx, sess.CallID, calleeID, video)
	if err != nil {
		c.machine.Fail(err)
		return sess, err
	}
	c.stashJoin(sess.CallID, call.JoinCredentials{
		Channel:   setup.Channel,
		SessionID: setup.SessionID,
		Token:     setup.Token,
	})
	return sess, nil
}

// AcceptCall answers the ringing incoming call.
func (c *Coordinator) AcceptCall(ctx context.Context, callID string) error {
	setup, err := c.rest.AnswerCall(ctx, callID)
	if err != nil {
		c.machine.Fail(err)
		return err
	}
	return c.machine.Accept(ctx, call.JoinCredentials{
		Channel:   setup.Channel,
		SessionID: setup.SessionID,
		Token:     setup.Token,
	})
}

// RejectCall declines the ringing incoming call.
func (c *Coordinator) RejectCall(ctx context.Context, callID string) error {
	if err := c.machine.Reject(); err != nil {
		return err
	}
	if err := c.rest.RejectCall(ctx, callID); err != nil {
		c.logger.Warn("reject call report failed", zap.String("call_id", callID), zap.Error(err))
	}
	return nil
}

// EndCall hangs up the active call.
func (c *Coordinator) EndCall(ctx context.Context) error {
	sess, ok := c.machine.Current()
	if err := c.machine.End(ctx); err != nil {
		return err
	}
	if ok {
		if err := c.rest.EndCall(ctx, sess.CallID); err != nil {
			c.logger.Warn("end call report failed", zap.String("call_id", sess.CallID), zap.Error(err))
		}
	}
	return nil
}

// AckCallFailure clears an acknowledged failed call.
func (c *Coordinator) AckCallFailure() { c.machine.Ack() }

// Snapshot is a consistent point-in-time view for UI rendering.
type Snapshot struct {
	Threads []store.Thread
	Online  []string
	Call    *call.Session
}

// Snapshot returns the thread list, presence set, and active call in one
// read.
func (c *Coordinator) Snapshot() Snapshot {
	s := Snapshot{
		Threads: c.store.ListThreadsOrdered(),
		Online:  c.typing.Online(),
	}
	if sess, ok := c.machine.Current(); ok {
		s.Call = &sess
	}
	return s
}

// Threads returns the thread list, most recently active first.
func (c *Coordinator) Threads() []store.Thread { return c.store.ListThreadsOrdered() }

// Messages returns a thread's messages in insertion order.
func (c *Coordinator) Messages(threadID string) []store.Message { return c.store.Messages(threadID) }

// TypingUsers returns who is typing in a thread right now.
func (c *Coordinator) TypingUsers(threadID string) []string { return c.typing.TypingUsers(threadID) }

// CurrentCall returns the active or most recent call session.
func (c *Coordinator) CurrentCall() (call.Session, bool) { return c.machine.Current() }
