package event

import "time"

// Kind identifies an inbound wire event.
type Kind string

// Wire event names pushed by the messenger backend.
const (
	KindNewMessage    Kind = "new_message"
	KindTyping        Kind = "typing"
	KindMessageRead   Kind = "message_read"
	KindPresence      Kind = "presence_update"
	KindIncomingCall  Kind = "incoming_call"
	KindCallAnswered  Kind = "call_answered"
	KindCallRejected  Kind = "call_rejected"
	KindCallEnded     Kind = "call_ended"
	KindFriendRequest Kind = "friend_request"
	KindFriendEvent   Kind = "friend_event"
)

// Event is a decoded inbound event. Exactly one concrete variant exists per
// wire event name; payloads are decoded once at the transport boundary so
// downstream components never branch on untyped fields.
type Event interface {
	Kind() Kind
}

// NewMessage is a message pushed for a thread the local user participates in.
// ClientID carries the sender's provisional id when the server echoes back a
// message this client sent, and is empty otherwise.
type NewMessage struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	MediaRef  string    `json:"mediaRef"`
	ClientID  string    `json:"clientId"`
	CreatedAt time.Time `json:"timestamp"`
}

func (NewMessage) Kind() Kind { return KindNewMessage }

// Typing signals that a user started or stopped typing in a thread.
type Typing struct {
	ThreadID string `json:"threadId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

func (Typing) Kind() Kind { return KindTyping }

// MessageRead is a read receipt for one or more messages in a thread.
type MessageRead struct {
	ThreadID   string    `json:"threadId"`
	UserID     string    `json:"userId"`
	MessageID  string    `json:"messageId"`
	MessageIDs []string  `json:"messageIds"`
	ReadAt     time.Time `json:"timestamp"`
}

func (MessageRead) Kind() Kind { return KindMessageRead }

// IDs returns all receipt message ids, merging the single- and multi-id
// wire shapes the backend emits.
func (r MessageRead) IDs() []string {
	ids := r.MessageIDs
	if r.MessageID != "" {
		ids = append(ids, r.MessageID)
	}
	return ids
}

// Presence is the full set of currently online user ids. Membership is
// replaced wholesale on every push.
type Presence struct {
	Online []string `json:"onlineUsers"`
}

func (Presence) Kind() Kind { return KindPresence }

// IncomingCall announces a call directed at the local user.
type IncomingCall struct {
	CallID   string `json:"callId"`
	CallerID string `json:"callerId"`
	IsVideo  bool   `json:"isVideo"`
}

func (IncomingCall) Kind() Kind { return KindIncomingCall }

// CallAnswered signals that the callee accepted the call.
type CallAnswered struct {
	CallID string `json:"callId"`
}

func (CallAnswered) Kind() Kind { return KindCallAnswered }

// CallRejected signals that the callee declined the call.
type CallRejected struct {
	CallID string `json:"callId"`
}

func (CallRejected) Kind() Kind { return KindCallRejected }

// CallEnded signals that either party hung up or the server tore the call down.
type CallEnded struct {
	CallID string `json:"callId"`
}

func (CallEnded) Kind() Kind { return KindCallEnded }

// FriendRequest announces an incoming friend request.
type FriendRequest struct {
	FromUserID string `json:"fromUserId"`
	FromName   string `json:"fromName"`
}

func (FriendRequest) Kind() Kind { return KindFriendRequest }

// FriendEvent announces a change to an existing friendship (accepted, removed).
type FriendEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

func (FriendEvent) Kind() Kind { return KindFriendEvent }
