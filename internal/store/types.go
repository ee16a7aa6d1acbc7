package store

import "time"

// Delivery is the outbound delivery state of a message.
type Delivery string

const (
	DeliveryPending Delivery = "pending"
	DeliverySent    Delivery = "sent"
	DeliveryFailed  Delivery = "failed"
)

// Message is one entry in a thread's insertion-ordered sequence. The ID is
// provisional (client-generated) until the server confirms the send, at
// which point the entry is replaced in place under the confirmed id.
type Message struct {
	ID          string
	ThreadID    string
	SenderID    string
	Text        string
	MediaRef    string
	CreatedAt   time.Time
	Read        bool
	ReadAt      time.Time
	Delivery    Delivery
	Provisional bool
}

// Thread is a conversation container. UnreadCount is owned by the store and
// always equals the number of messages addressed to the local user with
// Read == false.
type Thread struct {
	ID             string
	ParticipantIDs []string
	LastMessageID  string
	LastActivityAt time.Time
	UnreadCount    int
}

// DesyncWarning is published as "store.desync" when server and client state
// disagree: a confirmation referencing the wrong thread, or a read receipt
// whose message never arrived within the buffer window.
type DesyncWarning struct {
	Reason    string
	ThreadID  string
	MessageID string
}

func (e *DesyncWarning) Error() string {
	return "desync: " + e.Reason
}
