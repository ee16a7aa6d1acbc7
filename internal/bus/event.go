package bus

import "time"

// Event represents a coordinator event published on the bus.
//
// Kinds are dot-namespaced:
//
//	conn.*     connection lifecycle (status_changed, lost, backpressure, flushed)
//	remote.*   decoded inbound transport events, one kind per wire event
//	message.*  store mutations (upserted, send_failed)
//	store.*    store warnings (desync)
//	typing.*   typing indicator changes
//	presence.* presence set changes
//	call.*     call signaling (state_changed, failed)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
