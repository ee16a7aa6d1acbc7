// Package transport owns the realtime channel to the messenger backend.
// The coordinator only ever sees the Transport interface; the concrete
// websocket implementation lives here and decodes every inbound frame into
// a typed event before anything downstream touches it.
package transport

import (
	"context"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/event"
)

// Transport is a bidirectional realtime channel. Implementations must be
// safe for one concurrent reader (the events channel consumer) and any
// number of Send callers.
type Transport interface {
	// Dial opens the channel using the given opaque credential. Calling
	// Dial on an open transport is an error; callers close first.
	Dial(ctx context.Context, credential string) error

	// Send writes one named event with a JSON payload.
	Send(name string, payload any) error

	// Events returns the stream of decoded inbound events. The channel
	// stays valid across redials.
	Events() <-chan event.Event

	// Errors reports read-side failures. A value here means the channel
	// dropped and needs a redial.
	Errors() <-chan error

	// Close tears the channel down. Safe to call multiple times.
	Close() error
}
