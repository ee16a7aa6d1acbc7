package conn

import "fmt"

// ConnectionLostError is surfaced when reconnect attempts are exhausted.
// It is published on the bus as "conn.lost" and rendered as a persistent
// offline indicator; the manager stops retrying until Connect is called again.
type ConnectionLostError struct {
	Attempts int
	LastErr  error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection lost after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ConnectionLostError) Unwrap() error { return e.LastErr }

// BackpressureWarning is published as "conn.backpressure" when the bounded
// outbound queue overflows and the oldest queued command is dropped.
type BackpressureWarning struct {
	Dropped Command
}

func (e *BackpressureWarning) Error() string {
	return fmt.Sprintf("outbound queue full, dropped %q command", e.Dropped.Event)
}
