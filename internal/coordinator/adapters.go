package coordinator

import (
	"github.com/Sunnycharan27/loopyncsuperapp/internal/conn"
)

// SignalSender routes call signals through the connection manager so they
// queue and replay like any other outbound command.
type SignalSender struct {
	Manager *conn.Manager
}

func (s SignalSender) EmitSignal(name string, payload any) {
	s.Manager.Send(conn.Command{Event: name, Payload: payload})
}

// TypingSender routes typing signals through the connection manager. Typing
// is ephemeral, so a stale queued signal flushing after reconnect is harmless:
// the remote side expires it on its own.
type TypingSender struct {
	Manager *conn.Manager
}

func (t TypingSender) EmitTyping(threadID string, isTyping bool) {
	t.Manager.Send(conn.Command{
		Event: "typing",
		Payload: map[string]any{
			"threadId": threadID,
			"isTyping": isTyping,
		},
	})
}
