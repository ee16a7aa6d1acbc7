package event

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire framing for every realtime event: a name plus an
// opaque JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ErrUnknownKind is returned by Decode for wire events this client does not
// consume. Callers are expected to log and drop these.
type ErrUnknownKind struct {
	Name string
}

func (e *ErrUnknownKind) Error() string {
	return fmt.Sprintf("unknown event kind %q", e.Name)
}

// Decode turns a wire envelope into its typed variant.
func Decode(env Envelope) (Event, error) {
	switch Kind(env.Event) {
	case KindNewMessage:
		return decodeAs[NewMessage](env)
	case KindTyping:
		return decodeAs[Typing](env)
	case KindMessageRead:
		return decodeAs[MessageRead](env)
	case KindPresence:
		return decodeAs[Presence](env)
	case KindIncomingCall:
		return decodeAs[IncomingCall](env)
	case KindCallAnswered:
		return decodeAs[CallAnswered](env)
	case KindCallRejected:
		return decodeAs[CallRejected](env)
	case KindCallEnded:
		return decodeAs[CallEnded](env)
	case KindFriendRequest:
		return decodeAs[FriendRequest](env)
	case KindFriendEvent:
		return decodeAs[FriendEvent](env)
	default:
		return nil, &ErrUnknownKind{Name: env.Event}
	}
}

func decodeAs[T Event](env Envelope) (Event, error) {
	var v T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
	}
	return v, nil
}
