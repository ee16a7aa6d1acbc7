package call

// State represents a call session's lifecycle.
type State string

const (
	Idle            State = "IDLE"
	OutgoingRinging State = "OUTGOING_RINGING"
	IncomingRinging State = "INCOMING_RINGING"
	Connecting      State = "CONNECTING"
	Connected       State = "CONNECTED"
	Ended           State = "ENDED"
	Failed          State = "FAILED"
)

// validTransitions defines allowed state transitions. Idle is both initial
// and reachable from every terminal state; Failed is reachable from every
// non-terminal state on a transport error.
var validTransitions = map[State][]State{
	Idle:            {OutgoingRinging, IncomingRinging},
	OutgoingRinging: {Connected, Ended, Failed},
	IncomingRinging: {Connecting, Ended, Failed},
	Connecting:      {Connected, Ended, Failed},
	Connected:       {Ended, Failed},
	Ended:           {Idle},
	Failed:          {Idle},
}

// terminal reports whether a state ends the session.
func terminal(s State) bool {
	return s == Ended || s == Failed
}

// StateChange is the payload for "call.state_changed" events.
type StateChange struct {
	CallID string
	From   State
	To     State
}
