package status

import (
	"fmt"
	"slices"
)

// State is the send status of a timeline entry.
type State string

const (
	Initial          State = "INITIAL"
	SendingLocal     State = "SENDING_LOCAL"
	SendingConfirmed State = "SENDING_CONFIRMED"
	Success          State = "SUCCESS"
	Failed           State = "FAILED"
)

// validTransitions defines allowed forward transitions. Failed -> SendingLocal
// is deliberately absent; it is only reachable through Resend.
var validTransitions = map[State][]State{
	Initial:          {SendingLocal},
	SendingLocal:     {SendingConfirmed, Failed},
	SendingConfirmed: {Success, Failed},
	Success:          {},
	Failed:           {},
}

// TransitionError is returned for a transition the table does not allow.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Next validates a forward transition and returns the new state.
func Next(from, to State) (State, error) {
	if !slices.Contains(validTransitions[from], to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}

// Resend validates the explicit retry of a failed send.
func Resend(from State) (State, error) {
	if from != Failed {
		return from, &TransitionError{From: from, To: SendingLocal}
	}
	return SendingLocal, nil
}

// Terminal reports whether no further forward transition exists from s.
func Terminal(s State) bool {
	return len(validTransitions[s]) == 0
}

// Pending reports whether s is one of the in-flight states.
func Pending(s State) bool {
	return s == SendingLocal || s == SendingConfirmed
}
