package conn

import (
	"errors"
	"fmt"
)

type Phase int

const (
	Idle Phase = iota
	Connected
	Disconnected
	Reconnecting
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Status is the connection lifecycle state. Attempt is only meaningful
// while Reconnecting and counts from 1.
type Status struct {
	Phase   Phase
	Attempt int
}

func (s Status) String() string {
	if s.Phase == Reconnecting {
		return fmt.Sprintf("reconnecting(%d)", s.Attempt)
	}
	return s.Phase.String()
}

type Trigger int

const (
	Opened        Trigger = iota // socket open succeeded
	Lost                         // socket failed or closed unexpectedly
	Retry                        // start the reconnect protocol
	AttemptFailed                // one reconnect dial failed
	Reset                        // caller disconnected or reconnects after Failed
)

func (t Trigger) String() string {
	switch t {
	case Opened:
		return "opened"
	case Lost:
		return "lost"
	case Retry:
		return "retry"
	case AttemptFailed:
		return "attempt-failed"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

var ErrInvalidTransition = errors.New("invalid status transition")

// Next is the whole connection state machine.
func Next(s Status, t Trigger, maxAttempts int) (Status, error) {
	if t == Reset {
		return Status{Phase: Idle}, nil
	}

	switch s.Phase {
	case Idle:
		switch t {
		case Opened:
			return Status{Phase: Connected}, nil
		case Lost:
			return Status{Phase: Disconnected}, nil
		}

	case Connected:
		if t == Lost {
			return Status{Phase: Disconnected}, nil
		}

	case Disconnected:
		if t == Retry {
			return Status{Phase: Reconnecting, Attempt: 1}, nil
		}

	case Reconnecting:
		switch t {
		case Opened:
			return Status{Phase: Connected}, nil
		case AttemptFailed:
			if s.Attempt >= maxAttempts {
				return Status{Phase: Failed}, nil
			}
			return Status{Phase: Reconnecting, Attempt: s.Attempt + 1}, nil
		}

	case Failed:
		// terminal until Reset
	}

	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, t, s)
}

// Resume is where the reconnect protocol starts from s. spent is the attempt
// on which the previous socket was opened when that socket died before it
// proved healthy, and 0 otherwise: a connection that flaps keeps counting
// toward maxAttempts instead of starting over at 1.
func Resume(s Status, spent, maxAttempts int) (Status, error) {
	next, err := Next(s, Retry, maxAttempts)
	for i := 0; err == nil && i < spent && next.Phase == Reconnecting; i++ {
		next, err = Next(next, AttemptFailed, maxAttempts)
	}
	return next, err
}
