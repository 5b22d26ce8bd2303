package recognition

// State is the lifecycle state of the recognition controller.
type State int

const (
	StateIdle State = iota
	StateAuthorizing
	StateActive
	StateRestarting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizing:
		return "authorizing"
	case StateActive:
		return "active"
	case StateRestarting:
		return "restarting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var validTransitions = map[State][]State{
	StateIdle:        {StateAuthorizing, StateIdle},
	StateAuthorizing: {StateActive, StateIdle, StateRestarting},
	StateActive:      {StateRestarting, StateIdle, StateActive},
	StateRestarting:  {StateActive, StateRestarting, StateFailed, StateIdle},
	StateFailed:      {StateAuthorizing, StateIdle},
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid recognizer state transition from " + e.From.String() + " to " + e.To.String()
}
