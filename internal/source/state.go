package source

import "github.com/jfoltran/pgsink/internal/model"

// State is the source adapter's lifecycle per §4.B.
type State int

const (
	Idle State = iota
	Snapshotting
	Snapshotted
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Snapshotting:
		return "Snapshotting"
	case Snapshotted:
		return "Snapshotted"
	case Streaming:
		return "Streaming"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var validTransitions = map[State]map[State]bool{
	Idle:         {Snapshotting: true, Streaming: true}, // Streaming: permitted, though pipeline.Run always goes through EnsureSlot and CommitTableCopy first
	Snapshotting: {Snapshotted: true},
	Snapshotted:  {Streaming: true, Closed: true},
	Streaming:    {Closed: true},
}

// Transition validates and returns the new state, or a *model.StateError.
func (s State) Transition(to State) (State, error) {
	if validTransitions[s][to] {
		return to, nil
	}
	return s, &model.StateError{From: s.String(), To: to.String()}
}
