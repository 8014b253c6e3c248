package workspace

import "fmt"

type State int

const (
	Idle State = iota
	ProcessingFile
	Ready
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ProcessingFile:
		return "processing_file"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, candidate := range []State{Idle, ProcessingFile, Ready, Error} {
		if candidate.String() == string(b) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

type Event int

const (
	EventFileSelected Event = iota
	EventProcessingSucceeded
	EventProcessingFailed
	EventRecovered
	EventReset
)

func (e Event) String() string {
	switch e {
	case EventFileSelected:
		return "file_selected"
	case EventProcessingSucceeded:
		return "processing_succeeded"
	case EventProcessingFailed:
		return "processing_failed"
	case EventRecovered:
		return "recovered"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

type edge struct {
	from State
	on   Event
}

var transitions = map[edge]State{
	{Idle, EventFileSelected}:                  ProcessingFile,
	{ProcessingFile, EventProcessingSucceeded}: Ready,
	{ProcessingFile, EventProcessingFailed}:    Error,
	{Error, EventRecovered}:                    Idle,
	{Ready, EventReset}:                        Idle,
}

// Transition returns the state reached from current on ev. It has no side
// effects; the Workspace applies the result together with its data.
func Transition(current State, ev Event) (State, error) {
	next, ok := transitions[edge{current, ev}]
	if !ok {
		return current, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, current)
	}
	return next, nil
}
