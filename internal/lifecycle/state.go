package lifecycle

type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	// StateStoppingError is passed through when a watch ends because of a
	// failure rather than a stop command.
	StateStoppingError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStoppingError:
		return "StoppingError"
	}
	return "Unknown"
}
