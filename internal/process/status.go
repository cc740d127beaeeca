package process

// State is the lifecycle position of a Process.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateFinished
	StateFailed // never started; Err holds the SpawnError
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the result of a Poll.
type Status struct {
	State    State `json:"state"`
	ExitCode int   `json:"exit_code"` // -1 when killed by a signal or unknown
	Signaled bool  `json:"signaled"`
}

func (s Status) Running() bool { return s.State == StateRunning }

// Exited reports whether the underlying program has terminated.
func (s Status) Exited() bool { return s.State == StateFinished }
