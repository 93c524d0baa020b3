package watchdog

// State is the lifecycle state of a Controller.
// Initializing -> Running -> Stopping -> Stopped
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
