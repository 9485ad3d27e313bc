package plugin

// State is a plugin's lifecycle state.
type State int

const (
	// StateDisabled - registered but not running.
	StateDisabled State = iota

	// StateActive - enabled; commands and handlers are live.
	StateActive

	// StateError - a lifecycle transition failed; see the recorded error.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
