package agent

import "fmt"

// State is the conversation loop's position in a turn.
type State int

const (
	StateIdle State = iota
	StateAwaitingUtterance
	StateProcessing
	StateExecutingTool
	StateSpeaking
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingUtterance:
		return "awaiting_utterance"
	case StateProcessing:
		return "processing"
	case StateExecutingTool:
		return "executing_tool"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateSpeaking; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("agent: unknown state %q", text)
}
