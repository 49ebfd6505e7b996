package session

import (
	"fmt"
)

// ConnectionState is the lifecycle state of a Session.
type ConnectionState int

const (
	// Idle means no link is open and no attempt is in flight.
	Idle ConnectionState = iota

	// Connecting means a link is being opened in the background.
	Connecting

	// Connected means the read loop is running on an open link.
	Connected

	// Lost means an open link failed. The session passes through Lost on its
	// way back to Idle after reporting the failure.
	Lost
)

var stateNames = map[ConnectionState]string{
	Idle:       "idle",
	Connecting: "connecting",
	Connected:  "connected",
	Lost:       "lost",
}

var validTransitions = map[ConnectionState][]ConnectionState{
	Idle:       {Connecting},
	Connecting: {Connected, Idle},
	Connected:  {Lost, Idle},
	Lost:       {Idle},
}

func (s ConnectionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s ConnectionState) CanTransitionTo(next ConnectionState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s *ConnectionState) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown connection state: %q", text)
}
