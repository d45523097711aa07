package link

import "fmt"

// State is the connection controller state
type State int

const (
	Idle State = iota
	Connecting
	DiscoveringServices
	Subscribing
	Streaming
	Disconnected
	Failed
)

var stateNames = map[State]string{
	Idle:                "idle",
	Connecting:          "connecting",
	DiscoveringServices: "discovering_services",
	Subscribing:         "subscribing",
	Streaming:           "streaming",
	Disconnected:        "disconnected",
	Failed:              "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Busy reports whether a session is in progress with a live or opening link
func (s State) Busy() bool {
	switch s {
	case Connecting, DiscoveringServices, Subscribing, Streaming:
		return true
	default:
		return false
	}
}

// Terminal reports whether the session ended and waits for acknowledgement
func (s State) Terminal() bool {
	return s == Failed || s == Disconnected
}

// settingUp reports whether the session has not reached Streaming yet
func (s State) settingUp() bool {
	return s == Connecting || s == DiscoveringServices || s == Subscribing
}
