package bot

// State is the transport session state as seen by the bot.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateAuthenticating State = "authenticating"
	StateReady          State = "ready"

	// StateStopped is terminal and entered only by Shutdown.
	StateStopped State = "stopped"
)

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateDisconnected:   {StateAuthenticating, StateStopped},
	StateAuthenticating: {StateReady, StateDisconnected, StateStopped},
	StateReady:          {StateDisconnected, StateStopped},
}

// canTransition reports whether the session may move from one state to
// another.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
