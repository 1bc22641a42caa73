// Package episode drives one recorded episode through its lifecycle:
// setup, the scenario's run, the cooperative stop protocol with recorder
// closure and the stopped handshake, and teardown. An error on either
// peer diverts the remainder of the lifecycle onto the abort path; both
// peers always converge on the same outcome for an episode.
package episode

// State is the lifecycle position of a running episode.
type State int

const (
	// StateSetup covers listener registration, recorder start, and the
	// scenario's setup hook.
	StateSetup State = iota
	// StateRunning means the scenario's run hook is driving its phase
	// chain.
	StateRunning
	// StateStopping means the stop protocol is in progress: recorder
	// closure and the stopped handshake.
	StateStopping
	// StateStopped means the handshake completed and only teardown
	// remains.
	StateStopped
	// StateAborting means an error on either peer cut the episode short.
	StateAborting
	// StateTornDown is terminal; the teardown hook has run.
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateAborting:
		return "aborting"
	case StateTornDown:
		return "torndown"
	default:
		return "unknown"
	}
}
