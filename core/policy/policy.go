// Package policy decides signal phases for the adaptive session. Policies
// see one observation per tick and may request a phase change; the engine
// holds the phase until told otherwise.
package policy

// Observation is the adaptive session state a policy decides on.
type Observation struct {
	SimTime        float64
	Phase          int
	PhaseElapsed   float64
	ApproachQueues map[string]int
}

// Decision is the policy's phase request for the next advance.
type Decision struct {
	Phase    int
	Switched bool
	// Holds counts consecutive decisions that kept the current phase.
	Holds int
}

// PhasePolicy picks phases for the adaptive session. Decide returns false
// when no command should be sent. Implementations are called from a single
// goroutine.
type PhasePolicy interface {
	Name() string
	Decide(obs Observation) (Decision, bool)
	Reset()
}
