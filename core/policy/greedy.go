package policy

import (
	"github.com/smarttraffic/dualsim/core/model"
)

// Defaults for the greedy controller.
const (
	DefaultMinGreen = 5.0
	DefaultMaxHolds = 6
)

// GreedyQueue serves the phase whose green approaches hold the most queued
// vehicles. A minimum green time stops thrashing and a cap on consecutive
// holds keeps one busy approach from starving the others: once the cap is
// reached the busiest other phase gets its turn.
type GreedyQueue struct {
	plan     model.SignalPlan
	minGreen float64
	maxHolds int

	started bool
	current int
	holds   int
}

// NewGreedyQueue builds the controller for a plan. Non-positive minGreen or
// maxHolds fall back to the defaults.
func NewGreedyQueue(plan model.SignalPlan, minGreen float64, maxHolds int) *GreedyQueue {
	if minGreen <= 0 {
		minGreen = DefaultMinGreen
	}
	if maxHolds <= 0 {
		maxHolds = DefaultMaxHolds
	}
	return &GreedyQueue{plan: plan, minGreen: minGreen, maxHolds: maxHolds}
}

// Name identifies the policy in status and stream payloads.
func (p *GreedyQueue) Name() string { return "greedy_queue" }

// Reset clears run state so the policy can drive a fresh session.
func (p *GreedyQueue) Reset() {
	p.started = false
	p.current = 0
	p.holds = 0
}

// Decide implements PhasePolicy.
func (p *GreedyQueue) Decide(obs Observation) (Decision, bool) {
	if !p.started {
		p.started = true
		p.current = obs.Phase
	}

	best, bestQueue := p.current, p.phaseQueue(p.current, obs)
	for i := range p.plan.Phases {
		if q := p.phaseQueue(i, obs); q > bestQueue {
			best, bestQueue = i, q
		}
	}

	if best == p.current {
		if p.holds >= p.maxHolds && obs.PhaseElapsed >= p.minGreen {
			if second, q := p.bestOther(obs); q > 0 {
				return p.switchTo(second), true
			}
		}
		p.holds++
		return Decision{Phase: p.current, Holds: p.holds}, false
	}

	if obs.PhaseElapsed < p.minGreen {
		p.holds++
		return Decision{Phase: p.current, Holds: p.holds}, false
	}
	return p.switchTo(best), true
}

func (p *GreedyQueue) switchTo(phase int) Decision {
	p.current = phase
	p.holds = 0
	return Decision{Phase: phase, Switched: true}
}

func (p *GreedyQueue) phaseQueue(i int, obs Observation) int {
	if i < 0 || i >= len(p.plan.Phases) {
		return 0
	}
	var q int
	for _, ap := range p.plan.Phases[i].Green {
		q += obs.ApproachQueues[ap]
	}
	return q
}

// bestOther picks the busiest phase that is not the current one.
func (p *GreedyQueue) bestOther(obs Observation) (int, int) {
	best, bestQueue := -1, 0
	for i := range p.plan.Phases {
		if i == p.current {
			continue
		}
		if q := p.phaseQueue(i, obs); q > bestQueue {
			best, bestQueue = i, q
		}
	}
	return best, bestQueue
}
