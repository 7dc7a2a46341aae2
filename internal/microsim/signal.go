package microsim

import "github.com/smarttraffic/dualsim/core/engine"

// advanceSignal ticks the controller by one second. Fixed sessions walk
// the plan's green and yellow windows; external sessions hold their phase
// until a set_phase command.
func (s *Sim) advanceSignal() {
	s.elapsed++
	if s.mode == engine.ControlExternal {
		return
	}
	if s.elapsed >= s.greenLen(s.phase)+s.plan.Yellow {
		s.phase = (s.phase + 1) % len(s.plan.Phases)
		s.elapsed = 0
	}
}

// greenLen is the effective green window of a phase. Weather stretches
// greens on fixed plans only; external phases have no timer to stretch.
func (s *Sim) greenLen(phase int) float64 {
	g := s.plan.Phases[phase].Length
	if s.mode == engine.ControlFixed {
		g += s.greenAdj
	}
	return g
}

// dischargeOpen reports whether the approach may discharge this second.
func (s *Sim) dischargeOpen(id string) bool {
	if s.mode == engine.ControlExternal {
		if s.yellowLeft > 0 {
			return false
		}
	} else if s.elapsed >= s.greenLen(s.phase) {
		return false // yellow window of the fixed plan
	}
	for _, g := range s.plan.Phases[s.phase].Green {
		if g == id {
			return true
		}
	}
	return false
}

// setPhase handles a set_phase command. External sessions pay a clearance
// yellow on every switch and ignore switches inside the min-green hold.
// Fixed sessions jump their plan walker to the phase.
func (s *Sim) setPhase(phase int) {
	if phase == s.phase {
		return
	}
	if s.mode == engine.ControlExternal && s.elapsed < minGreenHold {
		return
	}
	s.phase = phase
	s.elapsed = 0
	if s.mode == engine.ControlExternal {
		s.yellowLeft = s.plan.Yellow
	}
}
