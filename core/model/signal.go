package model

import "fmt"

// Phase is one entry of a signal plan: the approaches holding right of way
// and the green duration in seconds.
type Phase struct {
	Green  []string `json:"green"`
	Length float64  `json:"length"`
}

// SignalPlan is a fixed-timer program for a junction. Phases run in order,
// separated by a yellow interval during which no approach discharges.
type SignalPlan struct {
	Junction string  `json:"junction"`
	Yellow   float64 `json:"yellow"`
	Phases   []Phase `json:"phases"`
}

// CycleLength returns the total duration of one pass through the plan,
// including yellow intervals.
func (p SignalPlan) CycleLength() float64 {
	var total float64
	for _, ph := range p.Phases {
		total += ph.Length + p.Yellow
	}
	return total
}

// PhaseAt maps a time offset from cycle start to the active phase index,
// the elapsed time within that phase and whether the yellow interval after
// it is running.
func (p SignalPlan) PhaseAt(offset float64) (index int, elapsed float64, yellow bool) {
	cycle := p.CycleLength()
	if cycle <= 0 {
		return 0, 0, false
	}
	t := offset - float64(int(offset/cycle))*cycle
	for i, ph := range p.Phases {
		if t < ph.Length {
			return i, t, false
		}
		t -= ph.Length
		if t < p.Yellow {
			return i, ph.Length + t, true
		}
		t -= p.Yellow
	}
	return len(p.Phases) - 1, 0, false
}

// Validate checks the plan is well formed: at least two phases, positive
// green lengths and a non-negative yellow interval.
func (p SignalPlan) Validate() error {
	if p.Junction == "" {
		return fmt.Errorf("signal plan: junction id required")
	}
	if len(p.Phases) < 2 {
		return fmt.Errorf("signal plan %s: at least two phases required", p.Junction)
	}
	if p.Yellow < 0 {
		return fmt.Errorf("signal plan %s: yellow must not be negative", p.Junction)
	}
	for i, ph := range p.Phases {
		if ph.Length <= 0 {
			return fmt.Errorf("signal plan %s: phase %d length must be positive", p.Junction, i)
		}
		if len(ph.Green) == 0 {
			return fmt.Errorf("signal plan %s: phase %d has no green approaches", p.Junction, i)
		}
	}
	return nil
}
