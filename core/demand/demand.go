// Package demand turns station traffic data into deterministic arrival
// schedules. Both sessions of a dual run consume the same schedule, so
// generation must be reproducible byte for byte from (location, window,
// seed).
package demand

import (
	"fmt"

	"github.com/smarttraffic/dualsim/core/model"
)

// Arrival is one scheduled vehicle entering the network.
type Arrival struct {
	// Time is seconds from the start of the demand window.
	Time  float64            `json:"time"`
	ID    string             `json:"id"`
	Class model.VehicleClass `json:"class"`
	Entry string             `json:"entry"`
	Exit  string             `json:"exit"`
}

// Window is the simulated span, in whole hours of a day.
type Window struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Seconds returns the window length in simulation seconds.
func (w Window) Seconds() float64 {
	return float64(w.EndHour-w.StartHour) * 3600
}

// Hours returns the number of whole hours covered.
func (w Window) Hours() int {
	return w.EndHour - w.StartHour
}

// Validate checks the window lies within one day and is non-empty.
func (w Window) Validate() error {
	if w.StartHour < 0 || w.EndHour > 24 || w.StartHour >= w.EndHour {
		return fmt.Errorf("invalid window %d-%d: need 0 <= start < end <= 24", w.StartHour, w.EndHour)
	}
	return nil
}

// Schedule is an immutable, time-sorted arrival list for one run.
type Schedule struct {
	arrivals []Arrival
	window   Window
	seed     int64
	location string
}

// Len returns the number of scheduled arrivals.
func (s *Schedule) Len() int { return len(s.arrivals) }

// At returns the i-th arrival in time order.
func (s *Schedule) At(i int) Arrival { return s.arrivals[i] }

// Window returns the schedule's demand window.
func (s *Schedule) Window() Window { return s.window }

// Seed returns the seed the schedule was generated with.
func (s *Schedule) Seed() int64 { return s.seed }

// Location returns the location ID the schedule was generated for.
func (s *Schedule) Location() string { return s.location }

// ClassCounts tallies arrivals by vehicle class.
func (s *Schedule) ClassCounts() map[string]int {
	out := make(map[string]int)
	for _, a := range s.arrivals {
		out[string(a.Class)]++
	}
	return out
}

// EntryCounts tallies arrivals by entry approach.
func (s *Schedule) EntryCounts() map[string]int {
	out := make(map[string]int)
	for _, a := range s.arrivals {
		out[a.Entry]++
	}
	return out
}

// FromArrivals builds a schedule from a prepared arrival list. The list
// must already be sorted by time; it is used for scripted runs and tests.
func FromArrivals(location string, w Window, arrivals []Arrival) *Schedule {
	cp := make([]Arrival, len(arrivals))
	copy(cp, arrivals)
	return &Schedule{arrivals: cp, window: w, location: location}
}
