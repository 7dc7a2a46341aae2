// Package scenario holds the benchmark locations: single-junction networks
// with their approaches and fixed signal plans.
package scenario

import (
	"errors"
	"fmt"

	"github.com/smarttraffic/dualsim/core/engine"
	"github.com/smarttraffic/dualsim/core/model"
)

// ErrUnknownLocation is returned when a location ID is not in the catalog.
var ErrUnknownLocation = errors.New("unknown location")

// Approach is one leg of the junction, named by compass direction.
type Approach struct {
	ID    string `json:"id"`
	Entry string `json:"entry"`
	Exit  string `json:"exit"`
}

// Scenario describes one benchmark location.
type Scenario struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	City       string           `json:"city"`
	Junction   string           `json:"junction"`
	Approaches []Approach       `json:"approaches"`
	Plan       model.SignalPlan `json:"plan"`

	// Emergency vehicles always run this route so both sessions see the
	// same disturbance.
	EmergencyEntry string `json:"emergency_entry"`
	EmergencyExit  string `json:"emergency_exit"`

	// DataFile is the station CSV with hourly demand, relative to the
	// demand data directory. Missing files fall back to a synthetic profile.
	DataFile string `json:"data_file"`
}

// ApproachIDs returns the approach names in catalog order.
func (s Scenario) ApproachIDs() []string {
	ids := make([]string, len(s.Approaches))
	for i, a := range s.Approaches {
		ids[i] = a.ID
	}
	return ids
}

// Approach looks an approach up by ID.
func (s Scenario) Approach(id string) (Approach, bool) {
	for _, a := range s.Approaches {
		if a.ID == id {
			return a, true
		}
	}
	return Approach{}, false
}

// DefaultExit returns the exit opposite the given entry approach: north
// pairs with south, east with west. Unknown approaches exit where they came
// from.
func (s Scenario) DefaultExit(entry string) string {
	opposite := map[string]string{
		"north": "south",
		"south": "north",
		"east":  "west",
		"west":  "east",
	}
	if o, ok := opposite[entry]; ok {
		if _, exists := s.Approach(o); exists {
			return o
		}
	}
	return entry
}

// LoadRequest builds the engine load payload for one session of this
// scenario.
func (s Scenario) LoadRequest(mode engine.ControlMode, seed int64) engine.LoadRequest {
	return engine.LoadRequest{
		Network:    s.ID,
		Junction:   s.Junction,
		Approaches: s.ApproachIDs(),
		Plan:       s.Plan,
		Mode:       mode,
		Seed:       seed,
	}
}

// Validate checks the scenario is usable for a run.
func (s Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario: id required")
	}
	if len(s.Approaches) < 2 {
		return fmt.Errorf("scenario %s: at least two approaches required", s.ID)
	}
	if err := s.Plan.Validate(); err != nil {
		return fmt.Errorf("scenario %s: %w", s.ID, err)
	}
	if _, ok := s.Approach(s.EmergencyEntry); !ok {
		return fmt.Errorf("scenario %s: emergency entry %q is not an approach", s.ID, s.EmergencyEntry)
	}
	if _, ok := s.Approach(s.EmergencyExit); !ok {
		return fmt.Errorf("scenario %s: emergency exit %q is not an approach", s.ID, s.EmergencyExit)
	}
	for i, ph := range s.Plan.Phases {
		for _, g := range ph.Green {
			if _, ok := s.Approach(g); !ok {
				return fmt.Errorf("scenario %s: phase %d greens unknown approach %q", s.ID, i, g)
			}
		}
	}
	return nil
}
