package model

import "time"

// PerturbationKind enumerates the live changes a run accepts.
type PerturbationKind string

const (
	PerturbEmergency     PerturbationKind = "emergency"
	PerturbWeather       PerturbationKind = "weather"
	PerturbPhaseOverride PerturbationKind = "phase_override"
)

// PerturbationEvent is a live change applied to both sessions at the same
// tick boundary. Exactly one of the payload pointers matching Kind is set.
type PerturbationEvent struct {
	ID        string           `json:"id"`
	Kind      PerturbationKind `json:"kind"`
	Submitted time.Time        `json:"submitted_at"`

	Emergency *EmergencyRequest `json:"emergency,omitempty"`
	Weather   *WeatherRequest   `json:"weather,omitempty"`
	Phase     *PhaseRequest     `json:"phase,omitempty"`
}

// EmergencyRequest injects one emergency vehicle. The route is resolved from
// the running scenario when the event is applied.
type EmergencyRequest struct {
	VehicleID string         `json:"vehicle_id"`
	Class     EmergencyClass `json:"class"`
}

// WeatherRequest switches the weather condition for both sessions.
type WeatherRequest struct {
	Condition WeatherCondition `json:"condition"`
}

// PhaseTarget selects which sessions a manual phase override reaches.
type PhaseTarget string

const (
	TargetAdaptive PhaseTarget = "adaptive"
	TargetFixed    PhaseTarget = "fixed"
	TargetBoth     PhaseTarget = "both"
)

// PhaseRequest forces a signal phase. An empty target means adaptive only.
type PhaseRequest struct {
	Junction string      `json:"junction"`
	Phase    int         `json:"phase"`
	Target   PhaseTarget `json:"target,omitempty"`
}

// Valid reports whether t is a known override target.
func (t PhaseTarget) Valid() bool {
	switch t {
	case TargetAdaptive, TargetFixed, TargetBoth:
		return true
	}
	return false
}

// WeatherCondition names a weather state. Weather changes vehicle speeds and
// signal timing, never demand.
type WeatherCondition string

const (
	WeatherClear WeatherCondition = "clear"
	WeatherRain  WeatherCondition = "rain"
	WeatherFog   WeatherCondition = "fog"
	WeatherStorm WeatherCondition = "storm"
)

// WeatherParams are the engine adjustments for a condition. SpeedFactor
// scales travel and discharge rates; GreenAdjust stretches each green window
// of a fixed plan by the given seconds.
type WeatherParams struct {
	SpeedFactor float64
	GreenAdjust float64
}

// Valid reports whether w is a known condition.
func (w WeatherCondition) Valid() bool {
	switch w {
	case WeatherClear, WeatherRain, WeatherFog, WeatherStorm:
		return true
	}
	return false
}

// Params returns the adjustments for the condition. Unknown conditions map
// to clear weather.
func (w WeatherCondition) Params() WeatherParams {
	switch w {
	case WeatherRain:
		return WeatherParams{SpeedFactor: 0.8, GreenAdjust: 2}
	case WeatherFog:
		return WeatherParams{SpeedFactor: 0.65, GreenAdjust: 4}
	case WeatherStorm:
		return WeatherParams{SpeedFactor: 0.5, GreenAdjust: 6}
	default:
		return WeatherParams{SpeedFactor: 1, GreenAdjust: 0}
	}
}
