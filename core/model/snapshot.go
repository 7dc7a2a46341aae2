package model

import "time"

// Role distinguishes the two paired sessions of a dual run.
type Role string

const (
	RoleFixed    Role = "fixed"
	RoleAdaptive Role = "adaptive"
)

// SessionSnapshot is the per-session state read after a tick. Maps are shared
// between consumers and must be treated as read-only.
type SessionSnapshot struct {
	Role           Role           `json:"role"`
	SimTime        float64        `json:"time"`
	VehicleCount   int            `json:"vehicle_count"`
	QueueLength    int            `json:"queue_length"`
	WaitingTime    float64        `json:"waiting_time"`
	AvgWaitTime    float64        `json:"avg_waiting_time"`
	Departed       int            `json:"departed_vehicles"`
	Arrived        int            `json:"arrived_vehicles"`
	Throughput     float64        `json:"throughput"`
	Phase          int            `json:"phase"`
	PhaseElapsed   float64        `json:"phase_elapsed"`
	ApproachQueues map[string]int `json:"approach_queues,omitempty"`

	// Stale marks a snapshot carried over from the previous tick because the
	// engine missed its read deadline.
	Stale bool `json:"stale,omitempty"`
}

// Comparison holds adaptive-minus-fixed deltas for one tick. Negative queue
// and wait diffs mean the adaptive controller is ahead; a positive throughput
// diff means the adaptive session has completed more trips.
type Comparison struct {
	QueueDiff          int     `json:"queue_diff"`
	WaitDiff           float64 `json:"wait_time_diff"`
	ThroughputDiff     int     `json:"throughput_diff"`
	VehicleDiff        int     `json:"vehicle_diff"`
	WaitImprovementPct float64 `json:"wait_improvement_pct"`
}

// PolicyStatus reports what the adaptive phase policy decided this tick.
type PolicyStatus struct {
	Name     string `json:"name"`
	Phase    int    `json:"phase"`
	Switched bool   `json:"switched"`
	Holds    int    `json:"holds"`
}

// MergedSnapshot pairs both sessions at one tick together with their
// comparison. It is the unit of delivery for stream subscribers and sinks.
type MergedSnapshot struct {
	RunID      string          `json:"run_id"`
	Location   string          `json:"location"`
	Tick       uint64          `json:"step"`
	SimTime    float64         `json:"time"`
	Fixed      SessionSnapshot `json:"fixed"`
	Adaptive   SessionSnapshot `json:"adaptive"`
	Comparison Comparison      `json:"comparison"`
	Policy     PolicyStatus    `json:"policy"`
}

// RunState is the lifecycle of a dual run.
type RunState int

const (
	RunIdle RunState = iota
	RunStarting
	RunRunning
	RunStopping
	RunCrashed
)

// String returns the lowercase state name used in the status API and logs.
func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunStarting:
		return "starting"
	case RunRunning:
		return "running"
	case RunStopping:
		return "stopping"
	case RunCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// RunStatus is a point-in-time view of the controller. It never blocks on
// the engines.
type RunStatus struct {
	State       string      `json:"state"`
	RunID       string      `json:"run_id,omitempty"`
	Location    string      `json:"location,omitempty"`
	Tick        uint64      `json:"tick"`
	SimTime     float64     `json:"time"`
	Seed        int64       `json:"seed,omitempty"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
	Subscribers int         `json:"subscribers"`
	LastError   string      `json:"last_error,omitempty"`
	Summary     *RunSummary `json:"summary,omitempty"`
}

// RunSummary aggregates per-tick comparisons over a run.
type RunSummary struct {
	Ticks              uint64  `json:"ticks"`
	SkippedTicks       uint64  `json:"skipped_ticks"`
	MeanQueueDiff      float64 `json:"mean_queue_diff"`
	StdQueueDiff       float64 `json:"std_queue_diff"`
	MeanWaitDiff       float64 `json:"mean_wait_diff"`
	StdWaitDiff        float64 `json:"std_wait_diff"`
	MinWaitDiff        float64 `json:"min_wait_diff"`
	MaxWaitDiff        float64 `json:"max_wait_diff"`
	MeanImprovementPct float64 `json:"mean_improvement_pct"`
	AdaptiveLeadPct    float64 `json:"adaptive_lead_pct"`
	FixedArrived       int     `json:"fixed_arrived"`
	AdaptiveArrived    int     `json:"adaptive_arrived"`
}
