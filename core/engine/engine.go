// Package engine defines the narrow control link the orchestrator uses to
// drive an external simulation session. Any engine speaking this contract can
// be paired; the repository ships a reference implementation under
// internal/microsim.
package engine

import (
	"context"

	"github.com/smarttraffic/dualsim/core/model"
)

// Conn is the control link to one engine session. Implementations are not
// required to be safe for concurrent calls; the session layer serialises
// access to each conn.
type Conn interface {
	// Hello identifies the engine. It is the first call after dialing.
	Hello(ctx context.Context) (Info, error)
	// Load installs the scenario the session will run. Called once.
	Load(ctx context.Context, req LoadRequest) error
	// Advance moves simulation time forward by dt seconds.
	Advance(ctx context.Context, dt float64) (StepResult, error)
	// State reads the current session state without advancing time.
	State(ctx context.Context) (State, error)
	// Apply executes commands in order before the next advance.
	Apply(ctx context.Context, cmds []Command) error
	// Close tears the link down. Safe to call more than once and from a
	// different goroutine than the one issuing calls.
	Close() error
}

// Info identifies the engine behind a conn.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ControlMode selects who drives the signal plan of a session.
type ControlMode string

const (
	// ControlFixed lets the engine run the plan's own timers.
	ControlFixed ControlMode = "fixed"
	// ControlExternal holds each phase until a SetPhase command changes it.
	ControlExternal ControlMode = "external"
)

// LoadRequest describes the scenario a session should run.
type LoadRequest struct {
	Network    string           `json:"network"`
	Junction   string           `json:"junction"`
	Approaches []string         `json:"approaches"`
	Plan       model.SignalPlan `json:"plan"`
	Mode       ControlMode      `json:"mode"`
	Seed       int64            `json:"seed"`
}

// StepResult reports the engine time after an advance.
type StepResult struct {
	SimTime float64 `json:"time"`
}

// State is the raw per-session readout used to build snapshots and policy
// observations.
type State struct {
	SimTime        float64        `json:"time"`
	VehicleCount   int            `json:"vehicle_count"`
	QueueLength    int            `json:"queue_length"`
	WaitingTime    float64        `json:"waiting_time"`
	Departed       int            `json:"departed"`
	Arrived        int            `json:"arrived"`
	Phase          int            `json:"phase"`
	PhaseElapsed   float64        `json:"phase_elapsed"`
	ApproachQueues map[string]int `json:"approach_queues,omitempty"`
	VehicleIDs     []string       `json:"vehicle_ids,omitempty"`
}
