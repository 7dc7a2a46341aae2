package metrics

import (
	"time"

	"github.com/smarttraffic/dualsim/core/model"
)

// TickEvent captures the timing of one orchestrator tick across both
// sessions.
type TickEvent struct {
	RunID    string
	Location string
	Tick     uint64
	SimTime  float64
	Duration time.Duration
	Skipped  uint64
}

// TickRecorder records per-tick timings.
type TickRecorder interface {
	RecordTick(ev TickEvent) error
}

// Sink records merged snapshots for observability purposes.
type Sink interface {
	RecordSnapshot(snap model.MergedSnapshot) error
}

// Perturbation outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeApplied   = "applied"
	OutcomeRejected  = "rejected"
	OutcomeCoalesced = "coalesced"
	OutcomeDuplicate = "duplicate"
)

// PerturbationEvent captures the acceptance or application of a live
// perturbation.
type PerturbationEvent struct {
	RunID   string
	Kind    string
	Outcome string
	Time    time.Time
}

// PerturbationRecorder records perturbation outcomes.
type PerturbationRecorder interface {
	RecordPerturbation(ev PerturbationEvent) error
}

// SessionEvent is a run lifecycle transition. Role is set when the event
// concerns one session rather than the run as a whole, such as a crash.
type SessionEvent struct {
	RunID    string
	Location string
	Role     model.Role
	State    model.RunState
	Reason   string
	Time     time.Time
}

// SessionEventRecorder records run lifecycle transitions.
type SessionEventRecorder interface {
	RecordSessionEvent(ev SessionEvent) error
}

// DropRecorder counts snapshots dropped by slow streaming subscribers.
type DropRecorder interface {
	RecordStreamDrops(n int) error
}

// SubscriberRecorder tracks the number of connected streaming subscribers.
type SubscriberRecorder interface {
	RecordSubscribers(n int) error
}

// NopSink implements Sink and every optional capability with no-op methods.
type NopSink struct{}

func (NopSink) RecordSnapshot(model.MergedSnapshot) error  { return nil }
func (NopSink) RecordTick(TickEvent) error                 { return nil }
func (NopSink) RecordPerturbation(PerturbationEvent) error { return nil }
func (NopSink) RecordSessionEvent(SessionEvent) error      { return nil }
func (NopSink) RecordStreamDrops(int) error                { return nil }
func (NopSink) RecordSubscribers(int) error                { return nil }
