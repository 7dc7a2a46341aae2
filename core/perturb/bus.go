// Package perturb collects live perturbation events from the API and
// ingress connectors and hands them to the run loop in batches. Submissions
// never block: the queue is bounded and overflow rejects.
package perturb

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smarttraffic/dualsim/core/logger"
	"github.com/smarttraffic/dualsim/core/metrics"
	"github.com/smarttraffic/dualsim/core/model"
)

// DefaultQueueCap bounds how many events may wait for the next tick.
const DefaultQueueCap = 32

// RunScope describes the active run so submissions can be validated without
// reaching into the controller.
type RunScope struct {
	RunID    string
	Junction string
	Phases   int
}

// Bus queues perturbation events between tick boundaries.
type Bus struct {
	mu      sync.Mutex
	active  bool
	scope   RunScope
	queue   []model.PerturbationEvent
	weather *model.PerturbationEvent
	seen    map[string]struct{}
	cap     int
	log     logger.Logger
	rec     metrics.PerturbationRecorder
}

// NewBus creates a bus with the given queue bound. Zero or negative caps
// fall back to DefaultQueueCap.
func NewBus(queueCap int, log logger.Logger, rec metrics.PerturbationRecorder) *Bus {
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if rec == nil {
		rec = metrics.NopSink{}
	}
	return &Bus{
		seen: make(map[string]struct{}),
		cap:  queueCap,
		log:  log,
		rec:  rec,
	}
}

// BeginRun opens the bus for submissions and clears all state left over
// from the previous run, including the emergency dedup set.
func (b *Bus) BeginRun(scope RunScope) {
	b.mu.Lock()
	b.active = true
	b.scope = scope
	b.queue = nil
	b.weather = nil
	b.seen = make(map[string]struct{})
	b.mu.Unlock()
}

// EndRun closes the bus. Pending events are discarded.
func (b *Bus) EndRun() {
	b.mu.Lock()
	b.active = false
	b.queue = nil
	b.weather = nil
	b.mu.Unlock()
}

// Submit validates and enqueues one event for the next tick boundary. Safe
// from any goroutine.
func (b *Bus) Submit(ev model.PerturbationEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return ErrSessionsNotRunning
	}
	if err := b.validate(ev); err != nil {
		b.record(ev, metrics.OutcomeRejected)
		return err
	}
	if ev.Kind == model.PerturbWeather {
		if b.weather != nil {
			b.record(*b.weather, metrics.OutcomeCoalesced)
			b.log.Debugf("weather event %s superseded by %s", b.weather.ID, ev.ID)
		}
		b.weather = &ev
		b.record(ev, metrics.OutcomeAccepted)
		return nil
	}
	if len(b.queue) >= b.cap {
		b.record(ev, metrics.OutcomeRejected)
		return CommandRejectedError{Reason: "perturbation queue full"}
	}
	if ev.Kind == model.PerturbEmergency {
		if _, dup := b.seen[ev.ID]; dup {
			b.record(ev, metrics.OutcomeDuplicate)
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.ID)
		}
		b.seen[ev.ID] = struct{}{}
	}
	b.queue = append(b.queue, ev)
	b.record(ev, metrics.OutcomeAccepted)
	return nil
}

// Drain returns pending events in submission order, with the surviving
// weather event last, and clears the queue. Only the run loop calls this.
func (b *Bus) Drain() []model.PerturbationEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	if b.weather != nil {
		out = append(out, *b.weather)
		b.weather = nil
	}
	return out
}

// Pending returns how many events wait for the next drain.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.queue)
	if b.weather != nil {
		n++
	}
	return n
}

// validate is called with the lock held.
func (b *Bus) validate(ev model.PerturbationEvent) error {
	if ev.ID == "" {
		return CommandRejectedError{Reason: "missing event id"}
	}
	switch ev.Kind {
	case model.PerturbEmergency:
		if ev.Emergency == nil {
			return CommandRejectedError{Reason: "missing emergency payload"}
		}
		if !ev.Emergency.Class.Valid() {
			return CommandRejectedError{Reason: fmt.Sprintf("unknown emergency class %q", ev.Emergency.Class)}
		}
	case model.PerturbWeather:
		if ev.Weather == nil {
			return CommandRejectedError{Reason: "missing weather payload"}
		}
		if !ev.Weather.Condition.Valid() {
			return CommandRejectedError{Reason: fmt.Sprintf("unknown weather condition %q", ev.Weather.Condition)}
		}
	case model.PerturbPhaseOverride:
		if ev.Phase == nil {
			return CommandRejectedError{Reason: "missing phase payload"}
		}
		if ev.Phase.Junction != b.scope.Junction {
			return CommandRejectedError{Reason: fmt.Sprintf("unknown junction %q", ev.Phase.Junction)}
		}
		if ev.Phase.Phase < 0 || ev.Phase.Phase >= b.scope.Phases {
			return CommandRejectedError{Reason: fmt.Sprintf("phase %d out of range [0,%d)", ev.Phase.Phase, b.scope.Phases)}
		}
		if ev.Phase.Target != "" && !ev.Phase.Target.Valid() {
			return CommandRejectedError{Reason: fmt.Sprintf("unknown override target %q", ev.Phase.Target)}
		}
	default:
		return CommandRejectedError{Reason: fmt.Sprintf("unknown perturbation kind %q", ev.Kind)}
	}
	return nil
}

func (b *Bus) record(ev model.PerturbationEvent, outcome string) {
	err := b.rec.RecordPerturbation(metrics.PerturbationEvent{
		RunID:   b.scope.RunID,
		Kind:    string(ev.Kind),
		Outcome: outcome,
		Time:    time.Now(),
	})
	if err != nil {
		b.log.Warnf("perturbation metrics error: %v", err)
	}
}

// NewEmergency builds an emergency event. An empty id gets a generated
// emg-prefixed UUID, which doubles as the inserted vehicle's ID in both
// sessions.
func NewEmergency(id string, class model.EmergencyClass) model.PerturbationEvent {
	if id == "" {
		id = "emg-" + uuid.NewString()
	}
	return model.PerturbationEvent{
		ID:        id,
		Kind:      model.PerturbEmergency,
		Submitted: time.Now(),
		Emergency: &model.EmergencyRequest{VehicleID: id, Class: class},
	}
}

// NewWeather builds a weather change event.
func NewWeather(condition model.WeatherCondition) model.PerturbationEvent {
	return model.PerturbationEvent{
		ID:        "wx-" + uuid.NewString(),
		Kind:      model.PerturbWeather,
		Submitted: time.Now(),
		Weather:   &model.WeatherRequest{Condition: condition},
	}
}

// NewPhaseOverride builds a manual phase override. An empty target applies
// to the adaptive session only.
func NewPhaseOverride(junction string, phase int, target model.PhaseTarget) model.PerturbationEvent {
	return model.PerturbationEvent{
		ID:        "ph-" + uuid.NewString(),
		Kind:      model.PerturbPhaseOverride,
		Submitted: time.Now(),
		Phase:     &model.PhaseRequest{Junction: junction, Phase: phase, Target: target},
	}
}
