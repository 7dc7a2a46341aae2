package metrics

import (
	coremetrics "github.com/smarttraffic/dualsim/core/metrics"
	"github.com/smarttraffic/dualsim/core/model"
)

// MultiSink fans records out to multiple sinks. Optional capabilities are
// forwarded only to the sinks that implement them.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSnapshot forwards the snapshot to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordSnapshot(snap model.MergedSnapshot) error {
	for _, s := range m.Sinks {
		if err := s.RecordSnapshot(snap); err != nil {
			return err
		}
	}
	return nil
}

// RecordTick forwards tick timings.
func (m *MultiSink) RecordTick(ev coremetrics.TickEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.TickRecorder); ok {
			if err := rec.RecordTick(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordPerturbation forwards perturbation outcomes.
func (m *MultiSink) RecordPerturbation(ev coremetrics.PerturbationEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.PerturbationRecorder); ok {
			if err := rec.RecordPerturbation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSessionEvent forwards run lifecycle transitions.
func (m *MultiSink) RecordSessionEvent(ev coremetrics.SessionEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.SessionEventRecorder); ok {
			if err := rec.RecordSessionEvent(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordStreamDrops forwards drop counts.
func (m *MultiSink) RecordStreamDrops(n int) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.DropRecorder); ok {
			if err := rec.RecordStreamDrops(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSubscribers forwards the subscriber count.
func (m *MultiSink) RecordSubscribers(n int) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.SubscriberRecorder); ok {
			if err := rec.RecordSubscribers(n); err != nil {
				return err
			}
		}
	}
	return nil
}
