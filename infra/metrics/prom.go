package metrics

import (
	coremetrics "github.com/smarttraffic/dualsim/core/metrics"
	"github.com/smarttraffic/dualsim/core/model"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records run activity in Prometheus metrics.
type PromSink struct {
	ticks    *prometheus.CounterVec
	duration prometheus.Histogram
	drops    prometheus.Counter
	perturbs *prometheus.CounterVec
	crashes  *prometheus.CounterVec
	queues   *prometheus.GaugeVec
	waits    *prometheus.GaugeVec
	subs     prometheus.Gauge
}

// NewPromSink registers run metrics on the default Prometheus registerer.
// The Prometheus server should be started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ticks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dualsim_ticks_total",
		Help: "Total orchestrator ticks by outcome",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dualsim_tick_duration_seconds",
		Help:    "Wall-clock time spent advancing both sessions one tick",
		Buckets: prometheus.DefBuckets,
	})
	drops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dualsim_snapshots_dropped_total",
		Help: "Snapshots dropped because a streaming subscriber fell behind",
	})
	perturbs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dualsim_perturbations_total",
		Help: "Perturbation events by kind and outcome",
	}, []string{"kind", "outcome"})
	crashes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dualsim_sessions_crashed_total",
		Help: "Engine sessions lost mid-run",
	}, []string{"role"})
	queues := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dualsim_queue_length",
		Help: "Vehicles queued at the junction in the latest snapshot",
	}, []string{"role"})
	waits := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dualsim_avg_wait_seconds",
		Help: "Average waiting time per arrived vehicle in the latest snapshot",
	}, []string{"role"})
	subs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dualsim_stream_subscribers",
		Help: "Connected snapshot stream subscribers",
	})

	if err := reg.Register(ticks); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			ticks = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			duration = are.ExistingCollector.(prometheus.Histogram)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(drops); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			drops = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(perturbs); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			perturbs = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(crashes); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			crashes = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(queues); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			queues = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(waits); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			waits = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(subs); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			subs = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		ticks:    ticks,
		duration: duration,
		drops:    drops,
		perturbs: perturbs,
		crashes:  crashes,
		queues:   queues,
		waits:    waits,
		subs:     subs,
	}, nil
}

// RecordSnapshot updates the per-role junction gauges.
func (s *PromSink) RecordSnapshot(m model.MergedSnapshot) error {
	s.queues.WithLabelValues(string(model.RoleFixed)).Set(float64(m.Fixed.QueueLength))
	s.queues.WithLabelValues(string(model.RoleAdaptive)).Set(float64(m.Adaptive.QueueLength))
	s.waits.WithLabelValues(string(model.RoleFixed)).Set(m.Fixed.AvgWaitTime)
	s.waits.WithLabelValues(string(model.RoleAdaptive)).Set(m.Adaptive.AvgWaitTime)
	return nil
}

// RecordTick counts the tick and observes how long it took.
func (s *PromSink) RecordTick(ev coremetrics.TickEvent) error {
	s.ticks.WithLabelValues("ok").Inc()
	if ev.Skipped > 0 {
		s.ticks.WithLabelValues("skipped").Add(float64(ev.Skipped))
	}
	s.duration.Observe(ev.Duration.Seconds())
	return nil
}

// RecordStreamDrops counts snapshots lost to subscriber backpressure.
func (s *PromSink) RecordStreamDrops(n int) error {
	s.drops.Add(float64(n))
	return nil
}

// RecordPerturbation counts a perturbation outcome.
func (s *PromSink) RecordPerturbation(ev coremetrics.PerturbationEvent) error {
	s.perturbs.WithLabelValues(ev.Kind, ev.Outcome).Inc()
	return nil
}

// RecordSessionEvent counts crashes. Lifecycle transitions that are not
// crashes carry no metric of their own.
func (s *PromSink) RecordSessionEvent(ev coremetrics.SessionEvent) error {
	if ev.State != model.RunCrashed {
		return nil
	}
	role := string(ev.Role)
	if role == "" {
		role = "pair"
	}
	s.crashes.WithLabelValues(role).Inc()
	return nil
}

// RecordSubscribers sets the stream subscriber gauge.
func (s *PromSink) RecordSubscribers(n int) error {
	s.subs.Set(float64(n))
	return nil
}
