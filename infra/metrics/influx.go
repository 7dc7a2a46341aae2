package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/smarttraffic/dualsim/core/metrics"
	"github.com/smarttraffic/dualsim/core/model"
	"github.com/smarttraffic/dualsim/infra/logger"
)

// InfluxSink writes per-tick comparison points to an InfluxDB instance
// using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails, so a missing database never blocks a
// run.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close flushes the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

// RecordSnapshot writes one dual_tick point with both sessions and the
// comparison collapsed into fields.
func (s *InfluxSink) RecordSnapshot(m model.MergedSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := m.Comparison
	p := write.NewPointWithMeasurement("dual_tick").
		AddTag("run_id", m.RunID).
		AddTag("location", m.Location).
		AddField("tick", int64(m.Tick)).
		AddField("sim_time", round3(m.SimTime)).
		AddField("fixed_queue", int64(m.Fixed.QueueLength)).
		AddField("adaptive_queue", int64(m.Adaptive.QueueLength)).
		AddField("fixed_wait", round3(m.Fixed.AvgWaitTime)).
		AddField("adaptive_wait", round3(m.Adaptive.AvgWaitTime)).
		AddField("fixed_phase", int64(m.Fixed.Phase)).
		AddField("adaptive_phase", int64(m.Adaptive.Phase)).
		AddField("queue_diff", int64(c.QueueDiff)).
		AddField("wait_diff", round3(c.WaitDiff)).
		AddField("throughput_diff", int64(c.ThroughputDiff)).
		AddField("vehicle_diff", int64(c.VehicleDiff)).
		AddField("improvement_pct", round3(c.WaitImprovementPct)).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPerturbation writes a perturbation outcome.
func (s *InfluxSink) RecordPerturbation(ev coremetrics.PerturbationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("dual_perturbation").
		AddTag("run_id", ev.RunID).
		AddTag("kind", ev.Kind).
		AddTag("outcome", ev.Outcome).
		AddField("count", int64(1)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordSessionEvent writes a run lifecycle transition.
func (s *InfluxSink) RecordSessionEvent(ev coremetrics.SessionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("dual_run_event").
		AddTag("run_id", ev.RunID).
		AddTag("location", ev.Location).
		AddTag("state", ev.State.String())
	if ev.Role != "" {
		p = p.AddTag("role", string(ev.Role))
	}
	p = p.AddField("reason", ev.Reason).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
