// Package app assembles the orchestrator: controller, HTTP surface,
// metrics sinks and the optional perturbation ingress.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/smarttraffic/dualsim/api/control"
	apistream "github.com/smarttraffic/dualsim/api/stream"
	"github.com/smarttraffic/dualsim/config"
	"github.com/smarttraffic/dualsim/core/demand"
	"github.com/smarttraffic/dualsim/core/dual"
	coremetrics "github.com/smarttraffic/dualsim/core/metrics"
	"github.com/smarttraffic/dualsim/core/perturb"
	"github.com/smarttraffic/dualsim/core/scenario"
	"github.com/smarttraffic/dualsim/core/stream"
	"github.com/smarttraffic/dualsim/infra/engine"
	"github.com/smarttraffic/dualsim/infra/logger"
	"github.com/smarttraffic/dualsim/infra/metrics"
	"github.com/smarttraffic/dualsim/ingress"
)

const shutdownGrace = 10 * time.Second

// Service owns the wired orchestrator.
type Service struct {
	Controller *dual.Controller

	hub     *stream.Hub
	bus     *perturb.Bus
	ingress ingress.Connector
	server  *http.Server
	log     logger.Logger

	promEnabled bool
	promAddr    string
	closers     []func()
}

// New builds a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logger.SetLevel(cfg.Logging.Level)
	logg := logger.New("service")

	svc := &Service{log: logg, promEnabled: cfg.Prometheus.Enabled, promAddr: cfg.Prometheus.Addr}

	var sinks []coremetrics.Sink
	if cfg.Prometheus.Enabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Influx.Enabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		if is, ok := sink.(*metrics.InfluxSink); ok {
			svc.closers = append(svc.closers, is.Close)
		}
		sinks = append(sinks, sink)
	}
	var sink coremetrics.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	svc.hub = stream.NewHub(cfg.Stream.Buffer, logger.New("stream"), dropRecorder(sink))
	svc.bus = perturb.NewBus(perturb.DefaultQueueCap, logger.New("perturb"), perturbRecorder(sink))

	catalog := scenario.DefaultCatalog()
	if cfg.Scenarios.File != "" {
		loaded, err := scenario.LoadCatalog(cfg.Scenarios.File)
		if err != nil {
			return nil, err
		}
		catalog = loaded
		logg.Infof("loaded %d scenarios from %s", len(loaded.List()), cfg.Scenarios.File)
	}
	var store *demand.Store
	if cfg.Demand.DataDir != "" {
		store = demand.NewStore(cfg.Demand.DataDir, logger.New("demand"))
	}

	connector, err := engine.NewConnector(cfg.Engine, logger.New("engine"))
	if err != nil {
		return nil, fmt.Errorf("engine connector: %w", err)
	}

	ctl, err := dual.New(dual.Config{
		Catalog: catalog,
		Demand:  store,
		Hub:     svc.hub,
		Bus:     svc.bus,
		Connect: connector.Connect,
		Tick:    cfg.Tick.Interval(),
		TickSim: cfg.Tick.SimSeconds,
		Metrics: sink,
		Log:     logger.New("dual"),
	})
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	svc.Controller = ctl

	mux := http.NewServeMux()
	control.NewHandler(ctl, catalog, store, svc.bus, logger.New("api")).Register(mux)
	apistream.NewHandler(svc.hub, nil, logger.New("ws")).Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	svc.server = &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ing, err := ingress.New(cfg.Ingress, svc.bus, logger.New("ingress"))
	if err != nil {
		return nil, fmt.Errorf("ingress: %w", err)
	}
	svc.ingress = ing
	return svc, nil
}

// Run serves the API until ctx is cancelled. Ingress failures are logged,
// not fatal: the HTTP perturbation path stays available without a broker.
func (s *Service) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.server.Shutdown(sctx); err != nil {
			s.log.Warnf("api shutdown: %v", err)
		}
	}()
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promAddr, logger.New("prom")); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if err := s.ingress.Start(); err != nil {
		s.log.Errorf("ingress start: %v", err)
	}

	s.log.Infof("control api listening on %s", s.server.Addr)
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Close stops the active run, the ingress and the sinks. Safe after Run has
// returned, and idempotent.
func (s *Service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if _, err := s.Controller.Stop(ctx); err != nil {
		s.log.Warnf("stop run: %v", err)
	}
	s.ingress.Close()
	s.hub.Close()
	for _, closeFn := range s.closers {
		closeFn()
	}
	s.closers = nil
	return nil
}

func dropRecorder(s coremetrics.Sink) coremetrics.DropRecorder {
	if r, ok := s.(coremetrics.DropRecorder); ok {
		return r
	}
	return nil
}

func perturbRecorder(s coremetrics.Sink) coremetrics.PerturbationRecorder {
	if r, ok := s.(coremetrics.PerturbationRecorder); ok {
		return r
	}
	return nil
}
