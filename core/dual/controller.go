// Package dual is the orchestrator core: it runs a fixed-timer session and
// an adaptive session against identical demand, advances both in lockstep,
// and publishes the per-tick comparison. One controller owns at most one
// run at a time.
package dual

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smarttraffic/dualsim/core/compare"
	"github.com/smarttraffic/dualsim/core/demand"
	"github.com/smarttraffic/dualsim/core/engine"
	"github.com/smarttraffic/dualsim/core/logger"
	"github.com/smarttraffic/dualsim/core/metrics"
	"github.com/smarttraffic/dualsim/core/model"
	"github.com/smarttraffic/dualsim/core/perturb"
	"github.com/smarttraffic/dualsim/core/policy"
	"github.com/smarttraffic/dualsim/core/scenario"
	"github.com/smarttraffic/dualsim/core/session"
	"github.com/smarttraffic/dualsim/core/stream"
)

const (
	// DefaultTickInterval is the wall-clock spacing of ticks.
	DefaultTickInterval = time.Second
	// DefaultTickSim is how many simulated seconds one tick advances.
	DefaultTickSim = 1.0
	// DefaultStopGrace bounds session teardown on crash and rollback paths.
	DefaultStopGrace = 5 * time.Second
)

// ConnectFunc opens the engine conn for one session of a run. The infra
// layer provides spawn and dial implementations.
type ConnectFunc func(ctx context.Context, role model.Role, seed int64) (engine.Conn, error)

// Config wires a controller.
type Config struct {
	Catalog *scenario.Catalog
	Demand  *demand.Store
	Hub     *stream.Hub
	Bus     *perturb.Bus
	Connect ConnectFunc

	// Policy builds the adaptive phase controller for a run's signal plan.
	// Nil selects the greedy queue policy with its defaults.
	Policy func(plan model.SignalPlan) policy.PhasePolicy

	// Tick is the wall-clock interval between ticks, TickSim the simulated
	// seconds each tick advances. A run may override the interval.
	Tick    time.Duration
	TickSim float64

	Timeouts session.Timeouts
	Metrics  metrics.Sink
	Log      logger.Logger
}

// StartRequest selects what a run simulates.
type StartRequest struct {
	Location string        `json:"location"`
	Window   demand.Window `json:"window"`
	// Date is a free-form label carried into logs, typically the dataset day.
	Date   string `json:"date,omitempty"`
	Seed   int64  `json:"seed,omitempty"`
	TickMS int    `json:"tick_ms,omitempty"`
}

// run bundles everything owned by one active run. Fields without a comment
// are written only by the tick loop goroutine.
type run struct {
	id       string
	scenario scenario.Scenario
	window   demand.Window
	feed     *demand.Feed
	fixed    *session.Handle
	adaptive *session.Handle
	pol      policy.PhasePolicy
	stats    *compare.RunStats
	dt       float64
	interval time.Duration

	tickN   uint64
	sim     float64
	policy  model.PolicyStatus
	weather model.WeatherCondition

	// manual marks a tick whose adaptive phase was set by an operator
	// override; the policy sits that tick out so the override is not
	// clobbered in the same command batch.
	manual      bool
	manualPhase int

	cancel context.CancelFunc
	done   chan struct{}
}

// Controller is the dual-run state machine. All methods are safe for
// concurrent use.
type Controller struct {
	cfg Config
	log logger.Logger
	rec metrics.Sink

	mu       sync.Mutex
	state    model.RunState
	run      *run
	runID    string
	location string
	seed     int64
	started  time.Time
	tick     uint64
	simTime  float64
	skipped  uint64
	lastErr  string
	summary  *model.RunSummary
}

// New validates cfg and returns an idle controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("dual: scenario catalog is required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("dual: streaming hub is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("dual: perturbation bus is required")
	}
	if cfg.Connect == nil {
		return nil, errors.New("dual: engine connect function is required")
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTickInterval
	}
	if cfg.TickSim <= 0 {
		cfg.TickSim = DefaultTickSim
	}
	log := cfg.Log
	if log == nil {
		log = logger.NopLogger{}
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NopSink{}
	}
	return &Controller{cfg: cfg, log: log, rec: rec, state: model.RunIdle}, nil
}

// Start brings both sessions up and begins ticking. Either both sessions
// run or neither does: a partial failure stops the survivor and reports
// PartialStartFailureError.
func (c *Controller) Start(ctx context.Context, req StartRequest) (model.RunStatus, error) {
	sc, err := c.cfg.Catalog.Get(req.Location)
	if err != nil {
		return c.Status(), fmt.Errorf("start run: %w", err)
	}
	if err := req.Window.Validate(); err != nil {
		return c.Status(), fmt.Errorf("start run: %w", err)
	}
	if req.TickMS < 0 {
		return c.Status(), fmt.Errorf("start run: tick interval must be positive, got %dms", req.TickMS)
	}
	interval := c.cfg.Tick
	if req.TickMS > 0 {
		interval = time.Duration(req.TickMS) * time.Millisecond
	}
	seed := req.Seed
	if seed == 0 {
		seed = demand.DefaultSeed
	}

	c.mu.Lock()
	if c.state != model.RunIdle {
		st := c.statusLocked()
		c.mu.Unlock()
		return st, ErrRunActive
	}
	runID := uuid.NewString()
	c.state = model.RunStarting
	c.runID = runID
	c.location = sc.ID
	c.seed = seed
	c.started = time.Now()
	c.tick, c.simTime, c.skipped = 0, 0, 0
	c.lastErr = ""
	c.summary = nil
	c.mu.Unlock()

	var data *demand.StationData
	if c.cfg.Demand != nil {
		data = c.cfg.Demand.Get(sc)
	} else {
		data = demand.Synthetic(sc.ID)
	}
	sched, err := demand.Generate(demand.Config{
		Scenario:    sc,
		Window:      req.Window,
		Seed:        seed,
		Hourly:      data.WindowDemand(req.Window),
		DivertShare: demand.DefaultDivertShare,
	})
	if err != nil {
		return c.abortStart(fmt.Errorf("generate demand: %w", err))
	}
	label := ""
	if req.Date != "" {
		label = " on " + req.Date
	}
	c.log.Infof("run %s: %s %02d:00-%02d:00%s, %d arrivals, seed %d",
		runID, sc.ID, req.Window.StartHour, req.Window.EndHour, label, sched.Len(), seed)

	mk := func(role model.Role) (*session.Handle, error) {
		return session.New(session.Config{
			Role:     role,
			Scenario: sc,
			Seed:     seed,
			Timeouts: c.cfg.Timeouts,
			Log:      c.log,
			Connect: func(ctx context.Context) (engine.Conn, error) {
				return c.cfg.Connect(ctx, role, seed)
			},
		})
	}
	fixed, err := mk(model.RoleFixed)
	if err != nil {
		return c.abortStart(err)
	}
	adaptive, err := mk(model.RoleAdaptive)
	if err != nil {
		return c.abortStart(err)
	}

	var wg sync.WaitGroup
	var ferr, aerr error
	wg.Add(2)
	go func() { defer wg.Done(); ferr = fixed.Start(ctx) }()
	go func() { defer wg.Done(); aerr = adaptive.Start(ctx) }()
	wg.Wait()

	if ferr != nil || aerr != nil {
		sctx, cancel := context.WithTimeout(context.Background(), DefaultStopGrace)
		_ = fixed.Stop(sctx)
		_ = adaptive.Stop(sctx)
		cancel()
		switch {
		case ferr != nil && aerr != nil:
			c.log.Errorf("run %s: adaptive session also failed: %v", runID, aerr)
			return c.abortStart(fmt.Errorf("both sessions failed to start: %w", ferr))
		case ferr != nil:
			return c.abortStart(&PartialStartFailureError{FailedRole: model.RoleFixed, Cause: ferr})
		default:
			return c.abortStart(&PartialStartFailureError{FailedRole: model.RoleAdaptive, Cause: aerr})
		}
	}

	var pol policy.PhasePolicy
	if c.cfg.Policy != nil {
		pol = c.cfg.Policy(sc.Plan)
	} else {
		pol = policy.NewGreedyQueue(sc.Plan, 0, 0)
	}
	pol.Reset()

	c.cfg.Bus.BeginRun(perturb.RunScope{
		RunID:    runID,
		Junction: sc.Junction,
		Phases:   len(sc.Plan.Phases),
	})

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:       runID,
		scenario: sc,
		window:   req.Window,
		feed:     demand.NewFeed(sched),
		fixed:    fixed,
		adaptive: adaptive,
		pol:      pol,
		stats:    compare.NewRunStats(),
		dt:       c.cfg.TickSim,
		interval: interval,
		policy:   model.PolicyStatus{Name: pol.Name()},
		weather:  model.WeatherClear,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	c.state = model.RunRunning
	c.run = r
	st := c.statusLocked()
	c.mu.Unlock()

	c.recordSession(runID, sc.ID, "", model.RunRunning, "started")
	c.log.Infof("run %s running: tick every %s, %.0fs sim per tick, policy %s",
		runID, interval, r.dt, pol.Name())
	go c.loop(loopCtx, r)
	return st, nil
}

// abortStart unwinds a failed start back to Idle.
func (c *Controller) abortStart(err error) (model.RunStatus, error) {
	var role model.Role
	var partial *PartialStartFailureError
	if errors.As(err, &partial) {
		role = partial.FailedRole
	}
	c.mu.Lock()
	runID, loc := c.runID, c.location
	c.state = model.RunIdle
	c.lastErr = err.Error()
	st := c.statusLocked()
	c.mu.Unlock()

	c.recordSession(runID, loc, role, model.RunCrashed, err.Error())
	c.log.Errorf("run %s failed to start: %v", runID, err)
	return st, err
}

// Stop ends the active run: ticking stops, both sessions are torn down in
// parallel, and subscribers receive a terminal event. Idempotent; calling
// it with no run is a no-op.
func (c *Controller) Stop(ctx context.Context) (model.RunStatus, error) {
	c.mu.Lock()
	r := c.run
	if r == nil {
		st := c.statusLocked()
		c.mu.Unlock()
		return st, nil
	}
	c.run = nil
	c.state = model.RunStopping
	c.mu.Unlock()

	r.cancel()
	c.stopSessions(ctx, r)
	<-r.done

	c.cfg.Hub.PublishErr(ErrRunStopped)
	c.recordSession(r.id, r.scenario.ID, "", model.RunStopping, "stopped")
	c.finish(r, "")
	return c.Status(), nil
}

// Status returns a point-in-time view of the controller. It never touches
// the engines.
func (c *Controller) Status() model.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() model.RunStatus {
	st := model.RunStatus{
		State:       c.state.String(),
		RunID:       c.runID,
		Location:    c.location,
		Tick:        c.tick,
		SimTime:     c.simTime,
		Seed:        c.seed,
		StartedAt:   c.started,
		Subscribers: c.cfg.Hub.Subscribers(),
		LastError:   c.lastErr,
	}
	if c.state == model.RunIdle {
		st.Summary = c.summary
	}
	return st
}

// Summary returns the aggregated comparison for the active run, or for the
// last completed one. ok is false before any run has recorded a tick.
func (c *Controller) Summary() (model.RunSummary, bool) {
	c.mu.Lock()
	r := c.run
	stored := c.summary
	c.mu.Unlock()

	if r != nil {
		return r.stats.Summary(), true
	}
	if stored != nil {
		return *stored, true
	}
	return model.RunSummary{}, false
}

// loop is the single tick goroutine. Ticks never run concurrently: when a
// tick overruns the interval, the missed ticks are counted as skipped and
// the backlog is drained.
func (c *Controller) loop(ctx context.Context, r *run) {
	defer close(r.done)
	tk := time.NewTicker(r.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}

		start := time.Now()
		err := c.tickOnce(ctx, r)
		elapsed := time.Since(start)

		switch {
		case err == nil:
		case errors.Is(err, ErrRunComplete):
			c.completeRun(r)
			return
		case ctx.Err() != nil || errors.Is(err, session.ErrStopped):
			// Stop owns the cleanup.
			return
		default:
			c.crashRun(r, err)
			return
		}

		var skipped uint64
		if elapsed > r.interval {
			skipped = uint64(elapsed / r.interval)
			r.stats.AddSkips(skipped)
			c.mu.Lock()
			c.skipped += skipped
			c.mu.Unlock()
			c.log.Warnf("run %s: tick %d took %s, skipping %d ticks",
				r.id, r.tickN, elapsed.Round(time.Millisecond), skipped)
			select {
			case <-tk.C:
			default:
			}
		}
		if tr, ok := c.rec.(metrics.TickRecorder); ok {
			ev := metrics.TickEvent{
				RunID:    r.id,
				Location: r.scenario.ID,
				Tick:     r.tickN,
				SimTime:  r.sim,
				Duration: elapsed,
				Skipped:  skipped,
			}
			if err := tr.RecordTick(ev); err != nil {
				c.log.Errorf("tick metrics error: %v", err)
			}
		}
	}
}

// tickOnce executes one tick: perturbations, demand, policy, lockstep
// advance, compare, publish.
func (c *Controller) tickOnce(ctx context.Context, r *run) error {
	for _, ev := range c.cfg.Bus.Drain() {
		if err := c.applyPerturbation(r, ev); err != nil {
			return err
		}
	}

	target := r.sim + r.dt
	for _, a := range r.feed.Next(target) {
		cmd := engine.InsertVehicle(a.ID, string(a.Class), a.Entry, a.Exit, false)
		if err := c.sendBoth(r, cmd); err != nil {
			return err
		}
	}

	if r.manual {
		r.manual = false
		r.policy = model.PolicyStatus{Name: r.pol.Name(), Phase: r.manualPhase}
	} else {
		st := r.adaptive.LastState()
		dec, send := r.pol.Decide(policy.Observation{
			SimTime:        st.SimTime,
			Phase:          st.Phase,
			PhaseElapsed:   st.PhaseElapsed,
			ApproachQueues: st.ApproachQueues,
		})
		if send {
			if err := r.adaptive.Send(engine.SetPhase(r.scenario.Junction, dec.Phase)); err != nil {
				return err
			}
		}
		r.policy = model.PolicyStatus{
			Name:     r.pol.Name(),
			Phase:    dec.Phase,
			Switched: dec.Switched,
			Holds:    dec.Holds,
		}
	}

	fres, err := r.fixed.Step(ctx, r.dt)
	if err != nil {
		return err
	}
	ares, err := r.adaptive.Step(ctx, r.dt)
	if err != nil {
		return err
	}
	if math.Abs(fres.SimTime-ares.SimTime) > 1e-6 {
		return fmt.Errorf("lockstep broken at tick %d: fixed at %.3fs, adaptive at %.3fs",
			r.tickN+1, fres.SimTime, ares.SimTime)
	}

	r.tickN++
	r.sim = fres.SimTime

	m := model.MergedSnapshot{
		RunID:    r.id,
		Location: r.scenario.ID,
		Tick:     r.tickN,
		SimTime:  r.sim,
		Fixed:    r.fixed.Read(),
		Adaptive: r.adaptive.Read(),
		Policy:   r.policy,
	}
	m.Comparison = compare.Compare(m.Fixed, m.Adaptive)

	c.cfg.Hub.Publish(m)
	if err := c.rec.RecordSnapshot(m); err != nil {
		c.log.Errorf("snapshot sink error: %v", err)
	}
	r.stats.Record(m)

	c.mu.Lock()
	c.tick = r.tickN
	c.simTime = r.sim
	c.mu.Unlock()

	if r.sim >= r.window.Seconds() {
		return ErrRunComplete
	}
	return nil
}

// applyPerturbation translates one drained event into engine commands.
// Everything that changes traffic conditions goes to both sessions so the
// comparison stays apples to apples; only phase overrides may be targeted.
func (c *Controller) applyPerturbation(r *run, ev model.PerturbationEvent) error {
	switch ev.Kind {
	case model.PerturbWeather:
		cond := ev.Weather.Condition
		p := cond.Params()
		if err := c.sendBoth(r, engine.SetSpeedFactor(p.SpeedFactor)); err != nil {
			return err
		}
		if err := c.sendBoth(r, engine.SetGreenAdjust(p.GreenAdjust)); err != nil {
			return err
		}
		r.weather = cond
		c.log.Infof("run %s: weather %s (speed x%.2f, green %+.0fs)", r.id, cond, p.SpeedFactor, p.GreenAdjust)

	case model.PerturbEmergency:
		cmd := engine.InsertVehicle(
			ev.Emergency.VehicleID,
			string(ev.Emergency.Class),
			r.scenario.EmergencyEntry,
			r.scenario.EmergencyExit,
			true,
		)
		if err := c.sendBoth(r, cmd); err != nil {
			return err
		}
		c.log.Infof("run %s: emergency %s (%s) entering via %s", r.id, ev.Emergency.VehicleID, ev.Emergency.Class, r.scenario.EmergencyEntry)

	case model.PerturbPhaseOverride:
		cmd := engine.SetPhase(ev.Phase.Junction, ev.Phase.Phase)
		target := ev.Phase.Target
		if target == "" {
			target = model.TargetAdaptive
		}
		var err error
		switch target {
		case model.TargetFixed:
			err = r.fixed.Send(cmd)
		case model.TargetBoth:
			err = c.sendBoth(r, cmd)
		default:
			err = r.adaptive.Send(cmd)
		}
		if err != nil {
			return err
		}
		if target != model.TargetFixed {
			r.manual, r.manualPhase = true, ev.Phase.Phase
		}
		c.log.Infof("run %s: phase override %s -> %d (%s)", r.id, ev.Phase.Junction, ev.Phase.Phase, target)

	default:
		c.log.Warnf("run %s: dropping unknown perturbation kind %q", r.id, ev.Kind)
		return nil
	}

	c.recordPerturbation(r.id, ev, metrics.OutcomeApplied)
	return nil
}

func (c *Controller) sendBoth(r *run, cmd engine.Command) error {
	if err := r.fixed.Send(cmd); err != nil {
		return err
	}
	return r.adaptive.Send(cmd)
}

// takeRun claims cleanup ownership of r. Exactly one of the crash path,
// the completion path and Stop wins.
func (c *Controller) takeRun(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != r {
		return false
	}
	c.run = nil
	return true
}

// crashRun tears the run down after a mid-run failure and tells every
// subscriber the run ended.
func (c *Controller) crashRun(r *run, cause error) {
	if !c.takeRun(r) {
		return
	}
	c.mu.Lock()
	c.state = model.RunCrashed
	c.lastErr = cause.Error()
	c.mu.Unlock()

	var role model.Role
	var crash *session.EngineCrashedError
	if errors.As(cause, &crash) {
		role = crash.Role
	}
	c.log.Errorf("run %s crashed at tick %d: %v", r.id, r.tickN, cause)

	sctx, cancel := context.WithTimeout(context.Background(), DefaultStopGrace)
	c.stopSessions(sctx, r)
	cancel()

	c.cfg.Hub.PublishErr(cause)
	c.recordSession(r.id, r.scenario.ID, role, model.RunCrashed, cause.Error())
	c.finish(r, cause.Error())
}

// completeRun ends a run whose demand window is exhausted.
func (c *Controller) completeRun(r *run) {
	if !c.takeRun(r) {
		return
	}
	c.mu.Lock()
	c.state = model.RunStopping
	c.mu.Unlock()

	sctx, cancel := context.WithTimeout(context.Background(), DefaultStopGrace)
	c.stopSessions(sctx, r)
	cancel()

	c.cfg.Hub.PublishErr(ErrRunComplete)
	c.recordSession(r.id, r.scenario.ID, "", model.RunStopping, "window complete")
	c.finish(r, "")
}

// stopSessions stops both handles in parallel and waits for both.
func (c *Controller) stopSessions(ctx context.Context, r *run) {
	var wg sync.WaitGroup
	for _, h := range []*session.Handle{r.fixed, r.adaptive} {
		wg.Add(1)
		go func(h *session.Handle) {
			defer wg.Done()
			if err := h.Stop(ctx); err != nil {
				c.log.Warnf("%s session stop: %v", h.Role(), err)
			}
		}(h)
	}
	wg.Wait()
}

// finish parks the controller back at Idle with the run's summary.
func (c *Controller) finish(r *run, lastErr string) {
	c.cfg.Bus.EndRun()
	sum := r.stats.Summary()

	c.mu.Lock()
	c.state = model.RunIdle
	c.summary = &sum
	c.lastErr = lastErr
	c.mu.Unlock()

	c.log.Infof("run %s ended after %d ticks (%d skipped): mean wait diff %+.1fs, adaptive led %.0f%% of ticks",
		r.id, sum.Ticks, sum.SkippedTicks, sum.MeanWaitDiff, sum.AdaptiveLeadPct)
}

func (c *Controller) recordPerturbation(runID string, ev model.PerturbationEvent, outcome string) {
	pr, ok := c.rec.(metrics.PerturbationRecorder)
	if !ok {
		return
	}
	rec := metrics.PerturbationEvent{
		RunID:   runID,
		Kind:    string(ev.Kind),
		Outcome: outcome,
		Time:    time.Now(),
	}
	if err := pr.RecordPerturbation(rec); err != nil {
		c.log.Errorf("perturbation metrics error: %v", err)
	}
}

func (c *Controller) recordSession(runID, location string, role model.Role, state model.RunState, reason string) {
	sr, ok := c.rec.(metrics.SessionEventRecorder)
	if !ok {
		return
	}
	ev := metrics.SessionEvent{
		RunID:    runID,
		Location: location,
		Role:     role,
		State:    state,
		Reason:   reason,
		Time:     time.Now(),
	}
	if err := sr.RecordSessionEvent(ev); err != nil {
		c.log.Errorf("session metrics error: %v", err)
	}
}
