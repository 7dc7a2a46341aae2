// Package session owns one engine session over one control conn. A Handle
// serialises engine I/O behind per-call deadlines and keeps the last good
// state readable without touching the wire, so a stuck engine can never
// block a status request or a stream consumer.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smarttraffic/dualsim/core/engine"
	"github.com/smarttraffic/dualsim/core/logger"
	"github.com/smarttraffic/dualsim/core/model"
	"github.com/smarttraffic/dualsim/core/scenario"
)

// State is the lifecycle of a session handle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

const (
	DefaultStartTimeout   = 10 * time.Second
	DefaultStepTimeout    = 5 * time.Second
	DefaultCommandTimeout = 3 * time.Second
	DefaultReadTimeout    = 3 * time.Second
)

// Timeouts bound every engine call a handle makes. Zero fields take the
// package defaults.
type Timeouts struct {
	Start   time.Duration
	Step    time.Duration
	Command time.Duration
	Read    time.Duration
}

func (t *Timeouts) SetDefaults() {
	if t.Start <= 0 {
		t.Start = DefaultStartTimeout
	}
	if t.Step <= 0 {
		t.Step = DefaultStepTimeout
	}
	if t.Command <= 0 {
		t.Command = DefaultCommandTimeout
	}
	if t.Read <= 0 {
		t.Read = DefaultReadTimeout
	}
}

// Config describes one session of a dual run.
type Config struct {
	Role     model.Role
	Label    string // log name, defaults to the role
	Scenario scenario.Scenario
	Mode     engine.ControlMode
	Seed     int64
	Timeouts Timeouts

	// Connect dials or spawns the engine for this session. Injected so the
	// core stays free of transport concerns.
	Connect func(ctx context.Context) (engine.Conn, error)

	Log logger.Logger
}

// Handle drives one engine session. Step is intended for a single caller
// goroutine; Read, Send, State and Stop are safe from any goroutine.
type Handle struct {
	cfg Config
	log logger.Logger

	mu      sync.Mutex
	state   State
	conn    engine.Conn
	pending []engine.Command
	last    engine.State
	snap    model.SessionSnapshot
	crash   error
}

// New validates cfg and returns an idle handle.
func New(cfg Config) (*Handle, error) {
	if cfg.Connect == nil {
		return nil, fmt.Errorf("session %s: connect function is required", cfg.Role)
	}
	if cfg.Role != model.RoleFixed && cfg.Role != model.RoleAdaptive {
		return nil, fmt.Errorf("unknown session role %q", cfg.Role)
	}
	if cfg.Label == "" {
		cfg.Label = string(cfg.Role)
	}
	if cfg.Mode == "" {
		cfg.Mode = engine.ControlFixed
		if cfg.Role == model.RoleAdaptive {
			cfg.Mode = engine.ControlExternal
		}
	}
	cfg.Timeouts.SetDefaults()
	log := cfg.Log
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Handle{cfg: cfg, log: log}, nil
}

// Role returns the session's role.
func (h *Handle) Role() model.Role { return h.cfg.Role }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Start connects to the engine, performs the handshake and loads the
// scenario, all within the start timeout. On failure whatever was started
// is torn down and the handle ends up Crashed.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateIdle {
		st := h.state
		h.mu.Unlock()
		return fmt.Errorf("session %s already started (state %s)", h.cfg.Label, st)
	}
	h.state = StateStarting
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeouts.Start)
	defer cancel()

	conn, err := h.cfg.Connect(ctx)
	if err != nil {
		return h.startFailed(fmt.Errorf("connect: %w", err))
	}

	h.mu.Lock()
	if h.state != StateStarting {
		h.mu.Unlock()
		_ = conn.Close()
		return ErrStopped
	}
	h.conn = conn
	h.mu.Unlock()

	info, err := conn.Hello(ctx)
	if err != nil {
		return h.startFailed(fmt.Errorf("hello: %w", err))
	}

	if err := conn.Load(ctx, h.cfg.Scenario.LoadRequest(h.cfg.Mode, h.cfg.Seed)); err != nil {
		return h.startFailed(fmt.Errorf("load %s: %w", h.cfg.Scenario.ID, err))
	}

	st, err := conn.State(ctx)
	if err != nil {
		return h.startFailed(fmt.Errorf("initial state: %w", err))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateStarting {
		// Stop won the race and already closed the conn.
		return ErrStopped
	}
	h.state = StateRunning
	h.last = st
	h.snap = snapshotFrom(h.cfg.Role, st)
	h.log.Infof("%s session up: engine %s %s, scenario %s, mode %s",
		h.cfg.Label, info.Name, info.Version, h.cfg.Scenario.ID, h.cfg.Mode)
	return nil
}

// startFailed tears down a half-started session. A concurrent Stop turns
// the failure into a clean stop.
func (h *Handle) startFailed(cause error) error {
	h.mu.Lock()
	stopped := h.state == StateStopping || h.state == StateStopped
	conn := h.conn
	h.conn = nil
	if stopped {
		h.state = StateStopped
	} else {
		h.state = StateCrashed
		h.crash = fmt.Errorf("%w: %w", ErrStartTimeout, cause)
	}
	err := h.crash
	h.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if stopped {
		return ErrStopped
	}
	h.log.Errorf("%s session failed to start: %v", h.cfg.Label, cause)
	return err
}

// Send queues cmd for the next step boundary. Commands are flushed in
// submission order.
func (h *Handle) Send(cmd engine.Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateRunning {
		return ErrNotRunning
	}
	h.pending = append(h.pending, cmd)
	return nil
}

// Step flushes queued commands, advances the engine by dt seconds and
// refreshes the cached snapshot. Any transport error or missed deadline on
// the flush or the advance crashes the session; a failed state refresh only
// marks the snapshot stale so the next tick can retry.
func (h *Handle) Step(ctx context.Context, dt float64) (engine.StepResult, error) {
	h.mu.Lock()
	switch h.state {
	case StateRunning:
	case StateCrashed:
		err := h.crash
		h.mu.Unlock()
		return engine.StepResult{}, err
	case StateStopping, StateStopped:
		h.mu.Unlock()
		return engine.StepResult{}, ErrStopped
	default:
		h.mu.Unlock()
		return engine.StepResult{}, ErrNotRunning
	}
	cmds := h.pending
	h.pending = nil
	conn := h.conn
	h.mu.Unlock()

	if len(cmds) > 0 {
		cctx, cancel := context.WithTimeout(ctx, h.cfg.Timeouts.Command)
		err := conn.Apply(cctx, cmds)
		cancel()
		if err != nil {
			return engine.StepResult{}, h.crashed(fmt.Errorf("apply %d commands: %w", len(cmds), err))
		}
	}

	actx, cancel := context.WithTimeout(ctx, h.cfg.Timeouts.Step)
	res, err := conn.Advance(actx, dt)
	cancel()
	if err != nil {
		return engine.StepResult{}, h.crashed(fmt.Errorf("advance %.1fs: %w", dt, err))
	}

	rctx, cancel := context.WithTimeout(ctx, h.cfg.Timeouts.Read)
	st, err := conn.State(rctx)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateRunning {
		return engine.StepResult{}, ErrStopped
	}
	if err != nil {
		h.snap.Stale = true
		h.log.Warnf("%s session state read failed, serving stale snapshot: %v", h.cfg.Label, err)
		return res, nil
	}
	h.last = st
	h.snap = snapshotFrom(h.cfg.Role, st)
	return res, nil
}

// crashed records the failure, tears the conn down and reports either a
// crash or a clean stop depending on who got there first.
func (h *Handle) crashed(cause error) error {
	h.mu.Lock()
	if h.state == StateStopping || h.state == StateStopped {
		h.mu.Unlock()
		return ErrStopped
	}
	h.state = StateCrashed
	err := &EngineCrashedError{Role: h.cfg.Role, Cause: cause}
	h.crash = err
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	h.log.Errorf("%s session crashed: %v", h.cfg.Label, cause)
	return err
}

// Read returns the last refreshed snapshot. It never touches the engine.
func (h *Handle) Read() model.SessionSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// LastState returns the raw engine state behind the snapshot. The phase
// policy reads per-approach queues from it. Maps are shared, treat them as
// read-only.
func (h *Handle) LastState() engine.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Stop tears the session down. It is idempotent and safe to call while a
// Step is blocked on the engine: closing the conn unblocks the step, whose
// crash path then observes the stop and reports ErrStopped instead of a
// crash. Spawned engines get their own stop grace from the conn.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case StateStopped, StateCrashed:
		h.mu.Unlock()
		return nil
	case StateIdle:
		h.state = StateStopped
		h.mu.Unlock()
		return nil
	}
	h.state = StateStopping
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()

	if conn == nil {
		// Start has not attached a conn yet; it will observe the stop and
		// close whatever it gets back from Connect.
		h.mu.Lock()
		h.state = StateStopped
		h.mu.Unlock()
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- conn.Close() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		h.log.Warnf("%s session stop cut short: %v", h.cfg.Label, ctx.Err())
		err = ctx.Err()
	}

	h.mu.Lock()
	h.state = StateStopped
	h.mu.Unlock()
	return err
}

// snapshotFrom derives the published per-session metrics from a raw engine
// state. Average wait is per arrived vehicle, throughput is arrivals per
// simulated minute; both guard against division by zero.
func snapshotFrom(role model.Role, st engine.State) model.SessionSnapshot {
	snap := model.SessionSnapshot{
		Role:           role,
		SimTime:        st.SimTime,
		VehicleCount:   st.VehicleCount,
		QueueLength:    st.QueueLength,
		WaitingTime:    st.WaitingTime,
		Departed:       st.Departed,
		Arrived:        st.Arrived,
		Phase:          st.Phase,
		PhaseElapsed:   st.PhaseElapsed,
		ApproachQueues: st.ApproachQueues,
	}
	if st.Arrived > 0 {
		snap.AvgWaitTime = st.WaitingTime / float64(st.Arrived)
	}
	if st.SimTime > 0 {
		snap.Throughput = float64(st.Arrived) / st.SimTime * 60
	}
	return snap
}
