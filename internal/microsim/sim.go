// Package microsim is the reference junction engine: a single intersection
// with four approaches, queue dynamics and a signal controller, driven over
// the JSON-line control protocol. It has just enough physics to make the
// paired benchmark honest, and it is deterministic: randomness is drawn only
// when a vehicle is inserted, so two engines given the same seed and the
// same insert sequence stay in lockstep regardless of signal decisions.
package microsim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/smarttraffic/dualsim/core/engine"
	"github.com/smarttraffic/dualsim/core/model"
)

const (
	approachTravel = 30.0 // seconds to the stop line at nominal speed
	exitTravel     = 20.0 // seconds from the stop line out of the network
	saturationFlow = 0.5  // vehicles per green approach per second
	queueCapacity  = 80   // vehicles per approach at the stop line
	minGreenHold   = 2.0  // external mode refuses faster flapping
)

var errNotLoaded = errors.New("no scenario loaded")

// classSpeed scales travel and discharge for a vehicle class. Emergencies
// override the class.
func classSpeed(class string, emergency bool) float64 {
	if emergency {
		return 1.25
	}
	switch model.VehicleClass(class) {
	case model.ClassMotorcycle:
		return 1.15
	case model.ClassBus:
		return 0.8
	case model.ClassTruck:
		return 0.7
	default:
		return 1.0
	}
}

type vehicle struct {
	id        string
	class     string
	entry     string
	exit      string
	emergency bool
	readyAt   float64 // reaches the back of the queue
	leaveAt   float64 // clears the exit leg after discharge
	waited    float64
}

type approach struct {
	id      string
	inbound []*vehicle // traveling, or blocked behind a full queue
	queue   []*vehicle // waiting at the stop line
	credit  float64    // fractional discharge capacity within a green
}

// Sim is one engine session. It is confined to a single goroutine; the
// server creates one Sim per connection.
type Sim struct {
	junction   string
	approaches []*approach
	byID       map[string]*approach
	plan       model.SignalPlan
	mode       engine.ControlMode
	rng        *rand.Rand

	time       float64
	phase      int
	elapsed    float64
	yellowLeft float64 // external mode clearance after a switch
	speed      float64 // weather speed factor
	greenAdj   float64 // fixed plan green stretch

	leaving   []*vehicle
	inNetwork map[string]struct{}
	waitTotal float64
	departed  int
	arrived   int
	loaded    bool
}

// New returns an empty engine awaiting a Load.
func New() *Sim {
	return &Sim{speed: 1, inNetwork: make(map[string]struct{})}
}

// Load installs the scenario. A session loads exactly once.
func (s *Sim) Load(req engine.LoadRequest) error {
	if s.loaded {
		return errors.New("scenario already loaded")
	}
	if req.Junction == "" {
		return errors.New("missing junction")
	}
	if len(req.Approaches) < 2 {
		return fmt.Errorf("need at least 2 approaches, got %d", len(req.Approaches))
	}
	if req.Mode != engine.ControlFixed && req.Mode != engine.ControlExternal {
		return fmt.Errorf("unknown control mode %q", req.Mode)
	}
	if err := req.Plan.Validate(); err != nil {
		return fmt.Errorf("signal plan: %w", err)
	}
	byID := make(map[string]*approach, len(req.Approaches))
	approaches := make([]*approach, 0, len(req.Approaches))
	for _, id := range req.Approaches {
		if _, dup := byID[id]; dup {
			return fmt.Errorf("duplicate approach %q", id)
		}
		a := &approach{id: id}
		byID[id] = a
		approaches = append(approaches, a)
	}
	for i, ph := range req.Plan.Phases {
		for _, g := range ph.Green {
			if _, ok := byID[g]; !ok {
				return fmt.Errorf("phase %d greens unknown approach %q", i, g)
			}
		}
	}
	s.junction = req.Junction
	s.approaches = approaches
	s.byID = byID
	s.plan = req.Plan
	s.mode = req.Mode
	s.rng = rand.New(rand.NewSource(req.Seed))
	s.loaded = true
	return nil
}

// Apply executes commands in order. The first failing command aborts the
// batch.
func (s *Sim) Apply(cmds []engine.Command) error {
	if !s.loaded {
		return errNotLoaded
	}
	for i, cmd := range cmds {
		if err := s.apply(cmd); err != nil {
			return fmt.Errorf("command %d (%s): %w", i, cmd.Kind, err)
		}
	}
	return nil
}

func (s *Sim) apply(cmd engine.Command) error {
	switch cmd.Kind {
	case engine.CmdSetPhase:
		if cmd.Junction != "" && cmd.Junction != s.junction {
			return fmt.Errorf("unknown junction %q", cmd.Junction)
		}
		if cmd.Phase < 0 || cmd.Phase >= len(s.plan.Phases) {
			return fmt.Errorf("phase %d out of range", cmd.Phase)
		}
		s.setPhase(cmd.Phase)
		return nil
	case engine.CmdInsertVehicle:
		return s.insert(cmd)
	case engine.CmdSetSpeedFactor:
		if cmd.Factor <= 0 {
			return fmt.Errorf("speed factor %v must be positive", cmd.Factor)
		}
		s.speed = cmd.Factor
		return nil
	case engine.CmdSetGreenAdjust:
		if cmd.Delta < 0 {
			return fmt.Errorf("green adjust %v must not be negative", cmd.Delta)
		}
		s.greenAdj = cmd.Delta
		return nil
	default:
		return fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
}

func (s *Sim) insert(cmd engine.Command) error {
	if cmd.VehicleID == "" {
		return errors.New("missing vehicle id")
	}
	if _, dup := s.inNetwork[cmd.VehicleID]; dup {
		return fmt.Errorf("vehicle %q already in network", cmd.VehicleID)
	}
	a, ok := s.byID[cmd.Entry]
	if !ok {
		return fmt.Errorf("unknown entry approach %q", cmd.Entry)
	}
	if _, ok := s.byID[cmd.Exit]; !ok {
		return fmt.Errorf("unknown exit approach %q", cmd.Exit)
	}
	v := &vehicle{
		id:        cmd.VehicleID,
		class:     cmd.Class,
		entry:     cmd.Entry,
		exit:      cmd.Exit,
		emergency: cmd.Emergency,
	}
	travel := approachTravel / (classSpeed(v.class, v.emergency) * s.speed)
	travel *= 0.9 + 0.2*s.rng.Float64()
	v.readyAt = s.time + travel
	a.inbound = append(a.inbound, v)
	s.inNetwork[v.id] = struct{}{}
	return nil
}

// Advance moves simulation time forward in whole-second internal steps.
func (s *Sim) Advance(dt float64) (engine.StepResult, error) {
	if !s.loaded {
		return engine.StepResult{}, errNotLoaded
	}
	if dt <= 0 {
		return engine.StepResult{}, fmt.Errorf("dt %v must be positive", dt)
	}
	steps := int(math.Round(dt))
	if steps < 1 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		s.step()
	}
	return engine.StepResult{SimTime: s.time}, nil
}

func (s *Sim) step() {
	s.time++
	s.joinQueues()
	s.advanceSignal()
	s.discharge()
	s.drainLeaving()
	s.accrueWaiting()
	if s.yellowLeft > 0 {
		s.yellowLeft--
	}
}

func (s *Sim) joinQueues() {
	for _, a := range s.approaches {
		still := a.inbound[:0]
		for _, v := range a.inbound {
			if v.readyAt <= s.time && len(a.queue) < queueCapacity {
				if v.emergency {
					a.queue = insertPriority(a.queue, v)
				} else {
					a.queue = append(a.queue, v)
				}
				continue
			}
			still = append(still, v)
		}
		a.inbound = still
	}
}

// insertPriority puts an emergency at the head of the queue, behind any
// emergencies already waiting.
func insertPriority(q []*vehicle, v *vehicle) []*vehicle {
	at := 0
	for at < len(q) && q[at].emergency {
		at++
	}
	q = append(q, nil)
	copy(q[at+1:], q[at:])
	q[at] = v
	return q
}

func (s *Sim) discharge() {
	for _, a := range s.approaches {
		if !s.dischargeOpen(a.id) {
			a.credit = 0
			continue
		}
		a.credit += saturationFlow * s.speed
		if a.credit > 2 {
			a.credit = 2
		}
		for a.credit >= 1 && len(a.queue) > 0 {
			v := a.queue[0]
			a.queue = a.queue[1:]
			a.credit--
			v.leaveAt = s.time + exitTravel/(classSpeed(v.class, v.emergency)*s.speed)
			s.leaving = append(s.leaving, v)
			s.departed++
		}
	}
}

func (s *Sim) drainLeaving() {
	keep := s.leaving[:0]
	for _, v := range s.leaving {
		if v.leaveAt <= s.time {
			delete(s.inNetwork, v.id)
			s.arrived++
			continue
		}
		keep = append(keep, v)
	}
	s.leaving = keep
}

func (s *Sim) accrueWaiting() {
	for _, a := range s.approaches {
		for _, v := range a.queue {
			v.waited++
			s.waitTotal++
		}
		for _, v := range a.inbound {
			if v.readyAt <= s.time {
				v.waited++
				s.waitTotal++
			}
		}
	}
}

// State reads the current session state without advancing time.
func (s *Sim) State() (engine.State, error) {
	if !s.loaded {
		return engine.State{}, errNotLoaded
	}
	st := engine.State{
		SimTime:        s.time,
		WaitingTime:    s.waitTotal,
		Departed:       s.departed,
		Arrived:        s.arrived,
		Phase:          s.phase,
		PhaseElapsed:   s.elapsed,
		ApproachQueues: make(map[string]int, len(s.approaches)),
	}
	for _, a := range s.approaches {
		st.ApproachQueues[a.id] = len(a.queue)
		st.QueueLength += len(a.queue)
		st.VehicleCount += len(a.queue) + len(a.inbound)
	}
	st.VehicleCount += len(s.leaving)
	ids := make([]string, 0, len(s.inNetwork))
	for id := range s.inNetwork {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	st.VehicleIDs = ids
	return st, nil
}
