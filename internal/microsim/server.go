package microsim

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/smarttraffic/dualsim/core/engine"
	"github.com/smarttraffic/dualsim/core/logger"
)

// Version is reported in the hello handshake.
const Version = "0.4.0"

// Server accepts control connections and runs one Sim per connection, so a
// session's state lives and dies with its conn.
type Server struct {
	lis     net.Listener
	log     logger.Logger
	seed    int64
	verbose bool

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen binds addr (use 127.0.0.1:0 for an ephemeral port) and starts
// accepting. seed is the fallback when a load request carries none.
func Listen(addr string, seed int64, verbose bool, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		lis:     lis,
		log:     log,
		seed:    seed,
		verbose: verbose,
		conns:   make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.lis.Addr().String() }

// Close stops accepting, closes every live connection and waits for the
// handlers to drain.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.lis.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	sim := New()
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	enc := json.NewEncoder(conn)
	for sc.Scan() {
		var req engine.Request
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			s.log.Warnf("malformed request from %s: %v", conn.RemoteAddr(), err)
			resp := engine.Response{Seq: req.Seq, Error: "malformed request"}
			if enc.Encode(resp) != nil {
				return
			}
			continue
		}
		resp := s.dispatch(sim, req)
		if err := enc.Encode(resp); err != nil {
			return
		}
		if req.Op == engine.OpBye {
			return
		}
	}
}

func (s *Server) dispatch(sim *Sim, req engine.Request) engine.Response {
	resp := engine.Response{Seq: req.Seq}
	switch req.Op {
	case engine.OpHello:
		resp.OK = true
		resp.Info = &engine.Info{Name: "microsim", Version: Version}
	case engine.OpLoad:
		if req.Load == nil {
			resp.Error = "missing load payload"
			break
		}
		load := *req.Load
		if load.Seed == 0 {
			load.Seed = s.seed
		}
		if err := sim.Load(load); err != nil {
			resp.Error = err.Error()
			break
		}
		if s.verbose {
			s.log.Infof("loaded %s (%s, %d approaches)", load.Junction, load.Mode, len(load.Approaches))
		}
		resp.OK = true
	case engine.OpAdvance:
		res, err := sim.Advance(req.DT)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		resp.OK = true
		resp.Time = res.SimTime
	case engine.OpState:
		st, err := sim.State()
		if err != nil {
			resp.Error = err.Error()
			break
		}
		resp.OK = true
		resp.State = &st
	case engine.OpApply:
		if err := sim.Apply(req.Cmds); err != nil {
			resp.Error = err.Error()
			break
		}
		resp.OK = true
	case engine.OpBye:
		resp.OK = true
	default:
		resp.Error = "unknown op " + req.Op
	}
	return resp
}
