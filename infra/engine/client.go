// Package engine implements the JSON-line TCP transport behind
// core/engine.Conn, plus the process launcher for local engine binaries.
package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	coreengine "github.com/smarttraffic/dualsim/core/engine"
	"github.com/smarttraffic/dualsim/core/logger"
)

// Defaults applied when a zero value is configured.
const (
	DefaultDialTimeout = 2 * time.Second
	DefaultOpTimeout   = 5 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoff     = 100 * time.Millisecond
)

// Client speaks the line protocol over one TCP connection. Calls are
// serialised; Close may be invoked from any goroutine and unblocks an
// in-flight call.
type Client struct {
	mu        sync.Mutex
	conn      net.Conn
	sc        *bufio.Scanner
	enc       *json.Encoder
	seq       uint64
	opTimeout time.Duration
	closed    atomic.Bool
}

// NewClient wraps an established connection. opTimeout bounds calls whose
// context carries no deadline.
func NewClient(conn net.Conn, opTimeout time.Duration) *Client {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Client{
		conn:      conn,
		sc:        sc,
		enc:       json.NewEncoder(conn),
		opTimeout: opTimeout,
	}
}

// DialConfig configures Dial.
type DialConfig struct {
	Addr       string
	Timeout    time.Duration // per attempt
	MaxRetries int
	Backoff    time.Duration
	OpTimeout  time.Duration
}

// Dial connects to an engine with bounded retries and exponential backoff.
func Dial(ctx context.Context, cfg DialConfig, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDialTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	var dialErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		d := net.Dialer{Timeout: cfg.Timeout}
		conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
		if err == nil {
			return NewClient(conn, cfg.OpTimeout), nil
		}
		dialErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnf("dial %s attempt %d failed: %v", cfg.Addr, attempt+1, err)
		select {
		case <-time.After(cfg.Backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("dial %s: %w", cfg.Addr, dialErr)
}

func (c *Client) roundTrip(ctx context.Context, req coreengine.Request) (coreengine.Response, error) {
	if c.closed.Load() {
		return coreengine.Response{}, coreengine.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return coreengine.Response{}, coreengine.ErrClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return coreengine.Response{}, c.fail(err)
	}
	c.seq++
	req.Seq = c.seq
	if err := c.enc.Encode(req); err != nil {
		return coreengine.Response{}, c.fail(err)
	}
	if !c.sc.Scan() {
		err := c.sc.Err()
		if err == nil {
			err = fmt.Errorf("connection closed by engine")
		}
		return coreengine.Response{}, c.fail(err)
	}
	var resp coreengine.Response
	if err := json.Unmarshal(c.sc.Bytes(), &resp); err != nil {
		return coreengine.Response{}, fmt.Errorf("%w: %v", coreengine.ErrProtocol, err)
	}
	if resp.Seq != req.Seq {
		return coreengine.Response{}, fmt.Errorf("%w: sequence mismatch, sent %d got %d", coreengine.ErrProtocol, req.Seq, resp.Seq)
	}
	if !resp.OK {
		return coreengine.Response{}, fmt.Errorf("%w: %s", coreengine.ErrRejected, resp.Error)
	}
	return resp, nil
}

// fail maps transport errors, reporting ErrClosed when the conn was closed
// under a blocked call.
func (c *Client) fail(err error) error {
	if c.closed.Load() {
		return coreengine.ErrClosed
	}
	return fmt.Errorf("engine transport: %w", err)
}

// Hello identifies the engine.
func (c *Client) Hello(ctx context.Context) (coreengine.Info, error) {
	resp, err := c.roundTrip(ctx, coreengine.Request{Op: coreengine.OpHello})
	if err != nil {
		return coreengine.Info{}, err
	}
	if resp.Info == nil {
		return coreengine.Info{}, fmt.Errorf("%w: hello response missing info", coreengine.ErrProtocol)
	}
	return *resp.Info, nil
}

// Load installs the scenario.
func (c *Client) Load(ctx context.Context, req coreengine.LoadRequest) error {
	_, err := c.roundTrip(ctx, coreengine.Request{Op: coreengine.OpLoad, Load: &req})
	return err
}

// Advance moves the engine forward by dt seconds.
func (c *Client) Advance(ctx context.Context, dt float64) (coreengine.StepResult, error) {
	resp, err := c.roundTrip(ctx, coreengine.Request{Op: coreengine.OpAdvance, DT: dt})
	if err != nil {
		return coreengine.StepResult{}, err
	}
	return coreengine.StepResult{SimTime: resp.Time}, nil
}

// State reads the session state.
func (c *Client) State(ctx context.Context) (coreengine.State, error) {
	resp, err := c.roundTrip(ctx, coreengine.Request{Op: coreengine.OpState})
	if err != nil {
		return coreengine.State{}, err
	}
	if resp.State == nil {
		return coreengine.State{}, fmt.Errorf("%w: state response missing state", coreengine.ErrProtocol)
	}
	return *resp.State, nil
}

// Apply executes commands in order.
func (c *Client) Apply(ctx context.Context, cmds []coreengine.Command) error {
	if len(cmds) == 0 {
		return nil
	}
	_, err := c.roundTrip(ctx, coreengine.Request{Op: coreengine.OpApply, Cmds: cmds})
	return err
}

// Close tears the connection down, sending a bye first when no call is in
// flight. Any blocked call returns ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.mu.TryLock() {
		_ = c.conn.SetDeadline(time.Now().Add(500 * time.Millisecond))
		c.seq++
		_ = c.enc.Encode(coreengine.Request{Op: coreengine.OpBye, Seq: c.seq})
		c.mu.Unlock()
	}
	return c.conn.Close()
}
