package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	coreengine "github.com/smarttraffic/dualsim/core/engine"
	"github.com/smarttraffic/dualsim/core/logger"
	"github.com/smarttraffic/dualsim/core/model"
)

// Config selects how engine sessions come to life: "spawn" launches a local
// engine binary per session, "dial" connects to already-running engines at
// fixed addresses.
type Config struct {
	Mode           string `json:"mode"`
	Command        string `json:"command"`
	FixedAddr      string `json:"fixed_addr"`
	AdaptiveAddr   string `json:"adaptive_addr"`
	DialTimeoutMS  int    `json:"dial_timeout_ms"`
	OpTimeoutMS    int    `json:"op_timeout_ms"`
	StartTimeoutMS int    `json:"start_timeout_ms"`
	StopGraceMS    int    `json:"stop_grace_ms"`
	MaxRetries     int    `json:"max_retries"`
	BackoffMS      int    `json:"backoff_ms"`
}

// SetDefaults fills the zero values.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "spawn"
	}
	if c.Command == "" {
		c.Command = DefaultCommand
	}
}

// Validate checks the mode and its required fields.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "spawn":
		return nil
	case "dial":
		if c.FixedAddr == "" || c.AdaptiveAddr == "" {
			return fmt.Errorf("dial mode requires fixed_addr and adaptive_addr")
		}
		return nil
	default:
		return fmt.Errorf("unknown engine mode %q", c.Mode)
	}
}

// Connector produces ready engine connections for a session role.
type Connector struct {
	cfg Config
	log logger.Logger
}

// NewConnector validates cfg and returns a connector.
func NewConnector(cfg Config, log logger.Logger) (*Connector, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Connector{cfg: cfg, log: log}, nil
}

// Connect returns a live conn for the role. In spawn mode the returned
// conn owns its engine process: Close stops it.
func (c *Connector) Connect(ctx context.Context, role model.Role, seed int64) (coreengine.Conn, error) {
	dial := DialConfig{
		Timeout:    time.Duration(c.cfg.DialTimeoutMS) * time.Millisecond,
		MaxRetries: c.cfg.MaxRetries,
		Backoff:    time.Duration(c.cfg.BackoffMS) * time.Millisecond,
		OpTimeout:  time.Duration(c.cfg.OpTimeoutMS) * time.Millisecond,
	}
	if strings.ToLower(c.cfg.Mode) == "dial" {
		switch role {
		case model.RoleFixed:
			dial.Addr = c.cfg.FixedAddr
		case model.RoleAdaptive:
			dial.Addr = c.cfg.AdaptiveAddr
		default:
			return nil, fmt.Errorf("unknown session role %q", role)
		}
		return Dial(ctx, dial, c.log)
	}

	proc, err := Launch(ctx, LaunchConfig{
		Command:      c.cfg.Command,
		Seed:         seed,
		StartTimeout: time.Duration(c.cfg.StartTimeoutMS) * time.Millisecond,
		StopGrace:    time.Duration(c.cfg.StopGraceMS) * time.Millisecond,
	}, c.log)
	if err != nil {
		return nil, fmt.Errorf("launch %s engine: %w", role, err)
	}
	dial.Addr = proc.Addr()
	client, err := Dial(ctx, dial, c.log)
	if err != nil {
		_ = proc.Stop()
		return nil, fmt.Errorf("dial %s engine: %w", role, err)
	}
	c.log.Infof("%s engine up at %s (pid %d)", role, proc.Addr(), proc.cmd.Process.Pid)
	return &procConn{Client: client, proc: proc}, nil
}

// procConn ties a client to the process it spawned.
type procConn struct {
	*Client
	proc *Process
}

func (pc *procConn) Close() error {
	err := pc.Client.Close()
	if stopErr := pc.proc.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
