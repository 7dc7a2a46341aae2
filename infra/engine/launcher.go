package engine

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smarttraffic/dualsim/core/logger"
)

// Launch defaults.
const (
	DefaultCommand      = "microsim"
	DefaultStartTimeout = 5 * time.Second
	DefaultStopGrace    = 3 * time.Second
)

// listenPrefix is the stdout line an engine binary prints once bound.
const listenPrefix = "LISTEN "

// LaunchConfig configures a local engine process.
type LaunchConfig struct {
	Command      string
	Args         []string
	Seed         int64
	StartTimeout time.Duration
	StopGrace    time.Duration
}

// Process is a launched engine binary. Stop kills its process group, so
// engines that fork helpers do not leak.
type Process struct {
	cmd  *exec.Cmd
	addr string
	log  logger.Logger

	grace    time.Duration
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// Launch starts the engine binary, passing an ephemeral listen address, and
// waits for the LISTEN line announcing the bound port.
func Launch(ctx context.Context, cfg LaunchConfig, log logger.Logger) (*Process, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}

	args := append([]string{}, cfg.Args...)
	args = append(args, "--listen", "127.0.0.1:0", "--seed", strconv.FormatInt(cfg.Seed, 10))
	cmd := exec.CommandContext(ctx, cfg.Command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	p := &Process{cmd: cmd, log: log, grace: cfg.StopGrace, done: make(chan struct{})}

	addrCh := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			line := sc.Text()
			if addr, ok := strings.CutPrefix(line, listenPrefix); ok {
				select {
				case addrCh <- strings.TrimSpace(addr):
				default:
				}
				continue
			}
			log.Debugf("engine stdout: %s", line)
		}
	}()
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			log.Debugf("engine stderr: %s", sc.Text())
		}
	}()
	go func() {
		err := cmd.Wait()
		if err != nil {
			p.stopErr = err
		}
		close(p.done)
	}()

	select {
	case addr := <-addrCh:
		p.addr = addr
		return p, nil
	case <-p.done:
		return nil, fmt.Errorf("engine %s exited before announcing its port: %v", cfg.Command, p.stopErr)
	case <-time.After(cfg.StartTimeout):
		p.kill()
		return nil, fmt.Errorf("engine %s did not announce its port within %v", cfg.Command, cfg.StartTimeout)
	case <-ctx.Done():
		p.kill()
		return nil, ctx.Err()
	}
}

// Addr is the engine's bound listen address.
func (p *Process) Addr() string { return p.addr }

// Stop terminates the process group, escalating to SIGKILL after the grace
// period. Idempotent.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		p.signal(syscall.SIGTERM)
		select {
		case <-p.done:
		case <-time.After(p.grace):
			p.log.Warnf("engine pid %d ignored SIGTERM, killing", p.cmd.Process.Pid)
			p.kill()
			<-p.done
		}
	})
	return nil
}

func (p *Process) signal(sig syscall.Signal) {
	if p.cmd.Process == nil {
		return
	}
	// Negative pid reaches the whole process group.
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil {
		_ = p.cmd.Process.Signal(sig)
	}
}

func (p *Process) kill() {
	p.signal(syscall.SIGKILL)
}
