package app

import (
	"context"
	"testing"
	"time"

	"github.com/smarttraffic/dualsim/config"
)

func TestServiceWiresDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.API.Addr = "127.0.0.1:0"

	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Controller == nil {
		t.Fatalf("controller not wired")
	}
	if st := svc.Controller.Status(); st.State != "idle" {
		t.Fatalf("initial state %q", st.State)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestServiceRejectsBadEngineConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Mode = "dial"
	cfg.Engine.FixedAddr = ""
	cfg.Engine.AdaptiveAddr = ""

	if _, err := New(cfg); err == nil {
		t.Fatalf("dial mode without addresses accepted")
	}
}

func TestServiceRejectsMissingScenariosFile(t *testing.T) {
	cfg := config.Default()
	cfg.Scenarios.File = "/nonexistent/scenarios.json"

	if _, err := New(cfg); err == nil {
		t.Fatalf("unreadable scenarios file accepted")
	}
}
