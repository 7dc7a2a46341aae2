package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

//nolint:gocyclo
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `api:
  addr: ":8088"
engine:
  mode: "dial"
  fixed_addr: "127.0.0.1:7001"
  adaptive_addr: "127.0.0.1:7002"
  op_timeout_ms: 2500
demand:
  data_dir: "/var/lib/dualsim/volumes"
scenarios:
  file: "/etc/dualsim/scenarios.json"
stream:
  buffer: 64
tick:
  interval_ms: 500
  sim_seconds: 2
ingress:
  mode: "mqtt"
  broker: "tcp://localhost:1883"
  client_id: "ingress-1"
  qos: 1
prometheus:
  enabled: true
  addr: ":9191"
influx:
  enabled: true
  url: "http://localhost:8086"
  token: "secret"
  org: "traffic"
  bucket: "dualsim"
logging:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"api.addr", cfg.API.Addr, ":8088"},
		{"engine.mode", cfg.Engine.Mode, "dial"},
		{"engine.fixed_addr", cfg.Engine.FixedAddr, "127.0.0.1:7001"},
		{"engine.adaptive_addr", cfg.Engine.AdaptiveAddr, "127.0.0.1:7002"},
		{"engine.op_timeout_ms", cfg.Engine.OpTimeoutMS, 2500},
		{"demand.data_dir", cfg.Demand.DataDir, "/var/lib/dualsim/volumes"},
		{"scenarios.file", cfg.Scenarios.File, "/etc/dualsim/scenarios.json"},
		{"stream.buffer", cfg.Stream.Buffer, 64},
		{"tick.interval_ms", cfg.Tick.IntervalMS, 500},
		{"tick.sim_seconds", cfg.Tick.SimSeconds, 2.0},
		{"tick.interval", cfg.Tick.Interval(), 500 * time.Millisecond},
		{"ingress.mode", cfg.Ingress.Mode, "mqtt"},
		{"ingress.broker", cfg.Ingress.Broker, "tcp://localhost:1883"},
		{"ingress.client_id", cfg.Ingress.ClientID, "ingress-1"},
		{"ingress.qos", cfg.Ingress.QoS, byte(1)},
		{"ingress.topic_prefix default", cfg.Ingress.TopicPrefix, "dualsim/perturb"},
		{"prometheus.enabled", cfg.Prometheus.Enabled, true},
		{"prometheus.addr", cfg.Prometheus.Addr, ":9191"},
		{"influx.url", cfg.Influx.URL, "http://localhost:8086"},
		{"influx.bucket", cfg.Influx.Bucket, "dualsim"},
		{"logging.level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("api: {}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"api.addr", cfg.API.Addr, ":8080"},
		{"engine.mode", cfg.Engine.Mode, "spawn"},
		{"stream.buffer", cfg.Stream.Buffer, 16},
		{"tick.interval_ms", cfg.Tick.IntervalMS, 1000},
		{"tick.sim_seconds", cfg.Tick.SimSeconds, 1.0},
		{"ingress.mode", cfg.Ingress.Mode, "none"},
		{"prometheus.enabled", cfg.Prometheus.Enabled, false},
		{"prometheus.addr", cfg.Prometheus.Addr, ":9090"},
		{"logging.level", cfg.Logging.Level, "info"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `api:
  addr: ":8080"
logging:
  level: "info"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DUALSIM_API__ADDR", ":9999")
	t.Setenv("DUALSIM_LOGGING__LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.API.Addr != ":9999" {
		t.Errorf("api.addr not overridden: %v", cfg.API.Addr)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging.level not overridden: %v", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		file string
		data string
	}{
		{"unsupported extension", "config.toml", "api"},
		{"bad log level", "level.yaml", "logging:\n  level: \"loud\"\n"},
		{"tick too fast", "tick.yaml", "tick:\n  interval_ms: 5\n"},
		{"dial without addrs", "engine.yaml", "engine:\n  mode: \"dial\"\n"},
		{"influx missing bucket", "influx.yaml", "influx:\n  enabled: true\n  url: \"http://localhost:8086\"\n  org: \"traffic\"\n"},
		{"mqtt without broker", "ingress.yaml", "ingress:\n  mode: \"mqtt\"\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := filepath.Join(dir, c.file)
			if err := os.WriteFile(path, []byte(c.data), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("config accepted")
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
