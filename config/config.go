package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/smarttraffic/dualsim/infra/engine"
	"github.com/smarttraffic/dualsim/ingress"
)

type Config struct {
	API        APIConfig       `json:"api"`
	Engine     engine.Config   `json:"engine"`
	Demand     DemandConfig    `json:"demand"`
	Scenarios  ScenariosConfig `json:"scenarios"`
	Stream     StreamConfig    `json:"stream"`
	Tick       TickConfig      `json:"tick"`
	Ingress    ingress.Config  `json:"ingress"`
	Prometheus PromConfig      `json:"prometheus"`
	Influx     InfluxConfig    `json:"influx"`
	Logging    LoggingConfig   `json:"logging"`
}

// Load reads the file at path, applies DUALSIM_ environment overrides and
// validates every section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	// Optional environment overrides: DUALSIM_API__ADDR => api.addr
	if err := k.Load(env.Provider("DUALSIM_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "dualsim_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a runnable configuration without a file: internal engine,
// API on :8080, no external sinks.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults applies section defaults.
func (c *Config) SetDefaults() {
	c.API.SetDefaults()
	c.Engine.SetDefaults()
	c.Stream.SetDefaults()
	c.Tick.SetDefaults()
	c.Ingress.SetDefaults()
	c.Prometheus.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Tick.Validate(); err != nil {
		return err
	}
	if err := c.Ingress.Validate(); err != nil {
		return err
	}
	if err := c.Influx.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}
