package config

import "fmt"

// PromConfig exposes the Prometheus endpoint.
type PromConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// SetDefaults applies sane defaults.
func (c *PromConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
}

// InfluxConfig points at an InfluxDB instance for per-tick comparison
// points.
type InfluxConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

// Validate checks mandatory fields when the sink is enabled.
func (c InfluxConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" || c.Org == "" || c.Bucket == "" {
		return fmt.Errorf("influx sink needs url, org and bucket")
	}
	return nil
}
