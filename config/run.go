package config

import (
	"fmt"
	"time"
)

// TickConfig paces the orchestrator loop.
type TickConfig struct {
	// IntervalMS is the wall-clock tick interval in milliseconds.
	IntervalMS int `json:"interval_ms"`
	// SimSeconds is the simulated time advanced per tick.
	SimSeconds float64 `json:"sim_seconds"`
}

// SetDefaults applies sane defaults.
func (c *TickConfig) SetDefaults() {
	if c.IntervalMS <= 0 {
		c.IntervalMS = 1000
	}
	if c.SimSeconds <= 0 {
		c.SimSeconds = 1
	}
}

// Validate checks the pacing values.
func (c TickConfig) Validate() error {
	if c.IntervalMS < 10 {
		return fmt.Errorf("tick interval %dms is too small", c.IntervalMS)
	}
	return nil
}

// Interval returns the tick interval as a duration.
func (c TickConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// DemandConfig points at recorded traffic volumes.
type DemandConfig struct {
	// DataDir holds per-location hourly volume CSVs. Empty means synthetic
	// demand only.
	DataDir string `json:"data_dir"`
}

// ScenariosConfig selects the benchmark locations.
type ScenariosConfig struct {
	// File is a JSON array of scenario definitions replacing the built-in
	// catalog. Empty keeps the built-ins.
	File string `json:"file"`
}
