package config

import "fmt"

// APIConfig configures the HTTP control and streaming server.
type APIConfig struct {
	// Addr is the listen address, host:port.
	Addr string `json:"addr"`
}

// SetDefaults applies sane defaults.
func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// Validate checks mandatory fields.
func (c APIConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("api address is required")
	}
	return nil
}

// StreamConfig sizes the per-subscriber snapshot buffer.
type StreamConfig struct {
	// Buffer is the number of snapshots queued per subscriber before the
	// oldest is dropped.
	Buffer int `json:"buffer"`
}

// SetDefaults applies sane defaults.
func (c *StreamConfig) SetDefaults() {
	if c.Buffer <= 0 {
		c.Buffer = 16
	}
}
