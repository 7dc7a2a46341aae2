// Package ingress bridges external perturbation channels into the run's
// perturbation bus. The HTTP API and the connectors submit through the same
// bus, so validation and dedup behave identically regardless of source.
package ingress

import (
	"fmt"

	"github.com/smarttraffic/dualsim/core/logger"
	"github.com/smarttraffic/dualsim/core/perturb"
)

// Ingress modes.
const (
	ModeNone = "none"
	ModeMQTT = "mqtt"
)

// Config defines the optional perturbation ingress.
type Config struct {
	Mode        string `json:"mode"`
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = ModeNone
	}
	if c.ClientID == "" {
		c.ClientID = "dualsim-ingress"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "dualsim/perturb"
	}
}

// Validate checks the mode and its required fields.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeNone, ModeMQTT:
	default:
		return fmt.Errorf("unknown ingress mode %s", c.Mode)
	}
	if c.Mode == ModeMQTT && c.Broker == "" {
		return fmt.Errorf("mqtt ingress needs a broker")
	}
	return nil
}

// Connector feeds perturbations from an external channel into the bus.
type Connector interface {
	Start() error
	Close()
}

// New builds the connector for cfg.Mode: a no-op for "none", the MQTT
// bridge for "mqtt".
func New(cfg Config, bus *perturb.Bus, log logger.Logger) (Connector, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	switch cfg.Mode {
	case ModeMQTT:
		return newMQTTConnector(cfg, bus, log), nil
	default:
		return nopConnector{}, nil
	}
}

type nopConnector struct{}

func (nopConnector) Start() error { return nil }
func (nopConnector) Close()       {}
