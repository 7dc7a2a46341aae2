package ingress

import (
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/smarttraffic/dualsim/core/logger"
	"github.com/smarttraffic/dualsim/core/model"
	"github.com/smarttraffic/dualsim/core/perturb"
)

// pahoClient is the slice of the paho API the connector uses.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// mqttConnector subscribes to the perturbation topics under the configured
// prefix and submits decoded events to the bus. Payloads carry the same JSON
// bodies as the HTTP endpoints.
type mqttConnector struct {
	cfg Config
	bus *perturb.Bus
	log logger.Logger
	cli pahoClient
}

func newMQTTConnector(cfg Config, bus *perturb.Bus, log logger.Logger) *mqttConnector {
	return &mqttConnector{cfg: cfg, bus: bus, log: log}
}

// Start connects to the broker. Subscriptions are established in the connect
// callback so they come back after a reconnect.
func (m *mqttConnector) Start() error {
	opts := paho.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.OnConnect = func(c paho.Client) {
		m.log.Infof("ingress connected to %s", m.cfg.Broker)
		for topic, handler := range m.routes() {
			if token := c.Subscribe(topic, m.cfg.QoS, handler); token.Wait() && token.Error() != nil {
				m.log.Errorf("subscribe %s: %v", topic, token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		m.log.Errorf("ingress connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		m.log.Warnf("ingress reconnecting to %s", m.cfg.Broker)
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect ingress broker: %w", token.Error())
	}
	m.cli = cli
	return nil
}

func (m *mqttConnector) routes() map[string]paho.MessageHandler {
	prefix := m.cfg.TopicPrefix
	return map[string]paho.MessageHandler{
		prefix + "/emergency": m.onEmergency,
		prefix + "/weather":   m.onWeather,
		prefix + "/phase":     m.onPhase,
	}
}

func (m *mqttConnector) onEmergency(_ paho.Client, msg paho.Message) {
	var body struct {
		VehicleType string `json:"vehicle_type"`
	}
	if err := json.Unmarshal(msg.Payload(), &body); err != nil {
		m.log.Warnf("malformed emergency on %s: %v", msg.Topic(), err)
		return
	}
	m.submit(perturb.NewEmergency("", model.EmergencyClass(body.VehicleType)))
}

func (m *mqttConnector) onWeather(_ paho.Client, msg paho.Message) {
	var body struct {
		Condition string `json:"condition"`
	}
	if err := json.Unmarshal(msg.Payload(), &body); err != nil {
		m.log.Warnf("malformed weather on %s: %v", msg.Topic(), err)
		return
	}
	m.submit(perturb.NewWeather(model.WeatherCondition(body.Condition)))
}

func (m *mqttConnector) onPhase(_ paho.Client, msg paho.Message) {
	var body struct {
		Junction string `json:"junction"`
		Phase    int    `json:"phase"`
		Target   string `json:"target"`
	}
	if err := json.Unmarshal(msg.Payload(), &body); err != nil {
		m.log.Warnf("malformed phase override on %s: %v", msg.Topic(), err)
		return
	}
	m.submit(perturb.NewPhaseOverride(body.Junction, body.Phase, model.PhaseTarget(body.Target)))
}

// submit forwards to the bus. Rejected events are logged and dropped, never
// retried; the bus records the outcome either way.
func (m *mqttConnector) submit(ev model.PerturbationEvent) {
	if err := m.bus.Submit(ev); err != nil {
		m.log.Warnf("%s perturbation dropped: %v", ev.Kind, err)
		return
	}
	m.log.Debugf("%s perturbation %s queued", ev.Kind, ev.ID)
}

// Close unsubscribes and disconnects. Safe to call before Start.
func (m *mqttConnector) Close() {
	if m.cli == nil {
		return
	}
	if m.cli.IsConnected() {
		topics := make([]string, 0, 3)
		for topic := range m.routes() {
			topics = append(topics, topic)
		}
		if token := m.cli.Unsubscribe(topics...); token.Wait() && token.Error() != nil {
			m.log.Warnf("unsubscribe: %v", token.Error())
		}
		m.cli.Disconnect(quiesceMS)
	}
	m.cli = nil
}

const quiesceMS = 250
