package ingress

import (
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/smarttraffic/dualsim/core/model"
	"github.com/smarttraffic/dualsim/core/perturb"
)

func activeBus(t *testing.T) *perturb.Bus {
	t.Helper()
	bus := perturb.NewBus(8, nil, nil)
	bus.BeginRun(perturb.RunScope{RunID: "run-1", Junction: "J_test", Phases: 4})
	return bus
}

func swapClient(t *testing.T, mc *mockClient) {
	t.Helper()
	old := newMQTTClient
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = old })
}

func startMQTT(t *testing.T, mc *mockClient, bus *perturb.Bus) Connector {
	t.Helper()
	swapClient(t, mc)
	conn, err := New(Config{Mode: ModeMQTT, Broker: "tcp://localhost:1883", QoS: 1}, bus, nil)
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	if err := conn.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return conn
}

func TestMQTTSubscribesPerturbTopics(t *testing.T) {
	mc := &mockClient{}
	startMQTT(t, mc, activeBus(t))

	want := map[string]bool{
		"dualsim/perturb/emergency": false,
		"dualsim/perturb/weather":   false,
		"dualsim/perturb/phase":     false,
	}
	for _, sub := range mc.subscribed {
		if sub.qos != 1 {
			t.Fatalf("topic %s subscribed with qos %d", sub.topic, sub.qos)
		}
		want[sub.topic] = true
	}
	for topic, seen := range want {
		if !seen {
			t.Fatalf("topic %s not subscribed", topic)
		}
	}
	if mc.opts.ClientID != "dualsim-ingress" {
		t.Fatalf("client id = %q", mc.opts.ClientID)
	}
	if !mc.opts.AutoReconnect {
		t.Fatalf("auto reconnect disabled")
	}
}

func TestMQTTSubmitsDecodedEvents(t *testing.T) {
	mc := &mockClient{}
	bus := activeBus(t)
	startMQTT(t, mc, bus)

	mc.deliver(t, "dualsim/perturb/weather", `{"condition":"rain"}`)
	mc.deliver(t, "dualsim/perturb/emergency", `{"vehicle_type":"ambulance"}`)
	mc.deliver(t, "dualsim/perturb/phase", `{"junction":"J_test","phase":2,"target":"both"}`)

	if n := bus.Pending(); n != 3 {
		t.Fatalf("pending = %d, want 3", n)
	}
	evs := bus.Drain()
	if len(evs) != 3 {
		t.Fatalf("drained %d events", len(evs))
	}
	// Weather always drains last.
	if evs[0].Kind != model.PerturbEmergency || evs[1].Kind != model.PerturbPhaseOverride || evs[2].Kind != model.PerturbWeather {
		t.Fatalf("drain order = %s, %s, %s", evs[0].Kind, evs[1].Kind, evs[2].Kind)
	}
	if evs[0].Emergency.Class != model.EmergencyAmbulance || evs[0].Emergency.VehicleID == "" {
		t.Fatalf("emergency payload = %+v", evs[0].Emergency)
	}
	if evs[1].Phase.Junction != "J_test" || evs[1].Phase.Phase != 2 || evs[1].Phase.Target != model.TargetBoth {
		t.Fatalf("phase payload = %+v", evs[1].Phase)
	}
	if evs[2].Weather.Condition != model.WeatherRain {
		t.Fatalf("weather payload = %+v", evs[2].Weather)
	}
}

func TestMQTTDropsRejectedPayloads(t *testing.T) {
	mc := &mockClient{}
	bus := activeBus(t)
	startMQTT(t, mc, bus)

	mc.deliver(t, "dualsim/perturb/weather", `{"condition":`)
	mc.deliver(t, "dualsim/perturb/weather", `{"condition":"snow"}`)
	mc.deliver(t, "dualsim/perturb/emergency", `{"vehicle_type":"bicycle"}`)
	mc.deliver(t, "dualsim/perturb/phase", `{"junction":"J_other","phase":1}`)
	if n := bus.Pending(); n != 0 {
		t.Fatalf("pending = %d after rejects", n)
	}

	// A closed bus swallows valid payloads too.
	bus.EndRun()
	mc.deliver(t, "dualsim/perturb/weather", `{"condition":"fog"}`)
	if n := bus.Pending(); n != 0 {
		t.Fatalf("pending = %d after run end", n)
	}
}

func TestMQTTCloseUnsubscribes(t *testing.T) {
	mc := &mockClient{}
	conn := startMQTT(t, mc, activeBus(t))
	conn.Close()
	if len(mc.unsubscribed) != 3 {
		t.Fatalf("unsubscribed %d topics", len(mc.unsubscribed))
	}
	if !mc.disconnected {
		t.Fatalf("client not disconnected")
	}
	// Close is idempotent.
	conn.Close()
}

func TestNewConnectorModes(t *testing.T) {
	bus := perturb.NewBus(8, nil, nil)

	conn, err := New(Config{}, bus, nil)
	if err != nil {
		t.Fatalf("none mode: %v", err)
	}
	if err := conn.Start(); err != nil {
		t.Fatalf("nop start: %v", err)
	}
	conn.Close()

	if _, err := New(Config{Mode: "amqp"}, bus, nil); err == nil {
		t.Fatalf("unknown mode accepted")
	}
	if _, err := New(Config{Mode: ModeMQTT}, bus, nil); err == nil {
		t.Fatalf("mqtt without broker accepted")
	}
}

func TestMQTTConnectFailure(t *testing.T) {
	mc := &mockClient{connectErr: errors.New("broker down")}
	swapClient(t, mc)
	conn, err := New(Config{Mode: ModeMQTT, Broker: "tcp://localhost:1883"}, perturb.NewBus(8, nil, nil), nil)
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	if err := conn.Start(); err == nil {
		t.Fatalf("start succeeded against dead broker")
	}
}

// mockClient implements paho.Client for tests.
type mockClient struct {
	opts       *paho.ClientOptions
	connectErr error
	subscribed []struct {
		topic   string
		qos     byte
		handler paho.MessageHandler
	}
	unsubscribed []string
	disconnected bool
}

func (m *mockClient) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	for _, sub := range m.subscribed {
		if sub.topic == topic {
			sub.handler(m, mockMessage{topic: topic, p: []byte(payload)})
			return
		}
	}
	t.Fatalf("no subscription for %s", topic)
}

func (m *mockClient) IsConnected() bool { return !m.disconnected }
func (m *mockClient) Connect() paho.Token {
	if m.connectErr != nil {
		return &dummyToken{err: m.connectErr}
	}
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) { m.disconnected = true }
func (m *mockClient) Publish(string, byte, bool, interface{}) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	m.subscribed = append(m.subscribed, struct {
		topic   string
		qos     byte
		handler paho.MessageHandler
	}{topic, qos, callback})
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(topics ...string) paho.Token {
	m.unsubscribed = append(m.unsubscribed, topics...)
	return &dummyToken{}
}
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return !m.disconnected }

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
