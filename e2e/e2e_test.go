//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/smarttraffic/dualsim/app"
	"github.com/smarttraffic/dualsim/config"
	"github.com/smarttraffic/dualsim/core/model"
	"github.com/smarttraffic/dualsim/core/perturb"
	"github.com/smarttraffic/dualsim/infra/metrics"
	"github.com/smarttraffic/dualsim/ingress"
)

const (
	influxToken  = "e2e-token"
	influxOrg    = "dualsim"
	influxBucket = "dualsim_e2e"
)

// junitReport is a minimal representation of a JUnit XML report. The suite
// writes one so CI systems can display the results.
type junitReport struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name    string  `xml:"name,attr"`
	Failure *string `xml:"failure,omitempty"`
	Time    float64 `xml:"time,attr"`
}

// writeJUnit writes the provided report to the given path.
func writeJUnit(path string, rep junitReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	return enc.Encode(rep)
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
}

// startMosquitto spins up a Mosquitto broker for tests. The stock image only
// serves loopback clients, so the bundled no-auth config is used instead.
func startMosquitto(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start mosquitto container: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "1883")
	return cont, fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

// startInflux starts an InfluxDB 2.7 container pre-onboarded with a known
// token, org and bucket, and returns it along with the base URL.
func startInflux(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "e2e",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "e2e-password",
			"DOCKER_INFLUXDB_INIT_ORG":         influxOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      influxBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": influxToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "8086")
	return cont, fmt.Sprintf("http://%s:%s", host, port.Port())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func newPublisher(t *testing.T, broker string) paho.Client {
	t.Helper()
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("dualsim-e2e-pub")
	cli := paho.NewClient(opts)
	if tok := cli.Connect(); tok.Wait() && tok.Error() != nil {
		t.Fatalf("connect publisher: %v", tok.Error())
	}
	return cli
}

// publish sends a retained message so delivery does not race the
// connector's subscribe.
func publish(t *testing.T, cli paho.Client, topic, payload string) {
	t.Helper()
	if tok := cli.Publish(topic, 1, true, payload); tok.Wait() && tok.Error() != nil {
		t.Fatalf("publish %s: %v", topic, tok.Error())
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// Test_E2E_PerturbationIngress pushes perturbations through a real broker
// and verifies they land on the bus in application order.
func Test_E2E_PerturbationIngress(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	mqttCont, brokerURL := startMosquitto(ctx, t)
	defer mqttCont.Terminate(ctx) //nolint:errcheck
	t.Logf("Mosquitto started at %s", brokerURL)

	bus := perturb.NewBus(perturb.DefaultQueueCap, nil, nil)
	bus.BeginRun(perturb.RunScope{RunID: "e2e-run", Junction: "J_e2e", Phases: 4})

	conn, err := ingress.New(ingress.Config{
		Mode:     ingress.ModeMQTT,
		Broker:   brokerURL,
		ClientID: "dualsim-e2e-ingress",
		QoS:      1,
	}, bus, nil)
	if err != nil {
		t.Fatalf("build connector: %v", err)
	}
	if err := conn.Start(); err != nil {
		t.Fatalf("start connector: %v", err)
	}
	defer conn.Close()

	pub := newPublisher(t, brokerURL)
	defer pub.Disconnect(250)

	publish(t, pub, "dualsim/perturb/emergency", `{"vehicle_type":"ambulance"}`)
	publish(t, pub, "dualsim/perturb/phase", `{"junction":"J_e2e","phase":2,"target":"both"}`)
	publish(t, pub, "dualsim/perturb/weather", `{"condition":"rain"}`)

	waitFor(t, 15*time.Second, func() bool { return bus.Pending() == 3 })

	evs := bus.Drain()
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	if evs[0].Kind != model.PerturbEmergency || evs[0].Emergency.Class != model.EmergencyAmbulance {
		t.Fatalf("unexpected first event: %+v", evs[0])
	}
	if evs[1].Kind != model.PerturbPhaseOverride || evs[1].Phase.Target != model.TargetBoth {
		t.Fatalf("unexpected second event: %+v", evs[1])
	}
	if evs[2].Kind != model.PerturbWeather || evs[2].Weather.Condition != model.WeatherRain {
		t.Fatalf("unexpected third event: %+v", evs[2])
	}
}

// Test_E2E_ServiceSmoke boots the assembled service against a live broker
// and exercises the HTTP surface.
func Test_E2E_ServiceSmoke(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	mqttCont, brokerURL := startMosquitto(ctx, t)
	defer mqttCont.Terminate(ctx) //nolint:errcheck

	cfg := config.Default()
	cfg.API.Addr = freeAddr(t)
	cfg.Ingress.Mode = ingress.ModeMQTT
	cfg.Ingress.Broker = brokerURL
	cfg.Ingress.QoS = 1

	svc, err := app.New(cfg)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx) }()

	base := "http://" + cfg.API.Addr
	waitFor(t, 10*time.Second, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	resp, err := http.Get(base + "/api/dual/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	var st model.RunStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	resp.Body.Close()
	if st.State != "idle" {
		t.Fatalf("expected idle service, got %q", st.State)
	}

	// Perturbations are refused while no run is active.
	resp, err = http.Post(base+"/api/dual/weather", "application/json",
		strings.NewReader(`{"condition":"storm"}`))
	if err != nil {
		t.Fatalf("post weather: %v", err)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode weather response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict || body.Error != "sessions_not_running" {
		t.Fatalf("expected 409 sessions_not_running, got %d %q", resp.StatusCode, body.Error)
	}

	stop()
	if err := <-done; err != nil {
		t.Fatalf("service run: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("service close: %v", err)
	}

	dir := os.Getenv("E2E_REPORT_DIR")
	if dir == "" {
		dir = t.TempDir()
	}
	rep := junitReport{Name: "e2e", Tests: 1, Cases: []junitTestCase{{Name: "Test_E2E_ServiceSmoke", Time: 0}}}
	if err := writeJUnit(filepath.Join(dir, "e2e.xml"), rep); err != nil {
		t.Logf("write junit: %v", err)
	}
}

// Test_E2E_InfluxTickExport writes snapshots through the sink and reads the
// points back from a live InfluxDB.
func Test_E2E_InfluxTickExport(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	influxCont, influxURL := startInflux(ctx, t)
	defer influxCont.Terminate(ctx) //nolint:errcheck
	t.Logf("InfluxDB started at %s", influxURL)

	sink := metrics.NewInfluxSinkWithFallback(influxURL, influxToken, influxOrg, influxBucket)
	is, ok := sink.(*metrics.InfluxSink)
	if !ok {
		t.Fatalf("health check fell back to a nop sink against a live server")
	}
	defer is.Close()

	for tick := uint64(1); tick <= 3; tick++ {
		if err := is.RecordSnapshot(sampleSnapshot(tick)); err != nil {
			t.Fatalf("record snapshot %d: %v", tick, err)
		}
	}

	probe := newInfluxProbe(influxURL, influxToken, influxOrg, influxBucket)
	defer probe.close()
	n, err := probe.countRows(ctx, "dual_tick")
	if err != nil {
		t.Fatalf("query dual_tick: %v", err)
	}
	if n == 0 {
		t.Fatalf("no dual_tick points recorded")
	}
	t.Logf("influx returned %d dual_tick rows", n)
}

func sampleSnapshot(tick uint64) model.MergedSnapshot {
	return model.MergedSnapshot{
		RunID:    "e2e-run",
		Location: "silk_board",
		Tick:     tick,
		SimTime:  float64(tick),
		Fixed:    model.SessionSnapshot{Role: model.RoleFixed, QueueLength: 12, AvgWaitTime: 30.5, Phase: 1},
		Adaptive: model.SessionSnapshot{Role: model.RoleAdaptive, QueueLength: 7, AvgWaitTime: 21.25, Phase: 2},
		Comparison: model.Comparison{
			QueueDiff:          -5,
			WaitDiff:           -9.25,
			WaitImprovementPct: 30.3,
		},
	}
}
