package stream

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smarttraffic/dualsim/core/model"
	corestream "github.com/smarttraffic/dualsim/core/stream"
)

func startServer(t *testing.T, hub *corestream.Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(hub, nil, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialStream(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/dual"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func waitSubscribers(t *testing.T, hub *corestream.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", hub.Subscribers(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func snap(tick uint64) model.MergedSnapshot {
	return model.MergedSnapshot{
		RunID:    "run-7",
		Location: "silk_board",
		Tick:     tick,
		SimTime:  float64(tick),
		Fixed:    model.SessionSnapshot{Role: model.RoleFixed, QueueLength: 10},
		Adaptive: model.SessionSnapshot{Role: model.RoleAdaptive, QueueLength: 6},
	}
}

func TestStreamDeliversSnapshots(t *testing.T) {
	hub := corestream.NewHub(8, nil, nil)
	srv := startServer(t, hub)
	conn := dialStream(t, srv, nil)
	waitSubscribers(t, hub, 1)

	for tick := uint64(1); tick <= 3; tick++ {
		hub.Publish(snap(tick))
	}
	for tick := uint64(1); tick <= 3; tick++ {
		var got model.MergedSnapshot
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read snapshot %d: %v", tick, err)
		}
		if got.Tick != tick || got.RunID != "run-7" {
			t.Fatalf("snapshot %d: got tick %d run %s", tick, got.Tick, got.RunID)
		}
		if got.Adaptive.QueueLength != 6 {
			t.Fatalf("snapshot payload lost: %+v", got.Adaptive)
		}
	}
}

func TestStreamSendsRunEnded(t *testing.T) {
	hub := corestream.NewHub(8, nil, nil)
	srv := startServer(t, hub)
	conn := dialStream(t, srv, nil)
	waitSubscribers(t, hub, 1)

	hub.Publish(snap(1))
	hub.PublishErr(errors.New("demand window complete"))

	var first model.MergedSnapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var end struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := conn.ReadJSON(&end); err != nil {
		t.Fatalf("read terminal: %v", err)
	}
	if end.Type != "run_ended" || end.Reason != "demand window complete" {
		t.Fatalf("terminal frame %+v", end)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
	waitSubscribers(t, hub, 0)
}

func TestStreamAcceptsClientKeepalive(t *testing.T) {
	hub := corestream.NewHub(8, nil, nil)
	srv := startServer(t, hub)
	conn := dialStream(t, srv, nil)
	waitSubscribers(t, hub, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write keepalive: %v", err)
	}
	hub.Publish(snap(1))
	var got model.MergedSnapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read after keepalive: %v", err)
	}
	if got.Tick != 1 {
		t.Fatalf("tick %d", got.Tick)
	}
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	hub := corestream.NewHub(8, nil, nil)
	srv := startServer(t, hub)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/dual"
	header := http.Header{"Origin": {"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatalf("foreign origin accepted")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake status %d", resp.StatusCode)
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("subscription leaked")
	}
}

func TestStreamDisconnectUnsubscribes(t *testing.T) {
	hub := corestream.NewHub(8, nil, nil)
	srv := startServer(t, hub)
	conn := dialStream(t, srv, nil)
	waitSubscribers(t, hub, 1)

	conn.Close()
	waitSubscribers(t, hub, 0)
}
