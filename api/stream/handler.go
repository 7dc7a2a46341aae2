// Package stream serves the live dual-run feed over WebSocket. Each client
// gets its own hub subscription; a slow or dead socket loses snapshots and
// eventually its connection, never the tick loop's pace.
package stream

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smarttraffic/dualsim/core/logger"
	corestream "github.com/smarttraffic/dualsim/core/stream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Handler upgrades GET /ws/dual requests and pumps hub events out.
type Handler struct {
	hub      *corestream.Hub
	log      logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler wires the stream endpoint. checkOrigin overrides the default
// policy, which admits same-host and localhost origins.
func NewHandler(hub *corestream.Hub, checkOrigin func(*http.Request) bool, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger{}
	}
	if checkOrigin == nil {
		checkOrigin = defaultCheckOrigin
	}
	return &Handler{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Register mounts the stream route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/dual", h.serve)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("ws upgrade: %v", err)
		return
	}
	sub := h.hub.Subscribe()
	h.log.Debugf("stream client %s connected", r.RemoteAddr)

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)

	sub.Close()
	conn.Close()
	h.log.Debugf("stream client %s disconnected, %d snapshots dropped", r.RemoteAddr, sub.Dropped())
}

// readPump consumes control frames and client keepalives. Anything the
// client sends beyond {"type":"ping"} is ignored.
func (h *Handler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *corestream.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if ev.Err != nil {
				h.sendRunEnded(conn, ev.Err)
				return
			}
			if err := conn.WriteJSON(ev.Snapshot); err != nil {
				return
			}
		}
	}
}

type endMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// sendRunEnded tells the client why the feed stopped, then closes cleanly.
func (h *Handler) sendRunEnded(conn *websocket.Conn, cause error) {
	reason := cause.Error()
	if err := conn.WriteJSON(endMessage{Type: "run_ended", Reason: reason}); err != nil {
		return
	}
	// Close payloads are capped at 125 bytes.
	if len(reason) > 120 {
		reason = reason[:120]
	}
	data := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, data, time.Now().Add(writeWait))
}

// defaultCheckOrigin admits requests with no Origin header, same-host
// origins, and local development hosts.
func defaultCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
