package microsim

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/smarttraffic/dualsim/core/engine"
)

type testConn struct {
	conn net.Conn
	enc  *json.Encoder
	sc   *bufio.Scanner
}

func dialServer(t *testing.T, s *Server) *testConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testConn{conn: conn, enc: json.NewEncoder(conn), sc: bufio.NewScanner(conn)}
}

func (c *testConn) roundTrip(t *testing.T, req engine.Request) engine.Response {
	t.Helper()
	if err := c.enc.Encode(req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !c.sc.Scan() {
		t.Fatalf("no response: %v", c.sc.Err())
	}
	var resp engine.Response
	if err := json.Unmarshal(c.sc.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func startServer(t *testing.T) *Server {
	t.Helper()
	s, err := Listen("127.0.0.1:0", 7, false, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServerSession(t *testing.T) {
	srv := startServer(t)
	c := dialServer(t, srv)

	resp := c.roundTrip(t, engine.Request{Op: engine.OpHello, Seq: 1})
	if !resp.OK || resp.Seq != 1 {
		t.Fatalf("hello failed: %+v", resp)
	}
	if resp.Info == nil || resp.Info.Name != "microsim" {
		t.Fatalf("expected microsim info, got %+v", resp.Info)
	}

	load := testLoad(engine.ControlFixed)
	resp = c.roundTrip(t, engine.Request{Op: engine.OpLoad, Seq: 2, Load: &load})
	if !resp.OK {
		t.Fatalf("load failed: %+v", resp)
	}

	resp = c.roundTrip(t, engine.Request{Op: engine.OpApply, Seq: 3, Cmds: []engine.Command{
		engine.InsertVehicle("car-1", "car", "n_in", "s_in", false),
	}})
	if !resp.OK {
		t.Fatalf("apply failed: %+v", resp)
	}

	resp = c.roundTrip(t, engine.Request{Op: engine.OpAdvance, Seq: 4, DT: 5})
	if !resp.OK || resp.Time != 5 {
		t.Fatalf("advance failed: %+v", resp)
	}

	resp = c.roundTrip(t, engine.Request{Op: engine.OpState, Seq: 5})
	if !resp.OK || resp.State == nil {
		t.Fatalf("state failed: %+v", resp)
	}
	if resp.State.SimTime != 5 || resp.State.VehicleCount != 1 {
		t.Fatalf("unexpected state: %+v", resp.State)
	}

	resp = c.roundTrip(t, engine.Request{Op: engine.OpBye, Seq: 6})
	if !resp.OK {
		t.Fatalf("bye failed: %+v", resp)
	}
	if c.sc.Scan() {
		t.Fatalf("expected connection closed after bye, got %q", c.sc.Text())
	}
}

func TestServerRejectsBeforeLoad(t *testing.T) {
	srv := startServer(t)
	c := dialServer(t, srv)
	resp := c.roundTrip(t, engine.Request{Op: engine.OpAdvance, Seq: 1, DT: 1})
	if resp.OK || resp.Error == "" {
		t.Fatalf("expected advance before load to fail, got %+v", resp)
	}
}

func TestServerMalformedLine(t *testing.T) {
	srv := startServer(t)
	c := dialServer(t, srv)
	if _, err := c.conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !c.sc.Scan() {
		t.Fatalf("no response to malformed line")
	}
	var resp engine.Response
	if err := json.Unmarshal(c.sc.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK || resp.Error == "" {
		t.Fatalf("expected error response, got %+v", resp)
	}
	resp = c.roundTrip(t, engine.Request{Op: engine.OpHello, Seq: 2})
	if !resp.OK {
		t.Fatalf("connection should survive a malformed line, got %+v", resp)
	}
}

func TestServerUnknownOp(t *testing.T) {
	srv := startServer(t)
	c := dialServer(t, srv)
	resp := c.roundTrip(t, engine.Request{Op: "dance", Seq: 9})
	if resp.OK || resp.Seq != 9 {
		t.Fatalf("expected failed response with seq echo, got %+v", resp)
	}
}

func TestServerSessionsAreIsolated(t *testing.T) {
	srv := startServer(t)
	c1 := dialServer(t, srv)
	c2 := dialServer(t, srv)

	load := testLoad(engine.ControlFixed)
	if resp := c1.roundTrip(t, engine.Request{Op: engine.OpLoad, Seq: 1, Load: &load}); !resp.OK {
		t.Fatalf("load c1: %+v", resp)
	}
	load2 := testLoad(engine.ControlExternal)
	if resp := c2.roundTrip(t, engine.Request{Op: engine.OpLoad, Seq: 1, Load: &load2}); !resp.OK {
		t.Fatalf("load c2: %+v", resp)
	}

	if resp := c1.roundTrip(t, engine.Request{Op: engine.OpAdvance, Seq: 2, DT: 5}); !resp.OK {
		t.Fatalf("advance c1: %+v", resp)
	}
	resp := c2.roundTrip(t, engine.Request{Op: engine.OpState, Seq: 2})
	if !resp.OK || resp.State.SimTime != 0 {
		t.Fatalf("c2 must not see c1 time, got %+v", resp.State)
	}
}

func TestServerClose(t *testing.T) {
	srv := startServer(t)
	c := dialServer(t, srv)
	if resp := c.roundTrip(t, engine.Request{Op: engine.OpHello, Seq: 1}); !resp.OK {
		t.Fatalf("hello: %+v", resp)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.sc.Scan() {
		t.Fatalf("expected closed connection, got %q", c.sc.Text())
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
