package bench

import (
	"strings"
	"testing"
	"time"

	"thrustrig/controller"
	"thrustrig/rig"
)

func dialClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialRefused(t *testing.T) {
	_, err := Dial("127.0.0.1:1")
	if err == nil || !strings.Contains(err.Error(), "rigctl serve") {
		t.Fatalf("Dial err = %v", err)
	}
}

func TestClientRunAndPoints(t *testing.T) {
	b := startTestServer(t)
	b.board.Update(rig.Voltage, 12.4, true)
	c := dialClient(t, b.srv.Addr())

	id, err := c.RunSource("REPEAT 3 { ADD_POINT }")
	if err != nil || id == "" {
		t.Fatalf("RunSource = %q, %v", id, err)
	}
	b.ctl.Wait(2 * time.Second)

	points, err := c.Points()
	if err != nil {
		t.Fatalf("Points: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}
	for i, p := range points {
		if p.Voltage != 12.4 {
			t.Fatalf("point %d voltage = %v", i, p.Voltage)
		}
		if i > 0 && p.ElapsedMs < points[i-1].ElapsedMs {
			t.Fatalf("elapsed times decrease: %+v", points)
		}
	}

	if _, err := c.RunSource("IF { }"); err == nil {
		t.Fatalf("RunSource of broken script succeeded")
	}
}

func TestClientControl(t *testing.T) {
	b := startTestServer(t)
	c := dialClient(t, b.srv.Addr())

	if err := c.SetThrottle(25); err != nil {
		t.Fatalf("SetThrottle: %v", err)
	}
	if err := c.SetThrottle(250); err == nil {
		t.Fatalf("SetThrottle(250) succeeded")
	}
	if err := c.Zero(""); err == nil {
		t.Fatalf("Zero with no readings succeeded")
	}
	b.board.Update(rig.Current, 0.4, true)
	if err := c.Zero("current"); err != nil {
		t.Fatalf("Zero(current): %v", err)
	}

	if _, err := c.RunSource("WAIT 10000"); err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	if err := c.SetThrottle(10); err == nil {
		t.Fatalf("manual throttle accepted during a run")
	}
	if err := c.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	b.ctl.Wait(time.Second)
	if err := c.Cancel(); err != nil {
		t.Fatalf("Cancel when idle: %v", err)
	}
	if b.board.Throttle() != 25 {
		t.Fatalf("throttle = %d, want 25", b.board.Throttle())
	}
}

func TestClientSubscribe(t *testing.T) {
	b := startTestServer(t)
	c := dialClient(t, b.srv.Addr())
	if err := c.Subscribe(); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	select {
	case st := <-c.StatusCh:
		if st.Run.State != controller.Idle {
			t.Fatalf("initial state = %s", st.Run.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial status")
	}

	if _, err := c.RunSource("ADD_POINT\nADD_POINT"); err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-c.PointCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("point %d not pushed", i)
		}
	}

	b.srv.Stop()
	select {
	case err := <-c.ErrCh:
		if !strings.Contains(err.Error(), "shutting down") {
			t.Fatalf("ErrCh = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no shutdown notice")
	}
}

func TestClientClosed(t *testing.T) {
	b := startTestServer(t)
	c := dialClient(t, b.srv.Addr())
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Cancel(); err != ErrClosed {
		t.Fatalf("Cancel after Close = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
