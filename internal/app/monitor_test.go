package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/core/coretest"
	"github.com/Jincoo/youtube-music-remote/internal/domain"
	"github.com/Jincoo/youtube-music-remote/internal/protocol"
)

type monitorFixture struct {
	clock   *coretest.Clock
	conns   *Connections
	reg     *Registry
	monitor *Monitor
}

func newMonitorFixture() *monitorFixture {
	clock := coretest.NewClock(t0)
	conns := NewConnections()
	reg := NewRegistry(clock, 0)
	router := NewRouter(reg, nil, nil)
	return &monitorFixture{
		clock:   clock,
		conns:   conns,
		reg:     reg,
		monitor: NewMonitor(DefaultMonitorConfig(), clock, conns, reg, router, nil),
	}
}

func (f *monitorFixture) connect(t *testing.T, sid, role string) *coretest.Conn {
	t.Helper()
	c := coretest.NewConn(f.clock.Now())
	f.conns.Add(c)
	mustRegister(t, f.reg, sid, role, c)
	return c
}

func TestGCEvictsStaleAndNotifiesPeer(t *testing.T) {
	f := newMonitorFixture()
	pc := f.connect(t, "S", "pc")
	mobile := f.connect(t, "S", "mobile")

	// the mobile keeps talking, the pc goes quiet
	for i := 0; i < 11; i++ {
		f.clock.Advance(30 * time.Second)
		f.reg.Touch(mobile)
		f.monitor.SweepRegistry()
	}

	if _, ok := f.reg.Lookup("S", domain.RolePC); ok {
		t.Fatal("stale pc entry survived")
	}
	if _, ok := f.reg.Lookup("S", domain.RoleMobile); !ok {
		t.Fatal("active mobile entry was evicted")
	}
	if pc.IsOpen() {
		t.Fatal("stale connection left open")
	}
	assertLastFrame(t, mobile, protocol.TypeDeviceDisconn)
}

func TestGCEvictsClosedOnNextSweep(t *testing.T) {
	f := newMonitorFixture()
	pc := f.connect(t, "S", "pc")
	pc.Close()

	f.monitor.SweepRegistry()
	if f.reg.Len() != 0 {
		t.Fatalf("closed entry survived one sweep, len = %d", f.reg.Len())
	}
}

func TestLivenessProbeThenTerminate(t *testing.T) {
	f := newMonitorFixture()
	quiet := f.connect(t, "S", "pc")
	chatty := f.connect(t, "S", "mobile")

	f.clock.Advance(6 * time.Minute)
	chatty.Seen(f.clock.Now())
	f.monitor.SweepLiveness()

	if quiet.Probes() != 1 || quiet.Alive() {
		t.Fatalf("quiet conn: probes=%d alive=%v", quiet.Probes(), quiet.Alive())
	}
	if chatty.Probes() != 0 {
		t.Fatal("active connection was probed")
	}

	f.clock.Advance(30 * time.Second)
	f.monitor.SweepLiveness()
	if quiet.IsOpen() {
		t.Fatal("unanswered probe did not terminate the connection")
	}
}

func TestLivenessPongKeepsConnection(t *testing.T) {
	f := newMonitorFixture()
	c := f.connect(t, "S", "pc")

	f.clock.Advance(6 * time.Minute)
	f.monitor.SweepLiveness()
	c.Pong(f.clock.Now())

	f.clock.Advance(30 * time.Second)
	f.monitor.SweepLiveness()
	if !c.IsOpen() {
		t.Fatal("connection answering probes was terminated")
	}
}

func TestHeartbeatReachesOpenConnections(t *testing.T) {
	f := newMonitorFixture()
	a := f.connect(t, "S", "pc")
	b := f.connect(t, "S", "mobile")
	b.Close()

	f.monitor.Heartbeat()

	frames := a.Frames()
	if len(frames) != 1 {
		t.Fatalf("got %d frames", len(frames))
	}
	var hb protocol.Heartbeat
	_ = json.Unmarshal(frames[0], &hb)
	if hb.Type != protocol.TypeHeartbeat || hb.Server != "ytm-remote" || hb.Timestamp != t0.UnixMilli() {
		t.Fatalf("heartbeat = %+v", hb)
	}
	if len(b.Frames()) != 0 {
		t.Fatal("closed connection received a heartbeat")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newMonitorFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.monitor.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func assertLastFrame(t *testing.T, c *coretest.Conn, want protocol.MessageType) {
	t.Helper()
	frames := c.Frames()
	if len(frames) == 0 {
		t.Fatalf("no frames, want %s", want)
	}
	got, err := protocol.Decode(frames[len(frames)-1])
	if err != nil || got != want {
		t.Fatalf("last frame type = %q (%v), want %q", got, err, want)
	}
}
