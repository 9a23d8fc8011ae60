package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/switch-bot/internal/config"
	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/mqtt"
	"github.com/sweeney/switch-bot/internal/remote"
	"github.com/sweeney/switch-bot/internal/servo"
	"github.com/sweeney/switch-bot/internal/settings"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfo(t *testing.T) {
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}

	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	if info.Type != "wifi" || info.IP != "192.168.1.100" || info.Status != "connected" || info.SSID != "MyNetwork" {
		t.Errorf("info: %+v", info)
	}
	if info.Gateway != "" || info.WifiStatus != "" {
		t.Errorf("unset vars should be empty: %+v", info)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestPrintBaselines(t *testing.T) {
	var buf bytes.Buffer
	printBaselines(&buf, [logic.NumChannels]logic.Baseline{
		{Mean: 1000, Threshold: 3500, Samples: 50},
		{Threshold: 2500, Degenerate: true},
	})
	want := "up: mean=1000 threshold=3500 samples=50\n" +
		"down: mean=0 threshold=2500 samples=0 (no variation)\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

// --- daemon tests ---

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const testConfig = `
device_id = "switch-test"

[remote]
url = ""

[touch]
enabled = false

[actuator]
dwell_ms = 20
tick_ms = 1

[mqtt]
heartbeat_ms = 1000

[http]
addr = ""
`

type fixture struct {
	d        *daemon
	store    *logic.Store
	settings *settings.Memory
	driver   *servo.FakeDriver
	pub      *mqtt.FakePublisher
}

func newFixture(t *testing.T, doc string, hw hardware, now func() time.Time) *fixture {
	t.Helper()
	cfg, err := config.Parse(doc)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	f := &fixture{
		settings: settings.NewMemory(),
		driver:   servo.NewFakeDriver(),
		pub:      mqtt.NewFakePublisher(),
	}
	hw.settings = f.settings
	hw.driver = f.driver
	f.store = logic.NewStore(cfg.RearmIntervals(), nil)
	f.d = newDaemon(cfg, f.store, hw, now)
	f.d.setPublisher(f.pub, f.pub)
	return f
}

// running is a daemon started by fixture.start. err is valid once done is
// closed.
type running struct {
	done chan struct{}
	err  error
}

// start runs the daemon until the test ends or the returned signal channel
// receives a signal.
func (f *fixture) start(t *testing.T) (chan<- os.Signal, *running) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	r := &running{done: make(chan struct{})}
	go func() {
		r.err = f.d.run(ctx, sig, nil)
		close(r.done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return sig, r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRunPublishesStartupAndShutdown(t *testing.T) {
	f := newFixture(t, testConfig, hardware{}, nil)
	f.pub.SetConnected(true)
	sig, r := f.start(t)

	waitFor(t, "startup", func() bool { return len(f.pub.SystemEvents()) == 1 })
	sig <- syscall.SIGTERM

	select {
	case <-r.done:
		if r.err != nil {
			t.Fatalf("run: %v", r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after SIGTERM")
	}

	events := f.pub.SystemEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 system events, got %d", len(events))
	}
	if events[0].Event != "STARTUP" || !events[0].Retained {
		t.Errorf("first event: %+v", events[0])
	}
	if events[1].Event != "SHUTDOWN" || events[1].Reason != "SIGTERM" || !events[1].Retained {
		t.Errorf("last event: %+v", events[1])
	}

	var payload struct {
		Status struct {
			Event    string `json:"event"`
			Reason   string `json:"reason"`
			DeviceID string `json:"device_id"`
			MQTT     struct {
				Connected bool `json:"connected"`
			} `json:"mqtt"`
		} `json:"status"`
	}
	if err := json.Unmarshal(f.pub.SystemPayloads()[1], &payload); err != nil {
		t.Fatalf("decode shutdown payload: %v", err)
	}
	s := payload.Status
	if s.Event != "SHUTDOWN" || s.Reason != "SIGTERM" || s.DeviceID != "switch-test" || !s.MQTT.Connected {
		t.Errorf("shutdown payload: %+v", s)
	}
}

func TestMQTTCommandActuates(t *testing.T) {
	f := newFixture(t, testConfig, hardware{}, nil)
	f.start(t)

	f.d.handleCommand(logic.ChannelUp, true)

	waitFor(t, "applied and released", func() bool { return len(f.pub.Events()) == 2 })
	events := f.pub.Events()
	if events[0].Type != logic.EventApplied || events[0].Channel != logic.ChannelUp || events[0].State != logic.StateOn {
		t.Errorf("first event: %+v", events[0])
	}
	if events[0].Source != logic.SourceMQTT {
		t.Errorf("source: got %q, want mqtt", events[0].Source)
	}
	if events[1].Type != logic.EventReleased {
		t.Errorf("second event: %+v", events[1])
	}

	calls := f.driver.CallsFor(logic.ChannelUp)
	if len(calls) != 2 || calls[0].Kind != servo.CallSetAngle || calls[1].Kind != servo.CallTurnOff {
		t.Errorf("driver calls: %+v", calls)
	}
	if f.driver.Count(logic.ChannelDown, servo.CallSetAngle) != 0 {
		t.Error("down servo should not move")
	}

	on, err := settings.GetBool(f.settings, settings.StateKey(logic.ChannelUp))
	if err != nil || !on {
		t.Errorf("persisted state: %v, %v", on, err)
	}
}

func TestMQTTCommandRejectedWithinRearm(t *testing.T) {
	now := start
	f := newFixture(t, testConfig, hardware{}, func() time.Time { return now })

	f.d.handleCommand(logic.ChannelDown, true)
	now = now.Add(100 * time.Millisecond)
	f.d.handleCommand(logic.ChannelDown, false)

	if !f.store.Desired(logic.ChannelDown) {
		t.Error("second command inside the rearm interval should be rejected")
	}
	if c := f.store.Counts()[logic.ChannelDown]; c.On != 1 || c.Rejected != 1 {
		t.Errorf("counts: %+v", c)
	}
}

func TestHandleEvent(t *testing.T) {
	f := newFixture(t, testConfig, hardware{}, nil)

	f.d.handleEvent(logic.Event{
		Timestamp: start,
		Type:      logic.EventApplied,
		Channel:   logic.ChannelDown,
		State:     logic.StateOn,
		Source:    logic.SourceIR,
	})
	f.d.handleEvent(logic.Event{
		Timestamp: start.Add(20 * time.Millisecond),
		Type:      logic.EventReleased,
		Channel:   logic.ChannelDown,
		State:     logic.StateOn,
	})

	if len(f.pub.Events()) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(f.pub.Events()))
	}
	if !strings.Contains(string(f.pub.Payloads()[0]), `"source":"ir"`) {
		t.Errorf("payload: %s", f.pub.Payloads()[0])
	}
	on, err := settings.GetBool(f.settings, settings.StateKey(logic.ChannelDown))
	if err != nil || !on {
		t.Errorf("persisted state: %v, %v", on, err)
	}
}

func TestHandleEventPublishErrorNotFatal(t *testing.T) {
	f := newFixture(t, testConfig, hardware{}, nil)
	f.pub.PublishError = os.ErrDeadlineExceeded

	f.d.handleEvent(logic.Event{Timestamp: start, Type: logic.EventApplied, Channel: logic.ChannelUp, State: logic.StateOn})

	on, err := settings.GetBool(f.settings, settings.StateKey(logic.ChannelUp))
	if err != nil || !on {
		t.Errorf("state should persist despite the publish error: %v, %v", on, err)
	}
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t, testConfig, hardware{}, func() time.Time { return start })

	f.d.refresh(start.Add(500 * time.Millisecond))
	if len(f.pub.SystemEvents()) != 0 {
		t.Fatal("heartbeat before interval")
	}

	f.d.refresh(start.Add(time.Second))
	events := f.pub.SystemEvents()
	if len(events) != 1 || events[0].Event != "HEARTBEAT" || events[0].Retained {
		t.Fatalf("expected one non-retained heartbeat, got %+v", events)
	}

	f.d.refresh(start.Add(1500 * time.Millisecond))
	if len(f.pub.SystemEvents()) != 1 {
		t.Error("heartbeat repeated before interval")
	}
}

func TestHeartbeatDisabled(t *testing.T) {
	doc := strings.Replace(testConfig, "heartbeat_ms = 1000", "heartbeat_ms = 0", 1)
	f := newFixture(t, doc, hardware{}, func() time.Time { return start })

	f.d.refresh(start.Add(24 * time.Hour))
	if len(f.pub.SystemEvents()) != 0 {
		t.Error("heartbeat sent while disabled")
	}
}

func TestStatusTracksMQTTConnection(t *testing.T) {
	f := newFixture(t, testConfig, hardware{}, nil)

	f.pub.SetConnected(true)
	f.d.refresh(time.Now())
	if !f.d.tracker.Snapshot().MQTTConnected {
		t.Error("expected connected")
	}

	f.d.setMQTTConnected(false)
	if f.d.tracker.Snapshot().MQTTConnected {
		t.Error("expected disconnected")
	}
}

func TestRemoteHandshakeReflectedInStatus(t *testing.T) {
	doc := strings.Replace(testConfig, `url = ""`, `url = "ws://peer:33877/ws"`, 1)
	tr := remote.NewFakeTransport()
	f := newFixture(t, doc, hardware{transport: tr}, nil)
	f.start(t)

	var conn *remote.FakeConn
	select {
	case conn = <-tr.Conns():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not dial")
	}
	<-conn.Sent() // welcome
	conn.Deliver(remote.Message{Text: true, Data: []byte("switch-test")})

	waitFor(t, "handshake", func() bool {
		return f.d.tracker.Snapshot().Remote.State == remote.Handshaked
	})
}

func TestNoPublisher(t *testing.T) {
	cfg, err := config.Parse(testConfig)
	if err != nil {
		t.Fatal(err)
	}
	d := newDaemon(cfg, logic.NewStore(nil, nil), hardware{settings: settings.NewMemory(), driver: servo.NewFakeDriver()}, nil)

	// Must not panic without MQTT.
	d.publishSystem("STARTUP", "", true)
	d.handleEvent(logic.Event{Timestamp: start, Type: logic.EventApplied, Channel: logic.ChannelUp, State: logic.StateOn})
	d.refresh(time.Now().Add(time.Hour))
}
