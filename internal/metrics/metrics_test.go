package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/remote"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStoreCollector(t *testing.T) {
	store := logic.NewStore(nil, nil)
	store.RequestChange(logic.ChannelUp, true, t0, logic.SourceTouch)
	store.RequestChange(logic.ChannelUp, false, t0.Add(100*time.Millisecond), logic.SourceRemote) // rejected
	store.Commit(logic.ChannelUp, true)

	m := New(store, nil)

	expected := `
# HELP switchbot_requests_total State change requests by channel and result.
# TYPE switchbot_requests_total counter
switchbot_requests_total{channel="down",result="off"} 0
switchbot_requests_total{channel="down",result="on"} 0
switchbot_requests_total{channel="down",result="rejected"} 0
switchbot_requests_total{channel="up",result="off"} 0
switchbot_requests_total{channel="up",result="on"} 1
switchbot_requests_total{channel="up",result="rejected"} 1
# HELP switchbot_channel_applied Last physically applied switch state (1 on).
# TYPE switchbot_channel_applied gauge
switchbot_channel_applied{channel="down"} 0
switchbot_channel_applied{channel="up"} 1
`
	err := testutil.GatherAndCompare(m.Registry, strings.NewReader(expected),
		"switchbot_requests_total", "switchbot_channel_applied")
	if err != nil {
		t.Error(err)
	}
}

func TestObserveEvent(t *testing.T) {
	m := New(logic.NewStore(nil, nil), nil)

	m.ObserveEvent(logic.Event{Type: logic.EventApplied, Channel: logic.ChannelDown})
	m.ObserveEvent(logic.Event{Type: logic.EventReleased, Channel: logic.ChannelDown})
	m.ObserveEvent(logic.Event{Type: logic.EventApplied, Channel: logic.ChannelDown})

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("down", "APPLIED")); got != 2 {
		t.Errorf("applied: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("down", "RELEASED")); got != 1 {
		t.Errorf("released: got %v, want 1", got)
	}
}

func TestBaselinesAndStates(t *testing.T) {
	m := New(logic.NewStore(nil, nil), nil)

	m.SetBaselines([logic.NumChannels]logic.Baseline{
		{Mean: 1000, Threshold: 3500},
		{Mean: 0, Threshold: 2500, Degenerate: true},
	})
	m.SetRemoteState(remote.Handshaked)
	m.SetMQTTConnected(true)

	if got := testutil.ToFloat64(m.threshold.WithLabelValues("up")); got != 3500 {
		t.Errorf("threshold: got %v", got)
	}
	if got := testutil.ToFloat64(m.degenerate.WithLabelValues("down")); got != 1 {
		t.Errorf("degenerate: got %v", got)
	}
	if got := testutil.ToFloat64(m.remoteState); got != 2 {
		t.Errorf("remote state: got %v", got)
	}
	if got := testutil.ToFloat64(m.mqttUp); got != 1 {
		t.Errorf("mqtt: got %v", got)
	}
}

func TestRemoteCollector(t *testing.T) {
	stats := remote.Stats{Dials: 3, Handshakes: 2, CommandsAccepted: 5, CommandsRejected: 1}
	m := New(logic.NewStore(nil, nil), func() remote.Stats { return stats })

	expected := `
# HELP switchbot_remote_commands_total Inbound commands by result.
# TYPE switchbot_remote_commands_total counter
switchbot_remote_commands_total{result="accepted"} 5
switchbot_remote_commands_total{result="rejected"} 1
# HELP switchbot_remote_dials_total Dial attempts to the peer.
# TYPE switchbot_remote_dials_total counter
switchbot_remote_dials_total 3
# HELP switchbot_remote_handshakes_total Completed handshakes.
# TYPE switchbot_remote_handshakes_total counter
switchbot_remote_handshakes_total 2
`
	err := testutil.GatherAndCompare(m.Registry, strings.NewReader(expected),
		"switchbot_remote_commands_total", "switchbot_remote_dials_total", "switchbot_remote_handshakes_total")
	if err != nil {
		t.Error(err)
	}
}

func TestRegistryGathers(t *testing.T) {
	m := New(logic.NewStore(nil, nil), func() remote.Stats { return remote.Stats{} })
	if _, err := m.Registry.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
