// Package status provides a thread-safe status tracker for the switch-bot
// daemon. It is read by the HTTP handlers and the lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/remote"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	DeviceID    string
	Revision    string
	FrameLayout string
	RemoteURL   string
	Broker      string
	TopicPrefix string
	HTTPAddr    string
	WSBroker    string // Websocket broker URL for browser MQTT (empty = disabled)
	HeartbeatMs int64
	DwellMs     int64
	TickMs      int64
	PollMs      int64
	RearmMs     [logic.NumChannels]int64
	IRDevice    string
}

// ChannelStatus is the state of one switch channel.
type ChannelStatus struct {
	Record     logic.Record
	Baseline   logic.Baseline
	Calibrated bool
}

// RemoteStatus is the state of the link to the peer.
type RemoteStatus struct {
	State remote.ConnState
	Stats remote.Stats
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Channels      [logic.NumChannels]ChannelStatus
	Counts        logic.EventCounts
	Remote        RemoteStatus
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Calibrated reports whether every touch channel has a baseline.
func (s Snapshot) Calibrated() bool {
	for _, c := range s.Channels {
		if !c.Calibrated {
			return false
		}
	}
	return true
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// StoreReader is the part of logic.Store the tracker copies from.
type StoreReader interface {
	Snapshot(c logic.Channel) logic.Record
	Counts() logic.EventCounts
}

// Refresh copies channel records and request counts from the store.
func (t *Tracker) Refresh(store StoreReader) {
	var records [logic.NumChannels]logic.Record
	for i := range records {
		records[i] = store.Snapshot(logic.Channel(i))
	}
	counts := store.Counts()

	t.mu.Lock()
	for i := range records {
		t.snap.Channels[i].Record = records[i]
	}
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetBaselines records the touch calibration results.
func (t *Tracker) SetBaselines(b [logic.NumChannels]logic.Baseline) {
	t.mu.Lock()
	for i := range b {
		t.snap.Channels[i].Baseline = b[i]
		t.snap.Channels[i].Calibrated = true
	}
	t.mu.Unlock()
}

// SetRemote records the remote link state and counters.
func (t *Tracker) SetRemote(state remote.ConnState, stats remote.Stats) {
	t.mu.Lock()
	t.snap.Remote = RemoteStatus{State: state, Stats: stats}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.Network != nil {
		n := *s.Network
		s.Network = &n
	}
	s.Now = time.Now()
	return s
}
