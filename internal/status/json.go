package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/switch-bot/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	DeviceID      string        `json:"device_id"`
	Ready         bool          `json:"ready"`
	Channels      []ChannelJSON `json:"channels"`
	Remote        RemoteJSON    `json:"remote"`
	MQTT          MQTTStatus    `json:"mqtt"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// ChannelJSON is the JSON representation of one channel.
type ChannelJSON struct {
	Name       string        `json:"name"`
	Desired    string        `json:"desired"`
	Applied    string        `json:"applied"`
	LastChange string        `json:"last_change,omitempty"`
	Source     string        `json:"source,omitempty"`
	Touch      *BaselineJSON `json:"touch,omitempty"`
	Counts     CountsJSON    `json:"event_counts"`
}

// BaselineJSON is the JSON representation of a touch calibration.
type BaselineJSON struct {
	Mean       int  `json:"mean"`
	Threshold  int  `json:"threshold"`
	Samples    int  `json:"samples"`
	Degenerate bool `json:"degenerate"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	On       int `json:"on"`
	Off      int `json:"off"`
	Rejected int `json:"rejected"`
}

// RemoteJSON reports the link to the peer.
type RemoteJSON struct {
	URL        string `json:"url"`
	State      string `json:"state"`
	Handshakes uint64 `json:"handshakes"`
	Mismatches uint64 `json:"mismatches"`
	Accepted   uint64 `json:"commands_accepted"`
	Rejected   uint64 `json:"commands_rejected"`
	FramesSent uint64 `json:"frames_sent"`
	Dropped    uint64 `json:"frames_dropped"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Revision    string  `json:"revision"`
	FrameLayout string  `json:"frame_layout"`
	DwellMs     int64   `json:"dwell_ms"`
	TickMs      int64   `json:"tick_ms"`
	PollMs      int64   `json:"poll_ms"`
	RearmMs     []int64 `json:"rearm_ms"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	TopicPrefix string  `json:"topic_prefix,omitempty"`
	HTTPAddr    string  `json:"http_addr"`
	WSBroker    string  `json:"ws_broker,omitempty"`
	IRDevice    string  `json:"ir_device,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildChannels(snap Snapshot) []ChannelJSON {
	out := make([]ChannelJSON, len(snap.Channels))
	for i, c := range snap.Channels {
		out[i] = ChannelJSON{
			Name:       logic.Channel(i).String(),
			Desired:    string(logic.StateOf(c.Record.Desired)),
			Applied:    string(logic.StateOf(c.Record.Applied)),
			LastChange: formatTime(c.Record.LastChange),
			Source:     string(c.Record.Source),
			Counts: CountsJSON{
				On:       snap.Counts[i].On,
				Off:      snap.Counts[i].Off,
				Rejected: snap.Counts[i].Rejected,
			},
		}
		if c.Calibrated {
			out[i].Touch = &BaselineJSON{
				Mean:       c.Baseline.Mean,
				Threshold:  c.Baseline.Threshold,
				Samples:    c.Baseline.Samples,
				Degenerate: c.Baseline.Degenerate,
			}
		}
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	stats := snap.Remote.Stats
	return StatusInner{
		DeviceID: snap.Config.DeviceID,
		Ready:    snap.Calibrated(),
		Channels: buildChannels(snap),
		Remote: RemoteJSON{
			URL:        snap.Config.RemoteURL,
			State:      snap.Remote.State.String(),
			Handshakes: stats.Handshakes,
			Mismatches: stats.Mismatches,
			Accepted:   stats.CommandsAccepted,
			Rejected:   stats.CommandsRejected,
			FramesSent: stats.FramesSent,
			Dropped:    stats.Dropped,
		},
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		Config: ConfigJSON{
			Revision:    snap.Config.Revision,
			FrameLayout: snap.Config.FrameLayout,
			DwellMs:     snap.Config.DwellMs,
			TickMs:      snap.Config.TickMs,
			PollMs:      snap.Config.PollMs,
			RearmMs:     snap.Config.RearmMs[:],
			HeartbeatMs: snap.Config.HeartbeatMs,
			TopicPrefix: snap.Config.TopicPrefix,
			HTTPAddr:    snap.Config.HTTPAddr,
			WSBroker:    snap.Config.WSBroker,
			IRDevice:    snap.Config.IRDevice,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
