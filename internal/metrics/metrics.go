// Package metrics exposes daemon state as Prometheus metrics on a private
// registry served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/remote"
)

const namespace = "switchbot"

// StoreReader is the part of logic.Store the collector reads.
type StoreReader interface {
	Snapshot(c logic.Channel) logic.Record
	Counts() logic.EventCounts
}

// Metrics owns the registry and the push-style collectors.
type Metrics struct {
	Registry *prometheus.Registry

	transitions *prometheus.CounterVec
	threshold   *prometheus.GaugeVec
	degenerate  *prometheus.GaugeVec
	remoteState prometheus.Gauge
	mqttUp      prometheus.Gauge
}

// New creates the metrics for a daemon. store and stats are read on every
// scrape; stats may be nil when the remote link is disabled.
func New(store StoreReader, stats func() remote.Stats) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuations_total",
			Help:      "Physical actuator transitions by channel and type.",
		}, []string{"channel", "type"}),
		threshold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "touch",
			Name:      "threshold",
			Help:      "Calibrated touch threshold.",
		}, []string{"channel"}),
		degenerate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "touch",
			Name:      "degenerate",
			Help:      "1 if the touch calibration saw no variation.",
		}, []string{"channel"}),
		remoteState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "state",
			Help:      "Remote link state: 0 disconnected, 1 connected, 2 handshaked.",
		}),
		mqttUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "1 while the MQTT client is connected.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions, m.threshold, m.degenerate, m.remoteState, m.mqttUp,
		&storeCollector{store: store},
	)
	if stats != nil {
		m.Registry.MustRegister(&remoteCollector{stats: stats})
	}
	return m
}

// ObserveEvent counts one scheduler event.
func (m *Metrics) ObserveEvent(e logic.Event) {
	m.transitions.WithLabelValues(e.Channel.String(), string(e.Type)).Inc()
}

// SetBaselines records the touch calibration results.
func (m *Metrics) SetBaselines(b [logic.NumChannels]logic.Baseline) {
	for i, bl := range b {
		ch := logic.Channel(i).String()
		m.threshold.WithLabelValues(ch).Set(float64(bl.Threshold))
		m.degenerate.WithLabelValues(ch).Set(boolValue(bl.Degenerate))
	}
}

// SetRemoteState records the remote link state.
func (m *Metrics) SetRemoteState(s remote.ConnState) {
	m.remoteState.Set(float64(s))
}

// SetMQTTConnected records the MQTT connection state.
func (m *Metrics) SetMQTTConnected(up bool) {
	m.mqttUp.Set(boolValue(up))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
