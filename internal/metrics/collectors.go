package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/remote"
)

var (
	requestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "requests_total"),
		"State change requests by channel and result.",
		[]string{"channel", "result"}, nil)
	desiredDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "channel", "desired"),
		"Desired switch state (1 on).",
		[]string{"channel"}, nil)
	appliedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "channel", "applied"),
		"Last physically applied switch state (1 on).",
		[]string{"channel"}, nil)
)

// storeCollector reads request counts and channel state from the store at
// scrape time.
type storeCollector struct {
	store StoreReader
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- requestsDesc
	ch <- desiredDesc
	ch <- appliedDesc
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	counts := c.store.Counts()
	for i := range counts {
		name := logic.Channel(i).String()
		ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, float64(counts[i].On), name, "on")
		ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, float64(counts[i].Off), name, "off")
		ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, float64(counts[i].Rejected), name, "rejected")

		rec := c.store.Snapshot(logic.Channel(i))
		ch <- prometheus.MustNewConstMetric(desiredDesc, prometheus.GaugeValue, boolValue(rec.Desired), name)
		ch <- prometheus.MustNewConstMetric(appliedDesc, prometheus.GaugeValue, boolValue(rec.Applied), name)
	}
}

var remoteDescs = struct {
	dials, disconnects, handshakes, mismatches, commands, sent, dropped *prometheus.Desc
}{
	dials:       remoteDesc("dials_total", "Dial attempts to the peer.", nil),
	disconnects: remoteDesc("disconnects_total", "Sessions that ended.", nil),
	handshakes:  remoteDesc("handshakes_total", "Completed handshakes.", nil),
	mismatches:  remoteDesc("handshake_mismatches_total", "Handshake echoes that did not match the device id.", nil),
	commands:    remoteDesc("commands_total", "Inbound commands by result.", []string{"result"}),
	sent:        remoteDesc("frames_sent_total", "Frames written to the peer.", nil),
	dropped:     remoteDesc("frames_dropped_total", "State frames dropped because the outbox was full.", nil),
}

func remoteDesc(name, help string, labels []string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "remote", name), help, labels, nil)
}

// remoteCollector exposes the engine's counters.
type remoteCollector struct {
	stats func() remote.Stats
}

func (c *remoteCollector) Describe(ch chan<- *prometheus.Desc) {
	d := remoteDescs
	for _, desc := range []*prometheus.Desc{d.dials, d.disconnects, d.handshakes, d.mismatches, d.commands, d.sent, d.dropped} {
		ch <- desc
	}
}

func (c *remoteCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	d := remoteDescs
	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}
	counter(d.dials, s.Dials)
	counter(d.disconnects, s.Disconnects)
	counter(d.handshakes, s.Handshakes)
	counter(d.mismatches, s.Mismatches)
	counter(d.commands, s.CommandsAccepted, "accepted")
	counter(d.commands, s.CommandsRejected, "rejected")
	counter(d.sent, s.FramesSent)
	counter(d.dropped, s.Dropped)
}
