package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		switch {
		case days > 0:
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		case h > 0:
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		case m > 0:
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"channel": func(i int) string { return logic.Channel(i).String() },
	"state":   func(on bool) string { return string(logic.StateOf(on)) },
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Switch Bot</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.warn { color: orange; }
.connected, .handshaked { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Switch Bot{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>
<p>{{.Config.DeviceID}}</p>

<h2>Switches</h2>
<table>
<tr><th>Channel</th><th>Desired</th><th>Applied</th><th>Last change</th><th>Source</th></tr>
{{range $i, $c := .Channels}}<tr>
<td>{{channel $i}}</td>
<td class="{{if $c.Record.Desired}}on{{else}}off{{end}}">{{state $c.Record.Desired}}</td>
<td id="applied-{{channel $i}}" class="{{if $c.Record.Applied}}on{{else}}off{{end}}">{{state $c.Record.Applied}}</td>
<td>{{stamp $c.Record.LastChange}}</td>
<td>{{$c.Record.Source}}</td>
</tr>
{{end}}</table>

<h2>Touch</h2>
<table>
<tr><th>Channel</th><th>Mean</th><th>Threshold</th><th>On</th><th>Off</th><th>Rejected</th></tr>
{{range $i, $c := .Channels}}<tr>
<td>{{channel $i}}</td>
{{if $c.Calibrated}}<td>{{$c.Baseline.Mean}}</td><td{{if $c.Baseline.Degenerate}} class="warn" title="no variation during calibration"{{end}}>{{$c.Baseline.Threshold}}</td>{{else}}<td colspan="2">calibrating</td>{{end}}
<td>{{(index $.Counts $i).On}}</td>
<td>{{(index $.Counts $i).Off}}</td>
<td>{{(index $.Counts $i).Rejected}}</td>
</tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>Remote</th><td class="{{.Remote.State}}">{{.Remote.State}}</td></tr>
<tr><th>Peer</th><td>{{if .Config.RemoteURL}}{{.Config.RemoteURL}}{{else}}disabled{{end}}</td></tr>
<tr><th>Handshakes</th><td>{{.Remote.Stats.Handshakes}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Revision</th><td>{{.Config.Revision}} ({{.Config.FrameLayout}} frames)</td></tr>
<tr><th>Dwell</th><td>{{.Config.DwellMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
{{if .Config.WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.Config.TopicPrefix}}/events";
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });
  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });
  client.on("reconnect", function() { setDot("pending", "reconnecting"); });
  client.on("offline", function() { setDot("err", "offline"); });
  client.on("error", function() { setDot("err", "error"); });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.switch && msg.switch.event === "APPLIED") {
        var el = document.getElementById("applied-" + msg.switch.channel);
        if (el) {
          el.textContent = msg.switch.state;
          el.className = msg.switch.state === "ON" ? "on" : "off";
        }
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.WithError(err).Warn("web: render status page")
	}
}
