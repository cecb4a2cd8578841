package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/mobakitch/jema-terminal/internal/logic"
	"github.com/mobakitch/jema-terminal/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"stateClass": func(s logic.State) string {
		switch s {
		case logic.StateOn:
			return "on"
		case logic.StateOff:
			return "off"
		default:
			return "unknown"
		}
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Config.Name}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
button { font-family: monospace; padding: 4px 16px; margin-right: 8px; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>{{.Config.Name}}</h1>

<h2>Terminal</h2>
<table>
<tr><th>State</th><td id="state" class="{{stateClass .State}}">{{stateOrUnknown (printf "%s" .State)}}</td></tr>
<tr><th>Controller</th><td>{{.Controller}}</td></tr>
<tr><th>Last change</th><td>{{if .LastChange.IsZero}}-{{else}}{{.LastChange.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
<tr><th>Turned on</th><td>{{.Counts.On}}</td></tr>
<tr><th>Turned off</th><td>{{.Counts.Off}}</td></tr>
</table>
{{if .Control}}
<p><button onclick="setState('on')">ON</button><button onclick="setState('off')">OFF</button></p>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>HomeKit</th><td>{{if .Config.HomeKit}}enabled{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Monitor pin</th><td>{{.Config.MonitorPin}}{{if .Config.MonitorInverted}} (inverted){{end}}</td></tr>
<tr><th>Control pin</th><td>{{.Config.ControlPin}}</td></tr>
<tr><th>Pulse</th><td>{{.Config.PulseMs}}ms</td></tr>
<tr><th>GPIO backend</th><td>{{.Config.Backend}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a>{{if .History}} | <a href="/history.json">History</a>{{end}}</p>
{{if .Control}}
<script>
function setState(state) {
  fetch("/set?state=" + state, { method: "POST" })
    .then(function() { location.reload(); });
}
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, control, history bool) {
	data := struct {
		status.Snapshot
		Uptime  time.Duration
		Control bool
		History bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Control:  control,
		History:  history,
	}
	indexTmpl.Execute(w, data)
}
