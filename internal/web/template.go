package web

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/sweeney/usb-charger/internal/charger"
	"github.com/sweeney/usb-charger/internal/status"
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
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
	"portClass": func(c charger.PortClass) string {
		if c == charger.ClassUnknown {
			return "NONE"
		}
		return c.String()
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>USB Charger</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.halted { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>USB Charger</h1>

<h2>Port</h2>
<table>
<tr><th>Attached</th><td id="attached" class="{{if .Charger.Attached}}on{{else}}off{{end}}">{{yesno .Charger.Attached}}</td></tr>
<tr><th>Detection</th><td id="detect-state">{{.Charger.State}}</td></tr>
<tr><th>Port type</th><td id="port-class">{{portClass .Charger.Class}}</td></tr>
<tr><th>Enumerated</th><td>{{yesno .Charger.Enumerated}}</td></tr>
<tr><th>Suspended</th><td>{{yesno .Charger.Suspended}}</td></tr>
<tr><th>Charging</th><td id="charging" class="{{if .Charger.Halted}}halted{{else if .Charger.Charging}}on{{else}}off{{end}}">{{if .Charger.Halted}}halted (oscillation){{else}}{{yesno .Charger.Charging}}{{end}}</td></tr>
</table>

{{if .Charger.Observed}}<h2>Charger FSM</h2>
<table>
<tr><th>State</th><td id="fsm-state">{{.Charger.Observation.State}}</td></tr>
<tr><th>JEITA region</th><td>{{.Charger.Observation.Region}}</td></tr>
<tr><th>VBAT low</th><td>{{yesno .Charger.Observation.VBATLow}}</td></tr>
</table>{{end}}

<h2>Notifications</h2>
<table>
{{range .Notes}}<tr><th>{{.Name}}</th><td>{{.Count}}</td></tr>
{{else}}<tr><td>none yet</td></tr>
{{end}}</table>

<h2>Counters</h2>
<table>
<tr><th>Attach cycles</th><td>{{.Charger.AttachCycles}}</td></tr>
<tr><th>Classifications</th><td>{{.Charger.Classifications}}</td></tr>
<tr><th>Oscillations</th><td>{{.Charger.Oscillations}}</td></tr>
<tr><th>Dropped commands</th><td>{{.Charger.DroppedCommands}}</td></tr>
<tr><th>Dropped observations</th><td>{{.Charger.DroppedObservations}}</td></tr>
<tr><th>Dropped faults</th><td>{{.Charger.DroppedFaults}}</td></tr>
<tr><th>Relay errors</th><td>{{.Charger.RelayErrors}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>I2C bus</th><td>{{.Config.I2CBus}}</td></tr>
<tr><th>UDC</th><td>{{if .Config.UDC}}{{.Config.UDC}}{{else}}none{{end}}</td></tr>
<tr><th>Detection</th><td>{{if .Config.HWDetect}}hardware{{else}}software, {{.Config.TickMs}}ms tick{{end}}</td></tr>
<tr><th>Oscillation check</th><td>{{if .Config.OscCheck}}&gt;{{.Config.OscThreshold}} in {{.Config.OscWindowMs}}ms{{else}}disabled{{end}}</td></tr>
<tr><th>Profile</th><td>{{.Config.ProfileCCmA}}mA / {{.Config.ProfileCVmV}}mV</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

type noteCount struct {
	Name  charger.Notification
	Count int
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	notes := make([]noteCount, 0, len(snap.Notifications))
	for n, c := range snap.Notifications {
		notes = append(notes, noteCount{n, c})
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Name < notes[j].Name })

	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Notes  []noteCount
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Notes:    notes,
	}
	indexTmpl.Execute(w, data)
}
