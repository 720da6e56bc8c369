package api

import (
	"html/template"
	"net/http"
	"os"

	"github.com/Roelanb/duetlapse/internal/runlog"
	"github.com/Roelanb/duetlapse/internal/timelapse"
)

var statusTpl = template.Must(template.New("status").Parse(`
<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>DuetLapse</title>
<style>
body { font-family: system-ui, -apple-system, Segoe UI, Roboto, Ubuntu, Cantarell, Noto Sans, Arial, sans-serif; margin: 0; background: #0b0f14; color: #e6edf3; }
header { padding: 12px 16px; background: #111827; border-bottom: 1px solid #1f2937; }
.container { padding: 16px; max-width: 900px; margin: 0 auto; }
h1, h2 { margin: 0 0 12px 0; }
.card { background: #111827; border: 1px solid #1f2937; border-radius: 8px; padding: 12px; margin-bottom: 16px; }
table { width: 100%; border-collapse: collapse; font-size: 14px; }
th, td { border-bottom: 1px solid #1f2937; padding: 8px; text-align: left; }
th { color: #9ca3af; font-weight: 600; }
code { background: #0b1220; border: 1px solid #1f2937; border-radius: 6px; padding: 2px 6px; }
button { background: #2563eb; color: white; border: 0; padding: 8px 12px; border-radius: 6px; cursor: pointer; }
img.frame { max-width: 100%; border-radius: 8px; border: 1px solid #1f2937; }
.badge { display: inline-block; padding: 2px 8px; border-radius: 999px; font-size: 12px; background: #065f46; color: #d1fae5; }
</style>
</head>
<body>
<header><div class="container"><h1>DuetLapse</h1></div></header>
<main class="container">
  <div class="card">
    <h2>Run</h2>
    {{if .Snap}}
    <table>
      <tr><th>Printer</th><td><code>{{.Snap.Printer}}</code></td></tr>
      <tr><th>Phase</th><td><span class="badge">{{.Snap.Phase}}</span></td></tr>
      <tr><th>Printer status</th><td>{{.Snap.Status}}</td></tr>
      <tr><th>Frames</th><td>{{.Snap.Frames}}</td></tr>
      <tr><th>Layer</th><td>{{if ge .Snap.Layer 0}}{{.Snap.Layer}}{{else}}&mdash;{{end}}</td></tr>
      <tr><th>Last capture</th><td>{{if .Snap.LastCapture.IsZero}}none yet{{else}}{{.Snap.LastCapture.Format "15:04:05"}}{{end}}</td></tr>
      {{if .Snap.Video}}<tr><th>Video</th><td><code>{{.Snap.Video}}</code></td></tr>{{end}}
    </table>
    {{else}}
    <p>Starting up, no tick completed yet.</p>
    {{end}}
    <div style="margin-top:8px">
      <button onclick="requestSnapshot()">Capture a frame now</button>
    </div>
  </div>

  {{if .HasFrame}}
  <div class="card">
    <h2>Latest frame</h2>
    <img class="frame" src="/frames/latest" alt="latest captured frame">
  </div>
  {{end}}

  <div class="card">
    <h2>Past runs</h2>
    <table>
      <thead><tr><th>Started</th><th>Printer</th><th>Frames</th><th>Outcome</th><th>Video</th></tr></thead>
      <tbody>
        {{range .Runs}}
        <tr>
          <td>{{.StartedAt.Format "2006-01-02 15:04"}}</td>
          <td><code>{{.Printer}}</code></td>
          <td>{{.Frames}}</td>
          <td>{{.Outcome}}</td>
          <td>{{if .Video}}<code>{{.Video}}</code>{{else}}&mdash;{{end}}</td>
        </tr>
        {{else}}
        <tr><td colspan="5">No runs recorded</td></tr>
        {{end}}
      </tbody>
    </table>
  </div>
</main>
<script>
async function requestSnapshot() {
  try {
    const res = await fetch('/api/snapshot', { method: 'POST' });
    if (!res.ok) throw new Error(await res.text());
  } catch (e) {
    alert('Snapshot request failed: ' + e.message);
  }
}
</script>
</body>
</html>
`))

type pageData struct {
	Snap     *timelapse.Snapshot
	Runs     []runlog.RunRecord
	HasFrame bool
}

// mountUI registers the server-rendered status page at the root.
func (s *Server) mountUI() {
	s.mux.HandleFunc("/", s.handleHome)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	var data pageData
	if s.ctrl != nil {
		data.Snap = s.ctrl.Snapshot()
	}
	if s.runs != nil {
		data.Runs, _ = s.runs.List(10)
	}
	if s.latestPath != "" {
		if _, err := os.Stat(s.latestPath); err == nil {
			data.HasFrame = true
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = statusTpl.Execute(w, data)
}
