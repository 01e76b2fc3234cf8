package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>OriBridge Status</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --muted: #6f7d7d;
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: var(--paper);
      min-height: 100vh;
      padding: 20px;
    }

    .shell {
      max-width: 860px;
      margin: 0 auto;
      display: grid;
      gap: 14px;
    }

    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 16px;
    }

    h1 { margin: 0; font-size: 1.4rem; }
    .sub { margin-top: 6px; color: var(--muted); font-size: 0.9rem; }

    table { width: 100%; border-collapse: collapse; }
    th, td {
      text-align: left;
      padding: 8px 10px;
      border-bottom: 1px solid var(--line);
      font-size: 0.92rem;
    }
    th { color: var(--muted); font-weight: 600; }

    .totals { display: flex; gap: 24px; }
    .totals b { font-size: 1.3rem; color: var(--accent); }

    #log {
      max-height: 260px;
      overflow-y: auto;
      font-family: ui-monospace, monospace;
      font-size: 0.82rem;
      white-space: pre-wrap;
    }
  </style>
</head>
<body>
  <div class="shell">
    <div class="card">
      <h1>OriBridge</h1>
      <div class="sub">Issue replication between configured backends.</div>
    </div>
    <div class="card">
      <div class="totals">
        <div>Issues <b id="issues">-</b></div>
        <div>Comments <b id="comments">-</b></div>
      </div>
    </div>
    <div class="card">
      <table>
        <thead>
          <tr><th>Backend</th><th>Name</th><th>Issue mappings</th><th>Comment mappings</th></tr>
        </thead>
        <tbody id="bridges"></tbody>
      </table>
    </div>
    <div class="card">
      <div class="sub">Live events</div>
      <div id="log"></div>
    </div>
  </div>
  <script>
    (function () {
      async function refresh() {
        try {
          var res = await fetch("/status");
          var data = await res.json();
          document.getElementById("issues").textContent = data.issues;
          document.getElementById("comments").textContent = data.comments;
          var rows = "";
          (data.bridges || []).forEach(function (b) {
            rows += "<tr><td>" + b.type + "</td><td>" + b.name +
              "</td><td>" + b.issues + "</td><td>" + b.comments + "</td></tr>";
          });
          document.getElementById("bridges").innerHTML = rows;
        } catch (err) {
          // keep showing the last good snapshot
        }
      }
      refresh();
      setInterval(refresh, 5000);

      var proto = location.protocol === "https:" ? "wss:" : "ws:";
      var ws = new WebSocket(proto + "//" + location.host + "/events");
      ws.onmessage = function (msg) {
        var log = document.getElementById("log");
        var ev = JSON.parse(msg.data);
        log.textContent =
          ev.timestamp + " " + ev.kind + " " + ev.itemType + " " +
          ev.identifier + " (from " + ev.origin + ")\n" + log.textContent;
        refresh();
      };
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
