package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/morezero/rtbus/pkg/db"
	"github.com/morezero/rtbus/pkg/dispatcher"
)

// Health is the /health response.
type Health struct {
	Status    string          `json:"status"`
	Context   string          `json:"context"`
	Inbox     string          `json:"inbox"`
	Checks    map[string]bool `json:"checks"`
	Routes    int             `json:"routes"`
	Handlers  int             `json:"handlers"`
	Pending   int             `json:"pending"`
	Clients   int             `json:"clients"`
	Uptime    string          `json:"uptime"`
	Timestamp string          `json:"timestamp"`
}

// Health reports COMMS and database reachability plus dispatcher counters.
func (s *Server) Health(ctx context.Context) *Health {
	h := &Health{
		Status:    "healthy",
		Context:   string(s.ct),
		Inbox:     s.inbox,
		Checks:    map[string]bool{"comms": s.nc != nil && s.nc.IsConnected()},
		Clients:   len(s.Clients()),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.pool != nil {
		h.Checks["database"] = s.pool.Ping(ctx) == nil
	}
	if s.disp != nil {
		h.Routes = len(s.disp.Routes())
		h.Handlers = len(s.disp.Handlers())
		h.Pending = s.disp.Pending()
	}
	for _, ok := range h.Checks {
		if !ok {
			h.Status = "unhealthy"
		}
	}
	return h
}

// Handler returns the HTTP mux: home page, health, routes, entities and the
// request journal.
func (s *Server) Handler() http.Handler {
	healthTimeout := s.cfg.HealthCheckTimeout
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		h := s.Health(ctx)
		status := http.StatusOK
		if h.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/routes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.disp.Routes())
	})
	mux.HandleFunc("/entities", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.entityAddresses())
	})
	mux.HandleFunc("/journal", s.handleJournal())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - json encode: %v", logPrefix, err))
	}
}

func (s *Server) entityAddresses() []string {
	out := []string{}
	if s.entities == nil {
		return out
	}
	for _, a := range s.entities.Addresses() {
		out = append(out, a.String())
	}
	return out
}

func (s *Server) handleJournal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.journal == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "request journal is disabled"})
			return
		}
		q := r.URL.Query()
		params := db.ListRequestsParams{
			Dispatcher:    q.Get("dispatcher"),
			CorrelationID: q.Get("correlation"),
			Status:        q.Get("status"),
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a number"})
				return
			}
			params.Limit = n
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		records, err := s.journal.ListRequests(ctx, params)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - journal list: %v", logPrefix, err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if records == nil {
			records = []db.RequestRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

// homePageTemplate is the HTML for the bridge home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>rtbridge</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>rtbridge</h1>
  <p class="meta">{{.Health.Context}} context on {{.Health.Inbox}}</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    {{range $name, $ok := .Health.Checks}}
    <p>{{$name}}: {{if $ok}}<span class="stat">OK</span>{{else}}<span class="error">Failed</span>{{end}}</p>
    {{end}}
    <p>Handlers: <span class="stat">{{.Health.Handlers}}</span>, pending requests: <span class="stat">{{.Health.Pending}}</span>, clients: <span class="stat">{{.Health.Clients}}</span></p>
    <p>Uptime: {{.Health.Uptime}} (at {{.Health.Timestamp}})</p>
  </section>

  <section>
    <h2>Routes</h2>
    {{if not .Routes}}
    <p>No routing channels.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Context</th><th>Peer</th><th>Channel</th><th>State</th></tr>
      </thead>
      <tbody>
        {{range .Routes}}
        <tr><td>{{.Context}}</td><td>{{.Peer}}</td><td>{{.ChannelID}}</td><td>{{.State}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Entities</h2>
    {{if not .Entities}}
    <p>No browser entities registered.</p>
    {{else}}
    <ul>
      {{range .Entities}}<li>{{.}}</li>{{end}}
    </ul>
    {{end}}
  </section>

  <section>
    <h2>Clients</h2>
    {{if not .Clients}}
    <p>No external clients attached.</p>
    {{else}}
    <ul>
      {{range .Clients}}<li>{{.}}</li>{{end}}
    </ul>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health   *Health
	Routes   []dispatcher.Route
	Entities []string
	Clients  []string
}

// handleHome returns an HTTP handler for the bridge home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		clients := s.Clients()
		sort.Strings(clients)
		data := homeData{
			Health:   s.Health(ctx),
			Routes:   s.disp.Routes(),
			Entities: s.entityAddresses(),
			Clients:  clients,
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
