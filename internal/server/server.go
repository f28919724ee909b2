// Package server provides the HTTP server of the Gestalyze pipeline host.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/gestalyze/internal/app"
	"github.com/ayusman/gestalyze/internal/clock"
	"github.com/ayusman/gestalyze/internal/metrics"
	"github.com/ayusman/gestalyze/internal/server/api"
	"github.com/ayusman/gestalyze/internal/store"
)

// DefaultTick is how often an idle session is advanced.
const DefaultTick = 100 * time.Millisecond

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	App       *app.App
	Metrics   *metrics.Metrics
	// Tick drives hand timeouts between frames. Zero means DefaultTick.
	Tick  time.Duration
	Clock clock.Clock
}

// Server represents the HTTP server for the Gestalyze application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Tick <= 0 {
		config.Tick = DefaultTick
	}
	if config.Clock == nil {
		config.Clock = clock.Real{}
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.App != nil {
		s.mux.Handle("/api/session", NewSessionHandler(s.config.App, s.config.Tick, s.config.Clock))
		s.mux.Handle("/api/variants", api.NewVariantsHandler(s.config.App))
	}

	if s.config.Store != nil {
		events := api.NewEventsHandler(s.config.Store)
		s.mux.Handle("/api/events", events)
		s.mux.Handle("/api/events/", events)
	}

	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics.Handler())
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}
	if s.config.App != nil {
		response["model_variant"] = s.config.App.ActiveVariant()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}
