package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/gestalyze/internal/store"
)

// Journal listing limits.
const (
	DefaultEventLimit = 50
	MaxEventLimit     = 1000
)

// EventsHandler serves the event journal under /api/events.
type EventsHandler struct {
	store *store.Store
}

// NewEventsHandler creates a new EventsHandler with the given store.
func NewEventsHandler(s *store.Store) *EventsHandler {
	return &EventsHandler{store: s}
}

type listEventsResponse struct {
	Events []*store.Event `json:"events"`
}

type statsResponse struct {
	Counts map[string]int `json:"counts"`
}

// ServeHTTP implements the http.Handler interface.
// Expected paths: /api/events and /api/events/stats.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/events")
	path = strings.Trim(path, "/")

	switch path {
	case "":
		h.list(w, r)
	case "stats":
		h.stats(w)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// list handles GET /api/events?limit=N&session=ID, newest first.
func (h *EventsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxEventLimit)
	}

	var (
		events []*store.Event
		err    error
	)
	if session := r.URL.Query().Get("session"); session != "" {
		events, err = h.store.Events().ForSession(session, limit)
	} else {
		events, err = h.store.Events().Recent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	if events == nil {
		events = []*store.Event{}
	}

	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

func (h *EventsHandler) stats(w http.ResponseWriter) {
	counts, err := h.store.Events().CountByKind()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count events")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Counts: counts})
}
