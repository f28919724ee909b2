package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/gestalyze/internal/app"
	"github.com/ayusman/gestalyze/internal/clock"
	"github.com/ayusman/gestalyze/internal/hand"
	"github.com/ayusman/gestalyze/internal/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// inbound is one client message. Control fields apply before the frame in the
// same message is processed, so a frame never waits a tick for the toggle or
// model switch sent with it. A message without "hands" is control only.
type inbound struct {
	EnableASL *bool       `json:"enable_asl,omitempty"`
	ModelType string      `json:"model_type,omitempty"`
	Hands     []hand.Wire `json:"hands"`
}

type sessionStatus struct {
	SessionID string `json:"session_id"`
	EnableASL bool   `json:"enable_asl"`
	ModelType string `json:"model_type"`
	Error     string `json:"error,omitempty"`
}

type frameResponse struct {
	app.Result
	Error string `json:"error,omitempty"`
}

// SessionHandler runs one pipeline session per websocket connection.
type SessionHandler struct {
	app   *app.App
	tick  time.Duration
	clock clock.Clock
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(a *app.App, tick time.Duration, clk clock.Clock) *SessionHandler {
	return &SessionHandler{app: a, tick: tick, clock: clk}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Server", "websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	session := h.app.NewSession()
	defer session.Close()

	done := make(chan struct{})
	defer close(done)
	go h.advance(session, done)

	if err := conn.WriteJSON(h.status(session, nil)); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Server", "session %s read: %v", session.ID(), err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			res, err := session.Reject(h.clock.Now(), fmt.Errorf("%w: %v", hand.ErrMalformedObservation, err))
			if err := conn.WriteJSON(frameResponse{Result: res, Error: err.Error()}); err != nil {
				logger.Debug("Server", "session %s write: %v", session.ID(), err)
				return
			}
			continue
		}

		var controlErr error
		if msg.EnableASL != nil {
			session.SetClassification(*msg.EnableASL)
		}
		if msg.ModelType != "" && msg.ModelType != h.app.ActiveVariant() {
			controlErr = h.app.SwitchVariant(msg.ModelType)
		}

		var reply any
		if msg.Hands == nil {
			reply = h.status(session, controlErr)
		} else {
			res, err := session.ProcessWire(h.clock.Now(), msg.Hands)
			resp := frameResponse{Result: res}
			if err == nil {
				err = controlErr
			}
			if err != nil {
				resp.Error = err.Error()
			}
			reply = resp
		}

		if err := conn.WriteJSON(reply); err != nil {
			logger.Debug("Server", "session %s write: %v", session.ID(), err)
			return
		}
	}
}

func (h *SessionHandler) status(s *app.Session, err error) sessionStatus {
	st := sessionStatus{
		SessionID: s.ID(),
		EnableASL: s.Classification(),
		ModelType: h.app.ActiveVariant(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

// advance ticks the session so its state machine sees time pass between frames.
func (h *SessionHandler) advance(s *app.Session, done <-chan struct{}) {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Advance(h.clock.Now())
		}
	}
}
