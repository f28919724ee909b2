// Package app runs the per-session gesture pipeline: geometry, classification,
// debounce and event dispatch.
package app

import (
	"errors"

	"github.com/google/uuid"

	"github.com/ayusman/gestalyze/internal/classifier"
	"github.com/ayusman/gestalyze/internal/gesture"
	"github.com/ayusman/gestalyze/internal/logger"
	"github.com/ayusman/gestalyze/internal/metrics"
	"github.com/ayusman/gestalyze/internal/store"
)

// ErrSessionClosed is returned when a closed session receives a frame.
var ErrSessionClosed = errors.New("session closed")

// Sink receives every stable event. *bus.Publisher satisfies it.
type Sink interface {
	Publish(e gesture.Event)
}

// Recorder journals emitted events. *store.Journal satisfies it.
type Recorder interface {
	Record(e store.Event) bool
}

// Settings persists the active variant. *store.SettingsRepository satisfies it.
type Settings interface {
	Set(key, value string) error
}

// Config holds the collaborators of an App. Only Classifier is required.
type Config struct {
	Classifier *classifier.Adapter
	Sink       Sink
	Journal    Recorder
	Settings   Settings
	Metrics    *metrics.Metrics
	Gesture    gesture.Config
	// Classify is the initial classification flag of new sessions.
	Classify bool
}

// App is shared by all sessions. Sessions own their state machines; the only
// state they share is the classifier's active variant.
type App struct {
	config Config
}

// New creates an App. Zero gesture timings fall back to the defaults.
func New(config Config) (*App, error) {
	if config.Classifier == nil {
		return nil, errors.New("app: classifier is required")
	}
	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}
	if config.Gesture == (gesture.Config{}) {
		config.Gesture = gesture.DefaultConfig()
	}
	return &App{config: config}, nil
}

// NewSession opens an independent frame-processing session.
func (a *App) NewSession() *Session {
	s := &Session{
		id:       uuid.NewString(),
		app:      a,
		machine:  gesture.New(a.config.Gesture),
		classify: a.config.Classify,
	}
	a.config.Metrics.ActiveSessions.Add(1)
	logger.Info("Session", "opened %s", s.id)
	return s
}

// SwitchVariant makes id the active classifier variant for every session and
// persists the choice. A failure to persist is logged; the switch still applies.
func (a *App) SwitchVariant(id string) error {
	if err := a.config.Classifier.Switch(id); err != nil {
		return err
	}
	if a.config.Settings != nil {
		if err := a.config.Settings.Set(store.KeyModelVariant, id); err != nil {
			logger.Error("Session", "persist active variant %s: %v", id, err)
		}
	}
	return nil
}

// ActiveVariant returns the active variant id.
func (a *App) ActiveVariant() string {
	return a.config.Classifier.Active()
}

// Variants returns the loaded variant ids, sorted.
func (a *App) Variants() []string {
	return a.config.Classifier.Variants()
}

// Metrics returns the pipeline counters.
func (a *App) Metrics() *metrics.Metrics {
	return a.config.Metrics
}

func (a *App) dispatch(sessionID string, events []gesture.Event) {
	m := a.config.Metrics
	for _, e := range events {
		switch e.Kind {
		case gesture.HandStatus:
			m.HandStatusEvents.Add(1)
		case gesture.Gesture:
			m.GestureEvents.Add(1)
		case gesture.Reset:
			m.ResetEvents.Add(1)
		}

		if a.config.Sink != nil {
			a.config.Sink.Publish(e)
		}
		if a.config.Journal != nil {
			a.config.Journal.Record(store.Event{
				SessionID:   sessionID,
				Kind:        e.Kind.String(),
				Hand:        e.Hand,
				Orientation: e.Orientation,
				Fingers:     e.Fingers,
				Gesture:     e.Gesture,
				Confidence:  e.Confidence,
				CreatedAt:   e.Time,
			})
		}
		logger.Debug("Session", "%s: %s %s/%s %v %s", sessionID, e.Kind, e.Hand, e.Orientation, e.Fingers, e.Gesture)
	}
}
