package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/gestalyze/internal/geometry"
	"github.com/ayusman/gestalyze/internal/gesture"
	"github.com/ayusman/gestalyze/internal/hand"
	"github.com/ayusman/gestalyze/internal/logger"
)

// Result is the per-frame response of a session.
type Result struct {
	HandDetected     bool               `json:"hand_detected"`
	FingerCount      int                `json:"finger_count"`
	HandView         string             `json:"hand_view,omitempty"`
	Handedness       string             `json:"handedness,omitempty"`
	LiftedFingers    []int              `json:"lifted_fingers"`
	ASLLetter        string             `json:"asl_letter,omitempty"`
	ASLProbabilities map[string]float64 `json:"asl_probabilities,omitempty"`
}

func noHand() Result {
	return Result{LiftedFingers: []int{}}
}

// Session processes the frames of one client in arrival order. Its methods
// are serialized, so one session may be driven from several goroutines.
type Session struct {
	id  string
	app *App

	mu       sync.Mutex
	machine  *gesture.Machine
	classify bool
	closed   bool
	// last is the latest tick time. Ticks racing in out of order are clamped to it.
	last time.Time
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// SetClassification enables or disables letter classification from the next frame on.
func (s *Session) SetClassification(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classify = enabled
}

// Classification reports whether letter classification is enabled.
func (s *Session) Classification() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classify
}

// State returns the state of the session's state machine.
func (s *Session) State() gesture.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// ProcessWire decodes the wire hands of one frame and processes them.
// A malformed first hand is an analysis error and the tick counts as handless.
func (s *Session) ProcessWire(now time.Time, hands []hand.Wire) (Result, error) {
	if len(hands) == 0 {
		return s.Process(now, nil)
	}

	obs, err := hand.Decode(hands[0])
	if err != nil {
		return s.Reject(now, err)
	}
	return s.Process(now, []hand.Observation{obs})
}

// Reject records a frame that could not be decoded. The tick counts as
// handless and err is returned to the caller.
func (s *Session) Reject(now time.Time, err error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return noHand(), ErrSessionClosed
	}
	s.app.config.Metrics.FramesProcessed.Add(1)
	return noHand(), s.fail(now, err)
}

// Process runs one frame through the pipeline. Only the first observation is
// used. Analysis errors are logged and returned; the frame then counts as having
// no hand, and the session stays usable.
func (s *Session) Process(now time.Time, observations []hand.Observation) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return noHand(), ErrSessionClosed
	}
	m := s.app.config.Metrics
	m.FramesProcessed.Add(1)

	if len(observations) == 0 {
		s.step(now, nil)
		return noHand(), nil
	}

	obs := &observations[0]
	handedness := geometry.Correct(obs.Handedness)
	geo := geometry.Analyze(obs, handedness)

	snap := &gesture.Snapshot{
		Hand:        handedness,
		Orientation: string(geo.Orientation),
		Fingers:     geo.Lifted,
	}
	result := Result{
		HandDetected:  true,
		FingerCount:   geo.FingerCount,
		HandView:      string(geo.Orientation),
		Handedness:    handedness,
		LiftedFingers: geo.Lifted,
	}
	if result.LiftedFingers == nil {
		result.LiftedFingers = []int{}
	}

	if s.classify {
		pred, err := s.app.config.Classifier.Classify(&obs.Points)
		if err != nil {
			return noHand(), s.fail(now, fmt.Errorf("classify: %w", err))
		}
		snap.Letter = pred.Letter
		snap.Probabilities = pred.Probabilities
		result.ASLLetter = pred.Letter
		result.ASLProbabilities = pred.Probabilities
	}

	m.HandsDetected.Add(1)
	s.step(now, snap)
	return result, nil
}

// Advance steps the state machine without a frame so hand timeouts and
// pending debounced changes fire while the client is idle.
func (s *Session) Advance(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.step(now, nil)
}

// Close releases the session. It emits no reset.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.app.config.Metrics.ActiveSessions.Add(-1)
	logger.Info("Session", "closed %s", s.id)
}

func (s *Session) step(now time.Time, snap *gesture.Snapshot) {
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	s.app.dispatch(s.id, s.machine.Step(now, snap))
}

// fail handles an analysis error: the tick proceeds as a frame without a hand.
func (s *Session) fail(now time.Time, err error) error {
	s.app.config.Metrics.AnalysisErrors.Add(1)
	logger.Warn("Session", "%s: analysis failed: %v", s.id, err)
	s.step(now, nil)
	return err
}
