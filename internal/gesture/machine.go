// Package gesture turns noisy per-frame hand snapshots into a debounced stream of
// stable events.
package gesture

import (
	"fmt"
	"slices"
	"time"
)

// Default timing parameters.
const (
	DefaultDebounce      = 500 * time.Millisecond
	DefaultHandTimeout   = time.Second
	DefaultResetCooldown = 5 * time.Second
)

// Config holds the machine timings.
type Config struct {
	// Debounce is the minimum time between two emissions while a hand is tracked.
	Debounce time.Duration
	// HandTimeout is how long a tracked hand may go unseen before a reset.
	HandTimeout time.Duration
	// ResetCooldown suppresses a reset that follows the previous one too closely.
	ResetCooldown time.Duration
}

// DefaultConfig returns the default timings.
func DefaultConfig() Config {
	return Config{
		Debounce:      DefaultDebounce,
		HandTimeout:   DefaultHandTimeout,
		ResetCooldown: DefaultResetCooldown,
	}
}

// State is the tracking state of a machine.
type State int

const (
	// NoHand means no hand is tracked.
	NoHand State = iota
	// HandTracked means a hand was seen within the hand timeout.
	HandTracked
	// Resetting is held only while a reset is being decided and is never observed from outside.
	Resetting
)

func (s State) String() string {
	switch s {
	case NoHand:
		return "no_hand"
	case HandTracked:
		return "hand_tracked"
	case Resetting:
		return "resetting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is the derived state of one hand in one frame.
type Snapshot struct {
	Hand        string
	Orientation string
	// Fingers are extended finger indices in detection order.
	Fingers []int
	// Letter is empty when classification is off or produced nothing.
	Letter        string
	Probabilities map[string]float64
}

// Equal reports whether two snapshots describe the same stable state.
// Probabilities are not compared.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Hand == o.Hand &&
		s.Orientation == o.Orientation &&
		s.Letter == o.Letter &&
		slices.Equal(s.Fingers, o.Fingers)
}

func (s *Snapshot) clone() *Snapshot {
	c := *s
	c.Fingers = slices.Clone(s.Fingers)
	return &c
}

// EventKind identifies the kind of an emitted event.
type EventKind int

const (
	// HandStatus reports a new stable hand state.
	HandStatus EventKind = iota
	// Gesture reports a new stable classified letter.
	Gesture
	// Reset reports that the tracked hand was lost.
	Reset
)

func (k EventKind) String() string {
	switch k {
	case HandStatus:
		return "hand_status"
	case Gesture:
		return "gesture"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one stable event. Reset events carry only Kind and Time.
type Event struct {
	Kind        EventKind
	Time        time.Time
	Hand        string
	Orientation string
	Fingers     []int
	Gesture     string
	Confidence  float64
}

// FingerCount returns the number of extended fingers.
func (e Event) FingerCount() int {
	return len(e.Fingers)
}

// Machine is the debounce and reset state machine for one session.
// It is not safe for concurrent use.
type Machine struct {
	cfg   Config
	state State

	last     *Snapshot
	lastEmit time.Time
	lastSeen time.Time
	pending  *Snapshot

	resetAt  time.Time
	hasReset bool
}

// New returns a machine in the NoHand state.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, state: NoHand}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Step advances the machine to now. snap is nil when no hand was observed.
// Ticks must be fed in non-decreasing time order.
func (m *Machine) Step(now time.Time, snap *Snapshot) []Event {
	var events []Event

	if m.state == HandTracked && now.Sub(m.lastSeen) >= m.cfg.HandTimeout {
		events = append(events, m.reset(now)...)
	}

	if snap == nil {
		if m.state == HandTracked {
			events = append(events, m.flush(now)...)
		}
		return events
	}

	m.lastSeen = now

	if m.state == NoHand {
		m.state = HandTracked
		m.pending = nil
		return append(events, m.emit(now, snap)...)
	}

	if snap.Equal(m.last) {
		m.pending = nil
		return events
	}
	if now.Sub(m.lastEmit) >= m.cfg.Debounce {
		m.pending = nil
		return append(events, m.emit(now, snap)...)
	}

	m.pending = snap.clone()
	return events
}

// flush emits the buffered snapshot once the debounce window has passed.
func (m *Machine) flush(now time.Time) []Event {
	if m.pending == nil || now.Sub(m.lastEmit) < m.cfg.Debounce {
		return nil
	}
	p := m.pending
	m.pending = nil
	if p.Equal(m.last) {
		return nil
	}
	return m.emit(now, p)
}

func (m *Machine) reset(now time.Time) []Event {
	m.state = Resetting
	m.pending = nil
	m.last = nil

	defer func() { m.state = NoHand }()

	if m.hasReset && now.Sub(m.resetAt) < m.cfg.ResetCooldown {
		return nil
	}
	m.hasReset = true
	m.resetAt = now
	return []Event{{Kind: Reset, Time: now}}
}

func (m *Machine) emit(now time.Time, snap *Snapshot) []Event {
	m.last = snap.clone()
	m.lastEmit = now

	events := []Event{{
		Kind:        HandStatus,
		Time:        now,
		Hand:        snap.Hand,
		Orientation: snap.Orientation,
		Fingers:     slices.Clone(snap.Fingers),
	}}

	if snap.Letter != "" {
		// A missing probability degrades to zero confidence.
		events = append(events, Event{
			Kind:        Gesture,
			Time:        now,
			Hand:        snap.Hand,
			Orientation: snap.Orientation,
			Fingers:     slices.Clone(snap.Fingers),
			Gesture:     snap.Letter,
			Confidence:  snap.Probabilities[snap.Letter],
		})
	}
	return events
}
