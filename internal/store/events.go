package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event kinds stored in the journal.
const (
	KindHandStatus = "hand_status"
	KindGesture    = "gesture"
	KindReset      = "reset"
)

// timeLayout is fixed width so created_at sorts and compares as text.
const timeLayout = "2006-01-02 15:04:05.000000000-07:00"

// Event is one journaled pipeline event.
type Event struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Kind        string    `json:"kind"`
	Hand        string    `json:"hand"`
	Orientation string    `json:"orientation"`
	Fingers     []int     `json:"fingers"`
	Gesture     string    `json:"gesture,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventRepository appends to and queries the event journal.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Append inserts an event, assigning an id and timestamp when missing.
func (r *EventRepository) Append(e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Fingers == nil {
		e.Fingers = []int{}
	}

	fingers, err := json.Marshal(e.Fingers)
	if err != nil {
		return fmt.Errorf("encode fingers: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO events (id, session_id, kind, hand, orientation, fingers, gesture, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Kind, e.Hand, e.Orientation, string(fingers), e.Gesture, e.Confidence, e.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

// Recent returns up to limit events, newest first.
func (r *EventRepository) Recent(limit int) ([]*Event, error) {
	return r.query(
		`SELECT id, session_id, kind, hand, orientation, fingers, gesture, confidence, created_at
		 FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
}

// ForSession returns up to limit events of one session, newest first.
func (r *EventRepository) ForSession(sessionID string, limit int) ([]*Event, error) {
	return r.query(
		`SELECT id, session_id, kind, hand, orientation, fingers, gesture, confidence, created_at
		 FROM events WHERE session_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		sessionID, limit,
	)
}

func (r *EventRepository) query(q string, args ...any) ([]*Event, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var fingers, created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Hand, &e.Orientation,
			&fingers, &e.Gesture, &e.Confidence, &created); err != nil {
			return nil, err
		}
		t, err := time.Parse(timeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("decode created_at of event %s: %w", e.ID, err)
		}
		e.CreatedAt = t
		if err := json.Unmarshal([]byte(fingers), &e.Fingers); err != nil {
			return nil, fmt.Errorf("decode fingers of event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// CountByKind returns the number of journaled events per kind.
func (r *EventRepository) CountByKind() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{
		KindHandStatus: 0,
		KindGesture:    0,
		KindReset:      0,
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// DeleteBefore removes events created before t and returns how many were removed.
func (r *EventRepository) DeleteBefore(t time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM events WHERE created_at < ?`, t.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
