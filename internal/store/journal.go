package store

import (
	"sync"

	"github.com/ayusman/gestalyze/internal/logger"
)

// Journal appends events on a background goroutine so callers never wait on disk.
type Journal struct {
	events *EventRepository
	queue  chan Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewJournal starts a journal writer with a queue of the given size.
func (s *Store) NewJournal(size int) *Journal {
	if size < 1 {
		size = 1
	}
	j := &Journal{
		events: s.Events(),
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

// Record queues an event. It returns false when the queue is full or the journal is closed.
func (j *Journal) Record(e Event) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return false
	}
	select {
	case j.queue <- e:
		return true
	default:
		logger.Warn("Journal", "queue full, dropping %s event", e.Kind)
		return false
	}
}

// Close stops accepting events and waits until queued ones are written.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()
	<-j.done
}

func (j *Journal) run() {
	defer close(j.done)
	for e := range j.queue {
		if err := j.events.Append(&e); err != nil {
			logger.Error("Journal", "append %s event: %v", e.Kind, err)
		}
	}
}
