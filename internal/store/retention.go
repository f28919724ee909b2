package store

import (
	"context"
	"time"

	"github.com/ayusman/gestalyze/internal/clock"
	"github.com/ayusman/gestalyze/internal/logger"
)

// Retention prunes journal events older than MaxAge. A zero MaxAge keeps
// everything.
type Retention struct {
	Events   *EventRepository
	MaxAge   time.Duration
	Interval time.Duration
	Clock    clock.Clock
}

// Sweep deletes events created more than MaxAge before now.
func (r Retention) Sweep(now time.Time) (int64, error) {
	if r.MaxAge <= 0 {
		return 0, nil
	}
	return r.Events.DeleteBefore(now.Add(-r.MaxAge))
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (r Retention) Run(ctx context.Context) {
	if r.MaxAge <= 0 || r.Interval <= 0 {
		return
	}
	clk := r.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	for {
		n, err := r.Sweep(clk.Now())
		if err != nil {
			logger.Warn("Store", "event retention sweep: %v", err)
		} else if n > 0 {
			logger.Info("Store", "pruned %d events older than %s", n, r.MaxAge)
		}

		select {
		case <-ctx.Done():
			return
		case <-clk.After(r.Interval):
		}
	}
}
