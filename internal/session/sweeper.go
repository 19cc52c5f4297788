package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// Sweeper periodically expires inactive sessions on a cron schedule.
type Sweeper struct {
	store    Store
	schedule *cronexpr.Expression
	ttl      time.Duration
	logger   *log.Logger
}

// NewSweeper parses the cron schedule (e.g. "*/5 * * * *").
func NewSweeper(store Store, schedule string, ttl time.Duration, logger *log.Logger) (*Sweeper, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep schedule %q: %w", schedule, err)
	}
	return &Sweeper{store: store, schedule: expr, ttl: ttl, logger: logger}, nil
}

// Run blocks until ctx is cancelled, expiring sessions at each tick.
func (sw *Sweeper) Run(ctx context.Context) {
	for {
		next := sw.schedule.Next(time.Now())
		if next.IsZero() {
			sw.logger.Printf("sweep schedule has no future run, stopping sweeper")
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if n := sw.store.Expire(sw.ttl); n > 0 {
				sw.logger.Printf("expired %d inactive sessions", n)
			}
		}
	}
}
