package sqlite

import (
	"context"
	"fmt"
	"log"
	"time"
)

// SweepExpired physically deletes reservation rows that stopped mattering
// before the cutoff: released reservations, and reservations whose expiry has
// passed. Correctness never depends on this; every read path applies logical
// expiry. This pass only bounds table growth.
//
// Lock rows are never swept. The locks table holds one row per resource, so
// it can't grow unbounded, and the row carries the seq counter that each new
// grant continues from.
func (s *Store) SweepExpired(ctx context.Context, expiredBefore time.Time) (int, error) {
	cutoff := msec(expiredBefore)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reservations
		 WHERE (released_at IS NOT NULL AND released_at <= ?) OR expires_at <= ?`,
		cutoff, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep reservations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// sweepStore is what the Sweeper needs from a store.
type sweepStore interface {
	SweepExpired(ctx context.Context, expiredBefore time.Time) (int, error)
}

// Sweeper periodically runs SweepExpired in the background.
type Sweeper struct {
	store    sweepStore
	interval time.Duration
	grace    time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper; grace is how long past expiry a row must be
// before it is physically removed, which keeps recently-expired rows visible
// for debugging. Call Start to begin.
func NewSweeper(store sweepStore, interval, grace time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		grace:    grace,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		sw.runSweep(ctx)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to exit.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *Sweeper) runSweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-sw.grace)
	n, err := sw.store.SweepExpired(ctx, cutoff)
	if err != nil {
		log.Printf("sweeper: %v", err)
		return
	}
	if n > 0 {
		log.Printf("sweeper: removed %d expired row(s)", n)
	}
}
