package mission

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"triton/internal/check"
	"triton/internal/fleet"
	"triton/internal/store"
)

// Sweeper moves QUEUED commands past their TTL to EXPIRED. It runs on a
// jittered cadence and every move is a guarded transition, so running it
// concurrently with ingest (or a second sweeper) is safe.
type Sweeper struct {
	Store  *store.Store
	TTL    time.Duration
	Period time.Duration
	Clock  func() time.Time

	// OnSweep, when set, observes the number of commands expired per
	// pass. Used by tests.
	OnSweep func(expired int)
}

func (w *Sweeper) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}

// Run blocks until ctx is cancelled, sweeping once per period. The first
// sweep happens after one period, not at startup, so boot is not delayed
// behind a cold database.
func (w *Sweeper) Run(ctx context.Context) error {
	check.Assert(w.Store != nil, "Sweeper.Run: Store must not be nil")
	check.Assert(w.TTL > 0, "Sweeper.Run: TTL must be positive")
	check.Assert(w.Period > 0, "Sweeper.Run: Period must be positive")

	timer := time.NewTimer(w.nextWait())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		n, err := w.SweepOnce(ctx)
		if err != nil {
			slog.Warn("command sweep failed", "err", err)
		} else if n > 0 {
			slog.Info("commands expired", "count", n)
		}
		if w.OnSweep != nil {
			w.OnSweep(n)
		}

		timer.Reset(w.nextWait())
	}
}

// nextWait is the period plus up to 10% jitter, de-synchronizing sweeps
// across replicas.
func (w *Sweeper) nextWait() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(w.Period)/10 + 1))
	return w.Period + jitter
}

// SweepOnce expires every QUEUED command older than TTL and returns how
// many this pass moved.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := w.now()
	cutoff := now.Add(-w.TTL)

	candidates, err := w.Store.QueuedCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range candidates {
		moved, err := w.Store.Transition(ctx, c.ID, fleet.StatusQueued, fleet.StatusExpired, now)
		if err != nil {
			return expired, err
		}
		if !moved {
			continue // claimed by ingest between the select and here
		}
		expired++
		if err := w.Store.AppendEvent(ctx, c.MID, fleet.EventCommandExpired, map[string]any{
			"cmd_seq":    c.Seq,
			"cmd":        c.Cmd,
			"created_at": c.CreatedAt,
			"ttl_s":      w.TTL.Seconds(),
		}, now); err != nil {
			return expired, err
		}
	}
	return expired, nil
}
