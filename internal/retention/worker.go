// Package retention runs the background sweep that expires stored sessions
// and releases idle in-memory state.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/usba/internal/shared"
	"github.com/ashureev/usba/internal/telemetry"
)

// DefaultInterval is how often the sweep runs.
const DefaultInterval = 5 * time.Minute

// SlotStore deletes session slots not written for a while.
type SlotStore interface {
	DeleteStaleSlots(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MachineEvictor drops idle per-device wizard machines.
type MachineEvictor interface {
	EvictIdle(now time.Time, ttl time.Duration) int
	Len() int
}

// Pruner forgets per-device in-memory state.
type Pruner interface {
	Prune(idle time.Duration) int
}

// Pruners prunes each of its members.
type Pruners []Pruner

// Prune implements Pruner.
func (ps Pruners) Prune(idle time.Duration) int {
	n := 0
	for _, p := range ps {
		n += p.Prune(idle)
	}
	return n
}

// Worker sweeps expired slots, idle machines and idle per-device state.
type Worker struct {
	slots     SlotStore
	machines  MachineEvictor
	limiter   Pruner
	retention time.Duration
	idleTTL   time.Duration
	retry     shared.RetryPolicy
	now       func() time.Time
}

// NewWorker creates a worker. machines and limiter may be nil.
func NewWorker(slots SlotStore, machines MachineEvictor, limiter Pruner, retention, idleTTL time.Duration) *Worker {
	return &Worker{
		slots:     slots,
		machines:  machines,
		limiter:   limiter,
		retention: retention,
		idleTTL:   idleTTL,
		retry:     shared.RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond},
		now:       time.Now,
	}
}

// Start runs Sweep every interval until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", w.retention, "idle_ttl", w.idleTTL)

		for {
			select {
			case <-ticker.C:
				w.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one retention pass.
func (w *Worker) Sweep(ctx context.Context) {
	if w.machines != nil {
		if n := w.machines.EvictIdle(w.now(), w.idleTTL); n > 0 {
			slog.Info("Retention worker evicted idle machines", "count", n, "remaining", w.machines.Len())
		}
	}
	if w.limiter != nil {
		w.limiter.Prune(w.idleTTL)
	}

	var deleted int64
	err := shared.RetryOnConflict(ctx, w.retry, "delete stale slots", func() error {
		var err error
		deleted, err = w.slots.DeleteStaleSlots(ctx, w.retention)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention sweep cancelled", "error", err)
			return
		}
		slog.Error("Retention worker failed to delete stale slots", "error", err)
		return
	}
	if deleted > 0 {
		telemetry.RecordRetentionDeleted(deleted)
		slog.Info("Retention worker deleted stale sessions", "count", deleted)
	}
}
