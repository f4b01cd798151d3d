package poller

import (
	"context"
	"log/slog"
	"time"

	"ibhelm.app/agent/common/logger"
)

// Reclaimer periodically returns stale processing rows to pending so a
// poller can pick them up again after a crashed or wedged worker.
type Reclaimer struct {
	store     StaleReclaimer
	interval  time.Duration
	staleAge  time.Duration
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewReclaimer(reclaimerStore StaleReclaimer, interval, staleAge time.Duration) *Reclaimer {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAge <= 0 {
		staleAge = 10 * time.Minute
	}
	return &Reclaimer{
		store:     reclaimerStore,
		interval:  interval,
		staleAge:  staleAge,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (r *Reclaimer) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "agent.reclaimer"})

	defer close(r.stoppedCh)

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.interval,
		"stale_after", r.staleAge)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return nil
		case <-ticker.C:
			r.reclaim(ctx)
		}
	}
}

func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

func (r *Reclaimer) reclaim(ctx context.Context) {
	reclaimed, err := r.store.ReclaimStale(ctx, r.staleAge)
	if err != nil {
		slog.ErrorContext(ctx, "stale claim sweep failed", "error", err)
		return
	}
	if reclaimed > 0 {
		slog.WarnContext(ctx, "reclaimed stale triggers",
			"count", reclaimed,
			"stale_after", r.staleAge)
	}
}
