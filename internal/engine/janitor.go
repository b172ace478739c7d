package engine

import (
	"context"
	"log/slog"
	"time"

	"alphaforge.app/scout/common/logger"
	"alphaforge.app/scout/internal/store"
)

// Janitor deletes expired fingerprints on an interval. Dedup correctness
// never depends on it, since lookups filter on expiry; it only keeps the
// table from growing without bound.
type Janitor struct {
	fingerprints store.FingerprintStore
	interval     time.Duration
	now          func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewJanitor(fingerprints store.FingerprintStore, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		fingerprints: fingerprints,
		interval:     interval,
		now:          time.Now,
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
}

// Run purges once at start, then on every interval until stopped.
func (j *Janitor) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "scout.engine.janitor"})
	defer close(j.stoppedCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.purge(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.purge(ctx)
		}
	}
}

func (j *Janitor) Stop() {
	close(j.stopCh)
	<-j.stoppedCh
}

func (j *Janitor) purge(ctx context.Context) {
	purged, err := j.fingerprints.PurgeExpired(ctx, j.now().UTC())
	if err != nil {
		slog.ErrorContext(ctx, "fingerprint purge failed", "error", err)
		return
	}
	if purged > 0 {
		slog.InfoContext(ctx, "expired fingerprints purged", "count", purged)
	}
}
