package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/maneesh/pdfsqueeze/internal/apperr"
	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/maneesh/pdfsqueeze/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
)

const sweepBatchSize = 100

// Sweeper removes artifacts that outlived the store TTL.
type Sweeper struct {
	store    *Store
	interval time.Duration
	metrics  metrics.Metrics
	logger   *logging.Logger
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(store *Store, interval time.Duration, m metrics.Metrics, logger *logging.Logger) *Sweeper {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		metrics:  m,
		logger:   logger.Component("sweeper"),
	}
}

// Run sweeps until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("expiry sweeper started", "interval", sw.interval, "ttl", sw.store.TTL())
	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := sw.Sweep(ctx); err != nil && ctx.Err() == nil {
				sw.logger.Error("sweep failed", "err", err)
			}
		}
	}
}

// Sweep deletes every expired artifact and returns how many it removed.
// Artifacts deleted concurrently by someone else are not counted. Orphaned
// blobs are pruned afterwards and only logged.
func (sw *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "artifact.sweep")
	defer span.End()

	removed := 0
	for {
		expired, err := sw.store.ListExpired(ctx, sweepBatchSize)
		if err != nil {
			span.RecordError(err)
			return removed, err
		}

		progressed := false
		for _, a := range expired {
			err := sw.store.Delete(ctx, a.ID)
			switch {
			case err == nil:
				removed++
				progressed = true
				sw.metrics.IncExpired()
			case errors.Is(err, apperr.NotFound):
				progressed = true
			default:
				sw.logger.Warn("failed to delete expired artifact", "artifact_id", a.ID, "err", err)
			}
		}

		if len(expired) < sweepBatchSize || !progressed {
			break
		}
	}

	span.SetAttributes(attribute.Int("removed", removed))
	if removed > 0 {
		sw.logger.Debug("expired artifacts removed", "count", removed)
	}

	orphans, err := sw.store.PruneOrphans(ctx)
	if err != nil {
		sw.logger.Warn("orphan prune failed", "err", err)
	} else if orphans > 0 {
		sw.logger.Info("orphaned blobs removed", "count", orphans)
	}
	return removed, nil
}
