package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/alexandria-ils/alexandria/internal/jobs"
	"github.com/alexandria-ils/alexandria/internal/shared"
)

// IdempotencyCleaner prunes idempotency keys past the retention window. Keys
// only dedupe near-simultaneous re-derivations; long-term duplicate detection
// rests on the unique notification reference of each transaction.
type IdempotencyCleaner struct {
	store     *shared.IdempotencyStore
	retention time.Duration
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleaner constructs the handler.
func NewIdempotencyCleaner(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleaner {
	return &IdempotencyCleaner{store: store, retention: retention, logger: logger, metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (h *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track("idempotency_cleanup")
	err := h.store.Cleanup(ctx, h.retention)
	if err != nil {
		h.logger.Warn("idempotency cleanup failed", slog.String("error", err.Error()))
	}
	return tracker.End(err)
}
