package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/alexandria-ils/alexandria/internal/acquisition"
	jobmetrics "github.com/alexandria-ils/alexandria/internal/jobs"
)

// OrderReindexer rebuilds order projections.
type OrderReindexer struct {
	projector *acquisition.Projector
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewOrderReindexer constructs the handler.
func NewOrderReindexer(projector *acquisition.Projector, logger *slog.Logger, metrics *jobmetrics.Metrics) *OrderReindexer {
	return &OrderReindexer{projector: projector, logger: logger, metrics: metrics}
}

// Handle processes TaskOrderReindex tasks: each named order's projection is
// recomputed from its current lines and receipts. Orders refresh
// concurrently with a small bound.
func (h *OrderReindexer) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track("order_reindex")
	var payload OrderReindexPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for _, orderID := range payload.OrderIDs {
		orderID := orderID
		group.Go(func() error {
			if _, err := h.projector.Refresh(ctx, orderID); err != nil {
				h.logger.Warn("order reindex failed",
					slog.Int64("order_id", orderID),
					slog.String("error", err.Error()))
				return err
			}
			return nil
		})
	}
	return tracker.End(group.Wait())
}
