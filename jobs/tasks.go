package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOrderReindex refreshes the cached projection of acquisition orders.
	TaskOrderReindex = "acquisition:order_reindex"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// OrderReindexPayload names the orders whose projections need a refresh.
type OrderReindexPayload struct {
	OrderIDs []int64 `json:"order_ids"`
}

// NewOrderReindexTask builds a reindex task.
func NewOrderReindexTask(orderIDs ...int64) (*asynq.Task, error) {
	body, err := json.Marshal(OrderReindexPayload{OrderIDs: orderIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderReindex, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask builds a cleanup task. The retention window comes
// from worker configuration, so the payload is empty.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}
