package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OrderProjection is the cached read model of an order: the derived status
// plus the account statement, both recomputed from the order lines and
// receipts on every refresh.
type OrderProjection struct {
	OrderID     int64            `json:"order_id"`
	Status      OrderStatus      `json:"status"`
	Statement   AccountStatement `json:"account_statement"`
	RefreshedAt time.Time        `json:"refreshed_at"`
}

// ErrProjectionMiss indicates no cached projection for the order.
var ErrProjectionMiss = errors.New("acquisition: projection not cached")

const projectionTTL = 24 * time.Hour

// ProjectionReader is the slice of the repository the projector reads from.
type ProjectionReader interface {
	DistinctLineStatuses(ctx context.Context, orderID int64) ([]OrderLineStatus, error)
	ListOrderLines(ctx context.Context, orderID int64, statuses ...OrderLineStatus) ([]OrderLine, error)
	ListReceipts(ctx context.Context, orderID int64) ([]Receipt, error)
}

// Projector maintains order projections in Redis. The cache is advisory:
// readers fall back to recomputation on a miss, and the reindex job refreshes
// entries after every mutation.
type Projector struct {
	client *redis.Client
	repo   ProjectionReader
}

// NewProjector constructs a projector.
func NewProjector(client *redis.Client, repo ProjectionReader) *Projector {
	return &Projector{client: client, repo: repo}
}

func projectionKey(orderID int64) string {
	return fmt.Sprintf("acq:order:%d:projection", orderID)
}

// Refresh recomputes the projection from the store and caches it.
func (p *Projector) Refresh(ctx context.Context, orderID int64) (OrderProjection, error) {
	statuses, err := p.repo.DistinctLineStatuses(ctx, orderID)
	if err != nil {
		return OrderProjection{}, err
	}
	lines, err := p.repo.ListOrderLines(ctx, orderID)
	if err != nil {
		return OrderProjection{}, err
	}
	receipts, err := p.repo.ListReceipts(ctx, orderID)
	if err != nil {
		return OrderProjection{}, err
	}

	projection := OrderProjection{
		OrderID:     orderID,
		Status:      ResolveOrderStatus(statuses),
		Statement:   BuildAccountStatement(lines, receipts),
		RefreshedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(projection)
	if err != nil {
		return OrderProjection{}, fmt.Errorf("acquisition: encode projection: %w", err)
	}
	if err := p.client.Set(ctx, projectionKey(orderID), payload, projectionTTL).Err(); err != nil {
		return OrderProjection{}, fmt.Errorf("acquisition: cache projection: %w", err)
	}
	return projection, nil
}

// Get returns the cached projection, or ErrProjectionMiss.
func (p *Projector) Get(ctx context.Context, orderID int64) (OrderProjection, error) {
	payload, err := p.client.Get(ctx, projectionKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return OrderProjection{}, ErrProjectionMiss
	}
	if err != nil {
		return OrderProjection{}, fmt.Errorf("acquisition: read projection: %w", err)
	}
	var projection OrderProjection
	if err := json.Unmarshal(payload, &projection); err != nil {
		return OrderProjection{}, fmt.Errorf("acquisition: decode projection: %w", err)
	}
	return projection, nil
}

// Invalidate drops the cached projection, forcing the next read to recompute.
func (p *Projector) Invalidate(ctx context.Context, orderID int64) error {
	return p.client.Del(ctx, projectionKey(orderID)).Err()
}
