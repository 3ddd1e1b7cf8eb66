package acquisition

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeProjectionReader struct {
	statuses []OrderLineStatus
	lines    []OrderLine
	receipts []Receipt
}

func (f *fakeProjectionReader) DistinctLineStatuses(ctx context.Context, orderID int64) ([]OrderLineStatus, error) {
	return f.statuses, nil
}

func (f *fakeProjectionReader) ListOrderLines(ctx context.Context, orderID int64, statuses ...OrderLineStatus) ([]OrderLine, error) {
	return f.lines, nil
}

func (f *fakeProjectionReader) ListReceipts(ctx context.Context, orderID int64) ([]Receipt, error) {
	return f.receipts, nil
}

func newTestProjector(t *testing.T, reader ProjectionReader) *Projector {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewProjector(client, reader)
}

func TestProjectorRefreshAndGet(t *testing.T) {
	reader := &fakeProjectionReader{
		statuses: []OrderLineStatus{LineStatusOrdered, LineStatusReceived},
		lines: []OrderLine{
			{ID: 1, OrderID: 7, Status: LineStatusOrdered, Quantity: 2, TotalAmount: decimal.RequireFromString("10.005")},
			{ID: 2, OrderID: 7, Status: LineStatusReceived, Quantity: 1, ReceivedQuantity: 1, TotalAmount: decimal.RequireFromString("5.00")},
		},
		receipts: []Receipt{
			{ID: 3, OrderID: 7, TotalAmount: decimal.RequireFromString("5.00")},
		},
	}
	projector := newTestProjector(t, reader)
	ctx := context.Background()

	refreshed, err := projector.Refresh(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, OrderStatusPartiallyReceived, refreshed.Status)
	require.True(t, refreshed.Statement.Provisional.TotalAmount.Equal(decimal.RequireFromString("15.01")))
	require.Equal(t, 3, refreshed.Statement.Provisional.Quantity)
	require.True(t, refreshed.Statement.Expenditure.TotalAmount.Equal(decimal.RequireFromString("5.00")))
	require.Equal(t, 1, refreshed.Statement.Expenditure.Quantity)

	cached, err := projector.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, refreshed.Status, cached.Status)
	require.True(t, refreshed.Statement.Provisional.TotalAmount.Equal(cached.Statement.Provisional.TotalAmount))
}

func TestProjectorGetMiss(t *testing.T) {
	projector := newTestProjector(t, &fakeProjectionReader{})

	_, err := projector.Get(context.Background(), 404)
	require.ErrorIs(t, err, ErrProjectionMiss)
}

func TestProjectorInvalidate(t *testing.T) {
	reader := &fakeProjectionReader{statuses: []OrderLineStatus{LineStatusApproved}}
	projector := newTestProjector(t, reader)
	ctx := context.Background()

	_, err := projector.Refresh(ctx, 9)
	require.NoError(t, err)
	require.NoError(t, projector.Invalidate(ctx, 9))

	_, err = projector.Get(ctx, 9)
	require.ErrorIs(t, err, ErrProjectionMiss)
}
