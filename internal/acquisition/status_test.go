package acquisition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveOrderStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []OrderLineStatus
		want     OrderStatus
	}{
		{"no lines", nil, OrderStatusPending},
		{"single approved", []OrderLineStatus{LineStatusApproved}, OrderStatusPending},
		{"single ordered", []OrderLineStatus{LineStatusOrdered}, OrderStatusOrdered},
		{"single received", []OrderLineStatus{LineStatusReceived}, OrderStatusReceived},
		{"single partially received", []OrderLineStatus{LineStatusPartiallyReceived}, OrderStatusPartiallyReceived},
		{"only cancelled", []OrderLineStatus{LineStatusCancelled}, OrderStatusCancelled},
		{"received dominates ordered", []OrderLineStatus{LineStatusOrdered, LineStatusReceived}, OrderStatusPartiallyReceived},
		{"partially received dominates ordered", []OrderLineStatus{LineStatusOrdered, LineStatusPartiallyReceived}, OrderStatusPartiallyReceived},
		{"cancelled dropped next to ordered", []OrderLineStatus{LineStatusOrdered, LineStatusCancelled}, OrderStatusOrdered},
		{"cancelled dropped next to approved", []OrderLineStatus{LineStatusApproved, LineStatusCancelled}, OrderStatusPending},
		{"cancelled dropped next to received", []OrderLineStatus{LineStatusReceived, LineStatusCancelled}, OrderStatusReceived},
		{"approved and ordered", []OrderLineStatus{LineStatusApproved, LineStatusOrdered}, OrderStatusOrdered},
		{"everything mixed", []OrderLineStatus{LineStatusApproved, LineStatusOrdered, LineStatusReceived, LineStatusCancelled}, OrderStatusPartiallyReceived},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ResolveOrderStatus(tc.statuses))
		})
	}
}

func TestResolveOrderStatusIsDeterministic(t *testing.T) {
	statuses := []OrderLineStatus{LineStatusOrdered, LineStatusCancelled, LineStatusReceived}
	first := ResolveOrderStatus(statuses)
	second := ResolveOrderStatus(statuses)
	require.Equal(t, first, second)
}

func TestResolveOrderStatusIgnoresDuplicates(t *testing.T) {
	// Presence matters, not counts.
	require.Equal(t, OrderStatusOrdered,
		ResolveOrderStatus([]OrderLineStatus{LineStatusOrdered, LineStatusOrdered, LineStatusOrdered}))
}
