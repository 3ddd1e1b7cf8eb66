package acquisition

import "github.com/samber/lo"

// ResolveOrderStatus derives an order status from the distinct statuses of
// its order lines. It is a pure function of the status set; counts are
// irrelevant, only presence matters.
//
// Decision table (input: distinct line statuses):
//
//	{}                               -> PENDING
//	{APPROVED}                       -> PENDING
//	{ORDERED}                        -> ORDERED
//	{RECEIVED}                       -> RECEIVED
//	{PARTIALLY_RECEIVED}             -> PARTIALLY_RECEIVED
//	{CANCELLED}                      -> CANCELLED
//	multiple, after dropping CANCELLED:
//	  contains RECEIVED or PARTIALLY_RECEIVED -> PARTIALLY_RECEIVED
//	  contains ORDERED                        -> ORDERED
//	  otherwise                               -> PENDING
//
// CANCELLED is only dropped when more than one distinct status exists, so an
// order whose lines are all cancelled reports CANCELLED. The multi-status
// {APPROVED, CANCELLED} case deliberately falls through to PENDING, matching
// the single-status APPROVED mapping.
func ResolveOrderStatus(statuses []OrderLineStatus) OrderStatus {
	statuses = lo.Uniq(statuses)

	if len(statuses) > 1 && lo.Contains(statuses, LineStatusCancelled) {
		statuses = lo.Without(statuses, LineStatusCancelled)
	}

	if len(statuses) > 1 {
		if lo.Some(statuses, receivedStatuses) {
			return OrderStatusPartiallyReceived
		}
		if lo.Contains(statuses, LineStatusOrdered) {
			return OrderStatusOrdered
		}
		return OrderStatusPending
	}

	if len(statuses) == 1 {
		switch statuses[0] {
		case LineStatusApproved:
			return OrderStatusPending
		case LineStatusOrdered:
			return OrderStatusOrdered
		case LineStatusReceived:
			return OrderStatusReceived
		case LineStatusPartiallyReceived:
			return OrderStatusPartiallyReceived
		case LineStatusCancelled:
			return OrderStatusCancelled
		}
	}

	return OrderStatusPending
}
