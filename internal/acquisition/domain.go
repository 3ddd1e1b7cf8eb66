package acquisition

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexandria-ils/alexandria/internal/shared"
)

// Derived acquisition order statuses. Never persisted: always computed from
// the order line statuses on read.
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "PENDING"
	OrderStatusOrdered           OrderStatus = "ORDERED"
	OrderStatusPartiallyReceived OrderStatus = "PARTIALLY_RECEIVED"
	OrderStatusReceived          OrderStatus = "RECEIVED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
)

// Order line fulfillment statuses.
type OrderLineStatus string

const (
	LineStatusApproved          OrderLineStatus = "APPROVED"
	LineStatusOrdered           OrderLineStatus = "ORDERED"
	LineStatusPartiallyReceived OrderLineStatus = "PARTIALLY_RECEIVED"
	LineStatusReceived          OrderLineStatus = "RECEIVED"
	LineStatusCancelled         OrderLineStatus = "CANCELLED"
)

// receivedStatuses are the line statuses that make a parent order at least
// partially received.
var receivedStatuses = []OrderLineStatus{LineStatusReceived, LineStatusPartiallyReceived}

// NoteType classifies order notes. At most one note per type.
type NoteType string

const (
	NoteTypeStaff  NoteType = "staff_note"
	NoteTypeVendor NoteType = "vendor_note"
)

// Note is a typed annotation on an order.
type Note struct {
	Type    NoteType `json:"type"`
	Content string   `json:"content"`
}

// Order is an acquisition order. Order lines and receipts reference it but
// are independent top-level records; the order never holds an authoritative
// copy of their state.
type Order struct {
	ID        int64
	LibraryID int64
	VendorID  int64
	Currency  string
	Notes     []Note
	CreatedAt time.Time
}

// Note returns the content of the note with the given type, or "".
func (o Order) Note(noteType NoteType) string {
	for _, note := range o.Notes {
		if note.Type == noteType {
			return note.Content
		}
	}
	return ""
}

// OrderLine is a single purchasable entry within an order.
type OrderLine struct {
	ID               int64
	OrderID          int64
	Status           OrderLineStatus
	Quantity         int
	ReceivedQuantity int
	TotalAmount      decimal.Decimal
	// OrderDate is a calendar day (YYYY-MM-DD), set exactly once on the
	// APPROVED -> ORDERED transition by the send-order workflow.
	OrderDate string
	Note      string
}

// Receipt records goods or an invoice received against an order. Receipts are
// created independently of order lines and are never cascade-deleted.
type Receipt struct {
	ID          int64
	OrderID     int64
	TotalAmount decimal.Decimal
	Reference   string
	Note        string
	ReceivedAt  time.Time
}

var (
	// ErrNotFound indicates a record is missing.
	ErrNotFound = fmt.Errorf("acquisition: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input, rejected before persistence.
	ErrValidation = fmt.Errorf("acquisition: %w", shared.ErrValidation)
	// ErrCannotDelete indicates blocking references exist; inspect the
	// reasons report for specifics.
	ErrCannotDelete = errors.New("acquisition: record has blocking links")
)
