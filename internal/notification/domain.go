package notification

import (
	"fmt"
	"time"

	"github.com/alexandria-ils/alexandria/internal/shared"
)

// Type identifies what triggered a notification.
type Type string

const (
	// TypeAcquisitionOrder notifies a vendor about an acquisition order.
	TypeAcquisitionOrder Type = "acquisition_order"
	// TypeOverdue notifies a patron about an overdue loan.
	TypeOverdue Type = "overdue"
)

// Dispatch outcome statuses.
type Status string

const (
	StatusCreated Status = "created"
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Notification is a record-of-intent: it is persisted before dispatch and
// survives a failed delivery in a non-dispatched state.
type Notification struct {
	ID             int64
	Type           Type
	OrderID        int64
	LoanID         int64
	PatronID       int64
	OrganisationID int64
	Recipients     []string
	Status         Status
	Sent           bool
	ProcessDate    *time.Time
	CreatedAt      time.Time
}

// DispatchResult reports per-notification delivery counts.
type DispatchResult struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

var (
	// ErrNotFound indicates the notification does not resolve.
	ErrNotFound = fmt.Errorf("notification: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("notification: %w", shared.ErrValidation)
)
