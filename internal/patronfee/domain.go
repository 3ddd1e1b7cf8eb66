package patronfee

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexandria-ils/alexandria/internal/shared"
)

// TransactionType classifies a patron transaction.
type TransactionType string

const (
	TypeOverdue TransactionType = "overdue"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusOpen   TransactionStatus = "open"
	StatusClosed TransactionStatus = "closed"
)

// EventType classifies a ledger event.
type EventType string

const (
	EventFee     EventType = "fee"
	EventPayment EventType = "payment"
	EventDispute EventType = "dispute"
	EventCancel  EventType = "cancel"
)

// Transaction is a patron financial transaction. TotalAmount is immutable
// after creation; amendments happen through ledger events.
type Transaction struct {
	ID             int64
	Type           TransactionType
	Status         TransactionStatus
	PatronID       int64
	NotificationID int64
	OrganisationID int64
	Currency       string
	TotalAmount    decimal.Decimal
	CreationDate   time.Time
}

// Event is an append-only ledger entry documenting the creation or change of
// a transaction.
type Event struct {
	ID            int64
	TransactionID int64
	Type          EventType
	SubType       string
	Amount        decimal.Decimal
	Note          string
	CreatedAt     time.Time
}

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = fmt.Errorf("patronfee: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("patronfee: %w", shared.ErrValidation)
	// ErrCannotDelete indicates ledger events reference the transaction.
	ErrCannotDelete = errors.New("patronfee: transaction has ledger events")
)
