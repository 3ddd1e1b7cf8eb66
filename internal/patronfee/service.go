package patronfee

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/alexandria-ils/alexandria/internal/integrity"
	"github.com/alexandria-ils/alexandria/internal/notification"
	"github.com/alexandria-ils/alexandria/internal/shared"
)

// TagEvents is the resource tag of transaction ledger events in the
// integrity registry.
const TagEvents = "events"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transaction, error)
	GetByNotification(ctx context.Context, notificationID int64) (Transaction, error)
	ListEvents(ctx context.Context, transactionID int64) ([]Event, error)
}

// OrganisationPort resolves organisation attributes referenced by
// notifications.
type OrganisationPort interface {
	OrganisationCurrency(ctx context.Context, organisationID int64) (string, error)
}

// IdempotencyPort guards against double derivation.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service derives patron financial transactions from notifications and
// maintains their ledgers.
type Service struct {
	logger        *slog.Logger
	repo          RepositoryPort
	fees          FeeCalculator
	organisations OrganisationPort
	idempotency   IdempotencyPort
	audit         AuditPort
	guard         *integrity.Guard
}

// ServiceParams bundles Service dependencies.
type ServiceParams struct {
	Logger        *slog.Logger
	Repo          RepositoryPort
	Fees          FeeCalculator
	Organisations OrganisationPort
	Idempotency   IdempotencyPort
	Audit         AuditPort
	Registry      *integrity.Registry
}

// NewService constructs the patron fee service. The deletion guard has a
// single blocking kind: any ledger event pins its transaction.
func NewService(p ServiceParams) *Service {
	return &Service{
		logger:        p.Logger,
		repo:          p.Repo,
		fees:          p.Fees,
		organisations: p.Organisations,
		idempotency:   p.Idempotency,
		audit:         p.Audit,
		guard:         integrity.NewGuard(p.Registry, integrity.WithKinds(TagEvents)),
	}
}

// derivationKey is deterministic per notification so a re-derivation attempt
// collides with the first one.
func derivationKey(notificationID int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("pttr:notification:%d", notificationID))).String()
}

// CreateFromNotification derives an open transaction from an overdue
// notification. Non-overdue types yield nil without error. The transaction
// and its first ledger event are committed atomically; a duplicate derivation
// returns the transaction created the first time.
func (s *Service) CreateFromNotification(ctx context.Context, notif notification.Notification) (*Transaction, error) {
	if notif.Type != notification.TypeOverdue {
		return nil, nil
	}
	if notif.ID == 0 || notif.PatronID == 0 || notif.OrganisationID == 0 {
		return nil, fmt.Errorf("%w: notification missing patron or organisation reference", ErrValidation)
	}

	key := derivationKey(notif.ID)
	if err := s.idempotency.CheckAndInsert(ctx, key, "patronfee"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			existing, getErr := s.repo.GetByNotification(ctx, notif.ID)
			if getErr != nil {
				return nil, fmt.Errorf("patronfee: load existing derivation: %w", getErr)
			}
			return &existing, nil
		}
		return nil, err
	}

	txn, err := s.derive(ctx, notif)
	if err != nil {
		// Release the key so a later retry can re-derive.
		if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
			s.logger.Warn("idempotency rollback failed",
				slog.String("key", key),
				slog.String("error", delErr.Error()))
		}
		return nil, err
	}

	s.recordAudit(ctx, "transaction.create", txn.ID, map[string]any{
		"notification_id": notif.ID,
		"total_amount":    txn.TotalAmount.StringFixed(2),
	})
	return txn, nil
}

func (s *Service) derive(ctx context.Context, notif notification.Notification) (*Transaction, error) {
	code, err := s.organisations.OrganisationCurrency(ctx, notif.OrganisationID)
	if err != nil {
		return nil, fmt.Errorf("patronfee: resolve organisation currency: %w", err)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("%w: organisation currency %q: %v", ErrValidation, code, err)
	}

	amount, err := s.fees.CalculateAmount(ctx, notif)
	if err != nil {
		return nil, fmt.Errorf("patronfee: calculate fee: %w", err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative fee amount", ErrValidation)
	}

	txn := Transaction{
		Type:           TypeOverdue,
		Status:         StatusOpen,
		PatronID:       notif.PatronID,
		NotificationID: notif.ID,
		OrganisationID: notif.OrganisationID,
		Currency:       unit.String(),
		TotalAmount:    amount,
		CreationDate:   time.Now().UTC(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateTransaction(ctx, txn)
		if err != nil {
			return err
		}
		txn.ID = id
		_, err = tx.InsertEvent(ctx, Event{
			TransactionID: id,
			Type:          EventFee,
			SubType:       string(txn.Type),
			Amount:        amount,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// RegisterEventInput describes a ledger amendment.
type RegisterEventInput struct {
	TransactionID int64
	Type          EventType
	SubType       string
	Amount        decimal.Decimal
	Note          string
}

// RegisterEvent appends a ledger event to an existing transaction. The
// transaction's total amount is never touched; the ledger is the record of
// amendments.
func (s *Service) RegisterEvent(ctx context.Context, input RegisterEventInput) (Event, error) {
	switch input.Type {
	case EventFee, EventPayment, EventDispute, EventCancel:
	default:
		return Event{}, fmt.Errorf("%w: unknown event type %q", ErrValidation, input.Type)
	}
	if _, err := s.repo.Get(ctx, input.TransactionID); err != nil {
		return Event{}, err
	}

	event := Event{
		TransactionID: input.TransactionID,
		Type:          input.Type,
		SubType:       input.SubType,
		Amount:        input.Amount,
		Note:          input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertEvent(ctx, event)
		if err != nil {
			return err
		}
		event.ID = id
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	return event, nil
}

// Get loads a transaction.
func (s *Service) Get(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.Get(ctx, id)
}

// Events returns the transaction's ledger.
func (s *Service) Events(ctx context.Context, transactionID int64) ([]Event, error) {
	if _, err := s.repo.Get(ctx, transactionID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, transactionID)
}

// LinksTo counts ledger events referencing the transaction.
func (s *Service) LinksTo(ctx context.Context, transactionID int64) (integrity.Links, error) {
	if _, err := s.repo.Get(ctx, transactionID); err != nil {
		return nil, err
	}
	return s.guard.LinksTo(ctx, transactionID)
}

// ReasonsNotToDelete reports what blocks deleting the transaction. Any
// positive event count blocks, and a transaction without events never occurs
// in steady state, so in practice transactions are permanent.
func (s *Service) ReasonsNotToDelete(ctx context.Context, transactionID int64) (integrity.Reasons, error) {
	if _, err := s.repo.Get(ctx, transactionID); err != nil {
		return integrity.Reasons{}, err
	}
	return s.guard.ReasonsNotToDelete(ctx, transactionID)
}

// DeleteTransaction removes an event-less transaction. Blocked deletions
// return the reasons alongside ErrCannotDelete.
func (s *Service) DeleteTransaction(ctx context.Context, transactionID int64) (integrity.Reasons, error) {
	if _, err := s.repo.Get(ctx, transactionID); err != nil {
		return integrity.Reasons{}, err
	}
	reasons, err := s.guard.ReasonsNotToDelete(ctx, transactionID)
	if err != nil {
		return integrity.Reasons{}, err
	}
	if !reasons.Empty() {
		return reasons, ErrCannotDelete
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteTransaction(ctx, transactionID)
	})
	if err != nil {
		return integrity.Reasons{}, err
	}
	s.recordAudit(ctx, "transaction.delete", transactionID, nil)
	return integrity.Reasons{}, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, transactionID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		Action:   action,
		Entity:   "patron_transaction",
		EntityID: strconv.FormatInt(transactionID, 10),
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed",
			slog.String("action", action),
			slog.String("error", err.Error()))
	}
}
