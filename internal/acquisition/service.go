package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexandria-ils/alexandria/internal/integrity"
	"github.com/alexandria-ils/alexandria/internal/notification"
	"github.com/alexandria-ils/alexandria/internal/observability"
	"github.com/alexandria-ils/alexandria/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]Order, int, error)
	DistinctLineStatuses(ctx context.Context, orderID int64) ([]OrderLineStatus, error)
	ListOrderLines(ctx context.Context, orderID int64, statuses ...OrderLineStatus) ([]OrderLine, error)
	ListReceipts(ctx context.Context, orderID int64) ([]Receipt, error)
	MarkApprovedLinesOrdered(ctx context.Context, orderID int64, orderDate string) (int, error)
}

// NotificationPort persists and reloads notification records.
type NotificationPort interface {
	Create(ctx context.Context, n notification.Notification) (notification.Notification, error)
	Get(ctx context.Context, id int64) (notification.Notification, error)
}

// DispatchPort delivers already-persisted notifications.
type DispatchPort interface {
	Dispatch(ctx context.Context, notificationIDs []int64) (notification.DispatchResult, error)
}

// ReindexPort refreshes the cached order projection after mutations.
type ReindexPort interface {
	EnqueueOrderReindex(ctx context.Context, orderID int64) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates acquisition order flows.
type Service struct {
	logger          *slog.Logger
	repo            RepositoryPort
	notifications   NotificationPort
	dispatcher      DispatchPort
	reindexer       ReindexPort
	audit           AuditPort
	guard           *integrity.Guard
	metrics         *observability.Metrics
	dispatchTimeout time.Duration
}

// ServiceParams bundles Service dependencies.
type ServiceParams struct {
	Logger          *slog.Logger
	Repo            RepositoryPort
	Notifications   NotificationPort
	Dispatcher      DispatchPort
	Reindexer       ReindexPort
	Audit           AuditPort
	Registry        *integrity.Registry
	Metrics         *observability.Metrics
	DispatchTimeout time.Duration
}

// NewService constructs the acquisition service and configures the order
// deletion guard: order lines cascade, receipts block, and a non-PENDING
// derived status blocks regardless of links.
func NewService(p ServiceParams) *Service {
	s := &Service{
		logger:          p.Logger,
		repo:            p.Repo,
		notifications:   p.Notifications,
		dispatcher:      p.Dispatcher,
		reindexer:       p.Reindexer,
		audit:           p.Audit,
		metrics:         p.Metrics,
		dispatchTimeout: p.DispatchTimeout,
	}
	s.guard = integrity.NewGuard(p.Registry,
		integrity.WithKinds(TagOrderLines, TagReceipts),
		integrity.WithCascade(TagOrderLines),
		integrity.WithReason(s.statusReason),
	)
	return s
}

// statusReason blocks deletion of any order that already progressed beyond
// PENDING.
func (s *Service) statusReason(ctx context.Context, orderID int64) (string, string, bool, error) {
	status, err := s.OrderStatus(ctx, orderID)
	if err != nil {
		return "", "", false, err
	}
	return "status", string(status), status != OrderStatusPending, nil
}

// CreateOrderInput describes order creation payload.
type CreateOrderInput struct {
	LibraryID int64
	VendorID  int64
	Currency  string
	Notes     []Note
}

// AddOrderLineInput describes an order line payload.
type AddOrderLineInput struct {
	OrderID     int64
	Quantity    int
	TotalAmount decimal.Decimal
	Note        string
}

// AddReceiptInput describes a receipt payload.
type AddReceiptInput struct {
	OrderID     int64
	TotalAmount decimal.Decimal
	Reference   string
	Note        string
}

// CreateOrder persists a new order. At most one note per note type, matching
// the record schema's extended validation.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (Order, error) {
	seen := map[NoteType]bool{}
	for _, note := range input.Notes {
		if note.Type != NoteTypeStaff && note.Type != NoteTypeVendor {
			return Order{}, fmt.Errorf("%w: unknown note type %q", ErrValidation, note.Type)
		}
		if seen[note.Type] {
			return Order{}, fmt.Errorf("%w: multiple notes of type %q", ErrValidation, note.Type)
		}
		seen[note.Type] = true
	}
	if input.LibraryID == 0 || input.VendorID == 0 {
		return Order{}, fmt.Errorf("%w: library and vendor are required", ErrValidation)
	}

	order := Order{
		LibraryID: input.LibraryID,
		VendorID:  input.VendorID,
		Currency:  input.Currency,
		Notes:     input.Notes,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.recordAudit(ctx, "order.create", order.ID, nil)
	return s.repo.GetOrder(ctx, order.ID)
}

// AddOrderLine attaches a new APPROVED line to an existing order.
func (s *Service) AddOrderLine(ctx context.Context, input AddOrderLineInput) (OrderLine, error) {
	if input.Quantity <= 0 {
		return OrderLine{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if input.TotalAmount.IsNegative() {
		return OrderLine{}, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	if _, err := s.repo.GetOrder(ctx, input.OrderID); err != nil {
		return OrderLine{}, err
	}

	line := OrderLine{
		OrderID:     input.OrderID,
		Status:      LineStatusApproved,
		Quantity:    input.Quantity,
		TotalAmount: input.TotalAmount,
		Note:        input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertOrderLine(ctx, line)
		if err != nil {
			return err
		}
		line.ID = id
		return nil
	})
	if err != nil {
		return OrderLine{}, err
	}

	s.enqueueReindex(ctx, input.OrderID)
	return line, nil
}

// AddReceipt records goods or an invoice received against an order.
func (s *Service) AddReceipt(ctx context.Context, input AddReceiptInput) (Receipt, error) {
	if input.TotalAmount.IsNegative() {
		return Receipt{}, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	if _, err := s.repo.GetOrder(ctx, input.OrderID); err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		OrderID:     input.OrderID,
		TotalAmount: input.TotalAmount,
		Reference:   input.Reference,
		Note:        input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		receipt.ID = id
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	s.enqueueReindex(ctx, input.OrderID)
	return receipt, nil
}

// GetOrder loads an order.
func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListOrders returns a page of orders with pagination metadata.
func (s *Service) ListOrders(ctx context.Context, page, perPage int) ([]Order, shared.Pagination, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	orders, total, err := s.repo.ListOrders(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, shared.NewPagination(page, perPage, total), nil
}

// OrderStatus derives the order status from the distinct statuses of its
// lines. Computed on every call, never read from storage.
func (s *Service) OrderStatus(ctx context.Context, orderID int64) (OrderStatus, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return "", err
	}
	statuses, err := s.repo.DistinctLineStatuses(ctx, orderID)
	if err != nil {
		return "", err
	}
	return ResolveOrderStatus(statuses), nil
}

// AccountStatement assembles provisional and expenditure totals for an order.
func (s *Service) AccountStatement(ctx context.Context, orderID int64) (AccountStatement, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return AccountStatement{}, err
	}
	lines, err := s.repo.ListOrderLines(ctx, orderID)
	if err != nil {
		return AccountStatement{}, err
	}
	receipts, err := s.repo.ListReceipts(ctx, orderID)
	if err != nil {
		return AccountStatement{}, err
	}
	return BuildAccountStatement(lines, receipts), nil
}

// OrderDate returns the earliest order date among lines that have one, or ""
// when the order has not been sent yet.
func (s *Service) OrderDate(ctx context.Context, orderID int64) (string, error) {
	lines, err := s.repo.ListOrderLines(ctx, orderID)
	if err != nil {
		return "", err
	}
	earliest := ""
	for _, line := range lines {
		if line.OrderDate == "" {
			continue
		}
		if earliest == "" || line.OrderDate < earliest {
			earliest = line.OrderDate
		}
	}
	return earliest, nil
}

// SendOrder runs the send workflow: persist a notification of intent,
// dispatch it, and only when at least one message went out stamp today's date
// on the still-APPROVED lines and refresh the projection. Each step commits
// independently; re-invoking SendOrder is the recovery path for a failure
// between steps.
func (s *Service) SendOrder(ctx context.Context, orderID int64, recipients []string) (notification.Notification, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return notification.Notification{}, err
	}

	notif, err := s.notifications.Create(ctx, notification.Notification{
		Type:       notification.TypeAcquisitionOrder,
		OrderID:    order.ID,
		Recipients: recipients,
		Status:     notification.StatusCreated,
	})
	if err != nil {
		return notification.Notification{}, fmt.Errorf("acquisition: create order notification: %w", err)
	}

	result := s.dispatch(ctx, notif.ID)
	if result.Sent == 0 {
		// Valid terminal outcome: the notification stays un-dispatched
		// and lines remain APPROVED. Callers inspect the counters.
		return notif, nil
	}

	today := time.Now().Format("2006-01-02")
	moved, err := s.repo.MarkApprovedLinesOrdered(ctx, orderID, today)
	if err != nil {
		return notif, fmt.Errorf("acquisition: stamp order date: %w", err)
	}
	s.logger.Info("order dispatched",
		slog.Int64("order_id", orderID),
		slog.Int("lines_ordered", moved),
		slog.Int("sent", result.Sent))

	s.enqueueReindex(ctx, orderID)
	s.recordAudit(ctx, "order.send", orderID, map[string]any{
		"notification_id": notif.ID,
		"sent":            result.Sent,
		"skipped":         result.Skipped,
		"failed":          result.Failed,
	})

	reloaded, err := s.notifications.Get(ctx, notif.ID)
	if err != nil {
		return notif, fmt.Errorf("acquisition: reload notification: %w", err)
	}
	return reloaded, nil
}

// dispatch invokes the collaborator under the configured timeout. A timeout
// or transport error counts as zero sent, not as a workflow failure.
func (s *Service) dispatch(ctx context.Context, notificationID int64) notification.DispatchResult {
	if s.dispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.dispatchTimeout)
		defer cancel()
	}
	result, err := s.dispatcher.Dispatch(ctx, []int64{notificationID})
	if err != nil {
		s.logger.Warn("dispatch failed",
			slog.Int64("notification_id", notificationID),
			slog.String("error", err.Error()))
		return notification.DispatchResult{}
	}
	s.metrics.ObserveDispatch("sent", result.Sent)
	s.metrics.ObserveDispatch("skipped", result.Skipped)
	s.metrics.ObserveDispatch("failed", result.Failed)
	return result
}

// LinksTo counts order lines and receipts referencing the order.
func (s *Service) LinksTo(ctx context.Context, orderID int64) (integrity.Links, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.guard.LinksTo(ctx, orderID)
}

// LinkedPIDs lists the identifiers behind each link kind.
func (s *Service) LinkedPIDs(ctx context.Context, orderID int64) (map[string][]int64, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.guard.PIDsTo(ctx, orderID)
}

// ReasonsNotToDelete reports what blocks deleting the order. Empty reasons
// mean the order is deletable; this is a report, never an error.
func (s *Service) ReasonsNotToDelete(ctx context.Context, orderID int64) (integrity.Reasons, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return integrity.Reasons{}, err
	}
	return s.guard.ReasonsNotToDelete(ctx, orderID)
}

// RelatedNotes collects notes from order lines and receipts of the order.
func (s *Service) RelatedNotes(ctx context.Context, orderID int64) ([]integrity.RelatedNote, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.guard.RelatedNotes(ctx, orderID)
}

// DeleteOrder removes a deletable order, cascading its order lines. When the
// guard reports blockers it returns them alongside ErrCannotDelete so callers
// can render specifics.
func (s *Service) DeleteOrder(ctx context.Context, orderID int64) (integrity.Reasons, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return integrity.Reasons{}, err
	}
	reasons, err := s.guard.ReasonsNotToDelete(ctx, orderID)
	if err != nil {
		return integrity.Reasons{}, err
	}
	if !reasons.Empty() {
		return reasons, ErrCannotDelete
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return integrity.Reasons{}, err
	}
	s.recordAudit(ctx, "order.delete", orderID, nil)
	return integrity.Reasons{}, nil
}

func (s *Service) enqueueReindex(ctx context.Context, orderID int64) {
	if s.reindexer == nil {
		return
	}
	if err := s.reindexer.EnqueueOrderReindex(ctx, orderID); err != nil {
		s.logger.Warn("reindex enqueue failed",
			slog.Int64("order_id", orderID),
			slog.String("error", err.Error()))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		Action:   action,
		Entity:   "acq_order",
		EntityID: strconv.FormatInt(orderID, 10),
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed",
			slog.String("action", action),
			slog.String("error", err.Error()))
	}
}
