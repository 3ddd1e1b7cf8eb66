package acquisition

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alexandria-ils/alexandria/internal/integrity"
	"github.com/alexandria-ils/alexandria/internal/notification"
)

type memoryRepo struct {
	orders   map[int64]Order
	lines    map[int64]OrderLine
	receipts map[int64]Receipt
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders:   map[int64]Order{},
		lines:    map[int64]OrderLine{},
		receipts: map[int64]Receipt{},
	}
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) CreateOrder(ctx context.Context, order Order) (int64, error) {
	order.ID = m.id()
	order.CreatedAt = time.Now()
	m.orders[order.ID] = order
	return order.ID, nil
}

func (m *memoryRepo) InsertOrderLine(ctx context.Context, line OrderLine) (int64, error) {
	line.ID = m.id()
	m.lines[line.ID] = line
	return line.ID, nil
}

func (m *memoryRepo) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	receipt.ID = m.id()
	m.receipts[receipt.ID] = receipt
	return receipt.ID, nil
}

func (m *memoryRepo) DeleteOrder(ctx context.Context, orderID int64) error {
	if _, ok := m.orders[orderID]; !ok {
		return ErrNotFound
	}
	for id, line := range m.lines {
		if line.OrderID == orderID {
			delete(m.lines, id)
		}
	}
	delete(m.orders, orderID)
	return nil
}

func (m *memoryRepo) GetOrder(ctx context.Context, id int64) (Order, error) {
	order, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return order, nil
}

func (m *memoryRepo) ListOrders(ctx context.Context, limit, offset int) ([]Order, int, error) {
	var orders []Order
	for _, order := range m.orders {
		orders = append(orders, order)
	}
	total := len(orders)
	if offset > len(orders) {
		offset = len(orders)
	}
	orders = orders[offset:]
	if limit < len(orders) {
		orders = orders[:limit]
	}
	return orders, total, nil
}

func (m *memoryRepo) DistinctLineStatuses(ctx context.Context, orderID int64) ([]OrderLineStatus, error) {
	seen := map[OrderLineStatus]bool{}
	var statuses []OrderLineStatus
	for _, line := range m.lines {
		if line.OrderID != orderID || seen[line.Status] {
			continue
		}
		seen[line.Status] = true
		statuses = append(statuses, line.Status)
	}
	return statuses, nil
}

func (m *memoryRepo) ListOrderLines(ctx context.Context, orderID int64, statuses ...OrderLineStatus) ([]OrderLine, error) {
	var lines []OrderLine
	for _, line := range m.lines {
		if line.OrderID != orderID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if line.Status == s {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (m *memoryRepo) ListReceipts(ctx context.Context, orderID int64) ([]Receipt, error) {
	var receipts []Receipt
	for _, receipt := range m.receipts {
		if receipt.OrderID == orderID {
			receipts = append(receipts, receipt)
		}
	}
	return receipts, nil
}

func (m *memoryRepo) MarkApprovedLinesOrdered(ctx context.Context, orderID int64, orderDate string) (int, error) {
	moved := 0
	for id, line := range m.lines {
		if line.OrderID != orderID || line.Status != LineStatusApproved {
			continue
		}
		line.Status = LineStatusOrdered
		line.OrderDate = orderDate
		m.lines[id] = line
		moved++
	}
	return moved, nil
}

type memoryLineSource struct{ repo *memoryRepo }

func (s *memoryLineSource) CountLinksTo(ctx context.Context, orderID int64) (int, error) {
	lines, _ := s.repo.ListOrderLines(ctx, orderID)
	return len(lines), nil
}

func (s *memoryLineSource) PIDsLinkedTo(ctx context.Context, orderID int64) ([]int64, error) {
	lines, _ := s.repo.ListOrderLines(ctx, orderID)
	var ids []int64
	for _, line := range lines {
		ids = append(ids, line.ID)
	}
	return ids, nil
}

func (s *memoryLineSource) NotesLinkedTo(ctx context.Context, orderID int64) ([]integrity.RelatedNote, error) {
	lines, _ := s.repo.ListOrderLines(ctx, orderID)
	var notes []integrity.RelatedNote
	for _, line := range lines {
		if line.Note != "" {
			notes = append(notes, integrity.RelatedNote{Type: string(NoteTypeStaff), Content: line.Note, PID: line.ID})
		}
	}
	return notes, nil
}

type memoryReceiptSource struct{ repo *memoryRepo }

func (s *memoryReceiptSource) CountLinksTo(ctx context.Context, orderID int64) (int, error) {
	receipts, _ := s.repo.ListReceipts(ctx, orderID)
	return len(receipts), nil
}

func (s *memoryReceiptSource) PIDsLinkedTo(ctx context.Context, orderID int64) ([]int64, error) {
	receipts, _ := s.repo.ListReceipts(ctx, orderID)
	var ids []int64
	for _, receipt := range receipts {
		ids = append(ids, receipt.ID)
	}
	return ids, nil
}

func (s *memoryReceiptSource) NotesLinkedTo(ctx context.Context, orderID int64) ([]integrity.RelatedNote, error) {
	receipts, _ := s.repo.ListReceipts(ctx, orderID)
	var notes []integrity.RelatedNote
	for _, receipt := range receipts {
		if receipt.Note != "" {
			notes = append(notes, integrity.RelatedNote{Type: string(NoteTypeStaff), Content: receipt.Note, PID: receipt.ID})
		}
	}
	return notes, nil
}

// memoryNotifications fakes the notification store; dispatch marks records
// processed the way the real dispatcher does.
type memoryNotifications struct {
	records map[int64]notification.Notification
	nextID  int64
}

func newMemoryNotifications() *memoryNotifications {
	return &memoryNotifications{records: map[int64]notification.Notification{}}
}

func (m *memoryNotifications) Create(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	m.nextID++
	n.ID = m.nextID
	n.CreatedAt = time.Now()
	m.records[n.ID] = n
	return n, nil
}

func (m *memoryNotifications) Get(ctx context.Context, id int64) (notification.Notification, error) {
	n, ok := m.records[id]
	if !ok {
		return notification.Notification{}, notification.ErrNotFound
	}
	return n, nil
}

type stubDispatcher struct {
	result notification.DispatchResult
	err    error
	store  *memoryNotifications
	calls  int
}

func (d *stubDispatcher) Dispatch(ctx context.Context, ids []int64) (notification.DispatchResult, error) {
	d.calls++
	if d.err != nil {
		return notification.DispatchResult{}, d.err
	}
	if d.result.Sent > 0 && d.store != nil {
		for _, id := range ids {
			n := d.store.records[id]
			n.Status = notification.StatusSent
			n.Sent = true
			now := time.Now()
			n.ProcessDate = &now
			d.store.records[id] = n
		}
	}
	return d.result, nil
}

type stubReindexer struct {
	orderIDs []int64
}

func (r *stubReindexer) EnqueueOrderReindex(ctx context.Context, orderID int64) error {
	r.orderIDs = append(r.orderIDs, orderID)
	return nil
}

type serviceFixture struct {
	repo          *memoryRepo
	notifications *memoryNotifications
	dispatcher    *stubDispatcher
	reindexer     *stubReindexer
	service       *Service
}

func newServiceFixture(t *testing.T, result notification.DispatchResult) *serviceFixture {
	t.Helper()
	repo := newMemoryRepo()
	notifications := newMemoryNotifications()
	dispatcher := &stubDispatcher{result: result, store: notifications}
	reindexer := &stubReindexer{}

	registry := integrity.NewRegistry()
	registry.Register(TagOrderLines, &memoryLineSource{repo: repo})
	registry.Register(TagReceipts, &memoryReceiptSource{repo: repo})

	service := NewService(ServiceParams{
		Logger:          slog.Default(),
		Repo:            repo,
		Notifications:   notifications,
		Dispatcher:      dispatcher,
		Reindexer:       reindexer,
		Registry:        registry,
		DispatchTimeout: time.Second,
	})
	return &serviceFixture{
		repo:          repo,
		notifications: notifications,
		dispatcher:    dispatcher,
		reindexer:     reindexer,
		service:       service,
	}
}

func (f *serviceFixture) seedOrder(t *testing.T) Order {
	t.Helper()
	order, err := f.service.CreateOrder(context.Background(), CreateOrderInput{
		LibraryID: 1,
		VendorID:  2,
		Currency:  "USD",
	})
	require.NoError(t, err)
	return order
}

func TestCreateOrderRejectsDuplicateNoteType(t *testing.T) {
	f := newServiceFixture(t, notification.DispatchResult{})

	_, err := f.service.CreateOrder(context.Background(), CreateOrderInput{
		LibraryID: 1,
		VendorID:  2,
		Notes: []Note{
			{Type: NoteTypeStaff, Content: "first"},
			{Type: NoteTypeStaff, Content: "second"},
		},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, f.repo.orders)
}

func TestOrderStatusUnknownOrder(t *testing.T) {
	f := newServiceFixture(t, notification.DispatchResult{})

	_, err := f.service.OrderStatus(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSendOrderZeroSentLeavesLinesUntouched(t *testing.T) {
	f := newServiceFixture(t, notification.DispatchResult{Skipped: 1})
	order := f.seedOrder(t)
	line, err := f.service.AddOrderLine(context.Background(), AddOrderLineInput{
		OrderID: order.ID, Quantity: 2, TotalAmount: decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)

	notif, err := f.service.SendOrder(context.Background(), order.ID, []string{"vendor@example.com"})
	require.NoError(t, err)
	require.NotZero(t, notif.ID)
	require.Nil(t, notif.ProcessDate)

	stored := f.repo.lines[line.ID]
	require.Equal(t, LineStatusApproved, stored.Status)
	require.Empty(t, stored.OrderDate)

	status, err := f.service.OrderStatus(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusPending, status)
}

func TestSendOrderStampsApprovedLines(t *testing.T) {
	f := newServiceFixture(t, notification.DispatchResult{Sent: 1})
	order := f.seedOrder(t)
	approved, err := f.service.AddOrderLine(context.Background(), AddOrderLineInput{
		OrderID: order.ID, Quantity: 1, TotalAmount: decimal.RequireFromString("25.50"),
	})
	require.NoError(t, err)

	// Simulate a line from an earlier send: already ORDERED with its date.
	alreadyOrderedID, err := f.repo.InsertOrderLine(context.Background(), OrderLine{
		OrderID: order.ID, Status: LineStatusOrdered, Quantity: 1,
		TotalAmount: decimal.RequireFromString("5.00"), OrderDate: "2026-01-15",
	})
	require.NoError(t, err)

	notif, err := f.service.SendOrder(context.Background(), order.ID, []string{"vendor@example.com"})
	require.NoError(t, err)
	require.True(t, notif.Sent)
	require.NotNil(t, notif.ProcessDate)

	today := time.Now().Format("2006-01-02")
	stamped := f.repo.lines[approved.ID]
	require.Equal(t, LineStatusOrdered, stamped.Status)
	require.Equal(t, today, stamped.OrderDate)

	untouched := f.repo.lines[alreadyOrderedID]
	require.Equal(t, "2026-01-15", untouched.OrderDate)

	require.Contains(t, f.reindexer.orderIDs, order.ID)

	earliest, err := f.service.OrderDate(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, "2026-01-15", earliest)
}

func TestSendOrderDispatchErrorIsZeroSent(t *testing.T) {
	f := newServiceFixture(t, notification.DispatchResult{})
	f.dispatcher.err = context.DeadlineExceeded
	order := f.seedOrder(t)
	line, err := f.service.AddOrderLine(context.Background(), AddOrderLineInput{
		OrderID: order.ID, Quantity: 1, TotalAmount: decimal.RequireFromString("9.99"),
	})
	require.NoError(t, err)

	notif, err := f.service.SendOrder(context.Background(), order.ID, nil)
	require.NoError(t, err)
	require.False(t, notif.Sent)
	require.Equal(t, LineStatusApproved, f.repo.lines[line.ID].Status)
}

func TestReasonsNotToDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("pending order with lines is deletable", func(t *testing.T) {
		f := newServiceFixture(t, notification.DispatchResult{})
		order := f.seedOrder(t)
		for i := 0; i < 3; i++ {
			_, err := f.service.AddOrderLine(ctx, AddOrderLineInput{
				OrderID: order.ID, Quantity: 1, TotalAmount: decimal.RequireFromString("1.00"),
			})
			require.NoError(t, err)
		}

		reasons, err := f.service.ReasonsNotToDelete(ctx, order.ID)
		require.NoError(t, err)
		require.True(t, reasons.Empty())
	})

	t.Run("receipt blocks deletion", func(t *testing.T) {
		f := newServiceFixture(t, notification.DispatchResult{})
		order := f.seedOrder(t)
		_, err := f.service.AddReceipt(ctx, AddReceiptInput{
			OrderID: order.ID, TotalAmount: decimal.RequireFromString("3.00"),
		})
		require.NoError(t, err)

		reasons, err := f.service.ReasonsNotToDelete(ctx, order.ID)
		require.NoError(t, err)
		want := integrity.Reasons{Links: integrity.Links{TagReceipts: 1}}
		require.Empty(t, cmp.Diff(want, reasons))
	})

	t.Run("non-pending status blocks even without links", func(t *testing.T) {
		f := newServiceFixture(t, notification.DispatchResult{Sent: 1})
		order := f.seedOrder(t)
		_, err := f.service.AddOrderLine(ctx, AddOrderLineInput{
			OrderID: order.ID, Quantity: 1, TotalAmount: decimal.RequireFromString("1.00"),
		})
		require.NoError(t, err)
		_, err = f.service.SendOrder(ctx, order.ID, []string{"vendor@example.com"})
		require.NoError(t, err)

		reasons, err := f.service.ReasonsNotToDelete(ctx, order.ID)
		require.NoError(t, err)
		require.Empty(t, reasons.Links, "order lines cascade, receipts absent")
		require.Equal(t, string(OrderStatusOrdered), reasons.Others["status"])
	})
}

func TestDeleteOrderCascadesLines(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, notification.DispatchResult{})
	order := f.seedOrder(t)
	line, err := f.service.AddOrderLine(ctx, AddOrderLineInput{
		OrderID: order.ID, Quantity: 1, TotalAmount: decimal.RequireFromString("4.00"),
	})
	require.NoError(t, err)

	reasons, err := f.service.DeleteOrder(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, reasons.Empty())

	_, err = f.service.GetOrder(ctx, order.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.NotContains(t, f.repo.lines, line.ID)
}

func TestDeleteOrderBlockedByReceipt(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, notification.DispatchResult{})
	order := f.seedOrder(t)
	_, err := f.service.AddReceipt(ctx, AddReceiptInput{
		OrderID: order.ID, TotalAmount: decimal.RequireFromString("3.00"),
	})
	require.NoError(t, err)

	reasons, err := f.service.DeleteOrder(ctx, order.ID)
	require.ErrorIs(t, err, ErrCannotDelete)
	require.Equal(t, 1, reasons.Links[TagReceipts])

	_, err = f.service.GetOrder(ctx, order.ID)
	require.NoError(t, err)
}

func TestRelatedNotesAcrossResources(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, notification.DispatchResult{})
	order := f.seedOrder(t)
	_, err := f.service.AddOrderLine(ctx, AddOrderLineInput{
		OrderID: order.ID, Quantity: 1, TotalAmount: decimal.RequireFromString("4.00"), Note: "rush order",
	})
	require.NoError(t, err)
	_, err = f.service.AddReceipt(ctx, AddReceiptInput{
		OrderID: order.ID, TotalAmount: decimal.RequireFromString("4.00"), Note: "partial delivery",
	})
	require.NoError(t, err)

	notes, err := f.service.RelatedNotes(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	sources := map[string]string{}
	for _, note := range notes {
		sources[note.Source] = note.Content
	}
	require.Equal(t, "rush order", sources[TagOrderLines])
	require.Equal(t, "partial delivery", sources[TagReceipts])
}
