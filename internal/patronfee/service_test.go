package patronfee

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alexandria-ils/alexandria/internal/integrity"
	"github.com/alexandria-ils/alexandria/internal/notification"
	"github.com/alexandria-ils/alexandria/internal/shared"
)

type memoryRepo struct {
	transactions map[int64]Transaction
	events       map[int64]Event
	nextID       int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		transactions: map[int64]Transaction{},
		events:       map[int64]Event{},
	}
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) CreateTransaction(ctx context.Context, txn Transaction) (int64, error) {
	txn.ID = m.id()
	m.transactions[txn.ID] = txn
	return txn.ID, nil
}

func (m *memoryRepo) InsertEvent(ctx context.Context, event Event) (int64, error) {
	event.ID = m.id()
	event.CreatedAt = time.Now()
	m.events[event.ID] = event
	return event.ID, nil
}

func (m *memoryRepo) DeleteTransaction(ctx context.Context, id int64) error {
	if _, ok := m.transactions[id]; !ok {
		return ErrNotFound
	}
	delete(m.transactions, id)
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Transaction, error) {
	txn, ok := m.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return txn, nil
}

func (m *memoryRepo) GetByNotification(ctx context.Context, notificationID int64) (Transaction, error) {
	for _, txn := range m.transactions {
		if txn.NotificationID == notificationID {
			return txn, nil
		}
	}
	return Transaction{}, ErrNotFound
}

func (m *memoryRepo) ListEvents(ctx context.Context, transactionID int64) ([]Event, error) {
	var events []Event
	for _, event := range m.events {
		if event.TransactionID == transactionID {
			events = append(events, event)
		}
	}
	return events, nil
}

type memoryEventSource struct{ repo *memoryRepo }

func (s *memoryEventSource) CountLinksTo(ctx context.Context, transactionID int64) (int, error) {
	events, _ := s.repo.ListEvents(ctx, transactionID)
	return len(events), nil
}

func (s *memoryEventSource) PIDsLinkedTo(ctx context.Context, transactionID int64) ([]int64, error) {
	events, _ := s.repo.ListEvents(ctx, transactionID)
	var ids []int64
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	return ids, nil
}

func (s *memoryEventSource) NotesLinkedTo(ctx context.Context, transactionID int64) ([]integrity.RelatedNote, error) {
	return nil, nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type stubOrganisations struct {
	currency string
}

func (s *stubOrganisations) OrganisationCurrency(ctx context.Context, organisationID int64) (string, error) {
	return s.currency, nil
}

type stubFees struct {
	amount decimal.Decimal
	err    error
	calls  int
}

func (s *stubFees) CalculateAmount(ctx context.Context, n notification.Notification) (decimal.Decimal, error) {
	s.calls++
	return s.amount, s.err
}

type feeFixture struct {
	repo    *memoryRepo
	fees    *stubFees
	service *Service
}

func newFeeFixture(t *testing.T, amount string, currency string) *feeFixture {
	t.Helper()
	repo := newMemoryRepo()
	fees := &stubFees{amount: decimal.RequireFromString(amount)}

	registry := integrity.NewRegistry()
	registry.Register(TagEvents, &memoryEventSource{repo: repo})

	service := NewService(ServiceParams{
		Logger:        slog.Default(),
		Repo:          repo,
		Fees:          fees,
		Organisations: &stubOrganisations{currency: currency},
		Idempotency:   &memoryIdempotency{keys: map[string]bool{}},
		Registry:      registry,
	})
	return &feeFixture{repo: repo, fees: fees, service: service}
}

func overdueNotification() notification.Notification {
	return notification.Notification{
		ID:             11,
		Type:           notification.TypeOverdue,
		LoanID:         21,
		PatronID:       31,
		OrganisationID: 41,
	}
}

func TestCreateFromNotificationNonOverdue(t *testing.T) {
	f := newFeeFixture(t, "4.00", "USD")
	notif := overdueNotification()
	notif.Type = notification.TypeAcquisitionOrder

	txn, err := f.service.CreateFromNotification(context.Background(), notif)
	require.NoError(t, err)
	require.Nil(t, txn)
	require.Empty(t, f.repo.transactions)
}

func TestCreateFromNotificationDerivesTransactionWithEvent(t *testing.T) {
	f := newFeeFixture(t, "6.50", "EUR")

	txn, err := f.service.CreateFromNotification(context.Background(), overdueNotification())
	require.NoError(t, err)
	require.NotNil(t, txn)
	require.Equal(t, StatusOpen, txn.Status)
	require.Equal(t, "EUR", txn.Currency)
	require.True(t, txn.TotalAmount.Equal(decimal.RequireFromString("6.50")))
	require.Equal(t, time.UTC, txn.CreationDate.Location())

	events, err := f.service.Events(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventFee, events[0].Type)
	require.Equal(t, string(TypeOverdue), events[0].SubType)
	require.True(t, events[0].Amount.Equal(txn.TotalAmount))
}

func TestCreateFromNotificationIsIdempotent(t *testing.T) {
	f := newFeeFixture(t, "6.50", "EUR")
	ctx := context.Background()

	first, err := f.service.CreateFromNotification(ctx, overdueNotification())
	require.NoError(t, err)
	second, err := f.service.CreateFromNotification(ctx, overdueNotification())
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Len(t, f.repo.transactions, 1)
	require.Equal(t, 1, f.fees.calls, "fee calculator only consulted on first derivation")
}

func TestCreateFromNotificationRejectsBadCurrency(t *testing.T) {
	f := newFeeFixture(t, "6.50", "not-a-currency")

	_, err := f.service.CreateFromNotification(context.Background(), overdueNotification())
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, f.repo.transactions)

	// The key was rolled back, so a fixed configuration can re-derive.
	f.service.organisations = &stubOrganisations{currency: "EUR"}
	txn, err := f.service.CreateFromNotification(context.Background(), overdueNotification())
	require.NoError(t, err)
	require.NotNil(t, txn)
}

func TestEventCountBlocksDeletion(t *testing.T) {
	f := newFeeFixture(t, "2.00", "USD")
	ctx := context.Background()

	txn, err := f.service.CreateFromNotification(ctx, overdueNotification())
	require.NoError(t, err)

	reasons, err := f.service.ReasonsNotToDelete(ctx, txn.ID)
	require.NoError(t, err)
	require.False(t, reasons.Empty())
	require.Equal(t, 1, reasons.Links[TagEvents])

	got, err := f.service.DeleteTransaction(ctx, txn.ID)
	require.ErrorIs(t, err, ErrCannotDelete)
	require.Equal(t, 1, got.Links[TagEvents])
}

func TestRegisterEventAppendsWithoutTouchingTotal(t *testing.T) {
	f := newFeeFixture(t, "8.00", "USD")
	ctx := context.Background()

	txn, err := f.service.CreateFromNotification(ctx, overdueNotification())
	require.NoError(t, err)

	_, err = f.service.RegisterEvent(ctx, RegisterEventInput{
		TransactionID: txn.ID,
		Type:          EventPayment,
		Amount:        decimal.RequireFromString("3.00"),
		Note:          "partial payment at desk",
	})
	require.NoError(t, err)

	events, err := f.service.Events(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	reloaded, err := f.service.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.True(t, reloaded.TotalAmount.Equal(decimal.RequireFromString("8.00")))
}

func TestRegisterEventUnknownType(t *testing.T) {
	f := newFeeFixture(t, "8.00", "USD")

	_, err := f.service.RegisterEvent(context.Background(), RegisterEventInput{
		TransactionID: 1,
		Type:          EventType("refund"),
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestOverduePolicyAmounts(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	policy := &OverduePolicy{
		DailyFee: decimal.RequireFromString("2.00"),
		Loans:    stubLoans{due: now.Add(-50 * time.Hour)},
		Now:      func() time.Time { return now },
	}

	amount, err := policy.CalculateAmount(context.Background(), notification.Notification{LoanID: 1})
	require.NoError(t, err)
	// Fifty hours past due is the third started day.
	require.True(t, amount.Equal(decimal.RequireFromString("6.00")))

	policy.Loans = stubLoans{due: now.Add(time.Hour)}
	amount, err = policy.CalculateAmount(context.Background(), notification.Notification{LoanID: 1})
	require.NoError(t, err)
	require.True(t, amount.IsZero())
}

type stubLoans struct {
	due time.Time
}

func (s stubLoans) LoanDueDate(ctx context.Context, loanID int64) (time.Time, error) {
	return s.due, nil
}
