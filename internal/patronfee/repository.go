package patronfee

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alexandria-ils/alexandria/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for patron transactions
// and their ledger events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Transaction and first event
// are always created through the same database transaction.
type TxRepository interface {
	CreateTransaction(ctx context.Context, txn Transaction) (int64, error)
	InsertEvent(ctx context.Context, event Event) (int64, error)
	DeleteTransaction(ctx context.Context, id int64) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Get loads a transaction by id.
func (r *Repository) Get(ctx context.Context, id int64) (Transaction, error) {
	return r.scanTransaction(r.pool.QueryRow(ctx, `
		SELECT id, type, status, patron_id, notification_id, organisation_id, currency, total_amount, creation_date
		FROM patron_transactions WHERE id = $1`, id))
}

// GetByNotification loads the transaction derived from a notification, if
// any. Backs the idempotent re-derivation path.
func (r *Repository) GetByNotification(ctx context.Context, notificationID int64) (Transaction, error) {
	return r.scanTransaction(r.pool.QueryRow(ctx, `
		SELECT id, type, status, patron_id, notification_id, organisation_id, currency, total_amount, creation_date
		FROM patron_transactions WHERE notification_id = $1`, notificationID))
}

func (r *Repository) scanTransaction(row pgx.Row) (Transaction, error) {
	var txn Transaction
	var amount pgtype.Numeric
	err := row.Scan(&txn.ID, &txn.Type, &txn.Status, &txn.PatronID, &txn.NotificationID,
		&txn.OrganisationID, &txn.Currency, &amount, &txn.CreationDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("patronfee: get transaction: %w", err)
	}
	if amount.Valid && amount.Int != nil {
		txn.TotalAmount = decimal.NewFromBigInt(amount.Int, amount.Exp)
	}
	return txn, nil
}

// ListEvents returns the ledger of a transaction in insertion order.
func (r *Repository) ListEvents(ctx context.Context, transactionID int64) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, transaction_id, type, subtype, amount, note, created_at
		FROM patron_transaction_events WHERE transaction_id = $1 ORDER BY id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("patronfee: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var amount pgtype.Numeric
		if err := rows.Scan(&event.ID, &event.TransactionID, &event.Type, &event.SubType,
			&amount, &event.Note, &event.CreatedAt); err != nil {
			return nil, err
		}
		if amount.Valid && amount.Int != nil {
			event.Amount = decimal.NewFromBigInt(amount.Int, amount.Exp)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountEvents counts ledger events referencing a transaction.
func (r *Repository) CountEvents(ctx context.Context, transactionID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM patron_transaction_events WHERE transaction_id = $1`, transactionID).Scan(&count)
	return count, err
}

// EventPIDs lists ledger event identifiers of a transaction.
func (r *Repository) EventPIDs(ctx context.Context, transactionID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM patron_transaction_events WHERE transaction_id = $1 ORDER BY id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("patronfee: list event pids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OrganisationCurrency resolves the currency configured on an organisation.
func (r *Repository) OrganisationCurrency(ctx context.Context, organisationID int64) (string, error) {
	var code string
	err := r.pool.QueryRow(ctx,
		`SELECT currency FROM organisations WHERE id = $1`, organisationID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: organisation %d", ErrNotFound, organisationID)
	}
	return code, err
}

// LoanDueDate resolves the due date of a loan.
func (r *Repository) LoanDueDate(ctx context.Context, loanID int64) (time.Time, error) {
	var due time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT due_date FROM loans WHERE id = $1`, loanID).Scan(&due)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%w: loan %d", ErrNotFound, loanID)
	}
	return due, err
}

func (tx *txRepo) CreateTransaction(ctx context.Context, txn Transaction) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `
		INSERT INTO patron_transactions (type, status, patron_id, notification_id, organisation_id, currency, total_amount, creation_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		string(txn.Type), string(txn.Status), txn.PatronID, txn.NotificationID,
		txn.OrganisationID, txn.Currency, txn.TotalAmount.String(), txn.CreationDate).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("patronfee: create transaction: %w", err)
	}
	return id, nil
}

func (tx *txRepo) InsertEvent(ctx context.Context, event Event) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `
		INSERT INTO patron_transaction_events (transaction_id, type, subtype, amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id`,
		event.TransactionID, string(event.Type), event.SubType,
		event.Amount.String(), event.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("patronfee: insert event: %w", err)
	}
	return id, nil
}

func (tx *txRepo) DeleteTransaction(ctx context.Context, id int64) error {
	tag, err := tx.tx.Exec(ctx, `DELETE FROM patron_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("patronfee: delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
