package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alexandria-ils/alexandria/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for orders, order lines
// and receipts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateOrder(ctx context.Context, order Order) (int64, error)
	InsertOrderLine(ctx context.Context, line OrderLine) (int64, error)
	InsertReceipt(ctx context.Context, receipt Receipt) (int64, error)
	DeleteOrder(ctx context.Context, orderID int64) error
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

// GetOrder loads an order by id.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, library_id, vendor_id, currency, notes, created_at
		FROM acq_orders WHERE id = $1`, id)

	var order Order
	var notesJSON []byte
	if err := row.Scan(&order.ID, &order.LibraryID, &order.VendorID, &order.Currency, &notesJSON, &order.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("acquisition: get order: %w", err)
	}
	if len(notesJSON) > 0 {
		if err := json.Unmarshal(notesJSON, &order.Notes); err != nil {
			return Order{}, fmt.Errorf("acquisition: decode notes: %w", err)
		}
	}
	return order, nil
}

// ListOrders returns a page of orders, newest first, with the total count.
func (r *Repository) ListOrders(ctx context.Context, limit, offset int) ([]Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM acq_orders`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("acquisition: count orders: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, library_id, vendor_id, currency, notes, created_at
		FROM acq_orders ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("acquisition: list orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var order Order
		var notesJSON []byte
		if err := rows.Scan(&order.ID, &order.LibraryID, &order.VendorID, &order.Currency, &notesJSON, &order.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(notesJSON) > 0 {
			if err := json.Unmarshal(notesJSON, &order.Notes); err != nil {
				return nil, 0, fmt.Errorf("acquisition: decode notes: %w", err)
			}
		}
		orders = append(orders, order)
	}
	return orders, total, rows.Err()
}

// DistinctLineStatuses returns the distinct statuses among the order lines of
// an order. An order without lines yields an empty set, never an error.
func (r *Repository) DistinctLineStatuses(ctx context.Context, orderID int64) ([]OrderLineStatus, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT status FROM acq_order_lines WHERE order_id = $1 ORDER BY status`, orderID)
	if err != nil {
		return nil, fmt.Errorf("acquisition: distinct line statuses: %w", err)
	}
	defer rows.Close()

	var statuses []OrderLineStatus
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, err
		}
		statuses = append(statuses, OrderLineStatus(status))
	}
	return statuses, rows.Err()
}

// ListOrderLines returns the order lines of an order, optionally filtered to
// the given statuses.
func (r *Repository) ListOrderLines(ctx context.Context, orderID int64, statuses ...OrderLineStatus) ([]OrderLine, error) {
	query := `
		SELECT id, order_id, status, quantity, received_quantity, total_amount, order_date, note
		FROM acq_order_lines WHERE order_id = $1`
	args := []any{orderID}
	if len(statuses) > 0 {
		filter := make([]string, 0, len(statuses))
		for _, s := range statuses {
			filter = append(filter, string(s))
		}
		query += ` AND status = ANY($2)`
		args = append(args, filter)
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("acquisition: list order lines: %w", err)
	}
	defer rows.Close()

	var lines []OrderLine
	for rows.Next() {
		line, err := scanOrderLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListReceipts returns the receipts of an order.
func (r *Repository) ListReceipts(ctx context.Context, orderID int64) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, total_amount, reference, note, received_at
		FROM acq_receipts WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("acquisition: list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var receipt Receipt
		var amount pgtype.Numeric
		if err := rows.Scan(&receipt.ID, &receipt.OrderID, &amount, &receipt.Reference, &receipt.Note, &receipt.ReceivedAt); err != nil {
			return nil, err
		}
		receipt.TotalAmount = numericToDecimal(amount)
		receipts = append(receipts, receipt)
	}
	return receipts, rows.Err()
}

// MarkApprovedLinesOrdered stamps the order date on every still-APPROVED line
// of the order and moves it to ORDERED. The status predicate gives
// compare-and-set semantics: lines mutated by a concurrent dispatch are left
// untouched. Returns the number of transitioned lines.
func (r *Repository) MarkApprovedLinesOrdered(ctx context.Context, orderID int64, orderDate string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE acq_order_lines
		SET status = $3, order_date = $2
		WHERE order_id = $1 AND status = $4`,
		orderID, orderDate, string(LineStatusOrdered), string(LineStatusApproved))
	if err != nil {
		return 0, fmt.Errorf("acquisition: mark lines ordered: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountOrderLines counts lines referencing an order.
func (r *Repository) CountOrderLines(ctx context.Context, orderID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM acq_order_lines WHERE order_id = $1`, orderID).Scan(&count)
	return count, err
}

// CountReceipts counts receipts referencing an order.
func (r *Repository) CountReceipts(ctx context.Context, orderID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM acq_receipts WHERE order_id = $1`, orderID).Scan(&count)
	return count, err
}

// OrderLinePIDs lists identifiers of lines referencing an order.
func (r *Repository) OrderLinePIDs(ctx context.Context, orderID int64) ([]int64, error) {
	return r.scanPIDs(ctx, `SELECT id FROM acq_order_lines WHERE order_id = $1 ORDER BY id`, orderID)
}

// ReceiptPIDs lists identifiers of receipts referencing an order.
func (r *Repository) ReceiptPIDs(ctx context.Context, orderID int64) ([]int64, error) {
	return r.scanPIDs(ctx, `SELECT id FROM acq_receipts WHERE order_id = $1 ORDER BY id`, orderID)
}

func (r *Repository) scanPIDs(ctx context.Context, query string, orderID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("acquisition: list pids: %w", err)
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

func (tx *txRepo) CreateOrder(ctx context.Context, order Order) (int64, error) {
	notesJSON, err := json.Marshal(order.Notes)
	if err != nil {
		return 0, fmt.Errorf("acquisition: encode notes: %w", err)
	}
	var id int64
	err = tx.tx.QueryRow(ctx, `
		INSERT INTO acq_orders (library_id, vendor_id, currency, notes, created_at)
		VALUES ($1, $2, $3, $4, NOW()) RETURNING id`,
		order.LibraryID, order.VendorID, order.Currency, notesJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("acquisition: create order: %w", err)
	}
	return id, nil
}

func (tx *txRepo) InsertOrderLine(ctx context.Context, line OrderLine) (int64, error) {
	var orderDate any
	if line.OrderDate != "" {
		orderDate = line.OrderDate
	}
	var id int64
	err := tx.tx.QueryRow(ctx, `
		INSERT INTO acq_order_lines (order_id, status, quantity, received_quantity, total_amount, order_date, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		line.OrderID, string(line.Status), line.Quantity, line.ReceivedQuantity,
		line.TotalAmount.String(), orderDate, line.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("acquisition: insert order line: %w", err)
	}
	return id, nil
}

func (tx *txRepo) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	receivedAt := receipt.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	var id int64
	err := tx.tx.QueryRow(ctx, `
		INSERT INTO acq_receipts (order_id, total_amount, reference, note, received_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		receipt.OrderID, receipt.TotalAmount.String(), receipt.Reference, receipt.Note, receivedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("acquisition: insert receipt: %w", err)
	}
	return id, nil
}

// DeleteOrder removes the order and cascade-deletes its order lines within
// the transaction. Receipts are intentionally left alone: their presence must
// have been ruled out by the deletion guard beforehand.
func (tx *txRepo) DeleteOrder(ctx context.Context, orderID int64) error {
	if _, err := tx.tx.Exec(ctx, `DELETE FROM acq_order_lines WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("acquisition: cascade delete lines: %w", err)
	}
	tag, err := tx.tx.Exec(ctx, `DELETE FROM acq_orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("acquisition: delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrderLine(rows pgx.Rows) (OrderLine, error) {
	var line OrderLine
	var amount pgtype.Numeric
	var orderDate pgtype.Date
	if err := rows.Scan(&line.ID, &line.OrderID, &line.Status, &line.Quantity,
		&line.ReceivedQuantity, &amount, &orderDate, &line.Note); err != nil {
		return OrderLine{}, err
	}
	line.TotalAmount = numericToDecimal(amount)
	if orderDate.Valid {
		line.OrderDate = orderDate.Time.Format("2006-01-02")
	}
	return line, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
