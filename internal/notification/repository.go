package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for notifications.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create persists a new notification in the created state.
func (r *Repository) Create(ctx context.Context, n Notification) (Notification, error) {
	if n.Type == "" {
		return Notification{}, ErrValidation
	}
	if n.Status == "" {
		n.Status = StatusCreated
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (type, order_id, loan_id, patron_id, organisation_id, recipients, status, created_at)
		VALUES ($1, nullif($2, 0), nullif($3, 0), nullif($4, 0), nullif($5, 0), $6, $7, NOW())
		RETURNING id, created_at`,
		string(n.Type), n.OrderID, n.LoanID, n.PatronID, n.OrganisationID, n.Recipients, string(n.Status))
	if err := row.Scan(&n.ID, &n.CreatedAt); err != nil {
		return Notification{}, fmt.Errorf("notification: create: %w", err)
	}
	return n, nil
}

// Get loads a notification by id.
func (r *Repository) Get(ctx context.Context, id int64) (Notification, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, type, COALESCE(order_id, 0), COALESCE(loan_id, 0), COALESCE(patron_id, 0),
		       COALESCE(organisation_id, 0), recipients, status, sent, process_date, created_at
		FROM notifications WHERE id = $1`, id)

	var n Notification
	var typ, status string
	var processDate pgtype.Timestamptz
	if err := row.Scan(&n.ID, &typ, &n.OrderID, &n.LoanID, &n.PatronID,
		&n.OrganisationID, &n.Recipients, &status, &n.Sent, &processDate, &n.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, fmt.Errorf("notification: get: %w", err)
	}
	n.Type = Type(typ)
	n.Status = Status(status)
	if processDate.Valid {
		t := processDate.Time
		n.ProcessDate = &t
	}
	return n, nil
}

// MarkProcessed records the dispatch outcome on the notification.
func (r *Repository) MarkProcessed(ctx context.Context, id int64, status Status, processedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET status = $2, sent = $3, process_date = $4 WHERE id = $1`,
		id, string(status), status == StatusSent, processedAt)
	if err != nil {
		return fmt.Errorf("notification: mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
