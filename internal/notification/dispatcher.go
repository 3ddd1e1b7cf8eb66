package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"
)

// Dispatcher delivers notifications through an external channel and reports
// per-notification success/failure counts.
type Dispatcher interface {
	Dispatch(ctx context.Context, notificationIDs []int64) (DispatchResult, error)
}

// StorePort is the subset of the repository the dispatcher needs.
type StorePort interface {
	Get(ctx context.Context, id int64) (Notification, error)
	MarkProcessed(ctx context.Context, id int64, status Status, processedAt time.Time) error
}

// MailSender sends a single message. Split out so tests can stub SMTP.
type MailSender interface {
	Send(ctx context.Context, from string, to []string, subject, body string) error
}

// SMTPSender delivers mail over plain SMTP.
type SMTPSender struct {
	Addr string
}

// Send implements MailSender.
func (s *SMTPSender) Send(ctx context.Context, from string, to []string, subject, body string) error {
	msg := strings.Builder{}
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n\r\n", subject)
	msg.WriteString(body)
	return smtp.SendMail(s.Addr, nil, from, to, []byte(msg.String()))
}

// MailDispatcher dispatches notifications by mail. A notification without
// recipients is counted as skipped, a delivery error as failed; both leave the
// record in a non-dispatched state that callers may re-drive later.
type MailDispatcher struct {
	store  StorePort
	sender MailSender
	from   string
	logger *slog.Logger
}

// NewMailDispatcher constructs a MailDispatcher.
func NewMailDispatcher(store StorePort, sender MailSender, from string, logger *slog.Logger) *MailDispatcher {
	return &MailDispatcher{store: store, sender: sender, from: from, logger: logger}
}

// Dispatch implements Dispatcher.
func (d *MailDispatcher) Dispatch(ctx context.Context, notificationIDs []int64) (DispatchResult, error) {
	var result DispatchResult
	for _, id := range notificationIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		n, err := d.store.Get(ctx, id)
		if err != nil {
			return result, err
		}
		if len(n.Recipients) == 0 {
			result.Skipped++
			if err := d.store.MarkProcessed(ctx, id, StatusSkipped, time.Now()); err != nil {
				return result, err
			}
			continue
		}
		if err := d.sender.Send(ctx, d.from, n.Recipients, subjectFor(n), bodyFor(n)); err != nil {
			result.Failed++
			d.logger.Warn("notification delivery failed",
				slog.Int64("notification_id", id), slog.Any("error", err))
			if err := d.store.MarkProcessed(ctx, id, StatusFailed, time.Now()); err != nil {
				return result, err
			}
			continue
		}
		result.Sent++
		if err := d.store.MarkProcessed(ctx, id, StatusSent, time.Now()); err != nil {
			return result, err
		}
	}
	return result, nil
}

func subjectFor(n Notification) string {
	switch n.Type {
	case TypeAcquisitionOrder:
		return fmt.Sprintf("Acquisition order %d", n.OrderID)
	case TypeOverdue:
		return "Overdue loan reminder"
	default:
		return fmt.Sprintf("Library notification %d", n.ID)
	}
}

func bodyFor(n Notification) string {
	switch n.Type {
	case TypeAcquisitionOrder:
		return fmt.Sprintf("Please process acquisition order %d.", n.OrderID)
	case TypeOverdue:
		return fmt.Sprintf("The loan %d is overdue. Fees may apply.", n.LoanID)
	default:
		return "See your library account for details."
	}
}
