package patronfee

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alexandria-ils/alexandria/internal/notification"
)

// FeeCalculator computes the amount owed for a triggering notification.
type FeeCalculator interface {
	CalculateAmount(ctx context.Context, n notification.Notification) (decimal.Decimal, error)
}

// LoanPort resolves the loan a notification refers to.
type LoanPort interface {
	LoanDueDate(ctx context.Context, loanID int64) (time.Time, error)
}

// OverduePolicy charges a flat daily rate per started day past the due date.
type OverduePolicy struct {
	DailyFee decimal.Decimal
	Loans    LoanPort
	Now      func() time.Time
}

// NewOverduePolicy constructs the default fee policy.
func NewOverduePolicy(dailyFee decimal.Decimal, loans LoanPort) *OverduePolicy {
	return &OverduePolicy{DailyFee: dailyFee, Loans: loans, Now: time.Now}
}

// CalculateAmount returns dailyFee x days overdue, rounded to 2 decimals.
// A loan not yet overdue yields zero.
func (p *OverduePolicy) CalculateAmount(ctx context.Context, n notification.Notification) (decimal.Decimal, error) {
	due, err := p.Loans.LoanDueDate(ctx, n.LoanID)
	if err != nil {
		return decimal.Zero, err
	}
	now := p.Now()
	if !now.After(due) {
		return decimal.Zero, nil
	}
	days := int64(now.Sub(due).Hours()/24) + 1
	return p.DailyFee.Mul(decimal.NewFromInt(days)).Round(2), nil
}
