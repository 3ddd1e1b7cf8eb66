package acquisition

import "github.com/shopspring/decimal"

// StatementSection carries a total amount and the related item quantity.
type StatementSection struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
	Quantity    int             `json:"quantity"`
}

// AccountStatement summarises encumbrance and expenditure for an order.
// Provisional covers non-cancelled order lines, expenditure covers receipts.
type AccountStatement struct {
	Provisional StatementSection `json:"provisional"`
	Expenditure StatementSection `json:"expenditure"`
}

// roundAmount rounds to the cent boundary, half away from zero. Amounts are
// never negative here, so this is round-half-up.
func roundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ProvisionalTotal sums the amounts of non-cancelled order lines. Each line
// amount is rounded to 2 decimals before summing, then the sum is rounded
// again, mirroring how the reporting index scripts its aggregation.
func ProvisionalTotal(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		if line.Status == LineStatusCancelled {
			continue
		}
		total = total.Add(roundAmount(line.TotalAmount))
	}
	return roundAmount(total)
}

// ExpenditureTotal sums the amounts of all receipts of an order.
func ExpenditureTotal(receipts []Receipt) decimal.Decimal {
	total := decimal.Zero
	for _, receipt := range receipts {
		total = total.Add(roundAmount(receipt.TotalAmount))
	}
	return roundAmount(total)
}

// ItemQuantities returns the ordered and received item quantities over
// non-cancelled order lines.
func ItemQuantities(lines []OrderLine) (quantity, received int) {
	for _, line := range lines {
		if line.Status == LineStatusCancelled {
			continue
		}
		quantity += line.Quantity
		received += line.ReceivedQuantity
	}
	return quantity, received
}

// BuildAccountStatement assembles the statement from current lines and
// receipts.
func BuildAccountStatement(lines []OrderLine, receipts []Receipt) AccountStatement {
	quantity, received := ItemQuantities(lines)
	return AccountStatement{
		Provisional: StatementSection{
			TotalAmount: ProvisionalTotal(lines),
			Quantity:    quantity,
		},
		Expenditure: StatementSection{
			TotalAmount: ExpenditureTotal(receipts),
			Quantity:    received,
		},
	}
}
