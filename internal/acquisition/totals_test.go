package acquisition

import (
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestProvisionalTotalExcludesCancelledLines(t *testing.T) {
	lines := []OrderLine{
		{Status: LineStatusApproved, TotalAmount: decimal.RequireFromString("10.555")},
		{Status: LineStatusOrdered, TotalAmount: decimal.RequireFromString("4.444")},
		{Status: LineStatusCancelled, TotalAmount: decimal.RequireFromString("99.99")},
	}

	// 10.56 + 4.44
	require.True(t, decimal.RequireFromString("15.00").Equal(ProvisionalTotal(lines)))
}

func TestExpenditureTotalSumsAllReceipts(t *testing.T) {
	receipts := []Receipt{
		{TotalAmount: decimal.RequireFromString("12.125")},
		{TotalAmount: decimal.RequireFromString("0.01")},
	}
	require.True(t, decimal.RequireFromString("12.14").Equal(ExpenditureTotal(receipts)))
}

func TestItemQuantitiesSkipCancelled(t *testing.T) {
	lines := []OrderLine{
		{Status: LineStatusOrdered, Quantity: 3, ReceivedQuantity: 1},
		{Status: LineStatusReceived, Quantity: 2, ReceivedQuantity: 2},
		{Status: LineStatusCancelled, Quantity: 10, ReceivedQuantity: 10},
	}
	quantity, received := ItemQuantities(lines)
	require.Equal(t, 5, quantity)
	require.Equal(t, 3, received)
}

// Round-trip property: the aggregated provisional total equals the sum of
// the individually rounded non-cancelled line amounts, for random amounts.
func TestProvisionalTotalRoundTrip(t *testing.T) {
	faker := gofakeit.New(42)

	for range 50 {
		count := faker.IntRange(0, 12)
		lines := make([]OrderLine, 0, count)
		want := decimal.Zero
		for range count {
			amount := decimal.NewFromFloat(faker.Float64Range(0, 500))
			status := LineStatusApproved
			if faker.Bool() {
				status = LineStatusCancelled
			}
			lines = append(lines, OrderLine{Status: status, TotalAmount: amount})
			if status != LineStatusCancelled {
				want = want.Add(amount.Round(2))
			}
		}
		got := ProvisionalTotal(lines)
		require.Truef(t, want.Round(2).Equal(got), "want %s, got %s", want.Round(2), got)
	}
}

func TestBuildAccountStatement(t *testing.T) {
	lines := []OrderLine{
		{Status: LineStatusOrdered, Quantity: 2, TotalAmount: decimal.RequireFromString("20.00")},
		{Status: LineStatusReceived, Quantity: 1, ReceivedQuantity: 1, TotalAmount: decimal.RequireFromString("5.50")},
	}
	receipts := []Receipt{{TotalAmount: decimal.RequireFromString("5.50")}}

	statement := BuildAccountStatement(lines, receipts)
	require.True(t, decimal.RequireFromString("25.50").Equal(statement.Provisional.TotalAmount))
	require.Equal(t, 3, statement.Provisional.Quantity)
	require.True(t, decimal.RequireFromString("5.50").Equal(statement.Expenditure.TotalAmount))
	require.Equal(t, 1, statement.Expenditure.Quantity)
}
