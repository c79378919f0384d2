package reconcile

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillpos/internal/domain"
)

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func tenPercent() decimal.Decimal {
	return decimal.NewFromInt(10)
}

func scenarioLines() []Line {
	return []Line{{UnitPrice: 10000, Qty: qty("2")}}
}

func TestReconcile_ScenarioA_SingleCash(t *testing.T) {
	res, err := Reconcile(Request{
		Lines:                scenarioLines(),
		ServiceChargePercent: tenPercent(),
		Tenders:              []domain.Tender{{Instrument: domain.InstrumentCash, Amount: 22000}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(20000), res.Subtotal)
	assert.Equal(t, int64(2000), res.ServiceCharge)
	assert.Equal(t, int64(0), res.Discount)
	assert.Equal(t, domain.DiscountNone, res.DiscountKind)
	assert.Equal(t, int64(22000), res.Payable)
	require.Len(t, res.Tenders, 1)
}

func TestReconcile_ScenarioB_DiscountCustomerSplitTender(t *testing.T) {
	customer := &domain.Customer{ID: "c-1", Type: domain.CustomerDiscount, DiscountPercent: tenPercent()}

	res, err := Reconcile(Request{
		Lines:                scenarioLines(),
		ServiceChargePercent: tenPercent(),
		Customer:             customer,
		Tenders: []domain.Tender{
			{Instrument: domain.InstrumentCash, Amount: 10000},
			{Instrument: domain.InstrumentCard, Amount: 10000},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2000), res.Discount)
	assert.Equal(t, domain.DiscountPercent, res.DiscountKind)
	assert.Equal(t, int64(20000), res.Payable)
	assert.Equal(t, int64(0), res.BonusUsed)
}

func TestReconcile_ScenarioC_AmountMismatch(t *testing.T) {
	_, err := Reconcile(Request{
		Lines:                scenarioLines(),
		ServiceChargePercent: tenPercent(),
		Tenders:              []domain.Tender{{Instrument: domain.InstrumentCash, Amount: 21999}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAmountMismatch))

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "1", derr.Details["remainder"])
}

func TestReconcile_Overpayment_AmountMismatch(t *testing.T) {
	_, err := Reconcile(Request{
		Lines:                scenarioLines(),
		ServiceChargePercent: tenPercent(),
		Tenders:              []domain.Tender{{Instrument: domain.InstrumentCash, Amount: 22001}},
	})
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
}

func TestReconcile_ScenarioD_DebtWithoutDueDate(t *testing.T) {
	customer := &domain.Customer{ID: "c-1", Type: domain.CustomerDiscount}

	_, err := Reconcile(Request{
		Lines:                scenarioLines(),
		ServiceChargePercent: tenPercent(),
		Customer:             customer,
		Tenders: []domain.Tender{
			{Instrument: domain.InstrumentCash, Amount: 17000},
			{Instrument: domain.InstrumentDebt, Amount: 5000},
		},
	})
	assert.ErrorIs(t, err, domain.ErrMissingDebtInfo)
}

func TestReconcile_DebtWithoutCustomer(t *testing.T) {
	due := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	_, err := Reconcile(Request{
		Lines:   scenarioLines(),
		Tenders: []domain.Tender{{Instrument: domain.InstrumentDebt, Amount: 20000, DueDate: &due}},
	})
	assert.ErrorIs(t, err, domain.ErrMissingDebtInfo)
}

func TestReconcile_DebtAccepted(t *testing.T) {
	due := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	customer := &domain.Customer{ID: "c-1", Type: domain.CustomerCashback}

	res, err := Reconcile(Request{
		Lines:    scenarioLines(),
		Customer: customer,
		Tenders: []domain.Tender{
			{Instrument: domain.InstrumentCash, Amount: 15000},
			{Instrument: domain.InstrumentDebt, Amount: 5000, DueDate: &due},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), res.DebtAdded)
	assert.Equal(t, int64(20000), res.Payable)
}

func TestReconcile_CashbackBoundedByBalance(t *testing.T) {
	customer := &domain.Customer{ID: "c-1", Type: domain.CustomerCashback, Balance: 3000}

	res, err := Reconcile(Request{
		Lines:                scenarioLines(),
		ServiceChargePercent: tenPercent(),
		Customer:             customer,
		BonusRequested:       50000,
		Tenders:              []domain.Tender{{Instrument: domain.InstrumentCash, Amount: 19000}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), res.Discount)
	assert.Equal(t, int64(3000), res.BonusUsed)
	assert.Equal(t, domain.DiscountCashback, res.DiscountKind)
}

func TestReconcile_CashbackBoundedByPayable(t *testing.T) {
	customer := &domain.Customer{ID: "c-1", Type: domain.CustomerCashback, Balance: 100000}

	res, err := Reconcile(Request{
		Lines:                scenarioLines(),
		ServiceChargePercent: tenPercent(),
		Customer:             customer,
		BonusRequested:       100000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(22000), res.Discount)
	assert.Equal(t, int64(0), res.Payable)
	assert.Empty(t, res.Tenders)
}

func TestReconcile_BonusIgnoredWithoutCashbackCustomer(t *testing.T) {
	res, err := Reconcile(Request{
		Lines:          scenarioLines(),
		BonusRequested: 5000,
		Tenders:        []domain.Tender{{Instrument: domain.InstrumentCard, Amount: 20000}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Discount)
}

func TestReconcile_InvalidTenders(t *testing.T) {
	tests := []struct {
		name    string
		tenders []domain.Tender
	}{
		{"unknown instrument", []domain.Tender{{Instrument: "crypto", Amount: 20000}}},
		{"negative amount", []domain.Tender{{Instrument: domain.InstrumentCash, Amount: -1}, {Instrument: domain.InstrumentCash, Amount: 20001}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reconcile(Request{Lines: scenarioLines(), Tenders: tt.tenders})
			assert.ErrorIs(t, err, domain.ErrInvalidTender)
		})
	}
}

func TestReconcile_MergesRepeatedInstruments(t *testing.T) {
	res, err := Reconcile(Request{
		Lines: scenarioLines(),
		Tenders: []domain.Tender{
			{Instrument: domain.InstrumentCash, Amount: 5000},
			{Instrument: domain.InstrumentCard, Amount: 0},
			{Instrument: domain.InstrumentCash, Amount: 15000},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Tenders, 1)
	assert.Equal(t, int64(20000), res.Tenders[0].Amount)
}

func TestPrice_RoundsHalfUp(t *testing.T) {
	// 1.5 kg at 333 = 499.5 -> 500
	q, err := Price(Request{Lines: []Line{{UnitPrice: 333, Qty: qty("1.5")}}})
	require.NoError(t, err)
	assert.Equal(t, int64(500), q.Subtotal)

	// 12.5% of 500 = 62.5 -> 63
	q, err = Price(Request{
		Lines:                []Line{{UnitPrice: 500, Qty: qty("1")}},
		ServiceChargePercent: qty("12.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(63), q.ServiceCharge)
}

func TestPrice_WeightQuantitySummedBeforeRounding(t *testing.T) {
	// two lines of 0.25 kg at 1001 each: 250.25 + 250.25 = 500.5 -> 501
	q, err := Price(Request{Lines: []Line{
		{UnitPrice: 1001, Qty: qty("0.25")},
		{UnitPrice: 1001, Qty: qty("0.25")},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(501), q.Subtotal)
}

func TestPrice_RejectsNonPositiveQuantity(t *testing.T) {
	_, err := Price(Request{Lines: []Line{{UnitPrice: 100, Qty: qty("0")}}})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

// Any accepted settlement balances exactly, whatever the mix of instruments.
func TestReconcile_BalanceProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	due := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 500; i++ {
		var lines []Line
		for n := rng.Intn(5) + 1; n > 0; n-- {
			lines = append(lines, Line{
				UnitPrice: int64(rng.Intn(50000) + 1),
				Qty:       decimal.New(int64(rng.Intn(3000)+1), -3),
			})
		}
		customer := &domain.Customer{ID: "c", Type: domain.CustomerCashback, Balance: int64(rng.Intn(20000))}
		if rng.Intn(2) == 0 {
			customer = &domain.Customer{ID: "c", Type: domain.CustomerDiscount, DiscountPercent: decimal.NewFromInt(int64(rng.Intn(30)))}
		}
		req := Request{
			Lines:                lines,
			ServiceChargePercent: decimal.NewFromInt(int64(rng.Intn(20))),
			Customer:             customer,
			BonusRequested:       int64(rng.Intn(30000)),
		}
		q, err := Price(req)
		require.NoError(t, err)

		// split payable randomly across instruments
		remaining := q.Payable
		for _, inst := range domain.Instruments {
			if remaining == 0 {
				break
			}
			amount := remaining
			if inst != domain.InstrumentDebt {
				amount = rng.Int63n(remaining + 1)
			}
			tender := domain.Tender{Instrument: inst, Amount: amount}
			if inst == domain.InstrumentDebt {
				tender.DueDate = &due
			}
			req.Tenders = append(req.Tenders, tender)
			remaining -= amount
		}

		res, err := Reconcile(req)
		require.NoError(t, err, "iteration %d: %s", i, q)

		var sum int64
		for _, tender := range res.Tenders {
			sum += tender.Amount
		}
		require.Equal(t, res.Subtotal+res.ServiceCharge-res.Discount, sum)
		require.Equal(t, res.Payable, sum)
		if customer.Type == domain.CustomerCashback {
			require.LessOrEqual(t, res.Discount, customer.Balance)
			require.Equal(t, res.Discount, res.BonusUsed)
		}
	}
}
