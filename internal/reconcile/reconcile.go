// Package reconcile is the financial reconciliation engine: a pure function
// from line items, service charge, loyalty policy and tenders to a balanced
// settlement, or a rejection.
//
// Rounding policy: all arithmetic is exact decimal and each derived amount
// (subtotal, service charge, percentage discount) is rounded once, half-up, to
// the smallest currency unit. Tenders must then match the payable amount
// exactly; there is no tolerance.
package reconcile

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/roach88/tillpos/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Line is a priced quantity.
type Line struct {
	UnitPrice int64
	Qty       decimal.Decimal
}

// Request is the input to Reconcile.
type Request struct {
	Lines                []Line
	ServiceChargePercent decimal.Decimal

	// Customer is optional. A discount customer gets a percentage off the
	// subtotal; a cashback customer may redeem BonusRequested from Balance.
	Customer       *domain.Customer
	BonusRequested int64

	Tenders []domain.Tender
}

// Quote is the amount due for a set of lines before tenders are considered.
type Quote struct {
	Subtotal      int64
	ServiceCharge int64
	Discount      int64
	DiscountKind  domain.DiscountKind
	Payable       int64
}

// Result is an accepted reconciliation.
type Result struct {
	Quote

	// Tenders are normalised: zero amounts dropped, repeated non-debt
	// instruments merged in first-seen order.
	Tenders []domain.Tender

	// BonusUsed is deducted from the cashback customer's balance.
	BonusUsed int64
	// DebtAdded is added to the customer's outstanding debt.
	DebtAdded int64
}

// LinesFromItems converts order items to reconciliation lines.
func LinesFromItems(items []domain.OrderItem) []Line {
	lines := make([]Line, len(items))
	for i, it := range items {
		lines[i] = Line{UnitPrice: it.UnitPrice, Qty: it.Qty}
	}
	return lines
}

// Price computes subtotal, service charge and discount for the request's
// lines and customer. Tenders are ignored.
func Price(req Request) (Quote, error) {
	if req.ServiceChargePercent.IsNegative() {
		return Quote{}, domain.Errorf(domain.CodeInvalidTender, "negative service charge percent %s", req.ServiceChargePercent)
	}
	if req.BonusRequested < 0 {
		return Quote{}, domain.Errorf(domain.CodeInvalidTender, "negative bonus request %d", req.BonusRequested)
	}

	sum := decimal.Zero
	for i, l := range req.Lines {
		if !l.Qty.IsPositive() {
			return Quote{}, domain.Errorf(domain.CodeInvalidQuantity, "line %d has quantity %s", i, l.Qty)
		}
		if l.UnitPrice < 0 {
			return Quote{}, domain.Errorf(domain.CodeInvalidTender, "line %d has negative price %d", i, l.UnitPrice)
		}
		sum = sum.Add(decimal.NewFromInt(l.UnitPrice).Mul(l.Qty))
	}

	q := Quote{DiscountKind: domain.DiscountNone}
	q.Subtotal = domain.RoundMoney(sum)
	q.ServiceCharge = percentOf(q.Subtotal, req.ServiceChargePercent)

	if c := req.Customer; c != nil {
		switch c.Type {
		case domain.CustomerDiscount:
			if c.DiscountPercent.IsNegative() {
				return Quote{}, domain.Errorf(domain.CodeInvalidTender, "customer %s has negative discount percent", c.ID)
			}
			q.Discount = percentOf(q.Subtotal, c.DiscountPercent)
			if q.Discount > q.Subtotal {
				q.Discount = q.Subtotal
			}
			if q.Discount > 0 {
				q.DiscountKind = domain.DiscountPercent
			}
		case domain.CustomerCashback:
			q.Discount = min(req.BonusRequested, max(c.Balance, 0), q.Subtotal+q.ServiceCharge)
			if q.Discount > 0 {
				q.DiscountKind = domain.DiscountCashback
			}
		}
	}

	q.Payable = q.Subtotal + q.ServiceCharge - q.Discount
	return q, nil
}

// Reconcile validates tenders against the priced request.
//
// Rejections, all before any state is touched:
//   - INVALID_TENDER: unknown instrument or negative amount
//   - MISSING_DEBT_INFO: a debt tender without a customer or due date
//   - AMOUNT_MISMATCH: tenders do not sum exactly to the payable amount
func Reconcile(req Request) (Result, error) {
	q, err := Price(req)
	if err != nil {
		return Result{}, err
	}

	tenders, err := normaliseTenders(req.Tenders)
	if err != nil {
		return Result{}, err
	}

	var tendered, debt int64
	for _, t := range tenders {
		if t.Instrument == domain.InstrumentDebt {
			if req.Customer == nil {
				return Result{}, domain.Errorf(domain.CodeMissingDebtInfo, "debt tender of %d requires a customer", t.Amount)
			}
			if t.DueDate == nil || t.DueDate.IsZero() {
				return Result{}, domain.Errorf(domain.CodeMissingDebtInfo, "debt tender of %d requires a due date", t.Amount)
			}
			debt += t.Amount
		}
		tendered += t.Amount
	}

	if tendered != q.Payable {
		return Result{}, domain.Errorf(domain.CodeAmountMismatch, "tendered %d, payable %d", tendered, q.Payable).
			WithDetail("payable", strconv.FormatInt(q.Payable, 10)).
			WithDetail("tendered", strconv.FormatInt(tendered, 10)).
			WithDetail("remainder", strconv.FormatInt(q.Payable-tendered, 10))
	}

	res := Result{Quote: q, Tenders: tenders, DebtAdded: debt}
	if q.DiscountKind == domain.DiscountCashback {
		res.BonusUsed = q.Discount
	}
	return res, nil
}

func percentOf(amount int64, pct decimal.Decimal) int64 {
	if pct.IsZero() || amount == 0 {
		return 0
	}
	return domain.RoundMoney(decimal.NewFromInt(amount).Mul(pct).Div(hundred))
}

func normaliseTenders(in []domain.Tender) ([]domain.Tender, error) {
	out := make([]domain.Tender, 0, len(in))
	index := make(map[domain.Instrument]int)
	for i, t := range in {
		if !t.Instrument.Valid() {
			return nil, domain.Errorf(domain.CodeInvalidTender, "tender %d: unknown instrument %q", i, t.Instrument)
		}
		if t.Amount < 0 {
			return nil, domain.Errorf(domain.CodeInvalidTender, "tender %d: negative amount %d", i, t.Amount)
		}
		if t.Amount == 0 {
			continue
		}
		if t.Instrument == domain.InstrumentDebt {
			out = append(out, t)
			continue
		}
		if j, ok := index[t.Instrument]; ok {
			out[j].Amount += t.Amount
			continue
		}
		index[t.Instrument] = len(out)
		out = append(out, domain.Tender{Instrument: t.Instrument, Amount: t.Amount})
	}
	return out, nil
}

// String renders a quote for logs.
func (q Quote) String() string {
	return fmt.Sprintf("subtotal=%d service=%d discount=%d(%s) payable=%d",
		q.Subtotal, q.ServiceCharge, q.Discount, q.DiscountKind, q.Payable)
}
