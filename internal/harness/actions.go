package harness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/syncer"
	"github.com/roach88/tillpos/internal/syncwire"
	"github.com/roach88/tillpos/internal/till"
)

// actionFunc runs one till operation for a step. A nil map means the
// operation has no result worth recording.
type actionFunc func(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error)

// actions maps scenario action names to till operations.
var actions = map[string]actionFunc{
	"open_shift":   openShift,
	"close_shift":  closeShift,
	"add_item":     addItem,
	"remove_item":  removeItem,
	"return_item":  returnItem,
	"print_check":  printCheck,
	"set_customer": setCustomer,
	"set_guests":   setGuests,
	"cancel_order": cancelOrder,
	"move_order":   moveOrder,
	"merge_orders": mergeOrders,
	"reserve":      reserve,
	"unreserve":    unreserve,
	"quote":        quote,
	"settle":       settle,
	"get_table":    getTable,
	"sync":         syncOnce,
	"resend":       resend,
}

// Actions returns the names of every action a scenario can invoke.
func Actions() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	return names
}

func openShift(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	cashier, err := args.str("cashier")
	if err != nil {
		return nil, err
	}
	opening, err := args.int64("opening_cash", 0)
	if err != nil {
		return nil, err
	}
	shift, err := e.svc.OpenShift(ctx, e.tillID, cashier, opening)
	if err != nil {
		return nil, err
	}
	e.sess = till.Session{TillID: shift.TillID, CashierID: shift.CashierID, ShiftID: shift.ID}
	return map[string]interface{}{
		"cashier":      shift.CashierID,
		"opening_cash": shift.OpeningCash,
	}, nil
}

func closeShift(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	cash, err := args.int64("closing_cash", 0)
	if err != nil {
		return nil, err
	}
	card, err := args.int64("closing_card", 0)
	if err != nil {
		return nil, err
	}
	shift, err := e.svc.CloseShift(ctx, e.session(), cash, card)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"expected_cash": shift.ExpectedCash(),
		"closing_cash":  *shift.ClosingCash,
		"closing_card":  *shift.ClosingCard,
		"cash_variance": *shift.CashVariance,
		"card_variance": *shift.CardVariance,
		"total_sales":   shift.TotalSales,
	}, nil
}

func addItem(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	table, err := args.str("table")
	if err != nil {
		return nil, err
	}
	product, err := args.str("product")
	if err != nil {
		return nil, err
	}
	qty, err := args.decimal("qty", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	item, err := e.svc.AddItem(ctx, e.session(), table, product, qty)
	if err != nil {
		return nil, err
	}
	e.lastItem = item.ID
	return map[string]interface{}{
		"name":       item.Name,
		"qty":        item.Qty.String(),
		"unit_price": item.UnitPrice,
	}, nil
}

func removeItem(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	item, err := e.item(args)
	if err != nil {
		return nil, err
	}
	return nil, e.svc.RemoveItem(ctx, e.session(), item)
}

func returnItem(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	item, err := e.item(args)
	if err != nil {
		return nil, err
	}
	qty, err := args.decimal("qty", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	reason, err := args.optStr("reason")
	if err != nil {
		return nil, err
	}
	ret, err := e.svc.ReturnItem(ctx, e.session(), item, qty, reason)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"qty": ret.Qty.String()}, nil
}

func printCheck(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	table, err := args.str("table")
	if err != nil {
		return nil, err
	}
	check, err := e.svc.PrintCheck(ctx, e.session(), table)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"check_number":   check.Order.CheckNumber,
		"status":         string(check.Table.Status),
		"subtotal":       check.Quote.Subtotal,
		"service_charge": check.Quote.ServiceCharge,
		"discount":       check.Quote.Discount,
		"payable":        check.Quote.Payable,
	}, nil
}

func setCustomer(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	table, err := args.str("table")
	if err != nil {
		return nil, err
	}
	customer, err := args.optStr("customer")
	if err != nil {
		return nil, err
	}
	return nil, e.svc.SetCustomer(ctx, e.session(), table, customer)
}

func setGuests(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	table, err := args.str("table")
	if err != nil {
		return nil, err
	}
	guests, err := args.int64("guests", 1)
	if err != nil {
		return nil, err
	}
	return nil, e.svc.SetGuests(ctx, e.session(), table, int(guests))
}

func cancelOrder(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	table, err := args.str("table")
	if err != nil {
		return nil, err
	}
	reason, err := args.optStr("reason")
	if err != nil {
		return nil, err
	}
	c, err := e.svc.CancelOrder(ctx, e.session(), table, reason)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"total": c.Total}, nil
}

func moveOrder(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	from, to, err := args.fromTo()
	if err != nil {
		return nil, err
	}
	return nil, e.svc.MoveOrder(ctx, e.session(), from, to)
}

func mergeOrders(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	from, to, err := args.fromTo()
	if err != nil {
		return nil, err
	}
	return nil, e.svc.MergeOrders(ctx, e.session(), from, to)
}

func reserve(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	table, err := args.str("table")
	if err != nil {
		return nil, err
	}
	return nil, e.svc.Reserve(ctx, e.session(), table)
}

func unreserve(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	table, err := args.str("table")
	if err != nil {
		return nil, err
	}
	return nil, e.svc.Unreserve(ctx, e.session(), table)
}

func quote(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	table, err := args.str("table")
	if err != nil {
		return nil, err
	}
	customer, err := args.optStr("customer")
	if err != nil {
		return nil, err
	}
	bonus, err := args.int64("bonus", 0)
	if err != nil {
		return nil, err
	}
	q, err := e.svc.Quote(ctx, table, customer, bonus)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"subtotal":       q.Subtotal,
		"service_charge": q.ServiceCharge,
		"discount":       q.Discount,
		"discount_kind":  string(q.DiscountKind),
		"payable":        q.Payable,
	}, nil
}

func settle(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	table, err := args.str("table")
	if err != nil {
		return nil, err
	}
	customer, err := args.optStr("customer")
	if err != nil {
		return nil, err
	}
	bonus, err := args.int64("bonus", 0)
	if err != nil {
		return nil, err
	}
	tenders, err := args.tenders("tenders")
	if err != nil {
		return nil, err
	}
	res, err := e.svc.Settle(ctx, e.session(), table, till.SettleRequest{
		Tenders:    tenders,
		CustomerID: customer,
		Bonus:      bonus,
	})
	if err != nil {
		return nil, err
	}
	st := res.Settlement
	return map[string]interface{}{
		"check_number":   st.CheckNumber,
		"subtotal":       st.Subtotal,
		"service_charge": st.ServiceCharge,
		"discount":       st.Discount,
		"discount_kind":  string(st.DiscountKind),
		"payable":        st.Payable,
	}, nil
}

func getTable(ctx context.Context, e *env, args stepArgs) (map[string]interface{}, error) {
	id, err := args.str("table")
	if err != nil {
		return nil, err
	}
	t, err := e.svc.Table(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": string(t.Status),
		"total":  t.Total,
	}, nil
}

// syncOnce drains the outbox to the cloud ledger.
func syncOnce(ctx context.Context, e *env, _ stepArgs) (map[string]interface{}, error) {
	n, err := e.engine.RunOnce(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"sent": n}, nil
}

// resend pushes the whole outbox again, sent entries included, as a till
// would after losing the cloud's acknowledgement.
func resend(ctx context.Context, e *env, _ stepArgs) (map[string]interface{}, error) {
	entries, err := e.store.SyncLog(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return map[string]interface{}{"processed": 0}, nil
	}
	resp, err := e.pusher.Push(ctx, syncwire.NewRequest(entries))
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		rej := &syncer.RejectedError{Code: syncwire.CodeInternal}
		if resp.Error != nil {
			rej.Code, rej.Message = resp.Error.Code, resp.Error.Message
		}
		return nil, rej
	}
	return map[string]interface{}{"processed": resp.ProcessedCount}, nil
}

// outcomeOf maps an operation error to a completion case. ok is false for
// errors that are not part of the till's contract, which abort the run.
func outcomeOf(err error) (outputCase string, details map[string]interface{}, ok bool) {
	var derr *domain.Error
	if errors.As(err, &derr) {
		if len(derr.Details) > 0 {
			details = make(map[string]interface{}, len(derr.Details))
			for k, v := range derr.Details {
				details[k] = v
			}
		}
		return string(derr.Code), details, true
	}
	var rej *syncer.RejectedError
	if errors.As(err, &rej) {
		return rej.Code, nil, true
	}
	return "", nil, false
}

// stepArgs are a step's YAML arguments with typed accessors.
type stepArgs map[string]interface{}

func (a stepArgs) str(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("missing arg %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("arg %q: want string, got %T", key, v)
	}
	return s, nil
}

func (a stepArgs) optStr(key string) (string, error) {
	if _, ok := a[key]; !ok {
		return "", nil
	}
	return a.str(key)
}

func (a stepArgs) fromTo() (string, string, error) {
	from, err := a.str("from")
	if err != nil {
		return "", "", err
	}
	to, err := a.str("to")
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}

func (a stepArgs) int64(key string, def int64) (int64, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("arg %q: %w", key, err)
	}
	return n, nil
}

func (a stepArgs) decimal(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("arg %q: %w", key, err)
		}
		return d, nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case float64:
		return decimal.NewFromFloat(val), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("arg %q: want number, got %T", key, v)
	}
}

func (a stepArgs) tenders(key string) ([]domain.Tender, error) {
	raw, ok := a[key]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("arg %q: want list, got %T", key, raw)
	}
	tenders := make([]domain.Tender, 0, len(list))
	for i, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s[%d]: want map, got %T", key, i, entry)
		}
		t := stepArgs(m)
		instrument, err := t.str("instrument")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		amount, err := t.int64("amount", 0)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		tender := domain.Tender{Instrument: domain.Instrument(instrument), Amount: amount}
		if due, ok := m["due_date"]; ok {
			at, err := toDate(due)
			if err != nil {
				return nil, fmt.Errorf("%s[%d].due_date: %w", key, i, err)
			}
			tender.DueDate = &at
		}
		tenders = append(tenders, tender)
	}
	return tenders, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("want integer, got %v", n)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
}

func toDate(v interface{}) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case string:
		return time.Parse(time.DateOnly, d)
	default:
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD, got %T", v)
	}
}
