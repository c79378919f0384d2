package till

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/notify"
	"github.com/roach88/tillpos/internal/syncwire"
)

func nextEvent(t *testing.T, ch <-chan notify.Event) notify.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return notify.Event{}
	}
}

func TestAddItem_OpensOrderAndOccupiesTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.add(t, "t-1", "p-plov", "2")
	assert.Equal(t, "Plov", first.Name)
	assert.Equal(t, int64(10000), first.UnitPrice)
	assert.Equal(t, "kitchen", first.Destination)

	tbl := f.table(t, "t-1")
	assert.Equal(t, domain.TableOccupied, tbl.Status)
	assert.Equal(t, first.OrderID, tbl.OrderID)
	assert.Equal(t, int64(20000), tbl.Total)
	assert.Equal(t, int64(1), tbl.Version)

	second := f.add(t, "t-1", "p-tea", "0.25")
	assert.Equal(t, first.OrderID, second.OrderID, "one open order per table")

	o, err := f.svc.OrderForTable(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, o.Items, 2)
	assert.Equal(t, 1, o.Guests)
	assert.Equal(t, int64(20750), o.Total())
	assert.Equal(t, int64(2), f.table(t, "t-1").Version)

	ev := nextEvent(t, f.events)
	assert.Equal(t, notify.TableChanged, ev.Type)
	assert.Equal(t, []string{"t-1"}, ev.RecordIDs)
	assert.Equal(t, "till-1", ev.TillID)
}

func TestAddItem_SnapshotsPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, "t-1", "p-plov", "1")
	require.NoError(t, f.store.UpsertProduct(ctx, domain.Product{
		ID: "p-plov", Name: "Plov", Price: 12000, Unit: domain.UnitPiece, Destination: "kitchen",
	}))
	f.add(t, "t-1", "p-plov", "1")

	o, err := f.svc.OrderForTable(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, o.Items, 2)
	assert.Equal(t, int64(10000), o.Items[0].UnitPrice)
	assert.Equal(t, int64(12000), o.Items[1].UnitPrice)
}

func TestAddItem_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		product string
		qty     string
		want    error
	}{
		{"zero quantity", "t-1", "p-plov", "0", domain.ErrInvalidQuantity},
		{"negative quantity", "t-1", "p-plov", "-1", domain.ErrInvalidQuantity},
		{"fractional piece", "t-1", "p-plov", "1.5", domain.ErrInvalidQuantity},
		{"unknown table", "t-9", "p-plov", "1", domain.ErrTableNotFound},
		{"unknown product", "t-1", "p-none", "1", domain.ErrProductNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.AddItem(context.Background(), f.sess, tt.table, tt.product, decimal.RequireFromString(tt.qty))
			assert.ErrorIs(t, err, tt.want)

			tbl := f.table(t, "t-1")
			assert.Equal(t, domain.TableFree, tbl.Status)
			assert.Empty(t, tbl.OrderID)
		})
	}
}

func TestReserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Reserve(ctx, f.sess, "t-2"))
	assert.Equal(t, domain.TableReserved, f.table(t, "t-2").Status)
	assert.ErrorIs(t, f.svc.Reserve(ctx, f.sess, "t-2"), domain.ErrTableNotFree)

	require.NoError(t, f.svc.Unreserve(ctx, f.sess, "t-2"))
	assert.Equal(t, domain.TableFree, f.table(t, "t-2").Status)
	assert.ErrorIs(t, f.svc.Unreserve(ctx, f.sess, "t-2"), domain.ErrConflict)

	// the first item checks a reservation in
	require.NoError(t, f.svc.Reserve(ctx, f.sess, "t-2"))
	f.add(t, "t-2", "p-salad", "1")
	assert.Equal(t, domain.TableOccupied, f.table(t, "t-2").Status)
	assert.ErrorIs(t, f.svc.Reserve(ctx, f.sess, "t-2"), domain.ErrTableNotFree)
}

func TestReturnItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	it := f.add(t, "t-1", "p-plov", "3")

	_, err := f.svc.ReturnItem(ctx, f.sess, it.ID, decimal.NewFromInt(1), "cold")
	require.NoError(t, err)
	o, err := f.svc.OrderForTable(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.True(t, o.Items[0].Qty.Equal(decimal.NewFromInt(2)))
	assert.True(t, o.Items[0].Returned.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int64(20000), o.Total())

	_, err = f.svc.ReturnItem(ctx, f.sess, it.ID, decimal.NewFromInt(3), "")
	require.ErrorIs(t, err, domain.ErrOverReturn)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "2", derr.Details["remaining"])

	_, err = f.svc.ReturnItem(ctx, f.sess, it.ID, decimal.Zero, "")
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.svc.ReturnItem(ctx, f.sess, it.ID, decimal.NewFromInt(2), "wrong table")
	require.NoError(t, err)

	tbl := f.table(t, "t-1")
	assert.Equal(t, domain.TableFree, tbl.Status, "an order without lines is dropped")
	assert.Empty(t, tbl.OrderID)

	returns, err := f.store.ItemReturns(ctx, it.OrderID)
	require.NoError(t, err)
	require.Len(t, returns, 2)
	assert.Equal(t, "cold", returns[0].Reason)

	_, err = f.svc.ReturnItem(ctx, f.sess, it.ID, decimal.NewFromInt(1), "")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestReturnItem_PieceQuantityMustBeWhole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plov := f.add(t, "t-1", "p-plov", "2")
	_, err := f.svc.ReturnItem(ctx, f.sess, plov.ID, decimal.RequireFromString("0.5"), "")
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	o, err := f.svc.OrderForTable(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.True(t, o.Items[0].Qty.Equal(decimal.NewFromInt(2)), "a rejected return leaves the line untouched")
	returns, err := f.store.ItemReturns(ctx, plov.OrderID)
	require.NoError(t, err)
	assert.Empty(t, returns)

	tea := f.add(t, "t-1", "p-tea", "1.5")
	_, err = f.svc.ReturnItem(ctx, f.sess, tea.ID, decimal.RequireFromString("0.25"), "spilled")
	require.NoError(t, err, "weighed products return fractions")
}

func TestRemoveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plov := f.add(t, "t-1", "p-plov", "1")
	tea := f.add(t, "t-1", "p-tea", "0.5")

	require.NoError(t, f.svc.RemoveItem(ctx, f.sess, plov.ID))
	tbl := f.table(t, "t-1")
	assert.Equal(t, domain.TableOccupied, tbl.Status)
	assert.Equal(t, int64(1500), tbl.Total)

	require.NoError(t, f.svc.RemoveItem(ctx, f.sess, tea.ID))
	assert.Equal(t, domain.TableFree, f.table(t, "t-1").Status)

	assert.ErrorIs(t, f.svc.RemoveItem(ctx, f.sess, tea.ID), domain.ErrItemNotFound)
}

func TestPrintCheck(t *testing.T) {
	f := newFixture(t, WithServiceCharge(decimal.NewFromInt(10)))
	ctx := context.Background()

	_, err := f.svc.PrintCheck(ctx, f.sess, "t-1")
	require.ErrorIs(t, err, domain.ErrEmptyOrder)

	f.add(t, "t-1", "p-plov", "2")
	check, err := f.svc.PrintCheck(ctx, f.sess, "t-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), check.Order.CheckNumber)
	assert.Equal(t, int64(22000), check.Quote.Payable)
	assert.Equal(t, domain.TablePayment, check.Table.Status)
	assert.Equal(t, domain.TablePayment, f.table(t, "t-1").Status)

	// reprinting keeps the number
	check, err = f.svc.PrintCheck(ctx, f.sess, "t-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), check.Order.CheckNumber)

	f.add(t, "t-2", "p-salad", "1")
	check, err = f.svc.PrintCheck(ctx, f.sess, "t-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), check.Order.CheckNumber)

	assert.Len(t, f.printer.checks, 3)
}

func TestPrintCheck_PrinterFailureKeepsTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.printer.fail = errPaperOut

	f.add(t, "t-1", "p-plov", "1")
	check, err := f.svc.PrintCheck(ctx, f.sess, "t-1")
	require.ErrorIs(t, err, errPaperOut)
	assert.Equal(t, int64(1), check.Order.CheckNumber)
	assert.Equal(t, domain.TablePayment, f.table(t, "t-1").Status)
}

func TestAddItem_ReopensPaymentTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, "t-1", "p-plov", "1")
	_, err := f.svc.PrintCheck(ctx, f.sess, "t-1")
	require.NoError(t, err)

	f.add(t, "t-1", "p-tea", "1")
	assert.Equal(t, domain.TableOccupied, f.table(t, "t-1").Status)

	o, err := f.svc.OrderForTable(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.CheckNumber)
}

func TestSetCustomerAndGuests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.SetGuests(ctx, f.sess, "t-1", 2), domain.ErrEmptyOrder)

	f.add(t, "t-1", "p-plov", "1")
	require.NoError(t, f.svc.SetGuests(ctx, f.sess, "t-1", 4))
	assert.ErrorIs(t, f.svc.SetGuests(ctx, f.sess, "t-1", 0), domain.ErrInvalidQuantity)
	require.NoError(t, f.svc.SetCustomer(ctx, f.sess, "t-1", "c-disc"))
	assert.ErrorIs(t, f.svc.SetCustomer(ctx, f.sess, "t-1", "c-none"), domain.ErrCustomerNotFound)

	o, err := f.svc.OrderForTable(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 4, o.Guests)
	assert.Equal(t, "c-disc", o.CustomerID)

	require.NoError(t, f.svc.SetCustomer(ctx, f.sess, "t-1", ""))
	o, err = f.svc.OrderForTable(ctx, "t-1")
	require.NoError(t, err)
	assert.Empty(t, o.CustomerID)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CancelOrder(ctx, f.sess, "t-1", "")
	require.ErrorIs(t, err, domain.ErrEmptyOrder)

	it := f.add(t, "t-1", "p-plov", "2")
	f.add(t, "t-1", "p-tea", "0.5")

	cancelled, err := f.svc.CancelOrder(ctx, f.sess, "t-1", "guests left")
	require.NoError(t, err)
	assert.Equal(t, it.OrderID, cancelled.OrderID)
	assert.Equal(t, "Table 1", cancelled.TableName)
	assert.Equal(t, int64(21500), cancelled.Total)
	assert.JSONEq(t, `[
		{"productId":"p-plov","name":"Plov","qty":"2","unitPrice":10000,"destination":"kitchen","total":20000},
		{"productId":"p-tea","name":"Green tea","qty":"0.5","unitPrice":3000,"destination":"bar","total":1500}
	]`, string(cancelled.Items))

	tbl := f.table(t, "t-1")
	assert.Equal(t, domain.TableFree, tbl.Status)
	assert.Empty(t, tbl.OrderID)
	_, err = f.svc.OrderForTable(ctx, "t-1")
	assert.ErrorIs(t, err, domain.ErrEmptyOrder)

	stored, err := f.store.CancelledOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, cancelled.ID, stored[0].ID)

	entries := f.outbox(t)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.DataTypeCancelledOrders, entries[0].DataType)
	assert.Equal(t, domain.ActionCreate, entries[0].Action)
	assert.Equal(t, cancelled.ID, entries[0].RecordID)

	rec, err := syncwire.Decode(syncwire.ItemFromEntry(entries[0]))
	require.NoError(t, err)
	assert.Equal(t, "guests left", rec.(*syncwire.CancelledOrder).Reason)
}

func TestMoveOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	it := f.add(t, "t-1", "p-plov", "2")
	_, err := f.svc.PrintCheck(ctx, f.sess, "t-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.MoveOrder(ctx, f.sess, "t-1", "t-2"))

	from, to := f.table(t, "t-1"), f.table(t, "t-2")
	assert.Equal(t, domain.TableFree, from.Status)
	assert.Empty(t, from.OrderID)
	assert.Equal(t, domain.TablePayment, to.Status, "destination takes over the source status")
	assert.Equal(t, it.OrderID, to.OrderID)
	assert.Equal(t, int64(20000), to.Total)

	o, err := f.svc.OrderForTable(ctx, "t-2")
	require.NoError(t, err)
	assert.Equal(t, "t-2", o.TableID)
	assert.Len(t, o.Items, 1)
}

func TestMoveOrder_Conflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, "t-1", "p-plov", "1")
	f.add(t, "t-2", "p-salad", "1")

	assert.ErrorIs(t, f.svc.MoveOrder(ctx, f.sess, "t-1", "t-2"), domain.ErrConflict, "destination occupied")
	assert.ErrorIs(t, f.svc.MoveOrder(ctx, f.sess, "t-3", "t-1"), domain.ErrConflict, "source has no order")
	assert.ErrorIs(t, f.svc.MoveOrder(ctx, f.sess, "t-1", "t-1"), domain.ErrConflict)
	assert.ErrorIs(t, f.svc.MoveOrder(ctx, f.sess, "t-1", "t-9"), domain.ErrTableNotFound)

	// nothing moved
	assert.Equal(t, int64(10000), f.table(t, "t-1").Total)
	assert.Equal(t, int64(15000), f.table(t, "t-2").Total)
}

func TestMoveOrder_ConcurrentMovesToSameTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, "t-1", "p-plov", "1")
	f.add(t, "t-3", "p-salad", "1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, from := range []string{"t-1", "t-3"} {
		wg.Add(1)
		go func(i int, from string) {
			defer wg.Done()
			errs[i] = f.svc.MoveOrder(ctx, f.sess, from, "t-2")
		}(i, from)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case domain.CodeOf(err) == domain.CodeConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	dest := f.table(t, "t-2")
	assert.Equal(t, domain.TableOccupied, dest.Status)
	occupied := 0
	for _, id := range []string{"t-1", "t-3"} {
		if f.table(t, id).Status == domain.TableOccupied {
			occupied++
		}
	}
	assert.Equal(t, 1, occupied, "the losing order stays where it was")
}

func TestMergeOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, "t-1", "p-plov", "2")
	require.NoError(t, f.svc.SetGuests(ctx, f.sess, "t-1", 3))
	target := f.add(t, "t-2", "p-salad", "1")
	require.NoError(t, f.svc.SetCustomer(ctx, f.sess, "t-2", "c-disc"))
	_, err := f.svc.PrintCheck(ctx, f.sess, "t-2")
	require.NoError(t, err)

	require.NoError(t, f.svc.MergeOrders(ctx, f.sess, "t-1", "t-2"))

	from := f.table(t, "t-1")
	assert.Equal(t, domain.TableFree, from.Status)
	assert.Empty(t, from.OrderID)

	to := f.table(t, "t-2")
	assert.Equal(t, domain.TableOccupied, to.Status)
	assert.Equal(t, target.OrderID, to.OrderID)
	assert.Equal(t, int64(35000), to.Total)

	o, err := f.svc.OrderForTable(ctx, "t-2")
	require.NoError(t, err)
	assert.Len(t, o.Items, 2)
	assert.Equal(t, 3, o.Guests)
	assert.Equal(t, "c-disc", o.CustomerID)
}

func TestMergeOrders_Conflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, "t-1", "p-plov", "1")
	require.NoError(t, f.svc.Reserve(ctx, f.sess, "t-3"))

	assert.ErrorIs(t, f.svc.MergeOrders(ctx, f.sess, "t-1", "t-2"), domain.ErrConflict, "destination free")
	assert.ErrorIs(t, f.svc.MergeOrders(ctx, f.sess, "t-1", "t-3"), domain.ErrConflict, "destination reserved")
	assert.ErrorIs(t, f.svc.MergeOrders(ctx, f.sess, "t-2", "t-1"), domain.ErrConflict, "source empty")
	assert.ErrorIs(t, f.svc.MergeOrders(ctx, f.sess, "t-1", "t-1"), domain.ErrConflict)

	assert.Equal(t, domain.TableOccupied, f.table(t, "t-1").Status)
}
