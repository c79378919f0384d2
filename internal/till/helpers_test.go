package till

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/notify"
	"github.com/roach88/tillpos/internal/store"
	"github.com/roach88/tillpos/internal/testutil"
)

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// recordingPrinter keeps what it was asked to print and fails on demand.
type recordingPrinter struct {
	mu       sync.Mutex
	checks   []Check
	receipts []domain.Settlement
	fail     error
}

func (p *recordingPrinter) PrintCheck(_ context.Context, c Check) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks = append(p.checks, c)
	return p.fail
}

func (p *recordingPrinter) PrintReceipt(_ context.Context, st domain.Settlement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts = append(p.receipts, st)
	return p.fail
}

var errPaperOut = errors.New("paper out")

type fixture struct {
	store   *store.Store
	svc     *Service
	printer *recordingPrinter
	events  <-chan notify.Event
	sess    Session
}

// newFixture opens a seeded store: tables t-1..t-3, a piece product at 10000,
// a weight product at 3000, a 10% discount customer and a cashback customer
// with balance 5000.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "till.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	err = st.ApplySeed(context.Background(), store.Seed{
		Tables: []store.SeedTable{
			{ID: "t-1", HallID: "main", Name: "Table 1"},
			{ID: "t-2", HallID: "main", Name: "Table 2"},
			{ID: "t-3", HallID: "terrace", Name: "Table 3"},
		},
		Products: []domain.Product{
			{ID: "p-plov", Name: "Plov", Price: 10000, Unit: domain.UnitPiece, Destination: "kitchen"},
			{ID: "p-tea", Name: "Green tea", Price: 3000, Unit: domain.UnitWeight, Destination: "bar"},
			{ID: "p-salad", Name: "Salad", Price: 15000, Unit: domain.UnitPiece, Destination: "kitchen"},
		},
		Customers: []domain.Customer{
			{ID: "c-disc", Name: "Aziz", Type: domain.CustomerDiscount, DiscountPercent: decimal.NewFromInt(10)},
			{ID: "c-cash", Name: "Dilnoza", Type: domain.CustomerCashback, Balance: 5000},
		},
	})
	require.NoError(t, err)

	broker := notify.NewBroker()
	events, _ := broker.Subscribe(256)
	t.Cleanup(broker.Close)

	printer := &recordingPrinter{}
	base := []Option{
		WithClock(testutil.NewStepClock(testEpoch, time.Second)),
		WithIDGenerator(domain.NewFixedGenerator("id")),
		WithPrinter(printer),
		WithPublisher(broker),
	}
	svc := New(st, append(base, opts...)...)
	return &fixture{
		store:   st,
		svc:     svc,
		printer: printer,
		events:  events,
		sess:    Session{TillID: "till-1", CashierID: "u-1"},
	}
}

// openShift opens a shift for the fixture's till and binds it to the session.
func (f *fixture) openShift(t *testing.T, openingCash int64) domain.Shift {
	t.Helper()
	shift, err := f.svc.OpenShift(context.Background(), f.sess.TillID, f.sess.CashierID, openingCash)
	require.NoError(t, err)
	f.sess.ShiftID = shift.ID
	return shift
}

func (f *fixture) add(t *testing.T, tableID, productID, qty string) domain.OrderItem {
	t.Helper()
	it, err := f.svc.AddItem(context.Background(), f.sess, tableID, productID, decimal.RequireFromString(qty))
	require.NoError(t, err)
	return it
}

func (f *fixture) table(t *testing.T, id string) domain.Table {
	t.Helper()
	tbl, err := f.svc.Table(context.Background(), id)
	require.NoError(t, err)
	return tbl
}

func (f *fixture) outbox(t *testing.T) []domain.SyncLogEntry {
	t.Helper()
	entries, err := f.store.SyncLog(context.Background())
	require.NoError(t, err)
	return entries
}

func cash(amount int64) domain.Tender {
	return domain.Tender{Instrument: domain.InstrumentCash, Amount: amount}
}

func card(amount int64) domain.Tender {
	return domain.Tender{Instrument: domain.InstrumentCard, Amount: amount}
}
