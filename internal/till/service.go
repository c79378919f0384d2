// Package till is the order/table state machine and shift ledger of a single
// till. Every mutation runs in one local transaction and, where it affects
// synchronised records, appends to the outbox in that same transaction.
//
// Table lifecycle:
//
//	free ──add item──▶ occupied ──print check / settle──▶ payment ──settle──▶ free
//	  ▲                    │                                  │
//	  └──────cancel / last line removed / moved away──────────┘
//
// reserved is an overlay on free: only a free table can be reserved, and the
// first item added checks the reservation in.
package till

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/logging"
	"github.com/roach88/tillpos/internal/notify"
	"github.com/roach88/tillpos/internal/store"
	"github.com/roach88/tillpos/internal/syncwire"
)

// Session identifies who is operating which till. It is passed explicitly
// to every operation instead of living in process-wide state.
type Session struct {
	TillID    string `json:"till_id"`
	CashierID string `json:"cashier_id"`
	ShiftID   string `json:"shift_id,omitempty"`
}

// Printer is the receipt/check printing collaborator. Printing happens after
// commit; a failure is reported but never undoes the operation.
type Printer interface {
	PrintCheck(ctx context.Context, check Check) error
	PrintReceipt(ctx context.Context, settlement domain.Settlement) error
}

// Catalog supplies the products order lines snapshot their name and price
// from. *store.Store and *store.Tx implement it.
type Catalog interface {
	Product(ctx context.Context, id string) (domain.Product, error)
}

var (
	_ Catalog = (*store.Store)(nil)
	_ Catalog = (*store.Tx)(nil)
)

func lookupProduct(ctx context.Context, c Catalog, id string) (domain.Product, error) {
	p, err := c.Product(ctx, id)
	if err != nil {
		return domain.Product{}, mapNotFound(err, domain.CodeProductNotFound, "product %s", id)
	}
	return p, nil
}

// Service runs till operations against the local store.
//
// Thread-safety: safe for concurrent use. Serialisation of writers is the
// store's job (immediate transactions plus table version checks).
type Service struct {
	store         *store.Store
	clock         domain.Clock
	ids           domain.IDGenerator
	printer       Printer
	events        notify.Publisher
	logger        *logrus.Logger
	serviceCharge decimal.Decimal
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for record timestamps.
func WithClock(c domain.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator sets the generator for client-assigned identifiers.
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithPrinter sets the printing collaborator.
func WithPrinter(p Printer) Option {
	return func(s *Service) { s.printer = p }
}

// WithPublisher sets where change notifications go.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithServiceCharge sets the service charge percentage applied at settlement.
func WithServiceCharge(pct decimal.Decimal) Option {
	return func(s *Service) { s.serviceCharge = pct }
}

// New creates a Service. Defaults: system clock, UUIDv7 identifiers, no
// printer, no notifications, discarded logs, no service charge.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		clock:  domain.SystemClock{},
		ids:    domain.UUIDv7Generator{},
		events: notify.Nop{},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table returns a table with its running total.
func (s *Service) Table(ctx context.Context, tableID string) (domain.Table, error) {
	t, err := s.store.Table(ctx, tableID)
	if err != nil {
		return domain.Table{}, mapNotFound(err, domain.CodeTableNotFound, "table %s", tableID)
	}
	return t, nil
}

// Product returns a catalog product.
func (s *Service) Product(ctx context.Context, id string) (domain.Product, error) {
	return lookupProduct(ctx, s.store, id)
}

// Tables returns every table.
func (s *Service) Tables(ctx context.Context) ([]domain.Table, error) {
	return s.store.Tables(ctx)
}

// OrderForTable returns the open order on a table. A table without one
// yields EMPTY_ORDER.
func (s *Service) OrderForTable(ctx context.Context, tableID string) (domain.Order, error) {
	if _, err := s.Table(ctx, tableID); err != nil {
		return domain.Order{}, err
	}
	o, err := s.store.OrderForTable(ctx, tableID)
	if err != nil {
		return domain.Order{}, mapNotFound(err, domain.CodeEmptyOrder, "table %s has no open order", tableID)
	}
	return o, nil
}

// appendOutbox queues rec for the cloud inside tx.
func (s *Service) appendOutbox(ctx context.Context, tx *store.Tx, rec syncwire.Record, action domain.Action) error {
	payload, err := syncwire.Encode(rec)
	if err != nil {
		return err
	}
	_, err = tx.AppendSyncLog(ctx, domain.SyncLogEntry{
		ID:        s.ids.NewID(),
		RecordID:  rec.RecordID(),
		DataType:  rec.DataType(),
		Action:    action,
		Payload:   payload,
		CreatedAt: s.clock.Now(),
	})
	return err
}

// publish sends a post-commit notification. Failures are logged only.
func (s *Service) publish(ctx context.Context, sess Session, typ notify.Type, ids ...string) {
	ev := notify.Event{Type: typ, TillID: sess.TillID, RecordIDs: ids, At: s.clock.Now()}
	if err := s.events.Publish(ctx, ev); err != nil {
		logging.LogError(s.logger, "till", "publish", string(typ), ids, err)
	}
}

// setTable moves a table to status, translating a lost version race into
// CONFLICT.
func setTable(ctx context.Context, tx *store.Tx, t domain.Table, status domain.TableStatus, orderID string) error {
	err := tx.SetTableState(ctx, t.ID, status, orderID, t.Version)
	if errors.Is(err, store.ErrStaleVersion) {
		return domain.Errorf(domain.CodeConflict, "table %s changed concurrently", t.ID)
	}
	return err
}

// mapNotFound turns store.ErrNotFound into a coded domain error.
func mapNotFound(err error, code domain.Code, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.Errorf(code, format, args...)
	}
	return err
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}
