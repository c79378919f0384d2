// Package cloud is the remote side of sync: a multi-tenant ledger that
// applies till batches idempotently, and the HTTP server tills push to.
//
// Every batch is applied in one database transaction. Each item is first
// recorded in sync_audit_log under its till-minted identifier; an item whose
// audit row already exists has been applied before and is skipped, so a
// till may resend a batch any number of times.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/logging"
	"github.com/roach88/tillpos/internal/notify"
	"github.com/roach88/tillpos/internal/syncwire"
)

var tracer = otel.Tracer("tillpos/cloud")

const tenantLockTTL = 30 * time.Second

// BatchError rejects a whole batch. Code is one of the syncwire error codes.
type BatchError struct {
	Code    string
	Message string
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BatchError) Unwrap() error { return e.Err }

// ErrTenantMismatch is wrapped by a BatchError whose batch touched a record
// owned by another tenant.
var ErrTenantMismatch = errors.New("record belongs to another tenant")

// Ledger applies batches to the cloud tables.
type Ledger struct {
	db     *gorm.DB
	locker *redislock.Client
	events notify.Publisher
	clock  domain.Clock
	logger *logrus.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLocker serialises batches per tenant through redis. Without it the
// database transaction alone decides.
func WithLocker(l *redislock.Client) LedgerOption {
	return func(led *Ledger) { led.locker = l }
}

func WithPublisher(p notify.Publisher) LedgerOption {
	return func(led *Ledger) { led.events = p }
}

func WithClock(c domain.Clock) LedgerOption {
	return func(led *Ledger) { led.clock = c }
}

func WithLogger(l *logrus.Logger) LedgerOption {
	return func(led *Ledger) { led.logger = l }
}

// NewLedger returns a ledger over db.
func NewLedger(db *gorm.DB, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		db:     db,
		events: notify.Nop{},
		clock:  domain.SystemClock{},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DB exposes the underlying connection for read-side queries.
func (l *Ledger) DB() *gorm.DB { return l.db }

// ApplyBatch validates and applies items for tenantID. It returns the number
// of items processed, counting items skipped as already applied. Any error
// leaves the ledger unchanged.
func (l *Ledger) ApplyBatch(ctx context.Context, tenantID string, items []syncwire.Item) (int, error) {
	ctx, span := tracer.Start(ctx, "cloud.ApplyBatch", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.Int("batch.size", len(items)),
	))
	defer span.End()

	n, applied, err := l.applyBatch(ctx, tenantID, items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int("batch.applied", len(applied)))

	if len(applied) > 0 {
		ev := notify.Event{Type: notify.SyncApplied, TenantID: tenantID, RecordIDs: applied, At: l.clock.Now()}
		if err := l.events.Publish(ctx, ev); err != nil {
			l.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "records": len(applied)}).
				WithError(err).Warn("sync.applied notification failed")
		}
	}
	return n, nil
}

func (l *Ledger) applyBatch(ctx context.Context, tenantID string, items []syncwire.Item) (int, []string, error) {
	if tenantID == "" {
		return 0, nil, &BatchError{Code: syncwire.CodeUnauthorized, Message: "no tenant"}
	}
	if len(items) == 0 {
		return 0, nil, &BatchError{Code: syncwire.CodeInvalidBatch, Message: "empty batch"}
	}

	records := make([]syncwire.Record, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		if _, dup := seen[it.ID]; dup {
			return 0, nil, &BatchError{Code: syncwire.CodeInvalidBatch, Message: fmt.Sprintf("item %q appears twice", it.ID)}
		}
		seen[it.ID] = struct{}{}

		rec, err := syncwire.Decode(it)
		if err != nil {
			return 0, nil, &BatchError{Code: syncwire.CodeInvalidItem, Message: err.Error(), Err: err}
		}
		records[i] = rec
	}

	unlock := l.lockTenant(ctx, tenantID)
	defer unlock()

	now := l.clock.Now()
	var applied []string
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, it := range items {
			fresh, err := recordAudit(tx, tenantID, it, now)
			if err != nil {
				return err
			}
			if !fresh {
				continue
			}
			if err := applyRecord(tx, tenantID, records[i]); err != nil {
				return err
			}
			applied = append(applied, it.RecordID)
		}
		return nil
	})
	if err != nil {
		var be *BatchError
		if errors.As(err, &be) {
			return 0, nil, err
		}
		logging.LogError(l.logger, "cloud", "ApplyBatch", "apply batch", logrus.Fields{"tenant_id": tenantID, "items": len(items)}, err)
		return 0, nil, &BatchError{Code: syncwire.CodeInternal, Message: "batch could not be applied", Err: err}
	}

	l.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"items":     len(items),
		"applied":   len(applied),
	}).Info("sync batch applied")
	return len(items), applied, nil
}

// lockTenant takes the per-tenant redis lock when one is configured. Failing
// to get it is logged and ignored.
func (l *Ledger) lockTenant(ctx context.Context, tenantID string) func() {
	if l.locker == nil {
		return func() {}
	}
	fields := logrus.Fields{"field": "ApplyBatch", "tenant_id": tenantID}
	lock, err := l.locker.Obtain(ctx, "lock:tenant:"+tenantID, tenantLockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		l.logger.WithFields(fields).Warn("could not obtain redis lock; proceeding without redis lock")
		return func() {}
	} else if err != nil {
		l.logger.WithFields(fields).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		return func() {}
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.WithFields(fields).WithError(err).Warn("release redis lock")
		}
	}
}

// recordAudit inserts the audit row for it and reports whether it is new.
func recordAudit(tx *gorm.DB, tenantID string, it syncwire.Item, now time.Time) (bool, error) {
	row := SyncAuditLog{
		ItemID:     it.ID,
		TenantID:   tenantID,
		RecordID:   it.RecordID,
		DataType:   string(it.DataType),
		Action:     string(it.Action),
		Payload:    datatypes.JSON(it.Payload),
		CreatedAt:  it.CreatedAt,
		ReceivedAt: now,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("audit %s: %w", it.ID, res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var existing SyncAuditLog
	if err := tx.Where("item_id = ?", it.ID).First(&existing).Error; err != nil {
		return false, fmt.Errorf("audit %s: %w", it.ID, err)
	}
	if existing.TenantID != tenantID {
		return false, mismatch(it.RecordID)
	}
	return false, nil
}

func applyRecord(tx *gorm.DB, tenantID string, rec syncwire.Record) error {
	switch r := rec.(type) {
	case *syncwire.Sale:
		if err := checkOwner(tx, &RemoteSale{}, tenantID, r.ID); err != nil {
			return err
		}
		row, err := saleRow(tenantID, r)
		if err != nil {
			return err
		}
		return upsert(tx, &row, saleColumns)
	case *syncwire.Shift:
		if err := checkOwner(tx, &RemoteShift{}, tenantID, r.ID); err != nil {
			return err
		}
		row := shiftRow(tenantID, r)
		return upsert(tx, &row, shiftColumns)
	case *syncwire.CancelledOrder:
		if err := checkOwner(tx, &RemoteCancelledOrder{}, tenantID, r.ID); err != nil {
			return err
		}
		row := cancelledRow(tenantID, r)
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("insert cancelled order %s: %w", r.ID, err)
		}
		return nil
	case *syncwire.Tombstone:
		var model any
		switch r.Type {
		case domain.DataTypeSales:
			model = &RemoteSale{}
		case domain.DataTypeShifts:
			model = &RemoteShift{}
		default:
			return &BatchError{Code: syncwire.CodeInvalidItem, Message: fmt.Sprintf("cannot delete %s", r.Type)}
		}
		if err := checkOwner(tx, model, tenantID, r.ID); err != nil {
			return err
		}
		if err := tx.Where("id = ? AND tenant_id = ?", r.ID, tenantID).Delete(model).Error; err != nil {
			return fmt.Errorf("delete %s %s: %w", r.Type, r.ID, err)
		}
		return nil
	default:
		return &BatchError{Code: syncwire.CodeInvalidItem, Message: fmt.Sprintf("unsupported record %T", rec)}
	}
}

// checkOwner fails when id exists under a different tenant.
func checkOwner(tx *gorm.DB, model any, tenantID, id string) error {
	var owners []string
	if err := tx.Model(model).Where("id = ?", id).Limit(1).Pluck("tenant_id", &owners).Error; err != nil {
		return fmt.Errorf("owner of %s: %w", id, err)
	}
	if len(owners) > 0 && owners[0] != tenantID {
		return mismatch(id)
	}
	return nil
}

func mismatch(id string) error {
	return &BatchError{
		Code:    syncwire.CodeTenantMismatch,
		Message: fmt.Sprintf("record %s belongs to another tenant", id),
		Err:     ErrTenantMismatch,
	}
}

func upsert(tx *gorm.DB, row any, columns []string) error {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

var saleColumns = []string{
	"order_id", "table_id", "table_name", "shift_id", "till_id", "cashier_id",
	"check_number", "customer_id", "subtotal", "service_charge", "discount",
	"discount_kind", "payable", "tenders", "items", "settled_at", "updated_at",
}

var shiftColumns = []string{
	"till_id", "cashier_id", "opened_at", "closed_at", "opening_cash",
	"total_cash", "total_card", "total_transfer", "total_debt", "total_sales",
	"settlement_count", "closing_cash", "closing_card", "cash_variance",
	"card_variance", "updated_at",
}

func saleRow(tenantID string, s *syncwire.Sale) (RemoteSale, error) {
	tenders, err := json.Marshal(s.Tenders)
	if err != nil {
		return RemoteSale{}, fmt.Errorf("encode tenders of %s: %w", s.ID, err)
	}
	return RemoteSale{
		ID:            s.ID,
		TenantID:      tenantID,
		OrderID:       s.OrderID,
		TableID:       s.TableID,
		TableLabel:    s.TableName,
		ShiftID:       s.ShiftID,
		TillID:        s.TillID,
		CashierID:     s.CashierID,
		CheckNumber:   s.CheckNumber,
		CustomerID:    s.CustomerID,
		Subtotal:      s.Subtotal,
		ServiceCharge: s.ServiceCharge,
		Discount:      s.Discount,
		DiscountKind:  s.DiscountKind,
		Payable:       s.Payable,
		Tenders:       datatypes.JSON(tenders),
		Items:         jsonOrNull(s.Items),
		SettledAt:     s.SettledAt,
	}, nil
}

func shiftRow(tenantID string, s *syncwire.Shift) RemoteShift {
	return RemoteShift{
		ID:              s.ID,
		TenantID:        tenantID,
		TillID:          s.TillID,
		CashierID:       s.CashierID,
		OpenedAt:        s.OpenedAt,
		ClosedAt:        s.ClosedAt,
		OpeningCash:     s.OpeningCash,
		TotalCash:       s.TotalCash,
		TotalCard:       s.TotalCard,
		TotalTransfer:   s.TotalTransfer,
		TotalDebt:       s.TotalDebt,
		TotalSales:      s.TotalSales,
		SettlementCount: s.SettlementCount,
		ClosingCash:     s.ClosingCash,
		ClosingCard:     s.ClosingCard,
		CashVariance:    s.CashVariance,
		CardVariance:    s.CardVariance,
	}
}

func cancelledRow(tenantID string, c *syncwire.CancelledOrder) RemoteCancelledOrder {
	return RemoteCancelledOrder{
		ID:          c.ID,
		TenantID:    tenantID,
		OrderID:     c.OrderID,
		TableID:     c.TableID,
		TableLabel:  c.TableName,
		TillID:      c.TillID,
		CashierID:   c.CashierID,
		Reason:      c.Reason,
		Items:       jsonOrNull(c.Items),
		Total:       c.Total,
		CancelledAt: c.CancelledAt,
	}
}

func jsonOrNull(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(raw)
}

// Summary is the back-office view of one tenant.
type Summary struct {
	TenantID        string     `json:"tenant_id"`
	Sales           int64      `json:"sales"`
	SalesTotal      int64      `json:"sales_total"`
	Shifts          int64      `json:"shifts"`
	OpenShifts      int64      `json:"open_shifts"`
	CancelledOrders int64      `json:"cancelled_orders"`
	LastReceivedAt  *time.Time `json:"last_received_at,omitempty"`
}

// Summary counts what the ledger holds for tenantID.
func (l *Ledger) Summary(ctx context.Context, tenantID string) (Summary, error) {
	s := Summary{TenantID: tenantID}
	db := l.db.WithContext(ctx)

	if err := db.Model(&RemoteSale{}).Where("tenant_id = ?", tenantID).Count(&s.Sales).Error; err != nil {
		return Summary{}, fmt.Errorf("count sales: %w", err)
	}
	if err := db.Model(&RemoteSale{}).Where("tenant_id = ?", tenantID).
		Select("COALESCE(SUM(payable), 0)").Scan(&s.SalesTotal).Error; err != nil {
		return Summary{}, fmt.Errorf("sum sales: %w", err)
	}
	if err := db.Model(&RemoteShift{}).Where("tenant_id = ?", tenantID).Count(&s.Shifts).Error; err != nil {
		return Summary{}, fmt.Errorf("count shifts: %w", err)
	}
	if err := db.Model(&RemoteShift{}).Where("tenant_id = ? AND closed_at IS NULL", tenantID).Count(&s.OpenShifts).Error; err != nil {
		return Summary{}, fmt.Errorf("count open shifts: %w", err)
	}
	if err := db.Model(&RemoteCancelledOrder{}).Where("tenant_id = ?", tenantID).Count(&s.CancelledOrders).Error; err != nil {
		return Summary{}, fmt.Errorf("count cancelled orders: %w", err)
	}

	var last []SyncAuditLog
	if err := db.Where("tenant_id = ?", tenantID).Order("received_at DESC").Limit(1).Find(&last).Error; err != nil {
		return Summary{}, fmt.Errorf("last received: %w", err)
	}
	if len(last) > 0 {
		at := last[0].ReceivedAt
		s.LastReceivedAt = &at
	}
	return s, nil
}
