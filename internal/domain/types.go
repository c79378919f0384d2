package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TableStatus is the lifecycle state of a physical table.
type TableStatus string

const (
	TableFree     TableStatus = "free"
	TableOccupied TableStatus = "occupied"
	TablePayment  TableStatus = "payment"
	TableReserved TableStatus = "reserved"
)

// Instrument is a payment instrument a tender is made with.
type Instrument string

const (
	InstrumentCash     Instrument = "cash"
	InstrumentCard     Instrument = "card"
	InstrumentTransfer Instrument = "transfer"
	InstrumentDebt     Instrument = "debt"
)

// Instruments lists every instrument in reporting order.
var Instruments = []Instrument{InstrumentCash, InstrumentCard, InstrumentTransfer, InstrumentDebt}

// Valid reports whether i is a known instrument.
func (i Instrument) Valid() bool {
	switch i {
	case InstrumentCash, InstrumentCard, InstrumentTransfer, InstrumentDebt:
		return true
	}
	return false
}

// CustomerType selects how a customer's loyalty benefit is applied.
type CustomerType string

const (
	CustomerDiscount CustomerType = "discount"
	CustomerCashback CustomerType = "cashback"
)

// DiscountKind records which benefit produced a settlement's discount.
type DiscountKind string

const (
	DiscountNone     DiscountKind = "none"
	DiscountPercent  DiscountKind = "discount"
	DiscountCashback DiscountKind = "cashback"
)

// UnitType tells whether a product is sold per piece or by weight.
type UnitType string

const (
	UnitPiece  UnitType = "piece"
	UnitWeight UnitType = "weight"
)

// Table is a physical seating unit.
// Status is mutated only by the order state machine; Version increments on
// every mutation and guards concurrent move/merge from several tills.
type Table struct {
	ID      string      `json:"id"`
	HallID  string      `json:"hall_id"`
	Name    string      `json:"name"`
	Status  TableStatus `json:"status"`
	OrderID string      `json:"order_id,omitempty"`
	Version int64       `json:"version"`

	// Total is derived from the open order, zero when free.
	Total int64 `json:"total"`
}

// Product is the catalog view the state machine snapshots from.
type Product struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Price       int64    `json:"price" yaml:"price"`
	Unit        UnitType `json:"unit" yaml:"unit"`
	Destination string   `json:"destination" yaml:"destination"`
}

// Customer is a loyalty record. Balance is the cashback bonus available for
// redemption, Debt the outstanding amount owed through debt tenders.
type Customer struct {
	ID              string          `json:"id" yaml:"id"`
	Name            string          `json:"name" yaml:"name"`
	Type            CustomerType    `json:"type" yaml:"type"`
	DiscountPercent decimal.Decimal `json:"discount_percent" yaml:"discount_percent"`
	Balance         int64           `json:"balance" yaml:"balance"`
	Debt            int64           `json:"debt" yaml:"debt"`
}

// OrderItem is one line of an open order. UnitPrice is the catalog price at
// the moment the line was added.
type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   int64           `json:"unit_price"`
	Destination string          `json:"destination"`
	Returned    decimal.Decimal `json:"returned"`
	AddedAt     time.Time       `json:"added_at"`
}

// LineTotal is UnitPrice × Qty before rounding.
func (it OrderItem) LineTotal() decimal.Decimal {
	return decimal.NewFromInt(it.UnitPrice).Mul(it.Qty)
}

// Order is a table's active tab.
type Order struct {
	ID          string      `json:"id"`
	TableID     string      `json:"table_id"`
	CustomerID  string      `json:"customer_id,omitempty"`
	Guests      int         `json:"guests"`
	CheckNumber int64       `json:"check_number,omitempty"`
	OpenedAt    time.Time   `json:"opened_at"`
	Items       []OrderItem `json:"items"`
}

// Total is the rounded sum of all line totals.
func (o Order) Total() int64 {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.LineTotal())
	}
	return RoundMoney(sum)
}

// ItemReturn is the audit record of a partial or full return of a line.
type ItemReturn struct {
	ID          string          `json:"id"`
	OrderItemID string          `json:"order_item_id"`
	OrderID     string          `json:"order_id"`
	Qty         decimal.Decimal `json:"qty"`
	Reason      string          `json:"reason"`
	At          time.Time       `json:"at"`
}

// Tender is one instrument/amount pair contributing to a settlement.
type Tender struct {
	Instrument Instrument `json:"instrument"`
	Amount     int64      `json:"amount"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

// Settlement is the immutable record of a paid order.
// Invariant: sum(Tenders.Amount) == Subtotal + ServiceCharge - Discount == Payable.
type Settlement struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	TableID       string          `json:"table_id"`
	TableName     string          `json:"table_name"`
	ShiftID       string          `json:"shift_id"`
	TillID        string          `json:"till_id"`
	CashierID     string          `json:"cashier_id"`
	CheckNumber   int64           `json:"check_number"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Subtotal      int64           `json:"subtotal"`
	ServiceCharge int64           `json:"service_charge"`
	Discount      int64           `json:"discount"`
	DiscountKind  DiscountKind    `json:"discount_kind"`
	Payable       int64           `json:"payable"`
	Tenders       []Tender        `json:"tenders"`
	Items         json.RawMessage `json:"items"`
	SettledAt     time.Time       `json:"settled_at"`
}

// TenderTotal sums the tender amounts.
func (s Settlement) TenderTotal() int64 {
	var sum int64
	for _, t := range s.Tenders {
		sum += t.Amount
	}
	return sum
}

// AmountFor sums the tenders made with instrument i.
func (s Settlement) AmountFor(i Instrument) int64 {
	var sum int64
	for _, t := range s.Tenders {
		if t.Instrument == i {
			sum += t.Amount
		}
	}
	return sum
}

// ShiftTotals are the per-instrument accumulators of a shift.
type ShiftTotals struct {
	Cash     int64 `json:"cash"`
	Card     int64 `json:"card"`
	Transfer int64 `json:"transfer"`
	Debt     int64 `json:"debt"`
}

// Add returns t incremented by amount on instrument i.
func (t ShiftTotals) Add(i Instrument, amount int64) ShiftTotals {
	switch i {
	case InstrumentCash:
		t.Cash += amount
	case InstrumentCard:
		t.Card += amount
	case InstrumentTransfer:
		t.Transfer += amount
	case InstrumentDebt:
		t.Debt += amount
	}
	return t
}

// Get returns the accumulated amount for instrument i.
func (t ShiftTotals) Get(i Instrument) int64 {
	switch i {
	case InstrumentCash:
		return t.Cash
	case InstrumentCard:
		return t.Card
	case InstrumentTransfer:
		return t.Transfer
	case InstrumentDebt:
		return t.Debt
	}
	return 0
}

// Sum is the total across instruments.
func (t ShiftTotals) Sum() int64 {
	return t.Cash + t.Card + t.Transfer + t.Debt
}

// Shift is a cashier session bracketing a drawer's transactions.
// ClosedAt is nil while the shift is open.
type Shift struct {
	ID              string      `json:"id"`
	TillID          string      `json:"till_id"`
	CashierID       string      `json:"cashier_id"`
	OpenedAt        time.Time   `json:"opened_at"`
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`
	OpeningCash     int64       `json:"opening_cash"`
	Totals          ShiftTotals `json:"totals"`
	TotalSales      int64       `json:"total_sales"`
	SettlementCount int64       `json:"settlement_count"`
	ClosingCash     *int64      `json:"closing_cash,omitempty"`
	ClosingCard     *int64      `json:"closing_card,omitempty"`
	CashVariance    *int64      `json:"cash_variance,omitempty"`
	CardVariance    *int64      `json:"card_variance,omitempty"`
}

// Open reports whether the shift has not been closed.
func (s Shift) Open() bool {
	return s.ClosedAt == nil
}

// ExpectedCash is the drawer content the ledger expects at close.
func (s Shift) ExpectedCash() int64 {
	return s.OpeningCash + s.Totals.Cash
}

// DrawerVariance compares the counted drawer with ExpectedCash, float
// included. Nil until the shift is closed.
func (s Shift) DrawerVariance() *int64 {
	if s.ClosingCash == nil {
		return nil
	}
	v := *s.ClosingCash - s.ExpectedCash()
	return &v
}

// CancelledOrder is the write-once snapshot of a voided order.
type CancelledOrder struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	TableID     string          `json:"table_id"`
	TableName   string          `json:"table_name"`
	TillID      string          `json:"till_id"`
	CashierID   string          `json:"cashier_id"`
	Reason      string          `json:"reason"`
	Items       json.RawMessage `json:"items"`
	Total       int64           `json:"total"`
	CancelledAt time.Time       `json:"cancelled_at"`
}

// DataType tags the record type a sync log entry carries.
type DataType string

const (
	DataTypeSales           DataType = "sales"
	DataTypeShifts          DataType = "shifts"
	DataTypeCancelledOrders DataType = "cancelled_orders"
)

// Action is the mutation a sync log entry describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// SyncLogEntry is an append-only outbox record destined for the cloud.
// Only SentAt is ever written after insertion.
type SyncLogEntry struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	RecordID  string          `json:"record_id"`
	DataType  DataType        `json:"data_type"`
	Action    Action          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// RoundMoney rounds a decimal amount half-up to the smallest currency unit.
// Every amount in this system is non-negative, so decimal's half-away-from-zero
// rounding is half-up.
func RoundMoney(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
