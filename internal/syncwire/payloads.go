package syncwire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/tillpos/internal/domain"
)

// Sale is the payload of a "sales" item: a settlement's full state.
type Sale struct {
	ID            string          `json:"id" validate:"required"`
	OrderID       string          `json:"orderId" validate:"required"`
	TableID       string          `json:"tableId" validate:"required"`
	TableName     string          `json:"tableName"`
	ShiftID       string          `json:"shiftId" validate:"required"`
	TillID        string          `json:"tillId" validate:"required"`
	CashierID     string          `json:"cashierId"`
	CheckNumber   int64           `json:"checkNumber" validate:"gte=0"`
	CustomerID    string          `json:"customerId,omitempty"`
	Subtotal      int64           `json:"subtotal" validate:"gte=0"`
	ServiceCharge int64           `json:"serviceCharge" validate:"gte=0"`
	Discount      int64           `json:"discount" validate:"gte=0"`
	DiscountKind  string          `json:"discountKind" validate:"oneof=none discount cashback"`
	Payable       int64           `json:"payable" validate:"gte=0"`
	Tenders       []Tender        `json:"tenders" validate:"dive"`
	Items         json.RawMessage `json:"items"`
	SettledAt     time.Time       `json:"settledAt" validate:"required"`
}

// Tender is one instrument/amount pair of a sale.
type Tender struct {
	Instrument string     `json:"instrument" validate:"oneof=cash card transfer debt"`
	Amount     int64      `json:"amount" validate:"gte=0"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
}

// Shift is the payload of a "shifts" item.
type Shift struct {
	ID              string     `json:"id" validate:"required"`
	TillID          string     `json:"tillId" validate:"required"`
	CashierID       string     `json:"cashierId" validate:"required"`
	OpenedAt        time.Time  `json:"openedAt" validate:"required"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
	OpeningCash     int64      `json:"openingCash" validate:"gte=0"`
	TotalCash       int64      `json:"totalCash" validate:"gte=0"`
	TotalCard       int64      `json:"totalCard" validate:"gte=0"`
	TotalTransfer   int64      `json:"totalTransfer" validate:"gte=0"`
	TotalDebt       int64      `json:"totalDebt" validate:"gte=0"`
	TotalSales      int64      `json:"totalSales" validate:"gte=0"`
	SettlementCount int64      `json:"settlementCount" validate:"gte=0"`
	ClosingCash     *int64     `json:"closingCash,omitempty"`
	ClosingCard     *int64     `json:"closingCard,omitempty"`
	CashVariance    *int64     `json:"cashVariance,omitempty"`
	CardVariance    *int64     `json:"cardVariance,omitempty"`
}

// CancelledOrder is the payload of a "cancelled_orders" item.
type CancelledOrder struct {
	ID          string          `json:"id" validate:"required"`
	OrderID     string          `json:"orderId" validate:"required"`
	TableID     string          `json:"tableId" validate:"required"`
	TableName   string          `json:"tableName"`
	TillID      string          `json:"tillId" validate:"required"`
	CashierID   string          `json:"cashierId"`
	Reason      string          `json:"reason"`
	Items       json.RawMessage `json:"items"`
	Total       int64           `json:"total" validate:"gte=0"`
	CancelledAt time.Time       `json:"cancelledAt" validate:"required"`
}

// Tombstone is the payload of a delete.
type Tombstone struct {
	ID   string          `json:"id" validate:"required"`
	Type domain.DataType `json:"-"`
}

func (s *Sale) RecordID() string                    { return s.ID }
func (s *Sale) DataType() domain.DataType           { return domain.DataTypeSales }
func (*Sale) isRecord()                             {}
func (s *Shift) RecordID() string                   { return s.ID }
func (s *Shift) DataType() domain.DataType          { return domain.DataTypeShifts }
func (*Shift) isRecord()                            {}
func (c *CancelledOrder) RecordID() string          { return c.ID }
func (c *CancelledOrder) DataType() domain.DataType { return domain.DataTypeCancelledOrders }
func (*CancelledOrder) isRecord()                   {}
func (t *Tombstone) RecordID() string               { return t.ID }
func (t *Tombstone) DataType() domain.DataType      { return t.Type }
func (*Tombstone) isRecord()                        {}

// balanced re-checks the settlement invariant on the cloud side of the wire.
func (s *Sale) balanced() error {
	if s.Subtotal+s.ServiceCharge-s.Discount != s.Payable {
		return fmt.Errorf("sale %s: subtotal %d + service %d - discount %d != payable %d",
			s.ID, s.Subtotal, s.ServiceCharge, s.Discount, s.Payable)
	}
	var sum int64
	for _, t := range s.Tenders {
		if t.Instrument == string(domain.InstrumentDebt) && (t.DueDate == nil || s.CustomerID == "") {
			return fmt.Errorf("sale %s: debt tender without customer or due date", s.ID)
		}
		sum += t.Amount
	}
	if sum != s.Payable {
		return fmt.Errorf("sale %s: tenders sum to %d, payable %d", s.ID, sum, s.Payable)
	}
	return nil
}

// SaleFromSettlement builds the sales payload of a settlement.
func SaleFromSettlement(st domain.Settlement) *Sale {
	tenders := make([]Tender, len(st.Tenders))
	for i, t := range st.Tenders {
		tenders[i] = Tender{Instrument: string(t.Instrument), Amount: t.Amount, DueDate: t.DueDate}
	}
	return &Sale{
		ID:            st.ID,
		OrderID:       st.OrderID,
		TableID:       st.TableID,
		TableName:     st.TableName,
		ShiftID:       st.ShiftID,
		TillID:        st.TillID,
		CashierID:     st.CashierID,
		CheckNumber:   st.CheckNumber,
		CustomerID:    st.CustomerID,
		Subtotal:      st.Subtotal,
		ServiceCharge: st.ServiceCharge,
		Discount:      st.Discount,
		DiscountKind:  string(st.DiscountKind),
		Payable:       st.Payable,
		Tenders:       tenders,
		Items:         st.Items,
		SettledAt:     st.SettledAt,
	}
}

// ShiftFromDomain builds the shifts payload of a shift.
func ShiftFromDomain(s domain.Shift) *Shift {
	return &Shift{
		ID:              s.ID,
		TillID:          s.TillID,
		CashierID:       s.CashierID,
		OpenedAt:        s.OpenedAt,
		ClosedAt:        s.ClosedAt,
		OpeningCash:     s.OpeningCash,
		TotalCash:       s.Totals.Cash,
		TotalCard:       s.Totals.Card,
		TotalTransfer:   s.Totals.Transfer,
		TotalDebt:       s.Totals.Debt,
		TotalSales:      s.TotalSales,
		SettlementCount: s.SettlementCount,
		ClosingCash:     s.ClosingCash,
		ClosingCard:     s.ClosingCard,
		CashVariance:    s.CashVariance,
		CardVariance:    s.CardVariance,
	}
}

// CancelledOrderFromDomain builds the cancelled_orders payload.
func CancelledOrderFromDomain(c domain.CancelledOrder) *CancelledOrder {
	return &CancelledOrder{
		ID:          c.ID,
		OrderID:     c.OrderID,
		TableID:     c.TableID,
		TableName:   c.TableName,
		TillID:      c.TillID,
		CashierID:   c.CashierID,
		Reason:      c.Reason,
		Items:       c.Items,
		Total:       c.Total,
		CancelledAt: c.CancelledAt,
	}
}
