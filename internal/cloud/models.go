package cloud

import (
	"time"

	"gorm.io/datatypes"
)

// Tenant is one restaurant account. APIKeyHash is a bcrypt hash; the key
// itself is shown once at creation and never stored.
type Tenant struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	APIKeyHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Tenant) TableName() string { return "tenants" }

// RemoteSale mirrors a till settlement. The primary key is the identifier
// minted on the till.
type RemoteSale struct {
	ID            string         `gorm:"primaryKey;size:64" json:"id"`
	TenantID      string         `gorm:"index;size:64;not null" json:"tenant_id"`
	OrderID       string         `gorm:"size:64;not null" json:"order_id"`
	TableID       string         `gorm:"size:64" json:"table_id"`
	TableLabel    string         `gorm:"column:table_name;size:255" json:"table_name"`
	ShiftID       string         `gorm:"index;size:64" json:"shift_id"`
	TillID        string         `gorm:"size:64" json:"till_id"`
	CashierID     string         `gorm:"size:64" json:"cashier_id"`
	CheckNumber   int64          `json:"check_number"`
	CustomerID    string         `gorm:"size:64" json:"customer_id,omitempty"`
	Subtotal      int64          `json:"subtotal"`
	ServiceCharge int64          `json:"service_charge"`
	Discount      int64          `json:"discount"`
	DiscountKind  string         `gorm:"size:16" json:"discount_kind"`
	Payable       int64          `json:"payable"`
	Tenders       datatypes.JSON `json:"tenders"`
	Items         datatypes.JSON `json:"items"`
	SettledAt     time.Time      `gorm:"index" json:"settled_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (RemoteSale) TableName() string { return "remote_sales" }

// RemoteShift mirrors a till shift, updated in place as the till reports
// new totals and the close-out.
type RemoteShift struct {
	ID              string     `gorm:"primaryKey;size:64" json:"id"`
	TenantID        string     `gorm:"index;size:64;not null" json:"tenant_id"`
	TillID          string     `gorm:"size:64" json:"till_id"`
	CashierID       string     `gorm:"size:64" json:"cashier_id"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	OpeningCash     int64      `json:"opening_cash"`
	TotalCash       int64      `json:"total_cash"`
	TotalCard       int64      `json:"total_card"`
	TotalTransfer   int64      `json:"total_transfer"`
	TotalDebt       int64      `json:"total_debt"`
	TotalSales      int64      `json:"total_sales"`
	SettlementCount int64      `json:"settlement_count"`
	ClosingCash     *int64     `json:"closing_cash,omitempty"`
	ClosingCard     *int64     `json:"closing_card,omitempty"`
	CashVariance    *int64     `json:"cash_variance,omitempty"`
	CardVariance    *int64     `json:"card_variance,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (RemoteShift) TableName() string { return "remote_shifts" }

// RemoteCancelledOrder is write-once.
type RemoteCancelledOrder struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	TenantID    string         `gorm:"index;size:64;not null" json:"tenant_id"`
	OrderID     string         `gorm:"size:64;not null" json:"order_id"`
	TableID     string         `gorm:"size:64" json:"table_id"`
	TableLabel  string         `gorm:"column:table_name;size:255" json:"table_name"`
	TillID      string         `gorm:"size:64" json:"till_id"`
	CashierID   string         `gorm:"size:64" json:"cashier_id"`
	Reason      string         `gorm:"size:512" json:"reason"`
	Items       datatypes.JSON `json:"items"`
	Total       int64          `json:"total"`
	CancelledAt time.Time      `json:"cancelled_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (RemoteCancelledOrder) TableName() string { return "remote_cancelled_orders" }

// SyncAuditLog records every batch item the cloud has applied, keyed by the
// item identifier the till minted. A second delivery of the same item finds
// its row and is skipped.
type SyncAuditLog struct {
	ItemID     string         `gorm:"primaryKey;size:64" json:"item_id"`
	TenantID   string         `gorm:"index;size:64;not null" json:"tenant_id"`
	RecordID   string         `gorm:"index;size:64;not null" json:"record_id"`
	DataType   string         `gorm:"size:32;not null" json:"data_type"`
	Action     string         `gorm:"size:16;not null" json:"action"`
	Payload    datatypes.JSON `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
	ReceivedAt time.Time      `gorm:"index" json:"received_at"`
}

func (SyncAuditLog) TableName() string { return "sync_audit_log" }

// Models lists every table the ledger owns, in migration order.
func Models() []any {
	return []any{&Tenant{}, &RemoteSale{}, &RemoteShift{}, &RemoteCancelledOrder{}, &SyncAuditLog{}}
}
