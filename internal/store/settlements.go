package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/tillpos/internal/domain"
)

const settlementColumns = `id, order_id, table_id, table_name, shift_id, till_id, cashier_id,
	check_number, customer_id, subtotal, service_charge, discount, discount_kind, payable,
	tenders, items, settled_at`

func scanSettlement(row rowScanner) (domain.Settlement, error) {
	var (
		s         domain.Settlement
		customer  sql.NullString
		tenders   string
		items     string
		settledAt string
	)
	err := row.Scan(&s.ID, &s.OrderID, &s.TableID, &s.TableName, &s.ShiftID, &s.TillID, &s.CashierID,
		&s.CheckNumber, &customer, &s.Subtotal, &s.ServiceCharge, &s.Discount, &s.DiscountKind, &s.Payable,
		&tenders, &items, &settledAt)
	if err != nil {
		return domain.Settlement{}, err
	}
	s.CustomerID = customer.String
	if err := json.Unmarshal([]byte(tenders), &s.Tenders); err != nil {
		return domain.Settlement{}, fmt.Errorf("unmarshal tenders: %w", err)
	}
	s.Items = json.RawMessage(items)
	if s.SettledAt, err = parseTime(settledAt); err != nil {
		return domain.Settlement{}, err
	}
	return s, nil
}

// InsertSettlement appends a settlement. Settlements are never updated.
func (q queries) InsertSettlement(ctx context.Context, s domain.Settlement) error {
	tenders, err := marshalJSON(s.Tenders)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO settlements (`+settlementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.OrderID, s.TableID, s.TableName, s.ShiftID, s.TillID, s.CashierID,
		s.CheckNumber, nullString(s.CustomerID), s.Subtotal, s.ServiceCharge, s.Discount,
		string(s.DiscountKind), s.Payable, tenders, string(s.Items), formatTime(s.SettledAt))
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// Settlement returns a settlement by ID.
func (q queries) Settlement(ctx context.Context, id string) (domain.Settlement, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = ?`, id)
	s, err := scanSettlement(row)
	if err != nil {
		return domain.Settlement{}, notFound(err, "settlement", id)
	}
	return s, nil
}

// SettlementsForShift returns a shift's settlements in the order they were recorded.
func (q queries) SettlementsForShift(ctx context.Context, shiftID string) ([]domain.Settlement, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+settlementColumns+`
		FROM settlements
		WHERE shift_id = ?
		ORDER BY settled_at ASC, rowid ASC
	`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	settlements := []domain.Settlement{}
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		settlements = append(settlements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	return settlements, nil
}

// InsertCancelledOrder stores a cancellation snapshot. Write-once: a repeated
// ID is ignored.
func (q queries) InsertCancelledOrder(ctx context.Context, c domain.CancelledOrder) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO cancelled_orders
		(id, order_id, table_id, table_name, till_id, cashier_id, reason, items, total, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, c.ID, c.OrderID, c.TableID, c.TableName, c.TillID, c.CashierID, c.Reason,
		string(c.Items), c.Total, formatTime(c.CancelledAt))
	if err != nil {
		return fmt.Errorf("insert cancelled order: %w", err)
	}
	return nil
}

// CancelledOrders returns up to limit cancellations, newest first.
func (q queries) CancelledOrders(ctx context.Context, limit int) ([]domain.CancelledOrder, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, order_id, table_id, table_name, till_id, cashier_id, reason, items, total, cancelled_at
		FROM cancelled_orders
		ORDER BY cancelled_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cancelled orders: %w", err)
	}
	defer rows.Close()

	out := []domain.CancelledOrder{}
	for rows.Next() {
		var (
			c     domain.CancelledOrder
			items string
			at    string
		)
		if err := rows.Scan(&c.ID, &c.OrderID, &c.TableID, &c.TableName, &c.TillID, &c.CashierID,
			&c.Reason, &items, &c.Total, &at); err != nil {
			return nil, fmt.Errorf("scan cancelled order: %w", err)
		}
		c.Items = json.RawMessage(items)
		if c.CancelledAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cancelled orders: %w", err)
	}
	return out, nil
}
