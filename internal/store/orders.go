package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/tillpos/internal/domain"
)

const orderColumns = `id, table_id, customer_id, guests, check_number, opened_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o        domain.Order
		customer sql.NullString
		check    sql.NullInt64
		openedAt string
	)
	if err := row.Scan(&o.ID, &o.TableID, &customer, &o.Guests, &check, &openedAt); err != nil {
		return domain.Order{}, err
	}
	o.CustomerID = customer.String
	o.CheckNumber = check.Int64
	t, err := parseTime(openedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.OpenedAt = t
	return o, nil
}

// OrderForTable returns the open order on a table with its lines.
func (q queries) OrderForTable(ctx context.Context, tableID string) (domain.Order, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE table_id = ?`, tableID)
	o, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, notFound(err, "order for table", tableID)
	}
	o.Items, err = q.OrderItems(ctx, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// Order returns an order by ID with its lines.
func (q queries) Order(ctx context.Context, id string) (domain.Order, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, notFound(err, "order", id)
	}
	o.Items, err = q.OrderItems(ctx, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// InsertOrder creates the order row. Items are inserted separately.
// A second order for the same table fails the UNIQUE(table_id) constraint.
func (q queries) InsertOrder(ctx context.Context, o domain.Order) error {
	var check sql.NullInt64
	if o.CheckNumber > 0 {
		check = sql.NullInt64{Int64: o.CheckNumber, Valid: true}
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO orders (id, table_id, customer_id, guests, check_number, opened_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.ID, o.TableID, nullString(o.CustomerID), o.Guests, check, formatTime(o.OpenedAt))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrder rewrites the order header (table, customer, guests, check number).
func (q queries) UpdateOrder(ctx context.Context, o domain.Order) error {
	var check sql.NullInt64
	if o.CheckNumber > 0 {
		check = sql.NullInt64{Int64: o.CheckNumber, Valid: true}
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE orders
		SET table_id = ?, customer_id = ?, guests = ?, check_number = ?
		WHERE id = ?
	`, o.TableID, nullString(o.CustomerID), o.Guests, check, o.ID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return expectOne(res, "order", o.ID)
}

// DeleteOrder removes an order and, by cascade, its lines.
func (q queries) DeleteOrder(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return expectOne(res, "order", id)
}

const itemColumns = `id, order_id, product_id, name, qty, unit_price, destination, returned, added_at`

func scanItem(row rowScanner) (domain.OrderItem, error) {
	var (
		it      domain.OrderItem
		addedAt string
	)
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.Qty,
		&it.UnitPrice, &it.Destination, &it.Returned, &addedAt)
	if err != nil {
		return domain.OrderItem{}, err
	}
	t, err := parseTime(addedAt)
	if err != nil {
		return domain.OrderItem{}, err
	}
	it.AddedAt = t
	return it, nil
}

// OrderItems returns an order's lines in the order they were added.
func (q queries) OrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM order_items
		WHERE order_id = ?
		ORDER BY added_at ASC, rowid ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := []domain.OrderItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

// OrderItem returns a single line.
func (q queries) OrderItem(ctx context.Context, id string) (domain.OrderItem, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM order_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err != nil {
		return domain.OrderItem{}, notFound(err, "order item", id)
	}
	return it, nil
}

// InsertOrderItem appends a line to an order.
func (q queries) InsertOrderItem(ctx context.Context, it domain.OrderItem) error {
	returned := it.Returned
	if returned.IsZero() {
		returned = decimal.Zero
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO order_items (id, order_id, product_id, name, qty, unit_price, destination, returned, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, it.ID, it.OrderID, it.ProductID, it.Name, it.Qty.String(), it.UnitPrice,
		it.Destination, returned.String(), formatTime(it.AddedAt))
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

// UpdateOrderItemQty sets a line's remaining and returned quantities.
func (q queries) UpdateOrderItemQty(ctx context.Context, id string, qty, returned decimal.Decimal) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE order_items SET qty = ?, returned = ? WHERE id = ?
	`, qty.String(), returned.String(), id)
	if err != nil {
		return fmt.Errorf("update order item: %w", err)
	}
	return expectOne(res, "order item", id)
}

// DeleteOrderItem removes a line.
func (q queries) DeleteOrderItem(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM order_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete order item: %w", err)
	}
	return expectOne(res, "order item", id)
}

// ReparentOrderItems moves every line of one order onto another.
func (q queries) ReparentOrderItems(ctx context.Context, fromOrderID, toOrderID string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE order_items SET order_id = ? WHERE order_id = ?
	`, toOrderID, fromOrderID)
	if err != nil {
		return fmt.Errorf("reparent order items: %w", err)
	}
	return nil
}

// InsertItemReturn records a returned quantity for audit.
func (q queries) InsertItemReturn(ctx context.Context, r domain.ItemReturn) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO item_returns (id, order_item_id, order_id, qty, reason, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.OrderItemID, r.OrderID, r.Qty.String(), r.Reason, formatTime(r.At))
	if err != nil {
		return fmt.Errorf("insert item return: %w", err)
	}
	return nil
}

// ItemReturns lists the returns recorded against an order, oldest first.
func (q queries) ItemReturns(ctx context.Context, orderID string) ([]domain.ItemReturn, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, order_item_id, order_id, qty, reason, at
		FROM item_returns
		WHERE order_id = ?
		ORDER BY at ASC, rowid ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query item returns: %w", err)
	}
	defer rows.Close()

	returns := []domain.ItemReturn{}
	for rows.Next() {
		var (
			r  domain.ItemReturn
			at string
		)
		if err := rows.Scan(&r.ID, &r.OrderItemID, &r.OrderID, &r.Qty, &r.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan item return: %w", err)
		}
		if r.At, err = parseTime(at); err != nil {
			return nil, err
		}
		returns = append(returns, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item returns: %w", err)
	}
	return returns, nil
}

// NextCounter increments a named counter and returns its new value.
func (q queries) NextCounter(ctx context.Context, name string) (int64, error) {
	var n int64
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next counter %s: %w", name, err)
	}
	return n, nil
}

func expectOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %q: rows affected: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
	}
	return nil
}
