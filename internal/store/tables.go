package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/tillpos/internal/domain"
)

const tableColumns = `t.id, t.hall_id, t.name, t.status, t.order_id, t.version`

func scanTable(row rowScanner) (domain.Table, error) {
	var (
		t       domain.Table
		orderID sql.NullString
	)
	if err := row.Scan(&t.ID, &t.HallID, &t.Name, &t.Status, &orderID, &t.Version); err != nil {
		return domain.Table{}, err
	}
	t.OrderID = orderID.String
	return t, nil
}

// orderTotals sums open order lines per order in exact decimal.
func (q queries) orderTotals(ctx context.Context) (map[string]int64, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT order_id, unit_price, qty FROM order_items`)
	if err != nil {
		return nil, fmt.Errorf("query order totals: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			orderID string
			price   int64
			qty     decimal.Decimal
		)
		if err := rows.Scan(&orderID, &price, &qty); err != nil {
			return nil, fmt.Errorf("scan order total: %w", err)
		}
		sums[orderID] = sums[orderID].Add(decimal.NewFromInt(price).Mul(qty))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order totals: %w", err)
	}

	totals := make(map[string]int64, len(sums))
	for id, sum := range sums {
		totals[id] = domain.RoundMoney(sum)
	}
	return totals, nil
}

// Table returns a table by ID with its running total.
func (q queries) Table(ctx context.Context, id string) (domain.Table, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+tableColumns+` FROM tables t WHERE t.id = ?`, id)
	t, err := scanTable(row)
	if err != nil {
		return domain.Table{}, notFound(err, "table", id)
	}
	if t.OrderID != "" {
		items, err := q.OrderItems(ctx, t.OrderID)
		if err != nil {
			return domain.Table{}, err
		}
		t.Total = domain.Order{Items: items}.Total()
	}
	return t, nil
}

// Tables returns every table ordered by hall then name.
func (q queries) Tables(ctx context.Context) ([]domain.Table, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+tableColumns+`
		FROM tables t
		ORDER BY t.hall_id ASC, t.name ASC, t.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	tables := []domain.Table{}
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	rows.Close()

	totals, err := q.orderTotals(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tables {
		tables[i].Total = totals[tables[i].OrderID]
	}
	return tables, nil
}

// UpsertTable creates a table or renames an existing one. Status and the
// order reference are left alone; only the state machine moves those.
func (q queries) UpsertTable(ctx context.Context, t domain.Table) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO tables (id, hall_id, name, status, version)
		VALUES (?, ?, ?, 'free', 0)
		ON CONFLICT(id) DO UPDATE SET hall_id = excluded.hall_id, name = excluded.name
	`, t.ID, t.HallID, domain.NormalizeName(t.Name))
	if err != nil {
		return fmt.Errorf("upsert table: %w", err)
	}
	return nil
}

// SetTableState moves a table to status with the given order reference,
// provided its version still equals version. Returns ErrStaleVersion when a
// concurrent writer got there first.
func (q queries) SetTableState(ctx context.Context, id string, status domain.TableStatus, orderID string, version int64) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE tables
		SET status = ?, order_id = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, string(status), nullString(orderID), id, version)
	if err != nil {
		return fmt.Errorf("set table state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set table state: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("table %q at version %d: %w", id, version, ErrStaleVersion)
	}
	return nil
}
