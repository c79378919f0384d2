package store

import (
	"context"
	"fmt"

	"github.com/roach88/tillpos/internal/domain"
)

// Product looks up a catalog entry.
func (q queries) Product(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := q.q.QueryRowContext(ctx, `
		SELECT id, name, price, unit, destination FROM products WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Unit, &p.Destination)
	if err != nil {
		return domain.Product{}, notFound(err, "product", id)
	}
	return p, nil
}

// UpsertProduct creates or replaces a catalog entry. Existing order lines
// keep the price they were added at.
func (q queries) UpsertProduct(ctx context.Context, p domain.Product) error {
	unit := p.Unit
	if unit == "" {
		unit = domain.UnitPiece
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO products (id, name, price, unit, destination)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			unit = excluded.unit,
			destination = excluded.destination
	`, p.ID, domain.NormalizeName(p.Name), p.Price, string(unit), p.Destination)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// Customer looks up a loyalty record.
func (q queries) Customer(ctx context.Context, id string) (domain.Customer, error) {
	var c domain.Customer
	err := q.q.QueryRowContext(ctx, `
		SELECT id, name, type, discount_percent, balance, debt FROM customers WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.Type, &c.DiscountPercent, &c.Balance, &c.Debt)
	if err != nil {
		return domain.Customer{}, notFound(err, "customer", id)
	}
	return c, nil
}

// UpsertCustomer creates or replaces a loyalty record.
func (q queries) UpsertCustomer(ctx context.Context, c domain.Customer) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO customers (id, name, type, discount_percent, balance, debt)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			discount_percent = excluded.discount_percent,
			balance = excluded.balance,
			debt = excluded.debt
	`, c.ID, domain.NormalizeName(c.Name), string(c.Type), c.DiscountPercent.String(), c.Balance, c.Debt)
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

// AdjustCustomer applies a settlement's loyalty effects: the redeemed bonus
// is subtracted from the balance and new debt added to the outstanding debt.
// The balance never goes negative; a redemption larger than the stored
// balance fails instead.
func (q queries) AdjustCustomer(ctx context.Context, id string, bonusUsed, debtAdded int64) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE customers
		SET balance = balance - ?, debt = debt + ?
		WHERE id = ? AND balance >= ?
	`, bonusUsed, debtAdded, id, bonusUsed)
	if err != nil {
		return fmt.Errorf("adjust customer: %w", err)
	}
	return expectOne(res, "customer with sufficient balance", id)
}
