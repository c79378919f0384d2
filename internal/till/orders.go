package till

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/notify"
	"github.com/roach88/tillpos/internal/reconcile"
	"github.com/roach88/tillpos/internal/store"
	"github.com/roach88/tillpos/internal/syncwire"
)

// AddItem adds qty of a product to the table's open order, allocating the
// order if the table has none. A free or reserved table becomes occupied; a
// table in payment reopens to occupied, since its printed check is now stale.
func (s *Service) AddItem(ctx context.Context, sess Session, tableID, productID string, qty decimal.Decimal) (domain.OrderItem, error) {
	if !qty.IsPositive() {
		return domain.OrderItem{}, domain.Errorf(domain.CodeInvalidQuantity, "quantity must be positive, got %s", qty)
	}

	var item domain.OrderItem
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := loadTable(ctx, tx, tableID)
		if err != nil {
			return err
		}
		p, err := lookupProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if p.Unit == domain.UnitPiece && !qty.Equal(qty.Truncate(0)) {
			return domain.Errorf(domain.CodeInvalidQuantity, "%s is sold per piece, got %s", p.Name, qty)
		}

		orderID := t.OrderID
		if orderID == "" {
			orderID = s.ids.NewID()
			if err := tx.InsertOrder(ctx, domain.Order{
				ID:       orderID,
				TableID:  t.ID,
				Guests:   1,
				OpenedAt: s.now(),
			}); err != nil {
				return err
			}
		}

		item = domain.OrderItem{
			ID:          s.ids.NewID(),
			OrderID:     orderID,
			ProductID:   p.ID,
			Name:        domain.NormalizeName(p.Name),
			Qty:         qty,
			UnitPrice:   p.Price,
			Destination: p.Destination,
			Returned:    decimal.Zero,
			AddedAt:     s.now(),
		}
		if err := tx.InsertOrderItem(ctx, item); err != nil {
			return err
		}
		return setTable(ctx, tx, t, domain.TableOccupied, orderID)
	})
	if err != nil {
		return domain.OrderItem{}, err
	}
	s.publish(ctx, sess, notify.TableChanged, tableID)
	return item, nil
}

// RemoveItem deletes a line outright. Removing the last line drops the order
// and frees the table.
func (s *Service) RemoveItem(ctx context.Context, sess Session, itemID string) error {
	var tableID string
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		it, err := tx.OrderItem(ctx, itemID)
		if err != nil {
			return mapNotFound(err, domain.CodeItemNotFound, "item %s", itemID)
		}
		if err := tx.DeleteOrderItem(ctx, it.ID); err != nil {
			return err
		}
		tableID, err = s.touchOrder(ctx, tx, it.OrderID)
		return err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, sess, notify.TableChanged, tableID)
	return nil
}

// ReturnItem takes back part or all of a line. The return is recorded for
// audit; a line whose remaining quantity reaches zero is deleted.
func (s *Service) ReturnItem(ctx context.Context, sess Session, itemID string, qty decimal.Decimal, reason string) (domain.ItemReturn, error) {
	if !qty.IsPositive() {
		return domain.ItemReturn{}, domain.Errorf(domain.CodeInvalidQuantity, "return quantity must be positive, got %s", qty)
	}

	var (
		ret     domain.ItemReturn
		tableID string
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		it, err := tx.OrderItem(ctx, itemID)
		if err != nil {
			return mapNotFound(err, domain.CodeItemNotFound, "item %s", itemID)
		}
		p, err := tx.Product(ctx, it.ProductID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// product left the catalog; the line keeps its own quantity
		case err != nil:
			return err
		case p.Unit == domain.UnitPiece && !qty.Equal(qty.Truncate(0)):
			return domain.Errorf(domain.CodeInvalidQuantity, "%s is sold per piece, got return of %s", it.Name, qty)
		}
		if qty.GreaterThan(it.Qty) {
			return domain.Errorf(domain.CodeOverReturn, "return of %s exceeds remaining %s of %s", qty, it.Qty, it.Name).
				WithDetail("remaining", it.Qty.String())
		}

		ret = domain.ItemReturn{
			ID:          s.ids.NewID(),
			OrderItemID: it.ID,
			OrderID:     it.OrderID,
			Qty:         qty,
			Reason:      reason,
			At:          s.now(),
		}
		if err := tx.InsertItemReturn(ctx, ret); err != nil {
			return err
		}

		remaining := it.Qty.Sub(qty)
		if remaining.IsZero() {
			err = tx.DeleteOrderItem(ctx, it.ID)
		} else {
			err = tx.UpdateOrderItemQty(ctx, it.ID, remaining, it.Returned.Add(qty))
		}
		if err != nil {
			return err
		}
		tableID, err = s.touchOrder(ctx, tx, it.OrderID)
		return err
	})
	if err != nil {
		return domain.ItemReturn{}, err
	}
	s.publish(ctx, sess, notify.TableChanged, tableID)
	return ret, nil
}

// touchOrder bumps the version of the order's table after a line changed.
// An order left without lines is dropped and its table freed. Returns the
// table ID.
func (s *Service) touchOrder(ctx context.Context, tx *store.Tx, orderID string) (string, error) {
	o, err := tx.Order(ctx, orderID)
	if err != nil {
		return "", err
	}
	t, err := tx.Table(ctx, o.TableID)
	if err != nil {
		return "", err
	}
	if len(o.Items) > 0 {
		return t.ID, setTable(ctx, tx, t, t.Status, t.OrderID)
	}
	if err := tx.DeleteOrder(ctx, o.ID); err != nil {
		return "", err
	}
	return t.ID, setTable(ctx, tx, t, domain.TableFree, "")
}

// Check is what PrintCheck hands to the printer: the order and its priced
// quote, before any tender.
type Check struct {
	Table domain.Table
	Order domain.Order
	Quote reconcile.Quote
}

// PrintCheck moves an occupied table to payment, assigns the order a check
// number if it has none, and prints the check. A printer failure is returned
// alongside the committed check; the transition stands.
func (s *Service) PrintCheck(ctx context.Context, sess Session, tableID string) (Check, error) {
	var check Check
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, o, err := loadOrder(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if o.CheckNumber == 0 {
			n, err := tx.NextCounter(ctx, checkCounter)
			if err != nil {
				return err
			}
			o.CheckNumber = n
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
		}
		if err := setTable(ctx, tx, t, domain.TablePayment, o.ID); err != nil {
			return err
		}
		t.Status = domain.TablePayment
		t.Version++

		customer, err := orderCustomer(ctx, tx, o)
		if err != nil {
			return err
		}
		q, err := s.price(o, customer, 0)
		if err != nil {
			return err
		}
		check = Check{Table: t, Order: o, Quote: q}
		return nil
	})
	if err != nil {
		return Check{}, err
	}
	s.publish(ctx, sess, notify.TableChanged, tableID)

	if s.printer != nil {
		if err := s.printer.PrintCheck(ctx, check); err != nil {
			return check, fmt.Errorf("print check %d: %w", check.Order.CheckNumber, err)
		}
	}
	return check, nil
}

// SetCustomer attaches a loyalty customer to the table's order. An empty
// customerID detaches it.
func (s *Service) SetCustomer(ctx context.Context, sess Session, tableID, customerID string) error {
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, o, err := loadOrder(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if customerID != "" {
			if _, err := tx.Customer(ctx, customerID); err != nil {
				return mapNotFound(err, domain.CodeCustomerNotFound, "customer %s", customerID)
			}
		}
		o.CustomerID = customerID
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		return setTable(ctx, tx, t, t.Status, t.OrderID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, sess, notify.TableChanged, tableID)
	return nil
}

// SetGuests records the number of guests seated at the table.
func (s *Service) SetGuests(ctx context.Context, sess Session, tableID string, guests int) error {
	if guests < 1 {
		return domain.Errorf(domain.CodeInvalidQuantity, "guests must be at least 1, got %d", guests)
	}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, o, err := loadOrder(ctx, tx, tableID)
		if err != nil {
			return err
		}
		o.Guests = guests
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		return setTable(ctx, tx, t, t.Status, t.OrderID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, sess, notify.TableChanged, tableID)
	return nil
}

// CancelOrder voids the table's order. A write-once snapshot is kept and
// queued for the cloud, the order is cleared and the table freed, all in one
// transaction.
func (s *Service) CancelOrder(ctx context.Context, sess Session, tableID, reason string) (domain.CancelledOrder, error) {
	var cancelled domain.CancelledOrder
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, o, err := loadOrder(ctx, tx, tableID)
		if err != nil {
			return err
		}
		items, err := itemsSnapshot(o.Items)
		if err != nil {
			return err
		}
		cancelled = domain.CancelledOrder{
			ID:          s.ids.NewID(),
			OrderID:     o.ID,
			TableID:     t.ID,
			TableName:   t.Name,
			TillID:      sess.TillID,
			CashierID:   sess.CashierID,
			Reason:      reason,
			Items:       items,
			Total:       o.Total(),
			CancelledAt: s.now(),
		}
		if err := tx.InsertCancelledOrder(ctx, cancelled); err != nil {
			return err
		}
		if err := s.appendOutbox(ctx, tx, syncwire.CancelledOrderFromDomain(cancelled), domain.ActionCreate); err != nil {
			return err
		}
		if err := tx.DeleteOrder(ctx, o.ID); err != nil {
			return err
		}
		return setTable(ctx, tx, t, domain.TableFree, "")
	})
	if err != nil {
		return domain.CancelledOrder{}, err
	}
	s.publish(ctx, sess, notify.OrderCancelled, cancelled.ID)
	s.publish(ctx, sess, notify.TableChanged, tableID)
	s.logger.WithFields(logrus.Fields{
		"table":  tableID,
		"order":  cancelled.OrderID,
		"total":  cancelled.Total,
		"reason": reason,
	}).Info("order cancelled")
	return cancelled, nil
}

// MoveOrder transfers the open order from one table to a free or reserved
// one. The destination takes over the source's status and the source is
// freed. Any precondition that no longer holds is reported as CONFLICT: the
// operator acted on a stale floor plan.
func (s *Service) MoveOrder(ctx context.Context, sess Session, fromID, toID string) error {
	if fromID == toID {
		return domain.Errorf(domain.CodeConflict, "cannot move table %s onto itself", fromID)
	}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		from, err := loadTable(ctx, tx, fromID)
		if err != nil {
			return err
		}
		to, err := loadTable(ctx, tx, toID)
		if err != nil {
			return err
		}
		if from.OrderID == "" {
			return domain.Errorf(domain.CodeConflict, "table %s has no order to move", from.ID)
		}
		if to.Status != domain.TableFree && to.Status != domain.TableReserved {
			return domain.Errorf(domain.CodeConflict, "destination table %s is %s", to.ID, to.Status)
		}

		o, err := tx.Order(ctx, from.OrderID)
		if err != nil {
			return err
		}
		if err := setTable(ctx, tx, from, domain.TableFree, ""); err != nil {
			return err
		}
		o.TableID = to.ID
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		return setTable(ctx, tx, to, from.Status, o.ID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, sess, notify.TableChanged, fromID, toID)
	return nil
}

// MergeOrders folds the source table's order into the destination's. Lines
// are re-parented, guests become the larger of the two counts and the
// destination keeps its customer unless it had none. The source is freed and
// the destination returns to occupied, since any printed check no longer
// covers the merged lines.
func (s *Service) MergeOrders(ctx context.Context, sess Session, fromID, toID string) error {
	if fromID == toID {
		return domain.Errorf(domain.CodeConflict, "cannot merge table %s into itself", fromID)
	}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		from, err := loadTable(ctx, tx, fromID)
		if err != nil {
			return err
		}
		to, err := loadTable(ctx, tx, toID)
		if err != nil {
			return err
		}
		if from.OrderID == "" {
			return domain.Errorf(domain.CodeConflict, "table %s has no order to merge", from.ID)
		}
		if to.OrderID == "" || (to.Status != domain.TableOccupied && to.Status != domain.TablePayment) {
			return domain.Errorf(domain.CodeConflict, "destination table %s has no open order", to.ID)
		}

		src, err := tx.Order(ctx, from.OrderID)
		if err != nil {
			return err
		}
		dst, err := tx.Order(ctx, to.OrderID)
		if err != nil {
			return err
		}
		if err := tx.ReparentOrderItems(ctx, src.ID, dst.ID); err != nil {
			return err
		}
		dst.Guests = max(dst.Guests, src.Guests)
		if dst.CustomerID == "" {
			dst.CustomerID = src.CustomerID
		}
		if err := tx.UpdateOrder(ctx, dst); err != nil {
			return err
		}
		if err := tx.DeleteOrder(ctx, src.ID); err != nil {
			return err
		}
		if err := setTable(ctx, tx, from, domain.TableFree, ""); err != nil {
			return err
		}
		return setTable(ctx, tx, to, domain.TableOccupied, dst.ID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, sess, notify.TableChanged, fromID, toID)
	return nil
}

// Reserve marks a free table as reserved.
func (s *Service) Reserve(ctx context.Context, sess Session, tableID string) error {
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := loadTable(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if t.Status != domain.TableFree {
			return domain.Errorf(domain.CodeTableNotFree, "table %s is %s", t.ID, t.Status)
		}
		return setTable(ctx, tx, t, domain.TableReserved, "")
	})
	if err != nil {
		return err
	}
	s.publish(ctx, sess, notify.TableChanged, tableID)
	return nil
}

// Unreserve releases a reservation.
func (s *Service) Unreserve(ctx context.Context, sess Session, tableID string) error {
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := loadTable(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if t.Status != domain.TableReserved {
			return domain.Errorf(domain.CodeConflict, "table %s is %s, not reserved", t.ID, t.Status)
		}
		return setTable(ctx, tx, t, domain.TableFree, "")
	})
	if err != nil {
		return err
	}
	s.publish(ctx, sess, notify.TableChanged, tableID)
	return nil
}

const checkCounter = "check"

func loadTable(ctx context.Context, tx *store.Tx, tableID string) (domain.Table, error) {
	t, err := tx.Table(ctx, tableID)
	if err != nil {
		return domain.Table{}, mapNotFound(err, domain.CodeTableNotFound, "table %s", tableID)
	}
	return t, nil
}

// loadOrder returns a table and its open order, or EMPTY_ORDER.
func loadOrder(ctx context.Context, tx *store.Tx, tableID string) (domain.Table, domain.Order, error) {
	t, err := loadTable(ctx, tx, tableID)
	if err != nil {
		return domain.Table{}, domain.Order{}, err
	}
	if t.OrderID == "" {
		return domain.Table{}, domain.Order{}, domain.Errorf(domain.CodeEmptyOrder, "table %s has no open order", t.ID)
	}
	o, err := tx.Order(ctx, t.OrderID)
	if err != nil {
		return domain.Table{}, domain.Order{}, mapNotFound(err, domain.CodeEmptyOrder, "table %s has no open order", t.ID)
	}
	if len(o.Items) == 0 {
		return domain.Table{}, domain.Order{}, domain.Errorf(domain.CodeEmptyOrder, "order on table %s has no items", t.ID)
	}
	return t, o, nil
}

// orderCustomer returns the order's customer, or nil if none is attached.
func orderCustomer(ctx context.Context, tx *store.Tx, o domain.Order) (*domain.Customer, error) {
	if o.CustomerID == "" {
		return nil, nil
	}
	c, err := tx.Customer(ctx, o.CustomerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Errorf(domain.CodeCustomerNotFound, "customer %s", o.CustomerID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// lineSnapshot is the frozen form of an order line kept on settlements and
// cancelled orders.
type lineSnapshot struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   int64           `json:"unitPrice"`
	Destination string          `json:"destination,omitempty"`
	Total       int64           `json:"total"`
}

func itemsSnapshot(items []domain.OrderItem) (json.RawMessage, error) {
	lines := make([]lineSnapshot, len(items))
	for i, it := range items {
		lines[i] = lineSnapshot{
			ProductID:   it.ProductID,
			Name:        it.Name,
			Qty:         it.Qty,
			UnitPrice:   it.UnitPrice,
			Destination: it.Destination,
			Total:       domain.RoundMoney(it.LineTotal()),
		}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("snapshot items: %w", err)
	}
	return data, nil
}
