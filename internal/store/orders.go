package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCheckout returns a checkout attempt by its idempotency key.
// Returns ErrCheckoutNotFound if no row exists.
func (s *Store) GetCheckout(ctx context.Context, checkoutID string) (Checkout, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, order_type, payment_method, status, order_id, created_at, updated_at
		FROM checkouts
		WHERE id = ?
	`, checkoutID)

	var c Checkout
	var orderID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.SessionID, &c.OrderType, &c.PaymentMethod, &c.Status, &orderID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkout{}, ErrCheckoutNotFound
		}
		return Checkout{}, fmt.Errorf("read checkout: %w", err)
	}

	c.OrderID = orderID.String

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Checkout{}, fmt.Errorf("read checkout: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Checkout{}, fmt.Errorf("read checkout: %w", err)
	}

	return c, nil
}

// MarkCheckout updates a checkout's state machine status.
// Returns ErrCheckoutNotFound if the checkout does not exist.
func (s *Store) MarkCheckout(ctx context.Context, checkoutID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkouts SET status = ?, updated_at = ? WHERE id = ?
	`, status, formatTime(time.Now()), checkoutID)
	if err != nil {
		return fmt.Errorf("mark checkout: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark checkout: rows affected: %w", err)
	}
	if n == 0 {
		return ErrCheckoutNotFound
	}

	return nil
}

// GetOrder returns a permanent order with its lines.
// Returns ErrOrderNotFound if no row exists.
func (s *Store) GetOrder(ctx context.Context, orderID string) (Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, checkout_id, session_id, order_type, payment_method, total, placed_at
		FROM orders
		WHERE id = ?
	`, orderID)
	return s.scanOrderWithLines(ctx, row)
}

// GetOrderByCheckoutID returns the order created for a checkout id, if
// any. This is the idempotency lookup: a retried promotion finds the
// already-created order here instead of creating a second one (CP-3).
func (s *Store) GetOrderByCheckoutID(ctx context.Context, checkoutID string) (Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, checkout_id, session_id, order_type, payment_method, total, placed_at
		FROM orders
		WHERE checkout_id = ?
	`, checkoutID)
	return s.scanOrderWithLines(ctx, row)
}

// CountOrders returns the total number of permanent orders.
// Used by tests and the sweep report.
func (s *Store) CountOrders(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// PromoteCart executes the HOT to COLD promotion as one transaction:
// re-read the active cart, create the permanent order and one order line
// per active cart line (name/qty/price copied verbatim), deactivate the
// cart lines, advance the session to completed, mark the checkout
// completed, and append the order-placed event. Any failure rolls the
// whole transaction back, leaving the cart exactly as it was.
//
// Idempotent per checkout id: if an order already exists for the
// checkout, that order is returned and nothing is written (CP-3).
//
// Returns ErrCheckoutNotFound for an unknown checkout id and ErrEmptyCart
// when the cart has no active lines at promotion time.
func (s *Store) PromoteCart(ctx context.Context, checkoutID, orderID string) (Order, error) {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, fmt.Errorf("promote cart: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	chk, err := readCheckoutTx(ctx, tx, checkoutID)
	if err != nil {
		return Order{}, err
	}

	// Idempotency check inside the transaction: a prior attempt that
	// committed but whose result was lost must not create a second order.
	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM orders WHERE checkout_id = ?
	`, checkoutID).Scan(&existingID)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return Order{}, fmt.Errorf("promote cart: commit (existing): %w", err)
		}
		return s.GetOrder(ctx, existingID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Order{}, fmt.Errorf("promote cart: check existing: %w", err)
	}

	cart, err := readCartTx(ctx, tx, chk.SessionID)
	if err != nil {
		return Order{}, fmt.Errorf("promote cart: %w", err)
	}
	if len(cart.Lines) == 0 {
		return Order{}, ErrEmptyCart
	}

	// CP-1: the event describing the promotion goes in before the state
	// changes it causes.
	payload := OrderPlacedPayload{OrderID: orderID, CheckoutID: checkoutID, Total: cart.Subtotal}
	if _, err := appendEventTx(ctx, tx, chk.SessionID, EventOrderPlaced, payload, now); err != nil {
		return Order{}, fmt.Errorf("promote cart: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, checkout_id, session_id, order_type, payment_method, total, placed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, orderID, checkoutID, chk.SessionID, chk.OrderType, chk.PaymentMethod, cart.Subtotal, formatTime(now))
	if err != nil {
		return Order{}, fmt.Errorf("promote cart: insert order: %w", err)
	}

	if err := s.injectPromoteFault("order-inserted"); err != nil {
		return Order{}, fmt.Errorf("promote cart: %w", err)
	}

	order := Order{
		ID:            orderID,
		CheckoutID:    checkoutID,
		SessionID:     chk.SessionID,
		OrderType:     chk.OrderType,
		PaymentMethod: chk.PaymentMethod,
		Total:         cart.Subtotal,
		PlacedAt:      now,
	}

	for _, line := range cart.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, item_id, name, qty, unit_price)
			VALUES (?, ?, ?, ?, ?)
		`, orderID, line.ItemID, line.Name, line.Qty, line.UnitPrice)
		if err != nil {
			return Order{}, fmt.Errorf("promote cart: insert line: %w", err)
		}
		order.Lines = append(order.Lines, OrderLine{
			OrderID:   orderID,
			ItemID:    line.ItemID,
			Name:      line.Name,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
		})
	}

	if err := s.injectPromoteFault("lines-inserted"); err != nil {
		return Order{}, fmt.Errorf("promote cart: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE cart_lines SET active = 0, updated_at = ?
		WHERE session_id = ? AND active = 1
	`, formatTime(now), chk.SessionID)
	if err != nil {
		return Order{}, fmt.Errorf("promote cart: deactivate lines: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET step = ?, last_activity = ? WHERE id = ?
	`, string(StepCompleted), formatTime(now), chk.SessionID)
	if err != nil {
		return Order{}, fmt.Errorf("promote cart: update session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE checkouts SET status = ?, order_id = ?, updated_at = ? WHERE id = ?
	`, CheckoutCompleted, orderID, formatTime(now), checkoutID)
	if err != nil {
		return Order{}, fmt.Errorf("promote cart: update checkout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Order{}, fmt.Errorf("promote cart: commit: %w", err)
	}

	return order, nil
}

// injectPromoteFault fires the test-only fault hook for a stage.
func (s *Store) injectPromoteFault(stage string) error {
	if s.promoteFault == nil {
		return nil
	}
	return s.promoteFault(stage)
}

// readCheckoutTx reads a checkout row inside an open transaction.
func readCheckoutTx(ctx context.Context, tx *sql.Tx, checkoutID string) (Checkout, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, session_id, order_type, payment_method, status, order_id, created_at, updated_at
		FROM checkouts
		WHERE id = ?
	`, checkoutID)

	var c Checkout
	var orderID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.SessionID, &c.OrderType, &c.PaymentMethod, &c.Status, &orderID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkout{}, ErrCheckoutNotFound
		}
		return Checkout{}, fmt.Errorf("read checkout: %w", err)
	}

	c.OrderID = orderID.String

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Checkout{}, fmt.Errorf("read checkout: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Checkout{}, fmt.Errorf("read checkout: %w", err)
	}

	return c, nil
}

// scanOrderWithLines scans an order row, then loads its lines.
func (s *Store) scanOrderWithLines(ctx context.Context, row *sql.Row) (Order, error) {
	var o Order
	var placedAt string

	err := row.Scan(&o.ID, &o.CheckoutID, &o.SessionID, &o.OrderType, &o.PaymentMethod, &o.Total, &placedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("read order: %w", err)
	}

	if o.PlacedAt, err = parseTime(placedAt); err != nil {
		return Order{}, fmt.Errorf("read order: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, item_id, name, qty, unit_price
		FROM order_lines
		WHERE order_id = ?
		ORDER BY rowid ASC, item_id ASC
	`, o.ID)
	if err != nil {
		return Order{}, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line OrderLine
		if err := rows.Scan(&line.OrderID, &line.ItemID, &line.Name, &line.Qty, &line.UnitPrice); err != nil {
			return Order{}, fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return Order{}, fmt.Errorf("iterate order lines: %w", err)
	}

	return o, nil
}
