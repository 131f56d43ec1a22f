package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ensureSessionTx creates the session row if it does not exist yet,
// logging a session-started event first (CP-1). Sessions are created on
// the first inbound operation for an unknown id.
func ensureSessionTx(ctx context.Context, tx *sql.Tx, sessionID, userID string, now time.Time) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ?)
	`, sessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := appendEventTx(ctx, tx, sessionID, EventSessionStarted, SessionStartedPayload{UserID: userID}, now); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, step, last_activity)
		VALUES (?, NULLIF(?, ''), ?, ?)
	`, sessionID, userID, string(StepBrowsing), formatTime(now))
	if err != nil {
		return fmt.Errorf("ensure session: insert: %w", err)
	}

	return nil
}

// AddItem upserts one cart line: a repeated add for the same item
// increments the quantity instead of duplicating the row. A line that was
// previously deactivated is revived with the new quantity. The session's
// last-mentioned item is updated to the added item.
//
// Returns the cart as of after the add.
func (s *Store) AddItem(ctx context.Context, sessionID string, item Item, qty int64) (Cart, error) {
	if qty <= 0 {
		return Cart{}, fmt.Errorf("add item: quantity must be positive, got %d", qty)
	}

	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Cart{}, fmt.Errorf("add item: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := ensureSessionTx(ctx, tx, sessionID, "", now); err != nil {
		return Cart{}, fmt.Errorf("add item: %w", err)
	}

	payload := ItemAddedPayload{ItemID: item.ID, Name: item.Name, Qty: qty, UnitPrice: item.Price}
	if _, err := appendEventTx(ctx, tx, sessionID, EventItemAdded, payload, now); err != nil {
		return Cart{}, fmt.Errorf("add item: %w", err)
	}

	// Increment-on-conflict while the line is active; a deactivated line
	// starts over at the new quantity.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cart_lines (session_id, item_id, name, qty, unit_price, active, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(session_id, item_id) DO UPDATE SET
			qty = CASE WHEN cart_lines.active = 1 THEN cart_lines.qty + excluded.qty ELSE excluded.qty END,
			name = excluded.name,
			unit_price = excluded.unit_price,
			active = 1,
			updated_at = excluded.updated_at
	`, sessionID, item.ID, item.Name, qty, item.Price, formatTime(now))
	if err != nil {
		return Cart{}, fmt.Errorf("add item: upsert line: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET
			step = CASE WHEN step = ? THEN ? ELSE step END,
			last_item_id = ?,
			last_item_name = ?,
			last_activity = ?
		WHERE id = ?
	`, string(StepBrowsing), string(StepOrdering), item.ID, item.Name, formatTime(now), sessionID)
	if err != nil {
		return Cart{}, fmt.Errorf("add item: update session: %w", err)
	}

	cart, err := readCartTx(ctx, tx, sessionID)
	if err != nil {
		return Cart{}, fmt.Errorf("add item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Cart{}, fmt.Errorf("add item: commit: %w", err)
	}

	return cart, nil
}

// RemoveItem deactivates the active cart line for an item.
// Removing an item with no active line is a no-op, not an error; in that
// case no event is logged and removed is false.
func (s *Store) RemoveItem(ctx context.Context, sessionID, itemID string) (cart Cart, removed bool, err error) {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Cart{}, false, fmt.Errorf("remove item: begin tx: %w", err)
	}
	defer tx.Rollback()

	var active bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM cart_lines WHERE session_id = ? AND item_id = ? AND active = 1)
	`, sessionID, itemID).Scan(&active)
	if err != nil {
		return Cart{}, false, fmt.Errorf("remove item: %w", err)
	}

	if !active {
		cart, err = readCartTx(ctx, tx, sessionID)
		if err != nil {
			return Cart{}, false, fmt.Errorf("remove item: %w", err)
		}
		return cart, false, nil
	}

	if _, err := appendEventTx(ctx, tx, sessionID, EventItemRemoved, ItemRemovedPayload{ItemID: itemID}, now); err != nil {
		return Cart{}, false, fmt.Errorf("remove item: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE cart_lines SET active = 0, updated_at = ?
		WHERE session_id = ? AND item_id = ?
	`, formatTime(now), sessionID, itemID)
	if err != nil {
		return Cart{}, false, fmt.Errorf("remove item: deactivate: %w", err)
	}

	if err := touchSessionTx(ctx, tx, sessionID, now); err != nil {
		return Cart{}, false, fmt.Errorf("remove item: %w", err)
	}

	cart, err = readCartTx(ctx, tx, sessionID)
	if err != nil {
		return Cart{}, false, fmt.Errorf("remove item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Cart{}, false, fmt.Errorf("remove item: commit: %w", err)
	}

	return cart, true, nil
}

// SetQuantity sets the quantity of an active cart line. A quantity of
// zero or less deactivates the line (equivalent to removal) rather than
// leaving a zero-quantity row. Setting quantity for an item with no
// active line is a no-op.
func (s *Store) SetQuantity(ctx context.Context, sessionID, itemID string, qty int64) (cart Cart, changed bool, err error) {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Cart{}, false, fmt.Errorf("set quantity: begin tx: %w", err)
	}
	defer tx.Rollback()

	var active bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM cart_lines WHERE session_id = ? AND item_id = ? AND active = 1)
	`, sessionID, itemID).Scan(&active)
	if err != nil {
		return Cart{}, false, fmt.Errorf("set quantity: %w", err)
	}

	if !active {
		cart, err = readCartTx(ctx, tx, sessionID)
		if err != nil {
			return Cart{}, false, fmt.Errorf("set quantity: %w", err)
		}
		return cart, false, nil
	}

	if qty < 0 {
		qty = 0
	}

	if _, err := appendEventTx(ctx, tx, sessionID, EventQuantityChanged, QuantityChangedPayload{ItemID: itemID, Qty: qty}, now); err != nil {
		return Cart{}, false, fmt.Errorf("set quantity: %w", err)
	}

	if qty == 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE cart_lines SET active = 0, updated_at = ?
			WHERE session_id = ? AND item_id = ?
		`, formatTime(now), sessionID, itemID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE cart_lines SET qty = ?, updated_at = ?
			WHERE session_id = ? AND item_id = ?
		`, qty, formatTime(now), sessionID, itemID)
	}
	if err != nil {
		return Cart{}, false, fmt.Errorf("set quantity: update line: %w", err)
	}

	if err := touchSessionTx(ctx, tx, sessionID, now); err != nil {
		return Cart{}, false, fmt.Errorf("set quantity: %w", err)
	}

	cart, err = readCartTx(ctx, tx, sessionID)
	if err != nil {
		return Cart{}, false, fmt.Errorf("set quantity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Cart{}, false, fmt.Errorf("set quantity: commit: %w", err)
	}

	return cart, true, nil
}

// SetLastMentioned records the last-referenced item for pronoun
// resolution, creating the session if needed.
func (s *Store) SetLastMentioned(ctx context.Context, sessionID string, item Item) error {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set last mentioned: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := ensureSessionTx(ctx, tx, sessionID, "", now); err != nil {
		return fmt.Errorf("set last mentioned: %w", err)
	}

	if _, err := appendEventTx(ctx, tx, sessionID, EventItemReferenced, ItemReferencedPayload{ItemID: item.ID, Name: item.Name}, now); err != nil {
		return fmt.Errorf("set last mentioned: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET last_item_id = ?, last_item_name = ?, last_activity = ?
		WHERE id = ?
	`, item.ID, item.Name, formatTime(now), sessionID)
	if err != nil {
		return fmt.Errorf("set last mentioned: update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set last mentioned: commit: %w", err)
	}

	return nil
}

// RecordMenuViewed logs a menu-viewed event for analytics, creating the
// session if needed. No cart state changes.
func (s *Store) RecordMenuViewed(ctx context.Context, sessionID, filter string, count int) error {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record menu viewed: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := ensureSessionTx(ctx, tx, sessionID, "", now); err != nil {
		return fmt.Errorf("record menu viewed: %w", err)
	}

	if _, err := appendEventTx(ctx, tx, sessionID, EventMenuViewed, MenuViewedPayload{Filter: filter, Count: count}, now); err != nil {
		return fmt.Errorf("record menu viewed: %w", err)
	}

	if err := touchSessionTx(ctx, tx, sessionID, now); err != nil {
		return fmt.Errorf("record menu viewed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record menu viewed: commit: %w", err)
	}

	return nil
}

// AttachUser associates an authenticated user with a session.
func (s *Store) AttachUser(ctx context.Context, sessionID, userID string) error {
	now := time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET user_id = ?, last_activity = ? WHERE id = ?
	`, userID, formatTime(now), sessionID)
	if err != nil {
		return fmt.Errorf("attach user: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach user: rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// BeginCheckout validates the cart is non-empty, records the checkout
// attempt under the caller's idempotency key, and moves the session to
// checkout-in-progress. Returns ErrEmptyCart when no active lines exist.
func (s *Store) BeginCheckout(ctx context.Context, checkoutID, sessionID, orderType, paymentMethod string) (Checkout, error) {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Checkout{}, fmt.Errorf("begin checkout: begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cart_lines WHERE session_id = ? AND active = 1
	`, sessionID).Scan(&count)
	if err != nil {
		return Checkout{}, fmt.Errorf("begin checkout: %w", err)
	}
	if count == 0 {
		return Checkout{}, ErrEmptyCart
	}

	payload := CheckoutStartedPayload{CheckoutID: checkoutID, OrderType: orderType, PaymentMethod: paymentMethod}
	if _, err := appendEventTx(ctx, tx, sessionID, EventCheckoutStarted, payload, now); err != nil {
		return Checkout{}, fmt.Errorf("begin checkout: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkouts (id, session_id, order_type, payment_method, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, checkoutID, sessionID, orderType, paymentMethod, CheckoutStarted, formatTime(now), formatTime(now))
	if err != nil {
		return Checkout{}, fmt.Errorf("begin checkout: insert: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET step = ?, last_activity = ? WHERE id = ?
	`, string(StepCheckoutInProgress), formatTime(now), sessionID)
	if err != nil {
		return Checkout{}, fmt.Errorf("begin checkout: update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Checkout{}, fmt.Errorf("begin checkout: commit: %w", err)
	}

	return Checkout{
		ID:            checkoutID,
		SessionID:     sessionID,
		OrderType:     orderType,
		PaymentMethod: paymentMethod,
		Status:        CheckoutStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// touchSessionTx bumps a session's last-activity timestamp.
func touchSessionTx(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE sessions SET last_activity = ? WHERE id = ?
	`, formatTime(now), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}
