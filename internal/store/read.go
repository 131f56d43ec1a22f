package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// querier abstracts *sql.DB and *sql.Tx for shared read helpers.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetSession returns the ephemeral session row.
// Returns ErrSessionNotFound if no row exists.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	return readSession(ctx, s.db, sessionID)
}

func readSession(ctx context.Context, q querier, sessionID string) (Session, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, user_id, step, last_item_id, last_item_name, last_activity
		FROM sessions
		WHERE id = ?
	`, sessionID)

	var sess Session
	var userID, lastItemID, lastItemName sql.NullString
	var step, lastActivity string

	if err := row.Scan(&sess.ID, &userID, &step, &lastItemID, &lastItemName, &lastActivity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("read session: %w", err)
	}

	sess.UserID = userID.String
	sess.Step = Step(step)
	sess.LastItemID = lastItemID.String
	sess.LastItemName = lastItemName.String

	t, err := parseTime(lastActivity)
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	sess.LastActivity = t

	return sess, nil
}

// GetCart returns the active cart lines for a session with the computed
// subtotal. Lines come back in insertion order. A session with no lines
// (or no row at all) yields an empty cart, not an error.
func (s *Store) GetCart(ctx context.Context, sessionID string) (Cart, error) {
	return readCart(ctx, s.db, sessionID)
}

func readCartTx(ctx context.Context, tx *sql.Tx, sessionID string) (Cart, error) {
	return readCart(ctx, tx, sessionID)
}

func readCart(ctx context.Context, q querier, sessionID string) (Cart, error) {
	// rowid preserves first-insertion order across upserts; item_id breaks
	// ties deterministically.
	rows, err := q.QueryContext(ctx, `
		SELECT session_id, item_id, name, qty, unit_price, active, updated_at
		FROM cart_lines
		WHERE session_id = ? AND active = 1
		ORDER BY rowid ASC, item_id ASC
	`, sessionID)
	if err != nil {
		return Cart{}, fmt.Errorf("query cart: %w", err)
	}
	defer rows.Close()

	cart := Cart{SessionID: sessionID, Lines: []CartLine{}}
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return Cart{}, err
		}
		cart.Lines = append(cart.Lines, line)
		cart.Subtotal += line.Qty * line.UnitPrice
	}

	if err := rows.Err(); err != nil {
		return Cart{}, fmt.Errorf("iterate cart: %w", err)
	}

	return cart, nil
}

// ReadAllLines returns every cart line for a session, active or not.
// Used by replay divergence checks; checkout deactivates lines rather
// than deleting them, so the inactive rows matter for comparison.
func (s *Store) ReadAllLines(ctx context.Context, sessionID string) ([]CartLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, item_id, name, qty, unit_price, active, updated_at
		FROM cart_lines
		WHERE session_id = ?
		ORDER BY rowid ASC, item_id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	var lines []CartLine
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lines: %w", err)
	}

	if lines == nil {
		lines = []CartLine{}
	}

	return lines, nil
}

// GetLastMentioned returns the session's last-referenced item for
// pronoun resolution. ok is false when the session does not exist or has
// no referent recorded yet.
func (s *Store) GetLastMentioned(ctx context.Context, sessionID string) (item Item, ok bool, err error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Item{}, false, nil
		}
		return Item{}, false, err
	}

	if sess.LastItemID == "" {
		return Item{}, false, nil
	}

	return Item{ID: sess.LastItemID, Name: sess.LastItemName}, true, nil
}

// scanCartLine scans a row into a CartLine struct.
func scanCartLine(rows *sql.Rows) (CartLine, error) {
	var line CartLine
	var active int64
	var updatedAt string

	if err := rows.Scan(&line.SessionID, &line.ItemID, &line.Name, &line.Qty, &line.UnitPrice, &active, &updatedAt); err != nil {
		return CartLine{}, fmt.Errorf("scan cart line: %w", err)
	}

	line.Active = active != 0

	t, err := parseTime(updatedAt)
	if err != nil {
		return CartLine{}, fmt.Errorf("scan cart line: %w", err)
	}
	line.UpdatedAt = t

	return line, nil
}
