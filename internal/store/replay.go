package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RebuiltState is ephemeral session state reconstructed purely from the
// event log. The stored sessions/cart_lines rows are a materialized view
// of the log, so a rebuild must match them exactly.
type RebuiltState struct {
	SessionID    string
	UserID       string
	Step         Step
	LastItemID   string
	LastItemName string
	Lines        []CartLine // insertion order, includes deactivated lines
	LastSeq      int64
}

// ActiveCart returns the active lines of the rebuilt state as a Cart.
func (rs RebuiltState) ActiveCart() Cart {
	cart := Cart{SessionID: rs.SessionID, Lines: []CartLine{}}
	for _, line := range rs.Lines {
		if line.Active {
			cart.Lines = append(cart.Lines, line)
			cart.Subtotal += line.Qty * line.UnitPrice
		}
	}
	return cart
}

// Rebuild replays a session's event log from empty state.
// Returns ErrSessionNotFound if the session has no events at all.
func (s *Store) Rebuild(ctx context.Context, sessionID string) (RebuiltState, error) {
	events, err := s.ReadEvents(ctx, sessionID)
	if err != nil {
		return RebuiltState{}, fmt.Errorf("rebuild: %w", err)
	}
	if len(events) == 0 {
		return RebuiltState{}, ErrSessionNotFound
	}

	rs := RebuiltState{SessionID: sessionID, Step: StepBrowsing, Lines: []CartLine{}}
	index := make(map[string]int) // item id -> position in rs.Lines

	for _, ev := range events {
		if err := applyEvent(&rs, index, ev); err != nil {
			return RebuiltState{}, fmt.Errorf("rebuild: seq %d: %w", ev.Seq, err)
		}
		rs.LastSeq = ev.Seq
	}

	return rs, nil
}

// applyEvent folds one event into the rebuilt state.
// The rules here mirror the mutators in state.go exactly; any drift
// between the two shows up as replay divergence.
func applyEvent(rs *RebuiltState, index map[string]int, ev Event) error {
	switch ev.Type {
	case EventSessionStarted:
		var p SessionStartedPayload
		if err := unmarshalPayload(ev.Payload, &p); err != nil {
			return err
		}
		rs.UserID = p.UserID
		rs.Step = StepBrowsing

	case EventMenuViewed:
		// Analytics only, no state change.

	case EventItemAdded:
		var p ItemAddedPayload
		if err := unmarshalPayload(ev.Payload, &p); err != nil {
			return err
		}
		if i, ok := index[p.ItemID]; ok {
			line := &rs.Lines[i]
			if line.Active {
				line.Qty += p.Qty
			} else {
				line.Qty = p.Qty
				line.Active = true
			}
			line.Name = p.Name
			line.UnitPrice = p.UnitPrice
		} else {
			index[p.ItemID] = len(rs.Lines)
			rs.Lines = append(rs.Lines, CartLine{
				SessionID: rs.SessionID,
				ItemID:    p.ItemID,
				Name:      p.Name,
				Qty:       p.Qty,
				UnitPrice: p.UnitPrice,
				Active:    true,
			})
		}
		rs.LastItemID = p.ItemID
		rs.LastItemName = p.Name
		if rs.Step == StepBrowsing {
			rs.Step = StepOrdering
		}

	case EventItemRemoved:
		var p ItemRemovedPayload
		if err := unmarshalPayload(ev.Payload, &p); err != nil {
			return err
		}
		if i, ok := index[p.ItemID]; ok {
			rs.Lines[i].Active = false
		}

	case EventQuantityChanged:
		var p QuantityChangedPayload
		if err := unmarshalPayload(ev.Payload, &p); err != nil {
			return err
		}
		if i, ok := index[p.ItemID]; ok {
			if p.Qty <= 0 {
				rs.Lines[i].Active = false
			} else {
				rs.Lines[i].Qty = p.Qty
			}
		}

	case EventItemReferenced:
		var p ItemReferencedPayload
		if err := unmarshalPayload(ev.Payload, &p); err != nil {
			return err
		}
		rs.LastItemID = p.ItemID
		rs.LastItemName = p.Name

	case EventCheckoutStarted:
		rs.Step = StepCheckoutInProgress

	case EventOrderPlaced:
		for i := range rs.Lines {
			rs.Lines[i].Active = false
		}
		rs.Step = StepCompleted

	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	return nil
}

// Divergence records one mismatch between stored ephemeral state and the
// state rebuilt from the event log.
type Divergence struct {
	Field    string `json:"field"`
	Stored   string `json:"stored"`
	Rebuilt  string `json:"rebuilt"`
}

// CheckReplay rebuilds a session from its event log and compares the
// result against the stored ephemeral rows. An empty result means the
// materialized view is consistent with the log.
func (s *Store) CheckReplay(ctx context.Context, sessionID string) ([]Divergence, error) {
	rs, err := s.Rebuild(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var divs []Divergence

	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// Ephemeral rows lost (crash or sweep); the log alone decides.
			divs = append(divs, Divergence{Field: "session", Stored: "missing", Rebuilt: string(rs.Step)})
			return divs, nil
		}
		return nil, err
	}

	if sess.Step != rs.Step {
		divs = append(divs, Divergence{Field: "step", Stored: string(sess.Step), Rebuilt: string(rs.Step)})
	}
	if sess.LastItemID != rs.LastItemID {
		divs = append(divs, Divergence{Field: "last_item_id", Stored: sess.LastItemID, Rebuilt: rs.LastItemID})
	}

	stored, err := s.ReadAllLines(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	storedByItem := make(map[string]CartLine, len(stored))
	for _, line := range stored {
		storedByItem[line.ItemID] = line
	}

	for _, want := range rs.Lines {
		got, ok := storedByItem[want.ItemID]
		if !ok {
			divs = append(divs, Divergence{Field: "line:" + want.ItemID, Stored: "missing", Rebuilt: describeLine(want)})
			continue
		}
		if got.Qty != want.Qty || got.UnitPrice != want.UnitPrice || got.Active != want.Active || got.Name != want.Name {
			divs = append(divs, Divergence{Field: "line:" + want.ItemID, Stored: describeLine(got), Rebuilt: describeLine(want)})
		}
		delete(storedByItem, want.ItemID)
	}

	for itemID, got := range storedByItem {
		divs = append(divs, Divergence{Field: "line:" + itemID, Stored: describeLine(got), Rebuilt: "missing"})
	}

	return divs, nil
}

// RestoreSession overwrites a session's ephemeral rows with rebuilt
// state. No events are appended: the written rows derive entirely from
// events already in the log.
func (s *Store) RestoreSession(ctx context.Context, rs RebuiltState) error {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("restore session: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE session_id = ?`, rs.SessionID)
	if err != nil {
		return fmt.Errorf("restore session: clear lines: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, step, last_item_id, last_item_name, last_activity)
		VALUES (?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			step = excluded.step,
			last_item_id = excluded.last_item_id,
			last_item_name = excluded.last_item_name,
			last_activity = excluded.last_activity
	`, rs.SessionID, rs.UserID, string(rs.Step), rs.LastItemID, rs.LastItemName, formatTime(now))
	if err != nil {
		return fmt.Errorf("restore session: upsert session: %w", err)
	}

	for _, line := range rs.Lines {
		active := 0
		if line.Active {
			active = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cart_lines (session_id, item_id, name, qty, unit_price, active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rs.SessionID, line.ItemID, line.Name, line.Qty, line.UnitPrice, active, formatTime(now))
		if err != nil {
			return fmt.Errorf("restore session: insert line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("restore session: commit: %w", err)
	}

	return nil
}

// describeLine renders a cart line for divergence reporting.
func describeLine(l CartLine) string {
	state := "inactive"
	if l.Active {
		state = "active"
	}
	return fmt.Sprintf("%s qty=%d price=%d %s", l.Name, l.Qty, l.UnitPrice, state)
}
