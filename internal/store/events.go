package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// appendEventTx inserts one event inside an open transaction and returns
// the assigned per-session seq.
//
// The seq is MAX(seq)+1 for the session, computed inside the same
// transaction, so event order is total per session (CP-2). Callers must
// append the event BEFORE applying the state change it describes (CP-1).
func appendEventTx(ctx context.Context, tx *sql.Tx, sessionID string, typ EventType, payload any, now time.Time) (int64, error) {
	payloadJSON, err := marshalPayload(payload)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM session_events WHERE session_id = ?
	`, sessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("append event: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_events (session_id, seq, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, seq, string(typ), payloadJSON, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("append event: insert: %w", err)
	}

	return seq, nil
}

// ReadEvents returns the full ordered event log for a session.
// Results are ordered by seq ASC, id ASC for deterministic replay (CP-2).
//
// Returns an empty slice (not nil) if the session has no events.
func (s *Store) ReadEvents(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, seq, event_type, payload, created_at
		FROM session_events
		WHERE session_id = ?
		ORDER BY seq ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if events == nil {
		events = []Event{}
	}

	return events, nil
}

// LastSeq returns the highest seq appended for a session, or 0 if the
// session has no events.
func (s *Store) LastSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM session_events WHERE session_id = ?
	`, sessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

// ListSessionIDs returns all distinct session ids present in the event
// log, ordered alphabetically. Used by the trace tooling to enumerate
// sessions.
func (s *Store) ListSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT session_id FROM session_events
		ORDER BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session ids: %w", err)
	}

	if ids == nil {
		ids = []string{}
	}

	return ids, nil
}

// scanEvent scans a row into an Event struct.
func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var typ, payload, createdAt string

	if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Seq, &typ, &payload, &createdAt); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}

	ev.Type = EventType(typ)
	ev.Payload = json.RawMessage(payload)

	t, err := parseTime(createdAt)
	if err != nil {
		return Event{}, err
	}
	ev.CreatedAt = t

	return ev, nil
}
