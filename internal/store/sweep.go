package store

import (
	"context"
	"fmt"
	"time"
)

// SweepSessions deletes ephemeral sessions (and their cart lines, via
// cascade) whose last activity is before the cutoff. Sessions with an
// in-flight checkout are never deleted, regardless of age: promotion
// must find its cart.
//
// Returns the number of sessions deleted.
func (s *Store) SweepSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE last_activity < ? AND step != ?
	`, formatTime(cutoff), string(StepCheckoutInProgress))
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: rows affected: %w", err)
	}

	return n, nil
}

// SweepEvents deletes event-log rows older than the cutoff. This is the
// deliberate analytics-retention trade-off: old events go, orders and
// order lines are never touched.
//
// Returns the number of events deleted.
func (s *Store) SweepEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM session_events
		WHERE created_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sweep events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep events: rows affected: %w", err)
	}

	return n, nil
}
