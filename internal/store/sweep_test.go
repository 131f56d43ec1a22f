package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ageSession backdates a session's last activity.
func ageSession(t *testing.T, s *Store, sessionID string, age time.Duration) {
	t.Helper()
	old := formatTime(time.Now().Add(-age))
	_, err := s.DB().Exec(`UPDATE sessions SET last_activity = ? WHERE id = ?`, old, sessionID)
	require.NoError(t, err)
}

func TestSweepSessionsDeletesExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "stale", idly, 1)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, "fresh", dosa, 1)
	require.NoError(t, err)
	ageSession(t, s, "stale", 48*time.Hour)

	n, err := s.SweepSessions(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSession(ctx, "stale")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Cart lines go with the session.
	lines, err := s.ReadAllLines(ctx, "stale")
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = s.GetSession(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSweepSessionsSparesInFlightCheckout(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "s1", idly, 1)
	require.NoError(t, err)
	_, err = s.BeginCheckout(ctx, "chk-1", "s1", "dine-in", "cash")
	require.NoError(t, err)
	ageSession(t, s, "s1", 72*time.Hour)

	n, err := s.SweepSessions(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "checkout-in-progress sessions are never swept")

	// Promotion still works past the TTL.
	order, err := s.PromoteCart(ctx, "chk-1", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), order.Total)
}

func TestSweepEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "s1", idly, 1)
	require.NoError(t, err)
	_, err = s.BeginCheckout(ctx, "chk-1", "s1", "dine-in", "cash")
	require.NoError(t, err)
	_, err = s.PromoteCart(ctx, "chk-1", "ord-1")
	require.NoError(t, err)

	// Age the whole log past the analytics window.
	old := formatTime(time.Now().Add(-31 * 24 * time.Hour))
	_, err = s.DB().Exec(`UPDATE session_events SET created_at = ?`, old)
	require.NoError(t, err)

	n, err := s.SweepEvents(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Greater(t, n, int64(0))

	events, err := s.ReadEvents(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, events)

	// Orders are retained indefinitely.
	order, err := s.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), order.Total)
	require.Len(t, order.Lines, 1)
}

func TestSweepEventsKeepsRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "s1", idly, 1)
	require.NoError(t, err)

	n, err := s.SweepEvents(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
