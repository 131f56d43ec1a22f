package sweeper

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karupatti/tiffin/internal/store"
	"github.com/karupatti/tiffin/internal/testutil"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tiffin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSession(t *testing.T, s *store.Store, sessionID string) {
	t.Helper()
	_, err := s.AddItem(context.Background(), sessionID, store.Item{ID: "idly", Name: "Idly", Price: 40}, 1)
	require.NoError(t, err)
}

// ageSession backdates a session's activity and its events.
func ageSession(t *testing.T, s *store.Store, sessionID string, age time.Duration) {
	t.Helper()
	stamp := time.Now().Add(-age).UTC().Truncate(time.Millisecond).Format(timeLayout)

	_, err := s.DB().Exec(`UPDATE sessions SET last_activity = ? WHERE id = ?`, stamp, sessionID)
	require.NoError(t, err)
	_, err = s.DB().Exec(`UPDATE session_events SET created_at = ? WHERE session_id = ?`, stamp, sessionID)
	require.NoError(t, err)
}

func TestOnceDeletesExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSession(t, s, "stale")
	seedSession(t, s, "fresh")
	ageSession(t, s, "stale", 48*time.Hour)

	sw := New(s, WithLogger(quietLogger()))

	rep, err := sw.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.SessionsDeleted)

	_, err = s.GetSession(ctx, "stale")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = s.GetSession(ctx, "fresh")
	assert.NoError(t, err)
}

func TestOnceSparesInFlightCheckout(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSession(t, s, "s1")
	_, err := s.BeginCheckout(ctx, "chk-1", "s1", "takeaway", "upi")
	require.NoError(t, err)
	ageSession(t, s, "s1", 48*time.Hour)

	sw := New(s, WithLogger(quietLogger()))

	rep, err := sw.Once(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.SessionsDeleted)

	// The cart survives, so the stalled checkout can still promote.
	order, err := s.PromoteCart(ctx, "chk-1", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), order.Total)
}

func TestOnceSweepsOldEventsKeepsOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSession(t, s, "s1")
	_, err := s.BeginCheckout(ctx, "chk-1", "s1", "takeaway", "upi")
	require.NoError(t, err)
	_, err = s.PromoteCart(ctx, "chk-1", "ord-1")
	require.NoError(t, err)

	ageSession(t, s, "s1", 40*24*time.Hour)

	sw := New(s, WithLogger(quietLogger()))

	rep, err := sw.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.SessionsDeleted)
	assert.Greater(t, rep.EventsDeleted, int64(0))

	events, err := s.ReadEvents(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, events)

	// Orders outlive both retention windows.
	order, err := s.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), order.Total)
}

func TestOnceKeepsRecentData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSession(t, s, "s1")

	sw := New(s, WithLogger(quietLogger()))

	rep, err := sw.Once(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.SessionsDeleted)
	assert.Zero(t, rep.EventsDeleted)
}

func TestRunSweepsOnInterval(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seedSession(t, s, "stale")
	ageSession(t, s, "stale", 48*time.Hour)

	sw := New(s,
		WithInterval(10*time.Millisecond),
		WithLogger(quietLogger()))

	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := s.GetSession(context.Background(), "stale")
		return err != nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestCustomTTLs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSession(t, s, "s1")
	ageSession(t, s, "s1", 2*time.Hour)

	sw := New(s,
		WithSessionTTL(time.Hour),
		WithEventRetention(time.Hour),
		WithLogger(quietLogger()))

	rep, err := sw.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.SessionsDeleted)
	assert.Greater(t, rep.EventsDeleted, int64(0))
}

func TestFixedClock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSession(t, s, "s1")

	// A clock far in the future makes everything expired.
	clk := testutil.NewClock(time.Now().Add(365 * 24 * time.Hour))
	sw := New(s,
		WithClock(clk.Now),
		WithLogger(quietLogger()))

	rep, err := sw.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.SessionsDeleted)
}
