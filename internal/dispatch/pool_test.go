package dispatch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karupatti/tiffin/internal/engine"
	"github.com/karupatti/tiffin/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func threeSlots() []Credential {
	return []Credential{
		{ID: "slot-a", APIKey: "key-a"},
		{ID: "slot-b", APIKey: "key-b"},
		{ID: "slot-c", APIKey: "key-c"},
	}
}

func TestAcquireRoundRobin(t *testing.T) {
	p, err := NewPool(threeSlots(), WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	var got []string
	for i := 0; i < 6; i++ {
		lease, err := p.Acquire(ctx)
		require.NoError(t, err)
		got = append(got, lease.Credential.ID)
		lease.Release()
	}

	assert.Equal(t, []string{"slot-a", "slot-b", "slot-c", "slot-a", "slot-b", "slot-c"}, got)
}

func TestFairnessUnderSustainedLoad(t *testing.T) {
	// No slot may sit over the high-water mark while another eligible
	// slot is still below it.
	p, err := NewPool(threeSlots(),
		WithSlotLimit(10),
		WithHighWater(0.80),
		WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		lease, err := p.Acquire(ctx)
		require.NoError(t, err)
		lease.Release()
	}

	for _, s := range p.Stats() {
		assert.Equal(t, 3, s.Usage, "slot %s", s.ID)
		assert.False(t, s.Hot)
	}
}

func TestHotSlotSkipped(t *testing.T) {
	p, err := NewPool(threeSlots(),
		WithSlotLimit(1),
		WithHighWater(1.0),
		WithQueueWait(20*time.Millisecond),
		WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	// First use of each slot crosses the high-water mark.
	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "slot-a", lease.Credential.ID)
	lease.Release()

	// slot-a is now hot; the next acquire skips to slot-b.
	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "slot-b", lease.Credential.ID)
	lease.Release()

	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "slot-c", lease.Credential.ID)
	lease.Release()

	// All slots hot: the pool waits, then reports Overloaded.
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, engine.IsOverloaded(err))
}

func TestCooldownResetsUsage(t *testing.T) {
	clk := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	p, err := NewPool(threeSlots(),
		WithSlotLimit(1),
		WithHighWater(1.0),
		WithCooldown(60*time.Second),
		WithQueueWait(20*time.Millisecond),
		WithClock(clk.Now),
		WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		lease, err := p.Acquire(ctx)
		require.NoError(t, err)
		lease.Release()
	}

	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, engine.IsOverloaded(err))

	// Cooldown elapses: the slot becomes eligible with usage reset.
	clk.Advance(61 * time.Second)

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "slot-a", lease.Credential.ID)
	lease.Release()
}

func TestAdmissionBackpressure(t *testing.T) {
	p, err := NewPool([]Credential{{ID: "only", APIKey: "k"}},
		WithHeadroom(1),
		WithSlotLimit(100),
		WithQueueWait(20*time.Millisecond),
		WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	// Single permit held: the next caller times out waiting.
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, engine.IsOverloaded(err))

	held.Release()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	p, err := NewPool([]Credential{{ID: "only", APIKey: "k"}},
		WithHeadroom(1),
		WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	lease.Release()
	lease.Release() // second call must not free a permit twice

	next, err := p.Acquire(ctx)
	require.NoError(t, err)
	next.Release()
}

func TestAcquireHonorsContext(t *testing.T) {
	p, err := NewPool([]Credential{{ID: "only", APIKey: "k"}},
		WithHeadroom(1),
		WithQueueWait(time.Minute),
		WithLogger(quietLogger()))
	require.NoError(t, err)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewPoolRequiresCredentials(t *testing.T) {
	_, err := NewPool(nil)
	assert.Error(t, err)
}
