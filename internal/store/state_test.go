package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddItemUpsertsQuantity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cart, err := s.AddItem(ctx, "s1", idly, 2)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, int64(2), cart.Lines[0].Qty)
	assert.Equal(t, int64(80), cart.Subtotal)

	// Repeated add increments, never duplicates.
	cart, err = s.AddItem(ctx, "s1", idly, 1)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, int64(3), cart.Lines[0].Qty)
	assert.Equal(t, int64(120), cart.Subtotal)
}

func TestAddItemRejectsNonPositiveQty(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddItem(context.Background(), "s1", idly, 0)
	assert.Error(t, err)
}

func TestAddItemRevivesDeactivatedLine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "s1", idly, 3)
	require.NoError(t, err)
	_, removed, err := s.RemoveItem(ctx, "s1", "idly")
	require.NoError(t, err)
	require.True(t, removed)

	// Re-add starts over at the new quantity, not 3+2.
	cart, err := s.AddItem(ctx, "s1", idly, 2)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, int64(2), cart.Lines[0].Qty)
}

func TestAddItemCreatesSessionWithStartedEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "s1", idly, 1)
	require.NoError(t, err)

	events, err := s.ReadEvents(ctx, "s1")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, EventSessionStarted, events[0].Type)

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StepOrdering, sess.Step)
	assert.Equal(t, "idly", sess.LastItemID)
	assert.Equal(t, "Idly", sess.LastItemName)
}

func TestRemoveItemMissingIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "s1", idly, 1)
	require.NoError(t, err)
	before, err := s.ReadEvents(ctx, "s1")
	require.NoError(t, err)

	cart, removed, err := s.RemoveItem(ctx, "s1", "masala-dosa")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Len(t, cart.Lines, 1)

	// A no-op removal must not pollute the event log.
	after, err := s.ReadEvents(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestRemoveItemDeactivates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "s1", idly, 2)
	require.NoError(t, err)
	cart, removed, err := s.RemoveItem(ctx, "s1", "idly")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, cart.Lines)
	assert.Equal(t, int64(0), cart.Subtotal)

	// Soft delete: the row survives, deactivated.
	lines, err := s.ReadAllLines(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.False(t, lines[0].Active)
}

func TestSetQuantity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "s1", idly, 2)
	require.NoError(t, err)

	cart, changed, err := s.SetQuantity(ctx, "s1", "idly", 5)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, int64(5), cart.Lines[0].Qty)
	assert.Equal(t, int64(200), cart.Subtotal)
}

func TestSetQuantityZeroRemoves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "s1", idly, 2)
	require.NoError(t, err)

	cart, changed, err := s.SetQuantity(ctx, "s1", "idly", 0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, cart.Lines)

	lines, err := s.ReadAllLines(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.False(t, lines[0].Active, "zero quantity deactivates instead of leaving a zero row")
}

func TestSetQuantityMissingIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "s1", idly, 1)
	require.NoError(t, err)

	_, changed, err := s.SetQuantity(ctx, "s1", "masala-dosa", 4)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLastMentioned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetLastMentioned(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetLastMentioned(ctx, "s1", dosa))

	item, ok, err := s.GetLastMentioned(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "masala-dosa", item.ID)
	assert.Equal(t, "Masala Dosa", item.Name)

	// Adding an item moves the referent.
	_, err = s.AddItem(ctx, "s1", idly, 1)
	require.NoError(t, err)
	item, ok, err = s.GetLastMentioned(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "idly", item.ID)
}

func TestRecordMenuViewed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordMenuViewed(ctx, "s1", "dosa", 3))

	events, err := s.ReadEvents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventMenuViewed, events[1].Type)

	var p MenuViewedPayload
	require.NoError(t, unmarshalPayload(events[1].Payload, &p))
	assert.Equal(t, MenuViewedPayload{Filter: "dosa", Count: 3}, p)

	// Menu viewing mutates no cart state.
	cart, err := s.GetCart(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)
}

func TestAttachUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.AttachUser(ctx, "s1", "u42"), ErrSessionNotFound)

	_, err := s.AddItem(ctx, "s1", idly, 1)
	require.NoError(t, err)
	require.NoError(t, s.AttachUser(ctx, "s1", "u42"))

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u42", sess.UserID)
}

func TestBeginCheckoutEmptyCart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.BeginCheckout(ctx, "chk-1", "s1", "dine-in", "cash")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestBeginCheckout(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "s1", idly, 2)
	require.NoError(t, err)

	chk, err := s.BeginCheckout(ctx, "chk-1", "s1", "dine-in", "cash")
	require.NoError(t, err)
	assert.Equal(t, CheckoutStarted, chk.Status)

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StepCheckoutInProgress, sess.Step)

	events, err := s.ReadEvents(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutStarted, events[len(events)-1].Type)
}
