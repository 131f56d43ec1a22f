// Package checkout executes the promotion of an ephemeral cart into a
// permanent order.
//
// The promotion is the single most safety-critical operation in the
// system: it must never produce an order with missing or mismatched
// lines, and it must never create two orders for one checkout. The
// storage layer does the atomic work in one transaction; this package
// adds the state machine around it (started -> promoting -> completed
// | failed) and one bounded retry for transient storage failures.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karupatti/tiffin/internal/engine"
	"github.com/karupatti/tiffin/internal/store"
)

// DefaultRetryDelay is the pause before the single promotion retry.
const DefaultRetryDelay = 100 * time.Millisecond

// Storage is the slice of the store the transactor needs.
// Implemented by *store.Store; tests substitute a failing fake.
type Storage interface {
	GetCheckout(ctx context.Context, checkoutID string) (store.Checkout, error)
	GetOrderByCheckoutID(ctx context.Context, checkoutID string) (store.Order, error)
	MarkCheckout(ctx context.Context, checkoutID, status string) error
	PromoteCart(ctx context.Context, checkoutID, orderID string) (store.Order, error)
}

// Transactor drives a checkout through promotion.
type Transactor struct {
	storage    Storage
	tokens     engine.TokenGenerator
	log        *slog.Logger
	retryDelay time.Duration
}

// Option allows configuration of transactor parameters.
type Option func(*Transactor)

// WithTokenGenerator overrides the order id source.
func WithTokenGenerator(gen engine.TokenGenerator) Option {
	return func(t *Transactor) {
		t.tokens = gen
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(t *Transactor) {
		t.log = log
	}
}

// WithRetryDelay sets the pause before the promotion retry.
// Tests use zero to avoid sleeping.
func WithRetryDelay(d time.Duration) Option {
	return func(t *Transactor) {
		t.retryDelay = d
	}
}

// New creates a Transactor over the given storage.
func New(s Storage, opts ...Option) *Transactor {
	t := &Transactor{
		storage:    s,
		tokens:     engine.UUIDv7Generator{},
		log:        slog.Default(),
		retryDelay: DefaultRetryDelay,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Promote turns the cart behind a checkout into a permanent order.
//
// Idempotent per checkout id: calling Promote again for a completed
// checkout returns the existing order without writing anything. A
// transient storage failure is retried once with the same order id;
// the storage-level idempotency check makes the retry safe even if the
// first attempt committed before its result was lost.
//
// On the second failure the checkout is marked failed and a
// CheckoutFailed error is returned; the checkout id stays valid as an
// idempotency key so the caller may try again later.
func (t *Transactor) Promote(ctx context.Context, checkoutID string) (store.Order, error) {
	chk, err := t.storage.GetCheckout(ctx, checkoutID)
	if err != nil {
		return store.Order{}, fmt.Errorf("promote: %w", err)
	}

	// Fast path: a completed checkout already has its order.
	if chk.Status == store.CheckoutCompleted && chk.OrderID != "" {
		order, err := t.storage.GetOrderByCheckoutID(ctx, checkoutID)
		if err != nil {
			return store.Order{}, fmt.Errorf("promote: %w", err)
		}
		return order, nil
	}

	if err := t.storage.MarkCheckout(ctx, checkoutID, store.CheckoutPromoting); err != nil {
		return store.Order{}, fmt.Errorf("promote: %w", err)
	}

	orderID := t.tokens.Generate()

	order, err := t.storage.PromoteCart(ctx, checkoutID, orderID)
	if err == nil {
		t.log.Info("checkout promoted",
			slog.String("checkout_id", checkoutID),
			slog.String("order_id", order.ID),
			slog.Int64("total", order.Total))
		return order, nil
	}

	// Empty cart is a caller error, not a transient fault. Mark the
	// checkout failed so the session can start a fresh one.
	if errors.Is(err, store.ErrEmptyCart) {
		if markErr := t.storage.MarkCheckout(ctx, checkoutID, store.CheckoutFailed); markErr != nil {
			t.log.Error("marking empty-cart checkout failed",
				slog.String("checkout_id", checkoutID),
				slog.String("error", markErr.Error()))
		}
		return store.Order{}, engine.NewEmptyCartError(chk.SessionID, err)
	}

	t.log.Warn("promotion failed, retrying once",
		slog.String("checkout_id", checkoutID),
		slog.String("error", err.Error()))

	if t.retryDelay > 0 {
		select {
		case <-time.After(t.retryDelay):
		case <-ctx.Done():
			return store.Order{}, fmt.Errorf("promote: %w", ctx.Err())
		}
	}

	// Same order id on the retry: if the first attempt actually
	// committed, the storage idempotency check returns its order.
	order, err = t.storage.PromoteCart(ctx, checkoutID, orderID)
	if err == nil {
		t.log.Info("checkout promoted on retry",
			slog.String("checkout_id", checkoutID),
			slog.String("order_id", order.ID))
		return order, nil
	}

	if markErr := t.storage.MarkCheckout(ctx, checkoutID, store.CheckoutFailed); markErr != nil {
		t.log.Error("marking checkout failed",
			slog.String("checkout_id", checkoutID),
			slog.String("error", markErr.Error()))
	}

	return store.Order{}, engine.NewCheckoutFailedError(chk.SessionID, checkoutID, err)
}
