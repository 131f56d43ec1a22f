package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/karupatti/tiffin/internal/catalog"
	"github.com/karupatti/tiffin/internal/store"
)

// Catalog resolves free-form item references against the menu.
// Implemented by *catalog.Catalog; tests may substitute a fake.
type Catalog interface {
	// Resolve returns the item for an id or (normalized) display name.
	Resolve(ref string) (catalog.Item, error)

	// List returns menu items matching a substring filter, in menu order.
	// An empty filter returns the full menu.
	List(filter string) []catalog.Item
}

// Engine is the session engine: the API surface the chat layer calls to
// mutate conversational order state.
//
// Every mutating operation writes an event and the ephemeral rows it
// describes in one storage transaction, so the event log and the cart
// can never disagree (the store enforces write-ahead-then-apply
// ordering). The engine itself is stateless; all state lives in the
// store, keyed by session id, so one Engine safely serves many
// concurrent sessions.
type Engine struct {
	store   *store.Store
	catalog Catalog
	tokens  TokenGenerator
	log     *slog.Logger
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithTokenGenerator overrides the checkout token source.
// Tests use NewFixedGenerator for deterministic checkout ids.
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = gen
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// New creates an Engine over the given store and catalog.
func New(s *store.Store, c Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		catalog: c,
		tokens:  UUIDv7Generator{},
		log:     slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ViewMenu returns menu items matching the filter and records a
// menu-viewed event for the session. The event is analytics-only; no
// cart state changes.
func (e *Engine) ViewMenu(ctx context.Context, sessionID, filter string) ([]catalog.Item, error) {
	items := e.catalog.List(filter)

	if err := e.store.RecordMenuViewed(ctx, sessionID, filter, len(items)); err != nil {
		return nil, fmt.Errorf("view menu: %w", err)
	}

	e.log.Debug("menu viewed",
		slog.String("session_id", sessionID),
		slog.String("filter", filter),
		slog.Int("count", len(items)))

	return items, nil
}

// AddToCart resolves an item reference and adds qty units to the
// session's cart. A repeated add for the same item increments quantity
// rather than duplicating the line. A non-positive qty defaults to 1.
//
// The added item becomes the session's last-mentioned entity, so a
// follow-up "add another one" resolves to it.
func (e *Engine) AddToCart(ctx context.Context, sessionID, ref string, qty int64) (store.Cart, error) {
	if qty <= 0 {
		qty = 1
	}

	item, err := e.catalog.Resolve(ref)
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			return store.Cart{}, NewNotFoundError(sessionID, ref, err)
		}
		return store.Cart{}, fmt.Errorf("add to cart: %w", err)
	}

	cart, err := e.store.AddItem(ctx, sessionID, store.Item{ID: item.ID, Name: item.Name, Price: item.Price}, qty)
	if err != nil {
		return store.Cart{}, fmt.Errorf("add to cart: %w", err)
	}

	e.log.Info("item added",
		slog.String("session_id", sessionID),
		slog.String("item_id", item.ID),
		slog.Int64("qty", qty),
		slog.Int64("subtotal", cart.Subtotal))

	return cart, nil
}

// RemoveFromCart resolves an item reference and deactivates its cart
// line. Removing an item that is not in the cart is a no-op with
// removed=false, not an error; the chat layer phrases the response.
func (e *Engine) RemoveFromCart(ctx context.Context, sessionID, ref string) (cart store.Cart, removed bool, err error) {
	item, err := e.catalog.Resolve(ref)
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			return store.Cart{}, false, NewNotFoundError(sessionID, ref, err)
		}
		return store.Cart{}, false, fmt.Errorf("remove from cart: %w", err)
	}

	cart, removed, err = e.store.RemoveItem(ctx, sessionID, item.ID)
	if err != nil {
		return store.Cart{}, false, fmt.Errorf("remove from cart: %w", err)
	}

	e.log.Info("item removed",
		slog.String("session_id", sessionID),
		slog.String("item_id", item.ID),
		slog.Bool("removed", removed))

	return cart, removed, nil
}

// SetQuantity resolves an item reference and sets its line quantity.
// A quantity of zero or less removes the line. Changing quantity for an
// item with no active line is a no-op with changed=false.
func (e *Engine) SetQuantity(ctx context.Context, sessionID, ref string, qty int64) (cart store.Cart, changed bool, err error) {
	item, err := e.catalog.Resolve(ref)
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			return store.Cart{}, false, NewNotFoundError(sessionID, ref, err)
		}
		return store.Cart{}, false, fmt.Errorf("set quantity: %w", err)
	}

	cart, changed, err = e.store.SetQuantity(ctx, sessionID, item.ID, qty)
	if err != nil {
		return store.Cart{}, false, fmt.Errorf("set quantity: %w", err)
	}

	return cart, changed, nil
}

// GetCart returns the session's active cart lines with the computed
// subtotal. A session with nothing in its cart yields an empty cart.
func (e *Engine) GetCart(ctx context.Context, sessionID string) (store.Cart, error) {
	return e.store.GetCart(ctx, sessionID)
}

// ResolveReference returns the session's last-mentioned item for
// pronoun resolution ("add another one", "remove that"). Fails with a
// NoReferentAvailable error when the session has no prior item context.
func (e *Engine) ResolveReference(ctx context.Context, sessionID string) (store.Item, error) {
	item, ok, err := e.store.GetLastMentioned(ctx, sessionID)
	if err != nil {
		return store.Item{}, fmt.Errorf("resolve reference: %w", err)
	}
	if !ok {
		return store.Item{}, NewNoReferentError(sessionID)
	}
	return item, nil
}

// RecordMention marks an item as the session's last-mentioned entity
// without touching the cart. Used when the user asks about an item
// ("how much is the dosa?") so a follow-up pronoun resolves to it.
func (e *Engine) RecordMention(ctx context.Context, sessionID, ref string) (store.Item, error) {
	item, err := e.catalog.Resolve(ref)
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			return store.Item{}, NewNotFoundError(sessionID, ref, err)
		}
		return store.Item{}, fmt.Errorf("record mention: %w", err)
	}

	si := store.Item{ID: item.ID, Name: item.Name, Price: item.Price}
	if err := e.store.SetLastMentioned(ctx, sessionID, si); err != nil {
		return store.Item{}, fmt.Errorf("record mention: %w", err)
	}

	return si, nil
}

// AttachUser associates an authenticated user with an existing session.
func (e *Engine) AttachUser(ctx context.Context, sessionID, userID string) error {
	if err := e.store.AttachUser(ctx, sessionID, userID); err != nil {
		return fmt.Errorf("attach user: %w", err)
	}
	return nil
}

// BeginCheckout validates the cart and opens a checkout record under a
// fresh token. The token doubles as the promotion idempotency key: the
// transactor can be retried with it without risking a duplicate order.
//
// Returns an EmptyCart error when the session has no active lines.
func (e *Engine) BeginCheckout(ctx context.Context, sessionID, orderType, paymentMethod string) (store.Checkout, error) {
	checkoutID := e.tokens.Generate()

	chk, err := e.store.BeginCheckout(ctx, checkoutID, sessionID, orderType, paymentMethod)
	if err != nil {
		if errors.Is(err, store.ErrEmptyCart) {
			return store.Checkout{}, NewEmptyCartError(sessionID, err)
		}
		return store.Checkout{}, fmt.Errorf("begin checkout: %w", err)
	}

	e.log.Info("checkout started",
		slog.String("session_id", sessionID),
		slog.String("checkout_id", checkoutID),
		slog.String("order_type", orderType))

	return chk, nil
}
