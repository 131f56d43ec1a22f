package store

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors returned by store operations.
var (
	// ErrSessionNotFound is returned when a session id has no row.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptyCart is returned when checkout or promotion finds no
	// active cart lines for the session.
	ErrEmptyCart = errors.New("cart has no active lines")

	// ErrCheckoutNotFound is returned when a checkout id has no row.
	ErrCheckoutNotFound = errors.New("checkout not found")

	// ErrOrderNotFound is returned when an order lookup finds nothing.
	ErrOrderNotFound = errors.New("order not found")
)

// Step enumerates the session lifecycle.
type Step string

const (
	StepBrowsing           Step = "browsing"
	StepOrdering           Step = "ordering"
	StepCheckoutInProgress Step = "checkout_in_progress"
	StepCompleted          Step = "completed"
	StepExpired            Step = "expired"
)

// EventType identifies the kind of a session event.
type EventType string

const (
	EventSessionStarted  EventType = "session-started"
	EventMenuViewed      EventType = "menu-viewed"
	EventItemAdded       EventType = "item-added"
	EventItemRemoved     EventType = "item-removed"
	EventQuantityChanged EventType = "quantity-changed"
	EventItemReferenced  EventType = "item-referenced"
	EventCheckoutStarted EventType = "checkout-started"
	EventOrderPlaced     EventType = "order-placed"
)

// Event is one immutable fact in a session's append-only log.
//
// Seq is the per-session logical position assigned at append time.
// Replaying a session's events in seq order reconstructs its ephemeral
// state exactly (see Rebuild).
type Event struct {
	ID        int64
	SessionID string
	Seq       int64
	Type      EventType
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Session is one conversational context.
// UserID is empty until the customer authenticates.
type Session struct {
	ID           string
	UserID       string
	Step         Step
	LastItemID   string
	LastItemName string
	LastActivity time.Time
}

// Item is a catalog snapshot passed into cart mutations.
// Name and Price are frozen into the cart line at add time.
type Item struct {
	ID    string
	Name  string
	Price int64
}

// CartLine is one (session, item) entry in the ephemeral cart.
// Lines are soft-deactivated, never hard-deleted, until the session
// itself is swept.
type CartLine struct {
	SessionID string
	ItemID    string
	Name      string
	Qty       int64
	UnitPrice int64
	Active    bool
	UpdatedAt time.Time
}

// Cart is the active view of a session's cart with computed subtotal.
type Cart struct {
	SessionID string
	Lines     []CartLine
	Subtotal  int64
}

// Checkout status values.
const (
	CheckoutStarted   = "started"
	CheckoutPromoting = "promoting"
	CheckoutCompleted = "completed"
	CheckoutFailed    = "failed"
)

// Checkout is the persisted record of one checkout attempt, keyed by the
// caller's idempotency key. Status tracks the promotion state machine.
type Checkout struct {
	ID            string
	SessionID     string
	OrderType     string
	PaymentMethod string
	Status        string
	OrderID       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Order is a permanent record created exactly once per successful
// checkout. It references the originating session for traceability but
// outlives it.
type Order struct {
	ID            string
	CheckoutID    string
	SessionID     string
	OrderType     string
	PaymentMethod string
	Total         int64
	PlacedAt      time.Time
	Lines         []OrderLine
}

// OrderLine is a cart line frozen at promotion time.
type OrderLine struct {
	OrderID   string
	ItemID    string
	Name      string
	Qty       int64
	UnitPrice int64
}

// Event payloads. Fields are stable JSON contracts: replay and the trace
// tooling both decode them.

type SessionStartedPayload struct {
	UserID string `json:"user_id,omitempty"`
}

type MenuViewedPayload struct {
	Filter string `json:"filter,omitempty"`
	Count  int    `json:"count"`
}

type ItemAddedPayload struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Qty       int64  `json:"qty"`
	UnitPrice int64  `json:"unit_price"`
}

type ItemRemovedPayload struct {
	ItemID string `json:"item_id"`
}

type QuantityChangedPayload struct {
	ItemID string `json:"item_id"`
	Qty    int64  `json:"qty"`
}

type ItemReferencedPayload struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
}

type CheckoutStartedPayload struct {
	CheckoutID    string `json:"checkout_id"`
	OrderType     string `json:"order_type"`
	PaymentMethod string `json:"payment_method"`
}

type OrderPlacedPayload struct {
	OrderID    string `json:"order_id"`
	CheckoutID string `json:"checkout_id"`
	Total      int64  `json:"total"`
}
