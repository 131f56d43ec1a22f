package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/karupatti/tiffin/internal/catalog"
	"github.com/karupatti/tiffin/internal/checkout"
	"github.com/karupatti/tiffin/internal/engine"
	"github.com/karupatti/tiffin/internal/store"
	"github.com/karupatti/tiffin/internal/testutil"
)

// TraceEvent records the outcome of one scenario step.
// Timestamps are deliberately absent so traces are stable across runs.
type TraceEvent struct {
	Seq      int    `json:"seq"`
	Op       string `json:"op"`
	Item     string `json:"item,omitempty"`
	Qty      int64  `json:"qty,omitempty"`
	Count    int    `json:"count,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
	Changed  bool   `json:"changed,omitempty"`
	Error    string `json:"error,omitempty"`
	Subtotal int64  `json:"subtotal,omitempty"`
	Total    int64  `json:"total,omitempty"`
}

// Result holds the outcome of a scenario run.
type Result struct {
	// Trace records every step outcome in order.
	Trace []TraceEvent

	// Errors collects expectation failures. Empty means the run passed.
	Errors []string

	// FinalCart is the active cart after the last step.
	FinalCart store.Cart

	// Session is the session row after the last step.
	Session store.Session

	// Order is the placed order, when a promote step succeeded.
	Order *store.Order
}

// Passed reports whether the run met every expectation.
func (r *Result) Passed() bool {
	return len(r.Errors) == 0
}

// AddError records an expectation failure.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// menu is the fixed catalog scenarios run against.
func menu() *catalog.Catalog {
	return catalog.Static(
		catalog.Item{ID: "idly", Name: "Idly", Price: 40, Tags: []string{"breakfast"}},
		catalog.Item{ID: "masala-dosa", Name: "Masala Dosa", Price: 80, Tags: []string{"breakfast", "dosa"}},
		catalog.Item{ID: "medu-vada", Name: "Medu Vada", Price: 50, Tags: []string{"breakfast"}},
		catalog.Item{ID: "filter-coffee", Name: "Filter Coffee", Price: 30, Tags: []string{"beverage"}},
	)
}

// Run executes a scenario against a fresh in-memory stack.
//
// Each run gets its own database, engine, and transactor, with
// sequence-numbered checkout/order tokens for reproducible traces.
// An error return means the harness itself failed; expectation
// failures land in Result.Errors instead.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("create in-memory store: %w", err)
	}
	defer st.Close()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng := engine.New(st, menu(),
		engine.WithLogger(quiet),
		engine.WithTokenGenerator(testutil.NewSequenceGenerator("checkout")))

	tr := checkout.New(st,
		checkout.WithLogger(quiet),
		checkout.WithRetryDelay(0),
		checkout.WithTokenGenerator(testutil.NewSequenceGenerator("order")))

	session := scenario.Session
	if session == "" {
		session = "s1"
	}

	ctx := context.Background()
	result := &Result{}
	var lastCheckout string

	for i, step := range scenario.Steps {
		ev := TraceEvent{Seq: i + 1, Op: step.Op}

		var stepErr error
		switch step.Op {
		case OpAdd:
			ev.Item = step.Item
			ev.Qty = step.Qty
			var cart store.Cart
			cart, stepErr = eng.AddToCart(ctx, session, step.Item, step.Qty)
			ev.Subtotal = cart.Subtotal

		case OpRemove:
			ev.Item = step.Item
			var cart store.Cart
			cart, ev.Removed, stepErr = eng.RemoveFromCart(ctx, session, step.Item)
			ev.Subtotal = cart.Subtotal

		case OpSetQuantity:
			ev.Item = step.Item
			ev.Qty = step.Qty
			var cart store.Cart
			cart, ev.Changed, stepErr = eng.SetQuantity(ctx, session, step.Item, step.Qty)
			ev.Subtotal = cart.Subtotal

		case OpResolveReference:
			var item store.Item
			item, stepErr = eng.ResolveReference(ctx, session)
			ev.Item = item.ID

		case OpRecordMention:
			var item store.Item
			item, stepErr = eng.RecordMention(ctx, session, step.Item)
			ev.Item = item.ID

		case OpViewMenu:
			var items []catalog.Item
			items, stepErr = eng.ViewMenu(ctx, session, step.Filter)
			ev.Count = len(items)

		case OpCheckout:
			var chk store.Checkout
			chk, stepErr = eng.BeginCheckout(ctx, session, step.OrderType, step.Payment)
			ev.Item = chk.ID
			lastCheckout = chk.ID

		case OpPromote:
			if lastCheckout == "" {
				return nil, fmt.Errorf("steps[%d]: promote without a prior checkout", i)
			}
			var order store.Order
			order, stepErr = tr.Promote(ctx, lastCheckout)
			if stepErr == nil {
				ev.Total = order.Total
				result.Order = &order
			}

		default:
			return nil, fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}

		if stepErr != nil {
			code := errorCode(stepErr)
			if code == "" {
				return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Op, stepErr)
			}
			ev.Error = code
		}

		if step.Error != "" && ev.Error != step.Error {
			result.AddError("steps[%d] %s: expected error %q, got %q", i, step.Op, step.Error, ev.Error)
		}
		if step.Error == "" && ev.Error != "" {
			result.AddError("steps[%d] %s: unexpected error %s", i, step.Op, ev.Error)
		}

		result.Trace = append(result.Trace, ev)
	}

	result.FinalCart, err = st.GetCart(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("read final cart: %w", err)
	}

	sess, err := st.GetSession(ctx, session)
	if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return nil, fmt.Errorf("read final session: %w", err)
	}
	result.Session = sess

	evaluateExpect(result, scenario.Expect)

	return result, nil
}

// errorCode extracts the engine error code, or "" for other errors.
func errorCode(err error) string {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	return ""
}
