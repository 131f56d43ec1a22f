package harness

// evaluateExpect checks the scenario's final-state expectation against
// the run result, recording any mismatch as a result error.
func evaluateExpect(result *Result, expect *Expect) {
	if expect == nil {
		return
	}

	if expect.Step != "" && string(result.Session.Step) != expect.Step {
		result.AddError("expected session step %q, got %q", expect.Step, result.Session.Step)
	}

	if expect.Subtotal != nil && result.FinalCart.Subtotal != *expect.Subtotal {
		result.AddError("expected subtotal %d, got %d", *expect.Subtotal, result.FinalCart.Subtotal)
	}

	if expect.Lines != nil {
		if len(result.FinalCart.Lines) != len(expect.Lines) {
			result.AddError("expected %d cart lines, got %d", len(expect.Lines), len(result.FinalCart.Lines))
		} else {
			for i, want := range expect.Lines {
				got := result.FinalCart.Lines[i]
				if got.ItemID != want.ItemID || got.Qty != want.Qty {
					result.AddError("cart line %d: expected %s x%d, got %s x%d",
						i, want.ItemID, want.Qty, got.ItemID, got.Qty)
				}
			}
		}
	}

	if expect.OrderTotal != nil {
		if result.Order == nil {
			result.AddError("expected an order with total %d, got none", *expect.OrderTotal)
		} else if result.Order.Total != *expect.OrderTotal {
			result.AddError("expected order total %d, got %d", *expect.OrderTotal, result.Order.Total)
		}
	}

	if expect.OrderLines > 0 {
		if result.Order == nil {
			result.AddError("expected an order with %d lines, got none", expect.OrderLines)
		} else if len(result.Order.Lines) != expect.OrderLines {
			result.AddError("expected %d order lines, got %d", expect.OrderLines, len(result.Order.Lines))
		}
	}
}
