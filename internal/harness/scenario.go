package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conversational ordering test case: a session,
// an ordered list of operations, and the expected final state.
type Scenario struct {
	// Name uniquely identifies this scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Session is the session id the steps run against.
	// Defaults to "s1" when empty.
	Session string `yaml:"session,omitempty"`

	// Steps is the ordered operation list.
	Steps []Step `yaml:"steps"`

	// Expect validates final state after all steps ran. Optional.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step is one operation in a scenario.
type Step struct {
	// Op names the operation. One of: add, remove, set-quantity,
	// resolve-reference, record-mention, view-menu, checkout, promote.
	Op string `yaml:"op"`

	// Item is the free-form item reference (add, remove, set-quantity,
	// record-mention). Names resolve through the catalog like user input.
	Item string `yaml:"item,omitempty"`

	// Qty is the quantity for add and set-quantity.
	Qty int64 `yaml:"qty,omitempty"`

	// Filter narrows view-menu output.
	Filter string `yaml:"filter,omitempty"`

	// OrderType and Payment parameterize checkout.
	OrderType string `yaml:"order_type,omitempty"`
	Payment   string `yaml:"payment,omitempty"`

	// Error is the engine error code this step must fail with
	// (e.g. "NOT_FOUND"). Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`
}

// Expect validates the final state of the session.
// All fields are subset checks; omitted fields are not validated.
type Expect struct {
	// Step is the expected session step (e.g. "completed").
	Step string `yaml:"step,omitempty"`

	// Subtotal is the expected active-cart subtotal.
	Subtotal *int64 `yaml:"subtotal,omitempty"`

	// Lines are the expected active cart lines, in order.
	Lines []LineExpect `yaml:"lines,omitempty"`

	// OrderTotal is the expected total of the placed order.
	OrderTotal *int64 `yaml:"order_total,omitempty"`

	// OrderLines is the expected number of order lines.
	OrderLines int `yaml:"order_lines,omitempty"`
}

// LineExpect is one expected cart line.
type LineExpect struct {
	ItemID string `yaml:"item_id"`
	Qty    int64  `yaml:"qty"`
}

// Step op constants.
const (
	OpAdd              = "add"
	OpRemove           = "remove"
	OpSetQuantity      = "set-quantity"
	OpResolveReference = "resolve-reference"
	OpRecordMention    = "record-mention"
	OpViewMenu         = "view-menu"
	OpCheckout         = "checkout"
	OpPromote          = "promote"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly instead of being
// silently ignored.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its op.
func validateStep(index int, step *Step) error {
	switch step.Op {
	case OpAdd, OpRemove, OpRecordMention:
		if step.Item == "" {
			return fmt.Errorf("steps[%d]: item is required for %s", index, step.Op)
		}
	case OpSetQuantity:
		if step.Item == "" {
			return fmt.Errorf("steps[%d]: item is required for set-quantity", index)
		}
	case OpResolveReference, OpViewMenu, OpPromote:
		// No required fields.
	case OpCheckout:
		if step.OrderType == "" {
			return fmt.Errorf("steps[%d]: order_type is required for checkout", index)
		}
		if step.Payment == "" {
			return fmt.Errorf("steps[%d]: payment is required for checkout", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}

	return nil
}
