// Package catalog provides the menu lookup collaborator for the
// ordering engine.
//
// The menu is defined in CUE files validated against the embedded
// #MenuItem schema (see loader.go). Lookups match by item id first,
// then by NFC-normalized, case-folded display name, so "idly",
// "Idly " and "IDLY" all resolve to the same item.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrItemNotFound is returned when a reference resolves to no menu item.
var ErrItemNotFound = errors.New("item not found")

// Item is one menu entry. Price is in whole rupees.
type Item struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Price int64    `json:"price"`
	Tags  []string `json:"tags,omitempty"`
}

// Catalog is an immutable menu with id and normalized-name indexes.
// Safe for concurrent use.
type Catalog struct {
	items  []Item
	byID   map[string]Item
	byName map[string]Item
}

// New builds a catalog from menu entries, preserving menu order.
// Duplicate ids or names (after normalization) are rejected.
func New(items []Item) (*Catalog, error) {
	c := &Catalog{
		items:  make([]Item, len(items)),
		byID:   make(map[string]Item, len(items)),
		byName: make(map[string]Item, len(items)),
	}
	copy(c.items, items)

	for _, item := range items {
		if item.ID == "" || item.Name == "" {
			return nil, fmt.Errorf("catalog: item id and name are required (id=%q name=%q)", item.ID, item.Name)
		}
		if item.Price <= 0 {
			return nil, fmt.Errorf("catalog: item %q: price must be positive, got %d", item.ID, item.Price)
		}
		if _, dup := c.byID[item.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate item id %q", item.ID)
		}
		key := normalizeName(item.Name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("catalog: duplicate item name %q", item.Name)
		}
		c.byID[item.ID] = item
		c.byName[key] = item
	}

	return c, nil
}

// Static builds a catalog and panics on invalid entries.
// Intended for tests and fixtures with known-good data.
func Static(items ...Item) *Catalog {
	c, err := New(items)
	if err != nil {
		panic(err)
	}
	return c
}

// Resolve finds a menu item by id or display name.
// Returns an error wrapping ErrItemNotFound when nothing matches.
func (c *Catalog) Resolve(ref string) (Item, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Item{}, fmt.Errorf("empty reference: %w", ErrItemNotFound)
	}

	if item, ok := c.byID[ref]; ok {
		return item, nil
	}
	if item, ok := c.byName[normalizeName(ref)]; ok {
		return item, nil
	}

	return Item{}, fmt.Errorf("%q: %w", ref, ErrItemNotFound)
}

// List returns menu items whose name or tag contains the filter,
// in menu order. An empty filter returns the full menu.
func (c *Catalog) List(filter string) []Item {
	if strings.TrimSpace(filter) == "" {
		out := make([]Item, len(c.items))
		copy(out, c.items)
		return out
	}

	needle := normalizeName(filter)
	var out []Item
	for _, item := range c.items {
		if strings.Contains(normalizeName(item.Name), needle) {
			out = append(out, item)
			continue
		}
		for _, tag := range item.Tags {
			if strings.Contains(normalizeName(tag), needle) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// Len returns the number of menu items.
func (c *Catalog) Len() int {
	return len(c.items)
}

// normalizeName canonicalizes a display name for matching:
// NFC normalization, case folding, and whitespace collapsing.
func normalizeName(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}
