// Package order is the per-conversation order aggregate.
//
// Lines reference catalog items by id and never own them. Totals are computed from the
// lines on every call; nothing is cached.
package order

import (
	"errors"
	"fmt"
	"sort"

	"drivethru-orchestrator/internal/conversation/menu"
)

var (
	ErrUnknownItem            = errors.New("UNKNOWN_ITEM")
	ErrInvalidQuantity        = errors.New("INVALID_QUANTITY")
	ErrModificationNotAllowed = errors.New("MODIFICATION_NOT_ALLOWED")
	ErrLineNotFound           = errors.New("LINE_NOT_FOUND")
)

type Line struct {
	ItemID        string   `json:"itemId"`
	Quantity      int      `json:"quantity"`
	Modifications []string `json:"modifications,omitempty"`
}

func (l Line) clone() Line {
	if l.Modifications != nil {
		l.Modifications = append([]string(nil), l.Modifications...)
	}
	return l
}

func (l Line) sameConfiguration(itemID string, mods []string) bool {
	if l.ItemID != itemID || len(l.Modifications) != len(mods) {
		return false
	}
	for i := range mods {
		if l.Modifications[i] != mods[i] {
			return false
		}
	}
	return true
}

// PricedLine is a line joined with its catalog entry, for read-back.
type PricedLine struct {
	Item          menu.MenuItem `json:"item"`
	Quantity      int           `json:"quantity"`
	Modifications []string      `json:"modifications,omitempty"`
	UnitPrice     menu.Cents    `json:"unitPrice"`
	Subtotal      menu.Cents    `json:"subtotal"`
}

type Order struct {
	catalog *menu.Catalog
	lines   []Line
}

func New(catalog *menu.Catalog) *Order {
	return &Order{catalog: catalog}
}

// Clone returns an independent copy sharing only the read-only catalog.
func (o *Order) Clone() *Order {
	c := &Order{catalog: o.catalog, lines: make([]Line, len(o.lines))}
	for i, l := range o.lines {
		c.lines[i] = l.clone()
	}
	return c
}

func (o *Order) Lines() []Line {
	out := make([]Line, len(o.lines))
	for i, l := range o.lines {
		out[i] = l.clone()
	}
	return out
}

func (o *Order) Len() int      { return len(o.lines) }
func (o *Order) IsEmpty() bool { return len(o.lines) == 0 }

// Items returns the distinct items in the order, in line order.
func (o *Order) Items() []menu.MenuItem {
	var out []menu.MenuItem
	seen := make(map[string]bool, len(o.lines))
	for _, l := range o.lines {
		if seen[l.ItemID] {
			continue
		}
		seen[l.ItemID] = true
		if item, ok := o.catalog.Item(l.ItemID); ok {
			out = append(out, item)
		}
	}
	return out
}

// Contains reports whether any line holds the item.
func (o *Order) Contains(itemID string) bool {
	_, ok := o.Find(itemID)
	return ok
}

// Find returns the index of the most recent line holding the item.
func (o *Order) Find(itemID string) (int, bool) {
	for i := len(o.lines) - 1; i >= 0; i-- {
		if o.lines[i].ItemID == itemID {
			return i, true
		}
	}
	return -1, false
}

// Add appends a line, or grows an existing line with the same item and modification set.
func (o *Order) Add(itemID string, quantity int, mods []string) (Line, error) {
	item, ok := o.catalog.Item(itemID)
	if !ok {
		return Line{}, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	if quantity < 1 {
		return Line{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	normalized, err := validMods(item, mods)
	if err != nil {
		return Line{}, err
	}

	for i := range o.lines {
		if o.lines[i].sameConfiguration(itemID, normalized) {
			o.lines[i].Quantity += quantity
			return o.lines[i].clone(), nil
		}
	}

	line := Line{ItemID: itemID, Quantity: quantity, Modifications: normalized}
	o.lines = append(o.lines, line)
	return line.clone(), nil
}

// RemoveResult describes what a Remove did.
type RemoveResult struct {
	Line        Line
	Removed     int
	LineRemoved bool
}

// Remove takes quantity units off the most recent line holding the item. A quantity of 0,
// or one covering the whole line, removes the line.
func (o *Order) Remove(itemID string, quantity int) (RemoveResult, error) {
	if quantity < 0 {
		return RemoveResult{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	idx, ok := o.Find(itemID)
	if !ok {
		return RemoveResult{}, fmt.Errorf("%w: %s", ErrLineNotFound, itemID)
	}

	line := o.lines[idx]
	if quantity == 0 || quantity >= line.Quantity {
		o.lines = append(o.lines[:idx], o.lines[idx+1:]...)
		return RemoveResult{Line: line.clone(), Removed: line.Quantity, LineRemoved: true}, nil
	}

	o.lines[idx].Quantity -= quantity
	return RemoveResult{Line: o.lines[idx].clone(), Removed: quantity}, nil
}

// Modify applies a modification to the most recent line holding the item. If the line then
// matches another line's configuration the two are merged into the earlier one.
func (o *Order) Modify(itemID, modification string) (Line, error) {
	idx, ok := o.Find(itemID)
	if !ok {
		return Line{}, fmt.Errorf("%w: %s", ErrLineNotFound, itemID)
	}
	item, ok := o.catalog.Item(itemID)
	if !ok {
		return Line{}, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}

	line := o.lines[idx]
	mods, err := validMods(item, append(append([]string(nil), line.Modifications...), modification))
	if err != nil {
		return Line{}, err
	}

	for i := range o.lines {
		if i != idx && o.lines[i].sameConfiguration(itemID, mods) {
			o.lines[i].Quantity += line.Quantity
			merged := o.lines[i].clone()
			o.lines = append(o.lines[:idx], o.lines[idx+1:]...)
			return merged, nil
		}
	}

	o.lines[idx].Modifications = mods
	return o.lines[idx].clone(), nil
}

// UnitPrice is the item price plus its modification surcharges.
func (o *Order) UnitPrice(l Line) menu.Cents {
	item, ok := o.catalog.Item(l.ItemID)
	if !ok {
		return 0
	}
	price := item.Price
	for _, tag := range l.Modifications {
		if mod, ok := item.Modification(tag); ok {
			price += mod.Surcharge
		}
	}
	return price
}

func (o *Order) Subtotal(l Line) menu.Cents {
	return o.UnitPrice(l) * menu.Cents(l.Quantity)
}

func (o *Order) Total() menu.Cents {
	var total menu.Cents
	for _, l := range o.lines {
		total += o.Subtotal(l)
	}
	return total
}

func (o *Order) Priced() []PricedLine {
	out := make([]PricedLine, 0, len(o.lines))
	for _, l := range o.lines {
		item, _ := o.catalog.Item(l.ItemID)
		out = append(out, PricedLine{
			Item:          item,
			Quantity:      l.Quantity,
			Modifications: append([]string(nil), l.Modifications...),
			UnitPrice:     o.UnitPrice(l),
			Subtotal:      o.Subtotal(l),
		})
	}
	return out
}

// validMods normalizes, de-duplicates and sorts mods, rejecting any the item does not allow.
func validMods(item menu.MenuItem, mods []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool, len(mods))
	for _, m := range mods {
		tag := menu.NormalizeTag(m)
		if tag == "" || seen[tag] {
			continue
		}
		if _, ok := item.Modification(tag); !ok {
			return nil, fmt.Errorf("%w: %q on %s", ErrModificationNotAllowed, tag, item.Name)
		}
		seen[tag] = true
		out = append(out, tag)
	}
	sort.Strings(out)
	return out, nil
}
