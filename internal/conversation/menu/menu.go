// Package menu holds the read-only catalog every conversation resolves against.
//
// A Catalog is built once at startup and shared by all sessions. Nothing in this package
// mutates a Catalog after NewCatalog returns, so concurrent readers need no locking.
package menu

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCatalog = errors.New("EMPTY_CATALOG")
	ErrInvalidItem  = errors.New("INVALID_MENU_ITEM")
)

// Cents is a money amount in US cents.
type Cents int64

func (c Cents) String() string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, c/100, c%100)
}

// Modification is a tag a customer may apply to an item, e.g. "no lettuce".
type Modification struct {
	Tag       string `json:"tag"`
	Surcharge Cents  `json:"surcharge_cents"`
}

// MenuItem is immutable once the catalog is built.
type MenuItem struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Category      string         `json:"category"`
	Price         Cents          `json:"price_cents"`
	Modifications []Modification `json:"modifications"`
	Synonyms      []string       `json:"synonyms"`
}

// Modification looks up an allowed modification by tag. Tags compare case-insensitively.
func (m MenuItem) Modification(tag string) (Modification, bool) {
	tag = NormalizeTag(tag)
	for _, mod := range m.Modifications {
		if mod.Tag == tag {
			return mod, true
		}
	}
	return Modification{}, false
}

// Texts returns the canonical name followed by the synonyms.
func (m MenuItem) Texts() []string {
	texts := make([]string, 0, 1+len(m.Synonyms))
	texts = append(texts, m.Name)
	return append(texts, m.Synonyms...)
}

// NormalizeTag lower-cases and trims a modification tag and collapses inner whitespace.
func NormalizeTag(tag string) string {
	return strings.Join(strings.Fields(strings.ToLower(tag)), " ")
}

// Catalog is an ordered, read-only set of menu items.
type Catalog struct {
	items      []MenuItem
	byID       map[string]int
	categories []string
}

// NewCatalog validates items and freezes them in the given order. Insertion order is the
// resolver's tie-break, so callers must pass items in menu order.
func NewCatalog(items []MenuItem, categories ...string) (*Catalog, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		items: make([]MenuItem, 0, len(items)),
		byID:  make(map[string]int, len(items)),
	}

	seenCategory := make(map[string]bool)
	for _, cat := range categories {
		if cat != "" && !seenCategory[cat] {
			seenCategory[cat] = true
			c.categories = append(c.categories, cat)
		}
	}

	for i, item := range items {
		if err := validateItem(item); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidItem, i, err)
		}
		if _, dup := c.byID[item.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidItem, item.ID)
		}

		c.byID[item.ID] = len(c.items)
		c.items = append(c.items, freeze(item))

		if item.Category != "" && !seenCategory[item.Category] {
			seenCategory[item.Category] = true
			c.categories = append(c.categories, item.Category)
		}
	}
	return c, nil
}

func validateItem(item MenuItem) error {
	if strings.TrimSpace(item.ID) == "" {
		return errors.New("id is empty")
	}
	if strings.TrimSpace(item.Name) == "" {
		return errors.New("name is empty")
	}
	if item.Price < 0 {
		return fmt.Errorf("negative price %d", item.Price)
	}
	seen := make(map[string]bool, len(item.Modifications))
	for _, mod := range item.Modifications {
		tag := NormalizeTag(mod.Tag)
		if tag == "" {
			return errors.New("empty modification tag")
		}
		if seen[tag] {
			return fmt.Errorf("duplicate modification %q", tag)
		}
		seen[tag] = true
		if mod.Surcharge < 0 {
			return fmt.Errorf("negative surcharge on %q", tag)
		}
	}
	return nil
}

// freeze copies the slices so later changes to the caller's input cannot leak in.
func freeze(item MenuItem) MenuItem {
	mods := make([]Modification, len(item.Modifications))
	for i, mod := range item.Modifications {
		mods[i] = Modification{Tag: NormalizeTag(mod.Tag), Surcharge: mod.Surcharge}
	}
	item.Modifications = mods

	syns := make([]string, 0, len(item.Synonyms))
	for _, s := range item.Synonyms {
		if s = strings.TrimSpace(s); s != "" {
			syns = append(syns, s)
		}
	}
	item.Synonyms = syns
	return item
}

// Item returns the item with the given id.
func (c *Catalog) Item(id string) (MenuItem, bool) {
	i, ok := c.byID[id]
	if !ok {
		return MenuItem{}, false
	}
	return c.items[i], true
}

// Items returns the items in catalog order. The slice is a copy.
func (c *Catalog) Items() []MenuItem {
	out := make([]MenuItem, len(c.items))
	copy(out, c.items)
	return out
}

// Position is the item's catalog index, or -1.
func (c *Catalog) Position(id string) int {
	if i, ok := c.byID[id]; ok {
		return i
	}
	return -1
}

func (c *Catalog) Len() int { return len(c.items) }

// Categories lists categories in first-seen order.
func (c *Catalog) Categories() []string {
	out := make([]string, len(c.categories))
	copy(out, c.categories)
	return out
}

// InCategory returns the items of one category, in catalog order.
func (c *Catalog) InCategory(category string) []MenuItem {
	var out []MenuItem
	for _, item := range c.items {
		if strings.EqualFold(item.Category, category) {
			out = append(out, item)
		}
	}
	return out
}
