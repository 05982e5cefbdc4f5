// Package upsell picks a follow-up suggestion from the current order.
package upsell

import (
	"drivethru-orchestrator/internal/conversation/menu"
	"drivethru-orchestrator/internal/conversation/order"
)

// Rules names the catalog entries the suggester draws from.
type Rules struct {
	MainCategories []string
	DrinkCategory  string
	SideCategory   string

	Drink       string
	Side        string
	Main        string
	Bundle      string
	BundleBelow menu.Cents
}

func DefaultRules() Rules {
	return Rules{
		MainCategories: []string{"Tacos", "Burritos"},
		DrinkCategory:  "Drinks",
		SideCategory:   "Sides",
		Drink:          "baja-blast",
		Side:           "nacho-fries",
		Main:           "crunchy-taco",
		Bundle:         "cravings-box",
		BundleBelow:    500,
	}
}

type Suggester struct {
	catalog *menu.Catalog
	rules   Rules
}

func NewSuggester(catalog *menu.Catalog, rules Rules) *Suggester {
	return &Suggester{catalog: catalog, rules: rules}
}

// Suggestions returns candidate add-ons in priority order. Items already in the order are
// never returned.
func (s *Suggester) Suggestions(o *order.Order) []menu.MenuItem {
	var hasMain, hasDrink, hasSide bool
	for _, item := range o.Items() {
		switch {
		case item.Category == s.rules.DrinkCategory:
			hasDrink = true
		case item.Category == s.rules.SideCategory:
			hasSide = true
		case s.isMain(item.Category):
			hasMain = true
		}
	}

	var ids []string
	if hasMain && o.Total() < s.rules.BundleBelow {
		ids = append(ids, s.rules.Bundle)
	}
	if hasMain && !hasDrink {
		ids = append(ids, s.rules.Drink)
	}
	if hasMain && !hasSide {
		ids = append(ids, s.rules.Side)
	}
	if !hasMain {
		ids = append(ids, s.rules.Main)
	}

	var out []menu.MenuItem
	for _, id := range ids {
		if id == "" || o.Contains(id) {
			continue
		}
		if item, ok := s.catalog.Item(id); ok {
			out = append(out, item)
		}
	}
	return out
}

// Suggest returns the highest-priority suggestion, if any.
func (s *Suggester) Suggest(o *order.Order) (menu.MenuItem, bool) {
	all := s.Suggestions(o)
	if len(all) == 0 {
		return menu.MenuItem{}, false
	}
	return all[0], true
}

func (s *Suggester) isMain(category string) bool {
	for _, c := range s.rules.MainCategories {
		if c == category {
			return true
		}
	}
	return false
}
