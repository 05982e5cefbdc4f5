// Package dialogue is the per-conversation state machine. It applies one typed intent to a
// conversation and returns the next conversation together with a response directive.
package dialogue

import (
	"drivethru-orchestrator/internal/conversation/intent"
	"drivethru-orchestrator/internal/conversation/menu"
	"drivethru-orchestrator/internal/conversation/order"
	"drivethru-orchestrator/internal/conversation/repair"
	"drivethru-orchestrator/internal/conversation/resolver"
)

type StateKind string

const (
	StateGreeting              StateKind = "greeting"
	StateOrdering              StateKind = "ordering"
	StateAwaitingClarification StateKind = "awaiting_clarification"
	StateAwaitingConfirmation  StateKind = "awaiting_confirmation"
	StateClosed                StateKind = "closed"
)

func (s StateKind) IsTerminal() bool { return s == StateClosed }

// Target is where a pending reference was resolved: the whole menu or the current order.
type Target string

const (
	TargetMenu  Target = "menu"
	TargetOrder Target = "order"
)

// Pending is an open clarification question.
type Pending struct {
	Reference resolver.Reference
	Intent    intent.Intent
	Target    Target
	Attempts  int
}

type State struct {
	Kind    StateKind
	Pending *Pending
}

// Conversation owns exactly one order and one dialogue state.
type Conversation struct {
	State  State
	Order  *order.Order
	Policy *repair.Policy
	Turns  int
}

func NewConversation(catalog *menu.Catalog, repairConfig repair.Config) *Conversation {
	return &Conversation{
		State:  State{Kind: StateGreeting},
		Order:  order.New(catalog),
		Policy: repair.NewPolicy(repairConfig),
	}
}

// Clone returns a deep copy. The machine only ever mutates clones.
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{
		State:  State{Kind: c.State.Kind},
		Order:  c.Order.Clone(),
		Policy: c.Policy.Clone(),
		Turns:  c.Turns,
	}
	if p := c.State.Pending; p != nil {
		cp := *p
		cp.Reference.Candidates = append([]resolver.Candidate(nil), p.Reference.Candidates...)
		out.State.Pending = &cp
	}
	return out
}

type DirectiveKind string

const (
	DirectiveGreeted                DirectiveKind = "greeted"
	DirectiveConfirmation           DirectiveKind = "confirmation"
	DirectiveDisambiguation         DirectiveKind = "disambiguation"
	DirectiveNotOnMenu              DirectiveKind = "not_on_menu"
	DirectiveNotInOrder             DirectiveKind = "not_in_order"
	DirectiveItemRemoved            DirectiveKind = "item_removed"
	DirectiveItemModified           DirectiveKind = "item_modified"
	DirectiveModificationNotAllowed DirectiveKind = "modification_not_allowed"
	DirectiveSummary                DirectiveKind = "summary"
	DirectivePromptOrderFirst       DirectiveKind = "prompt_order_first"
	DirectivePromptContinue         DirectiveKind = "prompt_continue"
	DirectiveWhatToChange           DirectiveKind = "what_to_change"
	DirectiveOrderAccepted          DirectiveKind = "order_accepted"
	DirectiveReprompt               DirectiveKind = "reprompt"
	DirectiveEscalation             DirectiveKind = "escalation"
	DirectiveSessionClosed          DirectiveKind = "session_closed"
)

type ItemRef struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Price menu.Cents `json:"price"`
}

func refOf(item menu.MenuItem) *ItemRef {
	return &ItemRef{ID: item.ID, Name: item.Name, Price: item.Price}
}

type SummaryLine struct {
	ItemID        string     `json:"itemId"`
	Name          string     `json:"name"`
	Quantity      int        `json:"quantity"`
	Modifications []string   `json:"modifications,omitempty"`
	Subtotal      menu.Cents `json:"subtotal"`
}

// Lines renders an order for read-back.
func Lines(o *order.Order) []SummaryLine {
	var out []SummaryLine
	for _, p := range o.Priced() {
		out = append(out, SummaryLine{
			ItemID:        p.Item.ID,
			Name:          p.Item.Name,
			Quantity:      p.Quantity,
			Modifications: p.Modifications,
			Subtotal:      p.Subtotal,
		})
	}
	return out
}

// Directive tells the rendering layer what to say. Only the fields relevant to Kind are set.
type Directive struct {
	Kind          DirectiveKind `json:"kind"`
	Phrase        string        `json:"phrase,omitempty"`
	Item          *ItemRef      `json:"item,omitempty"`
	Quantity      int           `json:"quantity,omitempty"`
	Price         menu.Cents    `json:"price,omitempty"`
	Modification  string        `json:"modification,omitempty"`
	Modifications []string      `json:"modifications,omitempty"`
	Candidates    []ItemRef     `json:"candidates,omitempty"`
	Lines         []SummaryLine `json:"lines,omitempty"`
	Total         menu.Cents    `json:"total,omitempty"`
	Suggestion    *ItemRef      `json:"suggestion,omitempty"`
	Message       string        `json:"message,omitempty"`
	Categories    []string      `json:"categories,omitempty"`
	// Change is the directive for an edit made while the order was being confirmed.
	Change *Directive `json:"change,omitempty"`
}

// Result is the outcome of one Apply. Conversation is the next conversation; the caller
// commits it.
type Result struct {
	Conversation *Conversation
	Directive    Directive
	Intent       intent.Kind
	Resolution   resolver.Outcome
	Failure      repair.FailureKind
	Action       repair.ActionKind
}
