package dialogue

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"drivethru-orchestrator/internal/conversation/intent"
	"drivethru-orchestrator/internal/conversation/menu"
	"drivethru-orchestrator/internal/conversation/order"
	"drivethru-orchestrator/internal/conversation/repair"
	"drivethru-orchestrator/internal/conversation/resolver"
	"drivethru-orchestrator/internal/conversation/upsell"
)

// Resolver grounds phrases against the menu or a subset of it.
type Resolver interface {
	Resolve(ctx context.Context, phrase string, topK int) (resolver.Reference, error)
	ResolveAmong(ctx context.Context, phrase string, items []menu.MenuItem, topK int) (resolver.Reference, error)
}

type Config struct {
	// TopK bounds the candidates offered in a clarification question. 0 uses the resolver's.
	TopK int
	// ClarifyAttempts is how many unrelated answers a clarification question tolerates.
	ClarifyAttempts int
}

func DefaultConfig() Config {
	return Config{TopK: 3, ClarifyAttempts: 2}
}

type Machine struct {
	catalog   *menu.Catalog
	resolver  Resolver
	config    Config
	suggester *upsell.Suggester
}

func NewMachine(catalog *menu.Catalog, res Resolver, config Config) *Machine {
	if config.ClarifyAttempts < 1 {
		config.ClarifyAttempts = DefaultConfig().ClarifyAttempts
	}
	return &Machine{catalog: catalog, resolver: res, config: config}
}

// WithUpsell attaches a suggester whose first suggestion rides on Confirmation directives.
func (m *Machine) WithUpsell(s *upsell.Suggester) *Machine {
	m.suggester = s
	return m
}

// Apply applies in to a copy of conv. conv itself is never modified, so a cancelled turn
// leaves the caller's conversation exactly as it was. The only error is the context's.
func (m *Machine) Apply(ctx context.Context, conv *Conversation, in intent.Intent) (Result, error) {
	next := conv.Clone()
	next.Turns++

	t := &turn{m: m, ctx: ctx, conv: next}
	t.res.Intent = in.Kind()

	d, err := t.dispatch(in)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	t.res.Conversation = next
	t.res.Directive = d
	return t.res, nil
}

// RecoveryHint is the prompt offered to a confused customer in the given state.
func (m *Machine) RecoveryHint(conv *Conversation) string {
	switch conv.State.Kind {
	case StateGreeting:
		return "Welcome! What can I get you?"
	case StateAwaitingClarification:
		if p := conv.State.Pending; p != nil {
			names := make([]string, 0, len(p.Reference.Candidates))
			for _, c := range p.Reference.Candidates {
				names = append(names, c.Item.Name)
			}
			return "Did you mean " + strings.Join(names, " or ") + "?"
		}
	case StateAwaitingConfirmation:
		return "Here's your order so far. Is everything correct?"
	case StateClosed:
		return ""
	}
	return "What would you like to order?"
}

// turn carries one Apply call.
type turn struct {
	m    *Machine
	ctx  context.Context
	conv *Conversation
	res  Result
}

func (t *turn) dispatch(in intent.Intent) (Directive, error) {
	switch t.conv.State.Kind {
	case StateClosed:
		return t.closed(), nil

	case StateGreeting:
		if _, ok := in.(intent.EndOrder); ok {
			t.conv.Policy.Recognized()
			return Directive{Kind: DirectivePromptOrderFirst}, nil
		}
		t.conv.State = State{Kind: StateOrdering}
		return t.ordering(in)

	case StateAwaitingClarification:
		return t.clarifying(in)

	case StateAwaitingConfirmation:
		return t.confirming(in)

	default:
		return t.ordering(in)
	}
}

func (t *turn) closed() Directive {
	act := t.conv.Policy.Classify(repair.Failure{Kind: repair.FailureAfterClose})
	t.res.Failure = repair.FailureAfterClose
	t.res.Action = act.Kind
	return Directive{Kind: DirectiveSessionClosed}
}

// ==========================
// Ordering
// ==========================

func (t *turn) ordering(in intent.Intent) (Directive, error) {
	if _, ok := in.(intent.Unknown); !ok {
		t.conv.Policy.Recognized()
	}

	switch v := in.(type) {
	case intent.Greeting:
		return Directive{Kind: DirectiveGreeted}, nil
	case intent.AddItem:
		return t.add(v)
	case intent.RemoveItem:
		return t.remove(v)
	case intent.ModifyItem:
		return t.modify(v)
	case intent.Confirm, intent.Deny:
		return Directive{Kind: DirectivePromptContinue}, nil
	case intent.EndOrder:
		if t.conv.Order.IsEmpty() {
			return Directive{Kind: DirectivePromptOrderFirst}, nil
		}
		t.conv.State = State{Kind: StateAwaitingConfirmation}
		return t.summary(), nil
	case intent.Unknown:
		return t.unknown(v), nil
	default:
		return t.unknown(intent.Unknown{Reason: intent.ReasonUnrecognized}), nil
	}
}

func (t *turn) add(v intent.AddItem) (Directive, error) {
	ref, err := t.resolveMenu(v.ItemPhrase)
	if err != nil {
		return t.collaboratorFailure(err)
	}

	switch ref.Outcome {
	case resolver.OutcomeResolved:
		return t.addResolved(ref.Item, v), nil
	case resolver.OutcomeAmbiguous:
		return t.clarify(ref, v, TargetMenu), nil
	default:
		return t.resolutionFailure(repair.FailureNotFound, v.ItemPhrase,
			Directive{Kind: DirectiveNotOnMenu, Phrase: v.ItemPhrase}), nil
	}
}

func (t *turn) addResolved(item menu.MenuItem, v intent.AddItem) Directive {
	t.conv.Policy.Resolved()

	line, err := t.conv.Order.Add(item.ID, v.Quantity, v.Modifications)
	if err != nil {
		return t.invariantFailure(item, v.Modifications, err)
	}

	unit := t.conv.Order.UnitPrice(order.Line{ItemID: item.ID, Modifications: line.Modifications})
	d := Directive{
		Kind:          DirectiveConfirmation,
		Item:          refOf(item),
		Quantity:      v.Quantity,
		Price:         unit * menu.Cents(v.Quantity),
		Modifications: line.Modifications,
	}
	if t.m.suggester != nil {
		if s, ok := t.m.suggester.Suggest(t.conv.Order); ok {
			d.Suggestion = refOf(s)
		}
	}
	return d
}

func (t *turn) remove(v intent.RemoveItem) (Directive, error) {
	ref, err := t.resolveOrder(v.ItemReference)
	if err != nil {
		return t.collaboratorFailure(err)
	}

	switch ref.Outcome {
	case resolver.OutcomeResolved:
		return t.removeResolved(ref.Item, v), nil
	case resolver.OutcomeAmbiguous:
		return t.clarify(ref, v, TargetOrder), nil
	default:
		return t.notInOrder(v.ItemReference, repair.FailureNotInOrder)
	}
}

func (t *turn) removeResolved(item menu.MenuItem, v intent.RemoveItem) Directive {
	t.conv.Policy.Resolved()

	res, err := t.conv.Order.Remove(item.ID, v.Quantity)
	if err != nil {
		return t.invariantFailure(item, nil, err)
	}
	return Directive{Kind: DirectiveItemRemoved, Item: refOf(item), Quantity: res.Removed}
}

func (t *turn) modify(v intent.ModifyItem) (Directive, error) {
	ref, err := t.resolveOrder(v.ItemReference)
	if err != nil {
		return t.collaboratorFailure(err)
	}

	switch ref.Outcome {
	case resolver.OutcomeResolved:
		return t.modifyResolved(ref.Item, v), nil
	case resolver.OutcomeAmbiguous:
		return t.clarify(ref, v, TargetOrder), nil
	default:
		return t.notInOrder(v.ItemReference, repair.FailureNotInOrder)
	}
}

func (t *turn) modifyResolved(item menu.MenuItem, v intent.ModifyItem) Directive {
	t.conv.Policy.Resolved()

	line, err := t.conv.Order.Modify(item.ID, v.Modification)
	if err != nil {
		return t.invariantFailure(item, []string{v.Modification}, err)
	}
	return Directive{
		Kind:          DirectiveItemModified,
		Item:          refOf(item),
		Modification:  menu.NormalizeTag(v.Modification),
		Modifications: line.Modifications,
		Quantity:      line.Quantity,
	}
}

// notInOrder reports a reference that matched no order line. The menu is consulted only to
// name the item; nothing is added.
func (t *turn) notInOrder(phrase string, kind repair.FailureKind) (Directive, error) {
	d := Directive{Kind: DirectiveNotInOrder, Phrase: phrase}
	ref, err := t.m.resolver.Resolve(t.ctx, phrase, t.m.config.TopK)
	if err != nil {
		if ctxErr := t.ctx.Err(); ctxErr != nil {
			return Directive{}, ctxErr
		}
	} else if ref.Resolved() {
		d.Item = refOf(ref.Item)
	}
	return t.resolutionFailure(kind, phrase, d), nil
}

// clarify asks which candidate was meant. The ambiguity counts as a resolution failure, and
// when it escalates the question still stands with the escalation message attached.
func (t *turn) clarify(ref resolver.Reference, in intent.Intent, target Target) Directive {
	t.conv.State = State{
		Kind:    StateAwaitingClarification,
		Pending: &Pending{Reference: ref, Intent: in, Target: target},
	}

	act := t.conv.Policy.Classify(repair.Failure{Kind: repair.FailureAmbiguous, Phrase: ref.Phrase})
	t.res.Failure = repair.FailureAmbiguous
	t.res.Action = act.Kind
	if act.Kind != repair.ActionEscalate {
		return t.disambiguation(ref, "")
	}
	d := t.disambiguation(ref, act.Message)
	d.Categories = t.m.catalog.Categories()
	return d
}

func (t *turn) disambiguation(ref resolver.Reference, message string) Directive {
	d := Directive{Kind: DirectiveDisambiguation, Phrase: ref.Phrase, Message: message}
	for _, c := range ref.Candidates {
		d.Candidates = append(d.Candidates, *refOf(c.Item))
	}
	return d
}

func (t *turn) summary() Directive {
	return Directive{Kind: DirectiveSummary, Lines: Lines(t.conv.Order), Total: t.conv.Order.Total()}
}

// ==========================
// Clarification
// ==========================

func (t *turn) clarifying(in intent.Intent) (Directive, error) {
	p := t.conv.State.Pending
	if p == nil {
		t.conv.State = State{Kind: StateOrdering}
		return t.ordering(in)
	}

	if u, ok := in.(intent.Unknown); ok && u.Reason != intent.ReasonMalformed && u.Reason != intent.ReasonUnrecognized {
		return t.unknown(u), nil
	}

	item, ok, err := t.selection(p, in)
	if err != nil {
		return t.collaboratorFailure(err)
	}
	if ok {
		t.conv.State = State{Kind: StateOrdering}
		t.conv.Policy.Recognized()
		switch orig := p.Intent.(type) {
		case intent.AddItem:
			return t.addResolved(item, orig), nil
		case intent.RemoveItem:
			return t.removeResolved(item, orig), nil
		case intent.ModifyItem:
			return t.modifyResolved(item, orig), nil
		}
	}

	p.Attempts++
	if p.Attempts < t.m.config.ClarifyAttempts {
		return t.disambiguation(p.Reference, "Sorry, which one did you mean?"), nil
	}

	t.conv.State = State{Kind: StateOrdering}
	if p.Target == TargetOrder {
		return t.notInOrder(p.Reference.Phrase, repair.FailureClarification)
	}
	return t.resolutionFailure(repair.FailureClarification, p.Reference.Phrase,
		Directive{Kind: DirectiveNotOnMenu, Phrase: p.Reference.Phrase}), nil
}

// selection finds the candidate an answer picks, by ordinal or by name.
func (t *turn) selection(p *Pending, in intent.Intent) (menu.MenuItem, bool, error) {
	var phrase string
	switch v := in.(type) {
	case intent.AddItem:
		phrase = v.ItemPhrase
	case intent.Unknown:
		phrase = v.RawText
	default:
		if in.Kind() != p.Intent.Kind() {
			return menu.MenuItem{}, false, nil
		}
		phrase = intent.Reference(in)
	}
	if strings.TrimSpace(phrase) == "" {
		return menu.MenuItem{}, false, nil
	}

	candidates := p.Reference.Candidates
	if i, ok := ordinalIndex(phrase, len(candidates)); ok {
		return candidates[i].Item, true, nil
	}

	items := make([]menu.MenuItem, len(candidates))
	for i, c := range candidates {
		items[i] = c.Item
	}
	ref, err := t.m.resolver.ResolveAmong(t.ctx, phrase, items, len(items))
	if err != nil {
		return menu.MenuItem{}, false, err
	}
	t.res.Resolution = ref.Outcome
	if !ref.Resolved() {
		return menu.MenuItem{}, false, nil
	}
	return ref.Item, true, nil
}

var ordinals = map[string]int{
	"first": 1, "1st": 1, "one": 1, "1": 1,
	"second": 2, "2nd": 2, "two": 2, "2": 2,
	"third": 3, "3rd": 3, "three": 3, "3": 3,
	"fourth": 4, "4th": 4, "four": 4, "4": 4,
	"fifth": 5, "5th": 5, "five": 5, "5": 5,
}

var ordinalFillers = map[string]bool{
	"the": true, "number": true, "option": true, "please": true, "uh": true, "um": true, "that": true,
}

// ordinalIndex reads answers like "the second one", "number 2" or "last".
func ordinalIndex(phrase string, n int) (int, bool) {
	var words []string
	for _, w := range answerWords(phrase) {
		if !ordinalFillers[w] {
			words = append(words, w)
		}
	}
	if len(words) == 2 && words[1] == "one" {
		words = words[:1]
	}
	if len(words) != 1 {
		return 0, false
	}
	if words[0] == "last" && n > 0 {
		return n - 1, true
	}
	k, ok := ordinals[words[0]]
	if !ok {
		if d, err := strconv.Atoi(words[0]); err == nil {
			k, ok = d, true
		}
	}
	if !ok || k < 1 || k > n {
		return 0, false
	}
	return k - 1, true
}

func answerWords(phrase string) []string {
	return strings.FieldsFunc(strings.ToLower(phrase), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// ==========================
// Confirmation
// ==========================

func (t *turn) confirming(in intent.Intent) (Directive, error) {
	switch v := in.(type) {
	case intent.Confirm:
		t.conv.Policy.Recognized()
		t.conv.State = State{Kind: StateClosed}
		d := t.summary()
		d.Kind = DirectiveOrderAccepted
		return d, nil

	case intent.Deny:
		t.conv.Policy.Recognized()
		t.conv.State = State{Kind: StateOrdering}
		return Directive{Kind: DirectiveWhatToChange}, nil

	case intent.EndOrder:
		t.conv.Policy.Recognized()
		return t.summary(), nil

	case intent.Unknown:
		change := t.unknown(v)
		d := t.summary()
		d.Change = &change
		return d, nil
	}

	t.conv.State = State{Kind: StateOrdering}
	change, err := t.ordering(in)
	if err != nil {
		return Directive{}, err
	}

	switch {
	case t.conv.State.Kind == StateAwaitingClarification:
		return change, nil
	case t.conv.Order.IsEmpty():
		return Directive{Kind: DirectivePromptOrderFirst, Change: &change}, nil
	}

	t.conv.State = State{Kind: StateAwaitingConfirmation}
	d := t.summary()
	d.Change = &change
	return d, nil
}

// ==========================
// Failures
// ==========================

func (t *turn) resolveMenu(phrase string) (resolver.Reference, error) {
	ref, err := t.m.resolver.Resolve(t.ctx, phrase, t.m.config.TopK)
	if err == nil {
		t.res.Resolution = ref.Outcome
	}
	return ref, err
}

// resolveOrder searches the existing order lines only.
func (t *turn) resolveOrder(phrase string) (resolver.Reference, error) {
	ref, err := t.m.resolver.ResolveAmong(t.ctx, phrase, t.conv.Order.Items(), t.m.config.TopK)
	if err == nil {
		t.res.Resolution = ref.Outcome
	}
	return ref, err
}

func (t *turn) resolutionFailure(kind repair.FailureKind, phrase string, d Directive) Directive {
	act := t.conv.Policy.Classify(repair.Failure{Kind: kind, Phrase: phrase})
	t.res.Failure = kind
	t.res.Action = act.Kind
	if act.Kind == repair.ActionEscalate {
		return t.escalation(act, phrase)
	}
	d.Message = act.Message
	return d
}

// collaboratorFailure degrades a failed resolver call to an unrecognized turn. A done context
// abandons the turn instead.
func (t *turn) collaboratorFailure(err error) (Directive, error) {
	if ctxErr := t.ctx.Err(); ctxErr != nil {
		return Directive{}, ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Directive{}, err
	}
	return t.unknown(intent.Unknown{Reason: intent.ReasonUnavailable}), nil
}

func (t *turn) invariantFailure(item menu.MenuItem, mods []string, err error) Directive {
	act := t.conv.Policy.Classify(repair.Failure{Kind: repair.FailureInvariant})
	t.res.Failure = repair.FailureInvariant
	t.res.Action = act.Kind

	if errors.Is(err, order.ErrModificationNotAllowed) {
		return Directive{
			Kind:         DirectiveModificationNotAllowed,
			Item:         refOf(item),
			Modification: disallowed(item, mods),
			Message:      act.Message,
		}
	}
	return Directive{Kind: DirectiveReprompt, Item: refOf(item), Message: act.Message}
}

func (t *turn) unknown(u intent.Unknown) Directive {
	kind := failureKind(u.Reason)
	f := repair.Failure{Kind: kind, Phrase: u.RawText}
	if kind == repair.FailureConfusion {
		f.Hint = t.m.RecoveryHint(t.conv)
	}

	act := t.conv.Policy.Classify(f)
	t.res.Failure = kind
	t.res.Action = act.Kind
	if act.Kind == repair.ActionEscalate {
		return t.escalation(act, u.RawText)
	}
	return Directive{Kind: DirectiveReprompt, Message: act.Message}
}

func (t *turn) escalation(act repair.Action, phrase string) Directive {
	return Directive{
		Kind:       DirectiveEscalation,
		Phrase:     phrase,
		Message:    act.Message,
		Categories: t.m.catalog.Categories(),
	}
}

func failureKind(reason intent.UnknownReason) repair.FailureKind {
	switch reason {
	case intent.ReasonEmpty:
		return repair.FailureEmptyInput
	case intent.ReasonLowConfidence:
		return repair.FailureLowConfidence
	case intent.ReasonConfusion:
		return repair.FailureConfusion
	case intent.ReasonUnavailable:
		return repair.FailureCollaborator
	default:
		return repair.FailureUnrecognized
	}
}

func disallowed(item menu.MenuItem, mods []string) string {
	for _, m := range mods {
		if _, ok := item.Modification(m); !ok {
			return menu.NormalizeTag(m)
		}
	}
	return strings.Join(mods, ", ")
}
