// Package intent defines the closed set of customer intents and turns raw NLU output into
// them.
package intent

type Kind string

const (
	KindGreeting   Kind = "greeting"
	KindAddItem    Kind = "add_item"
	KindRemoveItem Kind = "remove_item"
	KindModifyItem Kind = "modify_item"
	KindConfirm    Kind = "confirm"
	KindDeny       Kind = "deny"
	KindEndOrder   Kind = "end_order"
	KindUnknown    Kind = "unknown"
)

// Intent is implemented only by the types in this package.
type Intent interface {
	Kind() Kind
	isIntent()
}

type Greeting struct{}

type AddItem struct {
	ItemPhrase    string
	Quantity      int
	Modifications []string
}

// RemoveItem with Quantity 0 removes the whole line.
type RemoveItem struct {
	ItemReference string
	Quantity      int
}

type ModifyItem struct {
	ItemReference string
	Modification  string
}

type Confirm struct{}

type Deny struct{}

type EndOrder struct{}

type UnknownReason string

const (
	ReasonEmpty         UnknownReason = "empty"
	ReasonLowConfidence UnknownReason = "low_confidence"
	ReasonConfusion     UnknownReason = "confusion"
	ReasonUnavailable   UnknownReason = "unavailable"
	ReasonMalformed     UnknownReason = "malformed"
	ReasonUnrecognized  UnknownReason = "unrecognized"
)

type Unknown struct {
	RawText string
	Reason  UnknownReason
}

func (Greeting) Kind() Kind   { return KindGreeting }
func (AddItem) Kind() Kind    { return KindAddItem }
func (RemoveItem) Kind() Kind { return KindRemoveItem }
func (ModifyItem) Kind() Kind { return KindModifyItem }
func (Confirm) Kind() Kind    { return KindConfirm }
func (Deny) Kind() Kind       { return KindDeny }
func (EndOrder) Kind() Kind   { return KindEndOrder }
func (Unknown) Kind() Kind    { return KindUnknown }

func (Greeting) isIntent()   {}
func (AddItem) isIntent()    {}
func (RemoveItem) isIntent() {}
func (ModifyItem) isIntent() {}
func (Confirm) isIntent()    {}
func (Deny) isIntent()       {}
func (EndOrder) isIntent()   {}
func (Unknown) isIntent()    {}

// Phase is the dialogue phase the normalizer interprets a raw result in.
type Phase string

const PhaseAwaitingClarification Phase = "awaiting_clarification"

// Reference returns the item phrase an intent refers to, if any.
func Reference(in Intent) string {
	switch v := in.(type) {
	case AddItem:
		return v.ItemPhrase
	case RemoveItem:
		return v.ItemReference
	case ModifyItem:
		return v.ItemReference
	case Unknown:
		return v.RawText
	default:
		return ""
	}
}
