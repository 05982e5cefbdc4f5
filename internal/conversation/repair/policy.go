// Package repair decides how a conversation recovers from a failed turn.
package repair

import "fmt"

type FailureKind string

const (
	// FailureNotFound: a phrase matched nothing on the menu.
	FailureNotFound FailureKind = "not_found"
	// FailureAmbiguous: a phrase matched several menu items or order lines equally well.
	FailureAmbiguous FailureKind = "ambiguous"
	// FailureNotInOrder: a remove or modify named nothing in the current order.
	FailureNotInOrder FailureKind = "not_in_order"

	FailureEmptyInput    FailureKind = "empty_input"
	FailureLowConfidence FailureKind = "low_confidence"
	FailureUnrecognized  FailureKind = "unrecognized"
	FailureCollaborator  FailureKind = "collaborator_unavailable"

	// FailureClarification: a clarification question was not answered with a candidate. The
	// ambiguity that raised the question has already been counted.
	FailureClarification FailureKind = "clarification_failed"

	FailureConfusion  FailureKind = "confusion"
	FailureInvariant  FailureKind = "invariant_violation"
	FailureAfterClose FailureKind = "after_close"
)

func (k FailureKind) resolution() bool {
	return k == FailureNotFound || k == FailureAmbiguous || k == FailureNotInOrder
}

func (k FailureKind) recognition() bool {
	switch k {
	case FailureEmptyInput, FailureLowConfidence, FailureUnrecognized, FailureCollaborator:
		return true
	}
	return false
}

type ActionKind string

const (
	ActionReprompt ActionKind = "reprompt"
	ActionEscalate ActionKind = "escalate"
	ActionIgnore   ActionKind = "ignore"
)

type Action struct {
	Kind    ActionKind `json:"kind"`
	Message string     `json:"message,omitempty"`
}

// Failure is one failed turn. Hint is the current-state recovery prompt, used for confusion.
type Failure struct {
	Kind   FailureKind
	Phrase string
	Hint   string
}

type Config struct {
	ResolutionEscalateAfter int
	UnknownEscalateAfter    int
}

func DefaultConfig() Config {
	return Config{ResolutionEscalateAfter: 2, UnknownEscalateAfter: 2}
}

// Policy holds the per-conversation failure counters. It is not safe for concurrent use;
// the owning session serializes turns.
type Policy struct {
	config             Config
	resolutionFailures int
	unknownFailures    int
	byKind             map[FailureKind]int
	escalations        int
}

func NewPolicy(config Config) *Policy {
	if config.ResolutionEscalateAfter < 1 {
		config.ResolutionEscalateAfter = DefaultConfig().ResolutionEscalateAfter
	}
	if config.UnknownEscalateAfter < 1 {
		config.UnknownEscalateAfter = DefaultConfig().UnknownEscalateAfter
	}
	return &Policy{config: config, byKind: make(map[FailureKind]int)}
}

// Classify records the failure and selects the recovery action.
func (p *Policy) Classify(f Failure) Action {
	p.byKind[f.Kind]++

	switch {
	case f.Kind == FailureAfterClose:
		return Action{Kind: ActionIgnore}

	case f.Kind.resolution():
		p.resolutionFailures++
		if p.resolutionFailures >= p.config.ResolutionEscalateAfter {
			p.resolutionFailures = 0
			p.escalations++
			return Action{Kind: ActionEscalate, Message: escalateResolution}
		}
		return Action{Kind: ActionReprompt, Message: repromptFor(f)}

	case f.Kind.recognition():
		p.unknownFailures++
		if p.unknownFailures >= p.config.UnknownEscalateAfter {
			p.unknownFailures = 0
			p.escalations++
			return Action{Kind: ActionEscalate, Message: escalateRecognition}
		}
		return Action{Kind: ActionReprompt, Message: repromptFor(f)}

	default:
		return Action{Kind: ActionReprompt, Message: repromptFor(f)}
	}
}

// Resolved resets the resolution-failure counter after a successful resolution.
func (p *Policy) Resolved() { p.resolutionFailures = 0 }

// Recognized resets the unknown-intent counter after any recognized intent.
func (p *Policy) Recognized() { p.unknownFailures = 0 }

type Stats struct {
	ResolutionFailures int            `json:"resolutionFailures"`
	UnknownFailures    int            `json:"unknownFailures"`
	Escalations        int            `json:"escalations"`
	TotalFailures      int            `json:"totalFailures"`
	ByKind             map[string]int `json:"byKind"`
}

func (p *Policy) Stats() Stats {
	s := Stats{
		ResolutionFailures: p.resolutionFailures,
		UnknownFailures:    p.unknownFailures,
		Escalations:        p.escalations,
		ByKind:             make(map[string]int, len(p.byKind)),
	}
	for k, n := range p.byKind {
		s.ByKind[string(k)] = n
		s.TotalFailures += n
	}
	return s
}

func (p *Policy) Clone() *Policy {
	c := *p
	c.byKind = make(map[FailureKind]int, len(p.byKind))
	for k, n := range p.byKind {
		c.byKind[k] = n
	}
	return &c
}

const (
	escalateResolution  = "I'm having trouble finding that. I can tell you what we have, or we can finish your order."
	escalateRecognition = "Sorry, I'm having trouble understanding. I can read out our menu categories, or we can finish your order."
)

func repromptFor(f Failure) string {
	switch f.Kind {
	case FailureNotFound:
		if f.Phrase != "" {
			return fmt.Sprintf("I couldn't find %q on our menu. What else can I get you?", f.Phrase)
		}
		return "I couldn't find that on our menu. What else can I get you?"
	case FailureAmbiguous:
		return "Sorry, which one did you mean?"
	case FailureClarification:
		return "I couldn't tell which one you meant. What else can I get you?"
	case FailureNotInOrder:
		return "I don't see that in your order. What would you like to change?"
	case FailureEmptyInput:
		return "I didn't catch that. Could you repeat?"
	case FailureLowConfidence:
		return "Sorry, I didn't quite hear that. What did you say?"
	case FailureCollaborator:
		return "Sorry, could you say that again?"
	case FailureConfusion:
		if f.Hint != "" {
			return "No problem. " + f.Hint
		}
		return "No problem. What can I get for you?"
	case FailureInvariant:
		return "Sorry, we can't do that. Anything else?"
	default:
		return "Sorry, I didn't get that. What would you like?"
	}
}
