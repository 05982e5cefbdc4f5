// Package resolver grounds free-text item references onto catalog entries.
//
// A Resolver scores a phrase against every candidate item's name and synonyms through an
// injected Scorer, ranks the items and applies a threshold policy to decide between a single
// match, a clarification question and no match at all. It holds no mutable state and is safe
// for concurrent use by any number of conversations.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"drivethru-orchestrator/internal/conversation/menu"
)

var ErrScorerFailed = errors.New("SIMILARITY_SCORING_FAILED")

// scoreEpsilon absorbs float noise when comparing against thresholds and the margin.
const scoreEpsilon = 1e-9

type Outcome string

const (
	OutcomeResolved  Outcome = "resolved"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeNotFound  Outcome = "not_found"
)

// Candidate is an item with the confidence it was ranked at.
type Candidate struct {
	Item       menu.MenuItem `json:"item"`
	Confidence float64       `json:"confidence"`
}

// Reference is the result of grounding one phrase. Item and Confidence are set only when
// Outcome is OutcomeResolved; Candidates only when it is OutcomeAmbiguous.
type Reference struct {
	Phrase     string        `json:"phrase"`
	Outcome    Outcome       `json:"outcome"`
	Item       menu.MenuItem `json:"item"`
	Confidence float64       `json:"confidence"`
	Candidates []Candidate   `json:"candidates,omitempty"`
}

func (r Reference) Resolved() bool  { return r.Outcome == OutcomeResolved }
func (r Reference) Ambiguous() bool { return r.Outcome == OutcomeAmbiguous }
func (r Reference) NotFound() bool  { return r.Outcome == OutcomeNotFound }

// Policy holds the ranking thresholds.
type Policy struct {
	ResolvedThreshold  float64
	AmbiguousThreshold float64
	AmbiguityMargin    float64
	TopK               int
}

func DefaultPolicy() Policy {
	return Policy{
		ResolvedThreshold:  0.80,
		AmbiguousThreshold: 0.50,
		AmbiguityMargin:    0.05,
		TopK:               3,
	}
}

func (p Policy) Validate() error {
	if p.AmbiguousThreshold < 0 || p.ResolvedThreshold > 1 || p.AmbiguousThreshold > p.ResolvedThreshold {
		return fmt.Errorf("invalid thresholds: ambiguous=%.2f resolved=%.2f", p.AmbiguousThreshold, p.ResolvedThreshold)
	}
	if p.AmbiguityMargin < 0 {
		return fmt.Errorf("invalid ambiguity margin %.2f", p.AmbiguityMargin)
	}
	if p.TopK < 1 {
		return fmt.Errorf("invalid top_k %d", p.TopK)
	}
	return nil
}

type Resolver struct {
	catalog *menu.Catalog
	scorer  Scorer
	policy  Policy
}

func New(catalog *menu.Catalog, scorer Scorer, policy Policy) *Resolver {
	return &Resolver{catalog: catalog, scorer: scorer, policy: policy}
}

func (r *Resolver) Policy() Policy { return r.policy }

// Resolve grounds phrase against the whole catalog. topK <= 0 uses the policy's TopK.
func (r *Resolver) Resolve(ctx context.Context, phrase string, topK int) (Reference, error) {
	return r.ResolveAmong(ctx, phrase, r.catalog.Items(), topK)
}

// ResolveAmong applies the same policy to a restricted candidate set, e.g. the items already
// in an order. Ties keep the order of items.
func (r *Resolver) ResolveAmong(ctx context.Context, phrase string, items []menu.MenuItem, topK int) (Reference, error) {
	ref := Reference{Phrase: phrase, Outcome: OutcomeNotFound}
	if strings.TrimSpace(phrase) == "" || len(items) == 0 {
		return ref, nil
	}
	if topK <= 0 {
		topK = r.policy.TopK
	}

	ranked, err := r.rank(ctx, phrase, items)
	if err != nil {
		return ref, err
	}
	return r.classify(ref, ranked, topK), nil
}

func (r *Resolver) rank(ctx context.Context, phrase string, items []menu.MenuItem) ([]Candidate, error) {
	var (
		texts []string
		owner []int
	)
	for i, item := range items {
		for _, text := range item.Texts() {
			texts = append(texts, text)
			owner = append(owner, i)
		}
	}

	scores, err := r.scorer.Score(ctx, phrase, texts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrScorerFailed, err)
	}

	best := make([]float64, len(items))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(texts) {
			continue
		}
		v := clamp(s.Score)
		if i := owner[s.Index]; v > best[i] {
			best[i] = v
		}
	}

	ranked := make([]Candidate, len(items))
	for i, item := range items {
		ranked[i] = Candidate{Item: item, Confidence: best[i]}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Confidence > ranked[b].Confidence
	})
	return ranked, nil
}

func (r *Resolver) classify(ref Reference, ranked []Candidate, topK int) Reference {
	top := ranked[0]

	switch {
	case top.Confidence+scoreEpsilon < r.policy.AmbiguousThreshold:
		return ref

	case top.Confidence+scoreEpsilon >= r.policy.ResolvedThreshold:
		ref.Outcome = OutcomeResolved
		ref.Item = top.Item
		ref.Confidence = top.Confidence
		return ref
	}

	var close []Candidate
	for _, c := range ranked {
		if c.Confidence+scoreEpsilon < r.policy.AmbiguousThreshold ||
			top.Confidence-c.Confidence > r.policy.AmbiguityMargin+scoreEpsilon {
			break
		}
		close = append(close, c)
	}

	// A lone candidate in the middle band is still the best reading of the phrase.
	if len(close) == 1 {
		ref.Outcome = OutcomeResolved
		ref.Item = top.Item
		ref.Confidence = top.Confidence
		return ref
	}

	if len(close) > topK {
		close = close[:topK]
	}
	ref.Outcome = OutcomeAmbiguous
	ref.Candidates = close
	return ref
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
