package resolver

import (
	"context"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Scorer rates a phrase against candidate texts. Scores are in [0, 1]; a candidate without
// an entry scores 0.
type Scorer interface {
	Score(ctx context.Context, phrase string, candidates []string) ([]Score, error)
}

type Score struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "please": true, "some": true,
	"of": true, "my": true, "uh": true, "um": true, "and": true,
}

// LexicalScorer scores by token containment and whole-string edit distance. It needs no
// network and is deterministic.
type LexicalScorer struct{}

func NewLexicalScorer() *LexicalScorer { return &LexicalScorer{} }

func (s *LexicalScorer) Score(ctx context.Context, phrase string, candidates []string) ([]Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := Tokens(phrase)
	out := make([]Score, 0, len(candidates))
	for i, cand := range candidates {
		if v := similarity(p, Tokens(cand)); v > 0 {
			out = append(out, Score{Index: i, Score: v})
		}
	}
	return out, nil
}

func similarity(p, c []string) float64 {
	if len(p) == 0 || len(c) == 0 {
		return 0
	}

	pj, cj := strings.Join(p, " "), strings.Join(c, " ")
	if pj == cj {
		return 1.0
	}

	best := 0.0
	overlap := overlapCount(p, c)
	pset, cset := uniq(p), uniq(c)

	switch {
	case overlap == len(cset):
		best = 0.8 + 0.15*float64(len(cset))/float64(len(pset))
		if best > 0.95 {
			best = 0.95
		}
	case overlap == len(pset):
		best = 0.55 + 0.3*float64(len(pset))/float64(len(cset))
	case overlap > 0:
		best = 0.35 + 0.3*float64(overlap)/float64(len(cset))
	}

	if d := levenshtein.ComputeDistance(pj, cj); d <= editLimit(pj) {
		if v := 0.88 - 0.06*float64(d); v > best {
			best = v
		}
	}
	return best
}

func editLimit(s string) int {
	n := len([]rune(s))
	switch {
	case n <= 4:
		return 1
	case n <= 8:
		return 2
	default:
		return 3
	}
}

func overlapCount(p, c []string) int {
	pset := uniq(p)
	n := 0
	for tok := range uniq(c) {
		if pset[tok] {
			n++
		}
	}
	return n
}

func uniq(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// Tokens lower-cases text, splits it on anything that is not a letter or digit, drops filler
// words and strips a plural "s".
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := fields[:0]
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		out = append(out, singular(f))
	}
	return out
}

func singular(tok string) string {
	if len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") {
		return tok[:len(tok)-1]
	}
	return tok
}
