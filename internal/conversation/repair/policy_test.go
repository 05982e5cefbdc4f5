package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Resolution counter
// ==========================

func TestResolutionFailures_EscalateThenReset(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	a := p.Classify(Failure{Kind: FailureNotFound, Phrase: "tako"})
	assert.Equal(t, ActionReprompt, a.Kind)
	assert.Contains(t, a.Message, "tako")
	assert.Equal(t, 1, p.Stats().ResolutionFailures)

	a = p.Classify(Failure{Kind: FailureAmbiguous})
	assert.Equal(t, ActionEscalate, a.Kind)
	assert.Equal(t, 0, p.Stats().ResolutionFailures)
	assert.Equal(t, 1, p.Stats().Escalations)

	a = p.Classify(Failure{Kind: FailureNotInOrder})
	assert.Equal(t, ActionReprompt, a.Kind)
}

func TestResolved_ResetsCounter(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	p.Classify(Failure{Kind: FailureNotFound})
	p.Resolved()
	a := p.Classify(Failure{Kind: FailureNotFound})

	assert.Equal(t, ActionReprompt, a.Kind)
	assert.Equal(t, 1, p.Stats().ResolutionFailures)
}

// ==========================
// Unknown counter
// ==========================

func TestUnknownFailures_IndependentCounter(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	p.Classify(Failure{Kind: FailureNotFound})
	a := p.Classify(Failure{Kind: FailureUnrecognized})
	assert.Equal(t, ActionReprompt, a.Kind)

	a = p.Classify(Failure{Kind: FailureEmptyInput})
	assert.Equal(t, ActionEscalate, a.Kind)
	assert.Equal(t, 1, p.Stats().ResolutionFailures)
	assert.Equal(t, 0, p.Stats().UnknownFailures)
}

func TestRecognized_ResetsUnknownCounter(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	p.Classify(Failure{Kind: FailureLowConfidence})
	p.Recognized()
	a := p.Classify(Failure{Kind: FailureCollaborator})

	assert.Equal(t, ActionReprompt, a.Kind)
}

// ==========================
// Non-counting failures
// ==========================

func TestClassify_NonCounting(t *testing.T) {
	tests := []struct {
		name    string
		failure Failure
		want    ActionKind
		message string
	}{
		{"after close", Failure{Kind: FailureAfterClose}, ActionIgnore, ""},
		{"failed clarification", Failure{Kind: FailureClarification}, ActionReprompt, "which one you meant"},
		{"invariant", Failure{Kind: FailureInvariant}, ActionReprompt, "can't do that"},
		{"confusion with hint", Failure{Kind: FailureConfusion, Hint: "Is your order correct?"}, ActionReprompt, "Is your order correct?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy(DefaultConfig())
			for i := 0; i < 3; i++ {
				a := p.Classify(tt.failure)
				assert.Equal(t, tt.want, a.Kind)
				if tt.message != "" {
					assert.Contains(t, a.Message, tt.message)
				}
			}
			assert.Equal(t, 0, p.Stats().ResolutionFailures)
			assert.Equal(t, 0, p.Stats().UnknownFailures)
		})
	}
}

func TestConfig_Thresholds(t *testing.T) {
	p := NewPolicy(Config{ResolutionEscalateAfter: 3})

	assert.Equal(t, ActionReprompt, p.Classify(Failure{Kind: FailureNotFound}).Kind)
	assert.Equal(t, ActionReprompt, p.Classify(Failure{Kind: FailureNotFound}).Kind)
	assert.Equal(t, ActionEscalate, p.Classify(Failure{Kind: FailureNotFound}).Kind)

	assert.Equal(t, ActionReprompt, p.Classify(Failure{Kind: FailureUnrecognized}).Kind)
	assert.Equal(t, ActionEscalate, p.Classify(Failure{Kind: FailureUnrecognized}).Kind)
}

// ==========================
// Stats / Clone
// ==========================

func TestStats_ByKind(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	p.Classify(Failure{Kind: FailureNotFound})
	p.Classify(Failure{Kind: FailureNotFound})
	p.Classify(Failure{Kind: FailureConfusion})

	s := p.Stats()
	assert.Equal(t, 2, s.ByKind["not_found"])
	assert.Equal(t, 1, s.ByKind["confusion"])
	assert.Equal(t, 3, s.TotalFailures)
}

func TestClone_IsIndependent(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	p.Classify(Failure{Kind: FailureNotFound})

	c := p.Clone()
	c.Classify(Failure{Kind: FailureUnrecognized})
	c.Resolved()

	require.Equal(t, 1, p.Stats().ResolutionFailures)
	assert.Equal(t, 0, p.Stats().UnknownFailures)
	assert.Equal(t, 1, p.Stats().TotalFailures)
	assert.Equal(t, 2, c.Stats().TotalFailures)
}
