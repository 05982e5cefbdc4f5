package intent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "drivethru-orchestrator/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Logger Implementation
// ==========================

type TestLogger struct {
	t *testing.T
}

func (l *TestLogger) Info(msg string, fields map[string]interface{}) {
	l.t.Logf("INFO: %s %v", msg, fields)
}

func (l *TestLogger) Warn(msg string, fields map[string]interface{}) {
	l.t.Logf("WARN: %s %v", msg, fields)
}

func (l *TestLogger) Error(msg string, fields map[string]interface{}) {
	l.t.Logf("ERROR: %s %v", msg, fields)
}

func conf(v float64) *float64 { return &v }

// ==========================
// Normalizer Tests
// ==========================

func TestNormalize(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{MinConfidence: 0.3})

	tests := []struct {
		name  string
		raw   Raw
		phase Phase
		want  Intent
	}{
		{"greeting", Raw{Intent: "greeting"}, "", Greeting{}},
		{"kind is case insensitive", Raw{Intent: "  GREETING "}, "", Greeting{}},
		{
			name: "add with defaults",
			raw:  Raw{Intent: "add_item", Item: " crunchy taco "},
			want: AddItem{ItemPhrase: "crunchy taco", Quantity: 1},
		},
		{
			name: "order_item alias with number word and mods",
			raw:  Raw{Intent: "order_item", Item: "soft taco", Quantity: "Two", Modifications: []string{" No Lettuce", "no lettuce", ""}},
			want: AddItem{ItemPhrase: "soft taco", Quantity: 2, Modifications: []string{"no lettuce"}},
		},
		{
			name: "add with single modification field",
			raw:  Raw{Intent: "add_item", Item: "soft taco", Quantity: float64(3), Modification: "Extra  Cheese"},
			want: AddItem{ItemPhrase: "soft taco", Quantity: 3, Modifications: []string{"extra cheese"}},
		},
		{
			name: "remove without quantity removes the line",
			raw:  Raw{Intent: "remove_item", ItemReference: "fries"},
			want: RemoveItem{ItemReference: "fries", Quantity: 0},
		},
		{
			name: "remove with quantity",
			raw:  Raw{Intent: "remove_item", Item: "tacos", Quantity: "1"},
			want: RemoveItem{ItemReference: "tacos", Quantity: 1},
		},
		{
			name: "modify",
			raw:  Raw{Intent: "modify_item", ItemReference: "tacos", Modification: "No Lettuce"},
			want: ModifyItem{ItemReference: "tacos", Modification: "no lettuce"},
		},
		{"confirm", Raw{Intent: "confirm"}, "", Confirm{}},
		{"confirm_order alias", Raw{Intent: "confirm_order"}, "", Confirm{}},
		{"deny", Raw{Intent: "deny"}, "", Deny{}},
		{"end_order", Raw{Intent: "end_order"}, "", EndOrder{}},
		{"done alias", Raw{Intent: "done"}, "", EndOrder{}},
		{
			name: "unclear becomes unknown",
			raw:  Raw{Intent: "unclear", Text: "blah"},
			want: Unknown{RawText: "blah", Reason: ReasonUnrecognized},
		},
		{
			name:  "select while clarifying",
			raw:   Raw{Intent: "select", Ordinal: "second"},
			phase: PhaseAwaitingClarification,
			want:  AddItem{ItemPhrase: "second", Quantity: 1},
		},
		{
			name: "select with item outside clarification is an add",
			raw:  Raw{Intent: "select", Item: "baja blast"},
			want: AddItem{ItemPhrase: "baja blast", Quantity: 1},
		},
		{
			name: "bare ordinal outside clarification",
			raw:  Raw{Intent: "select", Ordinal: "first", Text: "the first one"},
			want: Unknown{RawText: "the first one", Reason: ReasonUnrecognized},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.raw, tt.phase))
		})
	}
}

func TestNormalize_NeverFails(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{MinConfidence: 0.3})

	tests := []struct {
		name   string
		raw    Raw
		reason UnknownReason
	}{
		{"empty kind", Raw{Text: "x"}, ReasonMalformed},
		{"unsupported kind", Raw{Intent: "ask_price", Text: "x"}, ReasonMalformed},
		{"zero quantity", Raw{Intent: "add_item", Item: "taco", Quantity: float64(0)}, ReasonMalformed},
		{"negative quantity", Raw{Intent: "add_item", Item: "taco", Quantity: float64(-2)}, ReasonMalformed},
		{"fractional quantity", Raw{Intent: "add_item", Item: "taco", Quantity: 1.5}, ReasonMalformed},
		{"gibberish quantity", Raw{Intent: "add_item", Item: "taco", Quantity: "lots"}, ReasonMalformed},
		{"huge quantity", Raw{Intent: "add_item", Item: "taco", Quantity: "500"}, ReasonMalformed},
		{"add without item", Raw{Intent: "add_item"}, ReasonMalformed},
		{"modify without modification", Raw{Intent: "modify_item", ItemReference: "taco"}, ReasonMalformed},
		{"remove without reference", Raw{Intent: "remove_item"}, ReasonMalformed},
		{"confidence out of range", Raw{Intent: "greeting", Confidence: conf(1.5)}, ReasonMalformed},
		{"low confidence", Raw{Intent: "add_item", Item: "taco", Confidence: conf(0.1)}, ReasonLowConfidence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.raw, "")
			u, ok := got.(Unknown)
			require.True(t, ok, "got %#v", got)
			assert.Equal(t, tt.reason, u.Reason)
		})
	}
}

func TestNormalizeAll_MultiItem(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{})

	got := n.NormalizeAll(Raw{
		Intent: "order_item",
		Items: []RawItem{
			{Item: "crunchy taco", Quantity: float64(2)},
			{Item: "  "},
			{Item: "baja blast", Modifications: []string{"Large"}},
		},
	}, "")

	assert.Equal(t, []Intent{
		AddItem{ItemPhrase: "crunchy taco", Quantity: 2},
		AddItem{ItemPhrase: "baja blast", Quantity: 1, Modifications: []string{"large"}},
	}, got)

	assert.Equal(t, AddItem{ItemPhrase: "crunchy taco", Quantity: 2}, n.Normalize(Raw{
		Intent: "add_item",
		Items:  []RawItem{{Item: "crunchy taco", Quantity: "2"}, {Item: "baja blast"}},
	}, ""))
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in      interface{}
		def     int
		want    int
		wantErr bool
	}{
		{nil, 1, 1, false},
		{"", 0, 0, false},
		{float64(4), 1, 4, false},
		{7, 1, 7, false},
		{"a dozen", 1, 12, false},
		{"a  couple", 1, 2, false},
		{" 3 ", 1, 3, false},
		{"0", 1, 0, true},
		{true, 1, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseQuantity(tt.in, tt.def)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidQuantity, "%v", tt.in)
			continue
		}
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestReference(t *testing.T) {
	assert.Equal(t, "taco", Reference(AddItem{ItemPhrase: "taco"}))
	assert.Equal(t, "fries", Reference(RemoveItem{ItemReference: "fries"}))
	assert.Equal(t, "tacos", Reference(ModifyItem{ItemReference: "tacos"}))
	assert.Equal(t, "the second", Reference(Unknown{RawText: "the second"}))
	assert.Equal(t, "", Reference(Confirm{}))
}

// ==========================
// Client Tests
// ==========================

func TestClient_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai/parse-intent", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "two crunchy tacos", req["query"])
		assert.Equal(t, "ordering", req["context"].(map[string]interface{})["state"])

		_, _ = w.Write([]byte(`{"intent":"add_item","confidence":0.92,"item":"crunchy taco","quantity":2}`))
	}))
	defer srv.Close()

	c := NewClient(&ClientConfig{GenAIBaseURL: srv.URL, Timeout: time.Second}, &TestLogger{t: t})
	raw, err := c.Classify(context.Background(), "two crunchy tacos", map[string]interface{}{"state": "ordering"})
	require.NoError(t, err)

	assert.Equal(t, "add_item", raw.Intent)
	assert.Equal(t, "two crunchy tacos", raw.Text)
	require.NotNil(t, raw.Confidence)

	got := NewNormalizer(NormalizerConfig{MinConfidence: 0.3}).Normalize(raw, "")
	assert.Equal(t, AddItem{ItemPhrase: "crunchy taco", Quantity: 2}, got)
}

func TestClient_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		c := NewClient(&ClientConfig{GenAIBaseURL: srv.URL}, &TestLogger{t: t})
		_, err := c.Classify(context.Background(), "hi", nil)
		assert.ErrorIs(t, err, ErrIntentParsingFailed)

		stdErr, ok := apperrors.AsStandardError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeCollaboratorUnavailable, stdErr.Code)
	})

	t.Run("bad json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"intent":`))
		}))
		defer srv.Close()

		c := NewClient(&ClientConfig{GenAIBaseURL: srv.URL}, &TestLogger{t: t})
		_, err := c.Classify(context.Background(), "hi", nil)
		assert.ErrorIs(t, err, ErrIntentParsingFailed)

		stdErr, ok := apperrors.AsStandardError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeCollaboratorUnavailable, stdErr.Code)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		c := NewClient(&ClientConfig{GenAIBaseURL: srv.URL}, &TestLogger{t: t})
		_, err := c.Classify(ctx, "hi", nil)
		assert.ErrorIs(t, err, ErrIntentAPITimeout)

		stdErr, ok := apperrors.AsStandardError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeIntentAPITimeout, stdErr.Code)
	})
}
