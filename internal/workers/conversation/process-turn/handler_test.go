// internal/workers/conversation/process-turn/handler_test.go
package processturn

import (
	"context"
	"testing"
	"time"

	apperrors "drivethru-orchestrator/internal/common/errors"
	"drivethru-orchestrator/internal/conversation/dialogue"
	"drivethru-orchestrator/internal/conversation/menu"
	"drivethru-orchestrator/internal/conversation/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Logger Implementation
// ==========================

type TestLogger struct {
	t      *testing.T
	fields map[string]interface{}
}

func NewTestLogger(t *testing.T) *TestLogger {
	return &TestLogger{t: t, fields: make(map[string]interface{})}
}

func (l *TestLogger) Info(msg string, fields map[string]interface{}) {
	l.t.Logf("INFO: %s %v %v", msg, l.fields, fields)
}

func (l *TestLogger) Warn(msg string, fields map[string]interface{}) {
	l.t.Logf("WARN: %s %v %v", msg, l.fields, fields)
}

func (l *TestLogger) Error(msg string, fields map[string]interface{}) {
	l.t.Logf("ERROR: %s %v %v", msg, l.fields, fields)
}

func (l *TestLogger) With(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &TestLogger{t: l.t, fields: merged}
}

// ==========================
// Test Helpers
// ==========================

type fakeSessions struct {
	result session.TurnResult
	err    error
	got    session.TurnInput
	gotID  string
}

func (f *fakeSessions) Turn(ctx context.Context, id string, in session.TurnInput) (session.TurnResult, error) {
	f.gotID = id
	f.got = in
	return f.result, f.err
}

func createTestConfig() *Config {
	return &Config{Timeout: 5 * time.Second}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute(t *testing.T) {
	conf := 0.93

	tests := []struct {
		name       string
		input      *Input
		result     session.TurnResult
		wantKind   string
		wantState  string
		wantClosed bool
		wantTotal  int64
	}{
		{
			name:  "item added",
			input: &Input{SessionID: "s1", Text: "two crunchy tacos", ASRConfidence: &conf},
			result: session.TurnResult{
				SessionID: "s1",
				Directive: dialogue.Directive{Kind: dialogue.DirectiveConfirmation, Quantity: 2},
				State:     dialogue.StateOrdering,
				Total:     menu.Cents(298),
			},
			wantKind:  "confirmation",
			wantState: "ordering",
			wantTotal: 298,
		},
		{
			name:  "order accepted",
			input: &Input{SessionID: "s1", Text: "yes"},
			result: session.TurnResult{
				SessionID: "s1",
				Directive: dialogue.Directive{Kind: dialogue.DirectiveOrderAccepted, Total: 527},
				State:     dialogue.StateClosed,
				Total:     menu.Cents(527),
			},
			wantKind:   "order_accepted",
			wantState:  "closed",
			wantClosed: true,
			wantTotal:  527,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &fakeSessions{result: tt.result}
			h := NewHandler(createTestConfig(), sessions, NewTestLogger(t))

			out, err := h.Execute(context.Background(), tt.input)
			require.NoError(t, err)

			assert.Equal(t, tt.input.SessionID, sessions.gotID)
			assert.Equal(t, tt.input.Text, sessions.got.Text)
			assert.Equal(t, tt.input.ASRConfidence, sessions.got.ASRConfidence)

			assert.Equal(t, tt.wantKind, out.DirectiveKind)
			assert.Equal(t, tt.wantState, out.State)
			assert.Equal(t, tt.wantClosed, out.OrderClosed)
			assert.Equal(t, tt.wantTotal, out.TotalCents)
		})
	}
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    *Input
		err      error
		wantCode apperrors.ErrorCode
	}{
		{"missing session id", &Input{Text: "hi"}, nil, apperrors.ErrCodeInvalidInput},
		{"unknown session", &Input{SessionID: "gone"}, apperrors.NewSessionNotFoundError("gone"), apperrors.ErrCodeSessionNotFound},
		{"cancelled turn", &Input{SessionID: "s1"}, apperrors.NewTurnCancelledError("s1", context.DeadlineExceeded), apperrors.ErrCodeTurnCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(createTestConfig(), &fakeSessions{err: tt.err}, NewTestLogger(t))

			out, err := h.Execute(context.Background(), tt.input)
			require.Error(t, err)
			assert.Nil(t, out)

			stdErr, ok := apperrors.AsStandardError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, stdErr.Code)
		})
	}
}

func TestHandler_Execute_TurnAfterClose(t *testing.T) {
	sessions := &fakeSessions{result: session.TurnResult{
		SessionID: "s1",
		Directive: dialogue.Directive{Kind: dialogue.DirectiveSessionClosed},
		State:     dialogue.StateClosed,
		Total:     menu.Cents(527),
	}}
	h := NewHandler(createTestConfig(), sessions, NewTestLogger(t))

	out, err := h.Execute(context.Background(), &Input{SessionID: "s1", Text: "and a baja blast"})
	require.Error(t, err)
	assert.Nil(t, out)

	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeSessionClosed, stdErr.Code)
	assert.False(t, stdErr.Retryable)
	assert.Equal(t, 0, apperrors.ConvertToBPMNError(stdErr).Retries)
}

func TestLoadConfig(t *testing.T) {
	assert.Equal(t, 10*time.Second, LoadConfig().Timeout)
}
