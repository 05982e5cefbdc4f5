package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_SetCodeAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       *StandardError
		code      ErrorCode
		retryable bool
	}{
		{"intent timeout", NewIntentAPITimeoutError(stderrors.New("deadline")), ErrCodeIntentAPITimeout, true},
		{"similarity timeout", NewSimilarityAPITimeoutError(stderrors.New("deadline")), ErrCodeSimilarityAPITimeout, true},
		{"database", NewDatabaseConnectionError("postgres", stderrors.New("refused")), ErrCodeDatabaseConnectionFail, true},
		{"closed", NewSessionClosedError("abc"), ErrCodeSessionClosed, false},
		{"collaborator", NewCollaboratorUnavailableError("nlu", stderrors.New("timeout")), ErrCodeCollaboratorUnavailable, true},
		{"catalog", NewCatalogLoadFailedError("menu.json", stderrors.New("missing")), ErrCodeCatalogLoadFailed, false},
		{"session", NewSessionNotFoundError("abc"), ErrCodeSessionNotFound, false},
		{"ticket", NewTicketPublishFailedError(stderrors.New("throttled")), ErrCodeTicketPublishFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.False(t, tt.err.Timestamp.IsZero())
			assert.Contains(t, tt.err.Error(), string(tt.code))
		})
	}
}

func TestConvertToBPMNError(t *testing.T) {
	t.Run("retryable code keeps recommended retries", func(t *testing.T) {
		bpmn := ConvertToBPMNError(NewTicketPublishFailedError(stderrors.New("throttled")))
		assert.Equal(t, "TICKET_PUBLISH_FAILED", bpmn.Code)
		assert.Equal(t, 3, bpmn.Retries)
		assert.Equal(t, "TICKET_PUBLISH_FAILED", bpmn.ToErrorVariables()["originalErrorCode"])
	})

	t.Run("non retryable error has no retries", func(t *testing.T) {
		bpmn := ConvertToBPMNError(NewOrderNotAcceptedError("s-1", "ordering"))
		assert.Equal(t, 0, bpmn.Retries)
		assert.Equal(t, false, bpmn.ToErrorVariables()["retryable"])
	})
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInvalidInput))
	assert.Equal(t, "SESSION", GetErrorCategory(ErrCodeSessionClosed))
	assert.Equal(t, "TECHNICAL", GetErrorCategory(ErrCodeDatabaseConnectionFail))
	assert.Equal(t, "TECHNICAL", GetErrorCategory(ErrCodeSimilarityAPITimeout))
	assert.Equal(t, "SESSION", GetErrorCategory(ErrCodeSessionNotFound))
	assert.Equal(t, "SESSION", GetErrorCategory(ErrCodeTurnCancelled))
	assert.Equal(t, "TECHNICAL", GetErrorCategory(ErrCodeIntentAPITimeout))
	assert.Equal(t, "TECHNICAL", GetErrorCategory(ErrCodeTicketPublishFailed))
	assert.Equal(t, "FATAL", GetErrorCategory(ErrCodeCatalogLoadFailed))
	assert.Equal(t, "UNKNOWN", GetErrorCategory("SOMETHING_ELSE"))
}

func TestAsStandardErrorAndNormalize(t *testing.T) {
	wrapped := fmt.Errorf("publish ticket: %w", NewTicketPublishFailedError(stderrors.New("boom")))

	se, ok := AsStandardError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeTicketPublishFailed, se.Code)

	_, ok = AsStandardError(stderrors.New("plain"))
	assert.False(t, ok)

	n := Normalize(stderrors.New("plain"))
	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), n.Code)
	assert.Equal(t, "plain", n.Details)

	assert.True(t, IsRetryableErrorCode(ErrCodeCollaboratorUnavailable))
	assert.False(t, IsRetryableErrorCode(ErrCodeSessionClosed))
}

func TestWithMetadata(t *testing.T) {
	err := NewOrderNotAcceptedError("s-9", "ordering").WithMetadata("sessionId", "s-9")
	assert.Equal(t, "s-9", err.Metadata["sessionId"])
}

func TestUnwrap_KeepsCause(t *testing.T) {
	sentinel := stderrors.New("SIMILARITY_API_TIMEOUT")
	err := NewSimilarityAPITimeoutError(fmt.Errorf("%w: context deadline exceeded", sentinel))

	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Details, "context deadline exceeded")

	wrapped := fmt.Errorf("score: %w", err)
	se, ok := AsStandardError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeSimilarityAPITimeout, se.Code)
}
