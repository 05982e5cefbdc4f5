// Package errors provides the standardized error taxonomy for the ordering engine and its
// conversion to BPMN errors for Zeebe job workers.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Recognition, resolution and invariant failures never leave a turn: the repair policy turns
// them into directives. Only collaborator and catalog failures are errors.
const (
	ErrCodeCollaboratorUnavailable ErrorCode = "COLLABORATOR_UNAVAILABLE"
	ErrCodeCatalogLoadFailed       ErrorCode = "CATALOG_LOAD_FAILED"
)

// Session and infrastructure codes.
const (
	ErrCodeSessionNotFound        ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionClosed          ErrorCode = "SESSION_CLOSED"
	ErrCodeTurnCancelled          ErrorCode = "TURN_CANCELLED"
	ErrCodeOrderNotAccepted       ErrorCode = "ORDER_NOT_ACCEPTED"
	ErrCodeTicketPublishFailed    ErrorCode = "TICKET_PUBLISH_FAILED"
	ErrCodeIntentAPITimeout       ErrorCode = "INTENT_API_TIMEOUT"
	ErrCodeSimilarityAPITimeout   ErrorCode = "SIMILARITY_API_TIMEOUT"
	ErrCodeInvalidInput           ErrorCode = "INVALID_INPUT"
	ErrCodeDatabaseConnectionFail ErrorCode = "DATABASE_CONNECTION_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the collaborator error, so sentinel checks still see through.
func (e *StandardError) Unwrap() error { return e.cause }

// WithMetadata returns e with key set in its metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewCollaboratorUnavailableError reports a failed or timed out external call.
func NewCollaboratorUnavailableError(service string, err error) *StandardError {
	e := newError(ErrCodeCollaboratorUnavailable,
		fmt.Sprintf("Collaborator '%s' unavailable", service), err.Error(), true)
	e.cause = err
	return e
}

// NewIntentAPITimeoutError reports a language-understanding call that ran out of time.
func NewIntentAPITimeoutError(err error) *StandardError {
	e := newError(ErrCodeIntentAPITimeout, "Intent service timed out", err.Error(), true)
	e.cause = err
	return e
}

// NewSimilarityAPITimeoutError reports a similarity scoring call that ran out of time.
func NewSimilarityAPITimeoutError(err error) *StandardError {
	e := newError(ErrCodeSimilarityAPITimeout, "Similarity service timed out", err.Error(), true)
	e.cause = err
	return e
}

// NewDatabaseConnectionError reports a store that could not be reached.
func NewDatabaseConnectionError(store string, err error) *StandardError {
	e := newError(ErrCodeDatabaseConnectionFail,
		fmt.Sprintf("Database '%s' unreachable", store), err.Error(), true)
	e.cause = err
	return e
}

// NewCatalogLoadFailedError is the only fatal error: there is no menu to operate against.
func NewCatalogLoadFailedError(source string, err error) *StandardError {
	return newError(ErrCodeCatalogLoadFailed, "Menu catalog could not be loaded",
		fmt.Sprintf("source: %s, error: %s", source, err.Error()), false)
}

// NewSessionNotFoundError reports an unknown or expired conversation id.
func NewSessionNotFoundError(sessionID string) *StandardError {
	return newError(ErrCodeSessionNotFound, "Conversation session not found",
		fmt.Sprintf("sessionId: %s", sessionID), false)
}

// NewTurnCancelledError reports a turn abandoned before commit.
func NewTurnCancelledError(sessionID string, err error) *StandardError {
	return newError(ErrCodeTurnCancelled, "Turn abandoned before completion",
		fmt.Sprintf("sessionId: %s, error: %s", sessionID, err.Error()), true)
}

// NewSessionClosedError reports a turn sent to a conversation whose order is already accepted.
func NewSessionClosedError(sessionID string) *StandardError {
	return newError(ErrCodeSessionClosed, "Conversation already closed",
		fmt.Sprintf("sessionId: %s", sessionID), false)
}

// NewOrderNotAcceptedError reports a ticket request for an order that was never confirmed.
func NewOrderNotAcceptedError(sessionID, state string) *StandardError {
	return newError(ErrCodeOrderNotAccepted, "Order has not been accepted",
		fmt.Sprintf("sessionId: %s, state: %s", sessionID, state), false)
}

// NewTicketPublishFailedError reports a kitchen ticket that could not be published.
func NewTicketPublishFailedError(err error) *StandardError {
	return newError(ErrCodeTicketPublishFailed, "Kitchen ticket publish failed", err.Error(), true)
}

// NewInvalidInputError reports a malformed job or request payload.
func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid input", details, false)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeTicketPublishFailed,
		ErrCodeCollaboratorUnavailable,
		ErrCodeDatabaseConnectionFail:
		return 3

	case ErrCodeTurnCancelled,
		ErrCodeIntentAPITimeout,
		ErrCodeSimilarityAPITimeout:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory groups codes for dashboards and log fields.
func GetErrorCategory(code ErrorCode) string {
	c := string(code)
	switch {
	case code == ErrCodeInvalidInput:
		return "VALIDATION"
	case strings.Contains(c, "SESSION"), strings.Contains(c, "TURN"), strings.Contains(c, "ORDER"):
		return "SESSION"
	case strings.Contains(c, "TIMEOUT"), strings.Contains(c, "UNAVAILABLE"),
		strings.Contains(c, "CONNECTION"), strings.Contains(c, "PUBLISH"):
		return "TECHNICAL"
	case code == ErrCodeCatalogLoadFailed:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// AsStandardError unwraps err into a StandardError, if it is one.
func AsStandardError(err error) (*StandardError, bool) {
	for err != nil {
		if se, ok := err.(*StandardError); ok {
			return se, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
