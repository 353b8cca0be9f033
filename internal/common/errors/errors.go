// Package errors provides the standardized error taxonomy for plan generation
// and its conversion to BPMN errors for the workflow engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeRemoteInvocationFailed ErrorCode = "REMOTE_INVOCATION_FAILED"
	ErrCodeGenerationFailed       ErrorCode = "GENERATION_FAILED"
	ErrCodeGenerationTimeout      ErrorCode = "GENERATION_TIMEOUT"
	ErrCodeGenerationCancelled    ErrorCode = "GENERATION_CANCELLED"
	ErrCodeGenerationSuperseded   ErrorCode = "GENERATION_SUPERSEDED"

	ErrCodeDeliveryFailed     ErrorCode = "DELIVERY_FAILED"
	ErrCodeInvalidPhoneNumber ErrorCode = "INVALID_PHONE_NUMBER"
	ErrCodeNoPlanToDeliver    ErrorCode = "NO_PLAN_TO_DELIVER"

	ErrCodeHistoryWriteFailed  ErrorCode = "HISTORY_WRITE_FAILED"
	ErrCodeSnapshotWriteFailed ErrorCode = "SNAPSHOT_WRITE_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// GenerationFailedMessage is the only failure text a UI ever sees.
const GenerationFailedMessage = "Failed to generate plan. Please try again."

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

// Unwrap exposes the wrapped cause so errors.Is/As reach it.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns e after merging the given metadata.
func (e *StandardError) WithMetadata(md map[string]interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{}, len(md))
	}
	for k, v := range md {
		e.Metadata[k] = v
	}
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

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewValidationError reports input that must not reach the remote agent.
func NewValidationError(field, details string) *StandardError {
	return newError(ErrCodeValidationFailed, "User input is required to generate a plan",
		fmt.Sprintf("field: %s, %s", field, details), false, nil)
}

// NewRemoteInvocationError wraps a failure of the remote agent call.
func NewRemoteInvocationError(err error) *StandardError {
	return newError(ErrCodeRemoteInvocationFailed, "Remote agent invocation failed",
		errDetails(err), true, err)
}

// NewGenerationFailedError is the sanitized Store-boundary error. It carries
// no cause; the Store logs the underlying error before returning it.
func NewGenerationFailedError() *StandardError {
	return newError(ErrCodeGenerationFailed, GenerationFailedMessage, "", true, nil)
}

// NewGenerationTimeoutError reports a generation that exceeded its deadline.
func NewGenerationTimeoutError(timeout time.Duration) *StandardError {
	return newError(ErrCodeGenerationTimeout, "Plan generation timed out",
		fmt.Sprintf("timeout: %s", timeout), true, nil)
}

// NewGenerationCancelledError reports a generation aborted by its caller.
func NewGenerationCancelledError(err error) *StandardError {
	return newError(ErrCodeGenerationCancelled, "Plan generation cancelled", errDetails(err), false, err)
}

// NewGenerationSupersededError reports a cycle replaced by a newer request.
func NewGenerationSupersededError(cycleID string) *StandardError {
	return newError(ErrCodeGenerationSuperseded, "Plan generation superseded by a newer request",
		fmt.Sprintf("cycleId: %s", cycleID), false, nil)
}

// NewDeliveryFailedError wraps an SMS publish failure.
func NewDeliveryFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeDeliveryFailed, "Plan delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, errDetails(err)), true, err)
}

// NewInvalidPhoneNumberError rejects delivery to an unusable number.
func NewInvalidPhoneNumberError() *StandardError {
	return newError(ErrCodeInvalidPhoneNumber, "A valid phone number is required", "", false, nil)
}

// NewNoPlanToDeliverError rejects delivery before a plan exists.
func NewNoPlanToDeliverError() *StandardError {
	return newError(ErrCodeNoPlanToDeliver, "No generated plan to deliver", "", false, nil)
}

// NewHistoryWriteFailedError wraps a failed history insert.
func NewHistoryWriteFailedError(err error) *StandardError {
	return newError(ErrCodeHistoryWriteFailed, "Generation history write failed", errDetails(err), true, err)
}

// NewSnapshotWriteFailedError wraps a failed session snapshot write.
func NewSnapshotWriteFailedError(err error) *StandardError {
	return newError(ErrCodeSnapshotWriteFailed, "Session snapshot write failed", errDetails(err), true, err)
}

// NewInternalError normalizes an unexpected error.
func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", errDetails(err), false, err)
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 4. Inspection
// ==========================

// AsStandard extracts a *StandardError from err's chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// IsCode reports whether the outermost StandardError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Code == code
}

// CodeOf returns the code of err, INTERNAL_ERROR for foreign errors and ""
// for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if stdErr, ok := AsStandard(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeRemoteInvocationFailed,
		ErrCodeDeliveryFailed,
		ErrCodeHistoryWriteFailed,
		ErrCodeSnapshotWriteFailed:
		return 3

	case ErrCodeGenerationTimeout,
		ErrCodeGenerationFailed:
		return 1

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

// GetErrorCategory groups codes for log filtering.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.HasPrefix(codeStr, "GENERATION") || strings.HasPrefix(codeStr, "REMOTE"):
		return "GENERATION"
	case strings.Contains(codeStr, "DELIVER"):
		return "DELIVERY"
	case strings.Contains(codeStr, "HISTORY") || strings.Contains(codeStr, "SNAPSHOT"):
		return "STORAGE"
	default:
		return "OTHER"
	}
}
