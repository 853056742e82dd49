package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

type ErrorCode string

const (
	// Signature missing, malformed, stale or not matching.
	ErrCodeAuthenticity ErrorCode = "AUTHENTICITY_ERROR"
	// Correlation payload is missing or malformed.
	ErrCodeMetadata ErrorCode = "METADATA_ERROR"
	// Pass policy unknown, inactive or internally inconsistent.
	ErrCodePolicy ErrorCode = "POLICY_ERROR"
	// Store or cache unreachable, timed out, or a lock conflict.
	ErrCodeTransientStore ErrorCode = "TRANSIENT_STORE_ERROR"
	// Another delivery already provisioned this purchase. Not a failure.
	ErrCodeDuplicateEvent ErrorCode = "DUPLICATE_EVENT"
	ErrCodePaymentAPI     ErrorCode = "PAYMENT_API_ERROR"
	ErrCodeAuditWrite     ErrorCode = "AUDIT_WRITE_FAILED"
	ErrCodeNotification   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches another StandardError by code, so
// errors.Is(err, &StandardError{Code: ErrCodePolicy}) works.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

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

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
}

func causeDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func NewAuthenticityError(details string, cause error) *StandardError {
	return newError(ErrCodeAuthenticity, "Event authenticity could not be verified", details, false, cause)
}

func NewMetadataError(details string, cause error) *StandardError {
	return newError(ErrCodeMetadata, "Correlation metadata is missing or malformed", details, false, cause)
}

func NewPolicyError(details string, cause error) *StandardError {
	return newError(ErrCodePolicy, "Pass policy cannot be applied", details, false, cause)
}

func NewTransientStoreError(operation string, err error) *StandardError {
	return newError(ErrCodeTransientStore, "Store temporarily unavailable",
		fmt.Sprintf("operation: %s, error: %s", operation, causeDetails(err)), true, err)
}

func NewDuplicateEventError(details string) *StandardError {
	return newError(ErrCodeDuplicateEvent, "Purchase already provisioned", details, false, nil)
}

func NewPaymentAPIError(operation string, err error, retryable bool) *StandardError {
	return newError(ErrCodePaymentAPI, "Payment processor API error",
		fmt.Sprintf("operation: %s, error: %s", operation, causeDetails(err)), retryable, err)
}

func NewAuditWriteError(err error) *StandardError {
	return newError(ErrCodeAuditWrite, "Audit entry could not be persisted", causeDetails(err), true, err)
}

func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return newError(ErrCodeNotification, "Notification delivery failed",
		fmt.Sprintf("type: %s, error: %s", notificationType, causeDetails(err)), true, err)
}

func NewInternalError(details string, cause error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", details, false, cause)
}

// AsStandard extracts the StandardError in err's chain. Context cancellation
// maps to a retryable transient error, anything else to INTERNAL_ERROR.
func AsStandard(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return NewTransientStoreError("context", err)
	}
	return NewInternalError(err.Error(), err)
}

func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsStandard(err).Code
}

func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	return stderrors.As(err, &stdErr) && stdErr.Code == code
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return AsStandard(err).Retryable
}

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeAuthenticity:   "EVENT_NOT_AUTHENTIC",
	ErrCodeMetadata:       "EVENT_METADATA_INVALID",
	ErrCodePolicy:         "PASS_POLICY_INVALID",
	ErrCodeTransientStore: "STORE_UNAVAILABLE",
	ErrCodeDuplicateEvent: "DUPLICATE_EVENT",
	ErrCodePaymentAPI:     "PAYMENT_API_ERROR",
	ErrCodeAuditWrite:     "AUDIT_WRITE_FAILED",
	ErrCodeNotification:   "NOTIFICATION_SEND_FAILED",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeTransientStore,
		ErrCodeAuditWrite,
		ErrCodeNotification:
		return 3

	case ErrCodePaymentAPI:
		return 2

	default:
		return 0
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "AUTHENTICITY"):
		return "SECURITY"
	case strings.Contains(codeStr, "METADATA") || strings.Contains(codeStr, "POLICY"):
		return "VALIDATION"
	case strings.Contains(codeStr, "STORE") || strings.Contains(codeStr, "AUDIT"):
		return "DATABASE"
	case strings.Contains(codeStr, "PAYMENT"):
		return "EXTERNAL"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "DUPLICATE"):
		return "IDEMPOTENCY"
	default:
		return "OTHER"
	}
}
