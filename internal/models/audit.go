package models

import "time"

type AuditOutcome string

const (
	OutcomeSucceeded            AuditOutcome = "succeeded"
	OutcomeRetriedThenSucceeded AuditOutcome = "retried_then_succeeded"
	OutcomeSkippedDuplicate     AuditOutcome = "skipped_duplicate"
	OutcomeFailedTerminal       AuditOutcome = "failed_terminal"
	OutcomeIgnored              AuditOutcome = "ignored"
)

// Event sources recorded in the audit trail.
const (
	SourceWebhook   = "webhook"
	SourceZeebe     = "zeebe"
	SourceReconcile = "reconcile"
)

// AuditEntry is an append-only record of one processing outcome.
type AuditEntry struct {
	ID             string        `json:"id" db:"id"`
	EventID        string        `json:"eventId" db:"event_id"`
	EventType      string        `json:"eventType" db:"event_type"`
	Source         string        `json:"source" db:"source"`
	Outcome        AuditOutcome  `json:"outcome" db:"outcome"`
	Attempts       int           `json:"attempts" db:"attempts"`
	ErrorCode      string        `json:"errorCode,omitempty" db:"error_code"`
	ErrorDetails   string        `json:"errorDetails,omitempty" db:"error_details"`
	TenantID       string        `json:"tenantId,omitempty" db:"tenant_id"`
	BeneficiaryID  string        `json:"beneficiaryId,omitempty" db:"beneficiary_id"`
	ProductID      string        `json:"productId,omitempty" db:"product_id"`
	SessionID      string        `json:"sessionId,omitempty" db:"session_id"`
	PaymentID      string        `json:"paymentId,omitempty" db:"payment_id"`
	SubscriptionID string        `json:"subscriptionId,omitempty" db:"subscription_id"`
	DurationMs     int64         `json:"durationMs" db:"duration_ms"`
	RecordedAt     time.Time     `json:"recordedAt" db:"recorded_at"`
}
