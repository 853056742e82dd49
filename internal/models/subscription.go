package models

import "time"

// Subscription is a provisioned pass owned by a beneficiary.
type Subscription struct {
	ID            string    `json:"id" db:"id"`
	BeneficiaryID string    `json:"beneficiaryId" db:"beneficiary_id"`
	TenantID      string    `json:"tenantId" db:"tenant_id"`
	PolicyID      string    `json:"policyId" db:"policy_id"`
	PolicyName    string    `json:"policyName" db:"policy_name"`
	PolicyKind    PassKind  `json:"policyKind" db:"policy_kind"`
	ActivatedAt   time.Time `json:"activatedAt" db:"activated_at"`
	ExpiresAt     time.Time `json:"expiresAt" db:"expires_at"`
	UsageCount    int       `json:"usageCount" db:"usage_count"`
	UsageLimit    *int      `json:"usageLimit,omitempty" db:"usage_limit"`
	Active        bool      `json:"active" db:"active"`
	SessionID     string    `json:"sessionId,omitempty" db:"session_id"`
	PaymentID     string    `json:"paymentId,omitempty" db:"payment_id"`
	EventID       string    `json:"eventId" db:"event_id"`
	AmountMinor   int64     `json:"amountMinor" db:"amount_minor"`
	Currency      string    `json:"currency" db:"currency"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

func (s *Subscription) Correlation() Correlation {
	return Correlation{SessionID: s.SessionID, PaymentID: s.PaymentID}
}

// IsUsableAt reports whether the pass may be redeemed at t.
func (s *Subscription) IsUsableAt(t time.Time) bool {
	if !s.Active || t.Before(s.ActivatedAt) || !t.Before(s.ExpiresAt) {
		return false
	}
	return s.UsageLimit == nil || s.UsageCount < *s.UsageLimit
}
