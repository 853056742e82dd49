package validatesubscription

type Input struct {
	TenantID      string `json:"tenantId"`
	BeneficiaryID string `json:"beneficiaryId"`
	// PolicyID narrows the check to one pass. Empty accepts any.
	PolicyID string `json:"policyId,omitempty"`
	// At is an RFC3339 instant; empty means now.
	At string `json:"at,omitempty"`
}

// Reasons reported when IsValid is false.
const (
	ReasonNoSubscription = "no_subscription"
	ReasonExpired        = "expired"
	ReasonNotYetActive   = "not_yet_active"
	ReasonUsageExhausted = "usage_exhausted"
	ReasonInactive       = "inactive"
)

type Output struct {
	IsValid        bool   `json:"isValid"`
	Reason         string `json:"reason,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	PolicyID       string `json:"policyId,omitempty"`
	ExpiresAt      string `json:"expiresAt,omitempty"`
	RemainingUses  *int   `json:"remainingUses,omitempty"`
}
