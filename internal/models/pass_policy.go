package models

import "time"

type PassKind string

const (
	PassKindSingleUse    PassKind = "single_use"
	PassKindCountLimited PassKind = "count_limited"
	PassKindUnlimited    PassKind = "unlimited"
)

type ValidityMode string

const (
	ValidityFixedDate   ValidityMode = "fixed_date"
	ValidityRollingDays ValidityMode = "rolling_days"
)

// PassPolicy is a catalog product: what a purchase grants and for how long.
// Exactly one of ExpiryInstant and Days is set on a well-formed policy.
type PassPolicy struct {
	ID            string     `json:"id" db:"id"`
	TenantID      string     `json:"tenantId" db:"tenant_id"`
	Name          string     `json:"name" db:"name"`
	Kind          PassKind   `json:"kind" db:"kind"`
	PriceMinor    int64      `json:"priceMinor" db:"price_minor"`
	Currency      string     `json:"currency" db:"currency"`
	ExpiryInstant *time.Time `json:"expiryInstant,omitempty" db:"expiry_instant"`
	Days          *int       `json:"days,omitempty" db:"days"`
	ClassesLimit  *int       `json:"classesLimit,omitempty" db:"classes_limit"`
	Active        bool       `json:"active" db:"active"`
}
