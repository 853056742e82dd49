// Package validity turns a pass policy and an activation instant into the
// window and usage allowance of a new subscription. It is pure: the caller
// supplies "now".
package validity

import (
	stderrors "errors"
	"fmt"
	"time"

	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/models"
)

var (
	ErrNoValidityMode        = stderrors.New("policy defines neither an expiry instant nor a day count")
	ErrAmbiguousValidityMode = stderrors.New("policy defines both an expiry instant and a day count")
	ErrNonPositiveDays       = stderrors.New("rolling validity requires a positive day count")
	ErrEmptyWindow           = stderrors.New("validity window ends at or before activation")
	ErrInvalidUsageLimit     = stderrors.New("count-limited policy requires a positive classes limit")
	ErrUnknownKind           = stderrors.New("unknown pass kind")
	ErrZeroActivation        = stderrors.New("activation instant is not set")
)

// Window is the computed validity of a subscription. A nil UsageLimit means
// unlimited use.
type Window struct {
	Start      time.Time
	End        time.Time
	UsageLimit *int
}

// Mode reports which validity mode a policy uses.
func Mode(policy *models.PassPolicy) (models.ValidityMode, error) {
	switch {
	case policy.ExpiryInstant != nil && policy.Days != nil:
		return "", ErrAmbiguousValidityMode
	case policy.ExpiryInstant != nil:
		return models.ValidityFixedDate, nil
	case policy.Days != nil:
		return models.ValidityRollingDays, nil
	default:
		return "", ErrNoValidityMode
	}
}

// Compute derives the subscription window for a purchase activated at
// activation. All errors are POLICY_ERROR and never retryable.
//
// Rolling windows add D calendar days in UTC, so daylight saving shifts in
// the tenant's zone do not change the stored instant.
func Compute(policy *models.PassPolicy, activation time.Time) (Window, error) {
	if activation.IsZero() {
		return Window{}, policyError(policy, ErrZeroActivation)
	}
	start := activation.UTC()

	mode, err := Mode(policy)
	if err != nil {
		return Window{}, policyError(policy, err)
	}

	var end time.Time
	switch mode {
	case models.ValidityFixedDate:
		end = policy.ExpiryInstant.UTC()
	case models.ValidityRollingDays:
		if *policy.Days <= 0 {
			return Window{}, policyError(policy, ErrNonPositiveDays)
		}
		end = start.AddDate(0, 0, *policy.Days)
	}

	if !end.After(start) {
		return Window{}, policyError(policy, fmt.Errorf("%w: start %s, end %s",
			ErrEmptyWindow, start.Format(time.RFC3339), end.Format(time.RFC3339)))
	}

	limit, err := UsageLimit(policy)
	if err != nil {
		return Window{}, policyError(policy, err)
	}

	return Window{Start: start, End: end, UsageLimit: limit}, nil
}

// UsageLimit maps a pass kind to its redemption allowance.
func UsageLimit(policy *models.PassPolicy) (*int, error) {
	switch policy.Kind {
	case models.PassKindSingleUse:
		one := 1
		return &one, nil
	case models.PassKindCountLimited:
		if policy.ClassesLimit == nil || *policy.ClassesLimit < 1 {
			return nil, ErrInvalidUsageLimit
		}
		limit := *policy.ClassesLimit
		return &limit, nil
	case models.PassKindUnlimited:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, policy.Kind)
	}
}

func policyError(policy *models.PassPolicy, cause error) error {
	return apperrors.NewPolicyError(cause.Error(), cause).
		WithMetadata("policyId", policy.ID).
		WithMetadata("tenantId", policy.TenantID)
}
