package validatesubscription

import (
	"context"
	"testing"
	"time"

	"pass-provisioning/internal/common/clock"
	"pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/models"
	"pass-provisioning/internal/subscription/subscriptiontest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func createSubscription(id, policyID string, activated time.Time, days int, limit *int, used int) *models.Subscription {
	return &models.Subscription{
		ID:            id,
		TenantID:      "gym-1",
		BeneficiaryID: "member-7",
		PolicyID:      policyID,
		ActivatedAt:   activated,
		ExpiresAt:     activated.AddDate(0, 0, days),
		UsageLimit:    limit,
		UsageCount:    used,
		Active:        true,
		SessionID:     "cs_" + id,
	}
}

func intPtr(v int) *int { return &v }

func createTestHandler(t *testing.T, subs ...*models.Subscription) (*Handler, *subscriptiontest.Memory) {
	repo := subscriptiontest.NewMemory()
	for _, s := range subs {
		repo.Seed(s)
	}
	return NewHandler(LoadConfig(time.Second), repo, clock.NewManual(now), logger.NewTestLogger(t)), repo
}

func TestHandler_Execute_Usable(t *testing.T) {
	handler, _ := createTestHandler(t,
		createSubscription("sub_old", "pass_10", now.AddDate(0, 0, -100), 90, intPtr(10), 10),
		createSubscription("sub_new", "pass_10", now.AddDate(0, 0, -5), 90, intPtr(10), 3),
	)

	output, err := handler.Execute(context.Background(), &Input{TenantID: "gym-1", BeneficiaryID: "member-7"})

	require.NoError(t, err)
	assert.True(t, output.IsValid)
	assert.Equal(t, "sub_new", output.SubscriptionID)
	require.NotNil(t, output.RemainingUses)
	assert.Equal(t, 7, *output.RemainingUses)
}

func TestHandler_Execute_Unusable(t *testing.T) {
	tests := []struct {
		name   string
		sub    *models.Subscription
		input  Input
		reason string
	}{
		{
			name:   "no subscription",
			input:  Input{TenantID: "gym-1", BeneficiaryID: "member-7"},
			reason: ReasonNoSubscription,
		},
		{
			name:   "expired",
			sub:    createSubscription("s1", "monthly", now.AddDate(0, 0, -40), 30, nil, 0),
			input:  Input{TenantID: "gym-1", BeneficiaryID: "member-7"},
			reason: ReasonExpired,
		},
		{
			name:   "expires exactly now",
			sub:    createSubscription("s2", "monthly", now.AddDate(0, 0, -30), 30, nil, 0),
			input:  Input{TenantID: "gym-1", BeneficiaryID: "member-7"},
			reason: ReasonExpired,
		},
		{
			name:   "usage exhausted",
			sub:    createSubscription("s3", "pass_10", now.AddDate(0, 0, -1), 90, intPtr(10), 10),
			input:  Input{TenantID: "gym-1", BeneficiaryID: "member-7"},
			reason: ReasonUsageExhausted,
		},
		{
			name:   "checked before activation",
			sub:    createSubscription("s4", "monthly", now, 30, nil, 0),
			input:  Input{TenantID: "gym-1", BeneficiaryID: "member-7", At: "2025-03-01T00:00:00Z"},
			reason: ReasonNotYetActive,
		},
		{
			name:   "other policy only",
			sub:    createSubscription("s5", "monthly", now.AddDate(0, 0, -1), 30, nil, 0),
			input:  Input{TenantID: "gym-1", BeneficiaryID: "member-7", PolicyID: "yearly"},
			reason: ReasonNoSubscription,
		},
		{
			name:   "other tenant",
			sub:    createSubscription("s6", "monthly", now.AddDate(0, 0, -1), 30, nil, 0),
			input:  Input{TenantID: "gym-2", BeneficiaryID: "member-7"},
			reason: ReasonNoSubscription,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subs []*models.Subscription
			if tt.sub != nil {
				subs = append(subs, tt.sub)
			}
			handler, _ := createTestHandler(t, subs...)

			output, err := handler.Execute(context.Background(), &tt.input)

			require.NoError(t, err)
			assert.False(t, output.IsValid)
			assert.Equal(t, tt.reason, output.Reason)
		})
	}
}

func TestHandler_Execute_InactiveReported(t *testing.T) {
	sub := createSubscription("s1", "monthly", now.AddDate(0, 0, -1), 30, nil, 0)
	sub.Active = false
	handler, _ := createTestHandler(t, sub)

	output, err := handler.Execute(context.Background(), &Input{TenantID: "gym-1", BeneficiaryID: "member-7"})

	require.NoError(t, err)
	assert.False(t, output.IsValid)
	assert.Equal(t, ReasonInactive, output.Reason)
	assert.Equal(t, "s1", output.SubscriptionID)
}

func TestHandler_Execute_Errors(t *testing.T) {
	t.Run("missing beneficiary is terminal", func(t *testing.T) {
		handler, _ := createTestHandler(t)

		_, err := handler.Execute(context.Background(), &Input{TenantID: "gym-1"})

		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeMetadata))
		assert.False(t, errors.IsRetryable(err))
	})

	t.Run("bad instant is terminal", func(t *testing.T) {
		handler, _ := createTestHandler(t)

		_, err := handler.Execute(context.Background(), &Input{TenantID: "gym-1", BeneficiaryID: "member-7", At: "yesterday"})

		assert.True(t, errors.HasCode(err, errors.ErrCodeMetadata))
	})

	t.Run("store failure is retryable", func(t *testing.T) {
		handler, repo := createTestHandler(t)
		repo.FailFinds(1)

		_, err := handler.Execute(context.Background(), &Input{TenantID: "gym-1", BeneficiaryID: "member-7"})

		require.Error(t, err)
		assert.True(t, errors.IsRetryable(err))
	})
}
