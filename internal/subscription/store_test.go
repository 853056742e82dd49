package subscription

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var subscriptionRowColumns = []string{
	"id", "beneficiary_id", "tenant_id", "policy_id", "policy_name", "policy_kind",
	"activated_at", "expires_at", "usage_count", "usage_limit", "active",
	"session_id", "payment_id", "event_id", "amount_minor", "currency", "created_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func sampleSubscription() *models.Subscription {
	limit := 10
	activated := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.Subscription{
		ID:            "sub_1",
		BeneficiaryID: "user_1",
		TenantID:      "studio_1",
		PolicyID:      "pass_10",
		PolicyName:    "10 classes",
		PolicyKind:    models.PassKindCountLimited,
		ActivatedAt:   activated,
		ExpiresAt:     activated.AddDate(0, 0, 90),
		UsageLimit:    &limit,
		Active:        true,
		SessionID:     "cs_1",
		EventID:       "evt_1",
		AmountMinor:   9000,
		Currency:      "EUR",
		CreatedAt:     activated,
	}
}

func rowFor(s *models.Subscription) []driver.Value {
	var limit interface{}
	if s.UsageLimit != nil {
		limit = int64(*s.UsageLimit)
	}
	var payment interface{}
	if s.PaymentID != "" {
		payment = s.PaymentID
	}
	return []driver.Value{
		s.ID, s.BeneficiaryID, s.TenantID, s.PolicyID, s.PolicyName, string(s.PolicyKind),
		s.ActivatedAt, s.ExpiresAt, int64(s.UsageCount), limit, s.Active,
		s.SessionID, payment, s.EventID, s.AmountMinor, s.Currency, s.CreatedAt,
	}
}

// ==========================
// FindByCorrelation
// ==========================

func TestStore_FindByCorrelation(t *testing.T) {
	t.Run("found by session id", func(t *testing.T) {
		store, mock := newMockStore(t)
		want := sampleSubscription()

		mock.ExpectQuery(`SELECT (.+) FROM subscriptions\s+WHERE session_id = \$1 OR payment_id = \$2`).
			WithArgs("cs_1", nil).
			WillReturnRows(sqlmock.NewRows(subscriptionRowColumns).AddRow(rowFor(want)...))

		got, err := store.FindByCorrelation(context.Background(), models.Correlation{SessionID: "cs_1"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, "", got.PaymentID)
		require.NotNil(t, got.UsageLimit)
		assert.Equal(t, 10, *got.UsageLimit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent returns nil without error", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`SELECT (.+) FROM subscriptions`).
			WithArgs(nil, "pi_9").
			WillReturnRows(sqlmock.NewRows(subscriptionRowColumns))

		got, err := store.FindByCorrelation(context.Background(), models.Correlation{PaymentID: "pi_9"})
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("store error is transient", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`SELECT (.+) FROM subscriptions`).
			WillReturnError(errors.New("i/o timeout"))

		_, err := store.FindByCorrelation(context.Background(), models.Correlation{SessionID: "cs_1"})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransientStore))
	})

	t.Run("empty correlation is a metadata error", func(t *testing.T) {
		store, _ := newMockStore(t)

		_, err := store.FindByCorrelation(context.Background(), models.Correlation{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMetadata))
	})
}

// ==========================
// Insert
// ==========================

func TestStore_Insert(t *testing.T) {
	t.Run("inserts new row", func(t *testing.T) {
		store, mock := newMockStore(t)
		sub := sampleSubscription()

		mock.ExpectExec(`INSERT INTO subscriptions`).
			WithArgs(sub.ID, sub.BeneficiaryID, sub.TenantID, sub.PolicyID, sub.PolicyName, "count_limited",
				sub.ActivatedAt, sub.ExpiresAt, 0, int64(10), true,
				"cs_1", nil, "evt_1", int64(9000), "EUR", sub.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Insert(context.Background(), sub))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to duplicate", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`INSERT INTO subscriptions`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "subscriptions_session_id_key"})

		err := store.Insert(context.Background(), sampleSubscription())
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("other failures are transient", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectExec(`INSERT INTO subscriptions`).
			WillReturnError(&pq.Error{Code: "55P03", Message: "lock not available"})

		err := store.Insert(context.Background(), sampleSubscription())
		assert.NotErrorIs(t, err, ErrDuplicate)
		assert.True(t, apperrors.IsRetryable(err))
	})
}

// ==========================
// Administrative operations
// ==========================

func TestStore_CorrectExpiry(t *testing.T) {
	newExpiry := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("updates row", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE subscriptions`).WithArgs("sub_1", newExpiry).WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.CorrectExpiry(context.Background(), "sub_1", newExpiry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no row matched", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE subscriptions`).WithArgs("sub_x", newExpiry).WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.CorrectExpiry(context.Background(), "sub_x", newExpiry)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_FindDuplicates(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT a.tenant_id, a.beneficiary_id, a.policy_id, a.id, b.id`).
		WithArgs(since, float64(600)).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "beneficiary_id", "policy_id", "id", "id"}).
			AddRow("studio_1", "user_1", "pass_10", "sub_a", "sub_b").
			AddRow("studio_1", "user_1", "pass_10", "sub_a", "sub_c").
			AddRow("studio_2", "user_9", "drop_in", "sub_x", "sub_y"))

	groups, err := store.FindDuplicates(context.Background(), since, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"sub_a", "sub_b", "sub_c"}, groups[0].SubscriptionIDs)
	assert.Equal(t, "studio_2", groups[1].TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
