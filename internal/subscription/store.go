// Package subscription persists provisioned passes and answers the
// idempotency question "was this purchase already provisioned?".
package subscription

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"pass-provisioning/internal/common/database"
	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/models"
)

// ErrDuplicate is returned by Insert when a subscription with the same
// session id or payment id already exists.
var ErrDuplicate = stderrors.New("subscription already exists for purchase")

// ErrNotFound is returned by lookups by id.
var ErrNotFound = stderrors.New("subscription not found")

// Repository is the storage contract the guard and writer depend on.
type Repository interface {
	FindByCorrelation(ctx context.Context, c models.Correlation) (*models.Subscription, error)
	Insert(ctx context.Context, sub *models.Subscription) error
}

// Store is the Postgres Repository. It must be given the primary pool:
// a lagging replica would let a duplicate through the guard.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const subscriptionColumns = `id, beneficiary_id, tenant_id, policy_id, policy_name, policy_kind,
	activated_at, expires_at, usage_count, usage_limit, active,
	session_id, payment_id, event_id, amount_minor, currency, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub        models.Subscription
		kind       string
		usageLimit sql.NullInt64
		sessionID  sql.NullString
		paymentID  sql.NullString
	)
	err := row.Scan(
		&sub.ID, &sub.BeneficiaryID, &sub.TenantID, &sub.PolicyID, &sub.PolicyName, &kind,
		&sub.ActivatedAt, &sub.ExpiresAt, &sub.UsageCount, &usageLimit, &sub.Active,
		&sessionID, &paymentID, &sub.EventID, &sub.AmountMinor, &sub.Currency, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.PolicyKind = models.PassKind(kind)
	if usageLimit.Valid {
		limit := int(usageLimit.Int64)
		sub.UsageLimit = &limit
	}
	sub.SessionID = sessionID.String
	sub.PaymentID = paymentID.String
	sub.ActivatedAt = sub.ActivatedAt.UTC()
	sub.ExpiresAt = sub.ExpiresAt.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	return &sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// FindByCorrelation returns the subscription matching either id, or nil
// when none exists. A NULL argument never matches, so an event carrying only
// one of the ids is still found.
func (s *Store) FindByCorrelation(ctx context.Context, c models.Correlation) (*models.Subscription, error) {
	if c.Empty() {
		return nil, apperrors.NewMetadataError("event carries neither session id nor payment id", nil)
	}

	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE session_id = $1 OR payment_id = $2
		ORDER BY created_at ASC
		LIMIT 1`

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, nullString(c.SessionID), nullString(c.PaymentID)))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewTransientStoreError("subscription.find_by_correlation", err)
	}
	return sub, nil
}

func (s *Store) Insert(ctx context.Context, sub *models.Subscription) error {
	query := `INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	var usageLimit interface{}
	if sub.UsageLimit != nil {
		usageLimit = int64(*sub.UsageLimit)
	}

	_, err := s.db.ExecContext(ctx, query,
		sub.ID, sub.BeneficiaryID, sub.TenantID, sub.PolicyID, sub.PolicyName, string(sub.PolicyKind),
		sub.ActivatedAt, sub.ExpiresAt, sub.UsageCount, usageLimit, sub.Active,
		nullString(sub.SessionID), nullString(sub.PaymentID), sub.EventID, sub.AmountMinor, sub.Currency, sub.CreatedAt,
	)
	if err == nil {
		return nil
	}
	if database.IsUniqueViolation(err) {
		constraint := database.ConstraintName(err)
		if constraint == "" || strings.HasPrefix(constraint, "subscriptions_") {
			return fmt.Errorf("%w: %s", ErrDuplicate, sub.Correlation())
		}
	}
	return apperrors.NewTransientStoreError("subscription.insert", err)
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewTransientStoreError("subscription.get", err)
	}
	return sub, nil
}

// ListByBeneficiary returns a beneficiary's passes, newest first.
func (s *Store) ListByBeneficiary(ctx context.Context, tenantID, beneficiaryID string) ([]*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1 AND beneficiary_id = $2
		ORDER BY activated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, tenantID, beneficiaryID)
	if err != nil {
		return nil, apperrors.NewTransientStoreError("subscription.list", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientStoreError("subscription.list", err)
	}
	return subs, nil
}

// CorrectExpiry is the administrative path for fixing a stored window. The
// new end must still fall after activation.
func (s *Store) CorrectExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET expires_at = $2, updated_at = NOW()
		WHERE id = $1 AND activated_at < $2`, id, expiresAt.UTC())
	if err != nil {
		return apperrors.NewTransientStoreError("subscription.correct_expiry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewTransientStoreError("subscription.correct_expiry", err)
	}
	if n == 0 {
		return fmt.Errorf("%w or expiry not after activation: %s", ErrNotFound, id)
	}
	return nil
}

// DuplicateGroup is a beneficiary holding more than one subscription to
// the same policy from purchases close together in time.
type DuplicateGroup struct {
	TenantID        string   `json:"tenantId"`
	BeneficiaryID   string   `json:"beneficiaryId"`
	PolicyID        string   `json:"policyId"`
	SubscriptionIDs []string `json:"subscriptionIds"`
}

// FindDuplicates reports suspicious groups created within window of each
// other. The unique indexes make true double provisioning impossible; this
// catches purchases a user made twice by mistake.
func (s *Store) FindDuplicates(ctx context.Context, since time.Time, window time.Duration) ([]DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.tenant_id, a.beneficiary_id, a.policy_id, a.id, b.id
		FROM subscriptions a
		JOIN subscriptions b
		  ON a.tenant_id = b.tenant_id
		 AND a.beneficiary_id = b.beneficiary_id
		 AND a.policy_id = b.policy_id
		 AND a.id < b.id
		WHERE a.created_at >= $1
		  AND ABS(EXTRACT(EPOCH FROM (a.created_at - b.created_at))) <= $2
		ORDER BY a.tenant_id, a.beneficiary_id, a.policy_id`, since.UTC(), window.Seconds())
	if err != nil {
		return nil, apperrors.NewTransientStoreError("subscription.find_duplicates", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	var groups []DuplicateGroup
	for rows.Next() {
		var tenantID, beneficiaryID, policyID, first, second string
		if err := rows.Scan(&tenantID, &beneficiaryID, &policyID, &first, &second); err != nil {
			return nil, fmt.Errorf("scan duplicate: %w", err)
		}
		key := tenantID + "/" + beneficiaryID + "/" + policyID
		i, ok := index[key]
		if !ok {
			groups = append(groups, DuplicateGroup{TenantID: tenantID, BeneficiaryID: beneficiaryID, PolicyID: policyID})
			i = len(groups) - 1
			index[key] = i
		}
		groups[i].SubscriptionIDs = appendUnique(groups[i].SubscriptionIDs, first, second)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientStoreError("subscription.find_duplicates", err)
	}
	return groups, nil
}

func appendUnique(ids []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, id := range ids {
			if id == v {
				found = true
				break
			}
		}
		if !found {
			ids = append(ids, v)
		}
	}
	return ids
}
