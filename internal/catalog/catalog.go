// Package catalog resolves pass policies by product and tenant.
package catalog

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/models"

	"github.com/lib/pq"
)

// ErrPolicyNotFound means no active policy exists for the product and
// tenant. Callers decide whether that is fatal.
var ErrPolicyNotFound = stderrors.New("pass policy not found")

// Lookup is the read side of the pass catalog.
type Lookup interface {
	GetPolicy(ctx context.Context, productID, tenantID string) (*models.PassPolicy, error)
}

// PostgresSource reads policies from the passes table.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

const selectPolicyQuery = `
	SELECT id, tenant_id, name, kind, price_minor, currency,
	       expiry_instant, days, classes_limit, active
	FROM passes
	WHERE id = $1 AND tenant_id = $2 AND active = TRUE
`

func (s *PostgresSource) GetPolicy(ctx context.Context, productID, tenantID string) (*models.PassPolicy, error) {
	var (
		policy       models.PassPolicy
		kind         string
		expiry       pq.NullTime
		days         sql.NullInt64
		classesLimit sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, selectPolicyQuery, productID, tenantID).Scan(
		&policy.ID,
		&policy.TenantID,
		&policy.Name,
		&kind,
		&policy.PriceMinor,
		&policy.Currency,
		&expiry,
		&days,
		&classesLimit,
		&policy.Active,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, apperrors.NewTransientStoreError("catalog.get_policy", err)
	}

	policy.Kind = models.PassKind(kind)
	if expiry.Valid {
		t := expiry.Time.UTC()
		policy.ExpiryInstant = &t
	}
	if days.Valid {
		d := int(days.Int64)
		policy.Days = &d
	}
	if classesLimit.Valid {
		c := int(classesLimit.Int64)
		policy.ClassesLimit = &c
	}

	return &policy, nil
}

// PolicyInput describes a catalog entry to create or update.
type PolicyInput struct {
	ID            string
	TenantID      string
	Name          string
	Kind          models.PassKind
	PriceMinor    int64
	Currency      string
	ExpiryInstant *time.Time
	Days          *int
	ClassesLimit  *int
	Active        bool
}

const upsertPolicyQuery = `
	INSERT INTO passes (id, tenant_id, name, kind, price_minor, currency,
	                    expiry_instant, days, classes_limit, active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (tenant_id, id) DO UPDATE SET
		name = EXCLUDED.name,
		kind = EXCLUDED.kind,
		price_minor = EXCLUDED.price_minor,
		currency = EXCLUDED.currency,
		expiry_instant = EXCLUDED.expiry_instant,
		days = EXCLUDED.days,
		classes_limit = EXCLUDED.classes_limit,
		active = EXCLUDED.active,
		updated_at = NOW()
`

// UpsertPolicy writes a catalog entry. It is used by seeding tools and tests;
// provisioning only reads.
func (s *PostgresSource) UpsertPolicy(ctx context.Context, in PolicyInput) error {
	_, err := s.db.ExecContext(ctx, upsertPolicyQuery,
		in.ID, in.TenantID, in.Name, string(in.Kind), in.PriceMinor, in.Currency,
		nullTime(in.ExpiryInstant), nullInt(in.Days), nullInt(in.ClassesLimit), in.Active,
	)
	if err != nil {
		return fmt.Errorf("upsert policy %s/%s: %w", in.TenantID, in.ID, err)
	}
	return nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}
