package audit

import (
	"context"
	"database/sql"
	"fmt"

	"pass-provisioning/internal/models"
)

type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

const insertAuditQuery = `
	INSERT INTO provisioning_audit (
		id, event_id, event_type, source, outcome, attempts, error_code, error_details,
		tenant_id, beneficiary_id, product_id, session_id, payment_id, subscription_id,
		duration_ms, recorded_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

func (s *PostgresSink) Record(ctx context.Context, e *models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, insertAuditQuery,
		e.ID, e.EventID, e.EventType, e.Source, string(e.Outcome), e.Attempts,
		nullable(e.ErrorCode), nullable(e.ErrorDetails),
		nullable(e.TenantID), nullable(e.BeneficiaryID), nullable(e.ProductID),
		nullable(e.SessionID), nullable(e.PaymentID), nullable(e.SubscriptionID),
		e.DurationMs, e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// History returns the audit entries for one event, oldest first.
func (s *PostgresSink) History(ctx context.Context, eventID string) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, event_type, source, outcome, attempts,
		       COALESCE(error_code, ''), COALESCE(error_details, ''),
		       COALESCE(tenant_id, ''), COALESCE(subscription_id, ''),
		       duration_ms, recorded_at
		FROM provisioning_audit
		WHERE event_id = $1
		ORDER BY recorded_at ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var (
			e       models.AuditEntry
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.Source, &outcome, &e.Attempts,
			&e.ErrorCode, &e.ErrorDetails, &e.TenantID, &e.SubscriptionID, &e.DurationMs, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Outcome = models.AuditOutcome(outcome)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
