// Package audit records every processing outcome. Entries are append-only:
// nothing here updates or deletes.
package audit

import (
	"context"
	"fmt"

	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/models"
)

// Sink persists audit entries.
type Sink interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
}

// Alerter notifies operators about outcomes that need a human.
type Alerter interface {
	Alert(ctx context.Context, entry *models.AuditEntry) error
}

// Trail fans an entry out to a primary sink, whose failure is the caller's
// failure, and to best-effort secondary sinks. Terminal failures also go to
// the alerter.
type Trail struct {
	primary     Sink
	secondaries []Sink
	alerter     Alerter
	logger      logger.Logger
}

type Option func(*Trail)

func WithSecondary(sink Sink) Option {
	return func(t *Trail) { t.secondaries = append(t.secondaries, sink) }
}

func WithAlerter(alerter Alerter) Option {
	return func(t *Trail) { t.alerter = alerter }
}

func NewTrail(primary Sink, log logger.Logger, opts ...Option) *Trail {
	t := &Trail{primary: primary, logger: log}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Trail) Record(ctx context.Context, entry *models.AuditEntry) error {
	if err := t.primary.Record(ctx, entry); err != nil {
		return apperrors.NewAuditWriteError(fmt.Errorf("record %s for event %s: %w", entry.Outcome, entry.EventID, err))
	}

	for _, sink := range t.secondaries {
		if err := sink.Record(ctx, entry); err != nil {
			t.logger.Warn("Secondary audit sink failed", map[string]interface{}{
				"eventId": entry.EventID,
				"outcome": string(entry.Outcome),
				"error":   err.Error(),
			})
		}
	}

	if t.alerter != nil && entry.Outcome == models.OutcomeFailedTerminal {
		if err := t.alerter.Alert(ctx, entry); err != nil {
			t.logger.Warn("Failure alert not delivered", map[string]interface{}{
				"eventId": entry.EventID,
				"error":   err.Error(),
			})
		}
	}
	return nil
}
