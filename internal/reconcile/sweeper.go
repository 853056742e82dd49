// Package reconcile compares the payment processor's completed transactions
// with issued subscriptions and reports, or heals, the gaps.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"pass-provisioning/internal/common/clock"
	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/common/metrics"
	"pass-provisioning/internal/common/observability"
	"pass-provisioning/internal/models"
	"pass-provisioning/internal/processor"
	"pass-provisioning/internal/signature"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Gap reasons.
const (
	ReasonMissingSubscription = "missing_subscription"
	ReasonMissingMetadata     = "missing_metadata"
	ReasonTenantMismatch      = "tenant_mismatch"
)

// SyntheticEventPrefix marks events the sweep feeds back to the processor.
const SyntheticEventPrefix = "reconcile:"

type TransactionSource interface {
	ListCompleted(ctx context.Context, tenantID string, from, to time.Time) ([]models.Transaction, error)
}

type Guard interface {
	Check(ctx context.Context, c models.Correlation) (*models.Subscription, error)
}

type Healer interface {
	Process(ctx context.Context, env processor.Envelope) *processor.Result
}

// Secrets signs synthetic events with the key the processor will verify
// them against.
type Secrets interface {
	WebhookSecret(account string) string
	PaymentAccount(tenantID string) string
}

type Options struct {
	Window      time.Duration
	Concurrency int
	Heal        bool
}

type Gap struct {
	TenantID      string `json:"tenantId"`
	TransactionID string `json:"transactionId"`
	SessionID     string `json:"sessionId,omitempty"`
	PaymentID     string `json:"paymentId,omitempty"`
	BeneficiaryID string `json:"beneficiaryId,omitempty"`
	ProductID     string `json:"productId,omitempty"`
	AmountMinor   int64  `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
	HealOutcome   string `json:"healOutcome,omitempty"`
	HealError     string `json:"healError,omitempty"`
}

type TenantError struct {
	TenantID string `json:"tenantId"`
	Error    string `json:"error"`
}

type Report struct {
	From         time.Time     `json:"from"`
	To           time.Time     `json:"to"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt"`
	Tenants      []string      `json:"tenants"`
	Checked      int           `json:"checked"`
	Matched      int           `json:"matched"`
	NotPasses    int           `json:"notPasses"`
	Healed       int           `json:"healed"`
	HealFailed   int           `json:"healFailed"`
	Gaps         []Gap         `json:"gaps"`
	TenantErrors []TenantError `json:"tenantErrors,omitempty"`
}

func (r *Report) GapCount() int { return len(r.Gaps) }

// Clean is true when every checked transaction had a subscription and no
// tenant failed to list.
func (r *Report) Clean() bool {
	return len(r.Gaps) == 0 && len(r.TenantErrors) == 0
}

type Sweeper struct {
	source  TransactionSource
	guard   Guard
	healer  Healer
	secrets Secrets
	clock   clock.Clock
	logger  logger.Logger
	tracer  trace.Tracer
	opts    Options
}

// NewSweeper builds a sweeper. healer may be nil when healing is never
// requested.
func NewSweeper(source TransactionSource, guard Guard, healer Healer, secrets Secrets, clk clock.Clock, log logger.Logger, opts Options) *Sweeper {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Sweeper{
		source:  source,
		guard:   guard,
		healer:  healer,
		secrets: secrets,
		clock:   clk,
		logger:  log.Named("reconcile"),
		tracer:  observability.NoopTracer(),
		opts:    opts,
	}
}

func (s *Sweeper) WithTracer(tracer trace.Tracer) *Sweeper {
	s.tracer = tracer
	return s
}

// Run sweeps the configured window ending now.
func (s *Sweeper) Run(ctx context.Context, tenantIDs []string) (*Report, error) {
	to := s.clock.Now()
	return s.RunRange(ctx, tenantIDs, to.Add(-s.opts.Window), to)
}

// RunRange sweeps [from, to) for each tenant. A tenant whose transactions
// cannot be listed is recorded in the report and does not stop the others.
// The returned error is non-nil only when ctx ends.
func (s *Sweeper) RunRange(ctx context.Context, tenantIDs []string, from, to time.Time) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, observability.SpanReconcile)
	defer span.End()

	report := &Report{
		From:      from,
		To:        to,
		StartedAt: s.clock.Now(),
		Tenants:   append([]string(nil), tenantIDs...),
		Gaps:      []Gap{},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for _, tenantID := range tenantIDs {
		tenantID := tenantID
		g.Go(func() error {
			partial, err := s.sweepTenant(gctx, tenantID, from, to)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.TenantErrors = append(report.TenantErrors, TenantError{TenantID: tenantID, Error: err.Error()})
				s.logger.Error("Tenant sweep failed", map[string]interface{}{
					"tenantId": tenantID,
					"error":    err.Error(),
				})
				return nil
			}
			report.merge(partial)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	sort.Slice(report.Gaps, func(i, j int) bool {
		if report.Gaps[i].TenantID != report.Gaps[j].TenantID {
			return report.Gaps[i].TenantID < report.Gaps[j].TenantID
		}
		return report.Gaps[i].TransactionID < report.Gaps[j].TransactionID
	})
	sort.Slice(report.TenantErrors, func(i, j int) bool {
		return report.TenantErrors[i].TenantID < report.TenantErrors[j].TenantID
	})
	report.FinishedAt = s.clock.Now()

	span.SetAttributes(
		attribute.Int("reconcile.checked", report.Checked),
		attribute.Int("reconcile.gaps", len(report.Gaps)),
		attribute.Int("reconcile.healed", report.Healed),
	)
	s.logger.Info("Reconciliation sweep finished", map[string]interface{}{
		"from":       from.Format(time.RFC3339),
		"to":         to.Format(time.RFC3339),
		"tenants":    len(tenantIDs),
		"checked":    report.Checked,
		"matched":    report.Matched,
		"gaps":       len(report.Gaps),
		"healed":     report.Healed,
		"healFailed": report.HealFailed,
	})
	return report, nil
}

func (r *Report) merge(p *Report) {
	r.Checked += p.Checked
	r.Matched += p.Matched
	r.NotPasses += p.NotPasses
	r.Healed += p.Healed
	r.HealFailed += p.HealFailed
	r.Gaps = append(r.Gaps, p.Gaps...)
}

func (s *Sweeper) sweepTenant(ctx context.Context, tenantID string, from, to time.Time) (*Report, error) {
	txns, err := s.source.ListCompleted(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	partial := &Report{}
	for i := range txns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		txn := &txns[i]

		md, ok := txn.CorrelationMetadata()
		// Only an explicit other purchaseType marks a non-pass sale. A
		// transaction that lost its metadata is still a candidate.
		if md.PurchaseType != "" && md.PurchaseType != models.PurchaseTypePass {
			partial.NotPasses++
			continue
		}
		partial.Checked++

		if !ok || txn.Correlation().Empty() {
			partial.Gaps = append(partial.Gaps, s.gap(tenantID, txn, md, ReasonMissingMetadata))
			metrics.ReconcileGaps.WithLabelValues(tenantID, ReasonMissingMetadata).Inc()
			continue
		}

		// Listed under this tenant's account but naming another tenant.
		// Reported only, never healed.
		if md.TenantID != tenantID {
			partial.Gaps = append(partial.Gaps, s.gap(tenantID, txn, md, ReasonTenantMismatch))
			metrics.ReconcileGaps.WithLabelValues(tenantID, ReasonTenantMismatch).Inc()
			continue
		}

		existing, err := s.guard.Check(ctx, txn.Correlation())
		if err != nil {
			return nil, fmt.Errorf("check transaction %s: %w", txn.ID, err)
		}
		if existing != nil {
			partial.Matched++
			continue
		}

		gap := s.gap(tenantID, txn, md, ReasonMissingSubscription)
		metrics.ReconcileGaps.WithLabelValues(tenantID, ReasonMissingSubscription).Inc()
		if s.opts.Heal && s.healer != nil {
			s.heal(ctx, tenantID, txn, md, &gap, partial)
		}
		partial.Gaps = append(partial.Gaps, gap)
	}
	return partial, nil
}

func (s *Sweeper) gap(tenantID string, txn *models.Transaction, md models.CorrelationMetadata, reason string) Gap {
	return Gap{
		TenantID:      tenantID,
		TransactionID: txn.ID,
		SessionID:     txn.SessionID,
		PaymentID:     txn.PaymentID,
		BeneficiaryID: md.BeneficiaryID,
		ProductID:     md.ProductID,
		AmountMinor:   txn.AmountMinor,
		Currency:      txn.Currency,
		Reason:        reason,
	}
}

// heal feeds the transaction back through the processor as a signed
// synthetic event, so the same guard and writer decide the result.
func (s *Sweeper) heal(ctx context.Context, tenantID string, txn *models.Transaction, md models.CorrelationMetadata, gap *Gap, partial *Report) {
	payload, err := syntheticEvent(txn, md)
	if err != nil {
		gap.HealOutcome = string(models.OutcomeFailedTerminal)
		gap.HealError = err.Error()
		partial.HealFailed++
		metrics.ReconcileHealed.WithLabelValues(tenantID, "failed").Inc()
		return
	}

	account := s.secrets.PaymentAccount(tenantID)
	header := signature.Sign(s.secrets.WebhookSecret(account), s.clock.Now(), payload)
	res := s.healer.Process(ctx, processor.Envelope{
		Payload:   payload,
		Signature: header,
		Account:   account,
		Source:    models.SourceReconcile,
	})

	gap.HealOutcome = string(res.Outcome)
	switch res.State {
	case processor.StateProvisioned, processor.StateSkipped:
		partial.Healed++
		metrics.ReconcileHealed.WithLabelValues(tenantID, "healed").Inc()
	default:
		partial.HealFailed++
		metrics.ReconcileHealed.WithLabelValues(tenantID, "failed").Inc()
		if res.Err != nil {
			gap.HealError = apperrors.AsStandard(res.Err).Error()
		}
	}
}

func syntheticEvent(txn *models.Transaction, md models.CorrelationMetadata) ([]byte, error) {
	eventType := txn.Type
	if !eventType.Supported() {
		eventType = models.EventPaymentIntentSucceeded
		if txn.SessionID != "" {
			eventType = models.EventCheckoutSessionCompleted
		}
	}
	completed := txn.CompletedAt.UTC()
	event := models.PaymentEvent{
		ID:      SyntheticEventPrefix + txn.ID,
		Type:    eventType,
		Created: completed.Unix(),
		Data: models.PaymentData{
			SessionID:   txn.SessionID,
			PaymentID:   txn.PaymentID,
			AmountMinor: txn.AmountMinor,
			Currency:    txn.Currency,
			Metadata:    md,
		},
	}
	if !completed.IsZero() {
		event.Data.CompletedAt = &completed
	}
	return json.Marshal(event)
}
