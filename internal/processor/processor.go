// Package processor drives one payment event from receipt to a terminal,
// audited outcome.
package processor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"pass-provisioning/internal/catalog"
	"pass-provisioning/internal/common/clock"
	"pass-provisioning/internal/common/config"
	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/common/metrics"
	"pass-provisioning/internal/common/observability"
	"pass-provisioning/internal/common/retry"
	"pass-provisioning/internal/common/validation"
	"pass-provisioning/internal/models"
	"pass-provisioning/internal/subscription"
	"pass-provisioning/internal/validity"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const auditWriteTimeout = 5 * time.Second

type Verifier interface {
	Verify(payload []byte, header, account string) error
}

type Guard interface {
	Check(ctx context.Context, c models.Correlation) (*models.Subscription, error)
}

type Writer interface {
	Provision(ctx context.Context, req subscription.Request) (*subscription.Result, error)
}

type AuditSink interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
}

// TenantResolver maps the account an event was signed for to its tenant.
type TenantResolver interface {
	TenantForAccount(account string) (string, bool)
}

type Deps struct {
	Verifier Verifier
	Tenants  TenantResolver
	Catalog  catalog.Lookup
	Guard    Guard
	Writer   Writer
	Audit    AuditSink
	Clock    clock.Clock
	Logger   logger.Logger
	Tracer   trace.Tracer
	Obs      *observability.Observability
}

// Processor is stateless across events and safe for concurrent use.
type Processor struct {
	verifier Verifier
	tenants  TenantResolver
	catalog  catalog.Lookup
	guard    Guard
	writer   Writer
	audit    AuditSink
	clock    clock.Clock
	logger   logger.Logger
	tracer   trace.Tracer
	obs      *observability.Observability
	retry    retry.Policy
}

func New(deps Deps, policy retry.Policy) *Processor {
	p := &Processor{
		verifier: deps.Verifier,
		tenants:  deps.Tenants,
		catalog:  deps.Catalog,
		guard:    deps.Guard,
		writer:   deps.Writer,
		audit:    deps.Audit,
		clock:    deps.Clock,
		logger:   deps.Logger,
		tracer:   deps.Tracer,
		obs:      deps.Obs,
		retry:    policy,
	}
	if p.clock == nil {
		p.clock = clock.NewSystem()
	}
	if p.logger == nil {
		p.logger = logger.NewNoOpLogger()
	}
	if p.tracer == nil {
		p.tracer = observability.NoopTracer()
	}
	return p
}

// Verifier returns the signature check this processor applies, for
// transports that must authenticate before queueing.
func (p *Processor) Verifier() Verifier {
	return p.verifier
}

// Process runs a delivery to a terminal state and records the outcome. It
// never panics on bad input and never returns without an audit attempt.
func (p *Processor) Process(ctx context.Context, env Envelope) *Result {
	started := time.Now()
	metrics.ProvisioningInFlight.Inc()
	defer metrics.ProvisioningInFlight.Dec()

	ctx, span := p.tracer.Start(ctx, observability.SpanProcessEvent)
	defer span.End()

	res := &Result{}
	res.transition(StateReceived)

	event := p.run(ctx, env, res)

	if res.State == StateFailed && ctx.Err() != nil {
		res.Interrupted = true
	}

	entry := p.auditEntry(env, event, res, time.Since(started))
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	res.AuditErr = p.audit.Record(auditCtx, entry)
	cancel()

	p.observe(ctx, span, res, entry, time.Since(started))
	return res
}

func (p *Processor) run(ctx context.Context, env Envelope, res *Result) *models.PaymentEvent {
	res.transition(StateVerifying)
	if err := p.verifier.Verify(env.Payload, env.Signature, env.Account); err != nil {
		res.EventID = claimedEventID(env.Payload)
		p.fail(res, err)
		return nil
	}

	event, err := decodeEvent(env.Payload)
	if err != nil {
		res.EventID = claimedEventID(env.Payload)
		res.Malformed = true
		p.fail(res, err)
		return nil
	}
	res.EventID = event.ID
	res.EventType = event.Type
	res.TenantID = event.Data.Metadata.TenantID

	if !event.Type.Supported() {
		res.Outcome = models.OutcomeIgnored
		res.transition(StateIgnored)
		return event
	}

	activation, err := validateCorrelation(env.Payload, event)
	if err != nil {
		p.fail(res, err)
		return event
	}
	if err := p.checkTenantBinding(env.Account, event); err != nil {
		p.fail(res, err)
		return event
	}
	res.transition(StateMetadataValidated)

	correlation := event.Correlation()
	var existing *models.Subscription
	guardAttempts, err := retry.Do(ctx, p.retry, apperrors.IsRetryable, p.onRetry(event, "idempotency_check"),
		func(ctx context.Context, attempt int) error {
			var checkErr error
			existing, checkErr = p.guard.Check(ctx, correlation)
			return checkErr
		})
	res.Attempts = guardAttempts
	if err != nil {
		p.fail(res, err)
		return event
	}
	res.transition(StateIdempotencyChecked)

	if existing != nil {
		res.Subscription = existing
		res.Outcome = models.OutcomeSkippedDuplicate
		res.transition(StateSkipped)
		return event
	}

	var provisioned *subscription.Result
	provisionAttempts, err := retry.Do(ctx, p.retry, apperrors.IsRetryable, p.onRetry(event, "provision"),
		func(ctx context.Context, attempt int) error {
			var provErr error
			provisioned, provErr = p.provision(ctx, event, activation)
			return provErr
		})
	res.Attempts += provisionAttempts - 1
	if err != nil {
		p.fail(res, err)
		return event
	}

	res.Subscription = provisioned.Subscription
	if !provisioned.Created {
		res.Outcome = models.OutcomeSkippedDuplicate
		res.transition(StateSkipped)
		return event
	}

	res.Outcome = models.OutcomeSucceeded
	if res.Attempts > 1 {
		res.Outcome = models.OutcomeRetriedThenSucceeded
	}
	res.transition(StateProvisioned)
	return event
}

// provision is one attempt of catalog lookup, window computation and write.
func (p *Processor) provision(ctx context.Context, event *models.PaymentEvent, activation time.Time) (*subscription.Result, error) {
	md := event.Data.Metadata

	policy, err := p.catalog.GetPolicy(ctx, md.ProductID, md.TenantID)
	if stderrors.Is(err, catalog.ErrPolicyNotFound) {
		return nil, apperrors.NewPolicyError(
			fmt.Sprintf("no active policy %q for tenant %q", md.ProductID, md.TenantID), err)
	}
	if err != nil {
		return nil, err
	}

	window, err := validity.Compute(policy, activation)
	if err != nil {
		return nil, err
	}

	return p.writer.Provision(ctx, subscription.Request{Event: event, Policy: policy, Window: window})
}

func (p *Processor) fail(res *Result, err error) {
	res.Err = apperrors.AsStandard(err)
	if res.Attempts == 0 {
		res.Attempts = 1
	}
	res.Outcome = models.OutcomeFailedTerminal
	res.transition(StateFailed)
}

func (p *Processor) onRetry(event *models.PaymentEvent, step string) retry.Notify {
	return func(attempt int, err error, delay time.Duration) {
		metrics.ProvisioningAttempts.WithLabelValues("retry").Inc()
		p.logger.Warn("Transient failure, retrying", map[string]interface{}{
			"eventId": event.ID,
			"step":    step,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	}
}

func decodeEvent(payload []byte) (*models.PaymentEvent, error) {
	if result := validation.ValidateEnvelope(payload); !result.Valid {
		return nil, apperrors.NewMetadataError(result.String(), nil)
	}
	var event models.PaymentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, apperrors.NewMetadataError("event body does not decode", err)
	}
	return &event, nil
}

func validateCorrelation(payload []byte, event *models.PaymentEvent) (time.Time, error) {
	if result := validation.ValidateCorrelation(payload); !result.Valid {
		return time.Time{}, apperrors.NewMetadataError(result.String(), nil).
			WithMetadata("fields", result.Fields())
	}
	activation, ok := event.ActivationInstant()
	if !ok {
		return time.Time{}, apperrors.NewMetadataError("event has neither completedAt nor created", nil)
	}
	return activation, nil
}

// checkTenantBinding rejects an event whose metadata names a tenant other
// than the one owning the account whose secret signed it.
func (p *Processor) checkTenantBinding(account string, event *models.PaymentEvent) error {
	if p.tenants == nil || account == "" {
		return nil
	}
	owner, ok := p.tenants.TenantForAccount(account)
	if !ok {
		return nil
	}
	claimed := event.Data.Metadata.TenantID
	if claimed == owner {
		return nil
	}
	return apperrors.NewAuthenticityError(
		fmt.Sprintf("account %q is bound to tenant %q, event names %q", account, owner, claimed), nil).
		WithMetadata("account", account).
		WithMetadata("tenantId", claimed)
}

// claimedEventID pulls the id out of a body that failed verification or
// decoding. It is only used to label the audit entry.
func claimedEventID(payload []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.ID == "" {
		return "unknown"
	}
	if len(probe.ID) > 128 {
		return probe.ID[:128]
	}
	return probe.ID
}

func (p *Processor) auditEntry(env Envelope, event *models.PaymentEvent, res *Result, elapsed time.Duration) *models.AuditEntry {
	entry := &models.AuditEntry{
		ID:         uuid.NewString(),
		EventID:    res.EventID,
		EventType:  string(res.EventType),
		Source:     env.Source,
		Outcome:    res.Outcome,
		Attempts:   res.Attempts,
		DurationMs: elapsed.Milliseconds(),
		RecordedAt: p.clock.Now(),
	}
	if entry.Source == "" {
		entry.Source = models.SourceWebhook
	}
	if event != nil {
		md := event.Data.Metadata
		entry.TenantID = md.TenantID
		entry.BeneficiaryID = md.BeneficiaryID
		entry.ProductID = md.ProductID
		entry.SessionID = event.Data.SessionID
		entry.PaymentID = event.Data.PaymentID
	}
	if res.Subscription != nil {
		entry.SubscriptionID = res.Subscription.ID
	}
	if res.Err != nil {
		stdErr := apperrors.AsStandard(res.Err)
		entry.ErrorCode = string(stdErr.Code)
		entry.ErrorDetails = stdErr.Details
		if res.Interrupted {
			entry.ErrorDetails = "interrupted: " + entry.ErrorDetails
		}
	}
	return entry
}

func (p *Processor) observe(ctx context.Context, span trace.Span, res *Result, entry *models.AuditEntry, elapsed time.Duration) {
	outcome := string(res.Outcome)

	metrics.ProvisioningEvents.WithLabelValues(outcome, entry.Source).Inc()
	metrics.ProvisioningDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	metrics.ProvisioningAttempts.WithLabelValues("total").Add(float64(res.Attempts))
	p.obs.RecordEventOutcome(ctx, res.TenantID, outcome)

	span.SetAttributes(observability.EventAttrs(res.EventID, string(res.EventType), res.TenantID)...)
	span.SetAttributes(
		attribute.String(observability.AttrOutcome, outcome),
		attribute.Int(observability.AttrAttempts, res.Attempts),
	)

	fields := map[string]interface{}{
		"eventId":     res.EventID,
		"eventType":   string(res.EventType),
		"tenantId":    res.TenantID,
		"source":      entry.Source,
		"state":       string(res.State),
		"outcome":     outcome,
		"attempts":    res.Attempts,
		"durationMs":  elapsed.Milliseconds(),
		"transitions": res.Transitions,
	}
	if res.Subscription != nil {
		fields["subscriptionId"] = res.Subscription.ID
	}

	switch {
	case res.AuditErr != nil:
		fields["error"] = res.AuditErr.Error()
		span.SetStatus(codes.Error, "audit write failed")
		p.logger.Error("Audit write failed, delivery will not be acknowledged", fields)
	case res.State == StateFailed:
		stdErr := apperrors.AsStandard(res.Err)
		fields["errorCode"] = string(stdErr.Code)
		fields["error"] = stdErr.Error()
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(stdErr.Code))
		p.logger.Error("Payment event failed", fields)
	default:
		p.logger.Info("Payment event processed", fields)
	}
}

// RetryPolicy turns provisioning settings into the per-event retry bound.
func RetryPolicy(cfg config.ProvisioningConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:    cfg.MaxRetries,
		BaseDelay:      time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
		AttemptTimeout: time.Duration(cfg.AttemptTimeoutMs) * time.Millisecond,
		Backoff:        retry.Linear,
	}
}

func DefaultRetryPolicy() retry.Policy {
	return retry.DefaultPolicy
}
