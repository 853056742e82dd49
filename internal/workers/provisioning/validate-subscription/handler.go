package validatesubscription

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pass-provisioning/internal/common/clock"
	"pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "validate-subscription"
)

// Lister reads a beneficiary's subscriptions, newest activation first.
type Lister interface {
	ListByBeneficiary(ctx context.Context, tenantID, beneficiaryID string) ([]*models.Subscription, error)
}

// Handler answers "may this beneficiary use a pass right now". A missing or
// lapsed pass completes the job with isValid=false so the process can branch
// on it; only store failures fail the job.
type Handler struct {
	config       *Config
	store        Lister
	clock        clock.Clock
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, store Lister, clk clock.Clock, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		store:        store,
		clock:        clk,
		errorHandler: errors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	h.logger.Info("Processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return h.errorHandler.HandleJobError(ctx, client, job,
			errors.NewMetadataError(fmt.Sprintf("parse job variables: %v", err), err))
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		return h.errorHandler.HandleJobError(ctx, client, job, err)
	}

	return h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.TenantID == "" || input.BeneficiaryID == "" {
		return nil, errors.NewMetadataError("tenantId and beneficiaryId are required", nil).
			WithMetadata("fields", []string{"tenantId", "beneficiaryId"})
	}

	at := h.clock.Now()
	if input.At != "" {
		parsed, err := time.Parse(time.RFC3339, input.At)
		if err != nil {
			return nil, errors.NewMetadataError(fmt.Sprintf("invalid at %q", input.At), err)
		}
		at = parsed.UTC()
	}

	subs, err := h.store.ListByBeneficiary(ctx, input.TenantID, input.BeneficiaryID)
	if err != nil {
		return nil, err
	}

	output := &Output{Reason: ReasonNoSubscription}
	for _, sub := range subs {
		if input.PolicyID != "" && sub.PolicyID != input.PolicyID {
			continue
		}
		if sub.IsUsableAt(at) {
			return usable(sub), nil
		}
		// Keep the reason from the newest matching pass.
		if output.Reason == ReasonNoSubscription {
			output.Reason = unusableReason(sub, at)
			output.SubscriptionID = sub.ID
			output.PolicyID = sub.PolicyID
			output.ExpiresAt = sub.ExpiresAt.Format(time.RFC3339)
		}
	}

	h.logger.Debug("No usable subscription", map[string]interface{}{
		"tenantId":      input.TenantID,
		"beneficiaryId": input.BeneficiaryID,
		"reason":        output.Reason,
	})
	return output, nil
}

func usable(sub *models.Subscription) *Output {
	out := &Output{
		IsValid:        true,
		SubscriptionID: sub.ID,
		PolicyID:       sub.PolicyID,
		ExpiresAt:      sub.ExpiresAt.Format(time.RFC3339),
	}
	if sub.UsageLimit != nil {
		remaining := *sub.UsageLimit - sub.UsageCount
		out.RemainingUses = &remaining
	}
	return out
}

func unusableReason(sub *models.Subscription, at time.Time) string {
	switch {
	case !sub.Active:
		return ReasonInactive
	case at.Before(sub.ActivatedAt):
		return ReasonNotYetActive
	case !at.Before(sub.ExpiresAt):
		return ReasonExpired
	default:
		return ReasonUsageExhausted
	}
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return err
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("Failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return err
	}

	h.logger.Info("Job completed", map[string]interface{}{
		"jobKey":  job.Key,
		"isValid": output.IsValid,
	})
	return nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
