package provisionsubscription

import (
	"context"
	"encoding/json"
	"fmt"

	"pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/models"
	"pass-provisioning/internal/processor"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "provision-subscription"
)

type Processor interface {
	Process(ctx context.Context, env processor.Envelope) *processor.Result
}

type Handler struct {
	config       *Config
	processor    Processor
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, proc Processor, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		processor:    proc,
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

// execute runs the delivery through the processor. Outcomes that were
// recorded complete the job; an unrecorded outcome or a terminal failure is
// returned so the error handler can retry or raise it.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.Payload == "" {
		return nil, errors.NewMetadataError("job carries no event payload", nil).
			WithMetadata("eventId", input.EventID)
	}

	res := h.processor.Process(ctx, processor.Envelope{
		Payload:   []byte(input.Payload),
		Signature: input.Signature,
		Account:   input.Account,
		Source:    models.SourceZeebe,
	})

	switch {
	case res.AuditErr != nil:
		return nil, res.AuditErr
	case res.Interrupted:
		return nil, res.Err
	case res.State == processor.StateFailed:
		return nil, errors.AsStandard(res.Err).WithMetadata("eventId", res.EventID)
	}

	output := &Output{
		EventID:  res.EventID,
		Outcome:  string(res.Outcome),
		State:    string(res.State),
		Attempts: res.Attempts,
	}
	if res.Subscription != nil {
		output.SubscriptionID = res.Subscription.ID
	}
	return output, nil
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
		"eventId": output.EventID,
		"outcome": output.Outcome,
	})
	return nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
