package reconcilesubscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/reconcile"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "reconcile-subscriptions"
)

// SweeperFactory builds a sweeper for one job so the job can override the
// window and heal flag.
type SweeperFactory func(window time.Duration, heal bool) *reconcile.Sweeper

type Reporter interface {
	Send(ctx context.Context, report *reconcile.Report) error
}

type Handler struct {
	config       *Config
	newSweeper   SweeperFactory
	defaults     reconcile.Options
	reporter     Reporter
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

// NewHandler wires the worker. reporter may be nil.
func NewHandler(config *Config, defaults reconcile.Options, newSweeper SweeperFactory, reporter Reporter, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		newSweeper:   newSweeper,
		defaults:     defaults,
		reporter:     reporter,
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
	if job.Variables != "" {
		if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
			return h.errorHandler.HandleJobError(ctx, client, job,
				errors.NewMetadataError(fmt.Sprintf("parse job variables: %v", err), err))
		}
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		return h.errorHandler.HandleJobError(ctx, client, job, err)
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{"error": err})
		return err
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("Failed to send complete job command", map[string]interface{}{"error": err})
		return err
	}
	return nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	tenants := input.Tenants
	if len(tenants) == 0 {
		tenants = h.config.Tenants
	}
	if len(tenants) == 0 {
		return nil, errors.NewInternalError("no tenants configured for reconciliation", nil)
	}

	window := h.defaults.Window
	if input.WindowHours > 0 {
		window = time.Duration(input.WindowHours) * time.Hour
	}
	heal := h.defaults.Heal
	if input.Heal != nil {
		heal = *input.Heal
	}

	report, err := h.newSweeper(window, heal).Run(ctx, tenants)
	if err != nil {
		return nil, errors.AsStandard(err)
	}
	if len(report.TenantErrors) == len(tenants) {
		return nil, errors.NewPaymentAPIError("list_transactions",
			fmt.Errorf("no tenant could be swept: %s", report.TenantErrors[0].Error), true)
	}

	output := &Output{
		Checked:     report.Checked,
		Matched:     report.Matched,
		Gaps:        len(report.Gaps),
		Healed:      report.Healed,
		HealFailed:  report.HealFailed,
		GapTxns:     make([]string, 0, len(report.Gaps)),
		CompletedAt: report.FinishedAt.UTC().Format(time.RFC3339),
	}
	for _, g := range report.Gaps {
		output.GapTxns = append(output.GapTxns, g.TransactionID)
	}
	for _, te := range report.TenantErrors {
		output.FailedTenants = append(output.FailedTenants, te.TenantID)
	}

	if h.reporter != nil && !report.Clean() {
		if err := h.reporter.Send(ctx, report); err != nil {
			// Mail failure does not fail the job.
			h.logger.Warn("Reconciliation report not sent", map[string]interface{}{"error": err.Error()})
		} else {
			output.ReportSent = true
		}
	}

	h.logger.Info("Reconciliation job finished", map[string]interface{}{
		"checked": output.Checked,
		"gaps":    output.Gaps,
		"healed":  output.Healed,
	})
	return output, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
