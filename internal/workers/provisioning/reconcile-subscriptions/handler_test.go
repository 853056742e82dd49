package reconcilesubscriptions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pass-provisioning/internal/common/clock"
	"pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/models"
	"pass-provisioning/internal/reconcile"
	"pass-provisioning/internal/subscription"
	"pass-provisioning/internal/subscription/subscriptiontest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 5, 2, 3, 0, 0, 0, time.UTC)

type txnSource struct {
	txns    map[string][]models.Transaction
	windows []time.Duration
}

func (s *txnSource) ListCompleted(ctx context.Context, tenantID string, from, to time.Time) ([]models.Transaction, error) {
	s.windows = append(s.windows, to.Sub(from))
	txns, ok := s.txns[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: 503 service unavailable", tenantID)
	}
	return txns, nil
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Send(ctx context.Context, report *reconcile.Report) error {
	return m.Called(ctx, report).Error(0)
}

func txn(id string) models.Transaction {
	return models.Transaction{
		ID:          id,
		Type:        models.EventCheckoutSessionCompleted,
		SessionID:   "cs_" + id,
		CompletedAt: now.Add(-time.Hour),
		Metadata: map[string]string{
			"productId": "prod_1", "beneficiaryId": "m-1", "tenantId": "gym-1", "purchaseType": models.PurchaseTypePass,
		},
	}
}

func newHandler(t *testing.T, source *txnSource, repo *subscriptiontest.Memory, reporter Reporter) *Handler {
	defaults := reconcile.Options{Window: 24 * time.Hour, Concurrency: 2}
	factory := func(window time.Duration, heal bool) *reconcile.Sweeper {
		opts := defaults
		opts.Window = window
		opts.Heal = heal
		return reconcile.NewSweeper(source, subscription.NewGuard(repo), nil, nil, clock.NewManual(now), logger.NewTestLogger(t), opts)
	}
	return NewHandler(LoadConfig(time.Minute, []string{"gym-1"}), defaults, factory, reporter, logger.NewTestLogger(t))
}

func TestHandler_Execute_ReportsGaps(t *testing.T) {
	repo := subscriptiontest.NewMemory()
	matched := txn("txn_1")
	repo.Seed(&models.Subscription{ID: "sub_1", SessionID: matched.SessionID, TenantID: "gym-1"})
	source := &txnSource{txns: map[string][]models.Transaction{"gym-1": {matched, txn("txn_2")}}}

	reporter := &mockReporter{}
	reporter.On("Send", mock.Anything, mock.MatchedBy(func(r *reconcile.Report) bool {
		return len(r.Gaps) == 1 && r.Gaps[0].TransactionID == "txn_2"
	})).Return(nil)

	output, err := newHandler(t, source, repo, reporter).Execute(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Equal(t, 2, output.Checked)
	assert.Equal(t, 1, output.Matched)
	assert.Equal(t, 1, output.Gaps)
	assert.Equal(t, []string{"txn_2"}, output.GapTxns)
	assert.True(t, output.ReportSent)
	assert.Equal(t, []time.Duration{24 * time.Hour}, source.windows)
	reporter.AssertExpectations(t)
}

func TestHandler_Execute_WindowOverride(t *testing.T) {
	source := &txnSource{txns: map[string][]models.Transaction{"gym-1": nil}}

	output, err := newHandler(t, source, subscriptiontest.NewMemory(), nil).
		Execute(context.Background(), &Input{WindowHours: 72})

	require.NoError(t, err)
	assert.Equal(t, 0, output.Gaps)
	assert.False(t, output.ReportSent)
	assert.Equal(t, []time.Duration{72 * time.Hour}, source.windows)
}

func TestHandler_Execute_CleanSweepSendsNoMail(t *testing.T) {
	source := &txnSource{txns: map[string][]models.Transaction{"gym-1": nil}}
	reporter := &mockReporter{}

	_, err := newHandler(t, source, subscriptiontest.NewMemory(), reporter).Execute(context.Background(), &Input{})

	require.NoError(t, err)
	reporter.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestHandler_Execute_AllTenantsFailed(t *testing.T) {
	source := &txnSource{txns: map[string][]models.Transaction{}}

	_, err := newHandler(t, source, subscriptiontest.NewMemory(), nil).Execute(context.Background(), &Input{})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePaymentAPI))
	assert.True(t, errors.IsRetryable(err))
}

func TestHandler_Execute_ReportFailureDoesNotFailJob(t *testing.T) {
	source := &txnSource{txns: map[string][]models.Transaction{"gym-1": {txn("txn_9")}}}
	reporter := &mockReporter{}
	reporter.On("Send", mock.Anything, mock.Anything).Return(fmt.Errorf("ses throttled"))

	output, err := newHandler(t, source, subscriptiontest.NewMemory(), reporter).Execute(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Equal(t, 1, output.Gaps)
	assert.False(t, output.ReportSent)
}
