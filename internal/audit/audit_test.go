package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(ctx context.Context, topicARN, subject string, payload interface{}, attributes map[string]string) (string, error) {
	args := m.Called(ctx, topicARN, subject, payload, attributes)
	return args.String(0), args.Error(1)
}

type mockIndexer struct {
	mock.Mock
}

func (m *mockIndexer) IndexDocument(ctx context.Context, index, id string, doc interface{}) error {
	return m.Called(ctx, index, id, doc).Error(0)
}

func entry(outcome models.AuditOutcome) *models.AuditEntry {
	return &models.AuditEntry{
		ID:         "aud_1",
		EventID:    "evt_1",
		EventType:  "checkout.session.completed",
		Source:     models.SourceWebhook,
		Outcome:    outcome,
		Attempts:   1,
		TenantID:   "studio_1",
		SessionID:  "cs_1",
		RecordedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestTrail_PrimaryFailureIsReturned(t *testing.T) {
	primary := NewMemorySink()
	primary.FailWith(errors.New("disk full"))
	trail := NewTrail(primary, logger.NewTestLogger(t))

	err := trail.Record(context.Background(), entry(models.OutcomeSucceeded))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuditWrite))
}

func TestTrail_SecondaryFailureIsSwallowed(t *testing.T) {
	primary := NewMemorySink()
	indexer := new(mockIndexer)
	indexer.On("IndexDocument", mock.Anything, "provisioning-audit", "aud_1", mock.Anything).
		Return(errors.New("es unavailable"))

	trail := NewTrail(primary, logger.NewTestLogger(t),
		WithSecondary(NewElasticsearchSink(indexer, "provisioning-audit")))

	require.NoError(t, trail.Record(context.Background(), entry(models.OutcomeSucceeded)))
	assert.Len(t, primary.Entries(), 1)
	indexer.AssertExpectations(t)
}

func TestTrail_AlertsOnlyOnTerminalFailure(t *testing.T) {
	publisher := new(mockPublisher)
	publisher.On("PublishJSON", mock.Anything, "arn:aws:sns:eu-west-1:123:alerts", "Pass provisioning failed",
		mock.Anything, map[string]string{"outcome": "failed_terminal", "errorCode": "POLICY_ERROR", "tenantId": "studio_1"}).
		Return("msg-1", nil).Once()

	trail := NewTrail(NewMemorySink(), logger.NewTestLogger(t),
		WithAlerter(NewSNSAlerter(publisher, "arn:aws:sns:eu-west-1:123:alerts")))

	ctx := context.Background()
	require.NoError(t, trail.Record(ctx, entry(models.OutcomeSucceeded)))
	require.NoError(t, trail.Record(ctx, entry(models.OutcomeSkippedDuplicate)))

	failed := entry(models.OutcomeFailedTerminal)
	failed.ErrorCode = "POLICY_ERROR"
	require.NoError(t, trail.Record(ctx, failed))

	publisher.AssertExpectations(t)
}

func TestPostgresSink_Record(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := entry(models.OutcomeSkippedDuplicate)
	e.SubscriptionID = "sub_1"
	e.DurationMs = 12

	dbMock.ExpectExec(`INSERT INTO provisioning_audit`).
		WithArgs("aud_1", "evt_1", "checkout.session.completed", "webhook", "skipped_duplicate", 1,
			nil, nil, "studio_1", nil, nil, "cs_1", nil, "sub_1", int64(12), e.RecordedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresSink(db).Record(context.Background(), e))
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestPostgresSink_History(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	dbMock.ExpectQuery(`SELECT (.+) FROM provisioning_audit\s+WHERE event_id = \$1`).
		WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "event_id", "event_type", "source", "outcome", "attempts",
			"error_code", "error_details", "tenant_id", "subscription_id", "duration_ms", "recorded_at",
		}).
			AddRow("aud_1", "evt_1", "checkout.session.completed", "webhook", "succeeded", 1, "", "", "studio_1", "sub_1", int64(5), at).
			AddRow("aud_2", "evt_1", "checkout.session.completed", "webhook", "skipped_duplicate", 1, "", "", "studio_1", "sub_1", int64(2), at.Add(time.Minute)))

	entries, err := NewPostgresSink(db).History(context.Background(), "evt_1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.OutcomeSucceeded, entries[0].Outcome)
	assert.Equal(t, models.OutcomeSkippedDuplicate, entries[1].Outcome)
}
