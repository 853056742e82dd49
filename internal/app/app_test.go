package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"pass-provisioning/internal/common/aws"
	"pass-provisioning/internal/common/config"
	"pass-provisioning/internal/common/database"
	"pass-provisioning/internal/common/logger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff(t *testing.T) {
	log := logger.NewTestLogger(t)

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		}, 5, time.Millisecond, log, "Postgres connection")

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			return errors.New("no route to host")
		}, 3, time.Millisecond, log, "Redis connection")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "Redis connection failed after 3 attempts")
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := RetryWithBackoff(ctx, func() error {
			calls++
			cancel()
			return errors.New("timeout")
		}, 10, time.Hour, log, "Zeebe client initialization")

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

type noopSES struct{}

func (noopSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return &ses.SendEmailOutput{}, nil
}

func TestDependencies_Reporter(t *testing.T) {
	cfg := &config.Config{}
	d := &Dependencies{Config: cfg}
	assert.Nil(t, d.Reporter())

	d.SES = aws.NewSESClientWithAPI(noopSES{})
	assert.Nil(t, d.Reporter(), "no operators configured")

	cfg.Notifications.SES.Operators = []string{"ops@example.com"}
	assert.NotNil(t, d.Reporter())
}

func TestDependencies_ReadinessChecks(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	d := &Dependencies{Postgres: &database.PostgresClient{DB: db}}
	checks := d.ReadinessChecks()
	require.Len(t, checks, 1)

	mock.ExpectPing()
	assert.NoError(t, checks["postgres"](context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, checks["postgres"](context.Background()))
}
