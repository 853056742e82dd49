package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policyFile = `{
	"policies": [
		{"id": "pass_10", "tenantId": "studio_1", "name": "10 classes", "kind": "count_limited",
		 "priceMinor": 9000, "currency": "EUR", "days": 90, "classesLimit": 10},
		{"id": "summer", "tenantId": "studio_1", "name": "Summer", "kind": "unlimited",
		 "priceMinor": 12000, "currency": "EUR", "expiryInstant": "2025-09-01T00:00:00Z", "active": false}
	]
}`

func TestParsePolicyFile(t *testing.T) {
	inputs, err := ParsePolicyFile([]byte(policyFile))
	require.NoError(t, err)
	require.Len(t, inputs, 2)

	assert.Equal(t, models.PassKindCountLimited, inputs[0].Kind)
	assert.True(t, inputs[0].Active)
	require.NotNil(t, inputs[0].ClassesLimit)
	assert.Equal(t, 10, *inputs[0].ClassesLimit)

	assert.False(t, inputs[1].Active)
	require.NotNil(t, inputs[1].ExpiryInstant)
	assert.True(t, inputs[1].ExpiryInstant.Equal(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)))
}

func TestParsePolicyFile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"missing policies", `{}`},
		{"unknown kind", `{"policies":[{"id":"a","tenantId":"t","name":"n","kind":"forever","currency":"EUR"}]}`},
		{"missing tenant", `{"policies":[{"id":"a","name":"n","kind":"unlimited","currency":"EUR"}]}`},
		{"zero days", `{"policies":[{"id":"a","tenantId":"t","name":"n","kind":"unlimited","currency":"EUR","days":0}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicyFile([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestSeed_WritesAndInvalidates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	inputs, err := ParsePolicyFile([]byte(policyFile))
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO passes`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO passes`).WillReturnResult(sqlmock.NewResult(0, 1))

	mr, rdb := newMiniredis(t)
	cache := NewCachedLookup(NewPostgresSource(db), rdb, time.Minute, logger.NewTestLogger(t))
	require.NoError(t, mr.Set(cacheKey("studio_1", "pass_10"), `{}`))

	n, err := Seed(context.Background(), NewPostgresSource(db), cache, inputs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists(cacheKey("studio_1", "pass_10")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_StopsAtFirstFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	inputs, err := ParsePolicyFile([]byte(policyFile))
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO passes`).WillReturnError(errors.New("connection reset"))

	n, err := Seed(context.Background(), NewPostgresSource(db), nil, inputs)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
