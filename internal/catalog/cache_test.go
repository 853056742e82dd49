package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu     sync.Mutex
	calls  int
	policy *models.PassPolicy
	err    error
}

func (s *countingSource) GetPolicy(ctx context.Context, productID, tenantID string) (*models.PassPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p := *s.policy
	return &p, nil
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func samplePolicy() *models.PassPolicy {
	days := 90
	limit := 10
	return &models.PassPolicy{
		ID: "pass_10", TenantID: "studio_1", Name: "10 classes",
		Kind: models.PassKindCountLimited, Days: &days, ClassesLimit: &limit, Active: true,
	}
}

func TestCachedLookup_ServesFromCacheAfterFirstRead(t *testing.T) {
	mr, rdb := newMiniredis(t)
	source := &countingSource{policy: samplePolicy()}
	lookup := NewCachedLookup(source, rdb, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	first, err := lookup.GetPolicy(ctx, "pass_10", "studio_1")
	require.NoError(t, err)
	second, err := lookup.GetPolicy(ctx, "pass_10", "studio_1")
	require.NoError(t, err)

	assert.Equal(t, 1, source.calls)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists("pass-policy:studio_1:pass_10"))
	assert.Equal(t, time.Minute, mr.TTL("pass-policy:studio_1:pass_10"))
}

func TestCachedLookup_ExpiryRefetches(t *testing.T) {
	mr, rdb := newMiniredis(t)
	source := &countingSource{policy: samplePolicy()}
	lookup := NewCachedLookup(source, rdb, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	_, err := lookup.GetPolicy(ctx, "pass_10", "studio_1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = lookup.GetPolicy(ctx, "pass_10", "studio_1")
	require.NoError(t, err)

	assert.Equal(t, 2, source.calls)
}

func TestCachedLookup_NotFoundIsNotCached(t *testing.T) {
	mr, rdb := newMiniredis(t)
	source := &countingSource{err: ErrPolicyNotFound}
	lookup := NewCachedLookup(source, rdb, time.Minute, logger.NewTestLogger(t))

	_, err := lookup.GetPolicy(context.Background(), "ghost", "studio_1")
	assert.ErrorIs(t, err, ErrPolicyNotFound)
	assert.False(t, mr.Exists("pass-policy:studio_1:ghost"))
}

func TestCachedLookup_RedisDownFallsBackToSource(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	source := &countingSource{policy: samplePolicy()}
	lookup := NewCachedLookup(source, rdb, time.Minute, logger.NewTestLogger(t))

	mock.ExpectGet("pass-policy:studio_1:pass_10").SetErr(errors.New("dial tcp: connection refused"))
	mock.Regexp().ExpectSet("pass-policy:studio_1:pass_10", `.*`, time.Minute).SetErr(errors.New("dial tcp: connection refused"))

	policy, err := lookup.GetPolicy(context.Background(), "pass_10", "studio_1")
	require.NoError(t, err)
	assert.Equal(t, "pass_10", policy.ID)
	assert.Equal(t, 1, source.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedLookup_Invalidate(t *testing.T) {
	mr, rdb := newMiniredis(t)
	source := &countingSource{policy: samplePolicy()}
	lookup := NewCachedLookup(source, rdb, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	_, err := lookup.GetPolicy(ctx, "pass_10", "studio_1")
	require.NoError(t, err)
	require.NoError(t, lookup.Invalidate(ctx, "pass_10", "studio_1"))

	assert.False(t, mr.Exists("pass-policy:studio_1:pass_10"))
}
