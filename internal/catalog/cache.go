package catalog

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"pass-provisioning/internal/common/database"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/models"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "pass-policy"

// CachedLookup keeps policies in Redis in front of another Lookup. Cache
// failures degrade to the source. Misses are never cached, so a newly
// created policy is visible on the next call.
type CachedLookup struct {
	source Lookup
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedLookup(source Lookup, rdb *redis.Client, ttl time.Duration, log logger.Logger) *CachedLookup {
	return &CachedLookup{
		source: source,
		redis:  rdb,
		ttl:    ttl,
		logger: log,
	}
}

func cacheKey(tenantID, productID string) string {
	return fmt.Sprintf("%s:%s:%s", cacheKeyPrefix, tenantID, productID)
}

func (c *CachedLookup) GetPolicy(ctx context.Context, productID, tenantID string) (*models.PassPolicy, error) {
	key := cacheKey(tenantID, productID)

	var cached models.PassPolicy
	err := database.GetJSON(ctx, c.redis, key, &cached)
	switch {
	case err == nil:
		return &cached, nil
	case stderrors.Is(err, database.ErrCacheMiss):
	default:
		c.logger.Warn("Policy cache read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	policy, err := c.source.GetPolicy(ctx, productID, tenantID)
	if err != nil {
		return nil, err
	}

	if err := database.SetJSON(ctx, c.redis, key, policy, c.ttl); err != nil {
		c.logger.Warn("Policy cache write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return policy, nil
}

// Invalidate drops a cached policy after the catalog entry changes.
func (c *CachedLookup) Invalidate(ctx context.Context, productID, tenantID string) error {
	if err := c.redis.Del(ctx, cacheKey(tenantID, productID)).Err(); err != nil {
		return fmt.Errorf("invalidate policy cache: %w", err)
	}
	return nil
}
