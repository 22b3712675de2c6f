package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rpg-server/internal/models"
)

// ProjectionCache is the hot read path for campaign projections. Misses and
// Redis failures both fall back to PostgreSQL; the cache is never
// authoritative.
type ProjectionCache interface {
	Get(ctx context.Context, campaignID uuid.UUID) (*models.Projection, error)
	Set(ctx context.Context, projection models.Projection) error
	Invalidate(ctx context.Context, campaignID uuid.UUID) error
}

var _ ProjectionCache = (*redisProjectionCache)(nil)

type redisProjectionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisProjectionCache creates a Redis-backed projection cache.
func NewRedisProjectionCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) ProjectionCache {
	return &redisProjectionCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisProjectionCache"),
	}
}

func projectionKey(campaignID uuid.UUID) string {
	return fmt.Sprintf("projection:%s", campaignID)
}

// Get returns the cached projection, or ErrNotFound on a miss.
func (c *redisProjectionCache) Get(ctx context.Context, campaignID uuid.UUID) (*models.Projection, error) {
	data, err := c.client.Get(ctx, projectionKey(campaignID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		c.logger.Warn("Projection cache read failed",
			zap.String("campaignId", campaignID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to read projection cache: %w", err)
	}
	var projection models.Projection
	if err := json.Unmarshal(data, &projection); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		c.logger.Warn("Dropping corrupt projection cache entry",
			zap.String("campaignId", campaignID.String()), zap.Error(err))
		_ = c.client.Del(ctx, projectionKey(campaignID)).Err()
		return nil, models.ErrNotFound
	}
	return &projection, nil
}

func (c *redisProjectionCache) Set(ctx context.Context, projection models.Projection) error {
	data, err := json.Marshal(projection)
	if err != nil {
		return fmt.Errorf("failed to marshal projection for cache: %w", err)
	}
	if err := c.client.Set(ctx, projectionKey(projection.CampaignID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Projection cache write failed",
			zap.String("campaignId", projection.CampaignID.String()), zap.Error(err))
		return fmt.Errorf("failed to write projection cache: %w", err)
	}
	return nil
}

func (c *redisProjectionCache) Invalidate(ctx context.Context, campaignID uuid.UUID) error {
	if err := c.client.Del(ctx, projectionKey(campaignID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate projection cache: %w", err)
	}
	return nil
}
