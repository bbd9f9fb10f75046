package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
)

const annotationPrefix = "annotation:"

// Client caches annotations keyed by transcript hash.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(ctx context.Context, host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("ttl", ttl))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetAnnotation returns the cached annotation for a transcript hash.
func (c *Client) GetAnnotation(ctx context.Context, hash string) (models.Annotation, bool, error) {
	data, err := c.client.Get(ctx, annotationKey(hash)).Bytes()
	if err == redis.Nil {
		return models.Annotation{}, false, nil
	}
	if err != nil {
		return models.Annotation{}, false, fmt.Errorf("failed to get annotation cache: %w", err)
	}

	a, err := decodeAnnotation(data)
	if err != nil {
		return models.Annotation{}, false, err
	}

	logger.Debug("Annotation cache hit", zap.String("hash", hash))
	return a, true, nil
}

// SetAnnotation stores a under hash for the client's TTL.
func (c *Client) SetAnnotation(ctx context.Context, hash string, a models.Annotation) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal annotation: %w", err)
	}

	if err := c.client.Set(ctx, annotationKey(hash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set annotation cache: %w", err)
	}

	logger.Debug("Annotation cached", zap.String("hash", hash), zap.Duration("ttl", c.ttl))
	return nil
}

// InvalidateAnnotations drops every cached annotation, e.g. after the
// extraction prompt changes.
func (c *Client) InvalidateAnnotations(ctx context.Context) (int, error) {
	deleted := 0
	iter := c.client.Scan(ctx, 0, annotationPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Annotation cache invalidated", zap.Int("deleted", deleted))
	return deleted, nil
}

func annotationKey(hash string) string {
	return annotationPrefix + hash
}

func decodeAnnotation(data []byte) (models.Annotation, error) {
	var a models.Annotation
	if err := json.Unmarshal(data, &a); err != nil {
		return models.Annotation{}, fmt.Errorf("failed to unmarshal annotation: %w", err)
	}
	if a.TryCount == "" || a.ScoreSummary == "" {
		return models.Annotation{}, fmt.Errorf("cached annotation incomplete")
	}
	return a, nil
}
