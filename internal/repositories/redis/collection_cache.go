// Package redis caches collection reads in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	domain "github.com/forkcast/api/internal/domain"
	"github.com/forkcast/api/internal/repositories"
)

const (
	defaultTTL       = 5 * time.Minute
	defaultKeyPrefix = "forkcast:collections:"
)

// Client is the subset of the go-redis client used by the cache.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
}

// CollectionCacheDeps configures the read-through cache.
type CollectionCacheDeps struct {
	Next      repositories.CollectionRepository
	Client    Client
	TTL       time.Duration
	KeyPrefix string
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// CollectionCache serves restaurant id lists from Redis and falls back to the wrapped repository on
// a miss. Redis failures never fail a read; they are logged and the store answers instead.
type CollectionCache struct {
	next   repositories.CollectionRepository
	client Client
	ttl    time.Duration
	prefix string
	logger func(context.Context, string, map[string]any)
}

var _ repositories.CollectionRepository = (*CollectionCache)(nil)

func NewCollectionCache(deps CollectionCacheDeps) (*CollectionCache, error) {
	if deps.Next == nil {
		return nil, errors.New("collection cache: repository is required")
	}
	if deps.Client == nil {
		return nil, errors.New("collection cache: redis client is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := strings.TrimSpace(deps.KeyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CollectionCache{
		next:   deps.Next,
		client: deps.Client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger,
	}, nil
}

func (c *CollectionCache) FindCollection(ctx context.Context, collectionID string) (domain.Collection, error) {
	return c.next.FindCollection(ctx, collectionID)
}

func (c *CollectionCache) ListRestaurantIDs(ctx context.Context, collectionID string) ([]string, error) {
	key := c.key(collectionID)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var ids []string
		if jsonErr := json.Unmarshal(raw, &ids); jsonErr == nil {
			return ids, nil
		}
		c.logger(ctx, "collection.cache.corrupt", map[string]any{"collectionId": collectionID})
	case errors.Is(err, goredis.Nil):
	default:
		c.logger(ctx, "collection.cache.unavailable", map[string]any{"collectionId": collectionID, "error": err.Error()})
	}

	ids, err := c.next.ListRestaurantIDs(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ids)
	if err != nil {
		return ids, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger(ctx, "collection.cache.write_failed", map[string]any{"collectionId": collectionID, "error": err.Error()})
	}
	return ids, nil
}

func (c *CollectionCache) RestaurantNames(ctx context.Context, restaurantIDs []string) (map[string]string, error) {
	return c.next.RestaurantNames(ctx, restaurantIDs)
}

// Invalidate drops the cached restaurant list for a collection.
func (c *CollectionCache) Invalidate(ctx context.Context, collectionID string) error {
	if err := c.client.Del(ctx, c.key(collectionID)).Err(); err != nil {
		return fmt.Errorf("collection cache: invalidate %s: %w", collectionID, err)
	}
	return nil
}

// Check pings Redis for readiness probes.
func (c *CollectionCache) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *CollectionCache) key(collectionID string) string {
	return c.prefix + strings.TrimSpace(collectionID) + ":restaurants"
}
