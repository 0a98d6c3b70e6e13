package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/observability"
)

// NewRedisClient connects a go-redis client from a URL, failing fast when
// the server is unreachable.
func NewRedisClient(redisURL, password string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db >= 0 {
		opts.DB = db
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

const aclCacheName = "acl"

// CachedACLStore is a redis read-through cache over an ACL store. Only full
// ACL bodies are cached; the hot CanAccess path stays on the database where
// the normalized EXISTS query is already a single index probe, and caching
// per-(group set, access type) decisions would multiply invalidation
// surface for little gain.
type CachedACLStore struct {
	inner   authz.ACLStore
	redis   *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewCachedACLStore wraps a store with a redis cache. metrics may be nil.
func NewCachedACLStore(inner authz.ACLStore, redisClient *redis.Client, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *CachedACLStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedACLStore{inner: inner, redis: redisClient, ttl: ttl, logger: logger, metrics: metrics}
}

func aclCacheKey(objectID int64, objectType authz.ObjectType) string {
	return fmt.Sprintf("warden:acl:%s:%d", objectType, objectID)
}

// Get implements authz.ACLStore. Redis failures degrade to the inner store.
func (c *CachedACLStore) Get(ctx context.Context, objectID int64, objectType authz.ObjectType) (*authz.AccessControlList, error) {
	key := aclCacheKey(objectID, objectType)

	data, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var acl authz.AccessControlList
		if err := json.Unmarshal([]byte(data), &acl); err == nil {
			c.countHit()
			return &acl, nil
		}
		// Corrupt entry; drop it and fall through.
		c.redis.Del(ctx, key)
	} else if err != redis.Nil {
		c.logger.WithError(err).Debug("acl cache read failed, using store")
	}
	c.countMiss()

	acl, err := c.inner.Get(ctx, objectID, objectType)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(acl); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).Debug("acl cache write failed")
		}
	}
	return acl, nil
}

// Create implements authz.ACLStore, invalidating any stale cache entry
func (c *CachedACLStore) Create(ctx context.Context, acl *authz.AccessControlList) error {
	if err := c.inner.Create(ctx, acl); err != nil {
		return err
	}
	c.invalidate(ctx, acl.ID, acl.ObjectType)
	return nil
}

// Delete implements authz.ACLStore, invalidating the cache entry
func (c *CachedACLStore) Delete(ctx context.Context, objectID int64, objectType authz.ObjectType) error {
	if err := c.inner.Delete(ctx, objectID, objectType); err != nil {
		return err
	}
	c.invalidate(ctx, objectID, objectType)
	return nil
}

// Replace implements authz.ACLStore, invalidating the cache entry
func (c *CachedACLStore) Replace(ctx context.Context, acl *authz.AccessControlList) error {
	if err := c.inner.Replace(ctx, acl); err != nil {
		return err
	}
	c.invalidate(ctx, acl.ID, acl.ObjectType)
	return nil
}

// CanAccess implements authz.ACLStore, delegating to the database
func (c *CachedACLStore) CanAccess(ctx context.Context, groups authz.IDSet, benefactorID int64, objectType authz.ObjectType, accessType authz.AccessType) (bool, error) {
	return c.inner.CanAccess(ctx, groups, benefactorID, objectType, accessType)
}

// AccessibleBenefactors implements authz.ACLStore
func (c *CachedACLStore) AccessibleBenefactors(ctx context.Context, groups authz.IDSet, objectType authz.ObjectType, candidates authz.IDSet) (authz.IDSet, error) {
	return c.inner.AccessibleBenefactors(ctx, groups, objectType, candidates)
}

// AccessibleProjectIDs implements authz.ACLStore
func (c *CachedACLStore) AccessibleProjectIDs(ctx context.Context, principals authz.IDSet) (authz.IDSet, error) {
	return c.inner.AccessibleProjectIDs(ctx, principals)
}

func (c *CachedACLStore) invalidate(ctx context.Context, objectID int64, objectType authz.ObjectType) {
	if err := c.redis.Del(ctx, aclCacheKey(objectID, objectType)).Err(); err != nil {
		c.logger.WithError(err).Warn("acl cache invalidation failed")
	}
}

func (c *CachedACLStore) countHit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(aclCacheName).Inc()
	}
}

func (c *CachedACLStore) countMiss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(aclCacheName).Inc()
	}
}
