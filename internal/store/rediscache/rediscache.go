// Package rediscache wraps a store.Store with a read-through cache over the
// two hottest lookup paths: API key authentication (every tunnel connect and
// every HTTP request) and channel lookup (every publish). It decorates
// store.ApiKeys and store.Channels; every other repository passes through to
// the wrapped store unchanged.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starksama/herald/internal/domain"
	"github.com/starksama/herald/internal/store"
)

const (
	apiKeyTTL  = 1 * time.Minute
	channelTTL = 30 * time.Second
)

// Store wraps an underlying store.Store, caching ApiKeys().GetByHash and
// Channels().Get in Redis.
type Store struct {
	inner store.Store
	rdb   redis.UniversalClient
}

func New(inner store.Store, rdb redis.UniversalClient) *Store {
	return &Store{inner: inner, rdb: rdb}
}

func (s *Store) Signals() store.Signals             { return s.inner.Signals() }
func (s *Store) Subscriptions() store.Subscriptions { return s.inner.Subscriptions() }
func (s *Store) Webhooks() store.Webhooks           { return s.inner.Webhooks() }
func (s *Store) Subscribers() store.Subscribers     { return s.inner.Subscribers() }
func (s *Store) Deliveries() store.Deliveries       { return s.inner.Deliveries() }
func (s *Store) DeadLetters() store.DeadLetters     { return s.inner.DeadLetters() }

func (s *Store) ApiKeys() store.ApiKeys {
	return cachedApiKeys{inner: s.inner.ApiKeys(), rdb: s.rdb}
}

func (s *Store) Channels() store.Channels {
	return cachedChannels{inner: s.inner.Channels(), rdb: s.rdb}
}

type cachedApiKeys struct {
	inner store.ApiKeys
	rdb   redis.UniversalClient
}

func apiKeyCacheKey(hash string) string { return "herald:apikey:" + hash }

func (c cachedApiKeys) GetByHash(ctx context.Context, hash string) (*domain.ApiKey, error) {
	key := apiKeyCacheKey(hash)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var k domain.ApiKey
		if jsonErr := json.Unmarshal(raw, &k); jsonErr == nil {
			return &k, nil
		}
	}

	k, err := c.inner.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	if raw, jsonErr := json.Marshal(k); jsonErr == nil {
		_ = c.rdb.Set(ctx, key, raw, apiKeyTTL).Err()
	}
	return k, nil
}

func (c cachedApiKeys) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	// Last-used timestamps are best-effort bookkeeping; invalidating the
	// cache on every touch would defeat the point of caching a hot path, so
	// the cached entry is simply left to expire on its TTL.
	return c.inner.TouchLastUsed(ctx, id, at)
}

type cachedChannels struct {
	inner store.Channels
	rdb   redis.UniversalClient
}

func channelCacheKey(id string) string { return "herald:channel:" + id }

func (c cachedChannels) Get(ctx context.Context, id string) (*domain.Channel, error) {
	key := channelCacheKey(id)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var ch domain.Channel
		if jsonErr := json.Unmarshal(raw, &ch); jsonErr == nil {
			return &ch, nil
		}
	}

	ch, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, jsonErr := json.Marshal(ch); jsonErr == nil {
		_ = c.rdb.Set(ctx, key, raw, channelTTL).Err()
	}
	return ch, nil
}

func (c cachedChannels) IncrementSignalCount(ctx context.Context, id string, delta int64) error {
	if err := c.inner.IncrementSignalCount(ctx, id, delta); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c cachedChannels) IncrementSubscriberCount(ctx context.Context, id string, delta int64) error {
	if err := c.inner.IncrementSubscriberCount(ctx, id, delta); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c cachedChannels) invalidate(ctx context.Context, id string) {
	_ = c.rdb.Del(ctx, channelCacheKey(id)).Err()
}
