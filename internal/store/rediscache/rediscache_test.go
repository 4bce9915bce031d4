package rediscache_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/starksama/herald/internal/domain"
	"github.com/starksama/herald/internal/store/memstore"
	"github.com/starksama/herald/internal/store/rediscache"
)

func newTestCache(t *testing.T) (*rediscache.Store, *memstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redisclient.NewClient(&redisclient.Options{Addr: mr.Addr()})
	inner := memstore.New()
	return rediscache.New(inner, rdb), inner
}

func TestApiKeys_GetByHash_CachesAfterFirstLookup(t *testing.T) {
	cache, inner := newTestCache(t)
	inner.PutApiKey(&domain.ApiKey{ID: "apik_1", KeyHash: "hash1", OwnerType: domain.OwnerPublisher, OwnerID: "pub_1", Status: domain.ApiKeyActive})

	ctx := context.Background()
	got, err := cache.ApiKeys().GetByHash(ctx, "hash1")
	require.NoError(t, err)
	require.Equal(t, "apik_1", got.ID)

	// Overwriting it in the underlying store doesn't matter: the cached copy
	// from the first lookup still answers the second one.
	inner.PutApiKey(&domain.ApiKey{ID: "apik_1", KeyHash: "hash1", OwnerType: domain.OwnerPublisher, OwnerID: "pub_2", Status: domain.ApiKeyActive})
	got2, err := cache.ApiKeys().GetByHash(ctx, "hash1")
	require.NoError(t, err)
	require.Equal(t, "pub_1", got2.OwnerID)
}

func TestChannels_Get_CachesAfterFirstLookup(t *testing.T) {
	cache, inner := newTestCache(t)
	inner.PutChannel(&domain.Channel{ID: "chnl_1", PublisherID: "pub_1", Status: domain.ChannelActive})

	ctx := context.Background()
	got, err := cache.Channels().Get(ctx, "chnl_1")
	require.NoError(t, err)
	require.Equal(t, domain.ChannelActive, got.Status)

	// A change made directly in the underlying store is not seen while the
	// cached copy is live.
	inner.PutChannel(&domain.Channel{ID: "chnl_1", PublisherID: "pub_2", Status: domain.ChannelActive})
	got2, err := cache.Channels().Get(ctx, "chnl_1")
	require.NoError(t, err)
	require.Equal(t, "pub_1", got2.PublisherID)
}

func TestChannels_IncrementSignalCount_InvalidatesCache(t *testing.T) {
	cache, inner := newTestCache(t)
	inner.PutChannel(&domain.Channel{ID: "chnl_1", PublisherID: "pub_1", Status: domain.ChannelActive, SignalCount: 0})

	ctx := context.Background()
	_, err := cache.Channels().Get(ctx, "chnl_1")
	require.NoError(t, err)

	require.NoError(t, cache.Channels().IncrementSignalCount(ctx, "chnl_1", 1))

	// The cache entry should have been invalidated, so this read reaches the
	// underlying store and observes the fresh count rather than a stale copy.
	got, err := cache.Channels().Get(ctx, "chnl_1")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.SignalCount)
}
