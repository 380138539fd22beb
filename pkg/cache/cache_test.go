package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sark/gateway/pkg/gateway"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func testKey() gateway.CacheKeyInput {
	return gateway.CacheKeyInput{
		PrincipalID:  "user-1",
		Action:       "invoke",
		ResourceID:   "res-1",
		CapabilityID: "cap-1",
	}
}

func TestDecisionCache_MissThenHit(t *testing.T) {
	_, client := setupTestRedis(t)
	c := New(client, TTLPolicy{Low: 30 * time.Minute, Medium: 5 * time.Minute, High: time.Minute, Critical: 0})
	ctx := context.Background()
	key := testKey()

	_, found := c.Get(ctx, key)
	require.False(t, found)

	decision := gateway.Decision{Allow: true, Reason: "policy allow"}
	require.NoError(t, c.Set(ctx, key, gateway.SensitivityLow, decision))

	got, found := c.Get(ctx, key)
	require.True(t, found)
	require.True(t, got.Allow)
	require.Equal(t, "policy allow", got.Reason)

	stats := c.Stats()
	require.EqualValues(t, 1, stats["hits"])
	require.EqualValues(t, 1, stats["misses"])
}

func TestDecisionCache_CriticalSensitivityNeverCached(t *testing.T) {
	_, client := setupTestRedis(t)
	c := New(client, TTLPolicy{Low: 30 * time.Minute, Critical: 0})
	ctx := context.Background()
	key := testKey()

	require.NoError(t, c.Set(ctx, key, gateway.SensitivityCritical, gateway.Decision{Allow: true}))

	_, found := c.Get(ctx, key)
	require.False(t, found, "critical-sensitivity decisions must never be served from cache")
}

func TestDecisionCache_TTLBoundary(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := New(client, TTLPolicy{High: 60 * time.Second})
	ctx := context.Background()
	key := testKey()

	require.NoError(t, c.Set(ctx, key, gateway.SensitivityHigh, gateway.Decision{Allow: true}))

	mr.FastForward(59 * time.Second)
	_, found := c.Get(ctx, key)
	require.True(t, found, "entry must survive just under its TTL")

	mr.FastForward(2 * time.Second)
	_, found = c.Get(ctx, key)
	require.False(t, found, "entry must expire once its TTL has elapsed")
}

func TestDecisionCache_BackendErrorIsMissNotPanic(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := New(client, TTLPolicy{Medium: time.Minute})
	ctx := context.Background()
	key := testKey()

	require.NoError(t, c.Set(ctx, key, gateway.SensitivityMedium, gateway.Decision{Allow: true}))
	mr.Close()

	_, found := c.Get(ctx, key)
	require.False(t, found, "a backend error must degrade to a cache miss, never an allow")
}

func TestDecisionCache_Invalidate(t *testing.T) {
	_, client := setupTestRedis(t)
	c := New(client, TTLPolicy{Low: time.Hour})
	ctx := context.Background()
	key := testKey()

	require.NoError(t, c.Set(ctx, key, gateway.SensitivityLow, gateway.Decision{Allow: true}))
	require.NoError(t, c.Invalidate(ctx, key))

	_, found := c.Get(ctx, key)
	require.False(t, found)
}

func TestDecisionCache_DistinctKeysDoNotCollide(t *testing.T) {
	_, client := setupTestRedis(t)
	c := New(client, TTLPolicy{Low: time.Hour})
	ctx := context.Background()

	k1 := testKey()
	k2 := testKey()
	k2.CapabilityID = "cap-2"

	require.NoError(t, c.Set(ctx, k1, gateway.SensitivityLow, gateway.Decision{Allow: true, Reason: "a"}))
	require.NoError(t, c.Set(ctx, k2, gateway.SensitivityLow, gateway.Decision{Allow: false, Reason: "b"}))

	got1, found := c.Get(ctx, k1)
	require.True(t, found)
	require.True(t, got1.Allow)

	got2, found := c.Get(ctx, k2)
	require.True(t, found)
	require.False(t, got2.Allow)
}

func TestSweeper_RemovesKeysMissingTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, keyPrefix+"orphan", "stale", 0).Err())
	require.NoError(t, client.Set(ctx, keyPrefix+"fresh", "ok", time.Hour).Err())

	s := NewSweeper(client, time.Hour, nil, nil)
	s.sweepOnce(ctx)

	require.False(t, mr.Exists(keyPrefix+"orphan"))
	require.True(t, mr.Exists(keyPrefix+"fresh"))
}
