package cache

import (
	"context"
	"testing"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certguide/internal/model"
)

// memoryRedis implements the subset of redisv9.Cmdable the cache uses.
type memoryRedis struct {
	redisv9.Cmdable
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) *redisv9.StringCmd {
	v, ok := m.values[key]
	if !ok {
		return redisv9.NewStringResult("", redisv9.Nil)
	}
	return redisv9.NewStringResult(v, nil)
}

func (m *memoryRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redisv9.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.values[key] = string(v)
	case string:
		m.values[key] = v
	}
	m.ttls[key] = ttl
	return redisv9.NewStatusResult("OK", nil)
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) *redisv9.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.values[k]; ok {
			delete(m.values, k)
			n++
		}
	}
	return redisv9.NewIntResult(n, nil)
}

func (m *memoryRedis) Exists(_ context.Context, keys ...string) *redisv9.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.values[k]; ok {
			n++
		}
	}
	return redisv9.NewIntResult(n, nil)
}

func TestHistoryCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	rdb := newMemoryRedis()
	c := NewHistoryCache(rdb, 30*time.Second, 0)

	_, hit, err := c.GetHistory(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, hit)

	msgs := []model.Message{{SessionID: "s1", UserID: 7, Role: "user", Content: "hello"}}
	require.NoError(t, c.SetHistory(ctx, "s1", msgs))
	assert.Equal(t, 30*time.Second, rdb.ttls["certguide:chat:history:s1"])

	got, hit, err := c.GetHistory(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)

	require.NoError(t, c.DeleteHistory(ctx, "s1"))
	_, hit, _ = c.GetHistory(ctx, "s1")
	assert.False(t, hit)
}

func TestHistoryCache_DirtyMarker(t *testing.T) {
	ctx := context.Background()
	rdb := newMemoryRedis()
	c := NewHistoryCache(rdb, 0, 0)

	dirty, err := c.IsDirty(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, c.MarkDirty(ctx, "s2"))
	dirty, err = c.IsDirty(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, dirty)
	assert.Equal(t, 5*time.Second, rdb.ttls["certguide:chat:history:dirty:s2"])
}

func TestHistoryCache_CorruptPayload(t *testing.T) {
	rdb := newMemoryRedis()
	rdb.values[historyKey("s3")] = "{not json"
	c := NewHistoryCache(rdb, 0, 0)

	_, hit, err := c.GetHistory(context.Background(), "s3")

	assert.Error(t, err)
	assert.False(t, hit)
}
