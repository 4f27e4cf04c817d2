package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestEmbeddingCacheDisabledWithoutClient(t *testing.T) {
	// enabled=true但没有client时强制禁用，读写都不触碰Redis
	cache := NewEmbeddingCache(nil, true, time.Minute)

	vec, ok := cache.Get(context.Background(), "text-embedding-v3", 1024, "查询文本")
	assert.Nil(t, vec)
	assert.False(t, ok)

	cache.Set(context.Background(), "text-embedding-v3", 1024, "查询文本", []float32{0.1, 0.2})

	hits, misses := cache.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(0), misses)
}

func TestEmbeddingCacheExplicitlyDisabled(t *testing.T) {
	cache := NewEmbeddingCache(nil, false, 0)

	_, ok := cache.Get(context.Background(), "m", 8, "t")
	assert.False(t, ok)
}

func TestEmbeddingCacheKeyDerivation(t *testing.T) {
	cache := NewEmbeddingCache(nil, false, 0)

	k1 := cache.key("text-embedding-v3", 1024, "库存同步")
	k2 := cache.key("text-embedding-v3", 1024, "库存同步")
	k3 := cache.key("text-embedding-v3", 1024, "订单查询")
	k4 := cache.key("text-embedding-v2", 1024, "库存同步")
	k5 := cache.key("text-embedding-v3", 512, "库存同步")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
	assert.NotEqual(t, k1, k5)

	// 键里只有模型名、维度和摘要，不含原文
	assert.True(t, strings.HasPrefix(k1, "embedding:text-embedding-v3:1024:"))
	assert.NotContains(t, k1, "库存同步")
	digest := strings.TrimPrefix(k1, "embedding:text-embedding-v3:1024:")
	assert.Len(t, digest, 64)
}

func TestEmbeddingCacheDefaultTTL(t *testing.T) {
	cache := NewEmbeddingCache(nil, false, 0)
	assert.Equal(t, time.Hour, cache.ttl)

	cache = NewEmbeddingCache(nil, false, 30*time.Minute)
	assert.Equal(t, 30*time.Minute, cache.ttl)
}

func TestEmbeddingCacheUnreachableRedisCountsMiss(t *testing.T) {
	// Redis不可达时降级为miss，不报错不阻塞
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		ReadTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	cache := NewEmbeddingCache(client, true, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	vec, ok := cache.Get(ctx, "text-embedding-v3", 1024, "查询")
	assert.Nil(t, vec)
	assert.False(t, ok)

	// 写失败只记日志
	cache.Set(ctx, "text-embedding-v3", 1024, "查询", []float32{0.1})

	hits, misses := cache.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCacheHitStatsConcurrent(t *testing.T) {
	stats := &CacheHitStats{}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.recordHit()
		}()
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.recordMiss()
		}()
	}
	wg.Wait()

	hits, misses := stats.Snapshot()
	assert.Equal(t, int64(100), hits)
	assert.Equal(t, int64(50), misses)
}
