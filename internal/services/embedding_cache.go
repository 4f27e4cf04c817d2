package services

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aihub/retrieval-go/internal/logger"
)

// EmbeddingCache 查询向量Redis缓存
//
// 尽力而为：Redis不可用或未配置时全部走miss路径，不影响检索结果。
// 键由模型名、维度和归一化查询文本摘要组成，避免把原文写进键空间。
type EmbeddingCache struct {
	client   *redis.Client
	enabled  bool
	ttl      time.Duration
	hitStats *CacheHitStats
}

// CacheHitStats 缓存命中率统计
type CacheHitStats struct {
	hits   int64
	misses int64
	mu     sync.RWMutex
}

func (s *CacheHitStats) recordHit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

func (s *CacheHitStats) recordMiss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

// Snapshot 返回当前命中与未命中计数
func (s *CacheHitStats) Snapshot() (hits, misses int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hits, s.misses
}

// NewEmbeddingCache 创建查询向量缓存
func NewEmbeddingCache(client *redis.Client, enabled bool, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &EmbeddingCache{
		client:   client,
		enabled:  enabled && client != nil,
		ttl:      ttl,
		hitStats: &CacheHitStats{},
	}
}

func (c *EmbeddingCache) key(model string, dimensions int, text string) string {
	digest := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embedding:%s:%d:%x", model, dimensions, digest)
}

// Get 读取缓存的查询向量
func (c *EmbeddingCache) Get(ctx context.Context, model string, dimensions int, text string) ([]float32, bool) {
	if !c.enabled {
		return nil, false
	}

	val, err := c.client.Get(ctx, c.key(model, dimensions, text)).Result()
	if err != nil {
		c.hitStats.recordMiss()
		return nil, false
	}

	var embedding []float32
	if err := json.Unmarshal([]byte(val), &embedding); err != nil {
		c.hitStats.recordMiss()
		return nil, false
	}

	c.hitStats.recordHit()
	return embedding, true
}

// Set 写入查询向量，失败只记录日志
func (c *EmbeddingCache) Set(ctx context.Context, model string, dimensions int, text string, embedding []float32) {
	if !c.enabled || len(embedding) == 0 {
		return
	}

	data, err := json.Marshal(embedding)
	if err != nil {
		return
	}

	if err := c.client.SetEx(ctx, c.key(model, dimensions, text), string(data), c.ttl).Err(); err != nil {
		logger.Warn("failed to cache embedding", zap.Error(err))
	}
}

// Stats 返回命中率统计
func (c *EmbeddingCache) Stats() (hits, misses int64) {
	return c.hitStats.Snapshot()
}
