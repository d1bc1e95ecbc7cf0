package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/company-chat/pkg/utils/json"
)

// CacheConfig 搜索结果缓存配置。
type CacheConfig struct {
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// DefaultCacheConfig 返回默认缓存配置。
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		TTL:       30 * time.Minute,
		KeyPrefix: "company-chat:search:",
	}
}

// CachedSearcher 在 Searcher 外面加一层 redis 缓存。
// 缓存读写失败只记录日志，不影响搜索本身。
type CachedSearcher struct {
	next      Searcher
	namespace string
	redis     goredis.UniversalClient
	config    *CacheConfig
}

// NewCachedSearcher 创建带缓存的 Searcher。namespace 通常是供应商名称，
// 避免切换供应商后读到旧结果。
func NewCachedSearcher(next Searcher, namespace string, redis goredis.UniversalClient, config *CacheConfig) *CachedSearcher {
	if config == nil {
		config = DefaultCacheConfig()
	}
	return &CachedSearcher{
		next:      next,
		namespace: namespace,
		redis:     redis,
		config:    config,
	}
}

// cacheKey 基于供应商、数量和规范化后的查询生成（SHA256）。
func (c *CachedSearcher) cacheKey(query string, n int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	hash := sha256.Sum256([]byte(c.namespace + "|" + strconv.Itoa(n) + "|" + normalized))
	return c.config.KeyPrefix + hex.EncodeToString(hash[:])
}

// Search implements Searcher.
func (c *CachedSearcher) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	key := c.cacheKey(query, maxResults)

	if results, ok := c.get(ctx, key); ok {
		return results, nil
	}

	results, err := c.next.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	// 空结果不缓存，下次重新搜索
	if len(results) > 0 {
		c.set(ctx, key, results)
	}
	return results, nil
}

func (c *CachedSearcher) get(ctx context.Context, key string) ([]Result, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			logger.Warnw("failed to get search results from cache", "error", err.Error(), "key", key)
		}
		return nil, false
	}

	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		logger.Warnw("failed to unmarshal cached search results", "error", err.Error(), "key", key)
		// 删除损坏的缓存
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}

	logger.Debugw("search cache hit", "key", key, "results", len(results))
	return results, true
}

func (c *CachedSearcher) set(ctx context.Context, key string, results []Result) {
	data, err := json.Marshal(results)
	if err != nil {
		logger.Warnw("failed to marshal search results for caching", "error", err.Error())
		return
	}
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to cache search results", "error", err.Error(), "key", key)
	}
}

// Clear 删除该前缀下的所有缓存。
func (c *CachedSearcher) Clear(ctx context.Context) error {
	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}
