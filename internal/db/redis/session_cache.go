package redisdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"edututor/internal/domain/session"
	applog "edututor/internal/platform/log"
)

// SessionListCache 用户会话列表的 Redis 读缓存。
// 可选组件：client 为 nil 时所有方法退化为 no-op（无缓存模式）。
// 会话落库（flush）后由调用方失效。
type SessionListCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionListCache 创建会话列表缓存。ttl 默认 5 分钟。
func NewSessionListCache(client *redis.Client, ttl time.Duration) *SessionListCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SessionListCache{client: client, ttl: ttl}
}

func (c *SessionListCache) key(userID string, limit int) string {
	return fmt.Sprintf("sessions:v1:%s:%d", userID, limit)
}

func (c *SessionListCache) enabled() bool {
	return c != nil && c.client != nil
}

// Get 命中返回缓存列表；miss 或禁用返回 ok=false。
func (c *SessionListCache) Get(ctx context.Context, userID string, limit int) ([]session.SessionInfo, bool) {
	if !c.enabled() {
		return nil, false
	}

	raw, err := c.client.Get(ctx, c.key(userID, limit)).Result()
	if err != nil || raw == "" {
		return nil, false
	}

	var infos []session.SessionInfo
	if err := json.Unmarshal([]byte(raw), &infos); err != nil {
		applog.Warn("[SessionCache] Cache data corrupted, dropping",
			"user_id", userID,
			"error", err,
		)
		c.client.Del(ctx, c.key(userID, limit))
		return nil, false
	}

	applog.Debug("[SessionCache] 🎯 Cache HIT", "user_id", userID, "limit", limit)
	return infos, true
}

// Set 回填缓存。序列化或写入失败只记日志，不影响主流程。
func (c *SessionListCache) Set(ctx context.Context, userID string, limit int, infos []session.SessionInfo) {
	if !c.enabled() {
		return
	}

	raw, err := json.Marshal(infos)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(userID, limit), raw, c.ttl).Err(); err != nil {
		applog.Warn("[SessionCache] Failed to set cache", "user_id", userID, "error", err)
	}
}

// Invalidate 清除用户的全部列表缓存（会话落库后调用）。
func (c *SessionListCache) Invalidate(ctx context.Context, userID string) {
	if !c.enabled() {
		return
	}

	pattern := fmt.Sprintf("sessions:v1:%s:*", userID)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		applog.Warn("[SessionCache] Failed to invalidate", "user_id", userID, "error", err)
		return
	}
	applog.Debug("[SessionCache] Invalidated", "user_id", userID)
}
