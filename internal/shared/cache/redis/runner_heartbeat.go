// Package redis RunnerHeartbeat 缓存操作
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"pipelines-admin/internal/shared/cache"
)

// UpdateRunnerHeartbeat 更新节点心跳（30 秒 TTL）
func (s *Store) UpdateRunnerHeartbeat(ctx context.Context, runnerID string, status *cache.RunnerStatus) error {
	key := cache.KeyRunnerHeartbeat + runnerID

	status.UpdatedAt = time.Now()
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, cache.TTLRunnerHeartbeat).Err()
}

// GetRunnerHeartbeat 获取节点心跳，key 过期或不存在时返回 (nil, nil)
func (s *Store) GetRunnerHeartbeat(ctx context.Context, runnerID string) (*cache.RunnerStatus, error) {
	key := cache.KeyRunnerHeartbeat + runnerID

	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var status cache.RunnerStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// DeleteRunnerHeartbeat 删除节点心跳缓存
func (s *Store) DeleteRunnerHeartbeat(ctx context.Context, runnerID string) error {
	key := cache.KeyRunnerHeartbeat + runnerID
	return s.client.Del(ctx, key).Err()
}

// ListOnlineRunners 列出心跳未过期的节点
//
// 使用 SCAN 替代 KEYS，避免在节点数量大时阻塞 Redis
func (s *Store) ListOnlineRunners(ctx context.Context) ([]string, error) {
	pattern := cache.KeyRunnerHeartbeat + "*"
	var runnerIDs []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		runnerID := key[len(cache.KeyRunnerHeartbeat):]
		runnerIDs = append(runnerIDs, runnerID)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return runnerIDs, nil
}

// 确保 Store 实现了 Cache 接口
var _ cache.Cache = (*Store)(nil)
