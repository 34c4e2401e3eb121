// Package cache 缓存层 mock 实现
package cache

import (
	"context"
)

// ============================================================================
// NoOpCache - 空操作的 Cache 实现（用于测试）
// ============================================================================

// NoOpCache 是一个不做任何操作的 Cache 实现
type NoOpCache struct{}

// NewNoOpCache 创建 NoOpCache 实例
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// Close 关闭缓存
func (c *NoOpCache) Close() error {
	return nil
}

// RunStateCache 方法

func (c *NoOpCache) SetRunState(ctx context.Context, runID string, state *RunState) error {
	return nil
}
func (c *NoOpCache) GetRunState(ctx context.Context, runID string) (*RunState, error) {
	return nil, nil
}
func (c *NoOpCache) DeleteRunState(ctx context.Context, runID string) error {
	return nil
}

// RunnerHeartbeatCache 方法

func (c *NoOpCache) UpdateRunnerHeartbeat(ctx context.Context, runnerID string, status *RunnerStatus) error {
	return nil
}
func (c *NoOpCache) GetRunnerHeartbeat(ctx context.Context, runnerID string) (*RunnerStatus, error) {
	return nil, nil
}
func (c *NoOpCache) DeleteRunnerHeartbeat(ctx context.Context, runnerID string) error {
	return nil
}
func (c *NoOpCache) ListOnlineRunners(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

// 确保 NoOpCache 实现了 Cache 接口
var _ Cache = (*NoOpCache)(nil)
