// Package cache 缓存层抽象接口
//
// 提供临时状态和缓存的存取能力，当前由 Redis 实现。
package cache

import (
	"context"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// RunStateCache 运行进度缓存接口
//
// Run 的权威状态在数据库，这里缓存的是给前端轮询用的进度快照，
// 避免每次进度查询都打到 DB 聚合。
type RunStateCache interface {
	SetRunState(ctx context.Context, runID string, state *RunState) error
	GetRunState(ctx context.Context, runID string) (*RunState, error)
	DeleteRunState(ctx context.Context, runID string) error
}

// RunnerHeartbeatCache 节点心跳缓存接口
type RunnerHeartbeatCache interface {
	UpdateRunnerHeartbeat(ctx context.Context, runnerID string, status *RunnerStatus) error
	GetRunnerHeartbeat(ctx context.Context, runnerID string) (*RunnerStatus, error)
	DeleteRunnerHeartbeat(ctx context.Context, runnerID string) error
	ListOnlineRunners(ctx context.Context) ([]string, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// Cache 缓存组合接口
type Cache interface {
	RunStateCache
	RunnerHeartbeatCache
	Close() error
}
