// Package cache 缓存层类型定义
package cache

import (
	"time"
)

// ============================================================================
// 缓存数据类型
// ============================================================================

// RunState 运行进度快照
type RunState struct {
	State         string `json:"state" redis:"state"`
	TotalJobs     int    `json:"total_jobs" redis:"total_jobs"`
	CompletedJobs int    `json:"completed_jobs" redis:"completed_jobs"`
	FailedJobs    int    `json:"failed_jobs" redis:"failed_jobs"`
	CurrentJob    string `json:"current_job,omitempty" redis:"current_job"`
	Error         string `json:"error,omitempty" redis:"error"`
}

// RunnerStatus 节点心跳状态
//
// key 带 30 秒 TTL，心跳停止后 key 自动消失，
// "key 是否存在"即为快路径的在线判定。
type RunnerStatus struct {
	Status     string    `json:"status"`
	ActiveJobs int       `json:"active_jobs"`
	Capacity   int       `json:"capacity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ============================================================================
// Key 前缀和 TTL 常量
// ============================================================================

const (
	// Key 前缀
	KeyRunState        = "run_state:"
	KeyRunnerHeartbeat = "runner_heartbeat:"

	// TTL 常量
	TTLRunState        = 1 * time.Hour
	TTLRunnerHeartbeat = 30 * time.Second
)
