// Package queue 消息队列类型定义
package queue

import (
	"time"
)

// ============================================================================
// 消息类型
// ============================================================================

// SchedulerMessage 调度器消息
type SchedulerMessage struct {
	ID        string
	JobID     string
	RunID     string
	CreatedAt time.Time
}

// RunnerJobMessage 节点作业消息
type RunnerJobMessage struct {
	ID         string
	JobID      string
	RunID      string
	AssignedAt time.Time
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// 调度器队列 - 存放待调度的作业
	KeySchedulerJobs = "scheduler:jobs"

	// 节点队列 - 存放分配给节点的作业
	KeyRunnerJobs       = "runners:"
	KeyRunnerJobsSuffix = ":jobs"

	// 消费者组
	SchedulerConsumerGroup   = "schedulers"
	RunnerAgentConsumerGroup = "runner_agents"
)
