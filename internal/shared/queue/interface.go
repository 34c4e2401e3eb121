// Package queue 消息队列抽象接口
//
// 提供作业分发和消费的队列能力，当前由 Redis Streams 实现。
package queue

import (
	"context"
	"time"
)

// ============================================================================
// 队列接口定义
// ============================================================================

// SchedulerQueue 调度队列接口
type SchedulerQueue interface {
	// ScheduleJob 将作业加入调度队列（等待分配节点）
	ScheduleJob(ctx context.Context, jobID, runID string) (string, error)
	CreateSchedulerConsumerGroup(ctx context.Context) error
	ConsumeSchedulerJobs(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*SchedulerMessage, error)
	AckSchedulerJob(ctx context.Context, messageID string) error
	GetSchedulerQueueLength(ctx context.Context) (int64, error)
	GetSchedulerPendingCount(ctx context.Context) (int64, error)
}

// RunnerJobQueue 节点作业队列接口
type RunnerJobQueue interface {
	// PublishJobToRunner 将作业分配给指定节点
	PublishJobToRunner(ctx context.Context, runnerID, jobID, runID string) (string, error)
	CreateRunnerConsumerGroup(ctx context.Context, runnerID string) error
	ConsumeRunnerJobs(ctx context.Context, runnerID, consumerID string, count int64, blockTimeout time.Duration) ([]*RunnerJobMessage, error)
	AckRunnerJob(ctx context.Context, runnerID, messageID string) error
	GetRunnerJobsQueueLength(ctx context.Context, runnerID string) (int64, error)
	GetRunnerJobsPendingCount(ctx context.Context, runnerID string) (int64, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// Queue 消息队列组合接口
type Queue interface {
	SchedulerQueue
	RunnerJobQueue
	Close() error
}
