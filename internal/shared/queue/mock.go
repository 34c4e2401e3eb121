// Package queue 消息队列 mock 实现
package queue

import (
	"context"
	"time"
)

// ============================================================================
// NoOpQueue - 空操作的 Queue 实现（用于测试）
// ============================================================================

// NoOpQueue 是一个不做任何操作的 Queue 实现
type NoOpQueue struct{}

// NewNoOpQueue 创建 NoOpQueue 实例
func NewNoOpQueue() *NoOpQueue {
	return &NoOpQueue{}
}

// Close 关闭队列
func (q *NoOpQueue) Close() error {
	return nil
}

// SchedulerQueue 方法

func (q *NoOpQueue) ScheduleJob(ctx context.Context, jobID, runID string) (string, error) {
	return "", nil
}
func (q *NoOpQueue) CreateSchedulerConsumerGroup(ctx context.Context) error {
	return nil
}
func (q *NoOpQueue) ConsumeSchedulerJobs(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*SchedulerMessage, error) {
	return []*SchedulerMessage{}, nil
}
func (q *NoOpQueue) AckSchedulerJob(ctx context.Context, messageID string) error {
	return nil
}
func (q *NoOpQueue) GetSchedulerQueueLength(ctx context.Context) (int64, error) {
	return 0, nil
}
func (q *NoOpQueue) GetSchedulerPendingCount(ctx context.Context) (int64, error) {
	return 0, nil
}

// RunnerJobQueue 方法

func (q *NoOpQueue) PublishJobToRunner(ctx context.Context, runnerID, jobID, runID string) (string, error) {
	return "", nil
}
func (q *NoOpQueue) CreateRunnerConsumerGroup(ctx context.Context, runnerID string) error {
	return nil
}
func (q *NoOpQueue) ConsumeRunnerJobs(ctx context.Context, runnerID, consumerID string, count int64, blockTimeout time.Duration) ([]*RunnerJobMessage, error) {
	return []*RunnerJobMessage{}, nil
}
func (q *NoOpQueue) AckRunnerJob(ctx context.Context, runnerID, messageID string) error {
	return nil
}
func (q *NoOpQueue) GetRunnerJobsQueueLength(ctx context.Context, runnerID string) (int64, error) {
	return 0, nil
}
func (q *NoOpQueue) GetRunnerJobsPendingCount(ctx context.Context, runnerID string) (int64, error) {
	return 0, nil
}

// 确保 NoOpQueue 实现了 Queue 接口
var _ Queue = (*NoOpQueue)(nil)
