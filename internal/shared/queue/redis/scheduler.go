// Package redis SchedulerQueue 操作
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"pipelines-admin/internal/shared/queue"
)

// ScheduleJob 将作业加入调度队列（等待分配节点）
func (s *Store) ScheduleJob(ctx context.Context, jobID, runID string) (string, error) {
	args := &redis.XAddArgs{
		Stream: queue.KeySchedulerJobs,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"job_id":     jobID,
			"run_id":     runID,
			"created_at": time.Now().Format(time.RFC3339Nano),
		},
	}

	return s.client.XAdd(ctx, args).Result()
}

// CreateSchedulerConsumerGroup 创建调度器消费者组
func (s *Store) CreateSchedulerConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, queue.KeySchedulerJobs, queue.SchedulerConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// ConsumeSchedulerJobs 消费调度队列中的作业
func (s *Store) ConsumeSchedulerJobs(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.SchedulerMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    queue.SchedulerConsumerGroup,
		Consumer: consumerID,
		Streams:  []string{queue.KeySchedulerJobs, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var messages []*queue.SchedulerMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m := &queue.SchedulerMessage{
				ID: msg.ID,
			}
			if jobID, ok := msg.Values["job_id"].(string); ok {
				m.JobID = jobID
			}
			if runID, ok := msg.Values["run_id"].(string); ok {
				m.RunID = runID
			}
			if createdAt, ok := msg.Values["created_at"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
					m.CreatedAt = t
				}
			}
			messages = append(messages, m)
		}
	}

	return messages, nil
}

// AckSchedulerJob 确认作业调度消息已处理
func (s *Store) AckSchedulerJob(ctx context.Context, messageID string) error {
	return s.client.XAck(ctx, queue.KeySchedulerJobs, queue.SchedulerConsumerGroup, messageID).Err()
}

// GetSchedulerQueueLength 获取调度队列长度
func (s *Store) GetSchedulerQueueLength(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, queue.KeySchedulerJobs).Result()
}

// GetSchedulerPendingCount 获取未确认消息数量
func (s *Store) GetSchedulerPendingCount(ctx context.Context) (int64, error) {
	pending, err := s.client.XPending(ctx, queue.KeySchedulerJobs, queue.SchedulerConsumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}
