// Package redis RunnerJobQueue 操作
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"pipelines-admin/internal/shared/queue"
)

func runnerJobsKey(runnerID string) string {
	return queue.KeyRunnerJobs + runnerID + queue.KeyRunnerJobsSuffix
}

// PublishJobToRunner 将作业分配给指定节点
func (s *Store) PublishJobToRunner(ctx context.Context, runnerID, jobID, runID string) (string, error) {
	key := runnerJobsKey(runnerID)

	args := &redis.XAddArgs{
		Stream: key,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{
			"job_id":      jobID,
			"run_id":      runID,
			"assigned_at": time.Now().Format(time.RFC3339Nano),
		},
	}

	msgID, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish job to runner %s: %w", runnerID, err)
	}

	log.Printf("[Redis/Queue] Published job to runner: runner=%s job=%s run=%s msg_id=%s", runnerID, jobID, runID, msgID)
	return msgID, nil
}

// CreateRunnerConsumerGroup 创建节点消费者组
func (s *Store) CreateRunnerConsumerGroup(ctx context.Context, runnerID string) error {
	key := runnerJobsKey(runnerID)

	err := s.client.XGroupCreateMkStream(ctx, key, queue.RunnerAgentConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group for runner %s: %w", runnerID, err)
	}

	log.Printf("[Redis/Queue] Created consumer group for runner: %s", runnerID)
	return nil
}

// ConsumeRunnerJobs 消费节点分配的作业
func (s *Store) ConsumeRunnerJobs(ctx context.Context, runnerID, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.RunnerJobMessage, error) {
	key := runnerJobsKey(runnerID)

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    queue.RunnerAgentConsumerGroup,
		Consumer: consumerID,
		Streams:  []string{key, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to consume runner jobs: %w", err)
	}

	var messages []*queue.RunnerJobMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m := &queue.RunnerJobMessage{
				ID: msg.ID,
			}
			if jobID, ok := msg.Values["job_id"].(string); ok {
				m.JobID = jobID
			}
			if runID, ok := msg.Values["run_id"].(string); ok {
				m.RunID = runID
			}
			if assignedAt, ok := msg.Values["assigned_at"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, assignedAt); err == nil {
					m.AssignedAt = t
				}
			}
			messages = append(messages, m)
		}
	}

	if len(messages) > 0 {
		log.Printf("[Redis/Queue] Consumed %d jobs for runner: %s", len(messages), runnerID)
	}

	return messages, nil
}

// AckRunnerJob 确认节点作业消息已处理
func (s *Store) AckRunnerJob(ctx context.Context, runnerID, messageID string) error {
	key := runnerJobsKey(runnerID)
	return s.client.XAck(ctx, key, queue.RunnerAgentConsumerGroup, messageID).Err()
}

// GetRunnerJobsQueueLength 获取节点作业队列长度
func (s *Store) GetRunnerJobsQueueLength(ctx context.Context, runnerID string) (int64, error) {
	key := runnerJobsKey(runnerID)
	return s.client.XLen(ctx, key).Result()
}

// GetRunnerJobsPendingCount 获取节点未确认作业消息数量
func (s *Store) GetRunnerJobsPendingCount(ctx context.Context, runnerID string) (int64, error) {
	key := runnerJobsKey(runnerID)
	pending, err := s.client.XPending(ctx, key, queue.RunnerAgentConsumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// 确保 Store 实现了 Queue 接口
var _ queue.Queue = (*Store)(nil)
