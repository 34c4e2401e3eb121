// Package redis JobEvents 事件总线操作
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pipelines-admin/internal/shared/eventbus"
)

func jobEventsKey(jobID string) string {
	return eventbus.KeyJobEvents + jobID
}

// PublishJobEvent 发布作业事件
func (s *Store) PublishJobEvent(ctx context.Context, jobID string, event *eventbus.JobEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: jobEventsKey(jobID),
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"seq":       event.Seq,
			"type":      event.Type,
			"timestamp": event.Timestamp.Format(time.RFC3339Nano),
			"payload":   string(payloadJSON),
		},
	}

	if _, err := s.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// decodeJobEvent 从 Stream 消息还原事件
func decodeJobEvent(jobID string, msg redis.XMessage) *eventbus.JobEvent {
	event := &eventbus.JobEvent{
		ID:    msg.ID,
		JobID: jobID,
	}

	if t, ok := msg.Values["type"].(string); ok {
		event.Type = t
	}
	if seqStr, ok := msg.Values["seq"].(string); ok {
		if seq, err := strconv.Atoi(seqStr); err == nil {
			event.Seq = seq
		}
	}
	if ts, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			event.Timestamp = t
		}
	}
	if payloadStr, ok := msg.Values["payload"].(string); ok {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(payloadStr), &payload); err == nil {
			event.Payload = payload
		}
	}

	return event
}

// GetJobEvents 获取作业事件列表
func (s *Store) GetJobEvents(ctx context.Context, jobID string, fromID string, count int64) ([]*eventbus.JobEvent, error) {
	if fromID == "" {
		fromID = "0"
	}

	msgs, err := s.client.XRange(ctx, jobEventsKey(jobID), fromID, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	var events []*eventbus.JobEvent
	for _, msg := range msgs {
		events = append(events, decodeJobEvent(jobID, msg))
		if count > 0 && int64(len(events)) >= count {
			break
		}
	}

	return events, nil
}

// GetJobEventCount 获取事件数量
func (s *Store) GetJobEventCount(ctx context.Context, jobID string) (int64, error) {
	return s.client.XLen(ctx, jobEventsKey(jobID)).Result()
}

// SubscribeJobEvents 订阅作业事件（从订阅时刻之后的新事件开始）
func (s *Store) SubscribeJobEvents(ctx context.Context, jobID string) (<-chan *eventbus.JobEvent, error) {
	key := jobEventsKey(jobID)
	ch := make(chan *eventbus.JobEvent, 100)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   5 * time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}
				log.Printf("[Redis/EventBus] Event subscription error: %v", err)
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					select {
					case ch <- decodeJobEvent(jobID, msg):
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

// DeleteJobEvents 删除作业事件流
func (s *Store) DeleteJobEvents(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, jobEventsKey(jobID)).Err()
}

// 确保 Store 实现了 EventBus 接口
var _ eventbus.EventBus = (*Store)(nil)
