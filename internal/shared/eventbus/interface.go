// Package eventbus 事件总线抽象接口
//
// 提供作业事件的发布/订阅能力，当前由 Redis Streams 实现。
// 事件的权威归档在 storage.EventStore，总线只负责实时分发。
package eventbus

import (
	"context"
)

// ============================================================================
// 事件总线接口定义
// ============================================================================

// JobEventBus 作业事件总线接口
type JobEventBus interface {
	PublishJobEvent(ctx context.Context, jobID string, event *JobEvent) error
	GetJobEvents(ctx context.Context, jobID string, fromID string, count int64) ([]*JobEvent, error)
	GetJobEventCount(ctx context.Context, jobID string) (int64, error)
	SubscribeJobEvents(ctx context.Context, jobID string) (<-chan *JobEvent, error)
	DeleteJobEvents(ctx context.Context, jobID string) error
}

// ============================================================================
// 组合接口
// ============================================================================

// EventBus 事件总线组合接口
type EventBus interface {
	JobEventBus
	Close() error
}
