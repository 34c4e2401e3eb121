// Package eventbus 事件总线 mock 实现
package eventbus

import (
	"context"
)

// ============================================================================
// NoOpEventBus - 空操作的 EventBus 实现（用于测试）
// ============================================================================

// NoOpEventBus 是一个不做任何操作的 EventBus 实现
type NoOpEventBus struct{}

// NewNoOpEventBus 创建 NoOpEventBus 实例
func NewNoOpEventBus() *NoOpEventBus {
	return &NoOpEventBus{}
}

// Close 关闭事件总线
func (b *NoOpEventBus) Close() error {
	return nil
}

func (b *NoOpEventBus) PublishJobEvent(ctx context.Context, jobID string, event *JobEvent) error {
	return nil
}
func (b *NoOpEventBus) GetJobEvents(ctx context.Context, jobID string, fromID string, count int64) ([]*JobEvent, error) {
	return []*JobEvent{}, nil
}
func (b *NoOpEventBus) GetJobEventCount(ctx context.Context, jobID string) (int64, error) {
	return 0, nil
}
func (b *NoOpEventBus) SubscribeJobEvents(ctx context.Context, jobID string) (<-chan *JobEvent, error) {
	ch := make(chan *JobEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
func (b *NoOpEventBus) DeleteJobEvents(ctx context.Context, jobID string) error {
	return nil
}

// 确保 NoOpEventBus 实现了 EventBus 接口
var _ EventBus = (*NoOpEventBus)(nil)
