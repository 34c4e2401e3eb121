// 事件上报缓冲
//
// 作业执行过程中的事件先进入内存缓冲，按批量大小或时间间隔
// 打包 POST 到控制面，减少高频输出行对 API 的冲击。
package runner

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"pipelines-admin/internal/shared/model"
)

const (
	// eventFlushInterval 事件缓冲的最长滞留时间
	eventFlushInterval = 500 * time.Millisecond
	// eventFlushBatch 触发立即发送的缓冲事件数
	eventFlushBatch = 50
)

// EventRecorder 单个作业的事件记录器
//
// Seq 在作业内单调递增，由记录器统一分配。
// 非并发安全以外的使用方式：Record 可被多个 goroutine 调用。
type EventRecorder struct {
	client *APIClient
	jobID  string

	mu     sync.Mutex
	seq    int
	buffer []*model.Event

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewEventRecorder 创建事件记录器并启动后台发送循环
func NewEventRecorder(ctx context.Context, client *APIClient, jobID string) *EventRecorder {
	r := &EventRecorder{
		client:  client,
		jobID:   jobID,
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.flushLoop(ctx)
	return r
}

// Record 记录一个事件
func (r *EventRecorder) Record(eventType model.EventType, payload map[string]interface{}) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}

	r.mu.Lock()
	r.seq++
	r.buffer = append(r.buffer, &model.Event{
		JobID:     r.jobID,
		Seq:       r.seq,
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now(),
	})
	full := len(r.buffer) >= eventFlushBatch
	r.mu.Unlock()

	if full {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

// Close 停止记录器并发送剩余缓冲
func (r *EventRecorder) Close() {
	close(r.done)
	r.wg.Wait()
}

func (r *EventRecorder) flushLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(eventFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			// 最后一次发送用独立超时，作业上下文可能已取消
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			r.flush(ctx)
		case <-r.flushCh:
			r.flush(ctx)
		}
	}
}

func (r *EventRecorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	if err := r.client.ReportEvents(ctx, r.jobID, batch); err != nil {
		log.Printf("[runner.events.report.failed] job_id=%s count=%d err=%v", r.jobID, len(batch), err)
	}
}
