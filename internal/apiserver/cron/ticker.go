// Package cron 定时触发循环
package cron

import (
	"context"
	"log"
	"time"

	"pipelines-admin/internal/apiserver/orchestrator"
	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/workflow"
)

// WorkflowLister ticker 所需的存储接口
type WorkflowLister interface {
	ListWorkflows(ctx context.Context, status string) ([]*model.Workflow, error)
}

// Ticker 定时触发循环
//
// 每分钟对齐触发一次：遍历 active 工作流的 schedule 声明，
// cron 命中当前分钟的工作流各创建一个 Run。
type Ticker struct {
	store        WorkflowLister
	orchestrator *orchestrator.Orchestrator
	stopCh       chan struct{}
}

// NewTicker 创建定时触发循环
func NewTicker(store WorkflowLister, o *orchestrator.Orchestrator) *Ticker {
	return &Ticker{
		store:        store,
		orchestrator: o,
		stopCh:       make(chan struct{}),
	}
}

// Start 启动循环（阻塞，直到 ctx 取消或 Stop）
func (t *Ticker) Start(ctx context.Context) {
	log.Printf("[cron.start] tick=1m")

	for {
		// 对齐到下一个整分钟，避免漂移导致跳过或重复
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)

		select {
		case <-ctx.Done():
			log.Printf("[cron.stop] reason=context_cancelled")
			return
		case <-t.stopCh:
			log.Printf("[cron.stop] reason=stop_signal")
			return
		case <-time.After(next.Sub(now)):
			t.tick(ctx, next)
		}
	}
}

// Stop 停止循环
func (t *Ticker) Stop() {
	close(t.stopCh)
}

// tick 执行一次分钟检查
func (t *Ticker) tick(ctx context.Context, at time.Time) {
	workflows, err := t.store.ListWorkflows(ctx, string(model.WorkflowStatusActive))
	if err != nil {
		log.Printf("[cron.list.failed] error=%v", err)
		return
	}

	for _, wf := range workflows {
		def, err := workflow.Parse([]byte(wf.Source))
		if err != nil {
			continue
		}

		if !matchesAnySchedule(def, at) {
			continue
		}

		event := &model.TriggerEvent{
			Type:   model.TriggerSchedule,
			Sender: "cron",
		}
		run, err := t.orchestrator.Dispatch(ctx, wf.ID, event)
		if err != nil {
			log.Printf("[cron.dispatch.failed] workflow_id=%s error=%v", wf.ID, err)
			continue
		}
		log.Printf("[cron.dispatch] workflow_id=%s run_id=%s at=%s", wf.ID, run.ID, at.Format("15:04"))
	}
}

// matchesAnySchedule 判断工作流的任一 schedule 是否命中时刻
func matchesAnySchedule(def *workflow.Definition, at time.Time) bool {
	for _, sched := range def.On.Schedule {
		s, err := Parse(sched.Cron)
		if err != nil {
			continue
		}
		if s.Matches(at) {
			return true
		}
	}
	return false
}
