// Package orchestrator 运行编排器
//
// 编排器负责 WorkflowRun 的创建与作业 DAG 的推进：
//   - 触发事件匹配 active 工作流，每个命中创建一个 Run
//   - Run 创建时作业 × 矩阵完整展开为 JobRun（之后不可变）
//   - 作业结束时解锁依赖、跳过下游、执行 fail-fast
//   - 所有作业终态后聚合出 Run 的最终状态
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"pipelines-admin/internal/shared/cache"
	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/shared/queue"
	"pipelines-admin/internal/workflow"
)

// Store 编排器所需的持久化存储接口
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context, status string) ([]*model.Workflow, error)
	CreateRun(ctx context.Context, run *model.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*model.WorkflowRun, error)
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error
	CreateJobs(ctx context.Context, jobs []*model.JobRun) error
	GetJob(ctx context.Context, id string) (*model.JobRun, error)
	ListJobsByRun(ctx context.Context, runID string) ([]*model.JobRun, error)
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, runnerID *string) error
}

// Orchestrator 运行编排器
type Orchestrator struct {
	store Store
	queue queue.SchedulerQueue // 调度队列（可为 nil，作业靠保底轮询调度）
	cache cache.RunStateCache  // 进度缓存（可为 nil）
}

// NewOrchestrator 创建编排器
func NewOrchestrator(store Store, schedulerQueue queue.SchedulerQueue, stateCache cache.RunStateCache) *Orchestrator {
	return &Orchestrator{
		store: store,
		queue: schedulerQueue,
		cache: stateCache,
	}
}

// ============================================================================
// 触发与运行创建
// ============================================================================

// HandleTriggerEvent 处理触发事件
//
// 事件与所有 active 工作流的 on: 声明匹配，每个命中的工作流
// 创建一个 Run。单个工作流创建失败不影响其他工作流。
func (o *Orchestrator) HandleTriggerEvent(ctx context.Context, event *model.TriggerEvent) ([]*model.WorkflowRun, error) {
	workflows, err := o.store.ListWorkflows(ctx, string(model.WorkflowStatusActive))
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	var runs []*model.WorkflowRun
	for _, wf := range workflows {
		def, err := workflow.Parse([]byte(wf.Source))
		if err != nil {
			log.Printf("[orchestrator.trigger] WARNING: workflow %s has unparsable source: %v", wf.ID, err)
			continue
		}

		if !workflow.MatchesTrigger(def, event) {
			continue
		}

		run, err := o.createRun(ctx, wf.ID, def, event)
		if err != nil {
			log.Printf("[orchestrator.trigger] ERROR: failed to create run for workflow %s: %v", wf.ID, err)
			continue
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// Dispatch 手动触发指定工作流
//
// 工作流必须声明 manual 触发器且处于 active 状态。
func (o *Orchestrator) Dispatch(ctx context.Context, workflowID string, event *model.TriggerEvent) (*model.WorkflowRun, error) {
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	if !wf.IsActive() {
		return nil, fmt.Errorf("workflow %s is disabled", workflowID)
	}

	def, err := workflow.Parse([]byte(wf.Source))
	if err != nil {
		return nil, fmt.Errorf("parse workflow source: %w", err)
	}

	if event == nil {
		event = &model.TriggerEvent{Type: model.TriggerManual}
	}
	if !workflow.MatchesTrigger(def, event) {
		return nil, fmt.Errorf("workflow %s does not declare %s trigger", workflowID, event.Type)
	}

	return o.createRun(ctx, wf.ID, def, event)
}

// createRun 创建 Run 并展开作业 DAG
//
// 无依赖的作业直接 queued 并推入调度队列，有依赖的作业 blocked
// 等待解锁。定义和事件以快照形式固化进 Run。
func (o *Orchestrator) createRun(ctx context.Context, workflowID string, def *workflow.Definition, event *model.TriggerEvent) (*model.WorkflowRun, error) {
	now := time.Now()

	defSnapshot, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal definition snapshot: %w", err)
	}
	eventSnapshot, _ := json.Marshal(event)

	run := &model.WorkflowRun{
		ID:         generateID("run"),
		WorkflowID: workflowID,
		Status:     model.RunStatusPending,
		Event:      eventSnapshot,
		Definition: defSnapshot,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	jobs := buildJobRuns(run.ID, def, now)

	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := o.store.CreateJobs(ctx, jobs); err != nil {
		return nil, fmt.Errorf("create jobs: %w", err)
	}

	// 推入调度队列（失败只记日志，保底轮询会接住）
	queued := 0
	for _, job := range jobs {
		if job.Status != model.JobStatusQueued {
			continue
		}
		queued++
		o.enqueueJob(ctx, job.ID, run.ID)
	}

	o.syncRunState(ctx, run.ID, string(run.Status), jobs)

	log.Printf("[orchestrator.run.created] run_id=%s workflow_id=%s jobs=%d queued=%d event=%s",
		run.ID, workflowID, len(jobs), queued, event.Type)
	return run, nil
}

// buildJobRuns 将作业图 × 矩阵展开为 JobRun 列表
func buildJobRuns(runID string, def *workflow.Definition, now time.Time) []*model.JobRun {
	var jobs []*model.JobRun

	for _, name := range workflow.SortedJobNames(def.Jobs) {
		jobDef := def.Jobs[name]

		status := model.JobStatusQueued
		if len(jobDef.Needs) > 0 {
			status = model.JobStatusBlocked
		}

		for _, inst := range workflow.Expand(name, jobDef) {
			snapshot, _ := json.Marshal(workflow.BuildSnapshot(def, jobDef, inst))

			jobs = append(jobs, &model.JobRun{
				ID:          generateID("job"),
				RunID:       runID,
				Name:        name,
				DisplayName: inst.DisplayName,
				Status:      status,
				Needs:       jobDef.Needs,
				Matrix:      inst.Values,
				Snapshot:    snapshot,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
	}

	return jobs
}

// enqueueJob 将作业推入调度队列
func (o *Orchestrator) enqueueJob(ctx context.Context, jobID, runID string) {
	if o.queue == nil {
		return
	}
	if _, err := o.queue.ScheduleJob(ctx, jobID, runID); err != nil {
		log.Printf("[orchestrator.enqueue.failed] job_id=%s error=%v", jobID, err)
	}
}

// syncRunState 更新进度缓存
func (o *Orchestrator) syncRunState(ctx context.Context, runID, state string, jobs []*model.JobRun) {
	if o.cache == nil {
		return
	}

	rs := &cache.RunState{State: state, TotalJobs: len(jobs)}
	for _, j := range jobs {
		if j.IsTerminal() {
			rs.CompletedJobs++
		}
		if j.Status == model.JobStatusFailed || j.Status == model.JobStatusTimeout {
			rs.FailedJobs++
		}
		if j.Status == model.JobStatusRunning {
			rs.CurrentJob = j.DisplayName
		}
	}

	if err := o.cache.SetRunState(ctx, runID, rs); err != nil {
		log.Printf("[orchestrator.state.failed] run_id=%s error=%v", runID, err)
	}
}

// generateID 生成带前缀的唯一标识符
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
