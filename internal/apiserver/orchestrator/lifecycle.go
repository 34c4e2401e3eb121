// Package orchestrator 作业 DAG 推进与 Run 生命周期
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/workflow"
)

// ============================================================================
// 作业状态推进
// ============================================================================

// OnJobStarted 作业开始执行时调用
//
// 第一个作业开始执行时把 Run 从 pending 推到 running。
func (o *Orchestrator) OnJobStarted(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil || run.Status != model.RunStatusPending {
		return nil
	}
	return o.store.UpdateRunStatus(ctx, runID, model.RunStatusRunning)
}

// OnJobCompleted 作业到达终态时调用
//
// 推进 DAG：
//   - 成功：检查 blocked 的下游，needs 全部成功的解锁为 queued
//   - 失败/超时/取消：传递下游全部 skipped；fail-fast 时取消
//     同名矩阵中尚未终态的兄弟实例
//
// 最后检查 Run 是否可以终结。
func (o *Orchestrator) OnJobCompleted(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}
	if !job.IsTerminal() {
		return nil
	}

	jobs, err := o.store.ListJobsByRun(ctx, job.RunID)
	if err != nil {
		return err
	}

	if job.IsSuccess() {
		jobs = o.unblockDependents(ctx, jobs)
	} else {
		jobs = o.skipTransitiveDependents(ctx, jobs, job.Name)
		jobs = o.cancelMatrixSiblings(ctx, jobs, job)
	}

	return o.finalizeRun(ctx, job.RunID, jobs)
}

// unblockDependents 解锁 needs 已全部满足的 blocked 作业
//
// needs 是作业名级别的依赖：只有依赖作业的所有矩阵实例都成功，
// 该依赖才算满足。
func (o *Orchestrator) unblockDependents(ctx context.Context, jobs []*model.JobRun) []*model.JobRun {
	succeeded := succeededNames(jobs)

	for _, j := range jobs {
		if j.Status != model.JobStatusBlocked {
			continue
		}

		ready := true
		for _, need := range j.Needs {
			if !succeeded[need] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}

		if err := o.store.UpdateJobStatus(ctx, j.ID, model.JobStatusQueued, nil); err != nil {
			log.Printf("[orchestrator.unblock.failed] job_id=%s error=%v", j.ID, err)
			continue
		}
		j.Status = model.JobStatusQueued
		o.enqueueJob(ctx, j.ID, j.RunID)
		log.Printf("[orchestrator.unblock] job_id=%s name=%s", j.ID, j.Name)
	}

	return jobs
}

// skipTransitiveDependents 跳过失败作业的全部传递下游
func (o *Orchestrator) skipTransitiveDependents(ctx context.Context, jobs []*model.JobRun, failedName string) []*model.JobRun {
	doomed := transitiveDependentNames(jobs, failedName)

	for _, j := range jobs {
		if !doomed[j.Name] || j.IsTerminal() {
			continue
		}

		if err := o.store.UpdateJobStatus(ctx, j.ID, model.JobStatusSkipped, nil); err != nil {
			log.Printf("[orchestrator.skip.failed] job_id=%s error=%v", j.ID, err)
			continue
		}
		j.Status = model.JobStatusSkipped
		log.Printf("[orchestrator.skip] job_id=%s name=%s cause=%s", j.ID, j.Name, failedName)
	}

	return jobs
}

// cancelMatrixSiblings 执行 fail-fast：取消失败实例的同名兄弟
func (o *Orchestrator) cancelMatrixSiblings(ctx context.Context, jobs []*model.JobRun, failed *model.JobRun) []*model.JobRun {
	// skipped/cancelled 不触发 fail-fast，只有真实失败才取消兄弟
	if failed.Status != model.JobStatusFailed && failed.Status != model.JobStatusTimeout {
		return jobs
	}
	if !o.isFailFast(ctx, failed) {
		return jobs
	}

	for _, j := range jobs {
		if j.Name != failed.Name || j.ID == failed.ID || j.IsTerminal() {
			continue
		}

		if err := o.store.UpdateJobStatus(ctx, j.ID, model.JobStatusCancelled, nil); err != nil {
			log.Printf("[orchestrator.failfast.failed] job_id=%s error=%v", j.ID, err)
			continue
		}
		j.Status = model.JobStatusCancelled
		log.Printf("[orchestrator.failfast] job_id=%s name=%s", j.ID, j.Name)
	}

	return jobs
}

// isFailFast 从 Run 的定义快照中读取作业的 fail-fast 配置
func (o *Orchestrator) isFailFast(ctx context.Context, job *model.JobRun) bool {
	run, err := o.store.GetRun(ctx, job.RunID)
	if err != nil || run == nil || len(run.Definition) == 0 {
		return true // 默认 fail-fast
	}

	var def workflow.Definition
	if err := json.Unmarshal(run.Definition, &def); err != nil {
		return true
	}

	jobDef, ok := def.Jobs[job.Name]
	if !ok {
		return true
	}
	return jobDef.Strategy.IsFailFast()
}

// finalizeRun 所有作业终态后聚合 Run 状态
//
// 聚合规则：
//   - 任一 failed/timeout → failed
//   - 无失败但有 cancelled → cancelled
//   - 无失败无取消但有 skipped → failed（防御，正常不可达）
//   - 全部 succeeded → succeeded
func (o *Orchestrator) finalizeRun(ctx context.Context, runID string, jobs []*model.JobRun) error {
	allTerminal := true
	var anyFailed, anyCancelled, anySkipped bool
	for _, j := range jobs {
		if !j.IsTerminal() {
			allTerminal = false
			continue
		}
		switch j.Status {
		case model.JobStatusFailed, model.JobStatusTimeout:
			anyFailed = true
		case model.JobStatusCancelled:
			anyCancelled = true
		case model.JobStatusSkipped:
			anySkipped = true
		}
	}

	if !allTerminal {
		o.syncRunState(ctx, runID, string(model.RunStatusRunning), jobs)
		return nil
	}

	status := model.RunStatusSucceeded
	switch {
	case anyFailed:
		status = model.RunStatusFailed
	case anyCancelled:
		status = model.RunStatusCancelled
	case anySkipped:
		status = model.RunStatusFailed
	}

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil || run.IsTerminal() {
		return nil
	}

	if err := o.store.UpdateRunStatus(ctx, runID, status); err != nil {
		return err
	}

	o.syncRunState(ctx, runID, string(status), jobs)
	log.Printf("[orchestrator.run.finished] run_id=%s status=%s jobs=%d", runID, status, len(jobs))
	return nil
}

// ============================================================================
// Run 级操作
// ============================================================================

// CancelRun 取消一次运行
//
// blocked/queued/assigned 的作业直接置为 cancelled；running 的作业
// 也置为 cancelled，agent 通过心跳的取消指令得知并终止容器。
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	if !run.CanCancel() {
		return fmt.Errorf("run %s is already %s", runID, run.Status)
	}

	jobs, err := o.store.ListJobsByRun(ctx, runID)
	if err != nil {
		return err
	}

	for _, j := range jobs {
		if j.IsTerminal() {
			continue
		}
		if err := o.store.UpdateJobStatus(ctx, j.ID, model.JobStatusCancelled, nil); err != nil {
			log.Printf("[orchestrator.cancel.job.failed] job_id=%s error=%v", j.ID, err)
			continue
		}
		j.Status = model.JobStatusCancelled
	}

	if err := o.store.UpdateRunStatus(ctx, runID, model.RunStatusCancelled); err != nil {
		return err
	}

	o.syncRunState(ctx, runID, string(model.RunStatusCancelled), jobs)
	log.Printf("[orchestrator.run.cancelled] run_id=%s", runID)
	return nil
}

// Rerun 基于原 Run 的定义快照重新执行
//
// 新 Run 使用原 Run 创建时固化的定义和事件，工作流的后续修改
// 不会影响重跑结果。
func (o *Orchestrator) Rerun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if !run.CanRerun() {
		return nil, fmt.Errorf("run %s is %s, only failed or cancelled runs can be rerun", runID, run.Status)
	}

	var def workflow.Definition
	if err := json.Unmarshal(run.Definition, &def); err != nil {
		return nil, fmt.Errorf("decode definition snapshot: %w", err)
	}

	var event model.TriggerEvent
	if len(run.Event) > 0 {
		json.Unmarshal(run.Event, &event)
	}

	newRun, err := o.createRun(ctx, run.WorkflowID, &def, &event)
	if err != nil {
		return nil, err
	}

	log.Printf("[orchestrator.run.rerun] old_run_id=%s new_run_id=%s", runID, newRun.ID)
	return newRun, nil
}

// ============================================================================
// 图计算辅助
// ============================================================================

// succeededNames 返回所有矩阵实例均成功的作业名集合
func succeededNames(jobs []*model.JobRun) map[string]bool {
	total := make(map[string]int)
	ok := make(map[string]int)
	for _, j := range jobs {
		total[j.Name]++
		if j.IsSuccess() {
			ok[j.Name]++
		}
	}

	result := make(map[string]bool, len(total))
	for name, n := range total {
		result[name] = ok[name] == n
	}
	return result
}

// transitiveDependentNames 计算某作业名的全部传递下游作业名
func transitiveDependentNames(jobs []*model.JobRun, root string) map[string]bool {
	// 作业名级别的反向邻接表
	dependents := make(map[string][]string)
	seenEdge := make(map[string]bool)
	for _, j := range jobs {
		for _, need := range j.Needs {
			edge := need + "\x00" + j.Name
			if seenEdge[edge] {
				continue
			}
			seenEdge[edge] = true
			dependents[need] = append(dependents[need], j.Name)
		}
	}

	doomed := make(map[string]bool)
	stack := []string{root}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range dependents[name] {
			if doomed[dep] {
				continue
			}
			doomed[dep] = true
			stack = append(stack, dep)
		}
	}
	return doomed
}
