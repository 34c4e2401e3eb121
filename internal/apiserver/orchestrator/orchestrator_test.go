package orchestrator

import (
	"context"
	"testing"

	"pipelines-admin/internal/shared/model"
)

const testWorkflowYAML = `
name: ci
on:
  push:
    branches: [main]
  manual: {}
jobs:
  build:
    container: golang:1.24
    steps:
      - name: compile
        run: go build ./...
  tests:
    needs: [build]
    container: python:3.12
    strategy:
      matrix:
        python: ["3.11", "3.12"]
    steps:
      - name: run tests
        run: pytest
  release:
    needs: [tests]
    container: golang:1.24
    steps:
      - name: package
        run: make release
`

// mockStore 模拟存储层
type mockStore struct {
	workflows map[string]*model.Workflow
	runs      map[string]*model.WorkflowRun
	jobs      map[string]*model.JobRun
}

func newMockStore() *mockStore {
	return &mockStore{
		workflows: make(map[string]*model.Workflow),
		runs:      make(map[string]*model.WorkflowRun),
		jobs:      make(map[string]*model.JobRun),
	}
}

func (m *mockStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	return m.workflows[id], nil
}

func (m *mockStore) ListWorkflows(ctx context.Context, status string) ([]*model.Workflow, error) {
	var result []*model.Workflow
	for _, wf := range m.workflows {
		if status == "" || string(wf.Status) == status {
			result = append(result, wf)
		}
	}
	return result, nil
}

func (m *mockStore) CreateRun(ctx context.Context, run *model.WorkflowRun) error {
	m.runs[run.ID] = run
	return nil
}

func (m *mockStore) GetRun(ctx context.Context, id string) (*model.WorkflowRun, error) {
	return m.runs[id], nil
}

func (m *mockStore) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error {
	if r, ok := m.runs[id]; ok {
		r.Status = status
	}
	return nil
}

func (m *mockStore) CreateJobs(ctx context.Context, jobs []*model.JobRun) error {
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return nil
}

func (m *mockStore) GetJob(ctx context.Context, id string) (*model.JobRun, error) {
	return m.jobs[id], nil
}

func (m *mockStore) ListJobsByRun(ctx context.Context, runID string) ([]*model.JobRun, error) {
	var result []*model.JobRun
	for _, j := range m.jobs {
		if j.RunID == runID {
			result = append(result, j)
		}
	}
	return result, nil
}

func (m *mockStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, runnerID *string) error {
	if j, ok := m.jobs[id]; ok {
		j.Status = status
		if runnerID != nil {
			j.RunnerID = runnerID
		}
	}
	return nil
}

// 测试辅助：按作业名取实例
func (m *mockStore) jobsByName(name string) []*model.JobRun {
	var result []*model.JobRun
	for _, j := range m.jobs {
		if j.Name == name {
			result = append(result, j)
		}
	}
	return result
}

func (m *mockStore) setJobStatus(t *testing.T, name string, status model.JobStatus) *model.JobRun {
	t.Helper()
	jobs := m.jobsByName(name)
	if len(jobs) == 0 {
		t.Fatalf("no job named %s", name)
	}
	jobs[0].Status = status
	return jobs[0]
}

func setupRun(t *testing.T) (*mockStore, *Orchestrator, *model.WorkflowRun) {
	t.Helper()
	store := newMockStore()
	store.workflows["wf-1"] = &model.Workflow{
		ID:     "wf-1",
		Name:   "ci",
		Status: model.WorkflowStatusActive,
		Source: testWorkflowYAML,
	}

	o := NewOrchestrator(store, nil, nil)
	run, err := o.Dispatch(context.Background(), "wf-1", nil)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	return store, o, run
}

func TestHandleTriggerEvent(t *testing.T) {
	store := newMockStore()
	store.workflows["wf-1"] = &model.Workflow{
		ID:     "wf-1",
		Status: model.WorkflowStatusActive,
		Source: testWorkflowYAML,
	}

	o := NewOrchestrator(store, nil, nil)

	tests := []struct {
		name     string
		event    *model.TriggerEvent
		wantRuns int
	}{
		{
			name:     "push 到 main 触发",
			event:    &model.TriggerEvent{Type: model.TriggerPush, Ref: "refs/heads/main"},
			wantRuns: 1,
		},
		{
			name:     "push 到其他分支不触发",
			event:    &model.TriggerEvent{Type: model.TriggerPush, Ref: "refs/heads/feature"},
			wantRuns: 0,
		},
		{
			name:     "未声明的事件类型不触发",
			event:    &model.TriggerEvent{Type: model.TriggerSchedule},
			wantRuns: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := o.HandleTriggerEvent(context.Background(), tt.event)
			if err != nil {
				t.Fatalf("HandleTriggerEvent failed: %v", err)
			}
			if len(runs) != tt.wantRuns {
				t.Errorf("expected %d runs, got %d", tt.wantRuns, len(runs))
			}
		})
	}
}

func TestCreateRun_FanOut(t *testing.T) {
	store, _, run := setupRun(t)

	jobs, _ := store.ListJobsByRun(context.Background(), run.ID)
	// build(1) + tests 矩阵(2) + release(1)
	if len(jobs) != 4 {
		t.Fatalf("expected 4 jobs, got %d", len(jobs))
	}

	for _, j := range jobs {
		switch j.Name {
		case "build":
			if j.Status != model.JobStatusQueued {
				t.Errorf("build should be queued, got %s", j.Status)
			}
		case "tests", "release":
			if j.Status != model.JobStatusBlocked {
				t.Errorf("%s should be blocked, got %s", j.Name, j.Status)
			}
		}
	}

	if len(store.jobsByName("tests")) != 2 {
		t.Errorf("expected 2 tests matrix instances, got %d", len(store.jobsByName("tests")))
	}
}

func TestOnJobCompleted_UnblocksDependents(t *testing.T) {
	store, o, _ := setupRun(t)
	ctx := context.Background()

	build := store.setJobStatus(t, "build", model.JobStatusSucceeded)

	if err := o.OnJobCompleted(ctx, build.ID); err != nil {
		t.Fatalf("OnJobCompleted failed: %v", err)
	}

	for _, j := range store.jobsByName("tests") {
		if j.Status != model.JobStatusQueued {
			t.Errorf("tests instance should be queued after build success, got %s", j.Status)
		}
	}
	// release 依赖 tests，尚不能解锁
	for _, j := range store.jobsByName("release") {
		if j.Status != model.JobStatusBlocked {
			t.Errorf("release should stay blocked, got %s", j.Status)
		}
	}
}

func TestOnJobCompleted_PartialMatrixDoesNotUnblock(t *testing.T) {
	store, o, _ := setupRun(t)
	ctx := context.Background()

	build := store.setJobStatus(t, "build", model.JobStatusSucceeded)
	o.OnJobCompleted(ctx, build.ID)

	// 只有一个矩阵实例成功，release 不能解锁
	tests := store.jobsByName("tests")
	tests[0].Status = model.JobStatusSucceeded
	o.OnJobCompleted(ctx, tests[0].ID)

	for _, j := range store.jobsByName("release") {
		if j.Status != model.JobStatusBlocked {
			t.Errorf("release should stay blocked until all matrix instances succeed, got %s", j.Status)
		}
	}

	// 第二个实例成功后解锁
	tests[1].Status = model.JobStatusSucceeded
	o.OnJobCompleted(ctx, tests[1].ID)

	for _, j := range store.jobsByName("release") {
		if j.Status != model.JobStatusQueued {
			t.Errorf("release should be queued after all tests succeed, got %s", j.Status)
		}
	}
}

func TestOnJobCompleted_SkipsTransitiveDependents(t *testing.T) {
	store, o, run := setupRun(t)
	ctx := context.Background()

	build := store.setJobStatus(t, "build", model.JobStatusFailed)

	if err := o.OnJobCompleted(ctx, build.ID); err != nil {
		t.Fatalf("OnJobCompleted failed: %v", err)
	}

	for _, name := range []string{"tests", "release"} {
		for _, j := range store.jobsByName(name) {
			if j.Status != model.JobStatusSkipped {
				t.Errorf("%s should be skipped after build failure, got %s", name, j.Status)
			}
		}
	}

	// 所有作业终态，Run 应为 failed
	if store.runs[run.ID].Status != model.RunStatusFailed {
		t.Errorf("run should be failed, got %s", store.runs[run.ID].Status)
	}
}

func TestOnJobCompleted_FailFastCancelsSiblings(t *testing.T) {
	store, o, _ := setupRun(t)
	ctx := context.Background()

	build := store.setJobStatus(t, "build", model.JobStatusSucceeded)
	o.OnJobCompleted(ctx, build.ID)

	tests := store.jobsByName("tests")
	tests[0].Status = model.JobStatusFailed
	tests[1].Status = model.JobStatusRunning

	if err := o.OnJobCompleted(ctx, tests[0].ID); err != nil {
		t.Fatalf("OnJobCompleted failed: %v", err)
	}

	if tests[1].Status != model.JobStatusCancelled {
		t.Errorf("sibling matrix instance should be cancelled by fail-fast, got %s", tests[1].Status)
	}
}

func TestOnJobCompleted_FinalizesRunAsSucceeded(t *testing.T) {
	store, o, run := setupRun(t)
	ctx := context.Background()

	var last *model.JobRun
	jobs, _ := store.ListJobsByRun(ctx, run.ID)
	for _, j := range jobs {
		j.Status = model.JobStatusSucceeded
		last = j
	}

	if err := o.OnJobCompleted(ctx, last.ID); err != nil {
		t.Fatalf("OnJobCompleted failed: %v", err)
	}

	if store.runs[run.ID].Status != model.RunStatusSucceeded {
		t.Errorf("run should be succeeded, got %s", store.runs[run.ID].Status)
	}
}

func TestOnJobStarted(t *testing.T) {
	store, o, run := setupRun(t)
	ctx := context.Background()

	if err := o.OnJobStarted(ctx, run.ID); err != nil {
		t.Fatalf("OnJobStarted failed: %v", err)
	}
	if store.runs[run.ID].Status != model.RunStatusRunning {
		t.Errorf("run should be running, got %s", store.runs[run.ID].Status)
	}
}

func TestCancelRun(t *testing.T) {
	store, o, run := setupRun(t)
	ctx := context.Background()

	if err := o.CancelRun(ctx, run.ID); err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}

	if store.runs[run.ID].Status != model.RunStatusCancelled {
		t.Errorf("run should be cancelled, got %s", store.runs[run.ID].Status)
	}
	jobs, _ := store.ListJobsByRun(ctx, run.ID)
	for _, j := range jobs {
		if j.Status != model.JobStatusCancelled {
			t.Errorf("job %s should be cancelled, got %s", j.Name, j.Status)
		}
	}

	// 终态的 Run 不能再取消
	if err := o.CancelRun(ctx, run.ID); err == nil {
		t.Error("expected error cancelling a terminal run")
	}
}

func TestRerun(t *testing.T) {
	store, o, run := setupRun(t)
	ctx := context.Background()

	// 运行中的 Run 不能重跑
	if _, err := o.Rerun(ctx, run.ID); err == nil {
		t.Error("expected error rerunning a pending run")
	}

	store.runs[run.ID].Status = model.RunStatusFailed

	newRun, err := o.Rerun(ctx, run.ID)
	if err != nil {
		t.Fatalf("Rerun failed: %v", err)
	}
	if newRun.ID == run.ID {
		t.Error("rerun should create a new run")
	}
	if newRun.WorkflowID != run.WorkflowID {
		t.Errorf("rerun should keep workflow id, got %s", newRun.WorkflowID)
	}

	jobs, _ := store.ListJobsByRun(ctx, newRun.ID)
	if len(jobs) != 4 {
		t.Errorf("rerun should fan out 4 jobs, got %d", len(jobs))
	}
}

func TestDispatch_RequiresManualTrigger(t *testing.T) {
	store := newMockStore()
	store.workflows["wf-1"] = &model.Workflow{
		ID:     "wf-1",
		Status: model.WorkflowStatusActive,
		Source: "name: nightly\non:\n  schedule:\n    - cron: \"0 2 * * *\"\njobs:\n  sweep:\n    steps:\n      - name: sweep\n        run: make sweep\n",
	}

	o := NewOrchestrator(store, nil, nil)

	if _, err := o.Dispatch(context.Background(), "wf-1", nil); err == nil {
		t.Error("expected error dispatching a workflow without manual trigger")
	}
}
