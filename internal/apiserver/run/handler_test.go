package run

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pipelines-admin/internal/apiserver/orchestrator"
	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/shared/storage"
)

const testYAML = `
name: ci
on:
  push:
    branches: [main]
  manual: {}
jobs:
  build:
    steps:
      - run: make build
  tests:
    needs: [build]
    steps:
      - run: make test
`

// ============================================================================
// Mock 实现
// ============================================================================

// mockStore 同时满足本包和 orchestrator 的存储接口
type mockStore struct {
	mu        sync.Mutex
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
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workflows[id], nil
}

func (m *mockStore) ListWorkflows(ctx context.Context, status string) ([]*model.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Workflow
	for _, w := range m.workflows {
		if status == "" || string(w.Status) == status {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *mockStore) CreateRun(ctx context.Context, run *model.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *mockStore) GetRun(ctx context.Context, id string) (*model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id], nil
}

func (m *mockStore) ListRuns(ctx context.Context, workflowID string, status string, limit, offset int) ([]*model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.WorkflowRun
	for _, r := range m.runs {
		if workflowID != "" && r.WorkflowID != workflowID {
			continue
		}
		if status != "" && string(r.Status) != status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status = status
	return nil
}

func (m *mockStore) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
	return nil
}

func (m *mockStore) CreateJobs(ctx context.Context, jobs []*model.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return nil
}

func (m *mockStore) GetJob(ctx context.Context, id string) (*model.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id], nil
}

func (m *mockStore) ListJobsByRun(ctx context.Context, runID string) ([]*model.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.JobRun
	for _, j := range m.jobs {
		if j.RunID == runID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, runnerID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	j.Status = status
	if runnerID != nil {
		j.RunnerID = runnerID
	}
	return nil
}

func setupHandler(t *testing.T) (*mockStore, *http.ServeMux) {
	t.Helper()
	store := newMockStore()
	store.workflows["wf-test01"] = &model.Workflow{
		ID:        "wf-test01",
		Name:      "ci",
		Status:    model.WorkflowStatusActive,
		Source:    testYAML,
		Revision:  1,
		CreatedAt: time.Now(),
	}
	orch := orchestrator.NewOrchestrator(store, nil, nil)
	h := NewHandler(store, orch, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return store, mux
}

func dispatchRun(t *testing.T, mux *http.ServeMux) *model.WorkflowRun {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/wf-test01/dispatch", strings.NewReader(`{"sender":"ops"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("dispatch failed with status %d: %s", w.Code, w.Body.String())
	}
	var run model.WorkflowRun
	if err := json.NewDecoder(w.Body).Decode(&run); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return &run
}

// ============================================================================
// 测试
// ============================================================================

func TestHandler_HandleEvent(t *testing.T) {
	t.Run("push事件创建Run", func(t *testing.T) {
		_, mux := setupHandler(t)

		body := `{"type":"push","ref":"main","commit":"abc1234"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
		}

		var resp struct {
			RunIDs []string `json:"run_ids"`
			Count  int      `json:"count"`
		}
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 run, got %d", resp.Count)
		}
	})

	t.Run("不匹配的分支不创建Run", func(t *testing.T) {
		_, mux := setupHandler(t)

		body := `{"type":"push","ref":"feature/x"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d", w.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Count != 0 {
			t.Errorf("expected 0 runs, got %d", resp.Count)
		}
	})

	t.Run("manual事件被拒绝", func(t *testing.T) {
		_, mux := setupHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{"type":"manual"}`))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("非法事件类型", func(t *testing.T) {
		_, mux := setupHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{"type":"webhook"}`))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})
}

func TestHandler_Dispatch(t *testing.T) {
	t.Run("成功手动触发", func(t *testing.T) {
		store, mux := setupHandler(t)

		run := dispatchRun(t, mux)
		if run.Status != model.RunStatusPending {
			t.Errorf("expected status pending, got %s", run.Status)
		}

		jobs, _ := store.ListJobsByRun(context.Background(), run.ID)
		if len(jobs) != 2 {
			t.Errorf("expected 2 jobs, got %d", len(jobs))
		}
	})

	t.Run("工作流不存在", func(t *testing.T) {
		_, mux := setupHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/wf-missing/dispatch", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})
}

func TestHandler_Get(t *testing.T) {
	t.Run("返回Run与作业", func(t *testing.T) {
		_, mux := setupHandler(t)
		run := dispatchRun(t, mux)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}

		var detail RunDetail
		json.NewDecoder(w.Body).Decode(&detail)
		if detail.Run == nil || detail.Run.ID != run.ID {
			t.Error("run missing from detail")
		}
		if len(detail.Jobs) != 2 {
			t.Errorf("expected 2 jobs, got %d", len(detail.Jobs))
		}
	})

	t.Run("Run不存在", func(t *testing.T) {
		_, mux := setupHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-missing", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})
}

func TestHandler_List(t *testing.T) {
	_, mux := setupHandler(t)
	dispatchRun(t, mux)
	dispatchRun(t, mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?workflow_id=wf-test01", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Count != 2 {
		t.Errorf("expected count 2, got %d", resp.Count)
	}
}

func TestHandler_Cancel(t *testing.T) {
	t.Run("成功取消", func(t *testing.T) {
		store, mux := setupHandler(t)
		run := dispatchRun(t, mux)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+run.ID+"/cancel", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		if store.runs[run.ID].Status != model.RunStatusCancelled {
			t.Errorf("expected status cancelled, got %s", store.runs[run.ID].Status)
		}
	})

	t.Run("终止状态不可取消", func(t *testing.T) {
		store, mux := setupHandler(t)
		run := dispatchRun(t, mux)
		store.runs[run.ID].Status = model.RunStatusSucceeded

		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+run.ID+"/cancel", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", w.Code)
		}
	})
}

func TestHandler_Rerun(t *testing.T) {
	t.Run("失败的Run可重跑", func(t *testing.T) {
		store, mux := setupHandler(t)
		run := dispatchRun(t, mux)
		store.runs[run.ID].Status = model.RunStatusFailed

		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+run.ID+"/rerun", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
		}

		var newRun model.WorkflowRun
		json.NewDecoder(w.Body).Decode(&newRun)
		if newRun.ID == run.ID {
			t.Error("rerun should create a new run")
		}
		if newRun.WorkflowID != run.WorkflowID {
			t.Errorf("expected workflow_id %s, got %s", run.WorkflowID, newRun.WorkflowID)
		}
	})

	t.Run("进行中的Run不可重跑", func(t *testing.T) {
		_, mux := setupHandler(t)
		run := dispatchRun(t, mux)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+run.ID+"/rerun", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", w.Code)
		}
	})
}

func TestHandler_Delete(t *testing.T) {
	t.Run("只能删除已终止的Run", func(t *testing.T) {
		_, mux := setupHandler(t)
		run := dispatchRun(t, mux)

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/runs/"+run.ID, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", w.Code)
		}
	})

	t.Run("成功删除", func(t *testing.T) {
		store, mux := setupHandler(t)
		run := dispatchRun(t, mux)
		store.runs[run.ID].Status = model.RunStatusFailed

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/runs/"+run.ID, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", w.Code)
		}
		if _, ok := store.runs[run.ID]; ok {
			t.Error("run should be deleted")
		}
	})
}
