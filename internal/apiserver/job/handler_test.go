package job

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"pipelines-admin/internal/apiserver/orchestrator"
	"pipelines-admin/internal/shared/eventbus"
	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/shared/storage"
)

// ============================================================================
// Mock 实现
// ============================================================================

// mockStore 同时满足本包和 orchestrator 的存储接口
type mockStore struct {
	mu        sync.Mutex
	workflows map[string]*model.Workflow
	runs      map[string]*model.WorkflowRun
	jobs      map[string]*model.JobRun
	events    map[string][]*model.Event
}

func newMockStore() *mockStore {
	return &mockStore{
		workflows: make(map[string]*model.Workflow),
		runs:      make(map[string]*model.WorkflowRun),
		jobs:      make(map[string]*model.JobRun),
		events:    make(map[string][]*model.Event),
	}
}

func (m *mockStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workflows[id], nil
}

func (m *mockStore) ListWorkflows(ctx context.Context, status string) ([]*model.Workflow, error) {
	return nil, nil
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

func (m *mockStore) UpdateJobResult(ctx context.Context, id string, status model.JobStatus, exitCode *int, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	j.Status = status
	j.ExitCode = exitCode
	j.Error = errMsg
	return nil
}

func (m *mockStore) CreateEvents(ctx context.Context, events []*model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		m.events[e.JobID] = append(m.events[e.JobID], e)
	}
	return nil
}

func (m *mockStore) GetEventsByJob(ctx context.Context, jobID string, fromSeq int, limit int) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Event
	for _, e := range m.events[jobID] {
		if e.Seq >= fromSeq {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mockBus 记录发布的事件
type mockBus struct {
	mu        sync.Mutex
	published []*eventbus.JobEvent
}

func (m *mockBus) PublishJobEvent(ctx context.Context, jobID string, event *eventbus.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, event)
	return nil
}

func (m *mockBus) GetJobEvents(ctx context.Context, jobID string, fromID string, count int64) ([]*eventbus.JobEvent, error) {
	return nil, nil
}

func (m *mockBus) GetJobEventCount(ctx context.Context, jobID string) (int64, error) {
	return 0, nil
}

func (m *mockBus) SubscribeJobEvents(ctx context.Context, jobID string) (<-chan *eventbus.JobEvent, error) {
	return nil, nil
}

func (m *mockBus) DeleteJobEvents(ctx context.Context, jobID string) error {
	return nil
}

// setupHandler 构造一个 pending Run：build（queued）→ tests（blocked）
func setupHandler(t *testing.T) (*mockStore, *mockBus, *http.ServeMux) {
	t.Helper()
	store := newMockStore()
	store.runs["run-1"] = &model.WorkflowRun{
		ID:     "run-1",
		Status: model.RunStatusPending,
	}
	store.jobs["job-build"] = &model.JobRun{
		ID:     "job-build",
		RunID:  "run-1",
		Name:   "build",
		Status: model.JobStatusQueued,
	}
	store.jobs["job-tests"] = &model.JobRun{
		ID:     "job-tests",
		RunID:  "run-1",
		Name:   "tests",
		Status: model.JobStatusBlocked,
		Needs:  []string{"build"},
	}

	bus := &mockBus{}
	orch := orchestrator.NewOrchestrator(store, nil, nil)
	h := NewHandler(store, orch, bus)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return store, bus, mux
}

func patchStatus(t *testing.T, mux *http.ServeMux, jobID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/jobs/"+jobID+"/status", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

// ============================================================================
// 测试
// ============================================================================

func TestHandler_UpdateStatus(t *testing.T) {
	t.Run("running上报推进Run状态", func(t *testing.T) {
		store, _, mux := setupHandler(t)

		w := patchStatus(t, mux, "job-build", `{"status":"running"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		if store.jobs["job-build"].Status != model.JobStatusRunning {
			t.Errorf("expected job running, got %s", store.jobs["job-build"].Status)
		}
		if store.runs["run-1"].Status != model.RunStatusRunning {
			t.Errorf("expected run running, got %s", store.runs["run-1"].Status)
		}
	})

	t.Run("成功结束解锁依赖作业", func(t *testing.T) {
		store, _, mux := setupHandler(t)

		w := patchStatus(t, mux, "job-build", `{"status":"succeeded","exit_code":0}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		if store.jobs["job-tests"].Status != model.JobStatusQueued {
			t.Errorf("expected dependent queued, got %s", store.jobs["job-tests"].Status)
		}
	})

	t.Run("失败结束跳过下游并记录退出码", func(t *testing.T) {
		store, _, mux := setupHandler(t)

		w := patchStatus(t, mux, "job-build", `{"status":"failed","exit_code":2,"error":"make: *** [build] Error 2"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}

		build := store.jobs["job-build"]
		if build.ExitCode == nil || *build.ExitCode != 2 {
			t.Error("exit code not recorded")
		}
		if store.jobs["job-tests"].Status != model.JobStatusSkipped {
			t.Errorf("expected dependent skipped, got %s", store.jobs["job-tests"].Status)
		}
		if store.runs["run-1"].Status != model.RunStatusFailed {
			t.Errorf("expected run failed, got %s", store.runs["run-1"].Status)
		}
	})

	t.Run("终止作业拒绝再迁移", func(t *testing.T) {
		_, _, mux := setupHandler(t)

		patchStatus(t, mux, "job-build", `{"status":"succeeded"}`)
		w := patchStatus(t, mux, "job-build", `{"status":"failed"}`)
		if w.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", w.Code)
		}
	})

	t.Run("非法状态", func(t *testing.T) {
		_, _, mux := setupHandler(t)

		w := patchStatus(t, mux, "job-build", `{"status":"paused"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("作业不存在", func(t *testing.T) {
		_, _, mux := setupHandler(t)

		w := patchStatus(t, mux, "job-missing", `{"status":"running"}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})
}

func TestHandler_ReportEvents(t *testing.T) {
	t.Run("归档并发布", func(t *testing.T) {
		store, bus, mux := setupHandler(t)

		body := `{"events":[
			{"seq":1,"type":"job_started"},
			{"seq":2,"type":"step_output","payload":{"step":"build","stream":"stdout","line":"compiling"}}
		]}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-build/events", strings.NewReader(body))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
		}
		if len(store.events["job-build"]) != 2 {
			t.Errorf("expected 2 archived events, got %d", len(store.events["job-build"]))
		}
		if len(bus.published) != 2 {
			t.Errorf("expected 2 published events, got %d", len(bus.published))
		}
		if bus.published[1].Payload["line"] != "compiling" {
			t.Error("payload not propagated to bus event")
		}
	})

	t.Run("空批次被拒绝", func(t *testing.T) {
		_, _, mux := setupHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-build/events", strings.NewReader(`{"events":[]}`))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("非法事件类型", func(t *testing.T) {
		_, _, mux := setupHandler(t)

		body := `{"events":[{"seq":1,"type":"job_exploded"}]}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-build/events", strings.NewReader(body))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})
}

func TestHandler_ListEvents(t *testing.T) {
	store, _, mux := setupHandler(t)
	for seq := 1; seq <= 5; seq++ {
		store.events["job-build"] = append(store.events["job-build"], &model.Event{
			JobID:     "job-build",
			Seq:       seq,
			Type:      model.EventTypeStepOutput,
			Timestamp: time.Now(),
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-build/events?from_seq=3", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Count != 3 {
		t.Errorf("expected 3 events from seq 3, got %d", resp.Count)
	}
}

func TestHandler_Cancel(t *testing.T) {
	t.Run("取消排队作业并跳过下游", func(t *testing.T) {
		store, _, mux := setupHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-build/cancel", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		if store.jobs["job-build"].Status != model.JobStatusCancelled {
			t.Errorf("expected job cancelled, got %s", store.jobs["job-build"].Status)
		}
		if store.jobs["job-tests"].Status != model.JobStatusSkipped {
			t.Errorf("expected dependent skipped, got %s", store.jobs["job-tests"].Status)
		}
	})

	t.Run("终止作业不可取消", func(t *testing.T) {
		store, _, mux := setupHandler(t)
		store.jobs["job-build"].Status = model.JobStatusSucceeded

		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-build/cancel", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", w.Code)
		}
	})
}

func TestHandler_ListByRun(t *testing.T) {
	_, _, mux := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/jobs", nil)
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
