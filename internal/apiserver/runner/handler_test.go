package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pipelines-admin/internal/shared/model"
)

// mockStore 模拟存储层
type mockStore struct {
	runners map[string]*model.Runner
	jobs    map[string][]*model.JobRun
}

func newMockStore() *mockStore {
	return &mockStore{
		runners: make(map[string]*model.Runner),
		jobs:    make(map[string][]*model.JobRun),
	}
}

func (m *mockStore) UpsertRunner(ctx context.Context, runner *model.Runner) error {
	m.runners[runner.ID] = runner
	return nil
}

func (m *mockStore) UpsertRunnerHeartbeat(ctx context.Context, runner *model.Runner) error {
	if existing, ok := m.runners[runner.ID]; ok && existing.IsAdminStatus() {
		runner.Status = existing.Status
	}
	m.runners[runner.ID] = runner
	return nil
}

func (m *mockStore) GetRunner(ctx context.Context, id string) (*model.Runner, error) {
	return m.runners[id], nil
}

func (m *mockStore) ListAllRunners(ctx context.Context) ([]*model.Runner, error) {
	runners := make([]*model.Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	return runners, nil
}

func (m *mockStore) UpdateRunnerStatus(ctx context.Context, id string, status model.RunnerStatus) error {
	if r, ok := m.runners[id]; ok {
		r.Status = status
	}
	return nil
}

func (m *mockStore) DeleteRunner(ctx context.Context, id string) error {
	delete(m.runners, id)
	return nil
}

func (m *mockStore) ListJobsByRunner(ctx context.Context, runnerID string, statuses []model.JobStatus) ([]*model.JobRun, error) {
	return m.jobs[runnerID], nil
}

func TestHandler_Register(t *testing.T) {
	store := newMockStore()
	h := NewHandler(store, nil)

	tests := []struct {
		name       string
		body       map[string]interface{}
		wantStatus int
	}{
		{
			name:       "成功注册",
			body:       map[string]interface{}{"id": "runner-1", "hostname": "ci-01", "labels": map[string]string{"os": "linux"}},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "缺少 id",
			body:       map[string]interface{}{"hostname": "ci-01"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest("POST", "/api/v1/runners/register", bytes.NewReader(body))
			w := httptest.NewRecorder()

			h.Register(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}

	if r := store.runners["runner-1"]; r == nil || r.Status != model.RunnerStatusStarting {
		t.Errorf("expected registered runner in starting status, got %+v", store.runners["runner-1"])
	}
}

func TestHandler_Heartbeat(t *testing.T) {
	store := newMockStore()
	h := NewHandler(store, nil)

	tests := []struct {
		name       string
		body       map[string]interface{}
		wantStatus int
	}{
		{
			name:       "成功心跳",
			body:       map[string]interface{}{"runner_id": "runner-1", "status": "online"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "缺少 runner_id",
			body:       map[string]interface{}{"status": "online"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest("POST", "/api/v1/runners/heartbeat", bytes.NewReader(body))
			w := httptest.NewRecorder()

			h.Heartbeat(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestHandler_Heartbeat_CancelDirectives(t *testing.T) {
	store := newMockStore()
	store.jobs["runner-1"] = []*model.JobRun{{ID: "job-1"}}

	h := NewHandler(store, nil)

	// agent 上报 job-1 和 job-2 在执行，DB 中只有 job-1 活跃，job-2 应被取消
	body, _ := json.Marshal(map[string]interface{}{
		"runner_id":    "runner-1",
		"running_jobs": []string{"job-1", "job-2"},
	})
	req := httptest.NewRequest("POST", "/api/v1/runners/heartbeat", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.Heartbeat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp HeartbeatResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Directives == nil || len(resp.Directives.CancelJobs) != 1 || resp.Directives.CancelJobs[0] != "job-2" {
		t.Errorf("expected cancel directive for job-2, got %+v", resp.Directives)
	}
}

func TestHandler_List(t *testing.T) {
	store := newMockStore()
	now := time.Now()
	store.runners["runner-1"] = &model.Runner{
		ID:            "runner-1",
		Status:        model.RunnerStatusOnline,
		Labels:        []byte(`{"os":"linux"}`),
		Capacity:      []byte(`{"max_concurrent":4}`),
		LastHeartbeat: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	h := NewHandler(store, nil)

	req := httptest.NewRequest("GET", "/api/v1/runners", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["count"].(float64) != 1 {
		t.Errorf("expected count 1, got %v", resp["count"])
	}
}

func TestHandler_Get(t *testing.T) {
	store := newMockStore()
	now := time.Now()
	store.runners["runner-1"] = &model.Runner{
		ID:        "runner-1",
		Status:    model.RunnerStatusOnline,
		CreatedAt: now,
		UpdatedAt: now,
	}

	h := NewHandler(store, nil)

	tests := []struct {
		name       string
		runnerID   string
		wantStatus int
	}{
		{
			name:       "节点存在",
			runnerID:   "runner-1",
			wantStatus: http.StatusOK,
		},
		{
			name:       "节点不存在",
			runnerID:   "runner-999",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/runners/"+tt.runnerID, nil)
			req.SetPathValue("id", tt.runnerID)
			w := httptest.NewRecorder()

			h.Get(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestHandler_Delete(t *testing.T) {
	store := newMockStore()
	now := time.Now()
	store.runners["runner-1"] = &model.Runner{
		ID:        "runner-1",
		Status:    model.RunnerStatusOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	store.runners["runner-2"] = &model.Runner{
		ID:        "runner-2",
		Status:    model.RunnerStatusOnline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	store.jobs["runner-2"] = []*model.JobRun{{ID: "job-1"}}

	h := NewHandler(store, nil)

	tests := []struct {
		name       string
		runnerID   string
		wantStatus int
	}{
		{
			name:       "成功删除",
			runnerID:   "runner-1",
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "节点不存在",
			runnerID:   "runner-999",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "节点有活跃作业",
			runnerID:   "runner-2",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("DELETE", "/api/v1/runners/"+tt.runnerID, nil)
			req.SetPathValue("id", tt.runnerID)
			w := httptest.NewRecorder()

			h.Delete(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestHandler_Update(t *testing.T) {
	store := newMockStore()
	now := time.Now()
	store.runners["runner-1"] = &model.Runner{
		ID:        "runner-1",
		Status:    model.RunnerStatusOnline,
		Labels:    []byte(`{}`),
		CreatedAt: now,
		UpdatedAt: now,
	}

	h := NewHandler(store, nil)

	tests := []struct {
		name       string
		runnerID   string
		body       map[string]interface{}
		wantStatus int
	}{
		{
			name:       "成功更新状态",
			runnerID:   "runner-1",
			body:       map[string]interface{}{"status": "draining"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "非法状态",
			runnerID:   "runner-1",
			body:       map[string]interface{}{"status": "busy"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "节点不存在",
			runnerID:   "runner-999",
			body:       map[string]interface{}{"status": "draining"},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest("PATCH", "/api/v1/runners/"+tt.runnerID, bytes.NewReader(body))
			req.SetPathValue("id", tt.runnerID)
			w := httptest.NewRecorder()

			h.Update(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestIsHeartbeatFresh(t *testing.T) {
	fresh := time.Now().Add(-10 * time.Second)
	stale := time.Now().Add(-2 * time.Minute)

	tests := []struct {
		name string
		hb   *time.Time
		want bool
	}{
		{"新鲜心跳", &fresh, true},
		{"过期心跳", &stale, false},
		{"从未心跳", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHeartbeatFresh(tt.hb, HeartbeatFreshWindow); got != tt.want {
				t.Errorf("IsHeartbeatFresh() = %v, want %v", got, tt.want)
			}
		})
	}
}
