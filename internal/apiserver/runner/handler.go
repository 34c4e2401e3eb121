// Package runner 执行节点领域 - HTTP 处理
package runner

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"pipelines-admin/internal/shared/cache"
	"pipelines-admin/internal/shared/model"
)

// Handler 节点领域 HTTP 处理器
type Handler struct {
	store RunnerPersistentStore
	cache cache.RunnerHeartbeatCache
}

// RunnerPersistentStore 节点处理器所需的持久化存储接口
type RunnerPersistentStore interface {
	UpsertRunner(ctx context.Context, runner *model.Runner) error
	UpsertRunnerHeartbeat(ctx context.Context, runner *model.Runner) error // 心跳专用，不覆盖 status
	GetRunner(ctx context.Context, id string) (*model.Runner, error)
	ListAllRunners(ctx context.Context) ([]*model.Runner, error)
	UpdateRunnerStatus(ctx context.Context, id string, status model.RunnerStatus) error
	DeleteRunner(ctx context.Context, id string) error
	ListJobsByRunner(ctx context.Context, runnerID string, statuses []model.JobStatus) ([]*model.JobRun, error)
}

// NewHandler 创建节点处理器
func NewHandler(store RunnerPersistentStore, hbCache cache.RunnerHeartbeatCache) *Handler {
	return &Handler{store: store, cache: hbCache}
}

// RegisterRoutes 注册节点相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/runners", h.List)
	mux.HandleFunc("GET /api/v1/runners/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/runners/{id}", h.Delete)
	mux.HandleFunc("PATCH /api/v1/runners/{id}", h.Update)
	mux.HandleFunc("POST /api/v1/runners/register", h.Register)
	mux.HandleFunc("POST /api/v1/runners/heartbeat", h.Heartbeat)
	mux.HandleFunc("GET /api/v1/runners/{id}/jobs", h.GetJobs)
}

// ============================================================================
// 请求/响应结构
// ============================================================================

// RegisterRequest 节点注册请求体
type RegisterRequest struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name,omitempty"`
	Hostname    string            `json:"hostname,omitempty"`
	IPs         string            `json:"ips,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Capacity    map[string]any    `json:"capacity,omitempty"`
}

// HeartbeatRequest 节点心跳请求体
type HeartbeatRequest struct {
	RunnerID    string            `json:"runner_id"`
	Status      *string           `json:"status,omitempty"`
	Hostname    string            `json:"hostname,omitempty"`
	IPs         string            `json:"ips,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Capacity    map[string]any    `json:"capacity,omitempty"`
	ActiveJobs  int               `json:"active_jobs"`
	RunningJobs []string          `json:"running_jobs,omitempty"` // agent 当前正在执行的 Job ID 列表
}

// HeartbeatResponse 心跳响应（携带控制指令）
type HeartbeatResponse struct {
	Status     string               `json:"status"`
	Directives *HeartbeatDirectives `json:"directives,omitempty"`
}

// HeartbeatDirectives 心跳响应中的控制指令
type HeartbeatDirectives struct {
	CancelJobs []string `json:"cancel_jobs,omitempty"` // 需要取消的 Job ID 列表
}

// UpdateRequest 更新节点的请求体
type UpdateRequest struct {
	Status      *string            `json:"status,omitempty"`
	Labels      *map[string]string `json:"labels,omitempty"`
	DisplayName *string            `json:"display_name,omitempty"`
}

// Response 节点响应结构
type Response struct {
	ID            string            `json:"id"`
	DisplayName   string            `json:"display_name,omitempty"`
	Status        string            `json:"status"`
	Hostname      string            `json:"hostname,omitempty"`
	IPs           string            `json:"ips,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	Capacity      map[string]any    `json:"capacity,omitempty"`
	LastHeartbeat *time.Time        `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// Register 节点注册
// POST /api/v1/runners/register
//
// agent 启动时调用，初始状态为 starting，首次心跳后转为 online
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	now := time.Now()
	labels, _ := json.Marshal(req.Labels)
	capacity, _ := json.Marshal(req.Capacity)
	if req.Labels == nil {
		labels = []byte("{}")
	}
	if req.Capacity == nil {
		capacity = []byte("{}")
	}

	runner := &model.Runner{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Status:      model.RunnerStatusStarting,
		Hostname:    req.Hostname,
		IPs:         req.IPs,
		Labels:      labels,
		Capacity:    capacity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.UpsertRunner(r.Context(), runner); err != nil {
		log.Printf("[runner.register] ERROR: failed to upsert runner: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to register runner")
		return
	}

	log.Printf("[runner.register] Registered runner=%s hostname=%s", req.ID, req.Hostname)
	writeJSON(w, http.StatusCreated, h.buildRunnerResponse(r.Context(), runner))
}

// Heartbeat 处理节点心跳
// POST /api/v1/runners/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[runner.heartbeat] ERROR: invalid request body: %v", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.RunnerID == "" {
		log.Printf("[runner.heartbeat] ERROR: runner_id is required")
		writeError(w, http.StatusBadRequest, "runner_id is required")
		return
	}

	now := time.Now()

	labels := []byte("{}")
	capacity := []byte("{}")
	if req.Labels != nil {
		labels, _ = json.Marshal(req.Labels)
	}
	if req.Capacity != nil {
		capacity, _ = json.Marshal(req.Capacity)
	}

	status := string(model.RunnerStatusOnline)
	if req.Status != nil {
		status = *req.Status
	}

	// 1. 先写数据库（持久化优先，使用心跳专用 upsert 不覆盖行政状态）
	runner := &model.Runner{
		ID:            req.RunnerID,
		Status:        model.RunnerStatus(status),
		Hostname:      req.Hostname,
		IPs:           req.IPs,
		Labels:        labels,
		Capacity:      capacity,
		LastHeartbeat: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.store.UpsertRunnerHeartbeat(r.Context(), runner); err != nil {
		log.Printf("[runner.heartbeat] ERROR: failed to update runner: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update runner")
		return
	}

	// 2. 写心跳缓存（带 TTL，缓存失败只记日志）
	if h.cache != nil {
		maxConcurrent := runner.MaxConcurrent()
		hb := &cache.RunnerStatus{
			Status:     status,
			ActiveJobs: req.ActiveJobs,
			Capacity:   maxConcurrent,
			UpdatedAt:  now,
		}
		if err := h.cache.UpdateRunnerHeartbeat(r.Context(), req.RunnerID, hb); err != nil {
			log.Printf("[runner.heartbeat] WARNING: failed to update heartbeat cache: %v", err)
		}
	}

	// 3. 构建控制指令（声明式状态协调）
	resp := HeartbeatResponse{Status: "ok"}

	if len(req.RunningJobs) > 0 {
		cancelJobs := h.computeCancelDirectives(r.Context(), req.RunnerID, req.RunningJobs)
		if len(cancelJobs) > 0 {
			resp.Directives = &HeartbeatDirectives{CancelJobs: cancelJobs}
			log.Printf("[runner.heartbeat] Directives for runner=%s: cancel_jobs=%v", req.RunnerID, cancelJobs)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// computeCancelDirectives 计算取消指令：
// agent 上报 running_jobs，API Server 用 ListJobsByRunner 获取 DB 中仍活跃的 jobs，
// 差集即为需要取消的 jobs（已被用户/系统取消但 agent 还不知道）。
func (h *Handler) computeCancelDirectives(ctx context.Context, runnerID string, runningJobs []string) []string {
	activeJobs, err := h.store.ListJobsByRunner(ctx, runnerID, nil)
	if err != nil {
		log.Printf("[runner.heartbeat] WARNING: failed to list active jobs for cancel check: %v", err)
		return nil
	}

	activeSet := make(map[string]bool, len(activeJobs))
	for _, j := range activeJobs {
		activeSet[j.ID] = true
	}

	var cancelJobs []string
	for _, jobID := range runningJobs {
		if !activeSet[jobID] {
			cancelJobs = append(cancelJobs, jobID)
		}
	}
	return cancelJobs
}

// List 列出所有节点
// GET /api/v1/runners
//
// 状态判断优先级：
//  1. 缓存可用且有心跳 → online
//  2. 缓存不可用或无心跳 → 按 DB 的 last_heartbeat 时间窗口（45s）判断
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	runners, err := h.store.ListAllRunners(r.Context())
	if err != nil {
		log.Printf("[runner] ERROR: failed to list runners: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runners")
		return
	}

	result := make([]Response, 0, len(runners))
	for _, rn := range runners {
		result = append(result, h.buildRunnerResponse(r.Context(), rn))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"runners": result, "count": len(result)})
}

// Get 获取单个节点
// GET /api/v1/runners/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rn, err := h.store.GetRunner(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get runner")
		return
	}
	if rn == nil {
		writeError(w, http.StatusNotFound, "runner not found")
		return
	}
	writeJSON(w, http.StatusOK, h.buildRunnerResponse(r.Context(), rn))
}

// GetJobs 获取分配给节点的作业
// GET /api/v1/runners/{id}/jobs
func (h *Handler) GetJobs(w http.ResponseWriter, r *http.Request) {
	runnerID := r.PathValue("id")
	jobs, err := h.store.ListJobsByRunner(r.Context(), runnerID, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// Update 更新节点信息
// PATCH /api/v1/runners/{id}
//
// 管理员通过这里设置 draining/terminated 等行政状态
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	runner, err := h.store.GetRunner(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get runner")
		return
	}
	if runner == nil {
		writeError(w, http.StatusNotFound, "runner not found")
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Status != nil {
		if !isValidRunnerStatus(*req.Status) {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		runner.Status = model.RunnerStatus(*req.Status)
	}
	if req.Labels != nil {
		labels, _ := json.Marshal(*req.Labels)
		runner.Labels = labels
	}
	if req.DisplayName != nil {
		runner.DisplayName = *req.DisplayName
	}
	runner.UpdatedAt = time.Now()

	if err := h.store.UpsertRunner(r.Context(), runner); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update runner")
		return
	}

	writeJSON(w, http.StatusOK, h.buildRunnerResponse(r.Context(), runner))
}

// Delete 删除节点
// DELETE /api/v1/runners/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	runner, err := h.store.GetRunner(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get runner")
		return
	}
	if runner == nil {
		writeError(w, http.StatusNotFound, "runner not found")
		return
	}

	jobs, err := h.store.ListJobsByRunner(r.Context(), id, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check runner jobs")
		return
	}
	if len(jobs) > 0 {
		writeError(w, http.StatusBadRequest, "runner has active jobs, please drain first")
		return
	}

	if err := h.store.DeleteRunner(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete runner")
		return
	}

	if h.cache != nil {
		if err := h.cache.DeleteRunnerHeartbeat(r.Context(), id); err != nil {
			log.Printf("[runner] WARNING: failed to delete heartbeat cache: %v", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// 工具函数
// ============================================================================

// buildRunnerResponse 构建节点响应，合并缓存心跳得出实际状态
func (h *Handler) buildRunnerResponse(ctx context.Context, rn *model.Runner) Response {
	var labels map[string]string
	json.Unmarshal(rn.Labels, &labels)
	var capacity map[string]any
	json.Unmarshal(rn.Capacity, &capacity)

	status := ResolveRunnerStatus(ctx, h.cache, rn)

	return Response{
		ID:            rn.ID,
		DisplayName:   rn.DisplayName,
		Status:        string(status),
		Hostname:      rn.Hostname,
		IPs:           rn.IPs,
		Labels:        labels,
		Capacity:      capacity,
		LastHeartbeat: rn.LastHeartbeat,
		CreatedAt:     rn.CreatedAt,
		UpdatedAt:     rn.UpdatedAt,
	}
}

func isValidRunnerStatus(s string) bool {
	switch model.RunnerStatus(s) {
	case model.RunnerStatusStarting, model.RunnerStatusOnline, model.RunnerStatusDraining,
		model.RunnerStatusOffline, model.RunnerStatusTerminated, model.RunnerStatusUnknown:
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
