// Package run 执行实例领域 - 触发、查询、取消与重跑
//
// 触发事件进入控制面的两条路：
//   - POST /api/v1/events：外部事件（push/pull_request），与所有 active 工作流匹配
//   - POST /api/v1/workflows/{id}/dispatch：手动触发指定工作流
//
// 编排逻辑在 orchestrator 包，这里只做 HTTP 适配。
package run

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"pipelines-admin/internal/apiserver/orchestrator"
	"pipelines-admin/internal/shared/cache"
	"pipelines-admin/internal/shared/model"
)

// defaultListLimit Run 列表默认分页大小
const defaultListLimit = 50

// Handler 执行实例 HTTP 处理器
type Handler struct {
	store        RunPersistentStore
	orchestrator *orchestrator.Orchestrator
	stateCache   cache.RunStateCache // 可为 nil，进度退化为 DB 聚合
}

// RunPersistentStore 执行实例处理器所需的持久化存储接口
type RunPersistentStore interface {
	GetRun(ctx context.Context, id string) (*model.WorkflowRun, error)
	ListRuns(ctx context.Context, workflowID string, status string, limit, offset int) ([]*model.WorkflowRun, error)
	ListJobsByRun(ctx context.Context, runID string) ([]*model.JobRun, error)
	DeleteRun(ctx context.Context, id string) error
}

// NewHandler 创建执行实例处理器
func NewHandler(store RunPersistentStore, orch *orchestrator.Orchestrator, stateCache cache.RunStateCache) *Handler {
	return &Handler{store: store, orchestrator: orch, stateCache: stateCache}
}

// RegisterRoutes 注册执行实例相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/events", h.HandleEvent)
	mux.HandleFunc("POST /api/v1/workflows/{id}/dispatch", h.Dispatch)
	mux.HandleFunc("GET /api/v1/runs", h.List)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/v1/runs/{id}/rerun", h.Rerun)
}

// ============================================================================
// 请求/响应结构
// ============================================================================

// DispatchRequest 手动触发的请求体
type DispatchRequest struct {
	Ref    string            `json:"ref,omitempty"`
	Inputs map[string]string `json:"inputs,omitempty"`
	Sender string            `json:"sender,omitempty"`
}

// RunDetail Run 详情响应（含作业与进度）
type RunDetail struct {
	Run      *model.WorkflowRun `json:"run"`
	Jobs     []*model.JobRun    `json:"jobs"`
	Progress *cache.RunState    `json:"progress,omitempty"`
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// HandleEvent 处理 POST /api/v1/events
//
// 接收外部触发事件（push/pull_request/schedule），与所有 active
// 工作流匹配，为每个命中的工作流创建一个 Run。
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var event model.TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch event.Type {
	case model.TriggerPush, model.TriggerPullRequest, model.TriggerSchedule:
	case model.TriggerManual:
		writeError(w, http.StatusBadRequest, "manual trigger goes through /workflows/{id}/dispatch")
		return
	default:
		writeError(w, http.StatusBadRequest, "invalid event type")
		return
	}

	runs, err := h.orchestrator.HandleTriggerEvent(r.Context(), &event)
	if err != nil {
		log.Printf("[run.event.failed] type=%s err=%v", event.Type, err)
		writeError(w, http.StatusInternalServerError, "failed to handle event")
		return
	}

	runIDs := make([]string, 0, len(runs))
	for _, run := range runs {
		runIDs = append(runIDs, run.ID)
	}

	log.Printf("[run.event.handled] type=%s ref=%s runs=%d", event.Type, event.Ref, len(runs))
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_ids": runIDs,
		"count":   len(runIDs),
	})
}

// Dispatch 处理 POST /api/v1/workflows/{id}/dispatch
//
// 手动触发指定工作流，要求其 on: 声明了 manual。
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	var req DispatchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	event := &model.TriggerEvent{
		Type:    model.TriggerManual,
		Ref:     req.Ref,
		Sender:  req.Sender,
		Payload: req.Inputs,
	}

	run, err := h.orchestrator.Dispatch(r.Context(), workflowID, event)
	if err != nil {
		log.Printf("[run.dispatch.failed] workflow_id=%s err=%v", workflowID, err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("[run.dispatched] workflow_id=%s run_id=%s", workflowID, run.ID)
	writeJSON(w, http.StatusCreated, run)
}

// List 处理 GET /api/v1/runs
//
// 可选 query 参数：workflow_id、status、limit、offset。
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	runs, err := h.store.ListRuns(r.Context(), q.Get("workflow_id"), q.Get("status"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// Get 处理 GET /api/v1/runs/{id}
//
// 返回 Run、作业列表和缓存中的进度快照（缓存未命中时省略）。
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	jobs, err := h.store.ListJobsByRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	detail := &RunDetail{Run: run, Jobs: jobs}
	if h.stateCache != nil {
		if state, err := h.stateCache.GetRunState(r.Context(), id); err == nil && state != nil {
			detail.Progress = state
		}
	}

	writeJSON(w, http.StatusOK, detail)
}

// Cancel 处理 POST /api/v1/runs/{id}/cancel
//
// 标记 Run 和未终止作业为 cancelled。正在执行的作业由
// 节点在下一次心跳响应里收到取消指令。
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if !run.CanCancel() {
		writeError(w, http.StatusConflict, "run is not cancellable in status "+string(run.Status))
		return
	}

	if err := h.orchestrator.CancelRun(r.Context(), id); err != nil {
		log.Printf("[run.cancel.failed] run_id=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}

	log.Printf("[run.cancelled] run_id=%s", id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(model.RunStatusCancelled)})
}

// Rerun 处理 POST /api/v1/runs/{id}/rerun
//
// 基于原 Run 的定义快照创建新 Run，不受工作流后续修改影响。
func (h *Handler) Rerun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if !run.CanRerun() {
		writeError(w, http.StatusConflict, "only failed or cancelled runs can be rerun")
		return
	}

	newRun, err := h.orchestrator.Rerun(r.Context(), id)
	if err != nil {
		log.Printf("[run.rerun.failed] run_id=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to rerun")
		return
	}

	log.Printf("[run.rerun] run_id=%s new_run_id=%s", id, newRun.ID)
	writeJSON(w, http.StatusCreated, newRun)
}

// Delete 处理 DELETE /api/v1/runs/{id}
//
// 只允许删除已终止的 Run。
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if !run.IsTerminal() {
		writeError(w, http.StatusConflict, "cannot delete a run in progress")
		return
	}

	if err := h.store.DeleteRun(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete run")
		return
	}

	if h.stateCache != nil {
		if err := h.stateCache.DeleteRunState(r.Context(), id); err != nil {
			log.Printf("[run.delete.cache.failed] run_id=%s err=%v", id, err)
		}
	}

	log.Printf("[run.deleted] run_id=%s", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "run deleted"})
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
