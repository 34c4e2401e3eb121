// Package job 作业实例领域 - 状态上报、事件归档与查询
//
// 作业的状态迁移由 Runner 通过 PATCH 上报，控制面据此驱动
// 编排器做 DAG 推进（解锁依赖、跳过下游、收敛 Run 状态）。
// 事件批量 POST 后双写：归档到 EventStore，发布到事件总线。
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"pipelines-admin/internal/apiserver/orchestrator"
	"pipelines-admin/internal/shared/eventbus"
	"pipelines-admin/internal/shared/model"
)

// defaultEventLimit 事件查询默认分页大小
const defaultEventLimit = 200

// maxEventBatch 单次事件上报的最大条数
const maxEventBatch = 500

// Handler 作业实例 HTTP 处理器
type Handler struct {
	store        JobPersistentStore
	orchestrator *orchestrator.Orchestrator
	bus          eventbus.JobEventBus // 可为 nil，只归档不实时分发
}

// JobPersistentStore 作业处理器所需的持久化存储接口
type JobPersistentStore interface {
	GetJob(ctx context.Context, id string) (*model.JobRun, error)
	ListJobsByRun(ctx context.Context, runID string) ([]*model.JobRun, error)
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, runnerID *string) error
	UpdateJobResult(ctx context.Context, id string, status model.JobStatus, exitCode *int, errMsg *string) error
	CreateEvents(ctx context.Context, events []*model.Event) error
	GetEventsByJob(ctx context.Context, jobID string, fromSeq int, limit int) ([]*model.Event, error)
}

// NewHandler 创建作业处理器
func NewHandler(store JobPersistentStore, orch *orchestrator.Orchestrator, bus eventbus.JobEventBus) *Handler {
	return &Handler{store: store, orchestrator: orch, bus: bus}
}

// RegisterRoutes 注册作业相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/runs/{id}/jobs", h.ListByRun)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.Get)
	mux.HandleFunc("PATCH /api/v1/jobs/{id}/status", h.UpdateStatus)
	mux.HandleFunc("GET /api/v1/jobs/{id}/events", h.ListEvents)
	mux.HandleFunc("POST /api/v1/jobs/{id}/events", h.ReportEvents)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", h.Cancel)
}

// ============================================================================
// 请求/响应结构
// ============================================================================

// StatusRequest 作业状态上报请求体
type StatusRequest struct {
	Status   string  `json:"status"`
	ExitCode *int    `json:"exit_code,omitempty"`
	Error    *string `json:"error,omitempty"`
}

// ReportedEvent 上报的单条事件
type ReportedEvent struct {
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventsRequest 事件批量上报请求体
type EventsRequest struct {
	Events []ReportedEvent `json:"events"`
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// ListByRun 处理 GET /api/v1/runs/{id}/jobs
func (h *Handler) ListByRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	jobs, err := h.store.ListJobsByRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// Get 处理 GET /api/v1/jobs/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// UpdateStatus 处理 PATCH /api/v1/jobs/{id}/status
//
// Runner 上报作业状态迁移：
//   - running：作业开始执行，Run 从 pending 进入 running
//   - succeeded/failed/timeout/cancelled：作业结束，记录 exit_code
//     和错误信息，然后驱动编排器推进 DAG
//
// 已终止的作业拒绝再迁移（重复上报幂等处理，返回 409）。
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.IsTerminal() {
		writeError(w, http.StatusConflict, "job already finished with status "+string(job.Status))
		return
	}

	status := model.JobStatus(req.Status)
	switch status {
	case model.JobStatusRunning:
		if err := h.store.UpdateJobStatus(r.Context(), id, status, nil); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update job status")
			return
		}
		if err := h.orchestrator.OnJobStarted(r.Context(), job.RunID); err != nil {
			log.Printf("[job.started.orchestrate.failed] job_id=%s run_id=%s err=%v", id, job.RunID, err)
		}

	case model.JobStatusSucceeded, model.JobStatusFailed, model.JobStatusTimeout, model.JobStatusCancelled:
		if err := h.store.UpdateJobResult(r.Context(), id, status, req.ExitCode, req.Error); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update job result")
			return
		}
		if err := h.orchestrator.OnJobCompleted(r.Context(), id); err != nil {
			log.Printf("[job.completed.orchestrate.failed] job_id=%s err=%v", id, err)
		}

	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status transition to %q", req.Status))
		return
	}

	log.Printf("[job.status.updated] job_id=%s status=%s", id, status)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

// ListEvents 处理 GET /api/v1/jobs/{id}/events
//
// 从归档读取事件，query 参数 from_seq 和 limit 控制回放区间。
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	fromSeq := 0
	if v := r.URL.Query().Get("from_seq"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid from_seq")
			return
		}
		fromSeq = n
	}
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := h.store.GetEventsByJob(r.Context(), id, fromSeq, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// ReportEvents 处理 POST /api/v1/jobs/{id}/events
//
// Runner 批量上报事件。先归档到数据库再发布到事件总线，
// 总线发布失败只记日志，归档是权威记录。
func (h *Handler) ReportEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req EventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events is required")
		return
	}
	if len(req.Events) > maxEventBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many events in one batch (max %d)", maxEventBatch))
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	events := make([]*model.Event, 0, len(req.Events))
	for i, e := range req.Events {
		if !isValidEventType(e.Type) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d has invalid type %q", i, e.Type))
			return
		}
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		events = append(events, &model.Event{
			JobID:     id,
			Seq:       e.Seq,
			Type:      model.EventType(e.Type),
			Payload:   e.Payload,
			Timestamp: ts,
		})
	}

	if err := h.store.CreateEvents(r.Context(), events); err != nil {
		log.Printf("[job.events.archive.failed] job_id=%s count=%d err=%v", id, len(events), err)
		writeError(w, http.StatusInternalServerError, "failed to archive events")
		return
	}

	if h.bus != nil {
		for _, e := range events {
			busEvent := &eventbus.JobEvent{
				JobID:     e.JobID,
				Seq:       e.Seq,
				Type:      string(e.Type),
				Timestamp: e.Timestamp,
			}
			if len(e.Payload) > 0 {
				if err := json.Unmarshal(e.Payload, &busEvent.Payload); err != nil {
					log.Printf("[job.events.payload.invalid] job_id=%s seq=%d err=%v", id, e.Seq, err)
				}
			}
			if err := h.bus.PublishJobEvent(r.Context(), id, busEvent); err != nil {
				log.Printf("[job.events.publish.failed] job_id=%s seq=%d err=%v", id, e.Seq, err)
			}
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": len(events)})
}

// Cancel 处理 POST /api/v1/jobs/{id}/cancel
//
// 取消单个作业。未分配的作业直接标记 cancelled 并推进 DAG，
// 执行中的作业由节点在下一次心跳时收到取消指令。
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.IsTerminal() {
		writeError(w, http.StatusConflict, "job already finished with status "+string(job.Status))
		return
	}

	if err := h.store.UpdateJobStatus(r.Context(), id, model.JobStatusCancelled, nil); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if err := h.orchestrator.OnJobCompleted(r.Context(), id); err != nil {
		log.Printf("[job.cancel.orchestrate.failed] job_id=%s err=%v", id, err)
	}

	log.Printf("[job.cancelled] job_id=%s", id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(model.JobStatusCancelled)})
}

// ============================================================================
// 工具函数
// ============================================================================

func isValidEventType(t string) bool {
	switch model.EventType(t) {
	case model.EventTypeJobStarted, model.EventTypeJobCompleted, model.EventTypeJobFailed,
		model.EventTypeJobTimeout, model.EventTypeJobCancelled,
		model.EventTypeStepStarted, model.EventTypeStepCompleted, model.EventTypeStepOutput:
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
