// Package workflow 工作流定义领域 - 注册、查询与启停
//
// 定义以原始 YAML 存储，注册和更新时解析校验一次。
// 解析和 DAG 校验逻辑在 internal/workflow 包。
package workflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/shared/storage"
	workflowdef "pipelines-admin/internal/workflow"
)

// Handler 工作流定义 HTTP 处理器
type Handler struct {
	store WorkflowPersistentStore
}

// WorkflowPersistentStore 工作流处理器所需的持久化存储接口
type WorkflowPersistentStore interface {
	CreateWorkflow(ctx context.Context, wf *model.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	GetWorkflowByName(ctx context.Context, name string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context, status string) ([]*model.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *model.Workflow) error
	UpdateWorkflowStatus(ctx context.Context, id string, status model.WorkflowStatus) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// NewHandler 创建工作流处理器
func NewHandler(store WorkflowPersistentStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册工作流相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/workflows", h.Register)
	mux.HandleFunc("GET /api/v1/workflows", h.List)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/workflows/{id}", h.Update)
	mux.HandleFunc("PATCH /api/v1/workflows/{id}", h.Patch)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", h.Delete)
}

// ============================================================================
// 请求/响应结构
// ============================================================================

// RegisterRequest 注册工作流的请求体
type RegisterRequest struct {
	Source string `json:"source"` // 原始 YAML 定义
}

// UpdateRequest 更新工作流定义的请求体
type UpdateRequest struct {
	Source string `json:"source"`
}

// PatchRequest 变更工作流状态的请求体
type PatchRequest struct {
	Status *string `json:"status,omitempty"` // active | disabled
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// Register 处理 POST /api/v1/workflows
//
// 解析并校验 YAML 定义后入库，名称取定义中的 name 字段。
// 名称重复返回 409。
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	def, err := workflowdef.Parse([]byte(req.Source))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid workflow definition: %v", err))
		return
	}

	now := time.Now()
	wf := &model.Workflow{
		ID:        generateID("wf"),
		Name:      def.Name,
		Status:    model.WorkflowStatusActive,
		Source:    req.Source,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateWorkflow(r.Context(), wf); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusConflict, fmt.Sprintf("workflow %s already exists", def.Name))
			return
		}
		log.Printf("[workflow.register.failed] name=%s err=%v", def.Name, err)
		writeError(w, http.StatusInternalServerError, "failed to create workflow")
		return
	}

	log.Printf("[workflow.registered] id=%s name=%s jobs=%d", wf.ID, wf.Name, len(def.Jobs))
	writeJSON(w, http.StatusCreated, wf)
}

// List 处理 GET /api/v1/workflows
//
// 可选 query 参数 status 过滤（active | disabled）。
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	workflows, err := h.store.ListWorkflows(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

// Get 处理 GET /api/v1/workflows/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	wf, err := h.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get workflow")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	writeJSON(w, http.StatusOK, wf)
}

// Update 处理 PUT /api/v1/workflows/{id}
//
// 替换 YAML 定义并将修订号 +1。已创建的 Run 持有定义快照，不受影响。
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	wf, err := h.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get workflow")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	def, err := workflowdef.Parse([]byte(req.Source))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid workflow definition: %v", err))
		return
	}
	if def.Name != wf.Name {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("workflow name cannot change: %s -> %s", wf.Name, def.Name))
		return
	}

	wf.Source = req.Source
	wf.Revision++
	wf.UpdatedAt = time.Now()

	if err := h.store.UpdateWorkflow(r.Context(), wf); err != nil {
		log.Printf("[workflow.update.failed] id=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to update workflow")
		return
	}

	log.Printf("[workflow.updated] id=%s name=%s revision=%d", wf.ID, wf.Name, wf.Revision)
	writeJSON(w, http.StatusOK, wf)
}

// Patch 处理 PATCH /api/v1/workflows/{id}
//
// 当前只支持 status 字段（启用/禁用）。
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req PatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == nil {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	status := model.WorkflowStatus(*req.Status)
	if status != model.WorkflowStatusActive && status != model.WorkflowStatusDisabled {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status: %s", *req.Status))
		return
	}

	wf, err := h.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get workflow")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	if err := h.store.UpdateWorkflowStatus(r.Context(), id, status); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update workflow status")
		return
	}

	log.Printf("[workflow.status.updated] id=%s status=%s", id, status)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

// Delete 处理 DELETE /api/v1/workflows/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	wf, err := h.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get workflow")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	if err := h.store.DeleteWorkflow(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete workflow")
		return
	}

	log.Printf("[workflow.deleted] id=%s name=%s", id, wf.Name)
	writeJSON(w, http.StatusOK, map[string]string{"message": "workflow deleted"})
}

// ============================================================================
// 工具函数
// ============================================================================

// generateID 生成带前缀的短随机 ID，如 wf-a1b2c3
func generateID(prefix string) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return prefix + "-" + hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
