// Package artifact 产物领域 - 上传、下载与保留清理
//
// 产物字节走对象存储（MinIO），元数据走数据库。
// 同一 Run 内产物名唯一，重复上传返回 409。
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/shared/storage"
)

// Handler 产物领域 HTTP 处理器
type Handler struct {
	store ArtifactPersistentStore
	blobs BlobStore
}

// ArtifactPersistentStore 产物处理器所需的持久化存储接口
type ArtifactPersistentStore interface {
	GetRun(ctx context.Context, id string) (*model.WorkflowRun, error)
	CreateArtifact(ctx context.Context, artifact *model.Artifact) error
	GetArtifact(ctx context.Context, runID, name string) (*model.Artifact, error)
	ListArtifactsByRun(ctx context.Context, runID string) ([]*model.Artifact, error)
	DeleteArtifact(ctx context.Context, runID, name string) error
}

// BlobStore 产物字节的对象存储接口
type BlobStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// NewHandler 创建产物处理器
func NewHandler(store ArtifactPersistentStore, blobs BlobStore) *Handler {
	return &Handler{store: store, blobs: blobs}
}

// RegisterRoutes 注册产物相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/runs/{id}/artifacts/{name}", h.Upload)
	mux.HandleFunc("GET /api/v1/runs/{id}/artifacts", h.List)
	mux.HandleFunc("GET /api/v1/runs/{id}/artifacts/{name}", h.Download)
	mux.HandleFunc("DELETE /api/v1/runs/{id}/artifacts/{name}", h.Delete)
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// Upload 处理 PUT /api/v1/runs/{id}/artifacts/{name}
//
// 请求体即产物字节，流式写入对象存储。可选 query 参数：
//   - retention_days：保留天数，缺省 90
//   - job_id：上传作业 ID
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "artifact name is required")
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	retentionDays := model.DefaultArtifactRetentionDays
	if v := r.URL.Query().Get("retention_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid retention_days")
			return
		}
		retentionDays = n
	}

	// 先占元数据行，借数据库唯一索引拒绝重名，避免写入孤儿对象
	now := time.Now()
	artifact := &model.Artifact{
		RunID:     runID,
		JobID:     r.URL.Query().Get("job_id"),
		Name:      name,
		Path:      model.ObjectKey(runID, name),
		ExpiresAt: now.AddDate(0, 0, retentionDays),
		CreatedAt: now,
	}
	if size := r.ContentLength; size >= 0 {
		artifact.Size = &size
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		artifact.ContentType = &ct
	}

	if err := h.store.CreateArtifact(r.Context(), artifact); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusConflict, fmt.Sprintf("artifact %s already exists in run %s", name, runID))
			return
		}
		log.Printf("[artifact.upload.failed] run_id=%s name=%s err=%v", runID, name, err)
		writeError(w, http.StatusInternalServerError, "failed to create artifact")
		return
	}

	size := int64(-1)
	if artifact.Size != nil {
		size = *artifact.Size
	}
	contentType := ""
	if artifact.ContentType != nil {
		contentType = *artifact.ContentType
	}
	if err := h.blobs.Upload(r.Context(), artifact.Path, r.Body, size, contentType); err != nil {
		// 回滚元数据行，保持数据库与对象存储一致
		if delErr := h.store.DeleteArtifact(r.Context(), runID, name); delErr != nil {
			log.Printf("[artifact.upload.rollback.failed] run_id=%s name=%s err=%v", runID, name, delErr)
		}
		log.Printf("[artifact.upload.failed] run_id=%s name=%s err=%v", runID, name, err)
		writeError(w, http.StatusInternalServerError, "failed to store artifact")
		return
	}

	log.Printf("[artifact.uploaded] run_id=%s name=%s size=%d", runID, name, size)
	writeJSON(w, http.StatusCreated, artifact)
}

// List 处理 GET /api/v1/runs/{id}/artifacts
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	artifacts, err := h.store.ListArtifactsByRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// Download 处理 GET /api/v1/runs/{id}/artifacts/{name}
//
// 响应体为产物字节流。
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	name := r.PathValue("name")

	artifact, err := h.store.GetArtifact(r.Context(), runID, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get artifact")
		return
	}
	if artifact == nil {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}

	reader, err := h.blobs.Download(r.Context(), artifact.Path)
	if err != nil {
		log.Printf("[artifact.download.failed] run_id=%s name=%s err=%v", runID, name, err)
		writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}
	defer reader.Close()

	contentType := "application/octet-stream"
	if artifact.ContentType != nil && *artifact.ContentType != "" {
		contentType = *artifact.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	if artifact.Size != nil {
		w.Header().Set("Content-Length", strconv.FormatInt(*artifact.Size, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, reader); err != nil {
		log.Printf("[artifact.download.aborted] run_id=%s name=%s err=%v", runID, name, err)
	}
}

// Delete 处理 DELETE /api/v1/runs/{id}/artifacts/{name}
//
// 先删对象再删元数据，对象已不存在时仍清理元数据行。
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	name := r.PathValue("name")

	artifact, err := h.store.GetArtifact(r.Context(), runID, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get artifact")
		return
	}
	if artifact == nil {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}

	if err := h.blobs.Delete(r.Context(), artifact.Path); err != nil {
		log.Printf("[artifact.delete.object.failed] run_id=%s name=%s err=%v", runID, name, err)
	}
	if err := h.store.DeleteArtifact(r.Context(), runID, name); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete artifact")
		return
	}

	log.Printf("[artifact.deleted] run_id=%s name=%s", runID, name)
	writeJSON(w, http.StatusOK, map[string]string{"message": "artifact deleted"})
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
