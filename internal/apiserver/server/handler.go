// 路由配置
//
// 本文件定义 HTTP API 路由，将请求分发到各领域独立包。
// 仍保留在本包的模块：
//   - websocket.go: WebSocket 事件网关
//   - metrics.go: Prometheus 指标
//   - openapi.go: OpenAPI 文档与请求校验
package server

import (
	"net/http"

	"pipelines-admin/internal/apiserver/artifact"
	"pipelines-admin/internal/apiserver/auth"
	"pipelines-admin/internal/apiserver/job"
	"pipelines-admin/internal/apiserver/run"
	"pipelines-admin/internal/apiserver/runner"
	"pipelines-admin/internal/apiserver/workflow"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health - 服务健康检查
//
// 工作流管理 (Workflow):
//   - POST   /api/v1/workflows          - 注册工作流
//   - GET    /api/v1/workflows          - 列出工作流
//   - GET    /api/v1/workflows/{id}     - 获取工作流详情
//   - PUT    /api/v1/workflows/{id}     - 更新工作流定义
//   - PATCH  /api/v1/workflows/{id}     - 启用/禁用工作流
//   - DELETE /api/v1/workflows/{id}     - 删除工作流
//
// 触发与执行 (Run):
//   - POST   /api/v1/events                    - 外部触发事件入口
//   - POST   /api/v1/workflows/{id}/dispatch   - 手动触发
//   - GET    /api/v1/runs                      - 列出执行实例
//   - GET    /api/v1/runs/{id}                 - 获取执行详情（含作业）
//   - POST   /api/v1/runs/{id}/cancel          - 取消执行
//   - POST   /api/v1/runs/{id}/rerun           - 重跑执行
//   - DELETE /api/v1/runs/{id}                 - 删除已终止的执行
//
// 作业 (Job):
//   - GET    /api/v1/runs/{id}/jobs     - 列出执行实例的作业
//   - GET    /api/v1/jobs/{id}          - 获取作业详情
//   - PATCH  /api/v1/jobs/{id}/status   - 节点上报作业状态
//   - GET    /api/v1/jobs/{id}/events   - 查询归档事件
//   - POST   /api/v1/jobs/{id}/events   - 节点批量上报事件
//   - POST   /api/v1/jobs/{id}/cancel   - 取消单个作业
//
// 节点管理 (Runner):
//   - POST   /api/v1/runners/register   - 节点注册
//   - POST   /api/v1/runners/heartbeat  - 节点心跳
//   - GET    /api/v1/runners            - 列出节点
//   - GET    /api/v1/runners/{id}       - 获取节点详情
//   - DELETE /api/v1/runners/{id}       - 删除节点
//   - GET    /api/v1/runners/{id}/jobs  - 获取节点的作业
//
// 产物 (Artifact，仅当对象存储可用时注册):
//   - PUT    /api/v1/runs/{id}/artifacts/{name} - 上传产物
//   - GET    /api/v1/runs/{id}/artifacts/{name} - 下载产物
//   - GET    /api/v1/runs/{id}/artifacts        - 列出产物
//   - DELETE /api/v1/runs/{id}/artifacts/{name} - 删除产物
//
// WebSocket:
//   - GET    /ws/jobs/{id}/events       - 实时作业事件推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler())

	// OpenAPI 文档
	mux.HandleFunc("GET /api/v1/openapi.yaml", serveOpenAPIDoc)

	// Workflow 接口
	workflowHandler := workflow.NewHandler(h.store)
	workflowHandler.RegisterRoutes(mux)

	// Run 接口（触发事件、手动触发、取消、重跑）
	runHandler := run.NewHandler(h.store, h.orchestrator, h.runStateCache)
	runHandler.RegisterRoutes(mux)

	// Job 接口（节点状态上报、事件归档与发布）
	jobHandler := job.NewHandler(h.store, h.orchestrator, h.jobEventBus)
	jobHandler.RegisterRoutes(mux)

	// Runner 接口
	runnerHandler := runner.NewHandler(h.store, h.runnerCache)
	runnerHandler.RegisterRoutes(mux)

	// Artifact 接口（对象存储不可用时不注册）
	if h.blobs != nil {
		artifactHandler := artifact.NewHandler(h.store, h.blobs)
		artifactHandler.RegisterRoutes(mux)
	}

	// Auth 路由
	authHandler := auth.NewHandler(h.store, h.authConfig)
	authHandler.RegisterRoutes(mux)

	// 应用指标中间件到 REST API
	apiHandler := h.metrics.MetricsMiddleware(mux)

	// 应用 OpenAPI 请求校验中间件（仅校验用户侧变更请求）
	validatedHandler := openAPIValidationMiddleware(apiHandler)

	// 应用认证中间件
	authedHandler := auth.Middleware(h.authConfig)(validatedHandler)

	// 应用 CORS 中间件
	corsHandler := corsMiddleware(authedHandler)

	// 创建顶层路由，WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.HandleFunc("/ws/jobs/{id}/events", h.eventGateway.HandleWebSocket)
	topMux.Handle("/", corsHandler)

	return topMux
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Runner-Token")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
