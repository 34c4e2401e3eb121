// Package server 路由配置与核心基础设施
//
// 本包组装各领域处理器并提供跨领域组件：
//   - common.go: Handler 定义与健康检查
//   - handler.go: 路由配置
//   - metrics.go: Prometheus 指标
//   - websocket.go: WebSocket 事件网关
//   - openapi.go: OpenAPI 文档与请求校验
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"pipelines-admin/internal/apiserver/artifact"
	"pipelines-admin/internal/apiserver/auth"
	"pipelines-admin/internal/apiserver/cron"
	"pipelines-admin/internal/apiserver/orchestrator"
	"pipelines-admin/internal/apiserver/scheduler"
	"pipelines-admin/internal/shared/cache"
	"pipelines-admin/internal/shared/eventbus"
	"pipelines-admin/internal/shared/objstore"
	"pipelines-admin/internal/shared/queue"
	"pipelines-admin/internal/shared/storage"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到各领域处理器
//   - 管理存储层与基础设施连接
//   - 协调编排器、调度器、定时触发器与事件网关
type Handler struct {
	store storage.PersistentStore // 持久化存储（业务数据权威来源）

	// 队列接口（作业分发）
	schedulerQueue queue.SchedulerQueue // 调度队列
	runnerQueue    queue.RunnerJobQueue // 节点作业队列

	// 事件总线（WebSocket 实时推送）
	jobEventBus eventbus.JobEventBus

	// 缓存接口
	runStateCache cache.RunStateCache
	runnerCache   cache.RunnerHeartbeatCache

	// 对象存储（产物字节）
	blobs *objstore.Client

	// 内部组件
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	cronTicker   *cron.Ticker
	sweeper      *artifact.Sweeper
	eventGateway *EventGateway
	metrics      *Metrics

	authConfig auth.Config
}

// Deps Handler 的外部依赖
//
// queue/bus/cache/blobs 均可为 nil，对应能力退化：
// 调度只剩 DB 兜底轮询，WebSocket 退回轮询，产物路由不注册。
type Deps struct {
	Store          storage.PersistentStore
	SchedulerQueue queue.SchedulerQueue
	RunnerQueue    queue.RunnerJobQueue
	JobEventBus    eventbus.JobEventBus
	RunStateCache  cache.RunStateCache
	RunnerCache    cache.RunnerHeartbeatCache
	Blobs          *objstore.Client
	AuthConfig     auth.Config
	SchedulerID    string
}

// NewHandler 创建 Handler 实例
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		store:          deps.Store,
		schedulerQueue: deps.SchedulerQueue,
		runnerQueue:    deps.RunnerQueue,
		jobEventBus:    deps.JobEventBus,
		runStateCache:  deps.RunStateCache,
		runnerCache:    deps.RunnerCache,
		blobs:          deps.Blobs,
		authConfig:     deps.AuthConfig,
	}

	h.orchestrator = orchestrator.NewOrchestrator(deps.Store, deps.SchedulerQueue, deps.RunStateCache)

	schedulerID := deps.SchedulerID
	if schedulerID == "" {
		schedulerID = "api-server"
	}
	h.scheduler = scheduler.NewScheduler(deps.Store, deps.SchedulerQueue, deps.RunnerQueue, schedulerID)

	h.cronTicker = cron.NewTicker(deps.Store, h.orchestrator)
	if deps.Blobs != nil {
		h.sweeper = artifact.NewSweeper(deps.Store, deps.Blobs)
	}
	h.eventGateway = NewEventGateway(deps.Store, deps.JobEventBus)
	h.metrics = NewMetrics("pipelines")
	return h
}

// Start 启动后台组件：调度器、定时触发器、产物清理循环
func (h *Handler) Start(ctx context.Context) {
	h.scheduler.Start(ctx)
	h.cronTicker.Start(ctx)
	if h.sweeper != nil {
		h.sweeper.Start(ctx)
	}
}

// Stop 停止后台组件
func (h *Handler) Stop() {
	h.scheduler.Stop()
	h.cronTicker.Stop()
	if h.sweeper != nil {
		h.sweeper.Stop()
	}
	log.Printf("[server] background components stopped")
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// Orchestrator 返回编排器（注册节点侧回调时使用）
func (h *Handler) Orchestrator() *orchestrator.Orchestrator {
	return h.orchestrator
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
