// WebSocket 事件网关
//
// 事件网关提供作业事件的实时推送能力，支持前端实时查看作业日志。
// 使用 WebSocket 协议，支持双向通信。
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pipelines-admin/internal/shared/eventbus"
	"pipelines-admin/internal/shared/model"
)

// upgrader WebSocket 升级器配置
//
// CheckOrigin 当前允许所有来源，生产环境应限制。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventGatewayStore 事件网关需要的存储能力
type EventGatewayStore interface {
	GetJob(ctx context.Context, id string) (*model.JobRun, error)
	GetEventsByJob(ctx context.Context, jobID string, fromSeq int, limit int) ([]*model.Event, error)
}

// EventGateway WebSocket 事件网关
//
// 事件网关负责：
//   - 管理 WebSocket 连接
//   - 通过 Redis Streams 接收实时作业事件
//   - 总线不可用时降级为轮询数据库
//   - 将事件推送给订阅的客户端
//   - 在作业结束时通知客户端
//
// 使用场景：
//   - 前端实时显示作业执行日志
//   - 监控作业状态变化
type EventGateway struct {
	store   EventGatewayStore                   // 事件归档存储（回放与轮询）
	bus     eventbus.JobEventBus                // 事件总线（实时推送，可为 nil）
	clients map[string]map[*websocket.Conn]bool // 按 JobID 索引的客户端连接
	mu      sync.RWMutex                        // 保护 clients 映射
}

// NewEventGateway 创建事件网关实例
func NewEventGateway(store EventGatewayStore, bus eventbus.JobEventBus) *EventGateway {
	return &EventGateway{
		store:   store,
		bus:     bus,
		clients: make(map[string]map[*websocket.Conn]bool),
	}
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/jobs/{id}/events
//
// 路径参数：
//   - id: 作业 ID
//
// 查询参数：
//   - from_seq: 起始事件序号（可选），用于断线重连恢复
//
// 推送消息格式：
//
//	事件消息：{"type": "event", "data": {...}}
//	状态消息：{"type": "status", "data": {"status": "succeeded", "finished_at": "..."}}
//
// 客户端消息：
//
//	心跳：{"type": "ping"} -> 响应 {"type": "pong"}
func (g *EventGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		http.Error(w, "job_id required", http.StatusBadRequest)
		return
	}

	fromSeq, _ := strconv.Atoi(r.URL.Query().Get("from_seq"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	g.addClient(jobID, conn)
	defer g.removeClient(jobID, conn)

	log.Printf("WebSocket client connected for job %s", jobID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go g.readPump(conn, cancel)

	// 优先使用 Redis Streams 事件驱动
	if g.bus != nil {
		g.writePumpStreams(ctx, conn, jobID, fromSeq)
		return
	}

	// 降级：轮询模式
	g.writePump(ctx, conn, jobID, fromSeq)
}

// ClientCount 返回指定作业当前的 WebSocket 连接数
func (g *EventGateway) ClientCount(jobID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients[jobID])
}

// Broadcast 向指定作业的所有客户端推送一条事件消息
//
// 用于总线之外的带外通知（如服务端主动下发的状态提示）。
// 写失败的连接由其自身的读写循环负责清理。
func (g *EventGateway) Broadcast(jobID string, data interface{}) {
	g.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(g.clients[jobID]))
	for conn := range g.clients[jobID] {
		conns = append(conns, conn)
	}
	g.mu.RUnlock()

	msg := map[string]interface{}{
		"type": "event",
		"data": data,
	}
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("WebSocket broadcast error: %v", err)
		}
	}
}

// addClient 添加客户端连接
func (g *EventGateway) addClient(jobID string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.clients[jobID] == nil {
		g.clients[jobID] = make(map[*websocket.Conn]bool)
	}
	g.clients[jobID][conn] = true
}

// removeClient 移除客户端连接
//
// 如果该作业没有其他连接，则清理整个条目。
func (g *EventGateway) removeClient(jobID string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if clients, ok := g.clients[jobID]; ok {
		delete(clients, conn)
		if len(clients) == 0 {
			delete(g.clients, jobID)
		}
	}
}

// readPump 读取客户端消息
//
// 在独立 goroutine 中运行，处理客户端发送的消息：
//   - 心跳消息（ping）：响应 pong
//   - 连接关闭：取消上下文
func (g *EventGateway) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		var req map[string]interface{}
		if json.Unmarshal(msg, &req) == nil {
			if req["type"] == "ping" {
				conn.WriteJSON(map[string]string{"type": "pong"})
			}
		}
	}
}

// writePump 轮询模式推送事件
//
// 主循环处理事件推送：
//   - 每 500ms 检查新归档事件并推送
//   - 每 30s 发送 ping 保持连接
//   - 作业结束时发送状态通知并退出
func (g *EventGateway) writePump(ctx context.Context, conn *websocket.Conn, jobID string, fromSeq int) {
	ticker := time.NewTicker(500 * time.Millisecond)
	pingTicker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer pingTicker.Stop()

	lastSeq := fromSeq

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			events, err := g.store.GetEventsByJob(ctx, jobID, lastSeq, 100)
			if err != nil {
				log.Printf("Failed to get events: %v", err)
				continue
			}

			for _, event := range events {
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				msg := map[string]interface{}{
					"type": "event",
					"data": event,
				}
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("WebSocket write error: %v", err)
					return
				}
				if event.Seq > lastSeq {
					lastSeq = event.Seq
				}
			}

			if g.notifyIfFinished(ctx, conn, jobID) {
				return
			}
		}
	}
}

// writePumpStreams Redis Streams 事件驱动模式
//
// 先回放归档事件（断线重连恢复），再订阅总线跟读实时事件。
// 订阅失败时降级到轮询模式。
func (g *EventGateway) writePumpStreams(ctx context.Context, conn *websocket.Conn, jobID string, fromSeq int) {
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	// 首先推送历史事件（如果需要恢复）
	if fromSeq > 0 {
		events, err := g.store.GetEventsByJob(ctx, jobID, fromSeq, 100)
		if err == nil {
			for _, event := range events {
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				msg := map[string]interface{}{
					"type": "event",
					"data": event,
				}
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("WebSocket write error: %v", err)
					return
				}
			}
		}
	}

	// 订阅事件流
	eventCh, err := g.bus.SubscribeJobEvents(ctx, jobID)
	if err != nil {
		log.Printf("Failed to subscribe to job events: %v", err)
		// 降级到轮询模式
		g.writePump(ctx, conn, jobID, fromSeq)
		return
	}

	log.Printf("WebSocket using Redis Streams for job %s", jobID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-eventCh:
			if !ok {
				// 事件通道关闭，检查作业状态后退出
				g.notifyIfFinished(ctx, conn, jobID)
				return
			}

			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			msg := map[string]interface{}{
				"type": "event",
				"data": map[string]interface{}{
					"seq":       event.Seq,
					"type":      event.Type,
					"timestamp": event.Timestamp,
					"payload":   event.Payload,
				},
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}

			if isTerminalEventType(event.Type) {
				g.notifyIfFinished(ctx, conn, jobID)
				return
			}
		}
	}
}

// notifyIfFinished 作业已终止时向客户端发送状态通知
//
// 返回 true 表示作业已终止，推送循环应当退出。
func (g *EventGateway) notifyIfFinished(ctx context.Context, conn *websocket.Conn, jobID string) bool {
	job, err := g.store.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return false
	}
	if !job.IsTerminal() {
		return false
	}

	conn.WriteJSON(map[string]interface{}{
		"type": "status",
		"data": map[string]interface{}{
			"status":      job.Status,
			"finished_at": job.FinishedAt,
		},
	})
	return true
}

// isTerminalEventType 判断总线事件是否标志作业结束
func isTerminalEventType(t string) bool {
	switch model.EventType(t) {
	case model.EventTypeJobCompleted, model.EventTypeJobFailed,
		model.EventTypeJobTimeout, model.EventTypeJobCancelled:
		return true
	default:
		return false
	}
}
