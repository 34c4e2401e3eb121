// Package eventbus 事件总线类型定义
package eventbus

import (
	"time"
)

// ============================================================================
// 事件类型
// ============================================================================

// JobEvent 作业执行事件
//
// ID 是 Redis Stream 消息 ID，Seq 是 Runner 赋予的作业内序号。
// WebSocket 断线重连时用 Seq 定位回放起点。
type JobEvent struct {
	ID        string                 `json:"id"`
	JobID     string                 `json:"job_id"`
	Seq       int                    `json:"seq"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// Key 前缀
	KeyJobEvents = "job_events:"

	// Stream 最大长度（step_output 逐行产生，上限要宽）
	MaxStreamLength = 10000
)
