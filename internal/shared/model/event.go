// Package model 定义核心数据模型
//
// event.go 包含作业事件相关的数据模型：
//   - Event：作业执行事件（数据库归档）
//   - EventType：事件类型枚举
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// EventType - 事件类型
// ============================================================================

// EventType 定义作业事件的类型
//
// 事件分类：
//  1. 作业生命周期：job_started, job_completed, job_failed, job_timeout, job_cancelled
//  2. 步骤生命周期：step_started, step_completed
//  3. 输出：step_output
type EventType string

const (
	// === 作业生命周期事件 ===

	// EventTypeJobStarted 作业开始执行
	EventTypeJobStarted EventType = "job_started"

	// EventTypeJobCompleted 作业成功结束
	EventTypeJobCompleted EventType = "job_completed"

	// EventTypeJobFailed 作业失败
	// Payload: {"step": "pytest", "exit_code": 1}
	EventTypeJobFailed EventType = "job_failed"

	// EventTypeJobTimeout 作业超时
	EventTypeJobTimeout EventType = "job_timeout"

	// EventTypeJobCancelled 作业被取消
	EventTypeJobCancelled EventType = "job_cancelled"

	// === 步骤事件 ===

	// EventTypeStepStarted 步骤开始
	// Payload: {"step": "pytest", "index": 2}
	EventTypeStepStarted EventType = "step_started"

	// EventTypeStepCompleted 步骤结束
	// Payload: {"step": "pytest", "index": 2, "exit_code": 0, "duration_ms": 1234}
	EventTypeStepCompleted EventType = "step_completed"

	// EventTypeStepOutput 步骤输出行
	// Payload: {"step": "pytest", "stream": "stdout", "line": "..."}
	EventTypeStepOutput EventType = "step_output"
)

// ============================================================================
// Event - 作业事件
// ============================================================================

// Event 表示作业执行过程中的一个事件
//
// 事件由 Runner 批量上报，控制面做两件事：
//  1. 归档到 EventStore（数据库），供历史查询和断线重连回放
//  2. 发布到 Redis 事件总线，供 WebSocket 实时推送
//
// Seq 在作业内单调递增，由 Runner 赋值，用于排序和回放定位。
type Event struct {
	ID        int64           `json:"id" bson:"_id" db:"id"`                                // 事件 ID（自增）
	JobID     string          `json:"job_id" bson:"job_id" db:"job_id"`                     // 所属作业 ID
	Seq       int             `json:"seq" bson:"seq" db:"seq"`                              // 作业内序号
	Type      EventType       `json:"type" bson:"type" db:"type"`                           // 事件类型
	Payload   json.RawMessage `json:"payload,omitempty" bson:"payload,omitempty" db:"payload"` // 事件内容
	Timestamp time.Time       `json:"timestamp" bson:"timestamp" db:"timestamp"`            // 发生时间
}

// IsTerminalEvent 判断事件是否标志作业结束
func (e *Event) IsTerminalEvent() bool {
	switch e.Type {
	case EventTypeJobCompleted, EventTypeJobFailed, EventTypeJobTimeout, EventTypeJobCancelled:
		return true
	default:
		return false
	}
}
