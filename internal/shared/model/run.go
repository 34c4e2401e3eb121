// Package model 定义核心数据模型
//
// run.go 包含工作流执行相关的数据模型：
//   - WorkflowRun：工作流的单次执行实例
//   - RunStatus：执行状态枚举
//   - TriggerEvent：触发事件
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// RunStatus - 执行状态
// ============================================================================

// RunStatus 表示工作流单次执行（WorkflowRun）的状态
//
// WorkflowRun 的状态由其全部 JobRun 的状态聚合而来：
//   - pending：已创建，尚无作业开始执行
//   - running：至少一个作业已开始执行
//   - succeeded：所有作业成功
//   - failed：至少一个作业失败或超时
//   - cancelled：执行被取消且没有作业失败
//
// 为什么不与 JobStatus 合并？
//  1. 粒度不同：Run 是聚合视图，Job 是调度单元
//  2. 独有状态：blocked/skipped/assigned 只对 Job 有意义
//  3. 一对多关系：一个 Run 包含多个 Job，状态需独立追踪
type RunStatus string

const (
	// RunStatusPending 等待中：Run 已创建，作业尚未开始
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning 执行中：至少一个作业已开始执行
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded 已成功：所有作业成功结束
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed 已失败：至少一个作业失败或超时
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled 已取消：用户或系统取消了此次执行
	RunStatusCancelled RunStatus = "cancelled"
)

// ============================================================================
// TriggerEvent - 触发事件
// ============================================================================

// TriggerEventType 触发事件类型
type TriggerEventType string

const (
	// TriggerPush 代码推送触发
	TriggerPush TriggerEventType = "push"

	// TriggerPullRequest PR 触发
	TriggerPullRequest TriggerEventType = "pull_request"

	// TriggerSchedule 定时触发（控制面 cron）
	TriggerSchedule TriggerEventType = "schedule"

	// TriggerManual 手动触发
	TriggerManual TriggerEventType = "manual"
)

// TriggerEvent 触发事件
//
/// 事件进入控制面后与所有 active 工作流的 on: 声明匹配，
// 每个匹配的工作流创建一个 WorkflowRun，事件快照存入 Run。
type TriggerEvent struct {
	Type    TriggerEventType  `json:"type"`              // 事件类型
	Ref     string            `json:"ref,omitempty"`     // 分支或引用（push/pull_request）
	Commit  string            `json:"commit,omitempty"`  // 提交哈希
	Sender  string            `json:"sender,omitempty"`  // 事件来源（用户/系统）
	Payload map[string]string `json:"payload,omitempty"` // 附加参数（如 manual 输入）
}

// ============================================================================
// WorkflowRun - 执行实例
// ============================================================================

// WorkflowRun 表示工作流的一次执行
//
// WorkflowRun 是工作流的"执行记录"：
//   - 每个 Run 绑定到一个 Workflow 和一个触发事件
//   - Run 创建时作业图被完整展开为 JobRun（矩阵实例化一次，之后不变）
//   - Run 持有定义快照，不受工作流后续修改影响
//   - Run 是不可变的：一旦结束，状态不再改变
//
// 为什么需要定义快照？
//  1. 支持重跑：rerun 基于快照，不基于最新定义
//  2. 保留历史：每次执行可审计当时的定义
//  3. 隔离修改：修改工作流不影响进行中的 Run
//
// 典型生命周期：
//
//	创建 → pending → running → succeeded/failed/cancelled
type WorkflowRun struct {
	ID         string          `json:"id" bson:"_id" db:"id"`                                                      // 执行唯一标识
	WorkflowID string          `json:"workflow_id" bson:"workflow_id" db:"workflow_id"`                            // 所属工作流 ID
	Status     RunStatus       `json:"status" bson:"status" db:"status"`                                           // 执行状态
	Event      json.RawMessage `json:"event,omitempty" bson:"event,omitempty" db:"event"`                          // 触发事件快照
	Definition json.RawMessage `json:"definition,omitempty" bson:"definition,omitempty" db:"definition"`           // 工作流定义快照
	StartedAt  *time.Time      `json:"started_at,omitempty" bson:"started_at,omitempty" db:"started_at"`           // 开始时间
	FinishedAt *time.Time      `json:"finished_at,omitempty" bson:"finished_at,omitempty" db:"finished_at"`        // 结束时间
	CreatedAt  time.Time       `json:"created_at" bson:"created_at" db:"created_at"`                               // 创建时间
	UpdatedAt  time.Time       `json:"updated_at" bson:"updated_at" db:"updated_at"`                               // 更新时间
}

// ============================================================================
// 辅助方法
// ============================================================================

// IsTerminal 判断 Run 是否处于终止状态
func (r *WorkflowRun) IsTerminal() bool {
	switch r.Status {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// CanCancel 判断 Run 是否可以取消
func (r *WorkflowRun) CanCancel() bool {
	return r.Status == RunStatusPending || r.Status == RunStatusRunning
}

// CanRerun 判断 Run 是否可以重跑
func (r *WorkflowRun) CanRerun() bool {
	return r.Status == RunStatusFailed || r.Status == RunStatusCancelled
}
