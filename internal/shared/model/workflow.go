// Package model 定义核心数据模型
//
// workflow.go 包含工作流定义相关的数据模型：
//   - Workflow：已注册的工作流定义（原始 YAML + 元数据）
//   - WorkflowStatus：工作流状态枚举
package model

import "time"

// ============================================================================
// WorkflowStatus - 工作流状态
// ============================================================================

// WorkflowStatus 表示工作流定义的状态
//
// 状态说明：
//   - active：正常，触发事件可以创建 Run
//   - disabled：已禁用，保留定义但不再触发
type WorkflowStatus string

const (
	// WorkflowStatusActive 正常：触发事件可以创建 Run
	WorkflowStatusActive WorkflowStatus = "active"

	// WorkflowStatusDisabled 已禁用：保留定义但不再触发
	WorkflowStatusDisabled WorkflowStatus = "disabled"
)

// ============================================================================
// Workflow - 工作流定义
// ============================================================================

// Workflow 表示一个已注册的工作流定义
//
// 工作流是声明式的 CI 流水线描述：触发条件、作业 DAG、矩阵参数。
// 定义以原始 YAML 形式存储，解析和校验由 internal/workflow 包完成：
//   - 注册时解析一次并校验（作业名唯一、needs 无环等）
//   - 创建 Run 时重新解析并做快照，保证 Run 不受后续修改影响
//
// 为什么存原始 YAML 而不是解析后的结构？
//  1. 定义是用户输入，保留原文便于展示和 diff
//  2. 解析结果随代码演进，原文不变
//  3. Run 持有自己的定义快照，历史 Run 可审计
//
// 字段说明：
//   - ID：唯一标识，格式如 "wf-abc123"
//   - Name：工作流名称（定义中的 name 字段，唯一）
//   - Source：原始 YAML 文本
//   - Revision：修订号，每次更新 +1
type Workflow struct {
	ID        string         `json:"id" bson:"_id" db:"id"`                 // 工作流唯一标识
	Name      string         `json:"name" bson:"name" db:"name"`            // 工作流名称
	Status    WorkflowStatus `json:"status" bson:"status" db:"status"`      // 工作流状态
	Source    string         `json:"source" bson:"source" db:"source"`      // 原始 YAML 定义
	Revision  int            `json:"revision" bson:"revision" db:"revision"` // 修订号
	CreatedAt time.Time      `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// IsActive 判断工作流是否可被触发
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}
