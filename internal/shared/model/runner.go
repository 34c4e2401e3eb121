// Package model 定义核心数据模型
//
// runner.go 包含执行节点相关的数据模型：
//   - Runner：执行作业的计算节点
//   - RunnerStatus：节点状态枚举
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// RunnerStatus - 节点状态
// ============================================================================

// RunnerStatus 表示 Runner 节点的状态
//
// 节点生命周期：
//
//	starting → online
//	              ↓
//	          draining → offline → terminated
//
// 状态说明：
//   - starting：节点启动中，正在初始化
//   - online：节点在线，可接受新作业
//   - draining：节点排空中，不接受新作业，等待现有作业完成
//   - offline：节点离线，心跳超时或主动下线
//   - terminated：节点已终止，永久下线
//   - unknown：无法确定节点状态
type RunnerStatus string

const (
	// RunnerStatusStarting 启动中：节点正在初始化
	RunnerStatusStarting RunnerStatus = "starting"

	// RunnerStatusOnline 在线：节点正常运行，可接受作业
	RunnerStatusOnline RunnerStatus = "online"

	// RunnerStatusDraining 排空中：不再接受新作业，等待现有作业完成
	RunnerStatusDraining RunnerStatus = "draining"

	// RunnerStatusOffline 离线：节点已断开连接
	RunnerStatusOffline RunnerStatus = "offline"

	// RunnerStatusTerminated 已终止：节点永久移除
	RunnerStatusTerminated RunnerStatus = "terminated"

	// RunnerStatusUnknown 未知：心跳超时但未确认下线
	RunnerStatusUnknown RunnerStatus = "unknown"
)

// ============================================================================
// Runner - 执行节点
// ============================================================================

// Runner 表示执行作业的计算节点
//
// Runner 是 runner agent 在控制面的注册信息：
//   - agent 启动后向 API Server 注册
//   - 定期发送心跳保持在线状态
//   - 调度器根据状态、标签和容量分配作业
//
// 字段说明：
//   - ID：节点唯一标识（通常是主机名或 UUID）
//   - Labels：节点标签（用于 runs-on 匹配，如 os=linux, arch=amd64）
//   - Capacity：节点容量（如 max_concurrent=4）
//   - LastHeartbeat：最后心跳时间（用于判断节点是否在线）
type Runner struct {
	ID            string          `json:"id" bson:"_id" db:"id"`                                                        // 节点 ID
	DisplayName   string          `json:"display_name,omitempty" bson:"display_name,omitempty" db:"display_name"`       // 显示名称
	Status        RunnerStatus    `json:"status" bson:"status" db:"status"`                                             // 节点状态
	Hostname      string          `json:"hostname,omitempty" bson:"hostname,omitempty" db:"hostname"`                   // 主机名
	IPs           string          `json:"ips,omitempty" bson:"ips,omitempty" db:"ips"`                                  // IP 地址列表（逗号分隔）
	Labels        json.RawMessage `json:"labels" bson:"labels" db:"labels"`                                             // 节点标签
	Capacity      json.RawMessage `json:"capacity" bson:"capacity" db:"capacity"`                                       // 节点容量
	LastHeartbeat *time.Time      `json:"last_heartbeat,omitempty" bson:"last_heartbeat,omitempty" db:"last_heartbeat"` // 最后心跳
	CreatedAt     time.Time       `json:"created_at" bson:"created_at" db:"created_at"`                                 // 创建时间
	UpdatedAt     time.Time       `json:"updated_at" bson:"updated_at" db:"updated_at"`                                 // 更新时间
}

// RunnerCapacity 节点容量结构（Capacity 字段的内容）
type RunnerCapacity struct {
	MaxConcurrent int `json:"max_concurrent"` // 最大并发作业数
}

// ============================================================================
// 辅助方法
// ============================================================================

// IsOnline 判断节点是否在线（可接受作业）
func (r *Runner) IsOnline() bool {
	return r.Status == RunnerStatusOnline
}

// IsSchedulable 判断节点是否可被调度（在线且未排空）
func (r *Runner) IsSchedulable() bool {
	return r.Status == RunnerStatusOnline
}

// IsAdminStatus 判断是否为管理员手动设置的行政状态
//
// 行政状态不会被心跳覆盖，也不参与调度
func (r *Runner) IsAdminStatus() bool {
	switch r.Status {
	case RunnerStatusDraining, RunnerStatusTerminated:
		return true
	default:
		return false
	}
}

// DecodeLabels 解析节点标签
func (r *Runner) DecodeLabels() map[string]string {
	if len(r.Labels) == 0 {
		return nil
	}
	var labels map[string]string
	if err := json.Unmarshal(r.Labels, &labels); err != nil {
		return nil
	}
	return labels
}

// MaxConcurrent 返回节点最大并发数（未配置时返回默认值 1）
func (r *Runner) MaxConcurrent() int {
	if len(r.Capacity) == 0 {
		return 1
	}
	var cap RunnerCapacity
	if err := json.Unmarshal(r.Capacity, &cap); err != nil || cap.MaxConcurrent <= 0 {
		return 1
	}
	return cap.MaxConcurrent
}
