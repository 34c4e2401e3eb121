// Package model 定义核心数据模型
//
// job.go 包含作业执行相关的数据模型：
//   - JobRun：作业的单次执行实例（调度单元）
//   - JobStatus：作业状态枚举
//   - JobSnapshot：作业定义快照（矩阵替换后的展开结果）
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// JobStatus - 作业状态
// ============================================================================

// JobStatus 表示单个作业实例（JobRun）的状态
//
// JobRun 是调度器的工作单元，状态反映其在 DAG 中的进展：
//   - blocked：依赖（needs）尚未全部成功，等待解锁
//   - queued：等待调度器分配 Runner
//   - assigned：调度器已分配 Runner，等待 Runner 领取执行
//   - running：Runner 已开始执行（上报了事件）
//   - succeeded：所有步骤退出码为 0
//   - failed：某个步骤退出码非 0
//   - skipped：某个（传递）依赖失败/取消，本作业不再执行
//   - cancelled：用户或 fail-fast 取消了此作业
//   - timeout：执行时间超过限制
type JobStatus string

const (
	// JobStatusBlocked 等待依赖：needs 尚未全部成功
	JobStatusBlocked JobStatus = "blocked"

	// JobStatusQueued 排队中：等待调度器分配 Runner
	JobStatusQueued JobStatus = "queued"

	// JobStatusAssigned 已分配：等待 Runner 领取执行
	JobStatusAssigned JobStatus = "assigned"

	// JobStatusRunning 执行中：Runner 已开始执行
	JobStatusRunning JobStatus = "running"

	// JobStatusSucceeded 已成功：所有步骤退出码为 0
	JobStatusSucceeded JobStatus = "succeeded"

	// JobStatusFailed 已失败：某个步骤退出码非 0
	JobStatusFailed JobStatus = "failed"

	// JobStatusSkipped 已跳过：依赖失败，本作业不执行
	JobStatusSkipped JobStatus = "skipped"

	// JobStatusCancelled 已取消：用户或 fail-fast 取消
	JobStatusCancelled JobStatus = "cancelled"

	// JobStatusTimeout 已超时：执行时间超过限制
	JobStatusTimeout JobStatus = "timeout"
)

// ============================================================================
// JobSnapshot - 作业定义快照
// ============================================================================

// StepSnapshot 步骤定义快照（矩阵变量已替换）
type StepSnapshot struct {
	Name       string            `json:"name"`                  // 步骤名称
	Run        string            `json:"run"`                   // shell 命令
	Env        map[string]string `json:"env,omitempty"`         // 步骤环境变量
	WorkingDir string            `json:"working_dir,omitempty"` // 工作目录（相对 workspace）
}

// ArtifactDeclSnapshot 产物声明快照
type ArtifactDeclSnapshot struct {
	Name          string `json:"name"`                     // 产物名称（Run 内唯一）
	Path          string `json:"path"`                     // workspace 内路径
	RetentionDays int    `json:"retention_days,omitempty"` // 保留天数（仅 upload）
	When          string `json:"when,omitempty"`           // success（默认）或 always
}

// JobSnapshot 是作业在 Run 创建时的展开结果
//
// 矩阵变量替换在展开时完成一次，Runner 直接按快照执行，
// 不需要再接触工作流定义。
type JobSnapshot struct {
	Image          string                 `json:"image"`                     // 容器镜像
	Env            map[string]string      `json:"env,omitempty"`             // 作业环境变量（含工作流级）
	Steps          []StepSnapshot         `json:"steps"`                     // 步骤列表
	TimeoutMinutes int                    `json:"timeout_minutes"`           // 超时（分钟）
	RunsOn         map[string]string      `json:"runs_on,omitempty"`         // Runner 标签选择器
	RunnerID       string                 `json:"runner_id,omitempty"`       // 指定 Runner（direct 调度）
	Download       []ArtifactDeclSnapshot `json:"download,omitempty"`        // 需下载的产物
	Upload         []ArtifactDeclSnapshot `json:"upload,omitempty"`          // 需上传的产物
}

// ============================================================================
// JobRun - 作业实例
// ============================================================================

// JobRun 表示 Run 中一个作业（含矩阵维度）的执行
//
// JobRun 在 Run 创建时由矩阵展开生成，之后不可变（状态除外）：
//   - 每个 JobRun 属于一个 WorkflowRun
//   - 每个 JobRun 被调度到一个 Runner 执行
//   - JobRun 产生事件流（Events）并可上传产物（Artifacts）
//
// 字段说明：
//   - ID：唯一标识符，格式如 "job-abc123"
//   - Name：作业名（定义中的 key，如 "tests"）
//   - DisplayName：含矩阵维度的展示名（如 "tests (3.12, flint)"）
//   - Needs：依赖的作业名列表
//   - Matrix：本实例的矩阵取值
//   - Snapshot：展开后的作业定义（Runner 据此执行）
//   - ExitCode：失败步骤的退出码（失败时填充）
type JobRun struct {
	ID          string            `json:"id" bson:"_id" db:"id"`                                               // 作业唯一标识
	RunID       string            `json:"run_id" bson:"run_id" db:"run_id"`                                    // 所属 Run ID
	Name        string            `json:"name" bson:"name" db:"name"`                                          // 作业名
	DisplayName string            `json:"display_name" bson:"display_name" db:"display_name"`                  // 展示名
	Status      JobStatus         `json:"status" bson:"status" db:"status"`                                    // 作业状态
	RunnerID    *string           `json:"runner_id,omitempty" bson:"runner_id,omitempty" db:"runner_id"`       // 执行 Runner ID
	Needs       []string          `json:"needs,omitempty" bson:"needs,omitempty" db:"needs"`                   // 依赖作业名
	Matrix      map[string]string `json:"matrix,omitempty" bson:"matrix,omitempty" db:"matrix"`                // 矩阵取值
	Snapshot    json.RawMessage   `json:"snapshot,omitempty" bson:"snapshot,omitempty" db:"snapshot"`          // 作业定义快照
	ExitCode    *int              `json:"exit_code,omitempty" bson:"exit_code,omitempty" db:"exit_code"`       // 退出码
	Error       *string           `json:"error,omitempty" bson:"error,omitempty" db:"error"`                   // 错误信息
	StartedAt   *time.Time        `json:"started_at,omitempty" bson:"started_at,omitempty" db:"started_at"`    // 开始时间
	FinishedAt  *time.Time        `json:"finished_at,omitempty" bson:"finished_at,omitempty" db:"finished_at"` // 结束时间
	CreatedAt   time.Time         `json:"created_at" bson:"created_at" db:"created_at"`                        // 创建时间
	UpdatedAt   time.Time         `json:"updated_at" bson:"updated_at" db:"updated_at"`                        // 更新时间
}

// ============================================================================
// 辅助方法
// ============================================================================

// IsTerminal 判断作业是否处于终止状态
func (j *JobRun) IsTerminal() bool {
	switch j.Status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusSkipped, JobStatusCancelled, JobStatusTimeout:
		return true
	default:
		return false
	}
}

// IsSuccess 判断作业是否成功结束
func (j *JobRun) IsSuccess() bool {
	return j.Status == JobStatusSucceeded
}

// IsFailure 判断作业是否以失败类状态结束（会导致依赖被跳过）
func (j *JobRun) IsFailure() bool {
	switch j.Status {
	case JobStatusFailed, JobStatusCancelled, JobStatusTimeout, JobStatusSkipped:
		return true
	default:
		return false
	}
}

// DecodeSnapshot 解析作业定义快照
func (j *JobRun) DecodeSnapshot() (*JobSnapshot, error) {
	var snap JobSnapshot
	if err := json.Unmarshal(j.Snapshot, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
