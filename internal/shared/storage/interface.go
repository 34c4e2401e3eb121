// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：repository/（SQL）、mongostore/、etcd/
//   - 初始化时通过依赖注入传入实现
//
// 注意：缓存、事件总线、队列在独立包：
//   - cache/：缓存接口
//   - eventbus/：事件总线接口
//   - queue/：消息队列接口
package storage

import (
	"context"
	"time"

	"pipelines-admin/internal/shared/model"
)

// ============================================================================
// 持久化存储接口（由 repository.Store / mongostore.Store 实现）
// ============================================================================

// WorkflowStore 工作流定义存储接口
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *model.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	GetWorkflowByName(ctx context.Context, name string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context, status string) ([]*model.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *model.Workflow) error
	UpdateWorkflowStatus(ctx context.Context, id string, status model.WorkflowStatus) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// RunStore 工作流运行存储接口
type RunStore interface {
	CreateRun(ctx context.Context, run *model.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*model.WorkflowRun, error)
	ListRuns(ctx context.Context, workflowID string, status string, limit, offset int) ([]*model.WorkflowRun, error)
	ListActiveRuns(ctx context.Context, limit int) ([]*model.WorkflowRun, error)
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error
	DeleteRun(ctx context.Context, id string) error
}

// JobStore 作业实例存储接口
type JobStore interface {
	CreateJobs(ctx context.Context, jobs []*model.JobRun) error
	GetJob(ctx context.Context, id string) (*model.JobRun, error)
	ListJobsByRun(ctx context.Context, runID string) ([]*model.JobRun, error)
	ListJobsByRunner(ctx context.Context, runnerID string, statuses []model.JobStatus) ([]*model.JobRun, error)
	ListQueuedJobs(ctx context.Context, limit int) ([]*model.JobRun, error)
	ListStaleQueuedJobs(ctx context.Context, threshold time.Duration) ([]*model.JobRun, error)
	CountActiveJobsByRunner(ctx context.Context, runnerID string) (int, error)
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, runnerID *string) error
	UpdateJobResult(ctx context.Context, id string, status model.JobStatus, exitCode *int, errMsg *string) error
	ResetJobToQueued(ctx context.Context, id string) error
}

// RunnerStore 执行节点存储接口
type RunnerStore interface {
	UpsertRunner(ctx context.Context, runner *model.Runner) error
	UpsertRunnerHeartbeat(ctx context.Context, runner *model.Runner) error // 心跳专用，不覆盖管理员设置的 status
	GetRunner(ctx context.Context, id string) (*model.Runner, error)
	ListAllRunners(ctx context.Context) ([]*model.Runner, error)
	ListOnlineRunners(ctx context.Context) ([]*model.Runner, error)
	UpdateRunnerStatus(ctx context.Context, id string, status model.RunnerStatus) error
	MarkStaleRunnersOffline(ctx context.Context, threshold time.Duration) ([]string, error)
	DeleteRunner(ctx context.Context, id string) error
}

// ArtifactStore 产物元数据存储接口
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, artifact *model.Artifact) error
	GetArtifact(ctx context.Context, runID, name string) (*model.Artifact, error)
	ListArtifactsByRun(ctx context.Context, runID string) ([]*model.Artifact, error)
	ListExpiredArtifacts(ctx context.Context, now time.Time, limit int) ([]*model.Artifact, error)
	DeleteArtifact(ctx context.Context, runID, name string) error
}

// EventStore 作业事件存储接口（归档）
type EventStore interface {
	CreateEvents(ctx context.Context, events []*model.Event) error
	CountEventsByJob(ctx context.Context, jobID string) (int, error)
	GetEventsByJob(ctx context.Context, jobID string, fromSeq int, limit int) ([]*model.Event, error)
}

// UserStore 用户存储接口
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	ListUsers(ctx context.Context) ([]*model.User, error)
}

// PersistentStore 持久化存储组合接口
type PersistentStore interface {
	WorkflowStore
	RunStore
	JobStore
	RunnerStore
	ArtifactStore
	EventStore
	UserStore
	Close() error
}

// ============================================================================
// etcd 心跳接口（由 etcd.Store 实现）
// ============================================================================

// EtcdHeartbeat 节点心跳数据（etcd 租约模式）
type EtcdHeartbeat struct {
	RunnerID   string    `json:"runner_id"`
	Hostname   string    `json:"hostname"`
	ActiveJobs int       `json:"active_jobs"`
	Timestamp  time.Time `json:"timestamp"`
}

// EtcdRunnerHeartbeat etcd 节点心跳接口
type EtcdRunnerHeartbeat interface {
	UpdateRunnerHeartbeat(ctx context.Context, hb *EtcdHeartbeat) error
	GetRunnerHeartbeat(ctx context.Context, runnerID string) (*EtcdHeartbeat, error)
	ListRunnerHeartbeats(ctx context.Context) ([]*EtcdHeartbeat, error)
	IsRunnerOnline(ctx context.Context, runnerID string) bool
}
