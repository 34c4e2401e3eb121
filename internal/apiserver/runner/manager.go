// Package runner 执行节点管理领域
package runner

import (
	"context"
	"log"
	"time"

	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/shared/storage"
)

// Manager 节点管理器
//
// 负责管理节点的在线状态、容量信息和运行作业计数
type Manager struct {
	store         storage.PersistentStore
	runnerRunning map[string]int // 节点当前运行的作业数（内存缓存）
}

// NewManager 创建节点管理器
func NewManager(store storage.PersistentStore) *Manager {
	return &Manager{
		store:         store,
		runnerRunning: make(map[string]int),
	}
}

// ListSchedulableRunners 获取可调度的节点列表
//
// 基于 last_heartbeat 时间窗口过滤，排除行政状态节点
func (m *Manager) ListSchedulableRunners(ctx context.Context) ([]*model.Runner, error) {
	runners, err := m.store.ListAllRunners(ctx)
	if err != nil {
		return nil, err
	}

	var online []*model.Runner
	for _, r := range FilterRunnersByFreshHeartbeat(runners, HeartbeatFreshWindow) {
		if !r.IsAdminStatus() {
			online = append(online, r)
		}
	}
	return online, nil
}

// RefreshRunningCount 刷新节点运行作业计数
func (m *Manager) RefreshRunningCount(ctx context.Context, runners []*model.Runner) {
	m.runnerRunning = make(map[string]int)

	for _, r := range runners {
		count, err := m.store.CountActiveJobsByRunner(ctx, r.ID)
		if err != nil {
			log.Printf("[runner.manager] count active jobs for runner %s failed: %v", r.ID, err)
			continue
		}
		m.runnerRunning[r.ID] = count
	}
}

// GetRunnerRunning 获取节点运行作业计数
func (m *Manager) GetRunnerRunning() map[string]int {
	result := make(map[string]int, len(m.runnerRunning))
	for k, v := range m.runnerRunning {
		result[k] = v
	}
	return result
}

// IncrementRunning 增加节点运行作业计数
func (m *Manager) IncrementRunning(runnerID string) {
	m.runnerRunning[runnerID]++
}

// RequeueJobsAssignedToOfflineRunners 将分配到离线节点的作业重新入队
//
// 只回收还没开始产生事件的作业：有事件说明 Runner 已经在执行，
// 自动回退会造成重复执行，这种情况交给超时机制处理。
func (m *Manager) RequeueJobsAssignedToOfflineRunners(ctx context.Context, onlineIDs map[string]struct{}, threshold time.Duration) {
	runners, err := m.store.ListAllRunners(ctx)
	if err != nil {
		log.Printf("[runner.manager] ListAllRunners error: %v", err)
		return
	}

	now := time.Now()
	for _, r := range runners {
		if _, ok := onlineIDs[r.ID]; ok {
			continue
		}

		jobs, err := m.store.ListJobsByRunner(ctx, r.ID, nil)
		if err != nil {
			log.Printf("[runner.manager] ListJobsByRunner error (runner=%s): %v", r.ID, err)
			continue
		}

		for _, job := range jobs {
			// 刚分配不久的作业给节点一个恢复窗口
			if now.Sub(job.UpdatedAt) < threshold {
				continue
			}

			cnt, err := m.store.CountEventsByJob(ctx, job.ID)
			if err != nil {
				log.Printf("[runner.manager] CountEventsByJob error (job=%s): %v", job.ID, err)
				continue
			}
			if cnt > 0 {
				continue
			}

			if err := m.store.ResetJobToQueued(ctx, job.ID); err != nil {
				log.Printf("[runner.manager] ResetJobToQueued error (job=%s): %v", job.ID, err)
				continue
			}
			log.Printf("[runner.manager] requeued job %s (offline runner %s)", job.ID, r.ID)
		}
	}
}
