// Package scheduler 直接指定节点调度策略
package scheduler

import (
	"context"
	"log"

	"pipelines-admin/internal/shared/model"
)

// DirectStrategy 直接指定节点调度策略
//
// 作业定义中可以通过 runner_id 直接指定目标节点，这是最高优先级的调度策略。
// 从 JobSnapshot.RunnerID 字段读取。
//
// 场景：
//   - 用户明确知道作业应该在哪个节点执行
//   - 调试或测试特定节点
//   - 手动干预调度决策
type DirectStrategy struct{}

// NewDirectStrategy 创建直接指定策略
func NewDirectStrategy() *DirectStrategy {
	return &DirectStrategy{}
}

// Name 返回策略名称
func (s *DirectStrategy) Name() string {
	return "direct"
}

// SelectRunner 选择直接指定的节点
//
// 从 JobSnapshot.RunnerID 读取指定节点，如果存在且节点可用，则选择该节点。
func (s *DirectStrategy) SelectRunner(ctx context.Context, req *ScheduleRequest) (*model.Runner, string) {
	if req.Snapshot == nil || req.Snapshot.RunnerID == "" {
		return nil, ""
	}

	specifiedID := req.Snapshot.RunnerID

	// 在候选节点中查找
	for _, r := range req.CandidateRunners {
		if r.ID == specifiedID {
			// 检查容量
			maxConcurrent := r.MaxConcurrent()
			currentRunning := req.RunnerRunning[r.ID]
			if maxConcurrent-currentRunning > 0 {
				return r, "direct"
			}
			log.Printf("[strategy.direct] runner %s has no capacity", specifiedID)
			return nil, "direct_no_capacity"
		}
	}

	log.Printf("[strategy.direct] specified runner %s not found or offline", specifiedID)
	return nil, "direct_runner_unavailable"
}
