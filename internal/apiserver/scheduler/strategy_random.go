// Package scheduler 随机调度策略
package scheduler

import (
	"context"
	"math/rand"

	"pipelines-admin/internal/shared/model"
)

// RandomStrategy 随机调度策略
//
// 从所有可用节点中随机选择一个节点。
// 适用于无状态作业，提供简单的负载分散。
//
// 场景：
//   - 测试环境
//   - 短作业集群
type RandomStrategy struct{}

// NewRandomStrategy 创建随机策略
func NewRandomStrategy() *RandomStrategy {
	return &RandomStrategy{}
}

// Name 返回策略名称
func (s *RandomStrategy) Name() string {
	return "random"
}

// SelectRunner 随机选择一个有容量的节点
func (s *RandomStrategy) SelectRunner(ctx context.Context, req *ScheduleRequest) (*model.Runner, string) {
	if len(req.CandidateRunners) == 0 {
		return nil, ""
	}

	// 筛选有容量的节点
	var available []*model.Runner
	for _, r := range req.CandidateRunners {
		maxConcurrent := r.MaxConcurrent()
		currentRunning := req.RunnerRunning[r.ID]
		if maxConcurrent-currentRunning > 0 {
			available = append(available, r)
		}
	}

	if len(available) == 0 {
		return nil, ""
	}

	// 随机选择
	idx := rand.Intn(len(available))
	return available[idx], "random"
}
