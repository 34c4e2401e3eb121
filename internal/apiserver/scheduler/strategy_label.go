// Package scheduler 标签匹配调度策略
package scheduler

import (
	"context"
	"encoding/json"
	"log"

	"pipelines-admin/internal/shared/model"
)

// LabelMatchStrategy 标签匹配调度策略
//
// 根据作业的 runs-on 标签选择器，选择标签完全匹配的节点。
// 匹配规则：runs-on 标签必须是节点标签的子集。
//
// 场景：
//   - 作业要求 os=linux，只调度到 Linux 节点
//   - 作业要求 arch=arm64，只调度到 ARM 节点
type LabelMatchStrategy struct {
	// 是否启用负载均衡（在匹配的节点中选择可用容量最大的）
	loadBalance bool
}

// NewLabelMatchStrategy 创建标签匹配策略
//
// 参数：
//   - loadBalance: 是否在匹配的节点中启用负载均衡
func NewLabelMatchStrategy(loadBalance bool) *LabelMatchStrategy {
	return &LabelMatchStrategy{loadBalance: loadBalance}
}

// Name 返回策略名称
func (s *LabelMatchStrategy) Name() string {
	return "label_match"
}

// SelectRunner 选择标签匹配的节点
func (s *LabelMatchStrategy) SelectRunner(ctx context.Context, req *ScheduleRequest) (*model.Runner, string) {
	runsOn := getRunsOnFromRequest(req)

	var matched []*model.Runner
	for _, r := range req.CandidateRunners {
		if matchLabels(r, runsOn) {
			// 检查容量
			maxConcurrent := r.MaxConcurrent()
			currentRunning := req.RunnerRunning[r.ID]
			if maxConcurrent-currentRunning > 0 {
				matched = append(matched, r)
			}
		}
	}

	if len(matched) == 0 {
		return nil, ""
	}

	// 如果只有一个匹配节点，直接返回
	if len(matched) == 1 {
		return matched[0], "label_match"
	}

	// 多个匹配节点时，根据配置选择
	if s.loadBalance {
		return selectByLoadBalance(matched, req.RunnerRunning), "label_match_lb"
	}

	// 默认返回第一个匹配的节点
	return matched[0], "label_match"
}

// getRunsOnFromRequest 从请求中获取作业的标签选择器
func getRunsOnFromRequest(req *ScheduleRequest) map[string]string {
	if req.Snapshot == nil {
		return nil
	}
	return req.Snapshot.RunsOn
}

// matchLabels 检查节点是否满足作业的标签要求
func matchLabels(runner *model.Runner, runsOn map[string]string) bool {
	if len(runsOn) == 0 {
		return true // 无标签要求，所有节点都匹配
	}

	// 解析节点标签
	var runnerLabels map[string]string
	if len(runner.Labels) > 0 {
		if err := json.Unmarshal(runner.Labels, &runnerLabels); err != nil {
			log.Printf("[strategy.label] failed to parse runner labels for %s: %v", runner.ID, err)
			return false
		}
	}

	// 检查每个选择器标签
	for key, value := range runsOn {
		if runnerValue, ok := runnerLabels[key]; !ok || runnerValue != value {
			return false
		}
	}

	return true
}

// selectByLoadBalance 在节点列表中选择可用容量最大的节点
func selectByLoadBalance(runners []*model.Runner, runnerRunning map[string]int) *model.Runner {
	var best *model.Runner
	var bestAvailable int = -1

	for _, r := range runners {
		maxConcurrent := r.MaxConcurrent()
		currentRunning := runnerRunning[r.ID]
		available := maxConcurrent - currentRunning

		if available > bestAvailable {
			bestAvailable = available
			best = r
		}
	}

	return best
}
