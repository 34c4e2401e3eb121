package workflow

import (
	"path"
	"strings"

	"pipelines-admin/internal/shared/model"
)

// ============================================================================
// 触发匹配
// ============================================================================

// MatchesTrigger 判断触发事件是否命中本工作流
//
// 事件类型必须在 on: 中声明; push/pull_request 事件额外检查分支
// 过滤, manual 与 schedule 声明即匹配。
func MatchesTrigger(def *Definition, event *model.TriggerEvent) bool {
	switch event.Type {
	case model.TriggerPush:
		return def.On.Push != nil && matchBranch(def.On.Push, event.Ref)
	case model.TriggerPullRequest:
		return def.On.PullRequest != nil && matchBranch(def.On.PullRequest, event.Ref)
	case model.TriggerSchedule:
		return len(def.On.Schedule) > 0
	case model.TriggerManual:
		return def.On.Manual != nil
	}
	return false
}

// matchBranch 分支过滤: 无过滤表示全匹配, 否则按通配符逐条比对
func matchBranch(filter *BranchFilter, ref string) bool {
	if len(filter.Branches) == 0 {
		return true
	}
	branch := strings.TrimPrefix(ref, "refs/heads/")
	for _, pattern := range filter.Branches {
		if ok, err := path.Match(pattern, branch); err == nil && ok {
			return true
		}
	}
	return false
}
