package runner

import (
	"context"
	"time"

	"pipelines-admin/internal/shared/cache"
	"pipelines-admin/internal/shared/model"
)

// HeartbeatFreshWindow 心跳新鲜度窗口
//
// 超过该窗口没有心跳的节点视为不可调度，
// 窗口取心跳间隔（30s）的 1.5 倍，容忍单次心跳丢失
const HeartbeatFreshWindow = 45 * time.Second

// IsHeartbeatFresh 判断心跳是否在新鲜度窗口内
func IsHeartbeatFresh(lastHeartbeat *time.Time, window time.Duration) bool {
	if lastHeartbeat == nil {
		return false
	}
	return time.Since(*lastHeartbeat) <= window
}

// FilterRunnersByFreshHeartbeat 按心跳新鲜度过滤节点
func FilterRunnersByFreshHeartbeat(runners []*model.Runner, window time.Duration) []*model.Runner {
	var fresh []*model.Runner
	for _, r := range runners {
		if IsHeartbeatFresh(r.LastHeartbeat, window) {
			fresh = append(fresh, r)
		}
	}
	return fresh
}

// ResolveRunnerStatus 解析节点的实际状态
//
// 优先使用缓存中的心跳信息（带 TTL 自动过期），
// 缓存未命中时回退到数据库的 last_heartbeat 判断：
//   - 行政状态（draining/terminated）直接返回，不被心跳覆盖
//   - 缓存中有心跳则为 online
//   - 数据库心跳新鲜则为 online
//   - 心跳过期但数据库状态是 online 则降级为 unknown
func ResolveRunnerStatus(ctx context.Context, c cache.RunnerHeartbeatCache, r *model.Runner) model.RunnerStatus {
	if r.IsAdminStatus() {
		return r.Status
	}

	if c != nil {
		hb, err := c.GetRunnerHeartbeat(ctx, r.ID)
		if err == nil && hb != nil {
			return model.RunnerStatusOnline
		}
	}

	if IsHeartbeatFresh(r.LastHeartbeat, HeartbeatFreshWindow) {
		return model.RunnerStatusOnline
	}

	if r.Status == model.RunnerStatusOnline {
		return model.RunnerStatusUnknown
	}
	return r.Status
}

// MergeOnlineRunnersFromCache 用缓存心跳补全在线节点集合
//
// 缓存心跳比数据库 last_heartbeat 更及时，两者取并集
func MergeOnlineRunnersFromCache(ctx context.Context, c cache.RunnerHeartbeatCache, runners []*model.Runner) map[string]struct{} {
	online := make(map[string]struct{})
	for _, r := range FilterRunnersByFreshHeartbeat(runners, HeartbeatFreshWindow) {
		if !r.IsAdminStatus() {
			online[r.ID] = struct{}{}
		}
	}

	if c == nil {
		return online
	}
	ids, err := c.ListOnlineRunners(ctx)
	if err != nil {
		return online
	}
	for _, id := range ids {
		online[id] = struct{}{}
	}
	return online
}
