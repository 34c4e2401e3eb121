// Package infra etcd 心跳后端适配
package infra

import (
	"context"
	"strings"

	"pipelines-admin/internal/shared/cache"
	"pipelines-admin/internal/shared/storage"
	"pipelines-admin/internal/shared/storage/etcd"
)

// EtcdHeartbeatCache 将 etcd 租约心跳适配为 RunnerHeartbeatCache
//
// HEARTBEAT_BACKEND=etcd 时替换 Redis 心跳缓存。租约到期 key 自动
// 消失，在线判定即 key 存在，无需 TTL 扫描。
type EtcdHeartbeatCache struct {
	store *etcd.Store
}

// NewEtcdHeartbeatCache 基于 etcd 端点创建心跳缓存
func NewEtcdHeartbeatCache(endpoints, prefix string) (*EtcdHeartbeatCache, error) {
	store, err := etcd.NewStore(etcd.Config{
		Endpoints: strings.Split(endpoints, ","),
		Prefix:    prefix,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdHeartbeatCache{store: store}, nil
}

// UpdateRunnerHeartbeat 写入带租约的心跳 key
func (c *EtcdHeartbeatCache) UpdateRunnerHeartbeat(ctx context.Context, runnerID string, status *cache.RunnerStatus) error {
	return c.store.UpdateRunnerHeartbeat(ctx, &storage.EtcdHeartbeat{
		RunnerID:   runnerID,
		ActiveJobs: status.ActiveJobs,
	})
}

// GetRunnerHeartbeat 读取心跳，租约过期返回 (nil, nil)
func (c *EtcdHeartbeatCache) GetRunnerHeartbeat(ctx context.Context, runnerID string) (*cache.RunnerStatus, error) {
	hb, err := c.store.GetRunnerHeartbeat(ctx, runnerID)
	if err != nil || hb == nil {
		return nil, err
	}
	return &cache.RunnerStatus{
		Status:     "online",
		ActiveJobs: hb.ActiveJobs,
		UpdatedAt:  hb.Timestamp,
	}, nil
}

// DeleteRunnerHeartbeat 删除心跳 key
func (c *EtcdHeartbeatCache) DeleteRunnerHeartbeat(ctx context.Context, runnerID string) error {
	return c.store.DeleteRunnerHeartbeat(ctx, runnerID)
}

// ListOnlineRunners 列出所有租约未过期的节点
func (c *EtcdHeartbeatCache) ListOnlineRunners(ctx context.Context) ([]string, error) {
	hbs, err := c.store.ListRunnerHeartbeats(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hbs))
	for _, hb := range hbs {
		ids = append(ids, hb.RunnerID)
	}
	return ids, nil
}

// Close 关闭 etcd 连接
func (c *EtcdHeartbeatCache) Close() error {
	return c.store.Close()
}

var _ cache.RunnerHeartbeatCache = (*EtcdHeartbeatCache)(nil)
