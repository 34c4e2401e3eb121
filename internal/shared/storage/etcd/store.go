// Package etcd etcd 心跳存储实现
//
// 节点心跳通过带 TTL 租约的 key 写入，租约到期 key 自动消失，
// 因此"key 是否存在"即为节点在线判定，无需扫描时间戳。
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"pipelines-admin/internal/shared/storage"
)

// heartbeatLeaseTTL 心跳租约时长（秒），应大于 Runner 心跳间隔
const heartbeatLeaseTTL = 30

// Store etcd 存储客户端
type Store struct {
	client *clientv3.Client
	prefix string
}

// Config etcd 配置
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// NewStore 创建 etcd 存储客户端
func NewStore(cfg Config) (*Store, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/pipelines"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = client.Status(ctx, cfg.Endpoints[0])
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	log.Printf("[etcd] Connected to %v", cfg.Endpoints)
	return &Store{
		client: client,
		prefix: cfg.Prefix,
	}, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Client 返回底层 etcd 客户端
func (s *Store) Client() *clientv3.Client {
	return s.client
}

// Prefix 返回 key 前缀
func (s *Store) Prefix() string {
	return s.prefix
}

func (s *Store) heartbeatKey(runnerID string) string {
	return fmt.Sprintf("%s/runners/%s/heartbeat", s.prefix, runnerID)
}

// UpdateRunnerHeartbeat 更新节点心跳（30 秒租约）
func (s *Store) UpdateRunnerHeartbeat(ctx context.Context, hb *storage.EtcdHeartbeat) error {
	hb.Timestamp = time.Now()

	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	lease, err := s.client.Grant(ctx, heartbeatLeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	_, err = s.client.Put(ctx, s.heartbeatKey(hb.RunnerID), string(data), clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("failed to put heartbeat: %w", err)
	}

	return nil
}

// GetRunnerHeartbeat 获取节点心跳，key 不存在时返回 (nil, nil)
func (s *Store) GetRunnerHeartbeat(ctx context.Context, runnerID string) (*storage.EtcdHeartbeat, error) {
	resp, err := s.client.Get(ctx, s.heartbeatKey(runnerID))
	if err != nil {
		return nil, fmt.Errorf("failed to get heartbeat: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var hb storage.EtcdHeartbeat
	if err := json.Unmarshal(resp.Kvs[0].Value, &hb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal heartbeat: %w", err)
	}

	return &hb, nil
}

// DeleteRunnerHeartbeat 删除节点心跳（节点注销时调用，不等租约过期）
func (s *Store) DeleteRunnerHeartbeat(ctx context.Context, runnerID string) error {
	_, err := s.client.Delete(ctx, s.heartbeatKey(runnerID))
	if err != nil {
		return fmt.Errorf("failed to delete heartbeat: %w", err)
	}
	return nil
}

// ListRunnerHeartbeats 列出所有节点心跳
func (s *Store) ListRunnerHeartbeats(ctx context.Context) ([]*storage.EtcdHeartbeat, error) {
	prefix := fmt.Sprintf("%s/runners/", s.prefix)

	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}

	var heartbeats []*storage.EtcdHeartbeat
	for _, kv := range resp.Kvs {
		var hb storage.EtcdHeartbeat
		if err := json.Unmarshal(kv.Value, &hb); err != nil {
			log.Printf("[etcd] Failed to unmarshal heartbeat at %s: %v", string(kv.Key), err)
			continue
		}
		heartbeats = append(heartbeats, &hb)
	}

	return heartbeats, nil
}

// WatchRunnerHeartbeats 监听节点心跳变化（key 过期事件即节点掉线）
func (s *Store) WatchRunnerHeartbeats(ctx context.Context) clientv3.WatchChan {
	prefix := fmt.Sprintf("%s/runners/", s.prefix)
	return s.client.Watch(ctx, prefix, clientv3.WithPrefix())
}

// IsRunnerOnline 检查节点是否在线（租约未过期即在线）
func (s *Store) IsRunnerOnline(ctx context.Context, runnerID string) bool {
	hb, err := s.GetRunnerHeartbeat(ctx, runnerID)
	if err != nil {
		log.Printf("[etcd] Error checking runner %s online status: %v", runnerID, err)
		return false
	}
	return hb != nil
}

var _ storage.EtcdRunnerHeartbeat = (*Store)(nil)
