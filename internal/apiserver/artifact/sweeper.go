package artifact

import (
	"context"
	"log"
	"sync"
	"time"

	"pipelines-admin/internal/shared/model"
)

// DefaultSweepInterval 保留清理默认周期
const DefaultSweepInterval = time.Hour

// sweepBatchSize 单次清理的最大产物数
const sweepBatchSize = 100

// SweeperStore 清理循环所需的存储接口
type SweeperStore interface {
	ListExpiredArtifacts(ctx context.Context, now time.Time, limit int) ([]*model.Artifact, error)
	DeleteArtifact(ctx context.Context, runID, name string) error
}

// Sweeper 产物保留清理循环
//
// 定期扫描过期产物，先删对象存储再删元数据行。
// 对象删除失败时保留元数据行，下一轮重试。
type Sweeper struct {
	store    SweeperStore
	blobs    BlobStore
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewSweeper 创建保留清理循环
func NewSweeper(store SweeperStore, blobs BlobStore) *Sweeper {
	return &Sweeper{
		store:    store,
		blobs:    blobs,
		interval: DefaultSweepInterval,
	}
}

// Start 启动清理循环
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	log.Printf("[artifact.sweeper.start] interval=%s", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop 停止清理循环
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	log.Printf("[artifact.sweeper.stop]")
}

// sweep 执行一轮清理，返回删除的产物数
func (s *Sweeper) sweep(ctx context.Context) int {
	expired, err := s.store.ListExpiredArtifacts(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		log.Printf("[artifact.sweeper.list.failed] err=%v", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	deleted := 0
	for _, a := range expired {
		if err := s.blobs.Delete(ctx, a.Path); err != nil {
			log.Printf("[artifact.sweeper.object.failed] run_id=%s name=%s err=%v", a.RunID, a.Name, err)
			continue
		}
		if err := s.store.DeleteArtifact(ctx, a.RunID, a.Name); err != nil {
			log.Printf("[artifact.sweeper.row.failed] run_id=%s name=%s err=%v", a.RunID, a.Name, err)
			continue
		}
		deleted++
	}

	log.Printf("[artifact.sweeper.swept] expired=%d deleted=%d", len(expired), deleted)
	return deleted
}
