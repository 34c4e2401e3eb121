// Package scheduler 调度器核心实现
//
// 调度器负责将 queued 状态的作业分配到可用的 Runner 执行。
// 架构：Redis Streams 事件驱动 + 数据库保底轮询
//
// 主路径：Redis Streams 消费（实时、低延迟）
// 保底路径：数据库轮询（处理 Redis 写入失败的情况）
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"pipelines-admin/internal/apiserver/runner"
	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/shared/queue"
	"pipelines-admin/internal/shared/storage"
)

// Scheduler 作业调度器
//
// 调度器是控制面的核心组件，负责：
//   - 消费 Redis Streams 中的调度事件（主路径）
//   - 定期扫描数据库处理遗漏的作业（保底路径）
//   - 使用可配置的策略链选择合适的 Runner
//   - 更新作业状态和分配信息
type Scheduler struct {
	config         *Config
	store          storage.PersistentStore // 数据库存储层
	schedulerQueue queue.SchedulerQueue    // 调度队列（消费待调度的作业）
	runnerQueue    queue.RunnerJobQueue    // 节点队列（分配作业到节点）
	runnerManager  *runner.Manager
	strategyChain  *StrategyChain

	mu             sync.Mutex    // 保护 running 状态
	running        bool          // 调度器运行状态
	stopCh         chan struct{} // 停止信号通道
	fallbackEvery  time.Duration
	staleThreshold time.Duration
}

// NewScheduler 创建调度器实例
//
// 参数：
//   - store: 数据库存储层
//   - schedulerQueue: 调度队列（可为 nil，将只使用保底轮询）
//   - runnerQueue: 节点队列（可为 nil，将不通知节点）
//   - schedulerID: 当前调度器实例 ID
func NewScheduler(store storage.PersistentStore, schedulerQueue queue.SchedulerQueue, runnerQueue queue.RunnerJobQueue, schedulerID string) *Scheduler {
	config := DefaultConfig()
	if schedulerID != "" {
		config.SchedulerID = schedulerID
	}
	config.Validate()

	return newScheduler(store, schedulerQueue, runnerQueue, config)
}

// NewSchedulerWithConfig 使用自定义配置创建调度器
func NewSchedulerWithConfig(store storage.PersistentStore, schedulerQueue queue.SchedulerQueue, runnerQueue queue.RunnerJobQueue, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	return newScheduler(store, schedulerQueue, runnerQueue, config)
}

func newScheduler(store storage.PersistentStore, schedulerQueue queue.SchedulerQueue, runnerQueue queue.RunnerJobQueue, config *Config) *Scheduler {
	return &Scheduler{
		config:         config,
		store:          store,
		schedulerQueue: schedulerQueue,
		runnerQueue:    runnerQueue,
		runnerManager:  runner.NewManager(store),
		strategyChain:  config.BuildStrategyChain(),
		stopCh:         make(chan struct{}),
		fallbackEvery:  config.Fallback.Interval,
		staleThreshold: config.Fallback.StaleThreshold,
	}
}

func (s *Scheduler) SetFallbackConfig(every time.Duration, staleThreshold time.Duration) {
	if every > 0 {
		s.fallbackEvery = every
	}
	if staleThreshold > 0 {
		s.staleThreshold = staleThreshold
	}
}

// SetStrategyChain 设置自定义策略链
func (s *Scheduler) SetStrategyChain(chain *StrategyChain) {
	s.strategyChain = chain
}

// GetConfig 获取当前配置
func (s *Scheduler) GetConfig() *Config {
	return s.config
}

// Start 启动调度器
//
// 调度器启动后会运行两个并行循环：
//  1. Redis Streams 消费循环（主路径，实时响应）
//  2. 数据库保底轮询循环（保底路径，处理遗漏）
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	log.Printf("[scheduler.start] scheduler_id=%s queue_enabled=%v strategies=%v",
		s.config.SchedulerID, s.schedulerQueue != nil, s.config.Strategy.Chain)

	var wg sync.WaitGroup

	// 主路径：队列消费
	if s.schedulerQueue != nil {
		if err := s.schedulerQueue.CreateSchedulerConsumerGroup(ctx); err != nil {
			log.Printf("[scheduler.redis.group.failed] error=%v", err)
		} else {
			log.Printf("[scheduler.redis.group.created] group=schedulers")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.consumeRedisStream(ctx)
		}()
	}

	// 保底路径：数据库轮询
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.fallbackPolling(ctx)
	}()

	wg.Wait()
	log.Printf("[scheduler.stopped] scheduler_id=%s", s.config.SchedulerID)
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		close(s.stopCh)
		s.running = false
	}
}

// consumeRedisStream 消费 Redis Streams 中的调度事件
func (s *Scheduler) consumeRedisStream(ctx context.Context) {
	log.Printf("[scheduler.redis.start] consumer_id=%s", s.config.SchedulerID)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[scheduler.redis.stop] reason=context_cancelled")
			return
		case <-s.stopCh:
			log.Printf("[scheduler.redis.stop] reason=stop_signal")
			return
		default:
		}

		messages, err := s.schedulerQueue.ConsumeSchedulerJobs(ctx, s.config.SchedulerID,
			int64(s.config.Redis.ReadCount), s.config.Redis.ReadTimeout)
		if err != nil {
			log.Printf("[scheduler.redis.consume.failed] error=%v", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if len(messages) == 0 {
			continue
		}

		log.Printf("[scheduler.redis.received] count=%d", len(messages))

		for _, msg := range messages {
			startTime := time.Now()
			log.Printf("[scheduler.job.start] job_id=%s run_id=%s msg_id=%s source=redis",
				msg.JobID, msg.RunID, msg.ID)

			if err := s.scheduleJobByID(ctx, msg.JobID); err != nil {
				log.Printf("[scheduler.job.failed] job_id=%s error=%v", msg.JobID, err)
				continue
			}

			if err := s.schedulerQueue.AckSchedulerJob(ctx, msg.ID); err != nil {
				log.Printf("[scheduler.redis.ack.failed] job_id=%s msg_id=%s error=%v",
					msg.JobID, msg.ID, err)
			}

			delay := time.Since(msg.CreatedAt)
			duration := time.Since(startTime)
			log.Printf("[scheduler.job.success] job_id=%s msg_id=%s delay_ms=%d duration_ms=%d",
				msg.JobID, msg.ID, delay.Milliseconds(), duration.Milliseconds())
		}
	}
}

// fallbackPolling 保底轮询
func (s *Scheduler) fallbackPolling(ctx context.Context) {
	// 启动时立即执行一次
	s.processFallbackJobs(ctx)

	ticker := time.NewTicker(s.fallbackEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[scheduler.fallback.stop] reason=context_cancelled")
			return
		case <-s.stopCh:
			log.Printf("[scheduler.fallback.stop] reason=stop_signal")
			return
		case <-ticker.C:
			s.processFallbackJobs(ctx)
		}
	}
}

// processFallbackJobs 处理保底轮询
func (s *Scheduler) processFallbackJobs(ctx context.Context) {
	// 查找状态是 queued 但超过阈值时间没被调度的作业
	jobs, err := s.store.ListStaleQueuedJobs(ctx, s.staleThreshold)
	if err != nil {
		log.Printf("[scheduler.fallback.query.failed] error=%v", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	log.Printf("[scheduler.fallback.found] count=%d threshold=%s", len(jobs), s.staleThreshold)

	for _, job := range jobs {
		log.Printf("[scheduler.fallback.processing] job_id=%s created_at=%s source=fallback",
			job.ID, job.CreatedAt.Format(time.RFC3339))

		if err := s.scheduleJobByID(ctx, job.ID); err != nil {
			log.Printf("[scheduler.fallback.failed] job_id=%s error=%v", job.ID, err)
			continue
		}

		log.Printf("[scheduler.fallback.success] job_id=%s", job.ID)
	}
}

// scheduleJobByID 根据作业 ID 执行调度
func (s *Scheduler) scheduleJobByID(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		log.Printf("[scheduler.job.not_found] job_id=%s", jobID)
		return nil
	}

	if job.Status != model.JobStatusQueued {
		log.Printf("[scheduler.job.skip] job_id=%s status=%s reason=not_queued", jobID, job.Status)
		return nil
	}

	return s.scheduleJob(ctx, job)
}

// scheduleJob 执行单个作业的调度
func (s *Scheduler) scheduleJob(ctx context.Context, job *model.JobRun) error {
	// 获取可调度节点
	runners, err := s.runnerManager.ListSchedulableRunners(ctx)
	if err != nil {
		return err
	}
	if len(runners) == 0 {
		log.Printf("[scheduler.job.no_runners] job_id=%s", job.ID)
		return nil
	}

	// 构建在线节点 ID 集合
	onlineIDs := make(map[string]struct{}, len(runners))
	for _, r := range runners {
		onlineIDs[r.ID] = struct{}{}
	}

	// 处理离线节点上的僵尸作业
	s.runnerManager.RequeueJobsAssignedToOfflineRunners(ctx, onlineIDs, s.config.Requeue.OfflineThreshold)

	// 刷新各节点运行作业计数
	s.runnerManager.RefreshRunningCount(ctx, runners)

	// 解码作业快照（标签选择器和 direct 调度信息都在快照里）
	snapshot, err := job.DecodeSnapshot()
	if err != nil {
		log.Printf("[scheduler.job.snapshot.invalid] job_id=%s error=%v", job.ID, err)
	}

	// 构建调度请求
	req := &ScheduleRequest{
		Job:              job,
		Snapshot:         snapshot,
		CandidateRunners: runners,
		RunnerRunning:    s.runnerManager.GetRunnerRunning(),
	}

	// 使用策略链选择节点
	selected, reason := s.strategyChain.SelectRunner(ctx, req)
	if selected == nil {
		log.Printf("[scheduler.job.no_match] job_id=%s reason=%s", job.ID, reason)
		return nil
	}

	// 更新作业状态
	runnerID := selected.ID
	if err := s.store.UpdateJobStatus(ctx, job.ID, model.JobStatusAssigned, &runnerID); err != nil {
		return err
	}

	// 通知节点
	s.publishJobToRunner(ctx, runnerID, job.ID, job.RunID)

	s.runnerManager.IncrementRunning(runnerID)
	log.Printf("[scheduler.job.assigned] job_id=%s runner_id=%s reason=%s", job.ID, runnerID, reason)
	return nil
}

// publishJobToRunner 发布作业到节点的 Redis Stream
func (s *Scheduler) publishJobToRunner(ctx context.Context, runnerID, jobID, runID string) {
	if s.runnerQueue == nil {
		return
	}

	msgID, err := s.runnerQueue.PublishJobToRunner(ctx, runnerID, jobID, runID)
	if err != nil {
		log.Printf("[scheduler.notify.failed] runner_id=%s job_id=%s error=%v", runnerID, jobID, err)
		return
	}

	log.Printf("[scheduler.notify.success] runner_id=%s job_id=%s msg_id=%s", runnerID, jobID, msgID)
}
