// Package runner 执行节点代理
//
// 目录结构：
//   - runner.go:     Runner 主体（注册、心跳、作业领取）
//   - executor.go:   作业执行器（容器、步骤、产物）
//   - client.go:     控制面 API 客户端
//   - events.go:     事件上报缓冲
//   - workspace.go:  工作目录管理
//   - runnerid.go:   节点标识生成
//   - runtime/:      容器运行时抽象（docker 实现）
//
// 作业领取有两条路径：
//  1. Redis Streams 队列（推荐）：消费 runners:<id>:jobs 流
//  2. HTTP 轮询（降级）：定期拉取 GET /api/v1/runners/{id}/jobs
package runner

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	jobruntime "pipelines-admin/internal/runner/runtime"
	"pipelines-admin/internal/shared/model"
	"pipelines-admin/internal/shared/queue"
)

const (
	heartbeatInterval = 10 * time.Second
	pollInterval      = 3 * time.Second
	queueReadCount    = 5
	queueBlockTimeout = 5 * time.Second
)

// Config 节点配置
type Config struct {
	RunnerID      string            // 节点唯一标识
	APIServerURL  string            // API Server 地址
	WorkspaceDir  string            // 工作空间根目录
	Labels        map[string]string // 节点标签（用于调度匹配）
	MaxConcurrent int               // 最大并发作业数
	DefaultImage  string            // 快照未声明镜像时的默认镜像
	RunnerToken   string            // 共享密钥（X-Runner-Token 认证）
	HTTPClient    *http.Client      // 自定义 HTTP 客户端（可选，用于 TLS）
}

// Runner 执行节点核心结构
//
// 负责与控制面通信、执行作业容器、上报事件和产物。
type Runner struct {
	config    Config
	client    *APIClient
	runtime   jobruntime.Runtime
	workspace *WorkspaceManager
	jobQueue  queue.RunnerJobQueue // 可为 nil，降级为 HTTP 轮询

	mu      sync.Mutex
	running map[string]context.CancelFunc // 运行中的作业
	sem     chan struct{}                 // 并发作业数信号量
}

// New 创建 Runner 实例
//
// jobQueue 可为 nil，此时通过 HTTP 轮询领取作业。
func New(cfg Config, rt jobruntime.Runtime, jobQueue queue.RunnerJobQueue) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.DefaultImage == "" {
		cfg.DefaultImage = "ubuntu:24.04"
	}

	return &Runner{
		config:    cfg,
		client:    NewAPIClient(cfg.APIServerURL, cfg.HTTPClient, cfg.RunnerToken),
		runtime:   rt,
		workspace: NewWorkspaceManager(cfg.WorkspaceDir),
		jobQueue:  jobQueue,
		running:   make(map[string]context.CancelFunc),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start 启动节点主循环，阻塞到 ctx 取消
func (r *Runner) Start(ctx context.Context) error {
	if err := r.runtime.Ping(ctx); err != nil {
		return err
	}

	if err := r.register(ctx); err != nil {
		return err
	}

	log.Printf("[runner.started] runner_id=%s max_concurrent=%d", r.config.RunnerID, r.config.MaxConcurrent)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.heartbeatLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.jobLoop(ctx)
	}()

	wg.Wait()
	log.Println("[runner.stopped]")
	return nil
}

// register 向控制面注册本节点
func (r *Runner) register(ctx context.Context) error {
	hostname, _ := os.Hostname()
	ips := strings.Join(getLocalIPs(), ",")
	return r.client.Register(ctx, r.config.RunnerID, hostname, ips, r.config.Labels, r.config.MaxConcurrent)
}

// ============================================================================
// 心跳
// ============================================================================

func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	r.sendHeartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendHeartbeat(ctx)
		}
	}
}

func (r *Runner) sendHeartbeat(ctx context.Context) {
	r.mu.Lock()
	runningJobs := make([]string, 0, len(r.running))
	for jobID := range r.running {
		runningJobs = append(runningJobs, jobID)
	}
	r.mu.Unlock()

	directives, err := r.client.Heartbeat(ctx, r.config.RunnerID, len(runningJobs), runningJobs)
	if err != nil {
		log.Printf("[runner.heartbeat.failed] err=%v", err)
		return
	}

	// 执行控制面下发的取消指令
	if directives != nil {
		for _, jobID := range directives.CancelJobs {
			log.Printf("[runner.directive.cancel] job_id=%s", jobID)
			r.CancelJob(jobID)
		}
	}
}

// ============================================================================
// 作业领取
// ============================================================================

func (r *Runner) jobLoop(ctx context.Context) {
	if r.jobQueue != nil {
		r.consumeLoop(ctx)
		return
	}
	r.pollLoop(ctx)
}

// consumeLoop 从 Redis Streams 消费分配给本节点的作业
func (r *Runner) consumeLoop(ctx context.Context) {
	if err := r.jobQueue.CreateRunnerConsumerGroup(ctx, r.config.RunnerID); err != nil {
		log.Printf("[runner.queue.group.failed] err=%v fallback=poll", err)
		r.pollLoop(ctx)
		return
	}

	log.Printf("[runner.queue.consuming] runner_id=%s", r.config.RunnerID)

	consumerID := r.config.RunnerID + "-consumer"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := r.jobQueue.ConsumeRunnerJobs(ctx, r.config.RunnerID, consumerID, queueReadCount, queueBlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[runner.queue.consume.failed] err=%v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			r.dispatchJob(ctx, msg.JobID)
			if err := r.jobQueue.AckRunnerJob(ctx, r.config.RunnerID, msg.ID); err != nil {
				log.Printf("[runner.queue.ack.failed] msg_id=%s err=%v", msg.ID, err)
			}
		}
	}
}

// pollLoop 通过 HTTP 轮询领取作业（队列不可用的降级路径）
func (r *Runner) pollLoop(ctx context.Context) {
	log.Printf("[runner.polling] runner_id=%s interval=%s", r.config.RunnerID, pollInterval)

	r.checkAssignedJobs(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkAssignedJobs(ctx)
		}
	}
}

func (r *Runner) checkAssignedJobs(ctx context.Context) {
	jobs, err := r.client.FetchAssignedJobs(ctx, r.config.RunnerID)
	if err != nil {
		log.Printf("[runner.poll.failed] err=%v", err)
		return
	}

	for _, job := range jobs {
		if job.Status != model.JobStatusAssigned {
			continue
		}
		r.startJob(ctx, job)
	}
}

// dispatchJob 拉取作业详情并启动执行（队列路径）
func (r *Runner) dispatchJob(ctx context.Context, jobID string) {
	r.mu.Lock()
	if _, exists := r.running[jobID]; exists {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	job, err := r.client.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("[runner.job.fetch.failed] job_id=%s err=%v", jobID, err)
		return
	}
	if job == nil {
		log.Printf("[runner.job.not_found] job_id=%s", jobID)
		return
	}
	if job.IsTerminal() {
		// 队列消息晚于取消到达
		log.Printf("[runner.job.skip] job_id=%s status=%s", jobID, job.Status)
		return
	}

	r.startJob(ctx, job)
}

// startJob 启动作业执行 goroutine
//
// 并发数由信号量限制，信号量满时阻塞等待空位。
func (r *Runner) startJob(ctx context.Context, job *model.JobRun) {
	r.mu.Lock()
	if _, exists := r.running[job.ID]; exists {
		r.mu.Unlock()
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	r.running[job.ID] = cancel
	r.mu.Unlock()

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		cancel()
		r.mu.Lock()
		delete(r.running, job.ID)
		r.mu.Unlock()
		return
	}

	go func() {
		defer func() { <-r.sem }()
		r.executeJob(jobCtx, job)
	}()
}

// CancelJob 取消正在执行的作业
func (r *Runner) CancelJob(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.running[jobID]; ok {
		cancel()
	}
}

// ActiveJobs 返回当前执行中的作业数
func (r *Runner) ActiveJobs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// getLocalIPs 返回本机非回环 IPv4 地址
func getLocalIPs() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			ips = append(ips, ipnet.IP.String())
		}
	}
	return ips
}
