// Package main 执行节点入口
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"pipelines-admin/internal/runner"
	"pipelines-admin/internal/runner/runtime/docker"
	"pipelines-admin/internal/shared/queue"
	queueredis "pipelines-admin/internal/shared/queue/redis"
	"pipelines-admin/internal/tlsutil"
)

func main() {
	runnerID := flag.String("id", "", "节点 ID（默认从机器指纹生成）")
	apiServer := flag.String("api-server", "", "API Server 地址")
	workspaceDir := flag.String("workspace", "", "作业工作空间根目录")
	maxConcurrent := flag.Int("max-concurrent", 0, "最大并发作业数")
	defaultImage := flag.String("default-image", "", "快照未声明镜像时的默认镜像")
	flag.Parse()

	log.Println("Starting Runner...")

	// 环境变量 > 命令行参数 > 默认值
	cfg := runner.Config{
		RunnerID:      firstNonEmpty(os.Getenv("RUNNER_ID"), *runnerID, runner.GenerateRunnerID()),
		APIServerURL:  firstNonEmpty(os.Getenv("API_SERVER_URL"), *apiServer, "http://localhost:8080"),
		WorkspaceDir:  firstNonEmpty(os.Getenv("WORKSPACE_DIR"), *workspaceDir),
		DefaultImage:  firstNonEmpty(os.Getenv("DEFAULT_IMAGE"), *defaultImage),
		RunnerToken:   os.Getenv("RUNNER_TOKEN"),
		Labels:        parseLabels(os.Getenv("RUNNER_LABELS")),
		MaxConcurrent: *maxConcurrent,
	}
	if v := os.Getenv("MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrent = n
		}
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = map[string]string{"os": "linux"}
	}

	// TLS 客户端配置：CA 文件校验自签名控制面，无 CA 时跳过验证
	if strings.HasPrefix(cfg.APIServerURL, "https://") {
		cfg.HTTPClient = buildTLSClient(os.Getenv("TLS_CA_FILE"))
	}

	log.Printf("Runner ID: %s", cfg.RunnerID)
	log.Printf("API Server: %s", cfg.APIServerURL)
	log.Printf("Labels: %v", cfg.Labels)

	rt, err := docker.New()
	if err != nil {
		log.Fatalf("Failed to connect to Docker: %v", err)
	}
	defer rt.Close()

	// 可选：REDIS_URL 非空时直连队列消费作业，否则 HTTP 轮询
	var jobQueue queue.RunnerJobQueue
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		qs, err := queueredis.NewStoreFromURL(redisURL)
		if err != nil {
			log.Printf("WARNING: Redis unavailable, falling back to HTTP polling: %v", err)
		} else {
			defer qs.Close()
			jobQueue = qs
			log.Println("Job acquisition: Redis Streams")
		}
	}
	if jobQueue == nil {
		log.Println("Job acquisition: HTTP polling")
	}

	r := runner.New(cfg, rt, jobQueue)

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutting down Runner...")
		cancel()
	}()

	if err := r.Start(ctx); err != nil {
		log.Fatalf("Runner error: %v", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseLabels 解析 "k1=v1,k2=v2" 形式的标签
func parseLabels(s string) map[string]string {
	labels := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			labels[kv[0]] = kv[1]
		}
	}
	return labels
}

// buildTLSClient 构建校验自签名控制面证书的 HTTP 客户端
func buildTLSClient(caFile string) *http.Client {
	if caFile == "" {
		log.Println("WARNING: HTTPS without TLS_CA_FILE, skipping certificate verification")
		return &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}

	tlsCfg, err := tlsutil.ClientTLSConfig(caFile)
	if err != nil {
		log.Fatalf("Failed to load TLS CA: %v", err)
	}
	log.Printf("TLS enabled, CA: %s", caFile)
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}
}
