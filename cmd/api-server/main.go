// Package main API Server 入口
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipelines-admin/internal/apiserver/auth"
	"pipelines-admin/internal/apiserver/server"
	"pipelines-admin/internal/config"
	"pipelines-admin/internal/shared/cache"
	"pipelines-admin/internal/shared/infra"
	"pipelines-admin/internal/shared/objstore"
	"pipelines-admin/internal/shared/storage"
	"pipelines-admin/internal/shared/storage/driver/postgres"
	"pipelines-admin/internal/shared/storage/driver/sqlite"
	"pipelines-admin/internal/shared/storage/mongostore"
	"pipelines-admin/internal/shared/storage/repository"
	"pipelines-admin/internal/tlsutil"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换数据库和 Redis）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 初始化持久化存储（postgres | sqlite | mongodb）
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage [%s]: %v", cfg.DatabaseDriver, err)
	}
	defer store.Close()
	log.Printf("Connected to storage [%s]", cfg.DatabaseDriver)

	// 初始化 Redis（缓存、事件总线、消息队列）
	redisInfra, err := infra.NewRedisInfra(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisInfra.Close()

	// 节点心跳后端：默认 Redis，HEARTBEAT_BACKEND=etcd 切换租约模式
	var runnerCache cache.RunnerHeartbeatCache = redisInfra.Cache()
	if cfg.HeartbeatBackend == "etcd" {
		etcdCache, err := infra.NewEtcdHeartbeatCache(cfg.EtcdEndpoints, cfg.EtcdPrefix)
		if err != nil {
			log.Fatalf("Failed to connect to etcd: %v", err)
		}
		defer etcdCache.Close()
		runnerCache = etcdCache
		log.Printf("Heartbeat backend: etcd [%s]", cfg.EtcdEndpoints)
	}

	// 初始化 MinIO（产物字节存储）。不可用时产物路由不注册，其余功能照常
	blobs := openObjectStore(cfg)

	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = cfg.JWTSecret
	authCfg.RunnerToken = cfg.RunnerToken

	h := server.NewHandler(server.Deps{
		Store:          store,
		SchedulerQueue: redisInfra.Queue(),
		RunnerQueue:    redisInfra.Queue(),
		JobEventBus:    redisInfra.EventBus(),
		RunStateCache:  redisInfra.Cache(),
		RunnerCache:    runnerCache,
		Blobs:          blobs,
		AuthConfig:     authCfg,
		SchedulerID:    cfg.Scheduler.NodeID,
	})

	// 管理员账号引导（ADMIN_EMAIL/ADMIN_PASSWORD 非空时）
	if err := auth.EnsureAdminUser(store, os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		log.Printf("WARNING: ensure admin user: %v", err)
	}

	// 启动调度器、定时触发器、产物清理循环
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)
	defer h.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// TLS_ENABLED=true 时自动生成自签名证书并启用 HTTPS
	if os.Getenv("TLS_ENABLED") == "true" {
		certs, err := tlsutil.EnsureCerts(tlsutil.GenerateOptions{
			Hosts:   os.Getenv("TLS_HOSTS"),
			CertDir: os.Getenv("TLS_CERT_DIR"),
		})
		if err != nil {
			log.Fatalf("Failed to ensure TLS certificates: %v", err)
		}
		log.Printf("API Server listening on :%s (HTTPS)", cfg.APIPort)
		if err := srv.ListenAndServeTLS(certs.CertFile, certs.KeyFile); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	} else {
		log.Printf("API Server listening on :%s", cfg.APIPort)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}

	fmt.Println("Server stopped")
}

// openStore 按驱动打开持久化存储并完成自动建表
func openStore(cfg *config.Config) (storage.PersistentStore, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		dialect := sqlite.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		return repository.NewStore(db, dialect), nil
	case "mongodb":
		return mongostore.NewStore(cfg.DatabaseURL, cfg.MongoDatabase)
	default: // postgres
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return repository.NewStore(db, postgres.NewDialect()), nil
	}
}

// openObjectStore 初始化 MinIO，失败时返回 nil 并降级
func openObjectStore(cfg *config.Config) *objstore.Client {
	blobs, err := objstore.NewClient(objstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Printf("WARNING: MinIO unavailable, artifact routes disabled: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Printf("WARNING: MinIO bucket check failed, artifact routes disabled: %v", err)
		return nil
	}
	log.Printf("Connected to MinIO [%s/%s]", cfg.MinioEndpoint, cfg.MinioBucket)
	return blobs
}
