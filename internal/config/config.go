// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（密码、密钥）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// Config 应用配置（最终使用的配置）
type Config struct {
	Env Environment

	// DatabaseDriver 持久化存储驱动: postgres | sqlite | mongodb
	DatabaseDriver string
	DatabaseURL    string
	MongoDatabase  string

	RedisURL      string
	EtcdEndpoints string
	EtcdPrefix    string

	// HeartbeatBackend 节点心跳后端: redis | etcd
	HeartbeatBackend string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	APIPort     string
	JWTSecret   string
	RunnerToken string

	Scheduler SchedulerConfig
	Artifact  ArtifactConfig
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	// 加载 .env
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// 解析环境
	env := parseEnv(getEnv("APP_ENV", "dev"))

	// 加载 YAML 配置
	yamlCfg := loadYAMLConfig(env)

	// 从环境变量获取敏感信息
	dbPassword := getEnv("DB_PASSWORD", "pipelines_dev_password")
	databaseURL := firstEnv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = buildDatabaseURL(yamlCfg.Database, dbPassword)
	}

	// 构建最终配置
	cfg := &Config{
		Env:              env,
		DatabaseDriver:   detectDatabaseDriver(yamlCfg.Database.Driver, databaseURL),
		DatabaseURL:      databaseURL,
		MongoDatabase:    yamlCfg.Database.Name,
		RedisURL:         buildRedisURL(yamlCfg.Redis),
		EtcdEndpoints:    strings.Join(yamlCfg.Etcd.Endpoints, ","),
		EtcdPrefix:       yamlCfg.Etcd.Prefix,
		HeartbeatBackend: getEnv("HEARTBEAT_BACKEND", "redis"),
		MinioEndpoint:    getEnv("MINIO_ENDPOINT", yamlCfg.Minio.Endpoint),
		MinioAccessKey:   getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:   getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:      yamlCfg.Minio.Bucket,
		MinioUseSSL:      yamlCfg.Minio.UseSSL,
		APIPort:          getEnv("API_PORT", yamlCfg.Server.Port),
		JWTSecret:        getEnv("JWT_SECRET", "pipelines-dev-secret"),
		RunnerToken:      getEnv("RUNNER_TOKEN", ""),
		Scheduler:        yamlCfg.Scheduler,
		Artifact:         yamlCfg.Artifact,
	}

	// 验证并填充调度器与产物清理默认值
	cfg.Scheduler.validate()
	cfg.Artifact.validate()

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	// 1. 初始化默认值
	cfg := &YAMLConfig{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 5432, User: "pipelines", Name: "pipelines_admin", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6380, DB: 0},
		Etcd:     EtcdConfig{Endpoints: []string{"localhost:2379"}, Prefix: "/pipelines"},
		Minio:    MinioConfig{Endpoint: "localhost:9000", Bucket: "pipelines-artifacts"},
		Scheduler: SchedulerConfig{
			NodeID: "scheduler-default",
			Strategy: SchedulerStrategyConfig{
				Default:    "label_match",
				Chain:      []string{"direct", "label_match"},
				LabelMatch: SchedulerLabelMatchConfig{LoadBalance: true},
			},
			Redis:    SchedulerRedisConfig{ReadTimeout: 5 * time.Second, ReadCount: 10},
			Fallback: SchedulerFallbackConfig{Interval: 5 * time.Minute, StaleThreshold: 5 * time.Minute},
			Requeue:  SchedulerRequeueConfig{OfflineThreshold: 30 * time.Second},
		},
		Artifact: ArtifactConfig{SweepInterval: time.Hour},
	}

	// 2. 加载 common.yaml（公共配置）
	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	// 3. 加载 {env}.yaml（环境特定配置，覆盖公共配置）
	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}
