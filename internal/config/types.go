package config

import "time"

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Etcd      EtcdConfig      `yaml:"etcd"`
	Minio     MinioConfig     `yaml:"minio"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Artifact  ArtifactConfig  `yaml:"artifact"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	// Driver 存储驱动: postgres | sqlite | mongodb
	Driver  string `yaml:"driver"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Name    string `yaml:"name"`
	SSLMode string `yaml:"sslmode"`
	// Path sqlite 数据库文件路径
	Path string `yaml:"path"`
	// URI 完整连接串, 非空时优先生效（mongodb）
	URI string `yaml:"uri"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
	// URL 完整连接串, 非空时优先生效
	URL string `yaml:"url"`
}

type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
}

// MinioConfig 产物对象存储配置
type MinioConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	UseSSL   bool   `yaml:"use_ssl"`
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	NodeID   string                  `yaml:"node_id"`
	Strategy SchedulerStrategyConfig `yaml:"strategy"`
	Redis    SchedulerRedisConfig    `yaml:"redis"`
	Fallback SchedulerFallbackConfig `yaml:"fallback"`
	Requeue  SchedulerRequeueConfig  `yaml:"requeue"`
}

type SchedulerStrategyConfig struct {
	Default    string                    `yaml:"default"`
	Chain      []string                  `yaml:"chain"`
	LabelMatch SchedulerLabelMatchConfig `yaml:"label_match"`
}

type SchedulerLabelMatchConfig struct {
	LoadBalance bool `yaml:"load_balance"`
}

type SchedulerRedisConfig struct {
	ReadTimeout time.Duration `yaml:"read_timeout"`
	ReadCount   int           `yaml:"read_count"`
}

type SchedulerFallbackConfig struct {
	Interval       time.Duration `yaml:"interval"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

type SchedulerRequeueConfig struct {
	OfflineThreshold time.Duration `yaml:"offline_threshold"`
}

// ArtifactConfig 产物保留清理配置
type ArtifactConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}
