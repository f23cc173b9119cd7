package main

import (
	"fmt"
	"os"
	"time"

	"arenajudge/internal/common/cache"
	"arenajudge/internal/common/db"
	"arenajudge/internal/common/http/middleware"
	"arenajudge/internal/common/mq"
	"arenajudge/internal/common/storage"
	"arenajudge/internal/judge/language"
	"arenajudge/internal/judge/sandbox/engine"
	"arenajudge/internal/judge/sandbox/profile"
	"arenajudge/internal/submit/service"
	"arenajudge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultWorkRoot        = "/var/lib/arenajudge/work"
	defaultMaxCodeBytes    = 64 * 1024
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// WatchPollInterval is how often the websocket watch re-reads the status.
	WatchPollInterval time.Duration `yaml:"watchPollInterval"`
}

// KafkaConfig holds Kafka settings. Without brokers submissions are judged in process.
type KafkaConfig struct {
	mq.KafkaConfig `yaml:",inline"`

	Topics          service.TopicConfig `yaml:"topics"`
	ContestWeight   int                 `yaml:"contestWeight"`
	PracticeWeight  int                 `yaml:"practiceWeight"`
	RetryWeight     int                 `yaml:"retryWeight"`
	RetryTopic      string              `yaml:"retryTopic"`
	DeadLetterTopic string              `yaml:"deadLetterTopic"`
	StatusTopic     string              `yaml:"statusTopic"`
	ConsumerGroup   string              `yaml:"consumerGroup"`
	StatusGroup     string              `yaml:"statusGroup"`
	Concurrency     int                 `yaml:"concurrency"`
	MaxRetries      int                 `yaml:"maxRetries"`
	RetryDelay      time.Duration       `yaml:"retryDelay"`
	PoolRetryMax    int                 `yaml:"poolRetryMax"`
	PoolRetryBase   time.Duration       `yaml:"poolRetryBaseDelay"`
	PoolRetryMaxD   time.Duration       `yaml:"poolRetryMaxDelay"`
	PublishTimeout  time.Duration       `yaml:"publishTimeout"`
}

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// WorkerConfig holds scheduler settings.
type WorkerConfig struct {
	PoolSize          int           `yaml:"poolSize"`
	QueueSize         int           `yaml:"queueSize"`
	PrioritizeContest bool          `yaml:"prioritizeContest"`
	MaxRetries        int           `yaml:"maxRetries"`
	RetryBaseDelay    time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay     time.Duration `yaml:"retryMaxDelay"`
	Timeout           time.Duration `yaml:"timeout"`
}

// JudgeConfig holds judge work settings.
type JudgeConfig struct {
	WorkRoot string `yaml:"workRoot"`
	// MountBox bind-mounts each box into the sandbox instead of sharing the host path.
	MountBox       bool          `yaml:"mountBox"`
	IORetries      int           `yaml:"ioRetries"`
	IORetryBase    time.Duration `yaml:"ioRetryBaseDelay"`
	IORetryMax     time.Duration `yaml:"ioRetryMaxDelay"`
	ProblemTimeout time.Duration `yaml:"problemTimeout"`
	StorageTimeout time.Duration `yaml:"storageTimeout"`
	StatusTimeout  time.Duration `yaml:"statusTimeout"`
	StatusTTL      time.Duration `yaml:"statusTTL"`
	ProblemTTL     time.Duration `yaml:"problemCacheTTL"`
}

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	engine.Config `yaml:",inline"`
	Profiles      []profile.TaskProfile `yaml:"profiles"`
}

// SubmitConfig holds intake settings.
type SubmitConfig struct {
	MaxCodeBytes   int                        `yaml:"maxCodeBytes"`
	MaxSourceBytes int64                      `yaml:"maxSourceBytes"`
	SourceBucket   string                     `yaml:"sourceBucket"`
	IdempotencyTTL time.Duration              `yaml:"idempotencyTTL"`
	UserRateLimit  int64                      `yaml:"userRateLimit"`
	UserRateWindow time.Duration              `yaml:"userRateWindow"`
	IPRateLimit    middleware.RateLimitPolicy `yaml:"ipRateLimit"`
	SubmissionTTL  time.Duration              `yaml:"submissionCacheTTL"`
	DBTimeout      time.Duration              `yaml:"dbTimeout"`
	CacheTimeout   time.Duration              `yaml:"cacheTimeout"`
	StorageTimeout time.Duration              `yaml:"storageTimeout"`
	StatusTimeout  time.Duration              `yaml:"statusTimeout"`
}

// RankingConfig holds leaderboard settings.
type RankingConfig struct {
	CacheTTL    time.Duration `yaml:"cacheTTL"`
	MaxPageSize int           `yaml:"maxPageSize"`
	DBTimeout   time.Duration `yaml:"dbTimeout"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server    ServerConfig               `yaml:"server"`
	Logger    logger.Config              `yaml:"logger"`
	Kafka     KafkaConfig                `yaml:"kafka"`
	Database  db.MySQLConfig             `yaml:"database"`
	Redis     cache.RedisConfig          `yaml:"redis"`
	MinIO     storage.MinIOConfig        `yaml:"minio"`
	Worker    WorkerConfig               `yaml:"worker"`
	Judge     JudgeConfig                `yaml:"judge"`
	Sandbox   SandboxConfig              `yaml:"sandbox"`
	Languages map[string]language.Config `yaml:"languages"`
	Submit    SubmitConfig               `yaml:"submit"`
	Ranking   RankingConfig              `yaml:"ranking"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.MinIO.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	applyRedisDefaults(&cfg.Redis)
	applyServerDefaults(&cfg.Server)
	applyKafkaDefaults(&cfg.Kafka)
	applyWorkerDefaults(&cfg.Worker)

	if cfg.Judge.WorkRoot == "" {
		cfg.Judge.WorkRoot = defaultWorkRoot
	}
	if cfg.Submit.MaxCodeBytes <= 0 {
		cfg.Submit.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.Submit.MaxSourceBytes <= 0 {
		cfg.Submit.MaxSourceBytes = int64(cfg.Submit.MaxCodeBytes)
	}
	if cfg.Submit.SourceBucket == "" {
		cfg.Submit.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Submit.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	return &cfg, nil
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = defaultHTTPAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	// Websocket watches outlive the write timeout, so it stays opt-in.
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
}

func applyKafkaDefaults(cfg *KafkaConfig) {
	if cfg.Topics.Contest == "" {
		cfg.Topics.Contest = "judge.submit.contest"
	}
	if cfg.Topics.Practice == "" {
		cfg.Topics.Practice = "judge.submit.practice"
	}
	if cfg.RetryTopic == "" {
		cfg.RetryTopic = "judge.retry"
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = "judge.dead"
	}
	if cfg.StatusTopic == "" {
		cfg.StatusTopic = "judge.status.final"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "judge-service"
	}
	if cfg.StatusGroup == "" {
		cfg.StatusGroup = "judge-service-status"
	}
	if cfg.ContestWeight <= 0 {
		cfg.ContestWeight = 8
	}
	if cfg.PracticeWeight <= 0 {
		cfg.PracticeWeight = 4
	}
	if cfg.RetryWeight <= 0 {
		cfg.RetryWeight = 2
	}
	if cfg.PoolRetryMax <= 0 {
		cfg.PoolRetryMax = 5
	}
	if cfg.PoolRetryBase == 0 {
		cfg.PoolRetryBase = time.Second
	}
	if cfg.PoolRetryMaxD == 0 {
		cfg.PoolRetryMaxD = 30 * time.Second
	}
}

func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.PoolSize * 16
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (k KafkaConfig) weightedTopics() []mq.WeightedTopic {
	return []mq.WeightedTopic{
		{Topic: k.Topics.Contest, Weight: k.ContestWeight},
		{Topic: k.Topics.Practice, Weight: k.PracticeWeight},
		{Topic: k.RetryTopic, Weight: k.RetryWeight},
	}
}
