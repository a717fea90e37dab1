package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"codelab/internal/common/cache"
	"codelab/internal/common/db"
	"codelab/internal/common/mq"
	"codelab/internal/common/storage"
	"codelab/internal/compilation/repository"
	"codelab/internal/compilation/service"
	"codelab/internal/sandbox"
	"codelab/internal/sandbox/engine"
	"codelab/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second

	envJWTSecret = "CODELAB_JWT_SECRET"
	envDBDSN     = "CODELAB_DB_DSN"
	envRedisAddr = "CODELAB_REDIS_ADDR"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// AuthConfig holds access token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	Issuer    string `yaml:"issuer"`
}

// LanguageConfig overrides the built-in toolchain of one language.
type LanguageConfig struct {
	CompileCmd       string   `yaml:"compileCmd"`
	RunCmd           string   `yaml:"runCmd"`
	Env              []string `yaml:"env"`
	CompileTimeoutMs int64    `yaml:"compileTimeoutMs"`
	RunTimeoutMs     int64    `yaml:"runTimeoutMs"`
	RunMemoryMB      int64    `yaml:"runMemoryMB"`
}

// SandboxConfig holds executor and engine settings.
type SandboxConfig struct {
	ScratchRoot        string                    `yaml:"scratchRoot"`
	MaxConcurrent      int64                     `yaml:"maxConcurrent"`
	QueueWait          time.Duration             `yaml:"queueWait"`
	ExecutionTimeout   time.Duration             `yaml:"executionTimeout"`
	DiagnosticMaxBytes int                       `yaml:"diagnosticMaxBytes"`
	OutputLimitBytes   int64                     `yaml:"outputLimitBytes"`
	HelperPath         string                    `yaml:"helperPath"`
	UseHelper          bool                      `yaml:"useHelper"`
	SeccompProfile     string                    `yaml:"seccompProfile"`
	EnableSeccomp      bool                      `yaml:"enableSeccomp"`
	EnableCgroup       bool                      `yaml:"enableCgroup"`
	CgroupRoot         string                    `yaml:"cgroupRoot"`
	Languages          map[string]LanguageConfig `yaml:"languages"`
}

// CompilationConfig holds orchestrator settings.
type CompilationConfig struct {
	MaxCodeBytes  int                     `yaml:"maxCodeBytes"`
	RateLimit     service.RateLimitConfig `yaml:"rateLimit"`
	LockTTL       time.Duration           `yaml:"lockTTL"`
	LockWait      time.Duration           `yaml:"lockWait"`
	CacheTTL      time.Duration           `yaml:"cacheTTL"`
	CacheEmptyTTL time.Duration           `yaml:"cacheEmptyTTL"`
	Timeouts      service.TimeoutConfig   `yaml:"timeouts"`
}

// EventsConfig selects the event bus.
type EventsConfig struct {
	Driver    string          `yaml:"driver"`
	Topic     string          `yaml:"topic"`
	Kafka     mq.KafkaConfig  `yaml:"kafka"`
	Nats      mq.NatsConfig   `yaml:"nats"`
	Projector ProjectorConfig `yaml:"projector"`
}

// ProjectorConfig controls the error-kind projector subscription.
type ProjectorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
}

// ArchiveConfig controls diagnostic archival.
type ArchiveConfig struct {
	Enabled bool                `yaml:"enabled"`
	Prefix  string              `yaml:"prefix"`
	MinIO   storage.MinIOConfig `yaml:"minio"`
}

// AppConfig holds compile-service configuration.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      logger.Config     `yaml:"logger"`
	Database    db.Config         `yaml:"database"`
	Redis       cache.RedisConfig `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Compilation CompilationConfig `yaml:"compilation"`
	Events      EventsConfig      `yaml:"events"`
	Archive     ArchiveConfig     `yaml:"archive"`
}

// loadDotEnv reads an optional .env file into the process environment.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file failed: %w", err)
	}
	return nil
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
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(envJWTSecret)); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(envDBDSN)); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(envRedisAddr)); v != "" {
		cfg.Redis.Addr = v
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Sandbox.ScratchRoot == "" {
		cfg.Sandbox.ScratchRoot = os.TempDir()
	}
	if cfg.Sandbox.MaxConcurrent == 0 {
		cfg.Sandbox.MaxConcurrent = 4
	}
	if cfg.Sandbox.QueueWait == 0 {
		cfg.Sandbox.QueueWait = 10 * time.Second
	}
	if cfg.Sandbox.ExecutionTimeout == 0 {
		cfg.Sandbox.ExecutionTimeout = 30 * time.Second
	}
	if cfg.Sandbox.OutputLimitBytes == 0 {
		cfg.Sandbox.OutputLimitBytes = 1 << 20
	}

	if cfg.Compilation.RateLimit.Window == 0 {
		cfg.Compilation.RateLimit.Window = time.Minute
	}
	if cfg.Compilation.Timeouts.DB == 0 {
		cfg.Compilation.Timeouts.DB = 3 * time.Second
	}
	if cfg.Compilation.Timeouts.Cache == 0 {
		cfg.Compilation.Timeouts.Cache = time.Second
	}
	if cfg.Compilation.Timeouts.MQ == 0 {
		cfg.Compilation.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Compilation.Timeouts.Storage == 0 {
		cfg.Compilation.Timeouts.Storage = 5 * time.Second
	}

	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "none"
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "codelab.attempts"
	}
}

func (c *AppConfig) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwtSecret is required (or set %s)", envJWTSecret)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required (or set %s)", envDBDSN)
	}
	switch c.Events.Driver {
	case "none", "kafka", "nats":
	default:
		return fmt.Errorf("events.driver %q is not supported", c.Events.Driver)
	}
	if c.Archive.Enabled && c.Archive.MinIO.Bucket == "" {
		return fmt.Errorf("archive.minio.bucket is required when archival is enabled")
	}
	for name := range c.Sandbox.Languages {
		if _, err := sandbox.ParseLanguage(name); err != nil {
			return fmt.Errorf("sandbox.languages: %w", err)
		}
	}
	return nil
}

func (c SandboxConfig) engineConfig() engine.Config {
	return engine.Config{
		HelperPath:       c.HelperPath,
		UseHelper:        c.UseHelper,
		SeccompProfile:   c.SeccompProfile,
		EnableSeccomp:    c.EnableSeccomp,
		EnableCgroup:     c.EnableCgroup,
		CgroupRoot:       c.CgroupRoot,
		OutputLimitBytes: c.OutputLimitBytes,
	}
}

func (c SandboxConfig) executorConfig() sandbox.Config {
	languages := make(map[sandbox.Language]sandbox.LanguageSpec, len(c.Languages))
	for name, lc := range c.Languages {
		lang, err := sandbox.ParseLanguage(name)
		if err != nil {
			continue
		}
		languages[lang] = sandbox.LanguageSpec{
			CompileCmd:    lc.CompileCmd,
			RunCmd:        lc.RunCmd,
			Env:           lc.Env,
			CompileLimits: engine.Limits{WallTimeMs: lc.CompileTimeoutMs},
			RunLimits:     engine.Limits{WallTimeMs: lc.RunTimeoutMs, MemoryMB: lc.RunMemoryMB},
		}
	}
	return sandbox.Config{
		ScratchRoot:        c.ScratchRoot,
		MaxConcurrent:      c.MaxConcurrent,
		QueueWait:          c.QueueWait,
		ExecutionTimeout:   c.ExecutionTimeout,
		DiagnosticMaxBytes: c.DiagnosticMaxBytes,
		OutputLimitBytes:   c.OutputLimitBytes,
		Languages:          languages,
	}
}

func (c CompilationConfig) cacheTTL() repository.CacheTTL {
	return repository.CacheTTL{TTL: c.CacheTTL, EmptyTTL: c.CacheEmptyTTL}
}

func (c ProjectorConfig) subscribeOptions() *mq.SubscribeOptions {
	opts := &mq.SubscribeOptions{
		ConsumerGroup:   c.ConsumerGroup,
		Concurrency:     c.Concurrency,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		DeadLetterTopic: c.DeadLetterTopic,
	}
	opts.SetDefaults()
	return opts
}
