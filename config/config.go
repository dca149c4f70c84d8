package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"flinkly/adapters/sqlx"
	"flinkly/core"
	"flinkly/engine"
	"flinkly/scheduler"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"FLINKLY_ENV"`
	Profile     string      `json:"profile" env:"FLINKLY_PROFILE"`

	// Ops HTTP server
	Server ServerConfig `json:"server"`

	// Marketplace database
	Storage StorageConfig `json:"storage"`

	Logging LoggingConfig `json:"logging"`

	Metrics MetricsConfig `json:"metrics"`

	Security SecurityConfig `json:"security"`

	// Job timetable and locking
	Scheduler SchedulerConfig `json:"scheduler"`

	// Seller level thresholds
	Levels LevelsConfig `json:"levels"`

	// Mail delivery, webhooks and digest tuning
	Notifications NotificationsConfig `json:"notifications"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled           bool          `json:"enabled" env:"FLINKLY_SERVER_ENABLED"`
	Address           string        `json:"address" env:"FLINKLY_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"FLINKLY_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"FLINKLY_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"FLINKLY_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"FLINKLY_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"FLINKLY_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"FLINKLY_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"FLINKLY_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string     `json:"adapter" env:"FLINKLY_STORAGE_ADAPTER"`
	SQL     SQLConfig  `json:"sql,omitempty"`
	File    FileConfig `json:"file,omitempty"`
}

// SQLConfig holds database connection settings for the sql adapter
type SQLConfig struct {
	Driver          string        `json:"driver" env:"FLINKLY_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" env:"FLINKLY_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"FLINKLY_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"FLINKLY_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"FLINKLY_SQL_CONN_MAX_LIFETIME"`
}

// AdapterConfig converts to the sqlx adapter configuration.
func (s SQLConfig) AdapterConfig() sqlx.Config {
	cfg := sqlx.DefaultConfig(sqlx.Driver(s.Driver))
	cfg.DSN = s.DSN
	if s.MaxOpenConns > 0 {
		cfg.MaxOpenConns = s.MaxOpenConns
	}
	if s.MaxIdleConns > 0 {
		cfg.MaxIdleConns = s.MaxIdleConns
	}
	if s.ConnMaxLifetime > 0 {
		cfg.ConnMaxLifetime = s.ConnMaxLifetime
	}
	return cfg
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"FLINKLY_STORAGE_FILE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"FLINKLY_LOG_LEVEL"`
	Format     string            `json:"format" env:"FLINKLY_LOG_FORMAT"`
	Output     string            `json:"output" env:"FLINKLY_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"FLINKLY_LOG_ATTRIBUTES"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"FLINKLY_METRICS_ENABLED"`
	Path    string `json:"path" env:"FLINKLY_METRICS_PATH"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"FLINKLY_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"FLINKLY_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"FLINKLY_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"FLINKLY_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"FLINKLY_SECURITY_RATE_LIMIT_CLEANUP"`
}

// SchedulerConfig holds the job timetable
type SchedulerConfig struct {
	Enabled         bool          `json:"enabled" env:"FLINKLY_SCHEDULER_ENABLED"`
	Timezone        string        `json:"timezone" env:"FLINKLY_SCHEDULER_TIMEZONE"`
	UpgradeSchedule string        `json:"upgrade_schedule" env:"FLINKLY_SCHEDULER_UPGRADE_SCHEDULE"`
	DigestSchedule  string        `json:"digest_schedule" env:"FLINKLY_SCHEDULER_DIGEST_SCHEDULE"`
	JobTimeout      time.Duration `json:"job_timeout" env:"FLINKLY_SCHEDULER_JOB_TIMEOUT"`
	LockTTL         time.Duration `json:"lock_ttl" env:"FLINKLY_SCHEDULER_LOCK_TTL"`
	// DistributedLock uses Redis for job locks and run history.
	DistributedLock bool        `json:"distributed_lock" env:"FLINKLY_SCHEDULER_DISTRIBUTED_LOCK"`
	Redis           RedisConfig `json:"redis,omitempty"`
}

// Timetable converts to the scheduler job timetable.
func (s SchedulerConfig) Timetable() scheduler.Timetable {
	return scheduler.Timetable{UpgradeSpec: s.UpgradeSchedule, DigestSpec: s.DigestSchedule, Timeout: s.JobTimeout}
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `json:"addr" env:"FLINKLY_REDIS_ADDR"`
	Password string `json:"password,omitempty" env:"FLINKLY_REDIS_PASSWORD"`
	DB       int    `json:"db" env:"FLINKLY_REDIS_DB"`
}

// LevelsConfig overrides entries of the default requirement table. Levels
// not listed keep their default thresholds.
type LevelsConfig struct {
	Requirements map[string]core.SellerStats `json:"requirements,omitempty"`
}

// Table merges the overrides onto the defaults and validates the result.
func (l LevelsConfig) Table() (core.Requirements, error) {
	table := core.DefaultRequirements()
	for name, stats := range l.Requirements {
		lvl, err := core.ParseSellerLevel(name)
		if err != nil {
			return nil, err
		}
		table[lvl] = stats
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// NotificationsConfig holds mail delivery and digest settings
type NotificationsConfig struct {
	// Mailer is "log" or "amqp".
	Mailer          string        `json:"mailer" env:"FLINKLY_MAILER"`
	AMQPURL         string        `json:"amqp_url,omitempty" env:"FLINKLY_AMQP_URL"`
	Exchange        string        `json:"exchange" env:"FLINKLY_AMQP_EXCHANGE"`
	LevelUpEmails   bool          `json:"level_up_emails" env:"FLINKLY_NOTIFY_LEVEL_UP"`
	Webhooks        []string      `json:"webhooks,omitempty" env:"FLINKLY_WEBHOOK_URLS"`
	WebhookSecret   string        `json:"webhook_secret,omitempty" env:"FLINKLY_WEBHOOK_SECRET"`
	DigestWindow    time.Duration `json:"digest_window" env:"FLINKLY_DIGEST_WINDOW"`
	DigestMaxGigs   int           `json:"digest_max_gigs" env:"FLINKLY_DIGEST_MAX_GIGS"`
	DigestMaxOrders int           `json:"digest_max_orders" env:"FLINKLY_DIGEST_MAX_ORDERS"`
}

// DigestOptions converts to engine digest options.
func (n NotificationsConfig) DigestOptions() engine.DigestOptions {
	return engine.DigestOptions{Window: n.DigestWindow, MaxGigs: n.DigestMaxGigs, MaxOrders: n.DigestMaxOrders}
}

// loadDotEnv reads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from .env and environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Environment variables override file values
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Enabled:           true,
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			SQL: SQLConfig{
				Driver:          string(sqlx.DriverPostgres),
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
			},
			File: FileConfig{
				Path: "./data/flinkly.json",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			Timezone:        scheduler.DefaultTimezone,
			UpgradeSchedule: scheduler.DefaultUpgradeSpec,
			DigestSchedule:  scheduler.DefaultDigestSpec,
			LockTTL:         scheduler.DefaultLockTTL,
			Redis:           RedisConfig{Addr: "localhost:6379"},
		},
		Notifications: NotificationsConfig{
			Mailer:          "log",
			Exchange:        "flinkly.notifications",
			LevelUpEmails:   true,
			DigestWindow:    7 * 24 * time.Hour,
			DigestMaxGigs:   5,
			DigestMaxOrders: 5,
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var p problems
	if c.Environment == "" {
		p.addf("environment cannot be empty")
	}
	p.section("server", c.Server.Validate())
	p.section("storage", c.Storage.Validate())
	p.section("logging", c.Logging.Validate())
	p.section("metrics", c.Metrics.Validate())
	p.section("security", c.Security.Validate())
	p.section("scheduler", c.Scheduler.Validate())
	if _, err := c.Levels.Table(); err != nil {
		p.section("levels", err)
	}
	p.section("notifications", c.Notifications.Validate())
	return p.err()
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Scheduler.Redis.Password != "" {
		cfg.Scheduler.Redis.Password = "[REDACTED]"
	}
	if cfg.Notifications.AMQPURL != "" {
		cfg.Notifications.AMQPURL = "[REDACTED]"
	}
	if cfg.Notifications.WebhookSecret != "" {
		cfg.Notifications.WebhookSecret = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
