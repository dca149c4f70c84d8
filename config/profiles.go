package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the preset for a deployment environment with
// environment variables applied on top. The result is not validated:
// production expects its DSN and broker URL from secrets, see LoadSecrets.
func LoadProfile(name string) (*Config, error) {
	var cfg *Config
	switch Environment(name) {
	case EnvDevelopment:
		cfg = developmentProfile()
	case EnvTesting:
		cfg = testingProfile()
	case EnvStaging:
		cfg = stagingProfile()
	case EnvProduction:
		cfg = productionProfile()
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	cfg.Profile = name
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return cfg, nil
}

func developmentProfile() *Config {
	cfg := DefaultConfig()
	cfg.Environment = EnvDevelopment
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"
	return cfg
}

func testingProfile() *Config {
	cfg := DefaultConfig()
	cfg.Environment = EnvTesting
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Scheduler.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "text"
	return cfg
}

func stagingProfile() *Config {
	cfg := DefaultConfig()
	cfg.Environment = EnvStaging
	cfg.Storage.Adapter = "sql"
	cfg.Scheduler.DistributedLock = true
	cfg.Security.EnableRateLimit = true
	cfg.Notifications.Mailer = "amqp"
	cfg.Logging.Level = "debug"
	return cfg
}

func productionProfile() *Config {
	cfg := DefaultConfig()
	cfg.Environment = EnvProduction
	cfg.Storage.Adapter = "sql"
	cfg.Storage.SQL.MaxOpenConns = 25
	cfg.Storage.SQL.MaxIdleConns = 10
	cfg.Server.CORSOrigin = ""
	cfg.Scheduler.DistributedLock = true
	cfg.Scheduler.LockTTL = time.Hour
	cfg.Security.EnableRateLimit = true
	cfg.Security.RateLimit.RequestsPerMinute = 30
	cfg.Notifications.Mailer = "amqp"
	return cfg
}
