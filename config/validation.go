package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"flinkly/adapters/sqlx"
)

// problems collects validation messages of one section.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

// oneOf records a problem when value is not in allowed.
func (p *problems) oneOf(field, value string, allowed ...string) {
	if !slices.Contains(allowed, value) {
		p.addf("%s must be one of: %s", field, strings.Join(allowed, ", "))
	}
}

// positive records a problem for each zero or negative duration.
func (p *problems) positive(fields map[string]time.Duration) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if fields[name] <= 0 {
			p.addf("%s must be positive", name)
		}
	}
}

// section nests the error of a sub-config under its name.
func (p *problems) section(name string, err error) {
	if err != nil {
		p.addf("%s config: %v", name, err)
	}
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return errors.New(strings.Join(p, "; "))
}

// Validate validates server configuration. A disabled server is not checked.
func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	var p problems
	if s.Address == "" {
		p.addf("address cannot be empty")
	}
	p.positive(map[string]time.Duration{
		"read_timeout":        s.ReadTimeout,
		"write_timeout":       s.WriteTimeout,
		"idle_timeout":        s.IdleTimeout,
		"read_header_timeout": s.ReadHeaderTimeout,
		"shutdown_timeout":    s.ShutdownTimeout,
	})
	return p.err()
}

// Validate validates storage configuration and the selected adapter's section.
func (s *StorageConfig) Validate() error {
	var p problems
	p.oneOf("adapter", s.Adapter, "memory", "sql", "file")
	switch s.Adapter {
	case "file":
		p.section("file", s.File.Validate())
	case "sql":
		p.section("sql", s.SQL.Validate())
	}
	return p.err()
}

func (s *SQLConfig) Validate() error {
	var p problems
	p.oneOf("driver", s.Driver, string(sqlx.DriverPostgres), string(sqlx.DriverMySQL))
	if s.DSN == "" {
		p.addf("dsn cannot be empty")
	}
	if s.MaxOpenConns < 0 || s.MaxIdleConns < 0 {
		p.addf("connection pool sizes cannot be negative")
	}
	return p.err()
}

func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	var p problems
	p.oneOf("level", l.Level, "debug", "info", "warn", "error")
	p.oneOf("format", l.Format, "json", "text")
	p.oneOf("output", l.Output, "stdout", "stderr")
	return p.err()
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	switch {
	case m.Path == "":
		return errors.New("path cannot be empty when metrics are enabled")
	case !strings.HasPrefix(m.Path, "/"):
		return errors.New("path must start with /")
	}
	return nil
}

// Validate checks the timezone and both cron specs. Empty specs are
// allowed and mean manual runs only.
func (s *SchedulerConfig) Validate() error {
	var p problems
	if _, err := time.LoadLocation(s.Timezone); err != nil || s.Timezone == "" {
		p.addf("timezone %q is not a valid IANA zone", s.Timezone)
	}
	for _, job := range []struct{ name, spec string }{
		{"upgrade_schedule", s.UpgradeSchedule},
		{"digest_schedule", s.DigestSchedule},
	} {
		if job.spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(job.spec); err != nil {
			p.addf("%s: %v", job.name, err)
		}
	}
	if s.JobTimeout < 0 {
		p.addf("job_timeout cannot be negative")
	}
	p.positive(map[string]time.Duration{"lock_ttl": s.LockTTL})
	if s.DistributedLock && s.Redis.Addr == "" {
		p.addf("redis.addr cannot be empty when distributed_lock is enabled")
	}
	return p.err()
}

// Validate validates mail delivery and digest settings
func (n *NotificationsConfig) Validate() error {
	var p problems
	p.oneOf("mailer", n.Mailer, "log", "amqp")
	if n.Mailer == "amqp" {
		if n.AMQPURL == "" {
			p.addf("amqp_url cannot be empty when mailer is amqp")
		}
		if n.Exchange == "" {
			p.addf("exchange cannot be empty when mailer is amqp")
		}
	}
	for i, hook := range n.Webhooks {
		u, err := url.Parse(hook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			p.addf("webhooks[%d] must be an absolute http(s) URL", i)
		}
	}
	if n.DigestWindow < 0 || n.DigestMaxGigs < 0 || n.DigestMaxOrders < 0 {
		p.addf("digest settings cannot be negative")
	}
	return p.err()
}

func (s SecurityConfig) Validate() error {
	var p problems
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			p.addf("rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			p.addf("rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			p.addf("api_keys[%d] is empty", i)
		}
	}
	return p.err()
}
