// Package redis backs the scheduler with Redis: a distributed job lock so
// only one worker fires a job, and a capped run history per job.
//
// Keys:
//   - flinkly:job:{name}          -> lock token (SET NX PX)
//   - flinkly:runs:{name}         -> list of JSON run records, newest first
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// HistoryLimit caps the run records kept per job.
	HistoryLimit int64
	// HistoryTTL expires a job's history when it stops running.
	HistoryTTL time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		HistoryLimit: 50,
		HistoryTTL:   30 * 24 * time.Hour,
	}
}

// Client bundles the lock and history implementations over one connection.
type Client struct {
	rdb     *redis.Client
	Locker  *Locker
	History *History
}

// New connects and verifies the connection with a ping.
func New(config Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(rdb, config), nil
}

// NewWithClient wraps an existing client (useful for testing).
func NewWithClient(rdb *redis.Client, config Config) *Client {
	return &Client{
		rdb:     rdb,
		Locker:  NewLocker(rdb),
		History: NewHistory(rdb, config.HistoryLimit, config.HistoryTTL),
	}
}

func (c *Client) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

// Close closes the Redis connection
func (c *Client) Close() error { return c.rdb.Close() }
