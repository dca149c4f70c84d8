package config

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrSecretNotFound is returned when a secret is not set.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from environment variables.
type EnvironmentSecretStore struct {
	prefix string
}

// NewEnvironmentSecretStore optionally namespaces keys with a prefix.
func NewEnvironmentSecretStore(prefix ...string) *EnvironmentSecretStore {
	s := &EnvironmentSecretStore{}
	if len(prefix) > 0 {
		s.prefix = prefix[0]
	}
	return s
}

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(s.prefix + key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, s.prefix+key)
	}
	return v, nil
}

func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// Secret names read by LoadSecrets.
const (
	SecretSQLDSN        = "FLINKLY_SQL_DSN"
	SecretRedisPassword = "FLINKLY_REDIS_PASSWORD"
	SecretAMQPURL       = "FLINKLY_AMQP_URL"
	SecretWebhookSecret = "FLINKLY_WEBHOOK_SECRET"
)

// LoadSecrets fills empty credential fields from store.
func (c *Config) LoadSecrets(ctx context.Context, store SecretStore) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = store.GetWithDefault(ctx, key, "")
		}
	}
	fill(&c.Storage.SQL.DSN, SecretSQLDSN)
	fill(&c.Scheduler.Redis.Password, SecretRedisPassword)
	fill(&c.Notifications.AMQPURL, SecretAMQPURL)
	fill(&c.Notifications.WebhookSecret, SecretWebhookSecret)
}
