package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN    string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL    string `env:"RABBITMQ_URL,required=true"`
	RedisURL       string `env:"REDIS_URL,required=true"`
	ProviderURL    string `env:"PROVIDER_URL,required=true"`
	ProviderAPIKey string `env:"PROVIDER_API_KEY,required=true"`

	RetryIntervalMinutes int `env:"RETRY_INTERVAL_MINUTES,default=5"`
	RetryMaxAttempts     int `env:"RETRY_MAX_ATTEMPTS,default=3"`
	RetryBatchSize       int `env:"RETRY_BATCH_SIZE,default=100"`

	DLQRetentionDays int `env:"DLQ_RETENTION_DAYS,default=30"`
	SendRatePerSec   int `env:"SEND_RATE_PER_SEC,default=50"`
	WorkerPrefetch   int `env:"WORKER_PREFETCH,default=16"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
