// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
)

// Record store backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendS3       = "s3"
)

// RateLimit is a request budget per client per window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// Config is the full service configuration.
type Config struct {
	Port     string
	RunLocal bool

	OrdersTable      string
	IdempotencyTable string
	AssetsBucket     string
	RecordBackend    string
	SignedURLTTL     time.Duration

	CleanupQueueURL  string
	MetricsNamespace string

	DeepAIURL    string
	DeepAIAPIKey string

	MaxUploadBytes       int64
	MaxHelperUploadBytes int64

	GlobalLimit RateLimit
	UploadLimit RateLimit
}

// Load reads Config from environment variables, applying defaults.
func Load() Config {
	return Config{
		Port:     getenv("PORT", "4564"),
		RunLocal: cast.ToBool(os.Getenv("RUN_LOCAL")),

		OrdersTable:      getenv("ORDERS_TABLE", "tshirt-orders"),
		IdempotencyTable: os.Getenv("IDEMPOTENCY_TABLE"),
		AssetsBucket:     os.Getenv("ASSETS_BUCKET"),
		RecordBackend:    getenv("RECORD_BACKEND", BackendDynamoDB),
		SignedURLTTL:     cast.ToDuration(getenv("SIGNED_URL_TTL", "1h")),

		CleanupQueueURL:  os.Getenv("CLEANUP_QUEUE_URL"),
		MetricsNamespace: os.Getenv("METRICS_NAMESPACE"),

		DeepAIURL:    getenv("DEEPAI_URL", "https://api.deepai.org/api/background-remover"),
		DeepAIAPIKey: os.Getenv("DEEPAI_API_KEY"),

		MaxUploadBytes:       cast.ToInt64(getenv("MAX_UPLOAD_BYTES", "104857600")),
		MaxHelperUploadBytes: cast.ToInt64(getenv("MAX_HELPER_UPLOAD_BYTES", "10485760")),

		GlobalLimit: RateLimit{
			Requests: cast.ToInt(getenv("RATE_LIMIT_GLOBAL", "100")),
			Window:   cast.ToDuration(getenv("RATE_LIMIT_GLOBAL_WINDOW", "15m")),
		},
		UploadLimit: RateLimit{
			Requests: cast.ToInt(getenv("RATE_LIMIT_UPLOAD", "20")),
			Window:   cast.ToDuration(getenv("RATE_LIMIT_UPLOAD_WINDOW", "1h")),
		},
	}
}

// Validate reports configuration that would make the service unusable.
func (c Config) Validate() error {
	var errs []error
	if c.AssetsBucket == "" {
		errs = append(errs, errors.New("ASSETS_BUCKET is required"))
	}
	if c.RecordBackend != BackendDynamoDB && c.RecordBackend != BackendS3 {
		errs = append(errs, fmt.Errorf("RECORD_BACKEND %q: want %q or %q", c.RecordBackend, BackendDynamoDB, BackendS3))
	}
	if c.RecordBackend == BackendDynamoDB && c.OrdersTable == "" {
		errs = append(errs, errors.New("ORDERS_TABLE is required for the dynamodb backend"))
	}
	if c.SignedURLTTL <= 0 {
		errs = append(errs, errors.New("SIGNED_URL_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
