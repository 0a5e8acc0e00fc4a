package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// WorkerSettings hold the worker process environment configuration.
type WorkerSettings struct {
	Concurrency       int
	VisibilityTimeout time.Duration
	HeartbeatInterval time.Duration
	TenantBackoff     time.Duration
	PoisonMaxReceives int
	ArtifactBucket    string
	QueueURL          string
	RunsTable         string
	TenantsTable      string
	MetricsEnabled    bool
	MetricsNamespace  string
	OTLPEndpoint      string
	LogLevel          string
}

// LoadWorkerSettings reads worker configuration from environment variables.
func LoadWorkerSettings() WorkerSettings {
	return WorkerSettings{
		Concurrency:       envInt("WORKER_CONCURRENCY", 1),
		VisibilityTimeout: time.Duration(envInt("WORKER_VISIBILITY_TIMEOUT_SECONDS", 300)) * time.Second,
		HeartbeatInterval: time.Duration(envInt("WORKER_VISIBILITY_HEARTBEAT_SECONDS", 60)) * time.Second,
		TenantBackoff:     time.Duration(envInt("WORKER_TENANT_BACKOFF_SECONDS", 30)) * time.Second,
		PoisonMaxReceives: envInt("WORKER_POISON_MAX_RECEIVES", 5),
		ArtifactBucket:    os.Getenv("ARTIFACT_BUCKET"),
		QueueURL:          os.Getenv("SQS_QUEUE_URL"),
		RunsTable:         os.Getenv("RUNS_TABLE"),
		TenantsTable:      os.Getenv("TENANTS_TABLE"),
		MetricsEnabled:    envBool("CLOUDWATCH_METRICS_ENABLED", false),
		MetricsNamespace:  envString("CLOUDWATCH_METRICS_NAMESPACE", "RelayInventory"),
		OTLPEndpoint:      os.Getenv("OTLP_ENDPOINT"),
		LogLevel:          envString("LOG_LEVEL", "INFO"),
	}
}

// APISettings hold the control API environment configuration.
type APISettings struct {
	Port           string
	APIKeys        []string
	ArtifactBucket string
	QueueURL       string
	RunsTable      string
	TenantsTable   string
	RedisAddr      string
	RunsPerMinute  int
	LogLevel       string
}

// LoadAPISettings reads control API configuration from environment variables.
func LoadAPISettings() APISettings {
	return APISettings{
		Port:           envString("PORT", "8080"),
		APIKeys:        splitNonEmpty(os.Getenv("API_KEYS")),
		ArtifactBucket: os.Getenv("ARTIFACT_BUCKET"),
		QueueURL:       os.Getenv("SQS_QUEUE_URL"),
		RunsTable:      os.Getenv("RUNS_TABLE"),
		TenantsTable:   os.Getenv("TENANTS_TABLE"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RunsPerMinute:  envInt("RUN_CREATE_PER_MINUTE", 6),
		LogLevel:       envString("LOG_LEVEL", "INFO"),
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value == "true" || value == "1"
}

func splitNonEmpty(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
