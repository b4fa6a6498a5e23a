package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	ListenAddr                 string
	DatabaseURL                string
	RedisAddr                  string
	ProgressStreamName         string
	ArtifactStreamName         string
	CORSAllowedOrigins         []string
	AdminAPIKey                string
	StudioAPIKey               string
	MediaTokenSecret           string
	MediaTokenTTLSeconds       int
	ExecBaseURL                string
	ExecAPIKey                 string
	ExecTimeoutSeconds         int
	PlanContinueDelayMs        int
	ExecPollIntervalMs         int
	UnitPollDelayMs            int
	UnitPollMaxAttempts        int
	WebhookURL                 string
	WebhookAuthHeader          string
	RateLimitRequestsPerSec    float64
	RateLimitBurst             int
	AutoCleanupIntervalMinutes int
	ResultRetentionDays        int
	S3Region                   string
	S3Endpoint                 string
	S3AccessKey                string
	S3SecretKey                string
	S3Bucket                   string
}

func Load() Config {
	port := envOrDefault("STUDIO_PORT", "8080")

	return Config{
		ListenAddr:                 ":" + port,
		DatabaseURL:                databaseURL(),
		RedisAddr:                  redisAddr(),
		ProgressStreamName:         envOrDefault("PROGRESS_STREAM_NAME", "studio-progress"),
		ArtifactStreamName:         envOrDefault("ARTIFACT_STREAM_NAME", "studio-artifacts"),
		CORSAllowedOrigins:         parseCSV(envOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		AdminAPIKey:                os.Getenv("ADMIN_API_KEY"),
		StudioAPIKey:               os.Getenv("STUDIO_API_KEY"),
		MediaTokenSecret:           mediaTokenSecret(),
		MediaTokenTTLSeconds:       envOrDefaultInt("MEDIA_TOKEN_TTL_SECONDS", 300),
		ExecBaseURL:                envOrDefault("EXEC_BASE_URL", "http://localhost:9000"),
		ExecAPIKey:                 os.Getenv("EXEC_API_KEY"),
		ExecTimeoutSeconds:         envOrDefaultInt("EXEC_TIMEOUT_SECONDS", 30),
		PlanContinueDelayMs:        envOrDefaultInt("PLAN_CONTINUE_DELAY_MS", 2000),
		ExecPollIntervalMs:         envOrDefaultInt("EXEC_POLL_INTERVAL_MS", 2500),
		UnitPollDelayMs:            envOrDefaultInt("UNIT_POLL_DELAY_MS", 8000),
		UnitPollMaxAttempts:        envOrDefaultInt("UNIT_POLL_MAX_ATTEMPTS", 60),
		WebhookURL:                 os.Getenv("JOB_WEBHOOK_URL"),
		WebhookAuthHeader:          os.Getenv("JOB_WEBHOOK_AUTH_HEADER"),
		RateLimitRequestsPerSec:    envOrDefaultFloat("RATE_LIMIT_REQUESTS_PER_SEC", 25),
		RateLimitBurst:             envOrDefaultInt("RATE_LIMIT_BURST", 50),
		AutoCleanupIntervalMinutes: envOrDefaultInt("AUTO_CLEANUP_INTERVAL_MINUTES", 0),
		ResultRetentionDays:        envOrDefaultInt("RESULT_RETENTION_DAYS", 30),
		S3Region:                   envOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:                 os.Getenv("S3_ENDPOINT"),
		S3AccessKey:                envOrDefault("S3_ACCESS_KEY", ""),
		S3SecretKey:                envOrDefault("S3_SECRET_KEY", ""),
		S3Bucket:                   envOrDefault("S3_BUCKET", ""),
	}
}

func mediaTokenSecret() string {
	if value := strings.TrimSpace(os.Getenv("MEDIA_TOKEN_SECRET")); value != "" {
		return value
	}
	if value := strings.TrimSpace(os.Getenv("STUDIO_API_KEY")); value != "" {
		return value
	}
	return ""
}

func databaseURL() string {
	if value := os.Getenv("DATABASE_URL"); value != "" {
		return value
	}

	host := envOrDefault("POSTGRES_HOST", "localhost")
	port := envOrDefault("POSTGRES_PORT", "5432")
	user := envOrDefault("POSTGRES_USER", "studio")
	password := envOrDefault("POSTGRES_PASSWORD", "studio")
	database := envOrDefault("POSTGRES_DB", "studio")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}

func redisAddr() string {
	host := envOrDefault("REDIS_HOST", "localhost")
	port := envOrDefault("REDIS_PORT", "6379")
	return fmt.Sprintf("%s:%s", host, port)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseCSV(value string) []string {
	values := strings.Split(value, ",")
	result := make([]string, 0, len(values))
	for _, item := range values {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}

	if len(result) == 0 {
		return []string{"*"}
	}
	return result
}

func envOrDefaultInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	var parsed int
	if _, err := fmt.Sscanf(value, "%d", &parsed); err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	var parsed float64
	if _, err := fmt.Sscanf(value, "%f", &parsed); err != nil {
		return fallback
	}
	return parsed
}
