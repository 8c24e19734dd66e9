package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Channel provider (SMS/WhatsApp gateway)
	ProviderBaseURL       string
	ProviderAccountSID    string
	ProviderAuthToken     string
	ProviderWebhookSecret string
	ProviderSendRetries   int
	ProviderFromNumber    string

	// Remote reasoning API
	ReasoningBaseURL     string
	ReasoningAPIKey      string
	ReasoningModel       string
	ReasoningTimeout     time.Duration
	ReasoningMaxRetries  int
	ReasoningRetryDelay  time.Duration
	FallbackReply        string
	OperatorHandoffReply string

	// Attribution fan-out
	AttributionBaseURL     string
	AttributionDatasetID   string
	AttributionAccessToken string
	AttributionTimeout     time.Duration

	// Completion-event forwarding
	ForwardURLs         string
	ForwardSecret       string
	ForwardPollInterval time.Duration
	ForwardBatchSize    int
	ForwardTimeout      time.Duration

	// Background task queue
	UseMemoryQueue bool
	WorkerCount    int
	TaskQueueURL   string
	TurnJobsTable  string

	// Retention
	RetentionAge       time.Duration
	RetentionBatchSize int
	ArchiveBucket      string

	// Operator notifications
	OperatorEmail     string
	OperatorPhone     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	// Booking link used by the send_booking_link tool and signal detection
	BookingURL string

	AdminJWTSecret     string
	CORSAllowedOrigins string

	RateLimitPerSecond float64
	RateLimitBurst     int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		ProviderBaseURL:       getEnv("PROVIDER_BASE_URL", "https://api.twilio.com"),
		ProviderAccountSID:    getEnv("PROVIDER_ACCOUNT_SID", ""),
		ProviderAuthToken:     getEnv("PROVIDER_AUTH_TOKEN", ""),
		ProviderWebhookSecret: getEnv("PROVIDER_WEBHOOK_SECRET", ""),
		ProviderSendRetries:   getEnvAsInt("PROVIDER_SEND_RETRIES", 3),
		ProviderFromNumber:    getEnv("PROVIDER_FROM_NUMBER", ""),

		ReasoningBaseURL:     getEnv("REASONING_BASE_URL", ""),
		ReasoningAPIKey:      getEnv("REASONING_API_KEY", ""),
		ReasoningModel:       getEnv("REASONING_MODEL", "gpt-4o"),
		ReasoningTimeout:     getEnvAsDuration("REASONING_TIMEOUT", 60*time.Second),
		ReasoningMaxRetries:  getEnvAsInt("REASONING_MAX_RETRIES", 2),
		ReasoningRetryDelay:  getEnvAsDuration("REASONING_RETRY_DELAY", 500*time.Millisecond),
		FallbackReply:        getEnv("FALLBACK_REPLY", "Sorry, I'm having trouble responding right now. Someone from our team will get back to you shortly."),
		OperatorHandoffReply: getEnv("OPERATOR_HANDOFF_REPLY", "Let me connect you with a member of our team. Someone will reach out to you shortly."),

		AttributionBaseURL:     getEnv("ATTRIBUTION_BASE_URL", "https://graph.facebook.com/v19.0"),
		AttributionDatasetID:   getEnv("ATTRIBUTION_DATASET_ID", ""),
		AttributionAccessToken: getEnv("ATTRIBUTION_ACCESS_TOKEN", ""),
		AttributionTimeout:     getEnvAsDuration("ATTRIBUTION_TIMEOUT", 10*time.Second),

		ForwardURLs:         getEnv("FORWARD_URLS", ""),
		ForwardSecret:       getEnv("FORWARD_SECRET", ""),
		ForwardPollInterval: getEnvAsDuration("FORWARD_POLL_INTERVAL", 5*time.Second),
		ForwardBatchSize:    getEnvAsInt("FORWARD_BATCH_SIZE", 25),
		ForwardTimeout:      getEnvAsDuration("FORWARD_TIMEOUT", 10*time.Second),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		TaskQueueURL:   getEnv("TASK_QUEUE_URL", ""),
		TurnJobsTable:  getEnv("TURN_JOBS_TABLE", "turn_jobs"),

		RetentionAge:       getEnvAsDuration("RETENTION_AGE", 90*24*time.Hour),
		RetentionBatchSize: getEnvAsInt("RETENTION_BATCH_SIZE", 100),
		ArchiveBucket:      getEnv("ARCHIVE_BUCKET", ""),

		OperatorEmail:     getEnv("OPERATOR_EMAIL", ""),
		OperatorPhone:     getEnv("OPERATOR_PHONE", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Messaging AI"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		BookingURL: getEnv("BOOKING_URL", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),

		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 30),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
	}
}

// CORSOrigins splits the comma-separated CORS_ALLOWED_ORIGINS value into a
// list of allowed origins. Empty entries are dropped.
func (c *Config) CORSOrigins() []string {
	if strings.TrimSpace(c.CORSAllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// ForwardTargets splits the comma-separated FORWARD_URLS value into a list of
// webhook destinations. Empty entries are dropped.
func (c *Config) ForwardTargets() []string {
	if strings.TrimSpace(c.ForwardURLs) == "" {
		return nil
	}
	parts := strings.Split(c.ForwardURLs, ",")
	targets := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			targets = append(targets, trimmed)
		}
	}
	return targets
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
