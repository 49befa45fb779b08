package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string

	// Secrets
	InternalSharedSecret string

	// Azure Language (PII entity recognition)
	LanguageEndpoint string
	LanguageKey      string

	// Azure Document Intelligence (prebuilt-read)
	DocIntelEndpoint string
	DocIntelKey      string

	// Blob storage
	StorageEndpoint string
	StorageSASToken string

	// Limits
	MaxUploadBytes   int64
	MaxJSONBodyBytes int64

	// Concurrency
	MaxConcurrentRequests int64

	// Server timeouts
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Remote call timeouts
	RecognizeTimeout time.Duration
	AnalyzeTimeout   time.Duration
	UploadTimeout    time.Duration

	// Analysis polling
	PollInterval    time.Duration
	MaxPollAttempts int

	// rate limiting (per IP)
	RateLimitEvery time.Duration
	RateLimitBurst int

	// health
	HealthDegradeRatio float64

	// http
	MaxHeaderBytes int

	// Redaction policy file (yaml); optional, defaults apply when absent
	PolicyFile string
}

func Load() Config {
	// Local development keeps secrets in .env; absence is fine in prod.
	_ = godotenv.Load()

	return Config{
		Port: envStr("PORT", "8080"),

		InternalSharedSecret: envStr("INTERNAL_SHARED_SECRET", ""),

		LanguageEndpoint: envStr("AZURE_LANGUAGE_ENDPOINT", ""),
		LanguageKey:      envStr("AZURE_LANGUAGE_KEY", ""),

		DocIntelEndpoint: envStr("AZURE_DOCINTEL_ENDPOINT", ""),
		DocIntelKey:      envStr("AZURE_DOCINTEL_KEY", ""),

		StorageEndpoint: envStr("STORAGE_ENDPOINT", ""),
		StorageSASToken: envStr("STORAGE_SAS_TOKEN", ""),

		MaxUploadBytes:   int64(envInt("MAX_UPLOAD_BYTES", 10<<20)),
		MaxJSONBodyBytes: int64(envInt("MAX_JSON_BODY_BYTES", 2<<20)),

		MaxConcurrentRequests: int64(envInt("MAX_CONCURRENT_REQUESTS", 15)),

		ReadHeaderTimeout: envDur("READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:       envDur("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      envDur("WRITE_TIMEOUT", 180*time.Second),
		IdleTimeout:       envDur("IDLE_TIMEOUT", 60*time.Second),

		RecognizeTimeout: envDur("RECOGNIZE_TIMEOUT", 30*time.Second),
		AnalyzeTimeout:   envDur("ANALYZE_TIMEOUT", 90*time.Second),
		UploadTimeout:    envDur("UPLOAD_TIMEOUT", 30*time.Second),

		PollInterval:    envDur("POLL_INTERVAL", time.Second),
		MaxPollAttempts: envInt("MAX_POLL_ATTEMPTS", 60),

		RateLimitEvery: envDur("RATE_LIMIT_EVERY", 600*time.Millisecond),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),

		HealthDegradeRatio: envFloat("HEALTH_DEGRADE_RATIO", 0.9),

		MaxHeaderBytes: envInt("MAX_HEADER_BYTES", 1<<20),

		PolicyFile: envStr("POLICY_FILE", "policy.yaml"),
	}
}

func (c Config) Validate() error {
	if len(strings.TrimSpace(c.InternalSharedSecret)) < 32 {
		return fmt.Errorf("INTERNAL_SHARED_SECRET must be at least 32 characters")
	}
	if (c.LanguageEndpoint == "") != (c.LanguageKey == "") {
		return fmt.Errorf("AZURE_LANGUAGE_ENDPOINT and AZURE_LANGUAGE_KEY must be set together")
	}
	if (c.DocIntelEndpoint == "") != (c.DocIntelKey == "") {
		return fmt.Errorf("AZURE_DOCINTEL_ENDPOINT and AZURE_DOCINTEL_KEY must be set together")
	}
	if (c.StorageEndpoint == "") != (c.StorageSASToken == "") {
		return fmt.Errorf("STORAGE_ENDPOINT and STORAGE_SAS_TOKEN must be set together")
	}
	return nil
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
