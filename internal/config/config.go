package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Oracle backend
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OracleTimeout time.Duration

	// Token budgets
	MaxSchemaTokens   int
	MaxDocumentTokens int
	OverlapTokens     int

	// Scoring
	ConfidenceThreshold float64

	// Concurrency
	MaxParallelChunks int

	// Async job pool
	WorkerCount  int
	MaxQueueSize int
	JobTTL       time.Duration

	// Upload limits
	MaxUploadBytes int64

	// PDF
	PDFFallbackPdftotext bool
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8080"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   envOr("OPENAI_MODEL", "gpt-4.1"),
		OracleTimeout: envDuration("ORACLE_TIMEOUT", 120*time.Second),

		MaxSchemaTokens:   envInt("MAX_SCHEMA_TOKENS", 100000),
		MaxDocumentTokens: envInt("MAX_DOCUMENT_TOKENS", 900000),
		OverlapTokens:     envInt("OVERLAP_TOKENS", 5000),

		ConfidenceThreshold: envFloat("CONFIDENCE_THRESHOLD", 0.7),

		MaxParallelChunks: envInt("MAX_PARALLEL_CHUNKS", 4),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),
		JobTTL:       envDuration("JOB_TTL", 1*time.Hour),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.MaxSchemaTokens <= 0 {
		cfg.MaxSchemaTokens = 100000
	}
	if cfg.MaxDocumentTokens <= 0 {
		cfg.MaxDocumentTokens = 900000
	}
	if cfg.OverlapTokens <= 0 {
		cfg.OverlapTokens = 5000
	}
	if cfg.MaxParallelChunks <= 0 {
		cfg.MaxParallelChunks = 4
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 120 * time.Second
	}

	return cfg
}

// Validate rejects structurally impossible configurations. A missing API key
// is deliberately not fatal; see Warnings.
func (c Config) Validate() error {
	if c.OverlapTokens >= c.MaxDocumentTokens {
		return fmt.Errorf("OVERLAP_TOKENS (%d) must be smaller than MAX_DOCUMENT_TOKENS (%d)", c.OverlapTokens, c.MaxDocumentTokens)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1], got %g", c.ConfidenceThreshold)
	}
	return nil
}

// Warnings lists non-fatal configuration problems worth logging at startup.
func (c Config) Warnings() []string {
	var warnings []string
	if c.OpenAIAPIKey == "" {
		warnings = append(warnings, "OPENAI_API_KEY is not set; extraction calls will fail until it is provided")
	}
	return warnings
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
