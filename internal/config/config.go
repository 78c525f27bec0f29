package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"apflow/internal/logger"
)

type Config struct {
	// Run budget
	RunBudget   time.Duration
	TimeReserve time.Duration

	// Document scanning
	DocsBatchLimit        int
	Pass1UnrenamedLimit   int
	Pass2MarkedLimit      int
	RenamePrefix          string
	ProcessedMarkerPrefix string
	OCRJobMarkerPrefix    string
	OCRMinTextLen         int
	VisionLangHints       []string

	// Confidence thresholds
	VendorAutoCreateMin float64

	// Extraction
	ExtractorBackend      string // gemini or documentai
	GeminiModel           string
	OpenAIAPIKey          string
	OpenAIFallbackModel   string
	GoogleCloudProject    string
	GoogleCloudLocation   string
	DocumentAIProcessorID string

	// Routing sheet
	SpreadsheetID    string
	RoutingSheetName string
	MappingSheetName string

	// Per-target state
	StateBucket string
	StatePrefix string

	// Ledger defaults
	DefaultExpenseAccountID int64

	// Logging
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		RunBudget:   getEnvDuration("RUN_BUDGET_MS", 25*time.Minute),
		TimeReserve: getEnvDuration("TIME_RESERVE_MS", 25*time.Second),

		DocsBatchLimit:        getEnvInt("DOCS_BATCH_LIMIT", 50),
		Pass1UnrenamedLimit:   getEnvInt("PASS1_UNRENAMED_LIMIT", 50),
		Pass2MarkedLimit:      getEnvInt("PASS2_MARKED_LIMIT", 50),
		RenamePrefix:          getEnv("SCAN_UNRENAMED_PREFIX", "BILL"),
		ProcessedMarkerPrefix: getEnv("PROCESSED_MARKER_PREFIX", "BILL_OCR_PROCESSED|V1|"),
		OCRJobMarkerPrefix:    getEnv("OCR_JOB_MARKER_PREFIX", "BILL_OCR_JOB|V1|"),
		OCRMinTextLen:         getEnvInt("OCR_MIN_TEXT_LEN", 40),
		VisionLangHints:       getEnvCSV("VISION_LANG_HINTS", []string{"en", "fil"}),

		VendorAutoCreateMin: getEnvFloat("THRESHOLD_VENDOR_AUTOPICK", 0.9),

		ExtractorBackend:      getEnv("EXTRACTOR_BACKEND", "gemini"),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.5-pro"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIFallbackModel:   getEnv("OPENAI_FALLBACK_MODEL", ""),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   getEnv("GOOGLE_CLOUD_LOCATION", "us-central1"),
		DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),

		SpreadsheetID:    getEnv("SHEETS_SPREADSHEET_ID", ""),
		RoutingSheetName: getEnv("ROUTING_SHEET_NAME", "ProjectRouting"),
		MappingSheetName: getEnv("ACCOUNT_MAPPING_SHEET_NAME", "AccountMapping"),

		StateBucket: getEnv("STATE_BUCKET", ""),
		StatePrefix: getEnv("STATE_PREFIX", "AP_BILL_STATE_V1"),

		DefaultExpenseAccountID: int64(getEnvInt("DEFAULT_EXPENSE_ACCOUNT_ID", 0)),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		LogTimeFormat: getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:     getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.SpreadsheetID == "" {
		return fmt.Errorf("SHEETS_SPREADSHEET_ID is required")
	}
	if c.GoogleCloudProject == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required")
	}
	switch c.ExtractorBackend {
	case "gemini":
	case "documentai":
		if c.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required when EXTRACTOR_BACKEND=documentai")
		}
	default:
		return fmt.Errorf("unknown EXTRACTOR_BACKEND %q", c.ExtractorBackend)
	}
	if c.TimeReserve >= c.RunBudget {
		return fmt.Errorf("TIME_RESERVE_MS must be smaller than RUN_BUDGET_MS")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration reads a millisecond-valued env var.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvCSV(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
