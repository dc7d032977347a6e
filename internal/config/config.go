package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port           int
	LogLevel       string
	MaxUploadBytes int64

	// Observability
	OTLPEndpoint   string
	TracingEnabled bool

	// Vision AI (Gemini)
	GeminiAPIKey  string
	GeminiModel   string
	VisionEnabled bool
	VisionRPS     float64
	VisionBurst   int
	VisionTimeout time.Duration

	// Resilience
	MaxRetries       int
	RateLimitRetries int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	MaxConcurrency   int

	// Document tooling (poppler / tesseract)
	PdftotextBin   string
	PdftoppmBin    string
	PdfseparateBin string
	PdfuniteBin    string
	Img2pdfBin     string
	TesseractBin   string
	TesseractLang  string
	RasterDPI      int
	OCREnabled     bool
	OCRRPS         float64

	// Matching
	IndexWorkers       int
	CodeMinLength      int
	CodeTrailingDigits int
	AmountTolerance    string

	// Cache
	ExtractionCacheTTL time.Duration

	// Output
	ArchiveSink    string // local | gcs
	ArchiveDir     string
	ArchiveBaseURL string
	GCSBucket      string
	GCSPrefix      string
	ReportEnabled  bool

	// JWT / Auth (empty secret disables auth)
	JWTSecret string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:           getEnvInt("PORT", 8080),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 64<<20)),

		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		VisionEnabled: getEnvBool("VISION_ENABLED", true),
		VisionRPS:     getEnvFloat("VISION_RPS", 0.25),
		VisionBurst:   getEnvInt("VISION_BURST", 2),
		VisionTimeout: getEnvDuration("VISION_TIMEOUT", 60*time.Second),

		MaxRetries:       getEnvInt("MAX_RETRIES", 1),
		RateLimitRetries: getEnvInt("RATE_LIMIT_RETRIES", 4),
		InitialBackoff:   getEnvDuration("INITIAL_BACKOFF", 2*time.Second),
		MaxBackoff:       getEnvDuration("MAX_BACKOFF", 60*time.Second),
		MaxConcurrency:   getEnvInt("MAX_CONCURRENCY", 4),

		PdftotextBin:   getEnv("PDFTOTEXT_BIN", "pdftotext"),
		PdftoppmBin:    getEnv("PDFTOPPM_BIN", "pdftoppm"),
		PdfseparateBin: getEnv("PDFSEPARATE_BIN", "pdfseparate"),
		PdfuniteBin:    getEnv("PDFUNITE_BIN", "pdfunite"),
		Img2pdfBin:     getEnv("IMG2PDF_BIN", "img2pdf"),
		TesseractBin:   getEnv("TESSERACT_BIN", "tesseract"),
		TesseractLang:  getEnv("TESSERACT_LANG", "por"),
		RasterDPI:      getEnvInt("RASTER_DPI", 200),
		OCREnabled:     getEnvBool("OCR_ENABLED", true),
		OCRRPS:         getEnvFloat("OCR_RPS", 0),

		IndexWorkers:       getEnvInt("INDEX_WORKERS", 1),
		CodeMinLength:      getEnvInt("CODE_MIN_LENGTH", 20),
		CodeTrailingDigits: getEnvInt("CODE_TRAILING_DIGITS", 10),
		AmountTolerance:    getEnv("AMOUNT_TOLERANCE", "0.01"),

		ExtractionCacheTTL: getEnvDuration("EXTRACTION_CACHE_TTL", 30*time.Minute),

		ArchiveSink:    strings.ToLower(getEnv("ARCHIVE_SINK", "local")),
		ArchiveDir:     getEnv("ARCHIVE_DIR", "./downloads"),
		ArchiveBaseURL: getEnv("ARCHIVE_BASE_URL", "/v1/archives"),
		GCSBucket:      getEnv("GCS_BUCKET", ""),
		GCSPrefix:      getEnv("GCS_PREFIX", "reconciliations"),
		ReportEnabled:  getEnvBool("REPORT_ENABLED", true),

		JWTSecret: getEnv("JWT_SECRET", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
