package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docupipe/contractscan/internal/common"
)

// Config holds all application configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	OCR        OCRConfig        `yaml:"ocr"`
	LLM        LLMConfig        `yaml:"llm"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Quality    QualityConfig    `yaml:"quality"`
	Rules      RulesConfig      `yaml:"rules"`
	Validation ValidationConfig `yaml:"validation"`
	Cache      CacheConfig      `yaml:"cache"`
	Feedback   FeedbackConfig   `yaml:"feedback"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DatabaseConfig holds store-related configuration.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // sqlite | postgres
	DSN             string        `yaml:"dsn"`
	MaxConns        int           `yaml:"max_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
}

// OCRConfig holds the external tool configuration for text extraction.
type OCRConfig struct {
	Pdftotext string `yaml:"pdftotext"` // binary name or absolute path
	Pdftoppm  string `yaml:"pdftoppm"`
	Pdfinfo   string `yaml:"pdfinfo"`
	Tesseract string `yaml:"tesseract"`

	Languages string `yaml:"languages"` // tesseract language pair, e.g. "eng+tur"
	DPI       int    `yaml:"dpi"`       // rasterization DPI for scanned PDFs
	MaxPages  int    `yaml:"max_pages"` // 0 = no limit

	PSM int `yaml:"psm"` // 6 is good for uniform blocks of text
	OEM int `yaml:"oem"` // 1 = LSTM; 0 = tesseract default

	ArtifactCacheDir string `yaml:"artifact_cache_dir"`
}

// LLMConfig holds inference backend configuration.
type LLMConfig struct {
	Backend     string        `yaml:"backend"` // lmstudio | ollama | llamaserver
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`     // per inference call
	MaxRetries  int           `yaml:"max_retries"` // timeout/connection retries only
	UseVision   bool          `yaml:"use_vision"`
}

// PipelineConfig holds batch orchestration knobs.
type PipelineConfig struct {
	Workers     int           `yaml:"workers"`
	BatchSize   int           `yaml:"batch_size"`
	DocTimeout  time.Duration `yaml:"doc_timeout"` // per-document bound
	Recursive   bool          `yaml:"recursive"`   // walk nested folders
	ReportDir   string        `yaml:"report_dir"`
	HintRefresh int           `yaml:"hint_refresh"` // regenerate hints every N documents; 0 = per batch only
}

// QualityConfig centralizes the quality-score thresholds so callers never
// embed them as magic numbers.
type QualityConfig struct {
	MinDPI             int     `yaml:"min_dpi"`
	OptimalDPI         int     `yaml:"optimal_dpi"`
	ScannedTextDensity float64 `yaml:"scanned_text_density"` // chars/page below this means scanned
	LowTextDensity     float64 `yaml:"low_text_density"`
	MaxFileSizeMB      float64 `yaml:"max_file_size_mb"`
	MaxPages           int     `yaml:"max_pages"`
	StandardScore      int     `yaml:"standard_score"` // ladder: >= this and not scanned -> standard
	VisionScore        int     `yaml:"vision_score"`   // ladder: < this -> vision model
}

// RulesConfig toggles and tunes the deterministic post-processors.
type RulesConfig struct {
	BlacklistFilter  bool     `yaml:"blacklist_filter"`
	FuzzyMatch       bool     `yaml:"fuzzy_match"`
	CountryInference bool     `yaml:"country_inference"`
	FilenameFallback bool     `yaml:"filename_fallback"`
	MatchThreshold   float64  `yaml:"match_threshold"` // levenshtein similarity 0..1
	RegistryPath     string   `yaml:"registry_path"`   // known companies + own entities YAML
	AddressBlacklist []string `yaml:"address_blacklist"`
}

// ValidationConfig holds the review policy knobs.
type ValidationConfig struct {
	ReviewThreshold    float64 `yaml:"review_threshold"`
	WarningReviewCount int     `yaml:"warning_review_count"`
	CriticalPenalty    float64 `yaml:"critical_penalty"`
	WarningPenalty     float64 `yaml:"warning_penalty"`
	OCRQualityFloor    float64 `yaml:"ocr_quality_floor"`
	ModelConfFloor     float64 `yaml:"model_conf_floor"`
}

// CacheConfig bounds the shared result cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// FeedbackConfig tunes the correction feedback loop.
type FeedbackConfig struct {
	WindowDays   int `yaml:"window_days"`
	HintMinCount int `yaml:"hint_min_count"` // pattern must repeat this often before it becomes a hint
	HintLimit    int `yaml:"hint_limit"`     // max hints per field
}

// Load reads an optional YAML file, then applies environment overrides and
// defaults. A missing path is not an error; env-only operation is supported.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_DSN", c.Database.DSN)

	c.OCR.Pdftotext = getEnv("PDFTOTEXT_CMD", c.OCR.Pdftotext)
	c.OCR.Pdftoppm = getEnv("PDFTOPPM_CMD", c.OCR.Pdftoppm)
	c.OCR.Pdfinfo = getEnv("PDFINFO_CMD", c.OCR.Pdfinfo)
	c.OCR.Tesseract = getEnv("TESSERACT_CMD", c.OCR.Tesseract)
	c.OCR.Languages = getEnv("OCR_LANGUAGES", c.OCR.Languages)
	c.OCR.DPI = getEnvAsInt("OCR_DPI", c.OCR.DPI)
	c.OCR.ArtifactCacheDir = getEnv("ARTIFACT_CACHE_DIR", c.OCR.ArtifactCacheDir)

	c.LLM.Backend = getEnv("LLM_BACKEND", c.LLM.Backend)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.Timeout = getEnvAsDuration("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.MaxRetries = getEnvAsInt("LLM_MAX_RETRIES", c.LLM.MaxRetries)
	c.LLM.UseVision = getEnvAsBool("LLM_USE_VISION", c.LLM.UseVision)

	c.Pipeline.Workers = getEnvAsInt("MAX_WORKERS", c.Pipeline.Workers)
	c.Pipeline.BatchSize = getEnvAsInt("BATCH_SIZE", c.Pipeline.BatchSize)
	c.Pipeline.DocTimeout = getEnvAsDuration("DOC_TIMEOUT", c.Pipeline.DocTimeout)
	c.Pipeline.Recursive = getEnvAsBool("RECURSIVE", c.Pipeline.Recursive)

	c.Validation.ReviewThreshold = getEnvAsFloat("REVIEW_THRESHOLD", c.Validation.ReviewThreshold)
	c.Cache.TTL = getEnvAsDuration("CACHE_TTL", c.Cache.TTL)
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "file:contractscan.db?_pragma=busy_timeout(5000)"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}

	if c.OCR.Pdftotext == "" {
		c.OCR.Pdftotext = "pdftotext"
	}
	if c.OCR.Pdftoppm == "" {
		c.OCR.Pdftoppm = "pdftoppm"
	}
	if c.OCR.Pdfinfo == "" {
		c.OCR.Pdfinfo = "pdfinfo"
	}
	if c.OCR.Tesseract == "" {
		c.OCR.Tesseract = "tesseract"
	}
	if c.OCR.Languages == "" {
		c.OCR.Languages = "eng"
	}
	if c.OCR.DPI <= 0 {
		c.OCR.DPI = 300
	}
	if c.OCR.PSM <= 0 {
		c.OCR.PSM = 6
	}
	if c.OCR.ArtifactCacheDir == "" {
		c.OCR.ArtifactCacheDir = "./tmp"
	}

	if c.LLM.Backend == "" {
		c.LLM.Backend = "lmstudio"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "local-model"
	}
	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = 0.1
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 90 * time.Second
	}
	if c.LLM.MaxRetries <= 0 {
		c.LLM.MaxRetries = 2
	}

	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 20
	}
	if c.Pipeline.DocTimeout <= 0 {
		c.Pipeline.DocTimeout = 3 * time.Minute
	}

	if c.Quality.MinDPI <= 0 {
		c.Quality.MinDPI = 150
	}
	if c.Quality.OptimalDPI <= 0 {
		c.Quality.OptimalDPI = 200
	}
	if c.Quality.ScannedTextDensity <= 0 {
		c.Quality.ScannedTextDensity = 100
	}
	if c.Quality.LowTextDensity <= 0 {
		c.Quality.LowTextDensity = 500
	}
	if c.Quality.MaxFileSizeMB <= 0 {
		c.Quality.MaxFileSizeMB = 50
	}
	if c.Quality.MaxPages <= 0 {
		c.Quality.MaxPages = 100
	}
	if c.Quality.StandardScore <= 0 {
		c.Quality.StandardScore = 70
	}
	if c.Quality.VisionScore <= 0 {
		c.Quality.VisionScore = 40
	}

	if c.Rules.MatchThreshold <= 0 {
		c.Rules.MatchThreshold = 0.8
	}

	if c.Validation.ReviewThreshold <= 0 {
		c.Validation.ReviewThreshold = 50
	}
	if c.Validation.WarningReviewCount <= 0 {
		c.Validation.WarningReviewCount = 5
	}
	if c.Validation.CriticalPenalty <= 0 {
		c.Validation.CriticalPenalty = 5
	}
	if c.Validation.WarningPenalty <= 0 {
		c.Validation.WarningPenalty = 2
	}
	if c.Validation.OCRQualityFloor <= 0 {
		c.Validation.OCRQualityFloor = 60
	}
	if c.Validation.ModelConfFloor <= 0 {
		c.Validation.ModelConfFloor = 0.5
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 30 * 24 * time.Hour
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 4096
	}

	if c.Feedback.WindowDays <= 0 {
		c.Feedback.WindowDays = 30
	}
	if c.Feedback.HintMinCount <= 0 {
		c.Feedback.HintMinCount = 5
	}
	if c.Feedback.HintLimit <= 0 {
		c.Feedback.HintLimit = 3
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return common.NewAppError("CONFIG_ERROR", "database DSN is required", common.ErrInvalidInput)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return common.NewAppError("CONFIG_ERROR", "unknown database driver: "+c.Database.Driver, common.ErrInvalidInput)
	}
	switch c.LLM.Backend {
	case "lmstudio", "ollama", "llamaserver":
	default:
		return common.NewAppError("CONFIG_ERROR", "unknown LLM backend: "+c.LLM.Backend, common.ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
