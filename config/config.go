package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Matching MatchingConfig `mapstructure:"matching"`
	Compare  CompareConfig  `mapstructure:"compare"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	PDF      PDFConfig      `mapstructure:"pdf"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// ServerConfig holds the read API settings
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
}

// DatabaseConfig holds Postgres settings
type DatabaseConfig struct {
	URL              string `mapstructure:"url"`
	Embedded         bool   `mapstructure:"embedded"`
	EmbeddedPort     uint32 `mapstructure:"embedded_port"`
	EmbeddedDataPath string `mapstructure:"embedded_data_path"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// SourcesConfig toggles every harvester explicitly
type SourcesConfig struct {
	Maxi      bool `mapstructure:"maxi"`
	VivaFresh bool `mapstructure:"vivafresh"`
	Interex   bool `mapstructure:"interex"`
	Albi      bool `mapstructure:"albi"`
	SparFlyer bool `mapstructure:"spar_flyer"`
	EtcFlyer  bool `mapstructure:"etc_flyer"`
	SparWolt  bool `mapstructure:"spar_wolt"`
}

// Enabled reports the toggle for a source slug
func (s SourcesConfig) Enabled(slug string) bool {
	switch slug {
	case "maxi":
		return s.Maxi
	case "vivafresh":
		return s.VivaFresh
	case "interex":
		return s.Interex
	case "albi":
		return s.Albi
	case "spar-flyer":
		return s.SparFlyer
	case "etc-flyer":
		return s.EtcFlyer
	case "spar-wolt":
		return s.SparWolt
	}
	return false
}

// HarvestConfig holds settings shared by the harvesters
type HarvestConfig struct {
	City          string        `mapstructure:"city"`
	UserAgent     string        `mapstructure:"user_agent"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RequestRate   float64       `mapstructure:"request_rate"`
	Concurrency   int           `mapstructure:"concurrency"`
	WantN         int           `mapstructure:"want_n"`
	MaxAgeDays    int           `mapstructure:"max_age_days"`
	FBCookie      string        `mapstructure:"fb_cookie"`
	DeviceWidth   int           `mapstructure:"device_width"`
	DeviceHeight  int           `mapstructure:"device_height"`
	DeviceDPR     float64       `mapstructure:"device_dpr"`
	EtcListing    string        `mapstructure:"etc_listing"`
}

// MatchingConfig holds the scoring formulation, weights and threshold
type MatchingConfig struct {
	Formulation string  `mapstructure:"formulation"`
	Threshold   float64 `mapstructure:"threshold"`
	Weights     Weights `mapstructure:"weights"`
}

// Weights are the per-signal contributions of the weighted formulation
type Weights struct {
	Brand    float64 `mapstructure:"brand"`
	Size     float64 `mapstructure:"size"`
	Fat      float64 `mapstructure:"fat"`
	Category float64 `mapstructure:"category"`
}

// CompareConfig holds comparison query settings
type CompareConfig struct {
	RecentDays int `mapstructure:"recent_days"`
}

// OCRConfig selects and configures the OCR backend
type OCRConfig struct {
	Backend         string        `mapstructure:"backend"`
	ServiceURL      string        `mapstructure:"service_url"`
	Lang            string        `mapstructure:"lang"`
	FallbackLang    string        `mapstructure:"fallback_lang"`
	TesseractPath   string        `mapstructure:"tesseract_path"`
	PSM             int           `mapstructure:"psm"`
	OEM             int           `mapstructure:"oem"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// PDFConfig holds the poppler tool settings
type PDFConfig struct {
	PdftotextPath string        `mapstructure:"pdftotext_path"`
	PdftoppmPath  string        `mapstructure:"pdftoppm_path"`
	DPI           int           `mapstructure:"dpi"`
	MinTextItems  int           `mapstructure:"min_text_items"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// BrowserConfig holds rendered browser settings
type BrowserConfig struct {
	Bin       string        `mapstructure:"bin"`
	Headless  bool          `mapstructure:"headless"`
	NoSandbox bool          `mapstructure:"no_sandbox"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CacheConfig holds compare cache settings
type CacheConfig struct {
	Type     string        `mapstructure:"type"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ScheduleConfig holds cron settings for ingestion cycles
type ScheduleConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Specs      []string `mapstructure:"specs"`
	RunOnStart bool     `mapstructure:"run_on_start"`
}

// Load loads configuration from .env, environment variables and an optional config file
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// No .env file; rely on the process environment
		_ = err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/kpc/")

	v.SetEnvPrefix("KPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Every key gets a default so
// that AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://10.0.2.2:3000"})
	v.SetDefault("server.rate_limit_rps", 10.0)

	v.SetDefault("database.url", "")
	v.SetDefault("database.embedded", false)
	v.SetDefault("database.embedded_port", 5433)
	v.SetDefault("database.embedded_data_path", "./data/pg")

	v.SetDefault("log.mode", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("sources.maxi", true)
	v.SetDefault("sources.vivafresh", true)
	v.SetDefault("sources.interex", true)
	v.SetDefault("sources.albi", true)
	v.SetDefault("sources.spar_flyer", true)
	v.SetDefault("sources.etc_flyer", true)
	v.SetDefault("sources.spar_wolt", false)

	v.SetDefault("harvest.city", "Prishtina")
	v.SetDefault("harvest.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36")
	v.SetDefault("harvest.http_timeout", "45s")
	v.SetDefault("harvest.retry_attempts", 3)
	v.SetDefault("harvest.retry_delay", "700ms")
	v.SetDefault("harvest.request_rate", 4.0)
	v.SetDefault("harvest.concurrency", 1)
	v.SetDefault("harvest.want_n", 12)
	v.SetDefault("harvest.max_age_days", 10)
	v.SetDefault("harvest.fb_cookie", "")
	v.SetDefault("harvest.device_width", 412)
	v.SetDefault("harvest.device_height", 915)
	v.SetDefault("harvest.device_dpr", 3.0)
	v.SetDefault("harvest.etc_listing", "https://etc-ks.com/magazina.php")

	v.SetDefault("matching.formulation", "weighted")
	v.SetDefault("matching.threshold", 0.7)
	v.SetDefault("matching.weights.brand", 0.30)
	v.SetDefault("matching.weights.size", 0.35)
	v.SetDefault("matching.weights.fat", 0.25)
	v.SetDefault("matching.weights.category", 0.20)

	v.SetDefault("compare.recent_days", 14)

	v.SetDefault("ocr.backend", "http")
	v.SetDefault("ocr.service_url", "http://ocr-service:5000")
	v.SetDefault("ocr.lang", "sqi+eng")
	v.SetDefault("ocr.fallback_lang", "eng")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.psm", 6)
	v.SetDefault("ocr.oem", 3)
	v.SetDefault("ocr.credentials_file", "")
	v.SetDefault("ocr.timeout", "90s")

	v.SetDefault("pdf.pdftotext_path", "pdftotext")
	v.SetDefault("pdf.pdftoppm_path", "pdftoppm")
	v.SetDefault("pdf.dpi", 200)
	v.SetDefault("pdf.min_text_items", 5)
	v.SetDefault("pdf.timeout", "2m")

	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.timeout", "45s")

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "10m")

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.specs", []string{"0 15 3 * * *", "0 5 */2 * * *"})
	v.SetDefault("schedule.run_on_start", false)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Database.URL == "" && !cfg.Database.Embedded {
		return fmt.Errorf("database url is required (set KPC_DATABASE_URL or KPC_DATABASE_EMBEDDED=true)")
	}

	if cfg.Matching.Threshold <= 0 || cfg.Matching.Threshold > 1 {
		return fmt.Errorf("matching threshold must be in (0,1], got: %v", cfg.Matching.Threshold)
	}

	w := cfg.Matching.Weights
	if w.Brand < 0 || w.Size < 0 || w.Fat < 0 || w.Category < 0 {
		return fmt.Errorf("matching weights must not be negative")
	}

	switch cfg.Matching.Formulation {
	case "weighted", "fuzzy":
	default:
		return fmt.Errorf("matching formulation must be 'weighted' or 'fuzzy', got: %s", cfg.Matching.Formulation)
	}

	if cfg.Cache.Type != "memory" && cfg.Cache.Type != "redis" {
		return fmt.Errorf("cache type must be 'memory' or 'redis', got: %s", cfg.Cache.Type)
	}

	if cfg.Cache.Type == "redis" && cfg.Cache.RedisURL == "" {
		return fmt.Errorf("redis url is required when cache type is 'redis'")
	}

	switch cfg.OCR.Backend {
	case "http", "vision", "tesseract", "none":
	default:
		return fmt.Errorf("ocr backend must be one of http, vision, tesseract, none, got: %s", cfg.OCR.Backend)
	}

	if cfg.Compare.RecentDays <= 0 {
		return fmt.Errorf("compare recent_days must be positive, got: %d", cfg.Compare.RecentDays)
	}

	if cfg.Harvest.WantN <= 0 {
		return fmt.Errorf("harvest want_n must be positive, got: %d", cfg.Harvest.WantN)
	}

	return nil
}
