package infra

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MinPollFloor is the fastest the poller may query a remote job.
const MinPollFloor = time.Second

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	Port   string `env:"PORT" envDefault:"8080"`

	DataDir      string `env:"DATA_DIR" envDefault:"./data"`
	StoreDriver  string `env:"STORE_DRIVER" envDefault:"json"`
	StorePath    string `env:"STORE_PATH"`
	DatabaseURL  string `env:"DATABASE_URL"`
	CacheDir     string `env:"CACHE_DIR"`
	ManifestPath string `env:"MANIFEST_PATH"`

	AnalysisAPIKey  string        `env:"ANALYSIS_API_KEY"`
	AnalysisBaseURL string        `env:"ANALYSIS_BASE_URL" envDefault:"https://api.openai.com/v1"`
	AnalysisModel   string        `env:"ANALYSIS_MODEL" envDefault:"gpt-4o-mini"`
	AnalysisTimeout time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"60s"`

	GenerationAPIKey  string `env:"BACKEND_API_KEY"`
	GenerationBaseURL string `env:"BACKEND_BASE_URL" envDefault:"http://localhost:9000"`
	GenerationQuality string `env:"GENERATION_QUALITY" envDefault:"high"`
	GenerationFormat  string `env:"GENERATION_FORMAT" envDefault:"usdz"`

	RequestRetries    int           `env:"REQUEST_RETRIES" envDefault:"2"`
	RequestRetryDelay time.Duration `env:"REQUEST_RETRY_DELAY" envDefault:"500ms"`

	PollBase           float64       `env:"POLL_BACKOFF_BASE" envDefault:"2"`
	PollFloor          time.Duration `env:"POLL_FLOOR" envDefault:"1s"`
	PollMaxAttempt     int           `env:"POLL_MAX_ATTEMPT" envDefault:"4"`
	PollMaxTotalTime   time.Duration `env:"POLL_MAX_TOTAL_TIME" envDefault:"30m"`
	PollCallTimeout    time.Duration `env:"POLL_CALL_TIMEOUT" envDefault:"20s"`
	PollMaxTransient   int           `env:"POLL_MAX_TRANSIENT_ERRORS" envDefault:"5"`
	DownloadTimeout    time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"2m"`
	DownloadMaxBytes   int64         `env:"DOWNLOAD_MAX_BYTES" envDefault:"268435456"`
	PreferredFormat    string        `env:"CACHE_PREFERRED_FORMAT" envDefault:"usdz"`
	RejectedFormats    []string      `env:"CACHE_REJECTED_FORMATS" envDefault:"glb" envSeparator:","`
	AnalysisTarget     time.Duration `env:"PROGRESS_ANALYSIS_TARGET" envDefault:"15s"`
	GenerationTarget   time.Duration `env:"PROGRESS_GENERATION_TARGET" envDefault:"3m"`
	HTTPReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	RateLimitPerMin    int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// LoadConfig reads optional .env files, parses the environment and applies
// derived defaults.
func LoadConfig() (*Config, error) {
	// Missing .env files are fine.
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDerived() {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	if c.StorePath == "" {
		c.StorePath = filepath.Join(c.DataDir, "dreams.json")
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.DataDir, "assets")
	}
	if c.ManifestPath == "" {
		c.ManifestPath = filepath.Join(c.DataDir, "models.json")
	}
	rejected := c.RejectedFormats[:0]
	for _, f := range c.RejectedFormats {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			rejected = append(rejected, f)
		}
	}
	c.RejectedFormats = rejected
	c.PreferredFormat = strings.ToLower(strings.TrimSpace(c.PreferredFormat))
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "json":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.PollFloor < MinPollFloor {
		return fmt.Errorf("POLL_FLOOR must be at least %s", MinPollFloor)
	}
	if c.PollBase < 1 {
		return errors.New("POLL_BACKOFF_BASE must be >= 1")
	}
	if c.PollMaxAttempt < 0 || c.PollMaxTransient < 0 || c.RequestRetries < 0 {
		return errors.New("attempt and retry counts must not be negative")
	}
	if c.PollMaxTotalTime <= 0 || c.PollCallTimeout <= 0 {
		return errors.New("POLL_MAX_TOTAL_TIME and POLL_CALL_TIMEOUT must be positive")
	}
	if c.PreferredFormat == "" {
		return errors.New("CACHE_PREFERRED_FORMAT is required")
	}
	for _, f := range c.RejectedFormats {
		if f == c.PreferredFormat {
			return fmt.Errorf("preferred format %q cannot also be rejected", f)
		}
	}
	return nil
}
