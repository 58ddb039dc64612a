package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/omoideart/omoide-gallery/internal/prodigi"
)

const (
	GenerationModeSync  = "sync"
	GenerationModeAsync = "async"

	BlobDriverS3     = "s3"
	BlobDriverMemory = "memory"
)

type Config struct {
	Env            string        `env:"APP_ENV" env-default:"local"`
	Address        string        `env:"GALLERY_SERVER_ADDR" env-default:":3000"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" env-separator:","`
	PublicBaseURL  string        `env:"PUBLIC_BASE_URL" env-default:"http://localhost:3000"`
	GalleryTTL     time.Duration `env:"GALLERY_TTL" env-default:"720h"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy     bool          `env:"TRUST_PROXY" env-default:"false"`

	Blob       BlobConfig
	Wavespeed  WavespeedConfig
	Gemini     GeminiConfig
	Prodigi    ProdigiConfig
	Secrets    SecretsConfig
	Generation GenerationConfig

	CleanupSchedule string `env:"CLEANUP_SCHEDULE" env-default:"0 3 * * *"`

	// DatabaseURL enables the Postgres job ledger used by async generation.
	DatabaseURL string `env:"DATABASE_URL"`
}

type BlobConfig struct {
	Driver          string `env:"BLOB_DRIVER" env-default:"s3"`
	Endpoint        string `env:"S3_ENDPOINT"`
	Region          string `env:"S3_REGION" env-default:"auto"`
	Bucket          string `env:"S3_BUCKET" env-default:"omoide-galleries"`
	AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	// PublicURL is the public base of the bucket; objects are presigned when empty.
	PublicURL string `env:"BLOB_PUBLIC_URL"`
}

type WavespeedConfig struct {
	BaseURL string `env:"WAVESPEED_API_URL" env-default:"https://api.wavespeed.ai/api/v3"`
	APIKey  string `env:"WAVESPEED_API_KEY"`
	Model   string `env:"WAVESPEED_MODEL" env-default:"bytedance/seedream-v4/sequential"`
}

type GeminiConfig struct {
	BaseURL string `env:"GEMINI_API_URL" env-default:"https://generativelanguage.googleapis.com/v1beta"`
	APIKey  string `env:"GEMINI_API_KEY"`
	Model   string `env:"GEMINI_MODEL" env-default:"gemini-1.5-flash"`
}

type ProdigiConfig struct {
	APIKey       string `env:"PRODIGI_API_KEY"`
	Sandbox      bool   `env:"PRODIGI_SANDBOX" env-default:"false"`
	ProductsPath string `env:"PRINT_PRODUCTS_PATH"`
}

type SecretsConfig struct {
	Webhook string `env:"WEBHOOK_SECRET"`
	Cleanup string `env:"CLEANUP_SECRET"`
	Cron    string `env:"CRON_SECRET"`
}

type GenerationConfig struct {
	Mode    string `env:"GENERATION_MODE" env-default:"sync"`
	Workers int    `env:"GENERATION_WORKERS" env-default:"4"`
}

// Load reads .env.local and .env when present, then the process environment.
// Values already set in the environment win over dotenv files.
func Load() (Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	cfg.AllowedOrigins = splitAndClean(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Generation.Mode {
	case GenerationModeSync, GenerationModeAsync:
	default:
		return fmt.Errorf("GENERATION_MODE must be %q or %q, got %q", GenerationModeSync, GenerationModeAsync, c.Generation.Mode)
	}
	switch c.Blob.Driver {
	case BlobDriverS3, BlobDriverMemory:
	default:
		return fmt.Errorf("BLOB_DRIVER must be %q or %q, got %q", BlobDriverS3, BlobDriverMemory, c.Blob.Driver)
	}
	if c.Generation.Workers <= 0 {
		return fmt.Errorf("GENERATION_WORKERS must be positive")
	}
	if c.GalleryTTL <= 0 {
		return fmt.Errorf("GALLERY_TTL must be positive")
	}
	return nil
}

// ProdigiBaseURL picks the sandbox or live Prodigi endpoint.
func (c Config) ProdigiBaseURL() string {
	if c.Prodigi.Sandbox {
		return prodigi.SandboxBaseURL
	}
	return prodigi.ProductionBaseURL
}

func splitAndClean(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
