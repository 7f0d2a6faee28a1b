package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"blockgraph/pkg/utils"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	EnvAPIKey        = "INSTANCES_SOCIAL_API_KEY"
	EnvDirectoryURL  = "BLOCKGRAPH_DIRECTORY_URL"
	EnvRosterCount   = "BLOCKGRAPH_ROSTER_COUNT"
	EnvConcurrency   = "BLOCKGRAPH_CONCURRENCY"
	EnvFetchTimeout  = "BLOCKGRAPH_FETCH_TIMEOUT"
	EnvRateLimit     = "BLOCKGRAPH_RATE_LIMIT"
	EnvOutput        = "BLOCKGRAPH_OUTPUT"
	EnvMetricsAddr   = "BLOCKGRAPH_METRICS_ADDR"
	EnvMaxBodySize   = "BLOCKGRAPH_MAX_BODY_SIZE"
	EnvS3Endpoint    = "BLOCKGRAPH_S3_ENDPOINT"
	EnvS3Region      = "BLOCKGRAPH_S3_REGION"
	EnvS3AccessKey   = "BLOCKGRAPH_S3_ACCESS_KEY"
	EnvS3SecretKey   = "BLOCKGRAPH_S3_SECRET_KEY"
	EnvS3Bucket      = "BLOCKGRAPH_S3_BUCKET"
	EnvS3Object      = "BLOCKGRAPH_S3_OBJECT"
	EnvS3UseSSL      = "BLOCKGRAPH_S3_USE_SSL"
	DefaultDirectory = "https://instances.social"
)

const (
	DefaultRosterCount   = 10
	DefaultConcurrency   = 100
	DefaultFetchTimeout  = 5 * time.Second
	DefaultOutputPath    = "graph.json"
	DefaultMaxBodyBytes  = 16 << 20
	DefaultObjectName    = "graph.json"
	DefaultPublishRegion = "us-east-1"
)

// ErrMissingAPIKey means there is nothing to do. Callers treat it as a clean exit.
var ErrMissingAPIKey = errors.New(EnvAPIKey + " not set")

var validate = validator.New()

type Config struct {
	APIKey        string        `json:"-"`
	DirectoryURL  string        `json:"directory_url" validate:"required,url"`
	RosterCount   int           `json:"roster_count" validate:"gte=0"`
	MaxConcurrent int           `json:"max_concurrent" validate:"gte=1"`
	FetchTimeout  time.Duration `json:"fetch_timeout" validate:"gt=0"`
	RateLimit     float64       `json:"rate_limit" validate:"gte=0"`
	OutputPath    string        `json:"output_path" validate:"required"`
	MetricsAddr   string        `json:"metrics_addr" validate:"omitempty,hostname_port"`
	MaxBodyBytes  int64         `json:"max_body_bytes" validate:"gt=0"`
	Publish       PublishConfig `json:"publish"`
}

// PublishConfig describes the optional S3-compatible upload target.
type PublishConfig struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	AccessKey string `json:"-" validate:"required_with=Endpoint"`
	SecretKey string `json:"-" validate:"required_with=Endpoint"`
	Bucket    string `json:"bucket" validate:"required_with=Endpoint"`
	Object    string `json:"object" validate:"required_with=Endpoint"`
	UseSSL    bool   `json:"use_ssl"`
}

// Enabled reports whether an upload target is configured.
func (p PublishConfig) Enabled() bool {
	return p.Endpoint != "" && p.Bucket != ""
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		DirectoryURL:  DefaultDirectory,
		RosterCount:   DefaultRosterCount,
		MaxConcurrent: DefaultConcurrency,
		FetchTimeout:  DefaultFetchTimeout,
		OutputPath:    DefaultOutputPath,
		MaxBodyBytes:  DefaultMaxBodyBytes,
		Publish: PublishConfig{
			Region: DefaultPublishRegion,
			Object: DefaultObjectName,
			UseSSL: true,
		},
	}
}

// Load reads a .env file from the working directory, if present, and then
// the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv builds a Config from environment variables on top of Default.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	cfg.APIKey = strings.TrimSpace(os.Getenv(EnvAPIKey))
	cfg.DirectoryURL = strings.TrimRight(getEnv(EnvDirectoryURL, cfg.DirectoryURL), "/")
	cfg.OutputPath = getEnv(EnvOutput, cfg.OutputPath)
	cfg.MetricsAddr = getEnv(EnvMetricsAddr, "")

	var err error
	if cfg.RosterCount, err = getEnvInt(EnvRosterCount, cfg.RosterCount); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent, err = getEnvInt(EnvConcurrency, cfg.MaxConcurrent); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getEnvDuration(EnvFetchTimeout, cfg.FetchTimeout); err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(os.Getenv(EnvMaxBodySize)); raw != "" {
		cfg.MaxBodyBytes, err = utils.ParseDataSize(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvMaxBodySize, raw, err)
		}
	}
	if raw := os.Getenv(EnvRateLimit); raw != "" {
		cfg.RateLimit, err = strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvRateLimit, raw, err)
		}
	}

	cfg.Publish.Endpoint = getEnv(EnvS3Endpoint, "")
	cfg.Publish.Region = getEnv(EnvS3Region, cfg.Publish.Region)
	cfg.Publish.AccessKey = getEnv(EnvS3AccessKey, "")
	cfg.Publish.SecretKey = getEnv(EnvS3SecretKey, "")
	cfg.Publish.Bucket = getEnv(EnvS3Bucket, "")
	cfg.Publish.Object = getEnv(EnvS3Object, cfg.Publish.Object)
	if raw := os.Getenv(EnvS3UseSSL); raw != "" {
		cfg.Publish.UseSSL, err = strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvS3UseSSL, raw, err)
		}
	}

	return cfg, nil
}

// Validate returns ErrMissingAPIKey when no key is configured, otherwise
// the first struct validation failure.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
