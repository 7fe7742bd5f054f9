package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/utils"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "IMAGELOADER_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global  GlobalConfig  `yaml:"global"`
	Cache   CacheConfig   `yaml:"cache"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Decode  DecodeConfig  `yaml:"decode"`
	Display DisplayConfig `yaml:"display"`
	S3      S3Config      `yaml:"s3"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
}

// CacheConfig represents the memory and disk tier settings
type CacheConfig struct {
	// DirectoryName is the name of the per-user cache directory.
	DirectoryName string `yaml:"directory_name"`
	// Directory overrides the resolved location entirely.
	Directory string `yaml:"directory"`
	// MemoryLimit is a human size such as "64MB". Empty means MemoryFraction
	// of the process memory budget.
	MemoryLimit    string  `yaml:"memory_limit"`
	MemoryFraction float64 `yaml:"memory_fraction"`
}

// FetchConfig represents network fetch settings
type FetchConfig struct {
	Workers        int                  `yaml:"workers"`
	Timeout        time.Duration        `yaml:"timeout"`
	MaxRedirects   int                  `yaml:"max_redirects"`
	UserAgent      string               `yaml:"user_agent"`
	MaxBodySize    string               `yaml:"max_body_size"` // largest accepted image, e.g. "64MiB"
	RateLimit      float64              `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst      int                  `yaml:"rate_burst"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DecodeConfig controls subsampling while decoding
type DecodeConfig struct {
	LimitSize bool `yaml:"limit_size"`
	SizeLimit int  `yaml:"size_limit"`
}

// DisplayConfig controls what targets show while waiting and after failure
type DisplayConfig struct {
	Placeholder    string `yaml:"placeholder"`
	ClearOnFailure bool   `yaml:"clear_on_failure"`
}

// S3Config represents settings for s3:// URLs
type S3Config struct {
	Enabled        bool   `yaml:"enabled"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`

	// Static credentials for S3-compatible stores. Empty means the default
	// AWS credential chain.
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			LogFile:     "",
			MetricsPort: 9090,
		},
		Cache: CacheConfig{
			DirectoryName:  "imageloader",
			MemoryFraction: 0.25,
		},
		Fetch: FetchConfig{
			Workers:      5,
			Timeout:      10 * time.Second,
			MaxRedirects: 5,
			UserAgent:    "imageloader/1.0",
			MaxBodySize:  "64MiB",
			RateBurst:    1,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          false,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Decode: DecodeConfig{
			LimitSize: false,
			SizeLimit: 120,
		},
		Display: DisplayConfig{
			Placeholder:    "loading",
			ClearOnFailure: true,
		},
		S3: S3Config{
			Enabled: false,
			Region:  "us-east-1",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "imageloader",
			Path:      "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithContext("path", filename).
			WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithContext("path", filename).
			WithCause(err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := getenv("LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := getenv("LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := getenv("LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := getenv("METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}

	// Cache settings
	if val := getenv("CACHE_DIRECTORY"); val != "" {
		c.Cache.Directory = val
	}
	if val := getenv("MEMORY_LIMIT"); val != "" {
		c.Cache.MemoryLimit = val
	}

	// Fetch settings
	if val := getenv("WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			c.Fetch.Workers = workers
		}
	}
	if val := getenv("TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Fetch.Timeout = duration
		}
	}
	if val := getenv("MAX_BODY_SIZE"); val != "" {
		c.Fetch.MaxBodySize = val
	}
	if val := getenv("RATE_LIMIT"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.Fetch.RateLimit = rate
		}
	}

	// Decode settings
	if val := getenv("LIMIT_SIZE"); val != "" {
		c.Decode.LimitSize = strings.ToLower(val) == "true"
	}
	if val := getenv("SIZE_LIMIT"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			c.Decode.SizeLimit = limit
		}
	}

	// Display settings
	if val := getenv("PLACEHOLDER"); val != "" {
		c.Display.Placeholder = val
	}

	// S3 settings
	if val := getenv("S3_ENABLED"); val != "" {
		c.S3.Enabled = strings.ToLower(val) == "true"
	}
	if val := getenv("S3_REGION"); val != "" {
		c.S3.Region = val
	}
	if val := getenv("S3_ENDPOINT"); val != "" {
		c.S3.Endpoint = val
	}
	if val := getenv("S3_ACCESS_KEY_ID"); val != "" {
		c.S3.AccessKeyID = val
	}
	if val := getenv("S3_SECRET_ACCESS_KEY"); val != "" {
		c.S3.SecretAccessKey = val
	}

	if val := getenv("METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Fetch.Workers <= 0 {
		return invalid("fetch.workers must be greater than 0")
	}
	if c.Fetch.Timeout <= 0 {
		return invalid("fetch.timeout must be greater than 0")
	}
	if c.Fetch.MaxRedirects < 0 {
		return invalid("fetch.max_redirects cannot be negative")
	}
	if c.Fetch.MaxBodySize != "" {
		if size, err := utils.ParseBytes(c.Fetch.MaxBodySize); err != nil || size <= 0 {
			return invalid("invalid fetch.max_body_size").WithCause(err)
		}
	}
	if c.Fetch.RateLimit < 0 {
		return invalid("fetch.rate_limit cannot be negative")
	}
	if c.Fetch.RateLimit > 0 && c.Fetch.RateBurst <= 0 {
		return invalid("fetch.rate_burst must be greater than 0 when rate_limit is set")
	}
	if c.Fetch.CircuitBreaker.Enabled && c.Fetch.CircuitBreaker.FailureThreshold <= 0 {
		return invalid("fetch.circuit_breaker.failure_threshold must be greater than 0")
	}

	if c.Decode.SizeLimit <= 0 {
		return invalid("decode.size_limit must be greater than 0")
	}

	if c.Cache.Directory == "" && c.Cache.DirectoryName == "" {
		return invalid("cache.directory_name is required when cache.directory is empty")
	}
	if c.Cache.MemoryLimit != "" {
		if _, err := utils.ParseBytes(c.Cache.MemoryLimit); err != nil {
			return invalid("invalid cache.memory_limit").WithCause(err)
		}
	} else if c.Cache.MemoryFraction <= 0 || c.Cache.MemoryFraction > 1 {
		return invalid("cache.memory_fraction must be in (0, 1]")
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid(fmt.Sprintf("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)",
			c.Global.LogLevel))
	}
	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json", "logfmt":
	default:
		return invalid(fmt.Sprintf("invalid log_format: %s", c.Global.LogFormat))
	}

	if c.Metrics.Enabled && (c.Global.MetricsPort <= 0 || c.Global.MetricsPort > 65535) {
		return invalid("global.metrics_port must be a valid port when metrics are enabled")
	}

	if c.S3.Enabled && c.S3.Region == "" {
		return invalid("s3.region is required when s3 is enabled")
	}
	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return invalid("s3.access_key_id and s3.secret_access_key must be set together")
	}

	return nil
}

// MemoryCapacity returns the memory tier budget in bytes.
func (c *Configuration) MemoryCapacity() (int64, error) {
	if c.Cache.MemoryLimit != "" {
		return utils.ParseBytes(c.Cache.MemoryLimit)
	}
	return utils.FractionOf(utils.MemoryBudget(), c.Cache.MemoryFraction), nil
}

// BodySizeLimit returns fetch.max_body_size in bytes. Zero means the
// fetchers' own default.
func (c *Configuration) BodySizeLimit() (int64, error) {
	if c.Fetch.MaxBodySize == "" {
		return 0, nil
	}
	return utils.ParseBytes(c.Fetch.MaxBodySize)
}

// CacheDirectory resolves the disk tier location.
func (c *Configuration) CacheDirectory() (string, error) {
	return utils.ResolveCacheDirectory(c.Cache.DirectoryName, c.Cache.Directory)
}

func invalid(msg string) *errors.LoaderError {
	return errors.NewError(errors.ErrCodeInvalidConfig, msg).WithComponent("config")
}
