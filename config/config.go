// Package config loads the service configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvBucket       = "FORGEDOCS_BUCKET"
	EnvQueueURL     = "FORGEDOCS_QUEUE_URL"
	EnvRegion       = "FORGEDOCS_REGION"
	EnvEndpoint     = "FORGEDOCS_ENDPOINT"
	EnvAddr         = "FORGEDOCS_ADDR"
	EnvLegacyBucket = "S3Bucket"
)

// Config is the complete service configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Queue   QueueConfig   `yaml:"queue"`
	HTTP    HTTPConfig    `yaml:"http"`
	Tools   ToolsConfig   `yaml:"tools"`
	Cache   CacheConfig   `yaml:"cache"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig locates the record bucket.
type StorageConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// AccessKeyID and SecretAccessKey, when both set, replace the default
	// credential chain (local S3-compatible stores).
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// ConditionalCreate writes new pending records with If-None-Match.
	ConditionalCreate bool          `yaml:"conditional_create"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// BreakerConfig guards the store. A zero failure threshold disables it.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// QueueConfig controls the upload notification consumer. An empty URL
// disables it.
type QueueConfig struct {
	URL               string `yaml:"url"`
	WaitSeconds       int32  `yaml:"wait_seconds"`
	MaxMessages       int32  `yaml:"max_messages"`
	VisibilityTimeout int32  `yaml:"visibility_timeout"`
	Concurrency       int    `yaml:"concurrency"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
	// RateLimit is the per-client request allowance per minute on the
	// lookup routes. Zero disables limiting.
	RateLimit int `yaml:"rate_limit"`
}

// ToolsConfig locates the download and extraction tools. Each command is
// an executable followed by fixed leading arguments.
type ToolsConfig struct {
	Puppet                []string      `yaml:"puppet"`
	Sidecar               []string      `yaml:"sidecar"`
	WorkDir               string        `yaml:"work_dir"`
	Timeout               time.Duration `yaml:"timeout"`
	EditorServicesVersion string        `yaml:"editor_services_version"`
}

// CacheConfig selects the lookup cache: Redis when an address is set,
// otherwise in-process when MaxEntries is positive.
type CacheConfig struct {
	Redis         RedisConfig   `yaml:"redis"`
	MaxEntries    int           `yaml:"max_entries"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that runs against the default AWS
// credential chain once a bucket is supplied.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Region:  "us-east-1",
			Breaker: BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second},
		},
		Queue: QueueConfig{
			WaitSeconds:       20,
			MaxMessages:       10,
			VisibilityTimeout: 900,
			Concurrency:       2,
		},
		HTTP: HTTPConfig{Address: ":8080"},
		Tools: ToolsConfig{
			Puppet:  []string{"puppet"},
			Sidecar: []string{"puppet-languageserver-sidecar"},
			Timeout: 10 * time.Minute,
		},
		Cache: CacheConfig{
			MaxEntries:    1000,
			TTL:           10 * time.Minute,
			SweepInterval: time.Minute,
			Redis:         RedisConfig{Prefix: "forgedocs:"},
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "forgedocs",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "forgedocs",
			Path:      "/metrics",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadFromFile reads a YAML configuration over Default. ${VAR} references
// are expanded before parsing and environment overrides applied after.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over Default and applies environment
// overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// Load returns Default with environment overrides, or the file at path
// when path is not empty.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromFile(path)
	}
	cfg := Default()
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides settings from the FORGEDOCS_* variables. S3Bucket is
// honoured when FORGEDOCS_BUCKET is unset.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvBucket); v != "" {
		c.Storage.Bucket = v
	} else if v := os.Getenv(EnvLegacyBucket); v != "" && c.Storage.Bucket == "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv(EnvQueueURL); v != "" {
		c.Queue.URL = v
	}
	if v := os.Getenv(EnvRegion); v != "" {
		c.Storage.Region = v
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		c.Storage.Endpoint = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		c.HTTP.Address = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	if c.Storage.Breaker.FailureThreshold < 0 || c.Storage.Breaker.Cooldown < 0 {
		errs = append(errs, errors.New("storage.breaker values must not be negative"))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("http.rate_limit must not be negative, got %d", c.HTTP.RateLimit))
	}
	if c.Queue.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("queue.concurrency must not be negative, got %d", c.Queue.Concurrency))
	}
	if c.Queue.WaitSeconds < 0 || c.Queue.WaitSeconds > 20 {
		errs = append(errs, fmt.Errorf("queue.wait_seconds must be between 0 and 20, got %d", c.Queue.WaitSeconds))
	}
	if c.Tools.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tools.timeout must not be negative, got %s", c.Tools.Timeout))
	}
	if len(c.Tools.Puppet) == 0 {
		errs = append(errs, errors.New("tools.puppet is required"))
	}
	if len(c.Tools.Sidecar) == 0 {
		errs = append(errs, errors.New("tools.sidecar is required"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative, got %s", c.Cache.TTL))
	}
	if c.Cache.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("cache.sweep_interval must not be negative, got %s", c.Cache.SweepInterval))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
