package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Environment string
	LogLevel    string
	Database    DatabaseConfig
	Redis       RedisConfig
	OpenAI      OpenAIConfig
	Extraction  ExtractionConfig
	Pipeline    PipelineConfig
	OTEL        OTELConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// OpenAIConfig holds completion service configuration
type OpenAIConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	RateLimitRPM   int
	RateLimitBurst int
	// USD per 1K tokens, used for cost accounting on reports.
	PromptPricePer1K     float64
	CompletionPricePer1K float64
}

// ExtractionConfig holds entity extraction service configuration
type ExtractionConfig struct {
	Region   string
	Endpoint string
	// Static credentials; the default AWS credential chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

// PipelineConfig holds coding pipeline tuning
type PipelineConfig struct {
	MaxRetries             int           `yaml:"max_retries"`
	BackoffUnit            time.Duration `yaml:"backoff_unit"`
	MaxBackoff             time.Duration `yaml:"max_backoff"`
	FilterTimeout          time.Duration `yaml:"filter_timeout"`
	ExtractionTimeout      time.Duration `yaml:"extraction_timeout"`
	AnalysisTimeout        time.Duration `yaml:"analysis_timeout"`
	BatchConcurrency       int           `yaml:"batch_concurrency"`
	BatchSize              int           `yaml:"batch_size"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	CrosswalkCapacity      int           `yaml:"crosswalk_capacity"`
	CrosswalkWarmStart     bool          `yaml:"crosswalk_warm_start"`
	MinCrosswalkConfidence float64       `yaml:"min_crosswalk_confidence"`
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("APP_ENV", "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "clinical_coding"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		OpenAI: OpenAIConfig{
			APIKey:               getEnv("OPENAI_API_KEY", ""),
			Model:                getEnv("OPENAI_MODEL", "gpt-4o"),
			BaseURL:              getEnv("OPENAI_BASE_URL", ""),
			RateLimitRPM:         getEnvAsInt("OPENAI_RATE_LIMIT_RPM", 60),
			RateLimitBurst:       getEnvAsInt("OPENAI_RATE_LIMIT_BURST", 5),
			PromptPricePer1K:     getEnvAsFloat("OPENAI_PROMPT_PRICE_PER_1K", 0.0025),
			CompletionPricePer1K: getEnvAsFloat("OPENAI_COMPLETION_PRICE_PER_1K", 0.01),
		},
		Extraction: ExtractionConfig{
			Region:   getEnv("EXTRACTION_AWS_REGION", "us-east-1"),
			Endpoint: getEnv("EXTRACTION_ENDPOINT", ""),

			AccessKeyID:     getEnv("EXTRACTION_AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("EXTRACTION_AWS_SECRET_ACCESS_KEY", ""),
		},
		Pipeline: DefaultPipelineConfig(),
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "clinical-coding-worker"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	p := &cfg.Pipeline
	p.MaxRetries = getEnvAsInt("PIPELINE_MAX_RETRIES", p.MaxRetries)
	p.BackoffUnit = getEnvAsDuration("PIPELINE_BACKOFF_UNIT", p.BackoffUnit)
	p.MaxBackoff = getEnvAsDuration("PIPELINE_MAX_BACKOFF", p.MaxBackoff)
	p.FilterTimeout = getEnvAsDuration("PIPELINE_FILTER_TIMEOUT", p.FilterTimeout)
	p.ExtractionTimeout = getEnvAsDuration("PIPELINE_EXTRACTION_TIMEOUT", p.ExtractionTimeout)
	p.AnalysisTimeout = getEnvAsDuration("PIPELINE_ANALYSIS_TIMEOUT", p.AnalysisTimeout)
	p.BatchConcurrency = getEnvAsInt("PIPELINE_BATCH_CONCURRENCY", p.BatchConcurrency)
	p.BatchSize = getEnvAsInt("PIPELINE_BATCH_SIZE", p.BatchSize)
	p.PollInterval = getEnvAsDuration("PIPELINE_POLL_INTERVAL", p.PollInterval)
	p.CrosswalkCapacity = getEnvAsInt("CROSSWALK_CACHE_CAPACITY", p.CrosswalkCapacity)
	p.CrosswalkWarmStart = getEnvAsBool("CROSSWALK_WARM_START", p.CrosswalkWarmStart)
	p.MinCrosswalkConfidence = getEnvAsFloat("CROSSWALK_MIN_CONFIDENCE", p.MinCrosswalkConfidence)

	if path := os.Getenv("PIPELINE_CONFIG_FILE"); path != "" {
		if err := cfg.LoadPipelineFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// DefaultPipelineConfig returns the pipeline defaults
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxRetries:             3,
		BackoffUnit:            time.Second,
		MaxBackoff:             5 * time.Minute,
		FilterTimeout:          120 * time.Second,
		ExtractionTimeout:      60 * time.Second,
		AnalysisTimeout:        180 * time.Second,
		BatchConcurrency:       5,
		BatchSize:              50,
		PollInterval:           30 * time.Second,
		CrosswalkCapacity:      1000,
		CrosswalkWarmStart:     true,
		MinCrosswalkConfidence: 0.7,
	}
}

// LoadPipelineFile overlays pipeline tuning from a YAML file. Keys absent
// from the file keep their current values.
func (c *Config) LoadPipelineFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.Pipeline); err != nil {
		return fmt.Errorf("parse pipeline config: %w", err)
	}
	return c.Pipeline.Validate()
}

// Validate checks pipeline tuning values
func (p *PipelineConfig) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", p.MaxRetries)
	}
	if p.BatchConcurrency < 1 {
		return fmt.Errorf("batch_concurrency must be at least 1, got %d", p.BatchConcurrency)
	}
	if p.CrosswalkCapacity < 1 {
		return fmt.Errorf("crosswalk_capacity must be at least 1, got %d", p.CrosswalkCapacity)
	}
	if p.MinCrosswalkConfidence < 0 || p.MinCrosswalkConfidence > 1 {
		return fmt.Errorf("min_crosswalk_confidence must be within [0,1], got %v", p.MinCrosswalkConfidence)
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
