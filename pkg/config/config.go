package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Annotator AnnotatorConfig
	History   HistoryConfig
	Display   DisplayConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
	// LLMRequestsPerMinute bounds the routes that call the completion API.
	LLMRequestsPerMinute int
}

type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	// FanOut caps concurrent per-table queries; 0 means one per table.
	FanOut int
	// ConnectAttempts is how many times startup pings the pool before giving up.
	ConnectAttempts int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type AnnotatorConfig struct {
	// Concurrency caps in-flight completion calls; 0 means unlimited.
	Concurrency int
}

// HistoryConfig controls the local SQLite log of annotation runs.
type HistoryConfig struct {
	Enabled       bool
	Path          string
	RetentionDays int
}

type DisplayConfig struct {
	// Timezone is the IANA zone used to render dates and clock times.
	Timezone string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Location resolves the display timezone, defaulting to UTC.
func (d DisplayConfig) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid display timezone %q: %w", d.Timezone, err)
	}
	return loc, nil
}

// Load reads configuration from an optional config file, SESSION_METRICS_*
// environment variables and defaults. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/session-metrics")
	}

	v.SetEnvPrefix("SESSION_METRICS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional names used by hosting platforms.
	_ = v.BindEnv("postgres.url", "SESSION_METRICS_POSTGRES_URL", "DATABASE_URL")
	_ = v.BindEnv("llm.apiKey", "SESSION_METRICS_LLM_APIKEY", "OPENAI_API_KEY")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres.url is required (or set DATABASE_URL)")
	}
	if c.Annotator.Concurrency < 0 {
		return fmt.Errorf("annotator.concurrency must not be negative")
	}
	if c.Postgres.FanOut < 0 {
		return fmt.Errorf("postgres.fanOut must not be negative")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if _, err := c.Display.Location(); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 4194304)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)
	v.SetDefault("server.llmRequestsPerMinute", 30)

	v.SetDefault("postgres.maxOpenConns", 10)
	v.SetDefault("postgres.maxIdleConns", 5)
	v.SetDefault("postgres.fanOut", 0)
	v.SetDefault("postgres.connectAttempts", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.maxTokens", 500)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("annotator.concurrency", 0)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "./data/annotations.db")
	v.SetDefault("history.retentionDays", 90)

	v.SetDefault("display.timezone", "UTC")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
