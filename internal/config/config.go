package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreRecords  = "records"
)

type RecordsConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`
}

type CoordinatorConfig struct {
	DependencyTimeout time.Duration `mapstructure:"dependency_timeout"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	MaxTextLength     int           `mapstructure:"max_text_length"`
	IceBufferSize     int           `mapstructure:"ice_buffer_size"`
	MarkEndedAttempts int           `mapstructure:"mark_ended_attempts"`
	MarkEndedOnExpiry bool          `mapstructure:"mark_ended_on_expiry"`
}

type ClientConfig struct {
	ReadLimit int64         `mapstructure:"read_limit"`
	PongWait  time.Duration `mapstructure:"pong_wait"`
	RateLimit float64       `mapstructure:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst"`
}

type Config struct {
	ServerAddr       string            `mapstructure:"server_addr"`
	AllowedOrigins   []string          `mapstructure:"allowed_origins"`
	Base64SigningKey string            `mapstructure:"signing_key"`
	SigningKey       []byte            `mapstructure:"-"`
	Store            string            `mapstructure:"store"`
	DatabaseDSN      string            `mapstructure:"database_dsn"`
	Migrate          bool              `mapstructure:"migrate"`
	LogLevel         string            `mapstructure:"log_level"`
	LogFormat        string            `mapstructure:"log_format"`
	Records          RecordsConfig     `mapstructure:"records"`
	Coordinator      CoordinatorConfig `mapstructure:"coordinator"`
	Client           ClientConfig      `mapstructure:"client"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", "localhost:8000")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("signing_key", "")
	v.SetDefault("store", StorePostgres)
	v.SetDefault("database_dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable")
	v.SetDefault("migrate", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("records.base_url", "")
	v.SetDefault("records.token", "")
	v.SetDefault("records.cache_ttl", "30s")
	v.SetDefault("records.cache_size", 1024)

	v.SetDefault("coordinator.dependency_timeout", "3s")
	v.SetDefault("coordinator.grace_period", "30s")
	v.SetDefault("coordinator.max_text_length", 2000)
	v.SetDefault("coordinator.ice_buffer_size", 64)
	v.SetDefault("coordinator.mark_ended_attempts", 3)
	v.SetDefault("coordinator.mark_ended_on_expiry", true)

	v.SetDefault("client.read_limit", 65536)
	v.SetDefault("client.pong_wait", "60s")
	v.SetDefault("client.rate_limit", 20)
	v.SetDefault("client.rate_burst", 40)
}

// New returns a viper instance with defaults and environment bindings
// (CONSULT_SERVER_ADDR, CONSULT_RECORDS_BASE_URL, ...) applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("consult")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return v
}

// Load reads the optional config file at path and returns the validated
// configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// Validate checks required settings and decodes the signing key.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Base64SigningKey == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(c.Base64SigningKey)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	if len(signingKey) == 0 {
		return fmt.Errorf("signing secret cannot be empty")
	}
	c.SigningKey = signingKey

	if c.Records.BaseURL == "" {
		return fmt.Errorf("records base url cannot be empty")
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database DSN cannot be empty")
		}
	case StoreRecords:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.Coordinator.DependencyTimeout <= 0 {
		return fmt.Errorf("dependency timeout must be positive")
	}
	if c.Coordinator.GracePeriod < 0 {
		return fmt.Errorf("grace period cannot be negative")
	}
	if c.Coordinator.MaxTextLength <= 0 {
		return fmt.Errorf("max text length must be positive")
	}
	if c.Coordinator.MarkEndedAttempts < 1 {
		c.Coordinator.MarkEndedAttempts = 1
	}

	return nil
}
