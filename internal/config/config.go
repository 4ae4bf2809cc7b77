package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string            `mapstructure:"environment"`
	LogLevel    string            `mapstructure:"log_level"`
	LogFile     LogFileConfig     `mapstructure:"log_file"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Collectors  CollectorsConfig  `mapstructure:"collectors"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the config as a pgx connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CollectorsConfig struct {
	Hyperliquid UpstreamConfig `mapstructure:"hyperliquid"`
	Lighter     LighterConfig  `mapstructure:"lighter"`
}

// UpstreamConfig is the per-upstream collection knob set: tick period,
// retry/backoff shape and per-request budget.
type UpstreamConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	BaseURL           string  `mapstructure:"base_url"`
	IntervalSeconds   int     `mapstructure:"interval_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

func (c UpstreamConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c UpstreamConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

func (c UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type LighterConfig struct {
	UpstreamConfig `mapstructure:",squash"`
	// ExchangeMap rewrites upstream venue names before records are emitted,
	// so aggregator-sourced data is distinguishable from direct sources.
	// Empty means the built-in mapping table.
	ExchangeMap map[string]string `mapstructure:"exchange_map"`
}

type AggregationConfig struct {
	WindowDays      int      `mapstructure:"window_days"`
	MaxSamples      int      `mapstructure:"max_samples"`
	TopN            int      `mapstructure:"top_n"`
	CacheTTLSeconds int      `mapstructure:"cache_ttl_seconds"`
	Exchanges       []string `mapstructure:"exchanges"`
}

func (c AggregationConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("log_file.path", "")
	viper.SetDefault("log_file.max_size_mb", 100)
	viper.SetDefault("log_file.max_backups", 3)
	viper.SetDefault("log_file.max_age_days", 14)

	viper.SetDefault("server.port", 8080)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "market_data")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("collectors.hyperliquid.enabled", true)
	viper.SetDefault("collectors.hyperliquid.base_url", "https://api.hyperliquid.xyz")
	viper.SetDefault("collectors.hyperliquid.interval_seconds", 1800)
	viper.SetDefault("collectors.hyperliquid.max_retries", 3)
	viper.SetDefault("collectors.hyperliquid.retry_delay_seconds", 60)
	viper.SetDefault("collectors.hyperliquid.timeout_seconds", 30)
	viper.SetDefault("collectors.hyperliquid.requests_per_second", 2.0)

	viper.SetDefault("collectors.lighter.enabled", true)
	viper.SetDefault("collectors.lighter.base_url", "https://mainnet.zklighter.elliot.ai/api/v1")
	viper.SetDefault("collectors.lighter.interval_seconds", 1800)
	viper.SetDefault("collectors.lighter.max_retries", 3)
	viper.SetDefault("collectors.lighter.retry_delay_seconds", 60)
	viper.SetDefault("collectors.lighter.timeout_seconds", 30)
	viper.SetDefault("collectors.lighter.requests_per_second", 2.0)

	viper.SetDefault("aggregation.window_days", 3)
	viper.SetDefault("aggregation.max_samples", 144)
	viper.SetDefault("aggregation.top_n", 10)
	viper.SetDefault("aggregation.cache_ttl_seconds", 60)
	viper.SetDefault("aggregation.exchanges", []string{
		"binance_lighter", "bybit_lighter", "hyperliquid_lighter", "lighter", "hyperliquid",
	})
}
