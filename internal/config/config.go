package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"quantlab/internal/logger"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    logger.Config    `yaml:"logging"`
	Broker     BrokerConfig     `yaml:"broker"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Tuner      TunerConfig      `yaml:"tuner"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	DBName   string        `yaml:"dbname"`
	SSLMode  string        `yaml:"sslmode"`
	MaxOpen  int           `yaml:"max_open"`
	MaxIdle  int           `yaml:"max_idle"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// BrokerConfig configures the paper brokerage client.
type BrokerConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	Timeout   time.Duration `yaml:"timeout"`
	// Requests per second allowed against the brokerage API.
	RateLimit float64 `yaml:"rate_limit"`
}

// MarketDataConfig configures the historical bar provider.
type MarketDataConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	BarCount int           `yaml:"bar_count"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// Exchange time zone used for the market-hours gate.
	Timezone string `yaml:"timezone"`
}

// TunerConfig configures the iteration engine defaults.
type TunerConfig struct {
	MaxIterations    int           `yaml:"max_iterations"`
	Aggressiveness   float64       `yaml:"aggressiveness"`
	MinTrades        int           `yaml:"min_trades"`
	MaxDrawdown      float64       `yaml:"max_drawdown"`
	BacktestTimeout  time.Duration `yaml:"backtest_timeout"`
	BacktestPollWait time.Duration `yaml:"backtest_poll_wait"`
}

// ExecutorConfig configures the live execution loop.
type ExecutorConfig struct {
	LeaseDuration time.Duration `yaml:"lease_duration"`
	MinBars       int           `yaml:"min_bars"`
}

// SchedulerConfig configures cron-driven loop invocations.
type SchedulerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ExecutorCron  string `yaml:"executor_cron"`
	TunerCron     string `yaml:"tuner_cron"`
	TuningJobCron string `yaml:"tuning_job_cron"`
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPath    string `yaml:"prometheus_path"`
}

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:default} references in raw config.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		groups := envPattern.FindSubmatch(match)
		if value := os.Getenv(string(groups[1])); value != "" {
			return []byte(value)
		}
		return groups[2]
	})
}

// Load loads configuration from a YAML file, expanding ${ENV} references.
// A .env file next to the process, if present, is loaded first.
func Load(filename string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(expandEnv(data), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8082
	}
	if c.MarketData.BarCount == 0 {
		c.MarketData.BarCount = 100
	}
	if c.MarketData.Timezone == "" {
		c.MarketData.Timezone = "America/New_York"
	}
	if c.MarketData.CacheTTL == 0 {
		c.MarketData.CacheTTL = time.Minute
	}
	if c.Tuner.MaxIterations == 0 {
		c.Tuner.MaxIterations = 10
	}
	if c.Tuner.Aggressiveness == 0 {
		c.Tuner.Aggressiveness = 0.5
	}
	if c.Tuner.MinTrades == 0 {
		c.Tuner.MinTrades = 5
	}
	if c.Tuner.MaxDrawdown == 0 {
		c.Tuner.MaxDrawdown = 0.25
	}
	if c.Tuner.BacktestTimeout == 0 {
		c.Tuner.BacktestTimeout = 2 * time.Minute
	}
	if c.Tuner.BacktestPollWait == 0 {
		c.Tuner.BacktestPollWait = time.Second
	}
	if c.Executor.LeaseDuration == 0 {
		c.Executor.LeaseDuration = 2 * time.Minute
	}
	if c.Executor.MinBars == 0 {
		c.Executor.MinBars = 20
	}
	if c.Broker.RateLimit == 0 {
		c.Broker.RateLimit = 5
	}
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = 10 * time.Second
	}
	if c.MarketData.Timeout == 0 {
		c.MarketData.Timeout = 10 * time.Second
	}
}
