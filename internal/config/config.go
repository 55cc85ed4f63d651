package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Record source drivers.
const (
	DriverHTTP  = "http"
	DriverMySQL = "mysql"
)

// Config captures the settings required to boot the trend engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Records  RecordsConfig  `yaml:"records"`
	Cache    CacheConfig    `yaml:"cache"`
	Compute  ComputeConfig  `yaml:"compute"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RecordsConfig selects where daily records are read from.
type RecordsConfig struct {
	Driver string            `yaml:"driver"`
	HTTP   RecordsHTTPConfig `yaml:"http"`
	MySQL  MySQLConfig       `yaml:"mysql"`
}

// RecordsHTTPConfig configures the record service client.
type RecordsHTTPConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	RecordsPath string        `yaml:"recordsPath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MySQLConfig configures direct reads from the record database.
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	Addr            string        `yaml:"addr"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// CacheConfig controls the analysis cache, its optional Valkey tier and expiry.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addr          string        `yaml:"addr"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	TLS           bool          `yaml:"tls"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// ComputeConfig sizes the regression worker pool.
type ComputeConfig struct {
	Workers          int `yaml:"workers"`
	OffloadThreshold int `yaml:"offloadThreshold"`
	QueueSize        int `yaml:"queueSize"`
}

// AnalysisConfig tunes the analysis gates.
type AnalysisConfig struct {
	MinRecords   int  `yaml:"minRecords"`
	TrimOutliers bool `yaml:"trimOutliers"`
}

// MetricsConfig points at the metric catalog file.
type MetricsConfig struct {
	CatalogPath string `yaml:"catalogPath"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TREND_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var problems []string
	switch c.Records.Driver {
	case DriverHTTP:
		if c.Records.HTTP.BaseURL == "" {
			problems = append(problems, "records.http.baseURL is required for the http driver")
		}
	case DriverMySQL:
		if c.Records.MySQL.DSN == "" && (c.Records.MySQL.Addr == "" || c.Records.MySQL.Database == "") {
			problems = append(problems, "records.mysql needs a dsn or addr and database")
		}
	default:
		problems = append(problems, fmt.Sprintf("records.driver %q is not one of http, mysql", c.Records.Driver))
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		problems = append(problems, "cache.addr is required when the cache is enabled")
	}
	if c.Cache.Retention < 0 {
		problems = append(problems, "cache.retention must not be negative")
	}
	if c.Compute.Workers < 0 {
		problems = append(problems, "compute.workers must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Records: RecordsConfig{
			Driver: DriverHTTP,
			HTTP: RecordsHTTPConfig{
				BaseURL:     "http://localhost:8090",
				RecordsPath: "/api/v1/records/daily",
				Timeout:     5 * time.Second,
			},
			MySQL: MySQLConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Enabled:       false,
			DialTimeout:   2 * time.Second,
			ReadTimeout:   500 * time.Millisecond,
			WriteTimeout:  500 * time.Millisecond,
			MaxRetries:    2,
			Retention:     24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Compute: ComputeConfig{
			Workers:          2,
			OffloadThreshold: 100,
			QueueSize:        64,
		},
		Analysis: AnalysisConfig{MinRecords: 14},
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Address, "TREND_ENGINE_SERVER_ADDRESS")
	setString(&cfg.Server.MetricsAddress, "TREND_ENGINE_METRICS_ADDRESS")
	setString(&cfg.Logging.Level, "TREND_ENGINE_LOG_LEVEL")
	if v := os.Getenv("TREND_ENGINE_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}

	setString(&cfg.Records.Driver, "TREND_ENGINE_RECORDS_DRIVER")
	setString(&cfg.Records.HTTP.BaseURL, "TREND_ENGINE_RECORDS_BASE_URL")
	setString(&cfg.Records.HTTP.RecordsPath, "TREND_ENGINE_RECORDS_PATH")
	setDuration(&cfg.Records.HTTP.Timeout, "TREND_ENGINE_RECORDS_TIMEOUT")
	setString(&cfg.Records.MySQL.DSN, "TREND_ENGINE_MYSQL_DSN")
	setString(&cfg.Records.MySQL.Addr, "TREND_ENGINE_MYSQL_ADDR")
	setString(&cfg.Records.MySQL.User, "TREND_ENGINE_MYSQL_USER")
	setString(&cfg.Records.MySQL.Password, "TREND_ENGINE_MYSQL_PASSWORD")
	setString(&cfg.Records.MySQL.Database, "TREND_ENGINE_MYSQL_DATABASE")

	setBool(&cfg.Cache.Enabled, "TREND_ENGINE_CACHE_ENABLED")
	setString(&cfg.Cache.Addr, "TREND_ENGINE_CACHE_ADDR")
	setString(&cfg.Cache.Username, "TREND_ENGINE_CACHE_USERNAME")
	setString(&cfg.Cache.Password, "TREND_ENGINE_CACHE_PASSWORD")
	setInt(&cfg.Cache.DB, "TREND_ENGINE_CACHE_DB")
	setBool(&cfg.Cache.TLS, "TREND_ENGINE_CACHE_TLS")
	setDuration(&cfg.Cache.DialTimeout, "TREND_ENGINE_CACHE_DIAL_TIMEOUT")
	setDuration(&cfg.Cache.ReadTimeout, "TREND_ENGINE_CACHE_READ_TIMEOUT")
	setDuration(&cfg.Cache.WriteTimeout, "TREND_ENGINE_CACHE_WRITE_TIMEOUT")
	setInt(&cfg.Cache.MaxRetries, "TREND_ENGINE_CACHE_MAX_RETRIES")
	setDuration(&cfg.Cache.Retention, "TREND_ENGINE_CACHE_RETENTION")
	setDuration(&cfg.Cache.SweepInterval, "TREND_ENGINE_CACHE_SWEEP_INTERVAL")

	setInt(&cfg.Compute.Workers, "TREND_ENGINE_WORKERS")
	setInt(&cfg.Compute.OffloadThreshold, "TREND_ENGINE_OFFLOAD_THRESHOLD")
	setInt(&cfg.Compute.QueueSize, "TREND_ENGINE_QUEUE_SIZE")
	setInt(&cfg.Analysis.MinRecords, "TREND_ENGINE_MIN_RECORDS")
	setBool(&cfg.Analysis.TrimOutliers, "TREND_ENGINE_TRIM_OUTLIERS")
	setString(&cfg.Metrics.CatalogPath, "TREND_ENGINE_METRIC_CATALOG")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
