/*
Package config loads the service configuration.

PRECEDENCE (lowest to highest):
  1. Defaults (Default())
  2. YAML file (--config path)
  3. Environment (RETAIL_*)
  4. Command-line flags (applied by the cli package)

EXAMPLE (retail.yaml):
  server:
    port: 8080
    read_timeout: 15s
    cors_origins: ["http://localhost:5173"]
  storage:
    driver: sqlite
    sqlite_path: ./data/retail.db
  integrity:
    enabled: true
    interval: 1h
  concurrency:
    update_retries: 1
  log:
    level: info
    format: text

ENVIRONMENT:
  RETAIL_PORT               server.port
  RETAIL_DB                 storage.sqlite_path
  RETAIL_STORAGE            storage.driver
  RETAIL_LOG_LEVEL          log.level
  RETAIL_DYNAMODB_ENDPOINT  storage.dynamodb.endpoint
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverDynamoDB = "dynamodb"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Integrity   IntegrityConfig   `yaml:"integrity"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type StorageConfig struct {
	Driver     string         `yaml:"driver"`
	SQLitePath string         `yaml:"sqlite_path"`
	DynamoDB   DynamoDBConfig `yaml:"dynamodb"`
}

type DynamoDBConfig struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	TablePrefix  string `yaml:"table_prefix"`
	CreateTables bool   `yaml:"create_tables"`
}

// IntegrityConfig controls the periodic dangling-reference scan.
type IntegrityConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type ConcurrencyConfig struct {
	// UpdateRetries bounds blind-write retries after a conflict.
	UpdateRetries int `yaml:"update_retries"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: "retail.db",
			DynamoDB: DynamoDBConfig{
				Region:      "us-east-1",
				TablePrefix: "retail",
			},
		},
		Integrity: IntegrityConfig{
			Enabled:  true,
			Interval: time.Hour,
		},
		Concurrency: ConcurrencyConfig{UpdateRetries: 1},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping fields the document does not set.
// Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from RETAIL_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("RETAIL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RETAIL_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("RETAIL_DB"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := getenv("RETAIL_STORAGE"); v != "" {
		c.Storage.Driver = v
	}
	if v := getenv("RETAIL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("RETAIL_DYNAMODB_ENDPOINT"); v != "" {
		c.Storage.DynamoDB.Endpoint = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Driver {
	case DriverMemory, DriverDynamoDB:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver %q: want memory, sqlite or dynamodb", c.Storage.Driver)
	}
	if c.Concurrency.UpdateRetries < 0 {
		return fmt.Errorf("concurrency.update_retries must not be negative")
	}
	if c.Integrity.Enabled && c.Integrity.Interval <= 0 {
		return fmt.Errorf("integrity.interval must be positive when the scan is enabled")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Logger builds the structured logger described by the log section.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q: want debug, info, warn or error", s)
}
