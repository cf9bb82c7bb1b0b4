package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 1, cfg.Concurrency.UpdateRetries)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retail.yaml")
	yml := `
server:
  port: 9090
  read_timeout: 5s
storage:
  driver: dynamodb
  dynamodb:
    endpoint: http://localhost:8000
integrity:
  interval: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")
	assert.Equal(t, DriverDynamoDB, cfg.Storage.Driver)
	assert.Equal(t, "http://localhost:8000", cfg.Storage.DynamoDB.Endpoint)
	assert.Equal(t, "retail", cfg.Storage.DynamoDB.TablePrefix)
	assert.Equal(t, 10*time.Minute, cfg.Integrity.Interval)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retail.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  drvier: sqlite\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RETAIL_PORT":      "3000",
		"RETAIL_DB":        ":memory:",
		"RETAIL_STORAGE":   "memory",
		"RETAIL_LOG_LEVEL": "debug",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Storage.SQLitePath)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)

	err := cfg.ApplyEnv(func(k string) string {
		if k == "RETAIL_PORT" {
			return "eighty"
		}
		return ""
	})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Storage.SQLitePath = "" }},
		{"negative retries", func(c *Config) { c.Concurrency.UpdateRetries = -1 }},
		{"zero interval", func(c *Config) { c.Integrity.Interval = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_DisabledScanIgnoresInterval(t *testing.T) {
	cfg := Default()
	cfg.Integrity.Enabled = false
	cfg.Integrity.Interval = 0
	assert.NoError(t, cfg.Validate())
}
