// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4317", cfg.Server.GRPCEndpoint)
	assert.Equal(t, "0.0.0.0:4318", cfg.Server.HTTPEndpoint)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 100_000, cfg.Storage.Memory.MaxLogs)
	assert.Equal(t, 100_000, cfg.Storage.Memory.MaxMetrics)
	assert.Equal(t, 50_000, cfg.Storage.Memory.MaxTraces)
	assert.Equal(t, time.Duration(0), cfg.Storage.TTL)
	assert.Equal(t, 128, cfg.Stream.QueueSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Encoding)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  grpc_endpoint: 127.0.0.1:14317
  http_endpoint: 127.0.0.1:14318
  cors_origins:
    - https://dashboard.example.com
storage:
  memory:
    max_logs: 500
  ttl: 1h
stream:
  queue_size: 64
logging:
  level: debug
  encoding: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:14317", cfg.Server.GRPCEndpoint)
	assert.Equal(t, "127.0.0.1:14318", cfg.Server.HTTPEndpoint)
	assert.Equal(t, []string{"https://dashboard.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 500, cfg.Storage.Memory.MaxLogs)
	// Unset fields keep their defaults.
	assert.Equal(t, 100_000, cfg.Storage.Memory.MaxMetrics)
	assert.Equal(t, time.Hour, cfg.Storage.TTL)
	assert.Equal(t, 64, cfg.Stream.QueueSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Encoding)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_endpoint: 127.0.0.1:14318
`)
	t.Setenv("TELESCOPE_SERVER__HTTP_ENDPOINT", "127.0.0.1:24318")
	t.Setenv("TELESCOPE_STREAM__QUEUE_SIZE", "32")
	t.Setenv("TELESCOPE_LOGGING__LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:24318", cfg.Server.HTTPEndpoint)
	assert.Equal(t, 32, cfg.Stream.QueueSize)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfigFile(t, "server: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty grpc endpoint", func(c *Config) { c.Server.GRPCEndpoint = "" }},
		{"empty http endpoint", func(c *Config) { c.Server.HTTPEndpoint = "" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "dynamo" }},
		{"zero capacity", func(c *Config) { c.Storage.Memory.MaxLogs = 0 }},
		{"negative ttl", func(c *Config) { c.Storage.TTL = -time.Minute }},
		{"zero queue size", func(c *Config) { c.Stream.QueueSize = 0 }},
		{"bad encoding", func(c *Config) { c.Logging.Encoding = "text" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.GRPCEndpoint = ""
	cfg.Stream.QueueSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grpc_endpoint")
	assert.Contains(t, err.Error(), "queue_size")
}
