// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the service configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"

	"github.com/telescope-obs/telescope/internal/receiver"
	"github.com/telescope-obs/telescope/internal/store/memstore"
)

// envPrefix scopes the environment override namespace. A double underscore
// separates nesting levels so that field names may keep single underscores:
// TELESCOPE_SERVER__GRPC_ENDPOINT -> server.grpc_endpoint.
const envPrefix = "TELESCOPE_"

// Config is the root of the service configuration.
type Config struct {
	Server  receiver.Config `koanf:"server"`
	Storage StorageConfig   `koanf:"storage"`
	Stream  StreamConfig    `koanf:"stream"`
	Logging LoggingConfig   `koanf:"logging"`
}

// StorageConfig selects and sizes the telemetry store.
type StorageConfig struct {
	// Backend names the store implementation. Only "memory" ships today; the
	// knob exists so a durable backend can slot in without a config break.
	Backend string `koanf:"backend"`

	Memory memstore.Config `koanf:"memory"`

	// TTL drops items older than the given age at query time. Zero disables
	// age-based expiry, leaving capacity as the only bound.
	TTL time.Duration `koanf:"ttl"`
}

// StreamConfig tunes the websocket fan-out.
type StreamConfig struct {
	// QueueSize is the per-connection buffered envelope count. When a slow
	// consumer fills it, the oldest queued envelope is dropped.
	QueueSize int `koanf:"queue_size"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		Server: receiver.Config{
			GRPCEndpoint: "0.0.0.0:4317",
			HTTPEndpoint: "0.0.0.0:4318",
		},
		Storage: StorageConfig{
			Backend: "memory",
			Memory:  memstore.DefaultConfig(),
		},
		Stream: StreamConfig{
			QueueSize: 128,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path if
// given, then TELESCOPE_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment overrides: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field rather than stopping at the first.
func (c Config) Validate() error {
	var err error
	if c.Server.GRPCEndpoint == "" {
		err = multierr.Append(err, fmt.Errorf("server.grpc_endpoint must not be empty"))
	}
	if c.Server.HTTPEndpoint == "" {
		err = multierr.Append(err, fmt.Errorf("server.http_endpoint must not be empty"))
	}
	if c.Storage.Backend != "memory" {
		err = multierr.Append(err, fmt.Errorf("storage.backend %q is not supported, only \"memory\"", c.Storage.Backend))
	}
	if verr := c.Storage.Memory.Validate(); verr != nil {
		err = multierr.Append(err, verr)
	}
	if c.Storage.TTL < 0 {
		err = multierr.Append(err, fmt.Errorf("storage.ttl must not be negative"))
	}
	if c.Stream.QueueSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("stream.queue_size must be positive"))
	}
	switch c.Logging.Encoding {
	case "console", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.encoding %q is not supported, use \"console\" or \"json\"", c.Logging.Encoding))
	}
	return err
}
