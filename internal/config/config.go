// Package config loads questd's configuration from a JSON or YAML file,
// with environment variable overrides layered on top of whatever the
// file (or DefaultConfig) supplied.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the TCP listener settings.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"` // Default: 0.0.0.0
	Port int    `json:"port" yaml:"port"` // Default: 7711
}

// QueueConfig holds queue-manager channel sizing.
type QueueConfig struct {
	RequestBuffer int `json:"request_buffer" yaml:"request_buffer"` // Capacity of the request channel (default: 1024)
	ReplyBuffer   int `json:"reply_buffer" yaml:"reply_buffer"`     // Capacity of the reply channel (default: 1024)
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`           // Default: false
	Exporter    string  `json:"exporter" yaml:"exporter"`         // otlp-http, stdout
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // localhost:4318
	ServiceName string  `json:"service_name" yaml:"service_name"` // questd
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled" yaml:"enabled"`                     // Default: true
	Addr             string    `json:"addr" yaml:"addr"`                           // :9090, serves /metrics
	Namespace        string    `json:"namespace" yaml:"namespace"`                 // questd
	HistogramBuckets []float64 `json:"histogram_buckets" yaml:"histogram_buckets"` // Latency buckets in ms
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

// ObservabilityConfig groups every ambient-observability concern.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// Config is the root configuration struct.
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Queue         QueueConfig         `json:"queue" yaml:"queue"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 7711,
		},
		Queue: QueueConfig{
			RequestBuffer: 1024,
			ReplyBuffer:   1024,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "questd",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Addr:             ":9090",
				Namespace:        "questd",
				HistogramBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 25, 50, 100},
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, starting
// from DefaultConfig so an absent field keeps its default rather than
// zeroing out. The format is chosen by file extension: .yaml/.yml use
// YAML, everything else is parsed as JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadFromEnv applies QUESTD_* environment variable overrides to cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("QUESTD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("QUESTD_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("QUESTD_REQUEST_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.RequestBuffer = n
		}
	}
	if v := os.Getenv("QUESTD_REPLY_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.ReplyBuffer = n
		}
	}

	if v := os.Getenv("QUESTD_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("QUESTD_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("QUESTD_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("QUESTD_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("QUESTD_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}

	if v := os.Getenv("QUESTD_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("QUESTD_METRICS_ADDR"); v != "" {
		cfg.Observability.Metrics.Addr = v
	}
	if v := os.Getenv("QUESTD_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}

	if v := os.Getenv("QUESTD_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("QUESTD_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
