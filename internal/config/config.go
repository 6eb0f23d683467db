package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Engine    EngineConfig    `mapstructure:"engine" json:"engine"`
	Resolver  ResolverConfig  `mapstructure:"resolver" json:"resolver"`
	Voices    VoicesConfig    `mapstructure:"voices" json:"voices"`
	Auth      AuthConfig      `mapstructure:"auth" json:"auth"`
	Limits    LimitsConfig    `mapstructure:"limits" json:"limits"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen" json:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	// ChunkWriteTimeout bounds each flushed chunk of a live stream. Live
	// streams ignore WriteTimeout since their length is unbounded.
	ChunkWriteTimeout time.Duration `mapstructure:"chunk_write_timeout" json:"chunk_write_timeout"`
}

// EngineConfig selects and configures the inference engine.
type EngineConfig struct {
	Kind                 string        `mapstructure:"kind" json:"kind"`
	URL                  string        `mapstructure:"url" json:"url"`
	Timeout              time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxConnections       int           `mapstructure:"max_connections" json:"max_connections"`
	ModelDir             string        `mapstructure:"model_dir" json:"model_dir"`
	GPUMemoryUtilization float64       `mapstructure:"gpu_memory_utilization" json:"gpu_memory_utilization"`
	// SampleRate is only used by the tone engine.
	SampleRate int `mapstructure:"sample_rate" json:"sample_rate"`
}

// ResolverConfig holds reference audio download settings.
type ResolverConfig struct {
	TempDir           string        `mapstructure:"temp_dir" json:"temp_dir"`
	ChunkSize         int           `mapstructure:"chunk_size" json:"chunk_size"`
	DownloadTimeout   time.Duration `mapstructure:"download_timeout" json:"download_timeout"`
	BlockPrivateHosts bool          `mapstructure:"block_private_hosts" json:"block_private_hosts"`
}

// VoicesConfig holds the startup voice table and optional persistence.
type VoicesConfig struct {
	File      string              `mapstructure:"file" json:"file"`
	StorePath string              `mapstructure:"store_path" json:"store_path"`
	Table     map[string][]string `mapstructure:"table" json:"table"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	APIKey string `mapstructure:"api_key" json:"api_key"`
}

// LimitsConfig holds request limit settings.
type LimitsConfig struct {
	MaxTextLength        int           `mapstructure:"max_text_length" json:"max_text_length"`
	MaxConcurrentStreams int           `mapstructure:"max_concurrent_streams" json:"max_concurrent_streams"`
	AcquireTimeout       time.Duration `mapstructure:"acquire_timeout" json:"acquire_timeout"`
	BatchWorkers         int           `mapstructure:"batch_workers" json:"batch_workers"`
	BatchQueue           int           `mapstructure:"batch_queue" json:"batch_queue"`
	RequestsPerSecond    float64       `mapstructure:"requests_per_second" json:"requests_per_second"`
	Burst                int           `mapstructure:"burst" json:"burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Exporter     string `mapstructure:"exporter" json:"exporter"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure" json:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

const (
	EngineKindBackend = "backend"
	EngineKindTone    = "tone"
)

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            "0.0.0.0:7860",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      120 * time.Second,
			ChunkWriteTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			Kind:                 EngineKindBackend,
			URL:                  "http://127.0.0.1:8081",
			Timeout:              60 * time.Second,
			MaxConnections:       100,
			ModelDir:             "checkpoints",
			GPUMemoryUtilization: 0.25,
			SampleRate:           24000,
		},
		Resolver: ResolverConfig{
			TempDir:         os.TempDir(),
			ChunkSize:       8192,
			DownloadTimeout: 60 * time.Second,
		},
		Voices: VoicesConfig{
			File: "assets/speaker.json",
		},
		Limits: LimitsConfig{
			MaxTextLength:        0,
			MaxConcurrentStreams: 8,
			AcquireTimeout:       5 * time.Second,
			BatchWorkers:         4,
			BatchQueue:           16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "tts-server",
		},
	}
}

// Validate reports configuration values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Engine.Kind {
	case EngineKindBackend:
		if strings.TrimSpace(c.Engine.URL) == "" {
			return fmt.Errorf("engine.url is required for the %q engine", EngineKindBackend)
		}
	case EngineKindTone:
		if c.Engine.SampleRate <= 0 {
			return fmt.Errorf("engine.sample_rate must be positive")
		}
	default:
		return fmt.Errorf("unknown engine.kind %q", c.Engine.Kind)
	}
	if c.Engine.GPUMemoryUtilization < 0 || c.Engine.GPUMemoryUtilization > 1 {
		return fmt.Errorf("engine.gpu_memory_utilization must be within [0, 1]")
	}
	if c.Resolver.ChunkSize <= 0 {
		return fmt.Errorf("resolver.chunk_size must be positive")
	}
	if c.Limits.MaxTextLength < 0 {
		return fmt.Errorf("limits.max_text_length must not be negative")
	}
	if c.Limits.RequestsPerSecond < 0 {
		return fmt.Errorf("limits.requests_per_second must not be negative")
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown telemetry.exporter %q", c.Telemetry.Exporter)
	}
	return nil
}

// LoadWithDefaults loads configuration using defaults and optional overrides map (for tests).
func LoadWithDefaults(overrides map[string]interface{}) (*Config, error) {
	cfg := Default()

	if overrides != nil {
		raw, err := json.Marshal(overrides)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
