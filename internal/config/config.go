// Package config loads the runtime configuration from TOML.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	SmallLLM  LLMConfig       `toml:"small_llm"`
	Transport TransportConfig `toml:"transport"`
	Storage   StorageConfig   `toml:"storage"`
	KB        KBConfig        `toml:"knowledge_base"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Engine    EngineConfig    `toml:"engine"`
}

// LLMConfig describes one model profile. SmallLLM, when set, is used
// for cheap classification and extraction calls.
type LLMConfig struct {
	Provider     string  `toml:"provider"`
	Model        string  `toml:"model"`
	MaxTokens    int     `toml:"max_tokens"`
	Temperature  float64 `toml:"temperature"`
	BaseURL      string  `toml:"base_url"`
	MaxRetries   int     `toml:"max_retries"`
	RetryBackoff string  `toml:"retry_backoff"`
}

// TransportConfig configures the NATS chat transport.
type TransportConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	// Backend is one of "memory", "file", "nats".
	Backend string `toml:"backend"`
	// Path is the session directory for the file backend.
	Path string `toml:"path"`
	// Bucket is the JetStream KV bucket for the nats backend.
	Bucket string `toml:"bucket"`
}

// KBConfig configures knowledge-base search.
type KBConfig struct {
	// Mode is "local" (bleve index on disk) or "remote" (HTTP service).
	Mode       string `toml:"mode"`
	IndexPath  string `toml:"index_path"`
	ServiceURL string `toml:"service_url"`
	TopK       int    `toml:"top_k"`
}

// TelemetryConfig configures the trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Protocol string `toml:"protocol"`
	Endpoint string `toml:"endpoint"`
}

// EngineConfig holds dialogue tunables shared by the stage agents.
type EngineConfig struct {
	// ExtractionRetries bounds re-asks after a failed slot extraction.
	ExtractionRetries int `toml:"extraction_retries"`
	// HistoryLimit caps the dialogue history agents carry in state.
	HistoryLimit int `toml:"history_limit"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens:    4096,
			Temperature:  0.2,
			MaxRetries:   3,
			RetryBackoff: "1s",
		},
		Transport: TransportConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "opsdesk",
		},
		Storage: StorageConfig{
			Backend: "memory",
			Bucket:  "opsdesk-sessions",
		},
		KB: KBConfig{
			Mode:      "local",
			IndexPath: "kb.bleve",
			TopK:      3,
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
		Engine: EngineConfig{
			ExtractionRetries: 1,
			HistoryLimit:      8,
		},
	}
}

// LoadFile reads TOML from path over the defaults. A missing file is
// reported via os.IsNotExist so callers can fall back to Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "memory", "file", "nats":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.KB.Mode {
	case "local", "remote":
	default:
		return fmt.Errorf("unknown knowledge_base mode %q", c.KB.Mode)
	}
	if c.Engine.ExtractionRetries < 0 {
		return fmt.Errorf("extraction_retries must be >= 0")
	}
	return nil
}
