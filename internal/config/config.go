// Package config loads the console configuration.
//
// Values are layered: built-in defaults, then an optional JSON or YAML file,
// then WECCAP_* environment variables. Command-line flags are applied last by
// the caller.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Export formats.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// ConsoleConfig is the root configuration of the weccap console.
type ConsoleConfig struct {
	// Listen is the operator HTTP API address.
	Listen string `json:"listen" yaml:"listen" env:"WECCAP_LISTEN"`
	// BackendURL is the websocket endpoint of the capture backend.
	BackendURL string `json:"backend_url" yaml:"backend_url" env:"WECCAP_BACKEND_URL"`
	// StatusURL is polled once per connect for the authoritative session state.
	StatusURL string `json:"status_url" yaml:"status_url" env:"WECCAP_STATUS_URL"`
	// SceneListen is the gRPC address of the scene stream. Empty disables it.
	SceneListen string `json:"scene_listen" yaml:"scene_listen" env:"WECCAP_SCENE_LISTEN"`

	ExportDir     string `json:"export_dir" yaml:"export_dir" env:"WECCAP_EXPORT_DIR"`
	ExportFormat  string `json:"export_format" yaml:"export_format" env:"WECCAP_EXPORT_FORMAT"`
	ExportArchive bool   `json:"export_archive" yaml:"export_archive" env:"WECCAP_EXPORT_ARCHIVE"`

	DBPath   string `json:"db_path" yaml:"db_path" env:"WECCAP_DB_PATH"`
	LogLevel string `json:"log_level" yaml:"log_level" env:"WECCAP_LOG_LEVEL"`

	// ReplayFile replaces the websocket transport with a recorded event
	// fixture when set.
	ReplayFile     string `json:"replay_file" yaml:"replay_file" env:"WECCAP_REPLAY_FILE"`
	ReplayInterval string `json:"replay_interval" yaml:"replay_interval" env:"WECCAP_REPLAY_INTERVAL"` // duration string like "20ms"

	// QueueSize bounds the inbound event queue of the hub.
	QueueSize int `json:"queue_size" yaml:"queue_size" env:"WECCAP_QUEUE_SIZE"`
}

// Defaults returns the configuration used when nothing else is supplied.
func Defaults() *ConsoleConfig {
	return &ConsoleConfig{
		Listen:         ":8080",
		BackendURL:     "ws://localhost:3001/events",
		StatusURL:      "http://localhost:3001/api/camera_state",
		SceneListen:    "localhost:50051",
		ExportDir:      "exports",
		ExportFormat:   FormatJSONL,
		ExportArchive:  true,
		DBPath:         "weccap.db",
		LogLevel:       "info",
		ReplayInterval: "20ms",
		QueueSize:      1024,
	}
}

// Load builds the configuration from defaults, the optional file at path
// and the environment, then validates it.
func Load(path string) (*ConsoleConfig, error) {
	cfg := Defaults()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// mergeFile overlays the fields present in a .json, .yaml or .yml file.
func (c *ConsoleConfig) mergeFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if ext == ".json" {
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// Validate checks that the configuration values are usable.
func (c *ConsoleConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.BackendURL == "" && c.ReplayFile == "" {
		return fmt.Errorf("one of backend_url or replay_file is required")
	}
	switch c.ExportFormat {
	case FormatCSV, FormatJSONL:
	default:
		return fmt.Errorf("export_format must be %q or %q, got %q", FormatCSV, FormatJSONL, c.ExportFormat)
	}
	if c.ReplayInterval != "" {
		d, err := time.ParseDuration(c.ReplayInterval)
		if err != nil {
			return fmt.Errorf("invalid replay_interval '%s': %w", c.ReplayInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("replay_interval must be positive, got %s", d)
		}
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	return nil
}

// GetReplayInterval returns ReplayInterval as a time.Duration.
func (c *ConsoleConfig) GetReplayInterval() time.Duration {
	d, err := time.ParseDuration(c.ReplayInterval)
	if err != nil || d <= 0 {
		return 20 * time.Millisecond
	}
	return d
}
