package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/relaychat/pkg/protocol"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "RELAYCHAT_"

// Config holds server configuration.
type Config struct {
	ListenAddr         string        `yaml:"listen_addr"          env:"LISTEN_ADDR"`          // TCP bind address (e.g. ":1967")
	MetricsAddr        string        `yaml:"metrics_addr"         env:"METRICS_ADDR"`         // HTTP bind address for /metrics (empty = disabled)
	DBPath             string        `yaml:"db_path"              env:"DB_PATH"`              // SQLite presence log (empty = disabled)
	SendQueueSize      int           `yaml:"send_queue_size"      env:"SEND_QUEUE_SIZE"`      // frames buffered per session before dropping
	MaxFrameSize       int           `yaml:"max_frame_size"       env:"MAX_FRAME_SIZE"`       // largest accepted frame payload in bytes
	WriteTimeout       time.Duration `yaml:"write_timeout"        env:"WRITE_TIMEOUT"`        // per-frame write deadline
	MetricsLogInterval time.Duration `yaml:"metrics_log_interval" env:"METRICS_LOG_INTERVAL"` // 0 disables the periodic summary
	ChatEcho           bool          `yaml:"chat_echo"            env:"CHAT_ECHO"`            // deliver chat back to its sender
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         fmt.Sprintf(":%d", protocol.DefaultPort),
		MetricsAddr:        ":1968",
		SendQueueSize:      64,
		MaxFrameSize:       protocol.MaxFrameSize,
		WriteTimeout:       10 * time.Second,
		MetricsLogInterval: 60 * time.Second,
		ChatEcho:           true,
	}
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if c.SendQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("send_queue_size must be positive, got %d", c.SendQueueSize))
	}
	if c.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("max_frame_size must be positive, got %d", c.MaxFrameSize))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write_timeout must be positive, got %s", c.WriteTimeout))
	}
	if c.MetricsLogInterval < 0 {
		errs = append(errs, fmt.Errorf("metrics_log_interval must not be negative, got %s", c.MetricsLogInterval))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("server: invalid config: %w", err)
	}
	return nil
}

// LoadConfigFile overlays the YAML file at path onto cfg. Keys missing from
// the file keep their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return ParseConfigYAML(data, cfg)
}

// ParseConfigYAML overlays YAML data onto cfg.
func ParseConfigYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty file
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays RELAYCHAT_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// MarshalConfigYAML renders cfg as YAML, e.g. for -print-config.
func MarshalConfigYAML(cfg Config) ([]byte, error) {
	return yaml.Marshal(&cfg)
}
