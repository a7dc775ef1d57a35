package config

import (
	"fmt"
	"time"
)

// Config is the top-level Medi-Vault server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Quantum   QuantumConfig   `yaml:"quantum"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Vault     VaultConfig     `yaml:"vault"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the portal HTTP/WebSocket server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`            // listen address; default ":8000"
	AllowedOrigins  []string      `yaml:"allowed_origins"` // CORS origins for the dashboard
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// QuantumConfig tunes the simulated key exchange.
type QuantumConfig struct {
	TransmitDelay time.Duration `yaml:"transmit_delay"` // pause in the transmitting state
	MeasureDelay  time.Duration `yaml:"measure_delay"`  // pause in the measuring state
	KeyBits       int           `yaml:"key_bits"`       // sifted key length
}

// TelemetryConfig configures the live polarization trace.
type TelemetryConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Window        int           `yaml:"window"`
	Sink          string        `yaml:"sink"` // "stdout", "file", "nop"
	FilePath      string        `yaml:"file_path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// VaultConfig configures medical-record storage.
type VaultConfig struct {
	Backend  string            `yaml:"backend"`   // rclone backend type; default "local"
	Root     string            `yaml:"root"`      // bucket/container or directory for records
	IndexDir string            `yaml:"index_dir"` // badger metadata index location
	Params   map[string]string `yaml:"params"`    // extra rclone config keys
}

// MetricsConfig configures the Prometheus metrics and health endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"` // pointer to distinguish unset from false; default true
	Addr    string `yaml:"addr"`    // listen address; default ":9090"
}

// MetricsEnabled returns whether the metrics server should run.
func (m MetricsConfig) MetricsEnabled() bool {
	if m.Enabled == nil {
		return true // default: enabled
	}
	return *m.Enabled
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	if c.Quantum.TransmitDelay < 0 {
		return fmt.Errorf("config: quantum.transmit_delay must be non-negative, got %s", c.Quantum.TransmitDelay)
	}
	if c.Quantum.MeasureDelay < 0 {
		return fmt.Errorf("config: quantum.measure_delay must be non-negative, got %s", c.Quantum.MeasureDelay)
	}
	if c.Quantum.KeyBits <= 0 {
		return fmt.Errorf("config: quantum.key_bits must be positive, got %d", c.Quantum.KeyBits)
	}
	if c.Telemetry.Window <= 0 {
		return fmt.Errorf("config: telemetry.window must be positive, got %d", c.Telemetry.Window)
	}
	if c.Telemetry.Interval <= 0 {
		return fmt.Errorf("config: telemetry.interval must be positive, got %s", c.Telemetry.Interval)
	}
	switch c.Telemetry.Sink {
	case "", "nop", "stdout", "file":
	default:
		return fmt.Errorf("config: unknown telemetry sink %q", c.Telemetry.Sink)
	}
	if c.Vault.Root == "" {
		return fmt.Errorf("config: vault.root cannot be empty")
	}
	if c.Vault.IndexDir == c.Vault.Root {
		return fmt.Errorf("config: vault.index_dir must not equal vault.root")
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin == "" {
			return fmt.Errorf("config: server.allowed_origins contains an empty origin")
		}
	}
	return nil
}
