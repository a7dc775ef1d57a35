package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a Medi-Vault configuration file.
// Supports environment variable expansion in string values via ${VAR} syntax.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, used when no
// config file is given.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills unset fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		// The Vite dev server origins the dashboard runs on.
		c.Server.AllowedOrigins = []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		}
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Quantum.TransmitDelay == 0 {
		c.Quantum.TransmitDelay = time.Second
	}
	if c.Quantum.MeasureDelay == 0 {
		c.Quantum.MeasureDelay = 250 * time.Millisecond
	}
	if c.Quantum.KeyBits == 0 {
		c.Quantum.KeyBits = 50
	}
	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = 50 * time.Millisecond
	}
	if c.Telemetry.Window == 0 {
		c.Telemetry.Window = 21
	}
	if c.Telemetry.Sink == "" {
		c.Telemetry.Sink = "nop"
	}
	if c.Telemetry.BatchSize == 0 {
		c.Telemetry.BatchSize = 100
	}
	if c.Telemetry.FlushInterval == 0 {
		c.Telemetry.FlushInterval = 5 * time.Second
	}
	if c.Vault.Backend == "" {
		c.Vault.Backend = "local"
	}
	if c.Vault.Root == "" {
		c.Vault.Root = "secure_uploads"
	}
	if c.Vault.IndexDir == "" {
		c.Vault.IndexDir = filepath.Join(filepath.Dir(c.Vault.Root), ".medivault-index")
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}
