package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
server:
  addr: ":9000"
  allowed_origins:
    - http://localhost:5173
  shutdown_timeout: 10s
quantum:
  transmit_delay: 500ms
  measure_delay: 100ms
  key_bits: 100
telemetry:
  interval: 50ms
  window: 21
  sink: stdout
vault:
  backend: local
  root: /var/lib/medivault/records
  index_dir: /var/lib/medivault/index
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q, want :9000", cfg.Server.Addr)
	}
	if cfg.Quantum.TransmitDelay != 500*time.Millisecond {
		t.Errorf("TransmitDelay = %v, want 500ms", cfg.Quantum.TransmitDelay)
	}
	if cfg.Quantum.KeyBits != 100 {
		t.Errorf("KeyBits = %d, want 100", cfg.Quantum.KeyBits)
	}
	if cfg.Telemetry.Sink != "stdout" {
		t.Errorf("Telemetry.Sink = %q, want stdout", cfg.Telemetry.Sink)
	}
	if cfg.Vault.Root != "/var/lib/medivault/records" {
		t.Errorf("Vault.Root = %q", cfg.Vault.Root)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":8000" {
		t.Errorf("default Server.Addr = %q, want :8000", cfg.Server.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("default AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Quantum.TransmitDelay != time.Second {
		t.Errorf("default TransmitDelay = %v, want 1s", cfg.Quantum.TransmitDelay)
	}
	if cfg.Quantum.KeyBits != 50 {
		t.Errorf("default KeyBits = %d, want 50", cfg.Quantum.KeyBits)
	}
	if cfg.Telemetry.Interval != 50*time.Millisecond {
		t.Errorf("default telemetry interval = %v, want 50ms", cfg.Telemetry.Interval)
	}
	if cfg.Telemetry.Window != 21 {
		t.Errorf("default telemetry window = %d, want 21", cfg.Telemetry.Window)
	}
	if cfg.Vault.Backend != "local" {
		t.Errorf("default vault backend = %q, want local", cfg.Vault.Backend)
	}
	if cfg.Vault.Root != "secure_uploads" {
		t.Errorf("default vault root = %q, want secure_uploads", cfg.Vault.Root)
	}
	if cfg.Vault.IndexDir == "" || cfg.Vault.IndexDir == cfg.Vault.Root {
		t.Errorf("default index dir = %q", cfg.Vault.IndexDir)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("MEDIVAULT_TEST_ROOT", "/tmp/records")
	content := `
vault:
  root: ${MEDIVAULT_TEST_ROOT}
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Vault.Root != "/tmp/records" {
		t.Errorf("Vault.Root = %q, want env-expanded /tmp/records", cfg.Vault.Root)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed\n"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error should mention parse, got: %v", err)
	}
}

func TestLoad_MetricsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Metrics.MetricsEnabled() {
		t.Error("Metrics should be enabled by default")
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Errorf("Metrics.Addr = %q, want :9090", cfg.Metrics.Addr)
	}
}

func TestLoad_MetricsDisabled(t *testing.T) {
	content := `
metrics:
  enabled: false
  addr: ":8080"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Metrics.MetricsEnabled() {
		t.Error("Metrics should be disabled when set to false")
	}
	if cfg.Metrics.Addr != ":8080" {
		t.Errorf("Metrics.Addr = %q, want :8080", cfg.Metrics.Addr)
	}
}

func TestValidate_KeyBits(t *testing.T) {
	cfg := Default()
	cfg.Quantum.KeyBits = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative key_bits")
	}
}

func TestValidate_TelemetryWindow(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.Window = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero telemetry window")
	}
}

func TestValidate_TelemetrySink(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.Sink = "kafka"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown sink")
	}
}

func TestValidate_VaultRootEmpty(t *testing.T) {
	cfg := Default()
	cfg.Vault.Root = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty vault root")
	}
}

func TestValidate_IndexDirEqualsRoot(t *testing.T) {
	cfg := Default()
	cfg.Vault.Root = "/data/records"
	cfg.Vault.IndexDir = "/data/records"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when index_dir equals root")
	}
}

func TestValidate_EmptyOrigin(t *testing.T) {
	cfg := Default()
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173", ""}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty origin")
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should validate, got: %v", err)
	}
}
