package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfigs drops a minimal config.yaml plus skinny.conf pair into a
// temp dir and points SKINNYD_CONFIG at it.
func writeConfigs(t *testing.T, bindPort string) {
	t.Helper()
	dir := t.TempDir()

	skinnyPath := filepath.Join(dir, "skinny.conf")
	skinnyConf := `
[general]
bindaddr = 127.0.0.1
bindport = ` + bindPort + `
keepalive = 120

[100]
type = line
callerid = Test <100>

[SEP000000000001]
type = device
line = 100
`
	if err := os.WriteFile(skinnyPath, []byte(skinnyConf), 0o600); err != nil {
		t.Fatalf("writing skinny.conf: %v", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	configYAML := `
skinny_conf: ` + skinnyPath + `

mqtt:
  enabled: false

cdr:
  enabled: false

telemetry:
  enabled: false

cli:
  enabled: false

rtp:
  port_min: 10000
  port_max: 10020

logging:
  level: error
  format: text
  output: stderr
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("writing config.yaml: %v", err)
	}
	t.Setenv("SKINNYD_CONFIG", configPath)
}

func TestRunInvalidConfig(t *testing.T) {
	t.Setenv("SKINNYD_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRunMissingSkinnyConf(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	configYAML := `
skinny_conf: ` + filepath.Join(dir, "missing.conf") + `
mqtt:
  enabled: false
cli:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("writing config.yaml: %v", err)
	}
	t.Setenv("SKINNYD_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without skinny.conf")
	}
}

func TestRunStartupAndShutdown(t *testing.T) {
	writeConfigs(t, "25061")

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() did not shut down cleanly: %v", err)
	}
}

func TestConfigPathDefault(t *testing.T) {
	t.Setenv("SKINNYD_CONFIG", "")

	if path := configPath(); path != defaultConfigPath {
		t.Errorf("configPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestConfigPathEnvOverride(t *testing.T) {
	t.Setenv("SKINNYD_CONFIG", "/custom/path/config.yaml")

	if path := configPath(); path != "/custom/path/config.yaml" {
		t.Errorf("configPath() = %q", path)
	}
}
