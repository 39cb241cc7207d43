package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	configPath := writeFile(t, "config.yaml", `
site:
  id: test-site
database:
  path: ""
remote:
  mode: simulator
logging:
  level: error
`)
	t.Setenv("GRAYLOGIC_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_MissingCatalog verifies run fails when the device catalogue is absent.
func TestRun_MissingCatalog(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, "config.yaml", fmt.Sprintf(`
database:
  path: %q
remote:
  mode: simulator
devices:
  catalog: %q
logging:
  level: error
`, filepath.Join(dir, "arbiter.db"), filepath.Join(dir, "missing.yaml")))
	t.Setenv("GRAYLOGIC_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a missing catalogue")
	}
}

// TestRun_SimulatorStartupAndShutdown runs the daemon without external
// services and stops it through the context.
func TestRun_SimulatorStartupAndShutdown(t *testing.T) {
	dir := t.TempDir()
	catalog := writeFile(t, "devices.yaml", `
devices:
  - id: "lamp-1"
    name: "Hall lamp"
    kind: lamp
  - id: "cleaner-1"
    name: "Robot cleaner"
    kind: cleaner
`)
	configPath := writeFile(t, "config.yaml", fmt.Sprintf(`
site:
  id: test-site
database:
  path: %q
mqtt:
  enabled: false
influxdb:
  enabled: false
remote:
  mode: simulator
devices:
  catalog: %q
api:
  host: "127.0.0.1"
  port: %d
logging:
  level: error
`, filepath.Join(dir, "arbiter.db"), catalog, freePort(t)))
	t.Setenv("GRAYLOGIC_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v, want clean shutdown", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "arbiter.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestHealthCheck_NoServices verifies optional services are skipped.
func TestHealthCheck_NoServices(t *testing.T) {
	if err := healthCheck(context.Background(), nil, nil, nil); err != nil {
		t.Errorf("healthCheck() error = %v, want nil", err)
	}
}
