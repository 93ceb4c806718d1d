package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
	"github.com/nerrad567/hydro-core/internal/infrastructure/database"
)

// writeConfig writes a config with the given store section and returns its path.
func writeConfig(t *testing.T, dbPath string, port int, store string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")

	configContent := fmt.Sprintf(`
site:
  id: test-site
  floors: [floor1, floor2]

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "test-client"
  qos: 1

store:
  backend: %s

influxdb:
  enabled: false

metrics:
  enabled: true
  path: /metrics

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: %d

security:
  jwt:
    secret: "test-secret-key-at-least-32-characters-long"
`, dbPath, store, port)

	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// freePort returns a TCP port that was free a moment ago.
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
	t.Setenv("HYDROCORE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails validation when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("HYDROCORE_CONFIG", writeConfig(t, "", 8080, "memory"))
	t.Setenv("HYDROCORE_DATABASE_PATH", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_BrokerUnreachable verifies the mqtt backend fails fast without a broker.
func TestRun_BrokerUnreachable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	t.Setenv("HYDROCORE_CONFIG", writeConfig(t, dbPath, freePort(t), "mqtt"))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the MQTT broker is unreachable")
	}
}

// TestRun_MemoryBackend starts the full service on the in-memory store,
// checks it serves health, and shuts it down through the context.
func TestRun_MemoryBackend(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	port := freePort(t)
	t.Setenv("HYDROCORE_CONFIG", writeConfig(t, dbPath, port, "memory"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	var health struct {
		Status string `json:"status"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url) //nolint:noctx // test polling
		if err == nil {
			decodeErr := json.NewDecoder(resp.Body).Decode(&health)
			resp.Body.Close()
			if decodeErr == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("service did not become healthy: %v", err)
		}
		select {
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}
	if health.Status != "ok" {
		t.Errorf("health status = %q, want ok", health.Status)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() = %v, want nil after shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	// Migrations ran against the configured file.
	db, err := database.Open(context.Background(), config.DatabaseConfig{Path: dbPath})
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM command_log").Scan(&n); err != nil {
		t.Errorf("command_log table missing: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("HYDROCORE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("HYDROCORE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
