package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/metrics"
)

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

// writeConfig writes a config that needs no broker, InfluxDB or PostgreSQL.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()

	devices := filepath.Join(dir, "devices.yaml")
	if err := os.WriteFile(devices, []byte(`devices:
  - id: fan1
    name: Hall fan
    protocol: http
    address:
      url: http://127.0.0.1:1/fan1
`), 0o600); err != nil {
		t.Fatalf("writing devices: %v", err)
	}

	cfg := fmt.Sprintf(`
site:
  id: test-site

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

storage:
  driver: memory

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: %d

adapters:
  mqtt:
    enabled: false
  http:
    enabled: true
    timeout: "1s"

devices:
  file: %q
%s`, filepath.Join(dir, "dispatch.db"), freePort(t), devices, extra)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingDatabasePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("site:\n  id: test\ndatabase:\n  path: \"\"\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	err := run(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "database.path") {
		t.Fatalf("run() error = %v, want database.path error", err)
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	path := writeConfig(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx, path); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

func TestRun_UnreachableMQTT(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	withBroker := strings.Replace(string(cfg), "  mqtt:\n    enabled: false", "  mqtt:\n    enabled: true", 1) +
		"mqtt:\n  broker:\n    host: \"127.0.0.1\"\n    port: " + fmt.Sprint(freePort(t)) + "\n    client_id: \"dispatch-test\"\n"
	if err := os.WriteFile(path, []byte(withBroker), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err = run(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "MQTT") {
		t.Fatalf("run() error = %v, want MQTT connection error", err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("resolveConfigPath(\"\") = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("GRAYLOGIC_CONFIG", "/etc/graylogic/dispatch.yaml")
	if got := resolveConfigPath(""); got != "/etc/graylogic/dispatch.yaml" {
		t.Errorf("env override = %q", got)
	}
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("flag override = %q", got)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "graylogic-dispatch "+version) {
		t.Errorf("output = %q", out.String())
	}
}

func TestMigrateCommands(t *testing.T) {
	path := writeConfig(t, "")

	execute := func(args ...string) string {
		t.Helper()
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"--config", path}, args...))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: Execute() error = %v", args, err)
		}
		return out.String()
	}

	if out := execute("migrate", "status"); !strings.Contains(out, "pending") {
		t.Errorf("status before up = %q, want pending migrations", out)
	}
	if out := execute("migrate", "up"); !strings.Contains(out, "sqlite migrated") {
		t.Errorf("up = %q", out)
	}
	out := execute("migrate", "status")
	if !strings.Contains(out, "applied") || strings.Contains(out, "pending") {
		t.Errorf("status after up = %q, want only applied migrations", out)
	}
	if out := execute("migrate", "down"); !strings.Contains(out, "rolled back") {
		t.Errorf("down = %q", out)
	}
}

// fakeBroker records connection callbacks.
type fakeBroker struct {
	connected    bool
	onConnect    func()
	onDisconnect func(error)
}

func (b *fakeBroker) IsConnected() bool              { return b.connected }
func (b *fakeBroker) SetOnConnect(fn func())         { b.onConnect = fn }
func (b *fakeBroker) SetOnDisconnect(fn func(error)) { b.onDisconnect = fn }

func scrapeMetrics(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestTrackBrokerState(t *testing.T) {
	metrics.Init(nil)
	broker := &fakeBroker{connected: true}

	trackBrokerState(broker, logging.Default())
	if !strings.Contains(scrapeMetrics(t), "graylogic_mqtt_connected 1") {
		t.Error("gauge not set from initial state")
	}
	if broker.onConnect == nil || broker.onDisconnect == nil {
		t.Fatal("callbacks not registered")
	}

	broker.onDisconnect(fmt.Errorf("network down"))
	if !strings.Contains(scrapeMetrics(t), "graylogic_mqtt_connected 0") {
		t.Error("gauge not cleared on disconnect")
	}

	broker.onConnect()
	if !strings.Contains(scrapeMetrics(t), "graylogic_mqtt_connected 1") {
		t.Error("gauge not set on reconnect")
	}
}
