package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleDevices = `
devices:
  - id: fan1
    name: Ceiling fan
    protocol: mqtt
    address:
      topic: living/fan1
  - id: pump1
    protocol: modbus
    enabled: false
    address:
      host: 10.0.0.5
      unit_id: 2
      coil: 4
  - id: cam1
    protocol: http
`

func writeDeviceFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "devices.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing device file: %v", err)
	}
	return path
}

func TestImportFile(t *testing.T) {
	registry := NewRegistry(NewMockRepository())
	path := writeDeviceFile(t, t.TempDir(), sampleDevices)

	result, err := registry.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	// cam1 has no url and is skipped.
	if result.Imported != 2 || result.Skipped != 1 {
		t.Errorf("ImportFile() = %+v, want 2 imported 1 skipped", result)
	}

	fan, err := registry.GetDevice(context.Background(), "fan1")
	if err != nil {
		t.Fatalf("GetDevice(fan1) error = %v", err)
	}
	if !fan.Enabled {
		t.Error("fan1 should default to enabled")
	}
	if topic, _ := fan.Address.String("topic"); topic != "living/fan1" {
		t.Errorf("fan1 topic = %q", topic)
	}

	pump, err := registry.GetDevice(context.Background(), "pump1")
	if err != nil {
		t.Fatalf("GetDevice(pump1) error = %v", err)
	}
	if pump.Enabled {
		t.Error("pump1 should be disabled")
	}
	if pump.Name != "pump1" {
		t.Errorf("pump1 name = %q, want id as default", pump.Name)
	}
	if unit, ok := pump.Address.Int("unit_id"); !ok || unit != 2 {
		t.Errorf("pump1 unit_id = %d, %v", unit, ok)
	}
}

func TestImportFile_Errors(t *testing.T) {
	registry := NewRegistry(NewMockRepository())
	dir := t.TempDir()

	_, err := registry.ImportFile(context.Background(), filepath.Join(dir, "absent.yaml"))
	if !errors.Is(err, ErrInvalidFile) {
		t.Errorf("missing file error = %v, want ErrInvalidFile", err)
	}

	path := writeDeviceFile(t, dir, "devices: [unclosed")
	_, err = registry.ImportFile(context.Background(), path)
	if !errors.Is(err, ErrInvalidFile) {
		t.Errorf("malformed file error = %v, want ErrInvalidFile", err)
	}
}

func TestWatch_ReimportsOnChange(t *testing.T) {
	registry := NewRegistry(NewMockRepository())
	dir := t.TempDir()
	path := writeDeviceFile(t, dir, "devices: []\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- registry.Watch(ctx, path) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeDeviceFile(t, dir, sampleDevices)

	deadline := time.Now().Add(5 * time.Second)
	for registry.GetDeviceCount() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("GetDeviceCount() = %d after change, want 2", registry.GetDeviceCount())
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch() did not return after cancel")
	}
}
