package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	// Mirrors migrations/sqlite/*_create_devices.up.sql.
	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			protocol TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '{}',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX idx_devices_protocol ON devices(protocol);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// testDevice creates an enabled MQTT device for testing.
func testDevice(id string) *Device {
	return &Device{
		ID:       id,
		Name:     "Device " + id,
		Protocol: ProtocolMQTT,
		Address:  Address{"topic": id},
		Enabled:  true,
	}
}

func TestSQLiteRepository_UpsertAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d := &Device{
		ID:       "pump1",
		Name:     "Pump",
		Protocol: ProtocolModbus,
		Address:  Address{"host": "10.0.0.5", "port": 502, "unit_id": 3, "coil": 7},
		Enabled:  true,
	}
	if err := repo.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if d.CreatedAt.IsZero() || d.UpdatedAt.IsZero() {
		t.Error("Upsert() did not set timestamps")
	}

	got, err := repo.GetByID(ctx, "pump1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Pump" || got.Protocol != ProtocolModbus || !got.Enabled {
		t.Errorf("GetByID() = %+v", got)
	}
	if host, _ := got.Address.String("host"); host != "10.0.0.5" {
		t.Errorf("Address host = %q, want 10.0.0.5", host)
	}
	if coil, ok := got.Address.Int("coil"); !ok || coil != 7 {
		t.Errorf("Address coil = %d, %v; want 7", coil, ok)
	}
	if !got.CreatedAt.Equal(d.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, d.CreatedAt)
	}
}

func TestSQLiteRepository_UpsertReplaces(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d := testDevice("fan1")
	if err := repo.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	created := d.CreatedAt

	time.Sleep(2 * time.Millisecond)
	updated := testDevice("fan1")
	updated.Name = "Renamed"
	updated.Enabled = false
	if err := repo.Upsert(ctx, updated); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "fan1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Renamed" || got.Enabled {
		t.Errorf("GetByID() = %+v, want renamed and disabled", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on update: %v -> %v", created, got.CreatedAt)
	}
	if !got.UpdatedAt.After(created) {
		t.Errorf("UpdatedAt = %v, want after %v", got.UpdatedAt, created)
	}
}

func TestSQLiteRepository_GetByID_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("List() on empty table = %d devices", len(devices))
	}

	for _, id := range []string{"c", "a", "b"} {
		if err := repo.Upsert(ctx, testDevice(id)); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}

	devices, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("List() = %d devices, want 3", len(devices))
	}
	for i, want := range []string{"a", "b", "c"} {
		if devices[i].ID != want {
			t.Errorf("devices[%d].ID = %s, want %s", i, devices[i].ID, want)
		}
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, testDevice("fan1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repo.Delete(ctx, "fan1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, "fan1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Delete(ctx, "fan1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}
}
