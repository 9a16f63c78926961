package audit

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/eventbus"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	// Mirrors migrations/sqlite/*_create_audit_logs.up.sql.
	schema := `
		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			user_id TEXT,
			source TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEvent(t command.EventType, id string, src command.Source) command.Event {
	return command.Event{
		CommandID:   id,
		DeviceID:    "fan1",
		CommandName: "turn_on",
		Type:        t,
		Attempt:     1,
		Priority:    command.PriorityHigh,
		Timestamp:   time.Now().UTC(),
		Source:      src,
	}
}

// =============================================================================
// Repository Tests
// =============================================================================

func TestRepository_CreateAndList(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Action: "enqueued", EntityType: EntityCommand, EntityID: "cmd-1", UserID: "alice", Source: "user", CreatedAt: base},
		{Action: "dispatched", EntityType: EntityCommand, EntityID: "cmd-1", UserID: "alice", Source: "user", CreatedAt: base.Add(500 * time.Millisecond)},
		{Action: "completed", EntityType: EntityCommand, EntityID: "cmd-1", UserID: "alice", Source: "user", CreatedAt: base.Add(time.Second),
			Details: map[string]any{"device_id": "fan1"}},
		{Action: "enqueued", EntityType: EntityCommand, EntityID: "cmd-2", Source: "rule", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range entries {
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if entries[i].ID == "" {
			t.Fatal("Create() did not assign an ID")
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 4 || len(all.Entries) != 4 {
		t.Fatalf("List() total=%d len=%d, want 4", all.Total, len(all.Entries))
	}
	if all.Entries[0].EntityID != "cmd-2" || all.Entries[1].Action != "completed" || all.Entries[2].Action != "dispatched" {
		t.Errorf("List() not newest first: %v, %v, %v", all.Entries[0].Action, all.Entries[1].Action, all.Entries[2].Action)
	}
	if all.Entries[1].Details["device_id"] != "fan1" {
		t.Errorf("details = %v", all.Entries[1].Details)
	}
	if !all.Entries[2].CreatedAt.Equal(base.Add(500 * time.Millisecond)) {
		t.Errorf("CreatedAt = %v", all.Entries[2].CreatedAt)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by action", Filter{Action: "enqueued"}, 2},
		{"by command", Filter{EntityID: "cmd-1"}, 3},
		{"by user", Filter{UserID: "alice"}, 3},
		{"combined", Filter{EntityID: "cmd-1", Action: "completed"}, 1},
		{"no match", Filter{EntityType: "device"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.want || len(res.Entries) != tt.want {
				t.Errorf("List() total=%d len=%d, want %d", res.Total, len(res.Entries), tt.want)
			}
		})
	}
}

func TestRepository_ListPaging(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := Entry{Action: "enqueued", EntityType: EntityCommand, Source: "system"}
		if err := repo.Create(ctx, &e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 5 || len(res.Entries) != 1 {
		t.Errorf("List() total=%d len=%d, want 5/1", res.Total, len(res.Entries))
	}

	res, err = repo.List(ctx, Filter{Limit: 1000})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxListLimit {
		t.Errorf("Limit = %d, want clamp to %d", res.Limit, maxListLimit)
	}
}

// =============================================================================
// Recorder Tests
// =============================================================================

func TestEntryFromEvent(t *testing.T) {
	ev := testEvent(command.EventFailed, "cmd-1", command.UserSource("alice"))
	ev.Detail = "connection refused"

	e := EntryFromEvent(ev)
	if e.Action != "failed" || e.EntityType != EntityCommand || e.EntityID != "cmd-1" {
		t.Errorf("entry = %+v", e)
	}
	if e.UserID != "alice" || e.Source != "user" {
		t.Errorf("user/source = %q/%q", e.UserID, e.Source)
	}
	if e.Details["detail"] != "connection refused" || e.Details["priority"] != "high" {
		t.Errorf("details = %v", e.Details)
	}

	rule := EntryFromEvent(testEvent(command.EventEnqueued, "cmd-2", command.RuleSource("rule-7")))
	if rule.UserID != "" {
		t.Errorf("rule UserID = %q, want empty", rule.UserID)
	}
	if rule.Details["source_ref"] != "rule-7" {
		t.Errorf("source_ref = %v", rule.Details["source_ref"])
	}
}

type memoryRepo struct {
	mu      sync.Mutex
	entries []Entry
	fail    bool
}

func (m *memoryRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memoryRepo) List(context.Context, Filter) (*ListResult, error) {
	return &ListResult{}, nil
}

func (m *memoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestRecorder_Run(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	repo := &memoryRepo{}
	rec := NewRecorder(repo, bus, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	src := command.UserSource("alice")
	bus.Publish(testEvent(command.EventEnqueued, "cmd-1", src))
	bus.Publish(testEvent(command.EventDispatched, "cmd-1", src))
	bus.Publish(testEvent(command.EventCompleted, "cmd-1", src))

	deadline := time.Now().Add(time.Second)
	for repo.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if repo.count() != 3 {
		t.Fatalf("recorded %d entries, want 3", repo.count())
	}
	if repo.entries[2].Action != "completed" {
		t.Errorf("last action = %q", repo.entries[2].Action)
	}
}

func TestRecorder_WriteErrorsDoNotStop(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	repo := &memoryRepo{fail: true}
	rec := NewRecorder(repo, bus, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	bus.Publish(testEvent(command.EventEnqueued, "cmd-1", command.SystemSource("startup")))
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return")
	}
}
