package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/kvstore"
)

var (
	// ErrState wraps failures of the underlying key-value store.
	ErrState = errors.New("store: state error")

	// ErrConflict is returned by PutStatusFrom when the record has moved
	// on from the expected status.
	ErrConflict = errors.New("store: status changed")
)

const keyPrefix = "cmd/"

// Default and maximum List page sizes.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Detail carries the optional data attached to a status transition.
type Detail struct {
	// Attempt, when positive, becomes the record's attempt count.
	Attempt int
	// Error is recorded as the last error.
	Error string
	// Result is stored at a terminal transition. When nil a result is
	// derived from the status and last error.
	Result *command.Result
}

// Filter selects records for List. Zero fields match everything.
type Filter struct {
	Statuses   []command.Status
	DeviceID   string
	SourceKind command.SourceKind
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Store persists command records.
//
// Thread Safety:
//   - Mutations run read-modify-write under one mutex.
//   - Returned records are copies owned by the caller.
type Store struct {
	kv  kvstore.Store
	mu  sync.Mutex
	now func() time.Time
}

// New creates a store over kv.
func New(kv kvstore.Store) *Store {
	return &Store{
		kv:  kv,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func key(id string) string { return keyPrefix + id }

func (s *Store) load(ctx context.Context, id string) (*command.Record, error) {
	data, err := s.kv.Get(ctx, key(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", command.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %w", ErrState, id, err)
	}
	var rec command.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrState, id, err)
	}
	return &rec, nil
}

func (s *Store) save(ctx context.Context, rec *command.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrState, rec.ID(), err)
	}
	if err := s.kv.Put(ctx, key(rec.ID()), data); err != nil {
		return fmt.Errorf("%w: saving %s: %w", ErrState, rec.ID(), err)
	}
	return nil
}

// Create persists a new queued record for req.
//
// Returns command.ErrDuplicateID when a record with the same ID exists.
func (s *Store) Create(ctx context.Context, req command.Request) (*command.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.load(ctx, req.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", command.ErrDuplicateID, req.ID)
	case !errors.Is(err, command.ErrNotFound):
		return nil, err
	}

	now := s.now()
	rec := &command.Record{
		Request:      req.Clone(),
		Status:       command.StatusQueued,
		AttemptCount: req.AttemptCount,
		CreatedAt:    req.CreatedAt,
		UpdatedAt:    now,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec.DeepCopy(), nil
}

// PutStatus moves a record to status and returns the updated record.
//
// Transitions out of a terminal status fail with command.ErrTerminal.
// Entering dispatched stamps DispatchedAt; entering a terminal status
// stamps CompletedAt and attaches a Result.
func (s *Store) PutStatus(ctx context.Context, id string, status command.Status, d Detail) (*command.Record, error) {
	return s.putStatus(ctx, id, nil, status, d)
}

// PutStatusFrom is PutStatus guarded by the current status: it fails with
// ErrConflict unless the record is in one of from. A terminal record still
// fails with command.ErrTerminal.
func (s *Store) PutStatusFrom(ctx context.Context, id string, from []command.Status, status command.Status, d Detail) (*command.Record, error) {
	return s.putStatus(ctx, id, from, status, d)
}

func (s *Store) putStatus(ctx context.Context, id string, from []command.Status, status command.Status, d Detail) (*command.Record, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", command.ErrInvalidRequest, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", command.ErrTerminal, id, rec.Status)
	}
	if from != nil && !slices.Contains(from, rec.Status) {
		return nil, fmt.Errorf("%w: %s is %s", ErrConflict, id, rec.Status)
	}

	now := s.now()
	if d.Attempt > 0 {
		rec.AttemptCount = d.Attempt
		rec.Request.AttemptCount = d.Attempt
	}
	if d.Error != "" {
		rec.LastError = d.Error
	}
	if status == command.StatusDispatched {
		rec.DispatchedAt = &now
	}
	if status.IsTerminal() {
		rec.CompletedAt = &now
		rec.Result = terminalResult(rec, status, d.Result, now)
	}
	rec.Status = status
	rec.UpdatedAt = now

	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec.DeepCopy(), nil
}

func terminalResult(rec *command.Record, status command.Status, given *command.Result, now time.Time) *command.Result {
	var res command.Result
	if given != nil {
		res = *given
	} else {
		res.Success = status == command.StatusCompleted
		if !res.Success {
			res.Error = rec.LastError
			if res.Error == "" {
				res.Error = string(status)
			}
		}
	}
	if res.CompletedAt.IsZero() {
		res.CompletedAt = now
	}
	if res.Attempts == 0 {
		res.Attempts = rec.AttemptCount
	}
	return &res
}

// Reopen returns a failed record to queued with its attempt count reset.
// It is the only way out of a terminal status and backs manual retry.
//
// Returns command.ErrNotFailed unless the record is failed.
func (s *Store) Reopen(ctx context.Context, id string) (*command.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != command.StatusFailed {
		return nil, fmt.Errorf("%w: %s is %s", command.ErrNotFailed, id, rec.Status)
	}

	rec.Status = command.StatusQueued
	rec.AttemptCount = 0
	rec.Request.AttemptCount = 0
	rec.Result = nil
	rec.CompletedAt = nil
	rec.DispatchedAt = nil
	rec.UpdatedAt = s.now()

	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec.DeepCopy(), nil
}

// Get returns the record for id or command.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*command.Record, error) {
	return s.load(ctx, id)
}

// Delete removes a record regardless of status.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.kv.Delete(ctx, key(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", command.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: deleting %s: %w", ErrState, id, err)
	}
	return nil
}

// scan decodes every record, calling fn for each.
func (s *Store) scan(ctx context.Context, fn func(rec *command.Record) error) error {
	err := s.kv.Scan(ctx, keyPrefix, func(k string, v []byte) error {
		var rec command.Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("%w: decoding %s: %w", ErrState, strings.TrimPrefix(k, keyPrefix), err)
		}
		return fn(&rec)
	})
	if err != nil && !errors.Is(err, ErrState) {
		return fmt.Errorf("%w: scanning: %w", ErrState, err)
	}
	return err
}

// List returns records matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*command.Record, error) {
	statuses := make(map[command.Status]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		statuses[st] = true
	}

	var out []*command.Record
	err := s.scan(ctx, func(rec *command.Record) error {
		if len(statuses) > 0 && !statuses[rec.Status] {
			return nil
		}
		if f.DeviceID != "" && rec.Request.DeviceID != f.DeviceID {
			return nil
		}
		if f.SourceKind != "" && rec.Request.Source.Kind != f.SourceKind {
			return nil
		}
		if !f.Since.IsZero() && rec.CreatedAt.Before(f.Since) {
			return nil
		}
		if !f.Until.IsZero() && !rec.CreatedAt.Before(f.Until) {
			return nil
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*command.Record{}, nil
		}
		out = out[f.Offset:]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []*command.Record{}
	}
	return out, nil
}

// NonTerminal returns every record not yet in a terminal status, oldest
// first. Restart recovery rebuilds the working memory from it.
func (s *Store) NonTerminal(ctx context.Context) ([]*command.Record, error) {
	var out []*command.Record
	err := s.scan(ctx, func(rec *command.Record) error {
		if !rec.Status.IsTerminal() {
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Request.Sequence < out[j].Request.Sequence
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Cleanup deletes terminal records last updated more than olderThan ago
// and returns how many were removed.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan < 0 {
		return 0, fmt.Errorf("%w: negative retention %v", command.ErrInvalidRequest, olderThan)
	}
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	err := s.scan(ctx, func(rec *command.Record) error {
		if rec.Status.IsTerminal() && !rec.UpdatedAt.After(cutoff) {
			expired = append(expired, rec.ID())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range expired {
		if err := s.kv.Delete(ctx, key(id)); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			return removed, fmt.Errorf("%w: deleting %s: %w", ErrState, id, err)
		}
		removed++
	}
	return removed, nil
}

// Stats counts records by status.
func (s *Store) Stats(ctx context.Context) (command.StoreStats, error) {
	stats := command.StoreStats{ByStatus: make(map[string]int)}
	err := s.scan(ctx, func(rec *command.Record) error {
		stats.Total++
		stats.ByStatus[string(rec.Status)]++
		return nil
	})
	return stats, err
}
