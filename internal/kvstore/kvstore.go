package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete for a missing key.
var ErrNotFound = errors.New("kvstore: key not found")

// ErrStopScan may be returned by a ScanFunc to end a scan early without error.
var ErrStopScan = errors.New("kvstore: stop scan")

// ScanFunc is called once per entry during Scan, in ascending key order.
type ScanFunc func(key string, value []byte) error

// Store is a durable byte-valued key-value store.
//
// Implementations must be safe for concurrent use. Values passed to Put
// and returned by Get or Scan are not retained or shared.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Scan(ctx context.Context, prefix string, fn ScanFunc) error
	Delete(ctx context.Context, key string) error
	Close() error
}
