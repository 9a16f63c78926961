// Package queue implements the bounded priority queue that feeds the
// command processor.
//
// The queue holds one FIFO lane per priority and drains the highest
// non-empty lane first, so equal-priority commands leave in the order they
// were accepted. Capacity is shared by all lanes: once it is reached every
// enqueue fails with command.ErrQueueFull, Emergency included. Nothing
// already queued is ever evicted.
//
// Thread Safety:
//   - All operations are linearizable under a single mutex.
//   - Dequeue blocks without polling; any number of goroutines may wait.
package queue
