// Package store is the durable state store for commands.
//
// Every command is one JSON record under the key cmd/<id> in a
// kvstore.Store. The store is the only authority for terminal state: once
// a record is completed, failed or expired, PutStatus refuses to change
// it. The queue and the pending acknowledgement table are working memory
// that can be rebuilt from the non-terminal records after a restart.
//
// Durability failures are reported wrapped in ErrState and are never
// swallowed.
package store
