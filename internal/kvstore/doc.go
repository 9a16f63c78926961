// Package kvstore provides the durable key-value contract the command
// state store is built on, with in-memory and SQL backends.
//
// The SQL backend runs on both SQLite and PostgreSQL through the
// database package; the dialect only changes placeholder syntax, and the
// kv_entries table is created by the embedded migrations.
//
//	store := kvstore.NewSQL(db)
//	err := store.Put(ctx, "cmd/abc", payload)
//	err = store.Scan(ctx, "cmd/", func(key string, value []byte) error {
//	    return nil
//	})
package kvstore
