// Package database provides SQL connectivity for Gray Logic Dispatch.
//
// SQLite is the default edge store (devices, audit trail, command state).
// PostgreSQL, through the pgx stdlib driver, can hold the command state
// when several dispatch nodes share one database.
//
// This package manages:
//   - SQLite connections with WAL mode for concurrent access
//   - PostgreSQL connections via OpenPostgres
//   - Placeholder rebinding so callers write "?" for both dialects
//   - Schema migrations, one embedded directory per dialect
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only to support safe rollbacks:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Never DROP or RENAME columns in an up migration
//   - Each migration file has both .up.sql and .down.sql
//   - Every schema change is written once per dialect directory
package database
