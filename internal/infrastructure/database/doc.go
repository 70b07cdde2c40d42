// Package database provides SQLite connectivity for the device registry.
//
// This package manages:
//   - Database connection with WAL mode and foreign keys enabled
//   - Schema migrations loaded from an embedded filesystem
//   - Connection lifecycle and health checks
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions since it holds encrypted pre-shared keys.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are YYYYMMDD_HHMMSS_description.up.sql files with an optional
// matching .down.sql, registered by the migrations package.
package database
