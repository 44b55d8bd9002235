// Package database provides the local SQLite store for the serial bridge.
//
// It owns:
//   - the connection (WAL mode, busy timeout, single writer)
//   - versioned schema migrations recorded in schema_migrations
//
// The logs and command_log tables are created by the files in the
// top-level migrations package, which registers them at init.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements and the file is created 0600.
package database
