// Package database provides the SQLite store behind the exchange journal.
//
// It manages the connection (WAL mode, busy timeout, single writer), file
// permissions and additive schema migrations embedded in the binary.
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations live in the top-level migrations package as
// YYYYMMDD_HHMMSS_description.up.sql with a matching .down.sql. They are
// applied oldest first, each in its own transaction, and recorded in the
// schema_migrations table. New columns must be nullable or carry a default.
package database
