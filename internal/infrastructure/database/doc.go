// Package database provides SQLite connectivity for Sumline Core.
//
// This package manages:
//   - Opening the SQLite database with WAL mode and busy timeout
//   - Schema migrations from embedded SQL files
//   - Connection health checks
//
// # Migrations
//
// Migration files live in the top-level migrations/ directory and are
// embedded into the binary via the migrations package. Filenames follow
// YYYYMMDD_HHMMSS_description.up.sql with an optional .down.sql companion.
// Each migration is applied in its own transaction.
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
