// Package database provides the SQLite connection behind the node server's
// local device cache.
//
// This package manages:
//   - Opening the database file with busy timeout and optional WAL mode
//   - Schema migrations read from an fs.FS (see the migrations package)
//   - Health checks and lifecycle
//
// The cache is optional: when database.enabled is false the node server
// keeps its registry in memory only and rebuilds it from the first snapshot.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and are applied in version order.
package database
