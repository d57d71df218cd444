// Package database provides the SQLite store used by the group address
// recorder.
//
// Open configures WAL mode and a busy timeout and limits the pool to a single
// connection. Schema changes live in the migrations package as
// YYYYMMDD_HHMMSS_name.up.sql / .down.sql files and are applied with Migrate:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or have defaults.
package database
