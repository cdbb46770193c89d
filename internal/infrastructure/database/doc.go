// Package database provides the node-local SQLite store used by the
// publish journal.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - File permissions (0600) on the database
//   - Versioned schema migrations read from an fs.FS
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
// Migrations are additive: new columns must be nullable or carry a
// default, and each .up.sql should ship with a .down.sql.
package database
