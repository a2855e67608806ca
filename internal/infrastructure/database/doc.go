// Package database opens the beacon's SQLite file and applies its schema.
//
// The file is the beacon's non-volatile store: the nvds table backing slot
// records and the lock key, and the audit_logs trail of configuration
// writes. Open pings and quick-checks the file, so corruption is reported
// at startup.
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
// Migrations are YYYYMMDD_HHMMSS_name.up.sql files with an optional
// .down.sql partner, applied oldest first, one transaction each.
//
// The lock key is stored in the clear. Open restricts the file to 0600.
package database
