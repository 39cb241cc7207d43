// Package database provides the SQLite connection used by the arbiter.
//
// The database holds two small tables: the device event journal and a
// JSON key/value store for state that must survive restarts (quarantine
// reminder counters, last human detection, queue high-water marks). See
// the journal package for the repository on top of it.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only. New columns must be NULLABLE or carry a
// DEFAULT, and every .up.sql file has a matching .down.sql.
package database
