package storage

import "database/sql"

// migrateV001 creates the initial FilterX schema. Every statement uses
// IF NOT EXISTS so a partially applied run can be repeated.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS flush_batches (
			id          TEXT PRIMARY KEY,
			entry_count INTEGER NOT NULL,
			flushed_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// ts is unix milliseconds, as the extension records it.
		`CREATE TABLE IF NOT EXISTS activity_log (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			action   TEXT NOT NULL,
			ts       INTEGER NOT NULL,
			batch_id TEXT NOT NULL REFERENCES flush_batches(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS stats (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			blocked    INTEGER NOT NULL DEFAULT 0,
			blurred    INTEGER NOT NULL DEFAULT 0,
			total      INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`INSERT OR IGNORE INTO stats (id, blocked, blurred, total) VALUES (1, 0, 0, 0)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			ts     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_activity_log_ts     ON activity_log(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_action ON activity_log(action)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_batch  ON activity_log(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_ts        ON audit_log(ts)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
