package history

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for the attempt history.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS attempts (
		id          TEXT PRIMARY KEY,
		job_key     TEXT NOT NULL,
		molecule    TEXT NOT NULL,
		calc_type   TEXT NOT NULL,
		attempt     INTEGER NOT NULL DEFAULT 0,
		outcome     TEXT NOT NULL,
		error_type  TEXT NOT NULL DEFAULT '',
		message     TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_attempts_job_key ON attempts(job_key)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_molecule ON attempts(molecule)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_outcome ON attempts(outcome)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "attempts",
		column:   "duration_ms",
		alterSQL: "ALTER TABLE attempts ADD COLUMN duration_ms INTEGER NOT NULL DEFAULT 0",
	},
	{
		table:    "attempts",
		column:   "hostname",
		alterSQL: "ALTER TABLE attempts ADD COLUMN hostname TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_attempts_hostname ON attempts(hostname)",
	},
}

// migrate executes all schema DDL statements and alter migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if found {
		return nil
	}
	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
