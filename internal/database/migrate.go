package database

import (
	"database/sql"
	"fmt"
	"log"
)

// getSchemaVersion reads the applied schema version. SQLite keeps it in
// PRAGMA user_version; Postgres in the schema_migrations table.
func (db *DB) getSchemaVersion() (int, error) {
	var version int
	var err error
	if db.dialect == Postgres {
		err = db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	} else {
		err = db.conn.QueryRow("PRAGMA user_version").Scan(&version)
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func (db *DB) ensureVersionTable() error {
	if db.dialect != Postgres {
		return nil
	}
	_, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}

// migrate brings the database schema up to the latest version.
func (db *DB) migrate() error {
	if err := db.ensureVersionTable(); err != nil {
		return err
	}
	current, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	latest := latestVersion()
	if current >= latest {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		log.Printf("applying %s migration %d: %s", db.dialect, m.Version, m.Description)

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx, db.dialect); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if db.dialect == Postgres {
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
				tx.Rollback()
				return fmt.Errorf("recording version %d: %w", m.Version, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// Set user_version outside the transaction (modernc/sqlite requirement).
		// If we crash here, the idempotent DDL lets the migration re-run.
		if db.dialect == SQLite {
			if _, err := db.conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
				return fmt.Errorf("setting version %d: %w", m.Version, err)
			}
		}
	}

	return nil
}

// hasColumn reports whether table has column, for re-runnable ALTERs.
func hasColumn(tx *sql.Tx, d Dialect, table, column string) (bool, error) {
	var count int
	var err error
	if d == Postgres {
		err = tx.QueryRow(
			`SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`,
			table, column,
		).Scan(&count)
	} else {
		err = tx.QueryRow(
			`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
		).Scan(&count)
	}
	if err != nil {
		return false, fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}
