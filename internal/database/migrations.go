package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx, d Dialect) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "analyses table",
		Up: func(tx *sql.Tx, d Dialect) error {
			seq := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
			bigint := "INTEGER"
			if d == Postgres {
				seq = "seq BIGSERIAL PRIMARY KEY"
				bigint = "BIGINT"
			}
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS analyses (
    ` + seq + `,
    id TEXT UNIQUE NOT NULL,
    owner_id TEXT NOT NULL,
    document_path TEXT NOT NULL,
    feedback_json TEXT NOT NULL,
    processing_time_ms ` + bigint + ` NOT NULL DEFAULT 0 CHECK(processing_time_ms >= 0),
    created_at ` + bigint + ` NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_owner_created ON analyses(owner_id, created_at DESC, seq DESC);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "final_score column for history search",
		Up: func(tx *sql.Tx, d Dialect) error {
			exists, err := hasColumn(tx, d, "analyses", "final_score")
			if err != nil {
				return err
			}
			if !exists {
				if _, err := tx.Exec(`ALTER TABLE analyses ADD COLUMN final_score TEXT NOT NULL DEFAULT ''`); err != nil {
					return err
				}
			}

			backfill := `UPDATE analyses SET final_score = COALESCE(json_extract(feedback_json, '$.final_score'), '') WHERE final_score = ''`
			if d == Postgres {
				backfill = `UPDATE analyses SET final_score = COALESCE(feedback_json::jsonb->>'final_score', '') WHERE final_score = ''`
			}
			if _, err := tx.Exec(backfill); err != nil {
				return err
			}

			_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_analyses_owner_score ON analyses(owner_id, final_score)`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
