package driver

import (
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
)

// NewPostgres returns an unopened PostgreSQL driver. Schema files live in
// schema/postgres/ and are kept in step with the SQLite set.
func NewPostgres() Driver {
	return &sqlDriver{prof: dialectProfile{
		dialect:   DialectPostgres,
		sqlDriver: "pgx",
		migrations: migrator{
			dir: "schema/postgres",
			createTableSQL: `
				CREATE TABLE IF NOT EXISTS _migrations (
					version INTEGER PRIMARY KEY,
					applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				)`,
			recordSQL: "INSERT INTO _migrations (version) VALUES ($1)",
		},
	}}
}
