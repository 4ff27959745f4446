package driver

import (
	"strings"

	_ "modernc.org/sqlite" // registers "sqlite"
)

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

// NewSQLite returns an unopened SQLite driver. Schema files live in schema/.
func NewSQLite() Driver {
	return &sqlDriver{prof: dialectProfile{
		dialect:    DialectSQLite,
		sqlDriver:  "sqlite",
		dsn:        sqliteDSN,
		singleConn: isMemoryDSN,
		migrations: migrator{
			dir: "schema",
			createTableSQL: `
				CREATE TABLE IF NOT EXISTS _migrations (
					version INTEGER PRIMARY KEY,
					applied_at TEXT DEFAULT (datetime('now'))
				)`,
			recordSQL: "INSERT INTO _migrations (version) VALUES (?)",
		},
	}}
}

// isMemoryDSN reports DSNs where each connection is its own database.
func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// sqliteDSN appends the default pragmas unless the caller chose their own.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	params := make([]string, 0, len(sqlitePragmas))
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}
