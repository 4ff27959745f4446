package db

import "testing"

// NewTestDB returns a migrated in-memory store closed at test cleanup.
// Each call is an isolated database, so parallel tests may share nothing.
func NewTestDB(t testing.TB) *DB {
	t.Helper()
	d, err := OpenStoreInMemory()
	if err != nil {
		t.Fatalf("create test store db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}
