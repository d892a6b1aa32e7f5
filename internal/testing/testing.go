// package testing contains shared testing utilities
package testing

import (
	"database/sql"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/desertthunder/datainserter/internal/shared"
)

// MemoryDSN opens a private in-memory SQLite database with foreign keys enforced.
const MemoryDSN = ":memory:?_foreign_keys=on"

// OpenStore creates an in-memory SQLite database with the migrations of store applied.
//
// The database is closed when the test finishes.
func OpenStore(t *testing.T, store shared.Store) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase("sqlite3", MemoryDSN)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db, shared.SQLite, store); err != nil {
		t.Fatalf("failed to run %s migrations: %v", store, err)
	}

	return db
}

// OpenStores returns migrated identity and domain stores.
func OpenStores(t *testing.T) (identity, domain *sql.DB) {
	t.Helper()
	return OpenStore(t, shared.IdentityStore), OpenStore(t, shared.DomainStore)
}

// CountRows returns the number of rows in table, failing the test on error.
func CountRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "` + table + `"`).Scan(&count); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return count
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
