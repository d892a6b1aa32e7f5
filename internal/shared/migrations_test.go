package shared

import (
	"database/sql"
	"errors"
	"testing"
)

func memoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewDatabase("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func appliedCount(t *testing.T, db *sql.DB, store Store) int {
	t.Helper()
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE store = $1", string(store)).Scan(&count); err != nil {
		t.Fatalf("failed to query schema_migrations: %v", err)
	}
	return count
}

func TestMigrationRunner(t *testing.T) {
	t.Run("loadMigrations", func(t *testing.T) {
		for _, dialect := range []Dialect{Postgres, SQLite} {
			for _, store := range []Store{IdentityStore, DomainStore} {
				migrations, err := loadMigrations(dialect, store)
				if err != nil {
					t.Fatalf("failed to load %s/%s migrations: %v", dialect, store, err)
				}
				if len(migrations) == 0 {
					t.Fatalf("expected at least one %s/%s migration", dialect, store)
				}

				for i := 1; i < len(migrations); i++ {
					if migrations[i].Version <= migrations[i-1].Version {
						t.Errorf("migrations not sorted: version %d comes after %d", migrations[i].Version, migrations[i-1].Version)
					}
				}
				for _, m := range migrations {
					if m.Up == "" || m.Down == "" {
						t.Errorf("%s/%s migration %d is missing up or down SQL", dialect, store, m.Version)
					}
				}
			}
		}
	})

	t.Run("both stores in one database", func(t *testing.T) {
		db := memoryDB(t)

		if err := RunMigrations(db, SQLite, IdentityStore); err != nil {
			t.Fatalf("failed to run iam migrations: %v", err)
		}
		if err := RunMigrations(db, SQLite, DomainStore); err != nil {
			t.Fatalf("failed to run sdg migrations: %v", err)
		}

		for _, table := range []string{"AspNetUsers", "Users", "Subjects", "UserDivisions", "SubjectUserGroups"} {
			if _, err := db.Exec(`SELECT 1 FROM "` + table + `" LIMIT 1`); err != nil {
				t.Errorf("%s table should exist after migrations: %v", table, err)
			}
		}

		var agencies int
		db.QueryRow(`SELECT COUNT(*) FROM "Agencies"`).Scan(&agencies)
		if agencies != 1 {
			t.Errorf("expected the seeded default agency, got %d rows", agencies)
		}
	})

	t.Run("RunMigrations And Rollback", func(t *testing.T) {
		db := memoryDB(t)

		if err := RunMigrations(db, SQLite, DomainStore); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
		count := appliedCount(t, db, DomainStore)

		if err := RollbackMigration(db, SQLite, DomainStore); err != nil {
			t.Fatalf("failed to rollback migration: %v", err)
		}
		if got := appliedCount(t, db, DomainStore); got != count-1 {
			t.Errorf("expected %d applied migrations after rollback, got %d", count-1, got)
		}
	})

	t.Run("Rollback without migrations", func(t *testing.T) {
		db := memoryDB(t)
		if err := createMigrationsTable(db); err != nil {
			t.Fatalf("failed to create migrations table: %v", err)
		}

		if err := RollbackMigration(db, SQLite, IdentityStore); err == nil {
			t.Error("expected an error with nothing to roll back")
		}
	})

	t.Run("Idempotent Migrations", func(t *testing.T) {
		db := memoryDB(t)

		for range 2 {
			if err := RunMigrations(db, SQLite, IdentityStore); err != nil {
				t.Fatalf("failed to run migrations: %v", err)
			}
		}

		migrations, _ := loadMigrations(SQLite, IdentityStore)
		if got := appliedCount(t, db, IdentityStore); got != len(migrations) {
			t.Errorf("expected %d migrations to be applied, got %d", len(migrations), got)
		}
	})

	t.Run("removeComments", func(t *testing.T) {
		got := removeComments("-- heading\nSELECT 1; -- trailing\n\n")
		if got != "SELECT 1;" {
			t.Errorf("unexpected result %q", got)
		}
	})
}

func TestParseStore(t *testing.T) {
	for in, want := range map[string]Store{"iam": IdentityStore, "SDG": DomainStore} {
		got, err := ParseStore(in)
		if err != nil || got != want {
			t.Errorf("ParseStore(%q) = %q, %v", in, got, err)
		}
	}

	if _, err := ParseStore("crm"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
