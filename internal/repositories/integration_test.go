//go:build integration

package repositories

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/shared"
)

// startPostgres runs a disposable Postgres container with both stores migrated into one database.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("datainserter"),
		postgres.WithUsername("datainserter"),
		postgres.WithPassword("datainserter"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	return dsn
}

func openMigrated(t *testing.T, driver, dsn string) *sql.DB {
	t.Helper()
	db, err := shared.NewDatabase(driver, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, shared.RunMigrations(db, shared.Postgres, shared.IdentityStore))
	require.NoError(t, shared.RunMigrations(db, shared.Postgres, shared.DomainStore))
	return db
}

func TestPostgresRepositories(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	for _, driver := range []string{"pgx", "postgres"} {
		t.Run(driver, func(t *testing.T) {
			db := openMigrated(t, driver, dsn)
			identity := NewIdentityRepository(db)
			domain := NewDomainRepository(db)

			name := "Pg User " + driver
			rec := models.UserRecord{Name: name, Email: driver + "@example.com", Division: "ALL"}

			sub, err := identity.UpsertAccount(ctx, rec, models.CommonFields{PasswordHash: "h", SecurityStamp: "s", ConcurrencyStamp: "c"})
			require.NoError(t, err)
			again, err := identity.UpsertAccount(ctx, rec, models.CommonFields{PasswordHash: "h2"})
			require.NoError(t, err)
			assert.Equal(t, sub, again)

			existing, err := identity.FindExisting(ctx, []string{rec.Email, "missing@example.com"})
			require.NoError(t, err)
			got, ok := existing.Lookup(rec.Email)
			assert.True(t, ok)
			assert.Equal(t, sub, got)

			divisionID, err := domain.CreateReference(ctx, models.Division, "Finance "+driver)
			require.NoError(t, err)
			found, ok, err := domain.FindReference(ctx, models.Division, "FINANCE "+driver)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, divisionID, found)

			userID, err := domain.UpsertUser(ctx, sub, rec)
			require.NoError(t, err)
			sameUser, err := domain.UpsertUser(ctx, sub, rec)
			require.NoError(t, err)
			assert.Equal(t, userID, sameUser)

			created, err := domain.CreateRelationship(ctx, models.UserDivisions, userID, divisionID)
			require.NoError(t, err)
			assert.True(t, created)
			created, err = domain.CreateRelationship(ctx, models.UserDivisions, userID, divisionID)
			require.NoError(t, err)
			assert.False(t, created)

			subjectID, err := domain.UpsertSubject(ctx, sub)
			require.NoError(t, err)
			assert.NotZero(t, subjectID)

			_, ok, err = domain.DefaultAgencyID(ctx)
			require.NoError(t, err)
			assert.True(t, ok)

			_, err = identity.UpsertAccount(ctx, models.UserRecord{Name: uuid.NewString()}, models.CommonFields{})
			assert.NoError(t, err)
		})
	}
}
