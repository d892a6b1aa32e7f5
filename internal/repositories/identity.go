package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/desertthunder/datainserter/internal/models"
)

// IdentityRepository writes login accounts to the identity store.
type IdentityRepository struct {
	db *sql.DB
}

// NewIdentityRepository creates a new [IdentityRepository] with the given database connection
func NewIdentityRepository(db *sql.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

const upsertAccountQuery = `
	INSERT INTO "AspNetUsers" (
		"Id", "FullName", "UserName", "NormalizedUserName", "Email", "NormalizedEmail",
		"PasswordHash", "SecurityStamp", "ConcurrencyStamp", "Status", "UserType",
		"EmailConfirmed", "PhoneNumberConfirmed", "TwoFactorEnabled", "LockoutEnabled",
		"AccessFailedCount", "IsFromActiveDirectory"
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT ("NormalizedUserName") DO UPDATE SET
		"Email" = EXCLUDED."Email",
		"NormalizedEmail" = EXCLUDED."NormalizedEmail",
		"PasswordHash" = EXCLUDED."PasswordHash",
		"SecurityStamp" = EXCLUDED."SecurityStamp",
		"ConcurrencyStamp" = EXCLUDED."ConcurrencyStamp"
	RETURNING "Id"
`

// UpsertAccount creates the identity account for rec, or refreshes the contact and security fields of
// the account already owning its normalized user name. The returned id is the stored one, which differs
// from the freshly proposed id when the account already existed.
func (r *IdentityRepository) UpsertAccount(ctx context.Context, rec models.UserRecord, common models.CommonFields) (uuid.UUID, error) {
	name := strings.TrimSpace(rec.Name)
	email := strings.TrimSpace(rec.Email)

	var id string
	err := r.db.QueryRowContext(ctx, upsertAccountQuery,
		uuid.NewString(),
		name,
		name,
		rec.NormalizedUserName(),
		email,
		rec.NormalizedEmail(),
		common.PasswordHash,
		common.SecurityStamp,
		common.ConcurrencyStamp,
		models.UserStatusActive,
		models.UserTypeRegular,
		true,
		false,
		false,
		true,
		0,
		false,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert identity account: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse identity id %q: %w", id, err)
	}
	return parsed, nil
}

// FindExisting returns the identity ids owning any of the given emails.
//
// Emails are normalized before the lookup and queried in chunks of [MaxInParams].
func (r *IdentityRepository) FindExisting(ctx context.Context, emails []string) (models.ExistingEmails, error) {
	existing := make(models.ExistingEmails)

	seen := make(map[string]struct{}, len(emails))
	keys := make([]string, 0, len(emails))
	for _, email := range emails {
		key := models.NormalizeKey(email)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	for _, batch := range chunk(keys, MaxInParams) {
		query := fmt.Sprintf(
			`SELECT "NormalizedEmail", "Id" FROM "AspNetUsers" WHERE "NormalizedEmail" IN (%s)`,
			placeholders(1, len(batch)),
		)

		args := make([]any, len(batch))
		for i, key := range batch {
			args[i] = key
		}

		if err := r.scanExisting(ctx, existing, query, args); err != nil {
			return nil, err
		}
	}

	return existing, nil
}

func (r *IdentityRepository) scanExisting(ctx context.Context, into models.ExistingEmails, query string, args []any) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query existing emails: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var email, id string
		if err := rows.Scan(&email, &id); err != nil {
			return fmt.Errorf("failed to scan existing email: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("failed to parse identity id %q: %w", id, err)
		}
		if _, ok := into[email]; !ok {
			into[email] = parsed
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating existing emails: %w", err)
	}
	return nil
}

// CountAccounts returns the number of identity accounts.
func (r *IdentityRepository) CountAccounts(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "AspNetUsers"`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count identity accounts: %w", err)
	}
	return count, nil
}
