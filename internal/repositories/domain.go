package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/desertthunder/datainserter/internal/mapper"
	"github.com/desertthunder/datainserter/internal/models"
)

// DomainRepository writes the organizational structure of the domain store.
type DomainRepository struct {
	db *sql.DB
}

// NewDomainRepository creates a new [DomainRepository] with the given database connection
func NewDomainRepository(db *sql.DB) *DomainRepository {
	return &DomainRepository{db: db}
}

// FindReference looks up a reference row by case-insensitive name.
//
// SQLite's LOWER only folds ASCII, so non-ASCII names are compared on their [mapper.Key] instead.
func (r *DomainRepository) FindReference(ctx context.Context, kind models.ReferenceKind, name string) (int64, bool, error) {
	table, err := referenceTable(kind)
	if err != nil {
		return 0, false, err
	}

	name = strings.TrimSpace(name)
	if !isASCII(name) {
		return r.findFolded(ctx, kind, name)
	}

	query := fmt.Sprintf(`SELECT "Id" FROM %s WHERE LOWER("Name") = LOWER($1) ORDER BY "Id" LIMIT 1`, quote(table))

	var id int64
	err = r.db.QueryRowContext(ctx, query, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	return id, true, nil
}

// findFolded scans the reference table for the lowest id whose folded name matches name.
func (r *DomainRepository) findFolded(ctx context.Context, kind models.ReferenceKind, name string) (int64, bool, error) {
	refs, err := r.ListReferences(ctx, kind)
	if err != nil {
		return 0, false, err
	}

	key := mapper.Key(name)
	for _, ref := range refs {
		if mapper.Key(ref.Name) == key {
			return ref.ID, true, nil
		}
	}
	return 0, false, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// CreateReference inserts a reference row and returns its generated id.
//
// Roles are created enabled and bound to the default application.
func (r *DomainRepository) CreateReference(ctx context.Context, kind models.ReferenceKind, name string) (int64, error) {
	table, err := referenceTable(kind)
	if err != nil {
		return 0, err
	}

	name = strings.TrimSpace(name)

	var (
		query string
		args  []any
	)
	if kind == models.Role {
		query = `INSERT INTO "Roles" ("Name", "Enabled", "ApplicationId") VALUES ($1, $2, $3) RETURNING "Id"`
		args = []any{name, true, models.ApplicationIDDefault}
	} else {
		query = fmt.Sprintf(`INSERT INTO %s ("Name") VALUES ($1) RETURNING "Id"`, quote(table))
		args = []any{name}
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	return id, nil
}

// ListReferences returns every row of the kind's table ordered by id.
func (r *DomainRepository) ListReferences(ctx context.Context, kind models.ReferenceKind) ([]models.Reference, error) {
	table, err := referenceTable(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT "Id", "Name" FROM %s ORDER BY "Id"`, quote(table))
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	defer rows.Close()

	var refs []models.Reference
	for rows.Next() {
		var ref models.Reference
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", kind, err)
	}
	return refs, nil
}

const upsertUserQuery = `
	INSERT INTO "Users" ("Sub", "IsApiAdmin", "ControlLevel", "IsTerminated", "ActorLevel")
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT ("Sub") DO UPDATE SET
		"IsApiAdmin" = EXCLUDED."IsApiAdmin",
		"ControlLevel" = EXCLUDED."ControlLevel",
		"IsTerminated" = EXCLUDED."IsTerminated",
		"ActorLevel" = EXCLUDED."ActorLevel"
	RETURNING "Id"
`

// UpsertUser creates or refreshes the domain user bound to the identity sub.
func (r *DomainRepository) UpsertUser(ctx context.Context, sub uuid.UUID, rec models.UserRecord) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, upsertUserQuery,
		sub.String(),
		rec.IsAPIAdmin(),
		int(rec.ControlLevel),
		false,
		models.ActorLevelDefault,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert domain user: %w", err)
	}
	return id, nil
}

const upsertSubjectQuery = `
	INSERT INTO "Subjects" ("Sub", "Name") VALUES ($1, $2)
	ON CONFLICT ("Sub") DO UPDATE SET "Name" = EXCLUDED."Name"
	RETURNING "Id"
`

// UpsertSubject creates or refreshes the subject bound to the identity sub. The subject is named
// after the identity id.
func (r *DomainRepository) UpsertSubject(ctx context.Context, sub uuid.UUID) (int64, error) {
	var id int64
	if err := r.db.QueryRowContext(ctx, upsertSubjectQuery, sub.String(), sub.String()).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to upsert subject: %w", err)
	}
	return id, nil
}

// CreateRelationship inserts the (left, right) link unless it already exists and reports whether a
// row was written.
func (r *DomainRepository) CreateRelationship(ctx context.Context, rel models.Relationship, left, right int64) (bool, error) {
	if err := validRelationship(rel); err != nil {
		return false, err
	}

	check := fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE %s = $1 AND %s = $2`,
		quote(rel.Table), quote(rel.Left), quote(rel.Right),
	)

	var count int
	if err := r.db.QueryRowContext(ctx, check, left, right).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check %s: %w", rel, err)
	}
	if count > 0 {
		return false, nil
	}

	insert := fmt.Sprintf(
		`INSERT INTO %s (%s, %s) VALUES ($1, $2)`,
		quote(rel.Table), quote(rel.Left), quote(rel.Right),
	)
	if _, err := r.db.ExecContext(ctx, insert, left, right); err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", rel, err)
	}
	return true, nil
}

// DefaultAgencyID returns the lowest agency id, if any agency exists.
func (r *DomainRepository) DefaultAgencyID(ctx context.Context) (int64, bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT "Id" FROM "Agencies" ORDER BY "Id" LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query default agency: %w", err)
	}
	return id, true, nil
}

// CountRows returns the number of rows in one of the domain tables written by the pipeline.
func (r *DomainRepository) CountRows(ctx context.Context, table string) (int, error) {
	if !knownTable(table) {
		return 0, fmt.Errorf("unknown domain table %q", table)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quote(table))).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

func referenceTable(kind models.ReferenceKind) (string, error) {
	table := kind.Table()
	if table == "" {
		return "", fmt.Errorf("unknown reference kind %d", int(kind))
	}
	return table, nil
}

func validRelationship(rel models.Relationship) error {
	for _, known := range models.Relationships {
		if rel == known {
			return nil
		}
	}
	return fmt.Errorf("unknown relationship %s", rel)
}

func knownTable(table string) bool {
	switch table {
	case "Agencies", "Users", "Subjects":
		return true
	}
	for _, kind := range models.ReferenceKinds {
		if kind.Table() == table {
			return true
		}
	}
	for _, rel := range models.Relationships {
		if rel.Table == table {
			return true
		}
	}
	return false
}
