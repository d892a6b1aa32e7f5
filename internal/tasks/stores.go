package tasks

import (
	"context"

	"github.com/google/uuid"

	"github.com/desertthunder/datainserter/internal/models"
)

// IdentityStore is the identity store as seen by the orchestrator.
//
// Implemented by repositories.IdentityRepository.
type IdentityStore interface {
	UpsertAccount(ctx context.Context, rec models.UserRecord, common models.CommonFields) (uuid.UUID, error)
	FindExisting(ctx context.Context, emails []string) (models.ExistingEmails, error)
}

// ReferenceStore reads and creates named reference rows.
type ReferenceStore interface {
	FindReference(ctx context.Context, kind models.ReferenceKind, name string) (int64, bool, error)
	CreateReference(ctx context.Context, kind models.ReferenceKind, name string) (int64, error)
	ListReferences(ctx context.Context, kind models.ReferenceKind) ([]models.Reference, error)
}

// DomainStore is the domain store as seen by the orchestrator.
//
// Implemented by repositories.DomainRepository.
type DomainStore interface {
	ReferenceStore
	UpsertUser(ctx context.Context, sub uuid.UUID, rec models.UserRecord) (int64, error)
	UpsertSubject(ctx context.Context, sub uuid.UUID) (int64, error)
	CreateRelationship(ctx context.Context, rel models.Relationship, left, right int64) (bool, error)
	DefaultAgencyID(ctx context.Context) (int64, bool, error)
}

// DuplicateSink receives records skipped because their email already exists.
//
// Implemented by audit.DuplicateLog.
type DuplicateSink interface {
	Append(rec models.DuplicateRecord) error
}
