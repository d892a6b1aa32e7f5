package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/datainserter/internal/mapper"
	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/shared"
)

// Resolver gets or creates the reference rows of one kind through a read-through cache.
//
// Cache keys are case-folded names, so lookups are case-insensitive. A Resolver is not safe for
// concurrent use.
type Resolver struct {
	kind      models.ReferenceKind
	store     ReferenceStore
	canonical func(string) string
	cache     map[string]int64
}

// NewResolver creates a [Resolver] for kind. Roles and user groups are canonicalized against their
// templates; other kinds are only trimmed.
func NewResolver(kind models.ReferenceKind, store ReferenceStore) *Resolver {
	canonical := strings.TrimSpace
	switch kind {
	case models.Role:
		canonical = mapper.MapRole
	case models.UserGroup:
		canonical = mapper.MapUserGroup
	}

	return &Resolver{
		kind:      kind,
		store:     store,
		canonical: canonical,
		cache:     make(map[string]int64),
	}
}

// Kind returns the reference kind handled by the resolver.
func (r *Resolver) Kind() models.ReferenceKind { return r.kind }

// Len returns the number of cached names.
func (r *Resolver) Len() int { return len(r.cache) }

// Canonical returns the trimmed canonical name that raw resolves to.
func (r *Resolver) Canonical(raw string) string {
	return strings.TrimSpace(r.canonical(raw))
}

// Preload bulk-reads every row of the kind's table into the cache and returns a copy of it.
//
// When names collide case-insensitively the lowest id wins.
func (r *Resolver) Preload(ctx context.Context) (map[string]int64, error) {
	refs, err := r.store.ListReferences(ctx, r.kind)
	if err != nil {
		return nil, fmt.Errorf("failed to preload %s cache: %w", r.kind, err)
	}

	for _, ref := range refs {
		key := mapper.Key(ref.Name)
		if key == "" {
			continue
		}
		if _, ok := r.cache[key]; !ok {
			r.cache[key] = ref.ID
		}
	}

	snapshot := make(map[string]int64, len(r.cache))
	for k, v := range r.cache {
		snapshot[k] = v
	}
	return snapshot, nil
}

// GetOrCreate returns the id of the reference named raw, creating the row when it does not exist.
//
// A cache miss falls back to a point lookup before inserting, so rows created by another run are reused.
func (r *Resolver) GetOrCreate(ctx context.Context, raw string) (int64, error) {
	name := r.Canonical(raw)
	if name == "" {
		return 0, fmt.Errorf("%w: blank %s name", shared.ErrInvalidInput, r.kind)
	}

	key := mapper.Key(name)
	if id, ok := r.cache[key]; ok {
		return id, nil
	}

	id, found, err := r.store.FindReference(ctx, r.kind, name)
	if err != nil {
		return 0, err
	}
	if !found {
		id, err = r.store.CreateReference(ctx, r.kind, name)
		if err != nil {
			return 0, err
		}
	}

	r.cache[key] = id
	return id, nil
}
