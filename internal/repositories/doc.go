// Package repositories implements persistence for the identity and domain stores.
//
// Both stores are reached through database/sql with `$N` placeholders, so the same statements run on
// Postgres (pgx or lib/pq) and SQLite. Table and column names are quoted to keep their PascalCase.
//
// Key Implementations:
//   - [IdentityRepository] : login accounts, upserted on the normalized user name, and bulk email lookups
//   - [DomainRepository] : reference tables, domain users, subjects and link tables
//
// Every write is idempotent. Upserts use ON CONFLICT on a unique key and link rows are written by
// check-then-insert through [DomainRepository.CreateRelationship], so re-running a batch repairs
// partial state instead of duplicating it. Two concurrent runs may still race between the check and
// the insert of a link row.
package repositories
