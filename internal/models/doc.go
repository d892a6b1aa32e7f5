// Package models defines the records and results of a provisioning run.
//
// The package contains three categories of types:
//
// 1. Input: one parsed spreadsheet row and its derived values
//   - [UserRecord] : a user to provision, immutable after parsing
//   - [ControlLevel] : access scope stored on the domain user, parsed leniently by [ParseControlLevel]
//
// 2. Store vocabulary: names shared by the repositories and the orchestrator
//   - [ReferenceKind] : division, section, role and user group tables
//   - [Relationship] : the fixed set of link tables written by check-then-insert
//   - [CommonFields] : credential defaults shared by every new identity account
//   - [ExistingEmails] : identity ids of emails already present in the identity store
//
// 3. Outcomes: what a batch run reports back
//   - [ProcessingResult] : counters, per-record outcomes and the error list of a batch
//   - [DuplicateRecord] : a skipped row, written to the duplicate audit log
package models
