// Package tasks provisions spreadsheet user records into the identity and domain stores with real-time
// progress reporting.
//
// # Runs and batches
//
// A [Provisioner] holds the stores, the retry policy and the collaborators of a provisioning job.
// [Provisioner.NewRun] prepares the per-run state shared by every batch:
//   - one [Resolver] per reference kind, preloaded from the domain store
//   - the common credential fields written to new identity accounts
//   - the default agency, read once
//   - the optional record rate limiter
//
// [Run.Process] then handles one batch: a single bulk duplicate lookup, followed by sequential
// per-record provisioning.
//
// # Record lifecycle
//
// Each record ends in exactly one terminal state. Duplicates are skipped and appended to the
// [DuplicateSink]. Every other record runs the provisioning steps in order under one retry envelope
// (identity account, division, section, role, user group, domain user, links, subject). Completed steps
// are never rolled back; every step is idempotent so a later run repairs partial state.
//
// A failed record never stops the batch. Only cancellation of the caller's context, checked between
// records, or a streak of records failing on connectivity errors ends a batch early. In both cases the
// partial result is returned alongside the error.
//
// # Progress Reporting
//
// Operations send [ProgressUpdate] values on an optional channel. Sends never block: updates are dropped
// when the channel is full.
package tasks
