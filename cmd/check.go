package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/repositories"
	"github.com/desertthunder/datainserter/internal/retry"
	"github.com/desertthunder/datainserter/internal/shared"
	"github.com/desertthunder/datainserter/internal/sheet"
	"github.com/urfave/cli/v3"
)

// InputReport is the outcome of reading the input without provisioning it.
type InputReport struct {
	Path        string `json:"path"`
	Rows        int    `json:"rows"`
	Records     int    `json:"records"`
	Invalid     int    `json:"invalid"`
	ParseErrors int    `json:"parse_errors"`
}

// DuplicateReport lists the input rows whose email already exists in the identity store.
type DuplicateReport struct {
	Records    int              `json:"records"`
	Duplicates []DuplicateEntry `json:"duplicates"`
}

// DuplicateEntry is one row of a [DuplicateReport].
type DuplicateEntry struct {
	Row        int    `json:"row"`
	Email      string `json:"email"`
	ExistingID string `json:"existing_id"`
}

// CheckInput parses and validates the input spreadsheet.
func (r *Runner) CheckInput(ctx context.Context, cmd *cli.Command) error {
	config, err := r.configure(cmd)
	if err != nil {
		return err
	}

	reader := sheet.NewReader(config.Input, r.logger)
	if _, err := reader.ReadAll(); err != nil {
		return err
	}

	stats := reader.Stats()
	report := InputReport{
		Path:        reader.Path(),
		Rows:        stats.Rows,
		Records:     stats.Records,
		Invalid:     stats.Invalid,
		ParseErrors: stats.ParseErrors,
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, true)
	}

	r.writePlainHeader("Input Check")
	r.writePlain("File: %s\n", report.Path)
	r.writePlain("Rows read: %d\n", report.Rows)
	r.writePlain("Valid records: %d\n", report.Records)
	r.writePlain("Invalid rows: %d\n", report.Invalid)
	r.writePlain("Parse errors: %d\n", report.ParseErrors)
	return nil
}

// CheckDuplicates runs duplicate detection for the input against the identity store without writing.
func (r *Runner) CheckDuplicates(ctx context.Context, cmd *cli.Command) error {
	config, err := r.configure(cmd)
	if err != nil {
		return err
	}

	records, err := sheet.NewReader(config.Input, r.logger).ReadAll()
	if err != nil {
		return err
	}

	db, err := shared.OpenStore(config.Identity)
	if err != nil {
		return fmt.Errorf("failed to open identity store: %w", err)
	}
	defer db.Close()

	identity := repositories.NewIdentityRepository(db)
	emails := make([]string, len(records))
	for i, rec := range records {
		emails[i] = rec.Email
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = config.Processing.MaxRetryAttempts
	policy.Delay = config.Processing.RetryDelay()

	var existing models.ExistingEmails
	res := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		existing, err = identity.FindExisting(ctx, emails)
		return err
	})
	if res.Err != nil {
		return fmt.Errorf("failed to detect duplicates: %w", res.Err)
	}

	report := DuplicateReport{Records: len(records), Duplicates: []DuplicateEntry{}}
	for _, rec := range records {
		if id, ok := existing.Lookup(rec.Email); ok {
			report.Duplicates = append(report.Duplicates, DuplicateEntry{Row: rec.Row, Email: rec.Email, ExistingID: id.String()})
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, true)
	}

	r.writePlainHeader("Duplicate Check")
	r.writePlain("Records checked: %d\n", report.Records)
	r.writePlain("Already provisioned: %d\n", len(report.Duplicates))
	for _, d := range report.Duplicates {
		r.writePlain("  - row %d %s (%s)\n", d.Row, d.Email, d.ExistingID)
	}
	return nil
}
