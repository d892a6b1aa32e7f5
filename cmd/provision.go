package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/datainserter/internal/audit"
	"github.com/desertthunder/datainserter/internal/formatter"
	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/repositories"
	"github.com/desertthunder/datainserter/internal/retry"
	"github.com/desertthunder/datainserter/internal/server"
	"github.com/desertthunder/datainserter/internal/shared"
	"github.com/desertthunder/datainserter/internal/sheet"
	"github.com/desertthunder/datainserter/internal/tasks"
	"github.com/desertthunder/datainserter/internal/ui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 5 * time.Second

// Provision reads the input spreadsheet and provisions every valid record into both stores.
//
// The summary is printed and logged even when the run stops early; the returned error then reports why.
func (r *Runner) Provision(ctx context.Context, cmd *cli.Command) error {
	config, err := r.configure(cmd)
	if err != nil {
		return err
	}
	if config.Input.Path == "" {
		return fmt.Errorf("%w: --input or input.path", shared.ErrMissingArgument)
	}

	tui := cmd.Bool("tui")
	logger, logPath, err := r.runLogger(config.Output, tui)
	if err != nil {
		return err
	}
	r.SetLogger(logger)
	logger.Info("starting provisioning run", "input", config.Input.Path, "log", logPath)

	identityDB, err := shared.OpenStore(config.Identity)
	if err != nil {
		return fmt.Errorf("failed to open identity store: %w", err)
	}
	defer identityDB.Close()

	domainDB, err := shared.OpenStore(config.Domain)
	if err != nil {
		return fmt.Errorf("failed to open domain store: %w", err)
	}
	defer domainDB.Close()

	common, err := config.CommonFields.CommonFields()
	if err != nil {
		return fmt.Errorf("failed to resolve common fields: %w", err)
	}
	if common.PasswordHash == "" {
		logger.Warn("no password hash or default password configured, accounts are created without a password")
	}

	duplicates := audit.NewDuplicateLog(config.Output.DuplicatesDir)
	if err := duplicates.Init(); err != nil {
		return err
	}
	if config.Output.UpdateGitignore {
		if added, err := audit.EnsureGitignore(r.gitignore, config.Output.DuplicatesDir); err != nil {
			logger.Warn("failed to update .gitignore", "error", err)
		} else if added {
			logger.Info("added duplicates pattern to .gitignore", "path", r.gitignore)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	status := newRunStatus()
	if addr := config.Metrics.Addr; addr != "" {
		srv := server.New(addr, registry, status.Snapshot, logger)
		bound, err := srv.Start()
		if err != nil {
			return err
		}
		logger.Info("serving metrics", "addr", bound)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to stop metrics server", "error", err)
			}
		}()
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = config.Processing.MaxRetryAttempts
	policy.Delay = config.Processing.RetryDelay()

	provisioner, err := tasks.NewProvisioner(tasks.ProvisionerOpts{
		Identity:        repositories.NewIdentityRepository(identityDB),
		Domain:          repositories.NewDomainRepository(domainDB),
		Duplicates:      duplicates,
		Policy:          policy,
		RateLimit:       config.Processing.RateLimit,
		ParallelPreload: config.Processing.ParallelPreload,
		AbortAfter:      config.Processing.AbortAfterFailures,
		Metrics:         tasks.NewMetrics(registry),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	reader := sheet.NewReader(config.Input, logger)
	batchSize := config.Processing.BatchSize
	run := func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*models.ProcessingResult, error) {
		in, wait := relay(status, progress)
		result, err := provisionAll(ctx, provisioner, reader, common, batchSize, in)
		wait()
		status.finish(result, err)
		return result, err
	}

	var result *models.ProcessingResult
	var runErr error
	if tui {
		result, runErr = r.runTUI(ctx, run)
	} else {
		result, runErr = r.runPlain(ctx, run)
	}

	stats := reader.Stats()
	logger.Info("input read", "rows", stats.Rows, "records", stats.Records, "invalid", stats.Invalid, "parse_errors", stats.ParseErrors)

	if result != nil {
		summary := formatter.Summary(result, duplicates.Path())
		logger.Info("run summary",
			"total", result.TotalRecords,
			"succeeded", result.SuccessfulRecords,
			"duplicates", result.DuplicateRecords,
			"failed", result.FailedRecords,
			"elapsed", result.Elapsed,
		)
		r.writePlainln("%s", summary)

		if path := cmd.String("report"); path != "" {
			if err := formatter.WriteReport(result, path); err != nil {
				return errors.Join(runErr, err)
			}
			logger.Info("report written", "path", path)
		}
	}

	if path := config.Metrics.Textfile; path != "" {
		if err := tasks.WriteTextfile(path, registry); err != nil {
			logger.Warn("failed to write metrics textfile", "path", path, "error", err)
		}
	}

	return runErr
}

// runLogger creates the per-run log. The TUI owns the terminal, so its log goes to the file only.
func (r *Runner) runLogger(output shared.OutputConfig, fileOnly bool) (*log.Logger, string, error) {
	var logger *log.Logger
	var path string
	var err error

	if fileOnly {
		path = shared.RunLogPath(output.LogDir, time.Now())
		logger, err = shared.NewFileLogger(path)
	} else {
		logger, path, err = shared.NewRunLogger(r.logOutput, output.LogDir)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to create run log: %w", err)
	}

	logger.SetLevel(shared.ParseLogLevel(output.LogLevel))
	return logger, path, nil
}

func (r *Runner) runPlain(ctx context.Context, run ui.RunFunc) (*models.ProcessingResult, error) {
	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			switch update.Phase {
			case tasks.Preload:
				r.writePlain("📥 %s\n", update.Message)
			case tasks.DetectDuplicates:
				if update.Step == 0 {
					r.writePlain("\n🔍 %s\n", update.Message)
				} else {
					r.writePlain("   %s\n", update.Message)
				}
			case tasks.Provision:
				r.writePlain("   %s\n", update.Message)
			case tasks.Complete:
				r.writePlain("\n📝 %s\n", update.Message)
			}
		}
	}()

	result, err := run(ctx, progressCh)
	close(progressCh)
	<-done
	return result, err
}

// provisionAll runs the whole input through one [tasks.Run]. Batch sizes above one read and
// provision the input in consecutive batches whose results are merged.
func provisionAll(
	ctx context.Context,
	provisioner *tasks.Provisioner,
	reader *sheet.Reader,
	common models.CommonFields,
	batchSize int,
	progress chan<- tasks.ProgressUpdate,
) (*models.ProcessingResult, error) {
	run, err := provisioner.NewRun(ctx, common, progress)
	if err != nil {
		return nil, err
	}

	if batchSize <= 1 {
		records, err := reader.ReadAll()
		if err != nil {
			return nil, err
		}
		return run.Process(ctx, records, progress)
	}

	batches, err := reader.Batches(batchSize)
	if err != nil {
		return nil, err
	}
	defer batches.Close()

	total := models.NewProcessingResult(0)
	for {
		batch, err := batches.Next()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}

		result, err := run.Process(ctx, batch, progress)
		total.Merge(result)
		if err != nil {
			return total, err
		}
	}
}
