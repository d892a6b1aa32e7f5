package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/datainserter/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase runs (or rolls back) the migrations of the selected stores.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	config, err := r.configure(cmd)
	if err != nil {
		return err
	}

	stores, err := selectStores(cmd.String("store"))
	if err != nil {
		return err
	}

	rollback := cmd.Bool("rollback")
	for _, store := range stores {
		storeConfig := config.Identity
		if store == shared.DomainStore {
			storeConfig = config.Domain
		}

		if err := r.migrate(store, storeConfig, rollback); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) migrate(store shared.Store, cfg shared.StoreConfig, rollback bool) error {
	dialect, err := shared.DialectFor(cfg.Driver)
	if err != nil {
		return err
	}

	r.logger.Info("initializing database", "store", store, "driver", cfg.Driver)

	db, err := shared.OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", store, err)
	}
	defer db.Close()

	if rollback {
		r.logger.Info("rolling back latest migration", "store", store)
		if err := shared.RollbackMigration(db, dialect, store); err != nil {
			return fmt.Errorf("failed to roll back %s: %w", store, err)
		}
		r.writePlain("✓ Rolled back latest %s migration\n", store)
		return nil
	}

	r.logger.Info("running database migrations", "store", store)
	if err := shared.RunMigrations(db, dialect, store); err != nil {
		return fmt.Errorf("failed to run %s migrations: %w", store, err)
	}
	r.writePlain("✓ Migrated %s store (%s)\n", store, dialect)
	return nil
}

func selectStores(value string) ([]shared.Store, error) {
	if value == "" || strings.EqualFold(value, "all") {
		return []shared.Store{shared.IdentityStore, shared.DomainStore}, nil
	}
	store, err := shared.ParseStore(value)
	if err != nil {
		return nil, err
	}
	return []shared.Store{store}, nil
}

// SetupConfig writes the configuration template.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("output")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", path)
	r.writePlain("✓ Configuration written to %s\n", path)
	r.writePlainln("Next steps:")
	r.writePlain("1. Set the identity and domain DSNs (or DATAINSERTER_IDENTITY_DSN / DATAINSERTER_DOMAIN_DSN)\n")
	r.writePlain("2. Run 'datainserter setup database' to create the schemas\n")
	r.writePlain("3. Run 'datainserter check input' to validate the spreadsheet\n")
	return nil
}

// SetupPassword prints the identity hash of the password given as the first argument.
func (r *Runner) SetupPassword(ctx context.Context, cmd *cli.Command) error {
	password := cmd.Args().First()
	if password == "" {
		return fmt.Errorf("%w: password", shared.ErrMissingArgument)
	}

	hash, err := shared.HashPassword(password)
	if err != nil {
		return err
	}

	return r.writePlain("%s\n", hash)
}
