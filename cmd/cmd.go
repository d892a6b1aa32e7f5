// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func inputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "Spreadsheet to read (.xlsx or .csv), overrides input.path",
		},
		&cli.StringFlag{
			Name:  "sheet",
			Usage: "Worksheet name, overrides input.sheet",
		},
	}
}

// provisionCommand provisions every valid row of the input into both stores
func provisionCommand(r *Runner) *cli.Command {
	flags := append([]cli.Flag{configFlag()}, inputFlags()...)
	flags = append(flags,
		&cli.IntFlag{
			Name:    "batch-size",
			Aliases: []string{"b"},
			Usage:   "Records per batch, 1 or less processes the whole input at once",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write per-record outcomes to a .csv, .md or .json file",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve /metrics and /healthz on this address while running",
		},
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "Show an interactive progress view",
		},
	)

	return &cli.Command{
		Name:   "provision",
		Usage:  "Create identity accounts and domain users from the input spreadsheet",
		Flags:  flags,
		Action: r.Provision,
	}
}

// checkCommand runs the read-only stages of a provisioning run
func checkCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate input without writing to the stores",
		Commands: []*cli.Command{
			{
				Name:  "input",
				Usage: "Parse and validate the input spreadsheet",
				Flags: append([]cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				}, inputFlags()...),
				Action: r.CheckInput,
			},
			{
				Name:    "duplicates",
				Aliases: []string{"dups"},
				Usage:   "List input emails that already exist in the identity store",
				Flags: append([]cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				}, inputFlags()...),
				Action: r.CheckDuplicates,
			},
		},
	}
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Run migrations for the identity and domain stores",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "store",
						Usage: "Store to migrate: iam, sdg or all",
						Value: "all",
					},
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Revert the latest migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write a configuration file from the template",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path of the configuration file to create",
						Value:   "config.toml",
					},
				},
				Action: r.SetupConfig,
			},
			{
				Name:      "password",
				Usage:     "Print an identity password hash for common_fields.password_hash",
				ArgsUsage: "<password>",
				Action:    r.SetupPassword,
			},
		},
	}
}
