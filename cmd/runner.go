package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/datainserter/internal/shared"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config    *shared.Config
	logger    *log.Logger
	logOutput io.Writer
	output    io.Writer
	gitignore string
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config    *shared.Config
	Logger    *log.Logger
	LogOutput io.Writer // Console side of the run log, defaults to stderr
	Output    io.Writer
	Gitignore string // .gitignore updated with the duplicates pattern
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Gitignore == "" {
		opts.Gitignore = ".gitignore"
	}

	return &Runner{
		config:    opts.Config,
		logger:    opts.Logger,
		logOutput: opts.LogOutput,
		output:    opts.Output,
		gitignore: opts.Gitignore,
	}
}

// SetLogger replaces the logger used by subsequent command actions.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		provisionCommand, checkCommand, setupCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// configure resolves the configuration of one command: the --config file when given (otherwise the
// configuration loaded at startup), DATAINSERTER_* environment overrides, then command flags.
func (r *Runner) configure(cmd *cli.Command) (*shared.Config, error) {
	config := *r.config
	if cmd.IsSet("config") {
		loaded, err := shared.LoadConfig(cmd.String("config"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrMissingConfig, err)
		}
		config = *loaded
	}

	if err := shared.ApplyEnv(&config); err != nil {
		return nil, err
	}

	if cmd.IsSet("input") {
		config.Input.Path = cmd.String("input")
	}
	if cmd.IsSet("sheet") {
		config.Input.Sheet = cmd.String("sheet")
	}
	if cmd.IsSet("batch-size") {
		config.Processing.BatchSize = int(cmd.Int("batch-size"))
	}
	if cmd.IsSet("metrics-addr") {
		config.Metrics.Addr = cmd.String("metrics-addr")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	r.logger.SetLevel(shared.ParseLogLevel(config.Output.LogLevel))
	return &config, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
