package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "DATAINSERTER_"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Input        InputConfig        `toml:"input" envPrefix:"INPUT_"`
	Processing   ProcessingConfig   `toml:"processing" envPrefix:"PROCESSING_"`
	Identity     StoreConfig        `toml:"identity" envPrefix:"IDENTITY_"`
	Domain       StoreConfig        `toml:"domain" envPrefix:"DOMAIN_"`
	CommonFields CommonFieldsConfig `toml:"common_fields"`
	Output       OutputConfig       `toml:"output" envPrefix:"OUTPUT_"`
	Metrics      MetricsConfig      `toml:"metrics" envPrefix:"METRICS_"`
}

// InputConfig describes the spreadsheet to read and its layout.
type InputConfig struct {
	Path             string        `toml:"path" env:"PATH"`
	Sheet            string        `toml:"sheet" env:"SHEET"`
	HeaderRows       int           `toml:"header_rows" env:"HEADER_ROWS"`
	RequireUserGroup bool          `toml:"require_user_group" env:"REQUIRE_USER_GROUP"`
	Columns          ColumnsConfig `toml:"columns" env:"-"`
}

// ColumnsConfig maps record fields to 1-based spreadsheet columns. Zero disables a column.
type ColumnsConfig struct {
	Row          int `toml:"row"`
	Name         int `toml:"name"`
	Email        int `toml:"email"`
	Role         int `toml:"role"`
	UserGroup    int `toml:"user_group"`
	Section      int `toml:"section"`
	Division     int `toml:"division"`
	ControlLevel int `toml:"control_level"`
}

// ProcessingConfig contains batching and retry settings.
type ProcessingConfig struct {
	BatchSize          int     `toml:"batch_size" env:"BATCH_SIZE"`
	MaxRetryAttempts   int     `toml:"max_retry_attempts" env:"MAX_RETRY_ATTEMPTS"`
	RetryDelayMS       int     `toml:"retry_delay_ms" env:"RETRY_DELAY_MS"`
	RateLimit          float64 `toml:"rate_limit" env:"RATE_LIMIT"`
	ParallelPreload    bool    `toml:"parallel_preload" env:"PARALLEL_PRELOAD"`
	AbortAfterFailures int     `toml:"abort_after_failures" env:"ABORT_AFTER_FAILURES"`
}

// StoreConfig contains database connection settings for one store.
type StoreConfig struct {
	Driver       string `toml:"driver" env:"DRIVER"`
	DSN          string `toml:"dsn" env:"DSN"`
	MaxOpenConns int    `toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns int    `toml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
}

// CommonFieldsConfig holds the shared credential defaults applied to new identity accounts.
type CommonFieldsConfig struct {
	PasswordHash     string `toml:"password_hash" env:"PASSWORD_HASH"`
	DefaultPassword  string `toml:"default_password" env:"DEFAULT_PASSWORD"`
	SecurityStamp    string `toml:"security_stamp" env:"SECURITY_STAMP"`
	ConcurrencyStamp string `toml:"concurrency_stamp" env:"CONCURRENCY_STAMP"`
}

// OutputConfig contains locations for run artifacts.
type OutputConfig struct {
	LogDir          string `toml:"log_dir" env:"LOG_DIR"`
	LogLevel        string `toml:"log_level" env:"LOG_LEVEL"`
	DuplicatesDir   string `toml:"duplicates_dir" env:"DUPLICATES_DIR"`
	UpdateGitignore bool   `toml:"update_gitignore" env:"UPDATE_GITIGNORE"`
}

// MetricsConfig controls the optional metrics endpoint and textfile export.
type MetricsConfig struct {
	Addr     string `toml:"addr" env:"ADDR"`
	Textfile string `toml:"textfile" env:"TEXTFILE"`
}

// RetryDelay returns the base retry delay as a [time.Duration].
func (p ProcessingConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMS) * time.Millisecond
}

// LoadConfig reads a TOML configuration file from the specified path on top of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnvFiles loads the dotenv files that exist, returning how many were read.
func LoadEnvFiles(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}

	if len(existing) == 0 {
		return 0, nil
	}

	return len(existing), godotenv.Load(existing...)
}

// ApplyEnv overrides config values with DATAINSERTER_* environment variables.
//
// Variables that are not set leave the current value untouched.
func ApplyEnv(c *Config) error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks required keys and value ranges, joining every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Processing.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("%w: processing.batch_size must not be negative", ErrInvalidConfig))
	}
	if c.Processing.MaxRetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("%w: processing.max_retry_attempts must not be negative", ErrInvalidConfig))
	}
	if c.Processing.RetryDelayMS < 0 {
		errs = append(errs, fmt.Errorf("%w: processing.retry_delay_ms must not be negative", ErrInvalidConfig))
	}
	if c.Processing.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("%w: processing.rate_limit must not be negative", ErrInvalidConfig))
	}
	if c.Input.HeaderRows < 0 {
		errs = append(errs, fmt.Errorf("%w: input.header_rows must not be negative", ErrInvalidConfig))
	}

	cols := c.Input.Columns
	for key, col := range map[string]int{"name": cols.Name, "email": cols.Email, "division": cols.Division} {
		if col <= 0 {
			errs = append(errs, fmt.Errorf("%w: input.columns.%s is required", ErrInvalidConfig, key))
		}
	}

	for name, store := range map[string]StoreConfig{"identity": c.Identity, "domain": c.Domain} {
		if _, err := DialectFor(store.Driver); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s.driver: %v", ErrInvalidConfig, name, err))
		}
	}

	return errors.Join(errs...)
}
