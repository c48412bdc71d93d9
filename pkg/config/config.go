// Package config loads mindstore settings from a YAML file and environment
// variables.
//
// Settings resolve in three layers, later ones winning:
//  1. built-in defaults (DefaultConfig)
//  2. an optional YAML file (LoadConfig)
//  3. MINDSTORE_* environment variables
//
// Example Usage:
//
//	cfg := config.LoadFromEnvOrFile("./mindstore.yaml")
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	logger, err := config.NewLogger(cfg.Logging)
//
// Environment Variables:
//   - MINDSTORE_ROOT="./mind"             storage root directory
//   - MINDSTORE_JOURNAL_ENABLED=true      keep the intent journal
//   - MINDSTORE_SYNC_WRITES=false         fsync every record write
//   - MINDSTORE_INITIAL_ID=1              first ID handed out by `init`
//   - MINDSTORE_LOG_LEVEL=info            debug, info, warn or error
//   - MINDSTORE_LOG_FORMAT=console        console or json
//   - MINDSTORE_LOG_OUTPUT=stderr         stdout, stderr or a file path
//   - MINDSTORE_EMOTIONS_FILE=""          YAML emotion vocabulary
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/mindstore/pkg/emotion"
)

// Config holds all mindstore configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Emotions EmotionsConfig `yaml:"emotions"`
}

// StorageConfig holds storage root settings.
type StorageConfig struct {
	// Root is the storage root directory.
	Root string `yaml:"root" validate:"required"`
	// JournalEnabled keeps the intent journal under <root>/.journal.
	JournalEnabled bool `yaml:"journal_enabled"`
	// SyncWrites fsyncs records and intents before they become visible.
	SyncWrites bool `yaml:"sync_writes"`
	// InitialID seeds both ID counters when a root is initialised.
	InitialID int64 `yaml:"initial_id" validate:"min=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (debug, info, warn, error)
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// Format (console, json)
	Format string `yaml:"format" validate:"oneof=console json"`
	// Output path (stdout, stderr, or file path)
	Output string `yaml:"output" validate:"required"`
}

// EmotionsConfig selects the emotion vocabulary.
type EmotionsConfig struct {
	// File is a YAML vocabulary. Empty means the built-in vocabulary.
	File string `yaml:"file"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Root:           "./mind",
			JournalEnabled: true,
			InitialID:      1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// LoadFromEnv returns the defaults overridden by MINDSTORE_* variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	applyEnv(cfg)
	return cfg
}

// LoadConfig reads a YAML file over the defaults. Keys missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigOrDefault loads path, falling back to the defaults when the file
// is missing or unreadable.
func LoadConfigOrDefault(path string) *Config {
	cfg, err := LoadConfig(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// LoadFromEnvOrFile loads path (if it can) and applies the environment on top.
func LoadFromEnvOrFile(path string) *Config {
	cfg := DefaultConfig()
	if path != "" {
		cfg = LoadConfigOrDefault(path)
	}
	applyEnv(cfg)
	return cfg
}

// Load is LoadFromEnvOrFile for an explicitly requested file: a path that
// cannot be read or parsed is an error instead of a silent fallback.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Storage.Root = getEnv("MINDSTORE_ROOT", cfg.Storage.Root)
	cfg.Storage.JournalEnabled = getEnvBool("MINDSTORE_JOURNAL_ENABLED", cfg.Storage.JournalEnabled)
	cfg.Storage.SyncWrites = getEnvBool("MINDSTORE_SYNC_WRITES", cfg.Storage.SyncWrites)
	cfg.Storage.InitialID = getEnvInt64("MINDSTORE_INITIAL_ID", cfg.Storage.InitialID)

	cfg.Logging.Level = strings.ToLower(getEnv("MINDSTORE_LOG_LEVEL", cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(getEnv("MINDSTORE_LOG_FORMAT", cfg.Logging.Format))
	cfg.Logging.Output = getEnv("MINDSTORE_LOG_OUTPUT", cfg.Logging.Output)

	cfg.Emotions.File = getEnv("MINDSTORE_EMOTIONS_FILE", cfg.Emotions.File)
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}()

// Validate checks the configuration and reports every invalid field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	// Namespace is "Config.storage.root"; drop the struct name.
	_, field, _ := strings.Cut(e.Namespace(), ".")

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// Vocabulary returns the configured emotion vocabulary.
func (c *Config) Vocabulary() (*emotion.Static, error) {
	if c.Emotions.File == "" {
		return emotion.Default(), nil
	}
	return emotion.LoadFile(c.Emotions.File)
}

// String returns a one-line summary for diagnostics.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Root: %s, Journal: %v, SyncWrites: %v, Log: %s/%s}",
		c.Storage.Root, c.Storage.JournalEnabled, c.Storage.SyncWrites,
		c.Logging.Level, c.Logging.Format,
	)
}

// NewLogger builds a zap logger from cfg. The json format uses zap's
// production encoder, console its development encoder.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zc.Level = level
	if cfg.Output != "" {
		zc.OutputPaths = []string{cfg.Output}
	}
	return zc.Build()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}
