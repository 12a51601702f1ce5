// Package config loads coresync settings from a YAML file, the
// environment and defaults, and validates them against an embedded CUE
// schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/roach88/coresync/internal/engine"
)

//go:embed schema.cue
var schemaCUE string

const (
	configFileName = "coresync"
	configFileType = "yaml"
	envPrefix      = "CORESYNC"
)

// System kinds understood by the sample integrations.
const (
	KindSheet    = "sheet"
	KindJSONFile = "jsonfile"
)

// Archive sink kinds.
const (
	ArchiveNone = "none"
	ArchiveDir  = "dir"
	ArchiveS3   = "s3"
)

// Config is the full coresync configuration.
type Config struct {
	Database      string        `mapstructure:"database" json:"database"`
	PageSize      int           `mapstructure:"page_size" json:"page_size"`
	FailFast      bool          `mapstructure:"fail_fast" json:"fail_fast"`
	StaleRunAfter time.Duration `mapstructure:"stale_run_after" json:"stale_run_after"`

	Log       LogConfig               `mapstructure:"log" json:"log"`
	Retention RetentionConfig         `mapstructure:"retention" json:"retention"`
	Archive   ArchiveConfig           `mapstructure:"archive" json:"archive"`
	Systems   map[string]SystemConfig `mapstructure:"systems" json:"systems,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// RetentionConfig is how long staged entities are kept. Zero keeps them
// forever.
type RetentionConfig struct {
	Promoted time.Duration `mapstructure:"promoted" json:"promoted"`
	Staged   time.Duration `mapstructure:"staged" json:"staged"`
}

// ArchiveConfig is where purged staged entities are copied first.
type ArchiveConfig struct {
	Kind   string `mapstructure:"kind" json:"kind"`
	Dir    string `mapstructure:"dir" json:"dir,omitempty"`
	Bucket string `mapstructure:"bucket" json:"bucket,omitempty"`
	Region string `mapstructure:"region" json:"region,omitempty"`
	Prefix string `mapstructure:"prefix" json:"prefix,omitempty"`
}

// SystemConfig configures one sample integration.
type SystemConfig struct {
	Kind            string `mapstructure:"kind" json:"kind"`
	Path            string `mapstructure:"path" json:"path"`
	Sheet           string `mapstructure:"sheet" json:"sheet,omitempty"`
	IDPath          string `mapstructure:"id_path" json:"id_path,omitempty"`
	UpdatedPath     string `mapstructure:"updated_path" json:"updated_path,omitempty"`
	Cron            string `mapstructure:"cron" json:"cron,omitempty"`
	Bidirectional   bool   `mapstructure:"bidirectional" json:"bidirectional,omitempty"`
	FirstCheckpoint string `mapstructure:"first_checkpoint" json:"first_checkpoint,omitempty"`
}

// Checkpoint returns the parsed first checkpoint, zero when unset.
func (s SystemConfig) Checkpoint() (time.Time, error) {
	if s.FirstCheckpoint == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.FirstCheckpoint)
	if err != nil {
		return time.Time{}, fmt.Errorf("first_checkpoint: %w", err)
	}
	return t.UTC(), nil
}

// SlogLevel maps the configured level to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SystemNames returns the configured system names, sorted.
func (c *Config) SystemNames() []string {
	names := make([]string, 0, len(c.Systems))
	for name := range c.Systems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", "coresync.db")
	v.SetDefault("page_size", engine.DefaultPageSize)
	v.SetDefault("fail_fast", false)
	v.SetDefault("stale_run_after", "1h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("retention.promoted", "0s")
	v.SetDefault("retention.staged", "0s")
	v.SetDefault("archive.kind", ArchiveNone)
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.prefix", "")
}

// Load reads the configuration. With path empty, coresync.yaml is looked
// up in the working directory and then $HOME/.coresync; a missing file is
// not an error. With path set, the file must exist.
//
// Every scalar key can be overridden from the environment with the
// CORESYNC_ prefix, dots becoming underscores (CORESYNC_LOG_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".coresync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SchemaError is a configuration value the schema rejects.
type SchemaError struct {
	Path    string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %s", e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Path, e.Message)
}

// Validate checks c against the embedded CUE schema, then checks what the
// schema cannot express: cron expressions and checkpoint timestamps.
// Every problem found is returned, joined.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return schemaErrors(err)
	}

	var errs []error
	for _, name := range c.SystemNames() {
		sys := c.Systems[name]
		if sys.Cron != "" {
			if _, err := engine.ParseCron(sys.Cron); err != nil {
				errs = append(errs, &SchemaError{Path: "systems." + name + ".cron", Message: err.Error()})
			}
		}
		if _, err := sys.Checkpoint(); err != nil {
			errs = append(errs, &SchemaError{Path: "systems." + name + ".first_checkpoint", Message: err.Error()})
		}
	}
	return errors.Join(errs...)
}

// schemaErrors flattens a CUE error list into SchemaErrors.
func schemaErrors(err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return &SchemaError{Message: err.Error()}
	}
	errs := make([]error, 0, len(list))
	for _, e := range list {
		format, args := e.Msg()
		errs = append(errs, &SchemaError{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return errors.Join(errs...)
}
