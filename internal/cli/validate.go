package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/coresync/internal/ir"
	"github.com/roach88/coresync/internal/sample"
)

// SystemReport describes one configured system.
type SystemReport struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Path          string `json:"path"`
	Cron          string `json:"cron,omitempty"`
	Bidirectional bool   `json:"bidirectional"`
}

// ValidateReport is the outcome of validate.
type ValidateReport struct {
	Database string         `json:"database"`
	Systems  []SystemReport `json:"systems"`
}

func (r ValidateReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Configuration OK: %d system(s), database %s", len(r.Systems), r.Database)
	for _, s := range r.Systems {
		schedule := s.Cron
		if schedule == "" {
			schedule = "every run"
		}
		direction := "one-way"
		if s.Bidirectional {
			direction = "bidirectional"
		}
		fmt.Fprintf(&b, "\n  %s: %s %s (%s, %s)", s.Name, s.Kind, s.Path, schedule, direction)
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Validate the configuration file and build every system's functions.

The file is checked against the configuration schema, cron expressions
and first checkpoints are parsed, and each system kind must be one of the
known kinds.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			out := rootOpts.formatter(cmd)
			if err := cfg.Validate(); err != nil {
				if ferr := out.Error("E_CONFIG", "invalid configuration", problems(err)); ferr != nil {
					return ferr
				}
				return WrapExitError(ExitFailure, "invalid configuration", err)
			}

			report := ValidateReport{Database: cfg.Database, Systems: []SystemReport{}}
			for _, name := range cfg.SystemNames() {
				sys := cfg.Systems[name]
				if _, err := sample.Functions(ir.SystemName(name), sys, rootOpts.IDs); err != nil {
					msg := fmt.Sprintf("invalid system %s (known kinds: %s)", name, strings.Join(sample.Kinds(), ", "))
					if ferr := out.Error("E_CONFIG", msg, problems(err)); ferr != nil {
						return ferr
					}
					return WrapExitError(ExitFailure, msg, err)
				}
				report.Systems = append(report.Systems, SystemReport{
					Name:          name,
					Kind:          sys.Kind,
					Path:          sys.Path,
					Cron:          sys.Cron,
					Bidirectional: sys.Bidirectional,
				})
			}
			return out.Success(report)
		},
	}
}

// problems splits a joined validation error into one line per problem.
func problems(err error) []string {
	var lines []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
