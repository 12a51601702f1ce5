package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/coresync/internal/archive"
	"github.com/roach88/coresync/internal/config"
	"github.com/roach88/coresync/internal/store"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions

	// Promoted and Staged override the configured retention when set.
	Promoted time.Duration
	Staged   time.Duration
}

// PurgeLine is the purge of one (system, type).
type PurgeLine struct {
	System   string   `json:"system"`
	Type     string   `json:"type"`
	Promoted int      `json:"promoted"`
	Staged   int      `json:"staged"`
	Archived []string `json:"archived,omitempty"`
}

// PurgeReport is the outcome of a purge.
type PurgeReport struct {
	Sink  string      `json:"sink"`
	Lines []PurgeLine `json:"lines"`
}

func (r PurgeReport) String() string {
	var b strings.Builder
	tw := table.NewWriter()
	tw.SetOutputMirror(&b)
	tw.AppendHeader(table.Row{"System", "Type", "Promoted", "Staged", "Archived"})
	for _, l := range r.Lines {
		tw.AppendRow(table.Row{l.System, l.Type, fmt.Sprint(l.Promoted), fmt.Sprint(l.Staged), strings.Join(l.Archived, " ")})
	}
	tw.Render()
	return strings.TrimRight(b.String(), "\n")
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete staged entities past their retention",
		Long: `Delete staged entities older than the retention policy.

Promoted entities are deleted retention.promoted after promotion. Every
entity, promoted or not, is deleted retention.staged after staging. When
an archive sink is configured each batch is written there as JSON Lines
before it is deleted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Promoted, "promoted", 0, "retention for promoted entities (overrides config)")
	cmd.Flags().DurationVar(&opts.Staged, "staged", 0, "retention for all staged entities (overrides config)")

	return cmd
}

func runPurge(opts *PurgeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	policy := archive.Policy{Promoted: cfg.Retention.Promoted, Staged: cfg.Retention.Staged}
	if opts.Promoted > 0 {
		policy.Promoted = opts.Promoted
	}
	if opts.Staged > 0 {
		policy.Staged = opts.Staged
	}
	if policy.Promoted == 0 && policy.Staged == 0 {
		return opts.formatter(cmd).Success("No retention configured, nothing to purge.")
	}

	ctx := cmdContext(cmd)
	sink, err := newSink(ctx, cfg.Archive)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create archive sink", err)
	}

	return withStore(opts.RootOptions, func(st *store.Store) error {
		purger := archive.NewPurger(st, sink, policy, opts.clock().Now)
		results, err := purger.Purge(ctx)
		report := PurgeReport{Sink: cfg.Archive.Kind, Lines: make([]PurgeLine, 0, len(results))}
		for _, r := range results {
			report.Lines = append(report.Lines, PurgeLine{
				System:   string(r.System),
				Type:     string(r.Type),
				Promoted: r.Promoted,
				Staged:   r.Staged,
				Archived: r.Keys,
			})
		}
		if err != nil {
			if ferr := opts.formatter(cmd).Failure("E_PURGE_FAILED", err.Error(), report); ferr != nil {
				return ferr
			}
			return WrapExitError(ExitFailure, "purge failed", err)
		}
		if len(report.Lines) == 0 {
			if opts.Format == "json" {
				return opts.formatter(cmd).Success(report)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing staged.")
			return nil
		}
		return opts.formatter(cmd).Success(report)
	})
}

// newSink builds the configured archive sink, nil for none.
func newSink(ctx context.Context, cfg config.ArchiveConfig) (archive.Sink, error) {
	switch cfg.Kind {
	case "", config.ArchiveNone:
		return nil, nil
	case config.ArchiveDir:
		return archive.NewDirSink(cfg.Dir), nil
	case config.ArchiveS3:
		return archive.NewS3Sink(ctx, cfg.Bucket, cfg.Region, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown archive kind %q", cfg.Kind)
	}
}
