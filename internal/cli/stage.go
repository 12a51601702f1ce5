package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/roach88/coresync/internal/ir"
	"github.com/roach88/coresync/internal/store"
)

// StageResult is the outcome of staging a file.
type StageResult struct {
	System   string   `json:"system"`
	Type     string   `json:"type"`
	Payloads int      `json:"payloads"`
	Staged   int      `json:"staged"`
	IDs      []string `json:"ids"`
}

func (r StageResult) String() string {
	return fmt.Sprintf("staged %d of %d payloads for %s/%s", r.Staged, r.Payloads, r.System, r.Type)
}

// NewStageCommand creates the stage command.
func NewStageCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <system> <type> <file>",
		Short: "Stage payloads from a file",
		Long: `Stage raw payloads as if the system's Read had fetched them.

The file holds either one JSON array of payloads or one JSON payload per
line. Use - to read standard input. Payloads identical to one already
staged for the same system and type are dropped.

Examples:
  coresync stage crm contact contacts.json
  cat contacts.jsonl | coresync stage crm contact -`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[2])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read payloads", err)
			}
			payloads, err := ParsePayloads(data)
			if err != nil {
				return WrapExitError(ExitFailure, "invalid payloads", err)
			}
			return withStore(rootOpts, func(st *store.Store) error {
				return stagePayloads(rootOpts, cmd, st, ir.SystemName(args[0]), ir.SystemEntityTypeName(args[1]), payloads)
			})
		},
	}
}

func stagePayloads(opts *RootOptions, cmd *cobra.Command, st *store.Store, system ir.SystemName, typ ir.SystemEntityTypeName, payloads []string) error {
	staged, err := st.Stage(cmdContext(cmd), opts.clock().Now(), system, typ, payloads)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to stage payloads", err)
	}
	result := StageResult{
		System:   string(system),
		Type:     string(typ),
		Payloads: len(payloads),
		Staged:   len(staged),
		IDs:      make([]string, len(staged)),
	}
	for i, se := range staged {
		result.IDs[i] = string(se.ID)
	}
	slog.Debug("staged payloads", "system", system, "type", typ, "staged", result.Staged, "payloads", result.Payloads)
	return opts.formatter(cmd).Success(result)
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// ParsePayloads splits data into raw JSON payloads. data is either one
// JSON array, whose elements become payloads, or JSON Lines. Blank lines
// are skipped.
func ParsePayloads(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []string{}, nil
	}

	if trimmed[0] == '[' {
		if !gjson.ValidBytes(trimmed) {
			return nil, fmt.Errorf("invalid JSON array")
		}
		payloads := []string{}
		gjson.ParseBytes(trimmed).ForEach(func(_, value gjson.Result) bool {
			payloads = append(payloads, value.Raw)
			return true
		})
		return payloads, nil
	}

	payloads := []string{}
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		if !gjson.ValidBytes(text) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		payloads = append(payloads, string(text))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan payloads: %w", err)
	}
	return payloads, nil
}
