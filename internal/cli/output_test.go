package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(StageResult{System: "crm", Type: "contact", Payloads: 3, Staged: 2}))

	var resp struct {
		Status string      `json:"status"`
		Data   StageResult `json:"data"`
		Error  *CLIError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Staged)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(StageResult{System: "crm", Type: "contact", Payloads: 3, Staged: 2}))
	assert.Equal(t, "staged 2 of 3 payloads for crm/contact\n", buf.String())
}

func TestOutputFormatter_JSONFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	runs := runLines{Runs: []RunSummary{{System: "crm", Stage: "Read", Error: "store closed"}}}
	require.NoError(t, formatter.Failure("E_RUN_FAILED", "1 function(s) failed", runs))

	var resp struct {
		Status string    `json:"status"`
		Data   runLines  `json:"data"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_RUN_FAILED", resp.Error.Code)
	assert.Equal(t, "1 function(s) failed", resp.Error.Message)
	require.Len(t, resp.Data.Runs, 1, "partial results travel with the error")
	assert.Equal(t, "store closed", resp.Data.Runs[0].Error)
}

func TestOutputFormatter_TextFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	runs := runLines{Runs: []RunSummary{{System: "crm", Stage: "Read", Error: "store closed"}}}
	require.NoError(t, formatter.Failure("E_RUN_FAILED", "1 function(s) failed", runs))
	assert.Equal(t, "crm/Read failed: store closed\nError [E_RUN_FAILED]: 1 function(s) failed\n", buf.String())
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	details := []string{"systems.crm.cron: expected exactly 5 fields"}
	require.NoError(t, formatter.Error("E_CONFIG", "invalid configuration", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_CONFIG", resp.Error.Code)
	assert.Equal(t, "invalid configuration", resp.Error.Message)
	assert.Equal(t, []any{"systems.crm.cron: expected exactly 5 fields"}, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	details := []string{"page_size: invalid value 0"}

	quiet := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: quiet}
	require.NoError(t, formatter.Error("E_CONFIG", "invalid configuration", details))
	assert.Equal(t, "Error [E_CONFIG]: invalid configuration\n", quiet.String())

	verbose := &bytes.Buffer{}
	formatter = &OutputFormatter{Format: "text", Writer: verbose, Verbose: true}
	require.NoError(t, formatter.Error("E_CONFIG", "invalid configuration", details))
	assert.Contains(t, verbose.String(), "Details: [page_size: invalid value 0]")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			diag := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: diag,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("running %s/%s", "crm", "Read")

			assert.Empty(t, out.String(), "diagnostics never mix into JSON output")
			if tt.wantLog {
				assert.Equal(t, "running crm/Read\n", diag.String())
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"exit error", NewExitError(ExitCommandError, "unknown system"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("run: %w", WrapExitError(ExitFailure, "run failed", errors.New("boom"))), ExitFailure},
		{"plain error", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	cause := errors.New("no such file")
	err := WrapExitError(ExitCommandError, "failed to read payloads", cause)

	assert.Equal(t, "failed to read payloads: no such file", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "invalid stage", NewExitError(ExitCommandError, "invalid stage").Error())
}
