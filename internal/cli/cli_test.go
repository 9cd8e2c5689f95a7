package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/testutil"
)

// runCLI executes the command tree against a temporary repository and
// returns stdout, stderr and the command error.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd(strings.NewReader(""), &stdout, &stderr)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env"), "--no-color"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func setupRepo(t *testing.T) string {
	t.Helper()
	root := testutil.WriteTree(t, map[string]string{
		"stacks/web/docker-compose.yml": "services:\n  web:\n    image: nginx:1.25\n",
		"stacks/web/.env.sample":        "TZ=UTC\n",
		"stacks/old/docker-compose.yml": "services:\n  old:\n    image: busybox:1.36\n",
	})
	t.Setenv("APPS_REPO", root)
	t.Setenv("INFRA_REPO", "")
	t.Setenv("SSH_HOSTS", "")
	t.Setenv("REPORT_OUTPUT_DIR", t.TempDir())
	t.Setenv("REPORT_FORMAT", "json")
	t.Setenv("REPORT_SINK", "local")
	t.Setenv("RULES_FILE", "")
	t.Setenv("HISTORY_ENABLED", "false")
	t.Setenv("METRICS_TEXTFILE", "")
	t.Setenv("LOG_LEVEL", "error")
	return root
}

func TestVersionCmd(t *testing.T) {
	out, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "stackdrift dev"))
}

func TestValidateCmd(t *testing.T) {
	setupRepo(t)

	out, _, err := runCLI(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Files checked: 2, errors: 0, warnings: 1")
	assert.Contains(t, out, "env-sample")
	assert.Contains(t, out, "[+] passed")
}

func TestValidateCmd_Strict(t *testing.T) {
	setupRepo(t)

	_, _, err := runCLI(t, "validate", "--strict")
	require.Error(t, err)
	assert.Equal(t, errors.ExitFindings, errors.ExitCode(err))
}

func TestValidateCmd_JSON(t *testing.T) {
	setupRepo(t)

	out, _, err := runCLI(t, "validate", "-o", "json")
	require.NoError(t, err)

	var rep struct {
		FilesChecked int  `json:"total_files_checked"`
		Warnings     int  `json:"warnings"`
		Passed       bool `json:"passed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 2, rep.FilesChecked)
	assert.Equal(t, 1, rep.Warnings)
	assert.True(t, rep.Passed)
}

func TestValidateCmd_NoRepository(t *testing.T) {
	setupRepo(t)
	t.Setenv("APPS_REPO", "")

	_, _, err := runCLI(t, "validate")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.ErrCodeConfig))
	assert.Equal(t, errors.ExitFailure, errors.ExitCode(err))
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code string
	}{
		{"unknown output format", []string{"validate", "-o", "xml"}, errors.ErrCodeConfig},
		{"detect without hosts", []string{"detect"}, errors.ErrCodeConfig},
		{"cleanup without hosts", []string{"cleanup"}, errors.ErrCodeConfig},
		{"history disabled", []string{"history"}, errors.ErrCodeConfig},
		{"remediate without source", []string{"remediate"}, errors.ErrCodeValidation},
		{"remediate with both sources", []string{"remediate", "--report", "r.json", "--live"}, errors.ErrCodeValidation},
		{"remediate missing report", []string{"remediate", "--report", "does-not-exist.json"}, errors.ErrCodeManifestNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupRepo(t)
			_, _, err := runCLI(t, tt.args...)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, tt.code), "got %v", err)
		})
	}
}

func TestHistoryCmd(t *testing.T) {
	setupRepo(t)
	t.Setenv("HISTORY_ENABLED", "true")
	t.Setenv("HISTORY_DRIVER", "sqlite")
	t.Setenv("HISTORY_DSN", filepath.Join(t.TempDir(), "history.db"))

	out, _, err := runCLI(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")

	out, _, err = runCLI(t, "history", "--remediations", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestReportError(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, errors.Findings("drift detected in 1 of 2 entities"))
	assert.Equal(t, "drift detected in 1 of 2 entities\n", buf.String())

	buf.Reset()
	reportError(&buf, errors.Config("no hosts configured", nil))
	assert.True(t, strings.HasPrefix(buf.String(), "Error: "))
}
