package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	domain "github.com/pratik-mahalle/stackdrift/internal/domain/remediation"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/report"
	"github.com/pratik-mahalle/stackdrift/internal/testutil"
)

func driftedResult() *drift.Result {
	item := drift.Item{FieldPath: "image", BaselineValue: "nginx:1.25", RuntimeValue: "nginx:1.26", Severity: drift.SeverityFunctional}
	res := &drift.Result{
		RunID:     "run-1",
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Entities: []drift.EntityDrift{
			{EntityName: "web", Service: "web", Stack: "web", Matched: true, Items: []drift.Item{item}},
			{EntityName: "api", Service: "api", Stack: "web", Matched: true, Items: []drift.Item{item}},
			{EntityName: "db", Service: "db", Stack: "web", Matched: true, Items: []drift.Item{}},
			{EntityName: "stray", BaselineMissing: true, Items: []drift.Item{}},
		},
	}
	res.Recount()
	return res
}

func TestRemediationService_Remediate(t *testing.T) {
	pub := &testutil.MockPublisher{Fail: map[string]bool{"api": true}}
	runs := testutil.NewMockRunRecorder()
	svc := NewRemediationService(pub, runs, testutil.NewTestLogger())

	outcomes, err := svc.Remediate(context.Background(), driftedResult(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 remediations failed")
	assert.Equal(t, errors.ExitFailure, errors.ExitCode(err))

	require.Len(t, outcomes, 2)
	assert.Equal(t, []string{"web", "api"}, pub.Calls)
	assert.Equal(t, domain.StateDone, outcomes[0].State)
	assert.Equal(t, domain.StateFailed, outcomes[1].State)

	require.Len(t, runs.Remediations, 2)
	assert.Equal(t, "run-1", runs.Remediations[1].RunID)
	assert.Equal(t, domain.StatePushed, runs.Remediations[1].FailedAt)
}

func TestRemediationService_SingleEntity(t *testing.T) {
	pub := &testutil.MockPublisher{}
	svc := NewRemediationService(pub, nil, testutil.NewTestLogger())

	outcomes, err := svc.Remediate(context.Background(), driftedResult(), "web")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "web", outcomes[0].EntityName)

	_, err = svc.Remediate(context.Background(), driftedResult(), "db")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.ErrCodeValidation))
}

func TestRemediationService_NothingToDo(t *testing.T) {
	svc := NewRemediationService(&testutil.MockPublisher{}, nil, testutil.NewTestLogger())
	res := &drift.Result{RunID: "run-2", Entities: []drift.EntityDrift{}}

	outcomes, err := svc.Remediate(context.Background(), res, "")
	assert.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestLoadReport(t *testing.T) {
	dir := t.TempDir()

	data, err := report.NewRenderer(report.DefaultOptions()).JSON(driftedResult())
	require.NoError(t, err)
	good := filepath.Join(dir, "drift-report.json")
	require.NoError(t, os.WriteFile(good, data, 0o644))

	res, err := LoadReport(good)
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Len(t, res.Entities, 4)

	_, err = LoadReport(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.IsKind(err, errors.ErrCodeManifestNotFound))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = LoadReport(bad)
	assert.True(t, errors.IsKind(err, errors.ErrCodeParse))
}
