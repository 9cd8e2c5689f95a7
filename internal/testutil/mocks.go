package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/pratik-mahalle/stackdrift/internal/baseline"
	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	"github.com/pratik-mahalle/stackdrift/internal/domain/remediation"
	"github.com/pratik-mahalle/stackdrift/internal/history"
	"github.com/pratik-mahalle/stackdrift/internal/inspector"
)

// MockRuntimeSource returns a canned inventory
type MockRuntimeSource struct {
	Inventory *inspector.Inventory
	Err       error
	Calls     [][]string
}

func (m *MockRuntimeSource) InspectHosts(ctx context.Context, hosts []string) (*inspector.Inventory, error) {
	m.Calls = append(m.Calls, hosts)
	if m.Err != nil {
		return m.Inventory, m.Err
	}
	if m.Inventory == nil {
		return &inspector.Inventory{}, nil
	}
	return m.Inventory, nil
}

// MockBaselineSource returns a canned load result
type MockBaselineSource struct {
	Result *baseline.LoadResult
	Err    error
}

func (m *MockBaselineSource) Load() (*baseline.LoadResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result == nil {
		return &baseline.LoadResult{}, nil
	}
	return m.Result, nil
}

// MockRunRecorder keeps recorded runs in memory
type MockRunRecorder struct {
	mu           sync.Mutex
	Runs         []history.Run
	Remediations []history.Remediation
	RecordError  error
}

func NewMockRunRecorder() *MockRunRecorder {
	return &MockRunRecorder{}
}

func (m *MockRunRecorder) Record(ctx context.Context, run history.Run) error {
	if m.RecordError != nil {
		return m.RecordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Runs = append(m.Runs, run)
	return nil
}

func (m *MockRunRecorder) RecordRemediation(ctx context.Context, runID string, out remediation.Outcome) (*history.Remediation, error) {
	if m.RecordError != nil {
		return nil, m.RecordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := history.Remediation{
		ID:      fmt.Sprintf("rem-%d", len(m.Remediations)+1),
		RunID:   runID,
		Outcome: out,
	}
	m.Remediations = append(m.Remediations, rec)
	return &rec, nil
}

// MockPublisher answers every drifted entity with a fixed state
type MockPublisher struct {
	// Fail lists entity names whose publish fails.
	Fail  map[string]bool
	Calls []string
}

func (m *MockPublisher) PublishResult(ctx context.Context, res *drift.Result, only string) []remediation.Outcome {
	var out []remediation.Outcome
	for _, e := range res.Entities {
		if only != "" && e.EntityName != only {
			continue
		}
		if !e.Matched || len(e.Items) == 0 {
			continue
		}
		m.Calls = append(m.Calls, e.EntityName)
		o := remediation.Outcome{EntityName: e.EntityName, State: remediation.StateDone}
		if m.Fail[e.EntityName] {
			o.State = remediation.StateFailed
			o.FailedAt = remediation.StatePushed
			o.Error = "PUBLISH_ERROR: create pull request: 422"
		}
		out = append(out, o)
	}
	return out
}
