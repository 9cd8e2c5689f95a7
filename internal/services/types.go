package services

import (
	"context"

	"github.com/pratik-mahalle/stackdrift/internal/baseline"
	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	domain "github.com/pratik-mahalle/stackdrift/internal/domain/remediation"
	"github.com/pratik-mahalle/stackdrift/internal/history"
	"github.com/pratik-mahalle/stackdrift/internal/inspector"
	"github.com/pratik-mahalle/stackdrift/internal/report"
)

// RuntimeSource collects running entities from hosts
type RuntimeSource interface {
	InspectHosts(ctx context.Context, hosts []string) (*inspector.Inventory, error)
}

// BaselineSource loads declared entities from repositories
type BaselineSource interface {
	Load() (*baseline.LoadResult, error)
}

// ArtifactWriter stores rendered documents
type ArtifactWriter interface {
	Write(ctx context.Context, res *drift.Result) ([]report.Artifact, error)
	Put(ctx context.Context, name string, data []byte, contentType string) (report.Artifact, error)
}

// RunRecorder keeps the run history
type RunRecorder interface {
	Record(ctx context.Context, run history.Run) error
	RecordRemediation(ctx context.Context, runID string, out domain.Outcome) (*history.Remediation, error)
}

// ResultPublisher opens remediation pull requests for a detection result
type ResultPublisher interface {
	PublishResult(ctx context.Context, res *drift.Result, only string) []domain.Outcome
}
