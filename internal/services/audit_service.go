package services

import (
	"context"
	"fmt"

	"github.com/pratik-mahalle/stackdrift/internal/audit"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/report"
)

// AuditService runs the repository hygiene checks and stores their reports
type AuditService struct {
	runtime   RuntimeSource
	cleanup   *audit.CleanupAuditor
	structure *audit.StructureValidator
	writer    ArtifactWriter
	logger    *logger.Logger
}

// NewAuditService creates an audit service. writer may be nil.
func NewAuditService(
	runtime RuntimeSource,
	cleanup *audit.CleanupAuditor,
	structure *audit.StructureValidator,
	writer ArtifactWriter,
	log *logger.Logger,
) *AuditService {
	return &AuditService{
		runtime:   runtime,
		cleanup:   cleanup,
		structure: structure,
		writer:    writer,
		logger:    log.WithComponent("audit"),
	}
}

// Cleanup lists what is running on hosts and reports baseline files no
// running entity uses. Unreachable hosts are tolerated as long as one
// answered; they are named in the report and findings that could concern
// them are withheld.
func (s *AuditService) Cleanup(ctx context.Context, hosts []string) (*audit.CleanupReport, []report.Artifact, error) {
	inv, err := s.runtime.InspectHosts(ctx, hosts)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range inv.Failures {
		s.logger.WithFields(map[string]interface{}{"host": f.Host}).WarnWithErr(f.Err, "Host skipped, stale findings for its services are withheld")
	}

	rep, err := s.cleanup.Audit(inv.Names(), inv.Incomplete())
	if err != nil {
		return nil, nil, err
	}
	artifacts, err := s.store(ctx, "cleanup-report", rep.Timestamp.Format("20060102-150405"), rep, rep.Markdown())
	return rep, artifacts, err
}

// Validate checks every manifest against the structure rules.
func (s *AuditService) Validate(ctx context.Context) (*audit.ValidationReport, []report.Artifact, error) {
	rep, err := s.structure.Validate()
	if err != nil {
		return nil, nil, err
	}
	artifacts, err := s.store(ctx, "validation-report", rep.Timestamp.Format("20060102-150405"), rep, rep.Markdown())
	return rep, artifacts, err
}

// CleanupExit maps a cleanup report to the process status.
func (s *AuditService) CleanupExit(rep *audit.CleanupReport) error {
	return s.cleanup.ExitError(rep)
}

// ValidateExit maps a validation report to the process status.
func (s *AuditService) ValidateExit(rep *audit.ValidationReport) error {
	return s.structure.ExitError(rep)
}

func (s *AuditService) store(ctx context.Context, base, stamp string, v any, markdown string) ([]report.Artifact, error) {
	if s.writer == nil {
		return nil, nil
	}
	data, err := audit.JSON(v)
	if err != nil {
		return nil, err
	}
	var artifacts []report.Artifact
	a, err := s.writer.Put(ctx, fmt.Sprintf("%s-%s.json", base, stamp), data, report.ContentTypeJSON)
	if err != nil {
		return artifacts, err
	}
	artifacts = append(artifacts, a)
	a, err = s.writer.Put(ctx, fmt.Sprintf("%s-%s.md", base, stamp), []byte(markdown), report.ContentTypeMarkdown)
	if err != nil {
		return artifacts, err
	}
	return append(artifacts, a), nil
}
