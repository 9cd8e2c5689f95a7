package services

import (
	"context"
	"fmt"
	"os"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	domain "github.com/pratik-mahalle/stackdrift/internal/domain/remediation"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/report"
)

// RemediationService publishes pull requests for drifted entities and
// records every attempt
type RemediationService struct {
	publisher ResultPublisher
	history   RunRecorder
	logger    *logger.Logger
}

// NewRemediationService creates a new remediation service. runs may be nil.
func NewRemediationService(publisher ResultPublisher, runs RunRecorder, log *logger.Logger) *RemediationService {
	return &RemediationService{
		publisher: publisher,
		history:   runs,
		logger:    log.WithComponent("remediation"),
	}
}

// LoadReport reads a JSON report written by a previous detection run.
func LoadReport(path string) (*drift.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ManifestNotFound(path)
		}
		return nil, errors.Internal(fmt.Sprintf("failed to read report %s", path), err)
	}
	res, err := report.ParseJSON(data)
	if err != nil {
		return nil, errors.ParseError(path, 0, err)
	}
	return res, nil
}

// Remediate publishes one pull request per drifted, matched entity of res.
// only restricts the run to a single entity. Outcomes are returned even
// when some of them failed; the error then summarizes the failures.
func (s *RemediationService) Remediate(ctx context.Context, res *drift.Result, only string) ([]domain.Outcome, error) {
	outcomes := s.publisher.PublishResult(ctx, res, only)

	if len(outcomes) == 0 {
		if only != "" {
			return nil, errors.ValidationError(fmt.Sprintf("entity %q has no remediable drift", only), nil)
		}
		s.logger.Info("Nothing to remediate")
		return nil, nil
	}

	failed := 0
	for _, out := range outcomes {
		if out.State == domain.StateFailed {
			failed++
		}
		if s.history != nil {
			if _, err := s.history.RecordRemediation(ctx, res.RunID, out); err != nil {
				s.logger.WarnWithErr(err, "Failed to record remediation")
			}
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"run_id":    res.RunID,
		"attempted": len(outcomes),
		"failed":    failed,
	}).Info("Remediation finished")

	if failed > 0 {
		return outcomes, fmt.Errorf("%d of %d remediations failed", failed, len(outcomes))
	}
	return outcomes, nil
}
