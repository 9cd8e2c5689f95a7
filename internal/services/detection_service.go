package services

import (
	"context"
	"fmt"
	"time"

	"github.com/pratik-mahalle/stackdrift/internal/detector"
	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	"github.com/pratik-mahalle/stackdrift/internal/history"
	"github.com/pratik-mahalle/stackdrift/internal/inspector"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/metrics"
	"github.com/pratik-mahalle/stackdrift/internal/report"
)

// Failure kinds that have no error code of their own
const (
	FailureKindHost     = "host"
	FailureKindEntity   = "entity"
	FailureKindManifest = "manifest"
)

// Detection is the outcome of one detection run
type Detection struct {
	Result    *drift.Result     `json:"result"`
	Artifacts []report.Artifact `json:"artifacts,omitempty"`
}

// ReportPath returns the first locally written artifact, if any.
func (d *Detection) ReportPath() string {
	for _, a := range d.Artifacts {
		if a.ContentType == report.ContentTypeJSON {
			return a.Path
		}
	}
	if len(d.Artifacts) > 0 {
		return d.Artifacts[0].Path
	}
	return ""
}

// DetectionService runs inspect, load, compare and report as one pass
type DetectionService struct {
	runtime  RuntimeSource
	baseline BaselineSource
	detector *detector.DriftDetector
	writer   ArtifactWriter
	history  RunRecorder
	logger   *logger.Logger
	metrics  *metrics.Recorder
	now      func() time.Time
}

// NewDetectionService creates a detection service. writer, runs and rec
// are optional.
func NewDetectionService(
	runtime RuntimeSource,
	baseline BaselineSource,
	det *detector.DriftDetector,
	writer ArtifactWriter,
	runs RunRecorder,
	log *logger.Logger,
	rec *metrics.Recorder,
) *DetectionService {
	return &DetectionService{
		runtime:  runtime,
		baseline: baseline,
		detector: det,
		writer:   writer,
		history:  runs,
		logger:   log.WithComponent("detection"),
		metrics:  rec,
		now:      time.Now,
	}
}

// Detect inspects hosts, loads baselines and compares them. Unreachable
// hosts, containers that could not be inspected and stacks that failed to
// load are attached to the result as failures. Only all hosts failing or a
// missing repository aborts the run.
func (s *DetectionService) Detect(ctx context.Context, hosts []string) (*Detection, error) {
	started := s.now()

	inv, err := s.runtime.InspectHosts(ctx, hosts)
	if err != nil {
		return nil, err
	}
	loaded, err := s.baseline.Load()
	if err != nil {
		return nil, err
	}

	in := detector.NewInput(inv.Entities(), loaded.Entities)
	in.Hosts = hosts
	in.Failures = collectFailures(inv, loaded.Errors)
	in.IncompleteHosts = inv.Incomplete()

	res := s.detector.Compare(in)
	out := &Detection{Result: res}

	if s.writer != nil {
		artifacts, err := s.writer.Write(ctx, res)
		out.Artifacts = artifacts
		if err != nil {
			return out, errors.Internal("failed to write report", err)
		}
	}

	if s.history != nil {
		if err := s.history.Record(ctx, history.RunFromResult(res, out.ReportPath())); err != nil {
			s.logger.WarnWithErr(err, "Failed to record run history")
		}
	}

	if s.metrics != nil {
		s.metrics.RecordDetection(metrics.DriftSummary{
			EntitiesAnalyzed:  res.EntitiesAnalyzed,
			EntitiesWithDrift: res.EntitiesWithDrift,
			BySeverity:        res.SeveritySummary.Map(),
			Duration:          s.now().Sub(started),
			Finished:          s.now(),
		})
	}

	s.logger.WithFields(map[string]interface{}{
		"run_id":              res.RunID,
		"hosts":               len(hosts),
		"entities_analyzed":   res.EntitiesAnalyzed,
		"entities_with_drift": res.EntitiesWithDrift,
		"breaking":            res.SeveritySummary.Breaking,
		"failures":            len(res.Failures),
		"unverified":          len(res.Unverified),
	}).Info("Detection finished")

	return out, nil
}

// ExitError turns a result with drift into a findings status.
func ExitError(res *drift.Result) error {
	if res == nil || res.EntitiesWithDrift == 0 {
		return nil
	}
	return errors.Findings(fmt.Sprintf("drift detected in %d of %d entities", res.EntitiesWithDrift, res.EntitiesAnalyzed))
}

func collectFailures(inv *inspector.Inventory, loadErrs []error) []drift.Failure {
	var out []drift.Failure
	for _, f := range inv.Failures {
		out = append(out, failure(f.Err, FailureKindHost, f.Host))
	}
	for _, h := range inv.Hosts {
		for _, f := range h.Failures {
			out = append(out, failure(f.Err, FailureKindEntity, h.Host+"/"+shortID(f.ID)))
		}
	}
	for _, err := range loadErrs {
		source := ""
		if appErr, ok := errors.As(err); ok {
			source = appErr.Location().File
		}
		out = append(out, failure(err, FailureKindManifest, source))
	}
	return out
}

func failure(err error, fallbackKind, source string) drift.Failure {
	kind := errors.Kind(err)
	if kind == "" {
		kind = fallbackKind
	}
	return drift.Failure{Kind: kind, Source: source, Message: err.Error()}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
