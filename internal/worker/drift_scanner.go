package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/services"
)

// Detector runs one detection pass over a set of hosts
type Detector interface {
	Detect(ctx context.Context, hosts []string) (*services.Detection, error)
}

// ResultHandler is called after every successful scan
type ResultHandler func(ctx context.Context, det *services.Detection)

// ScanStatus describes the most recent scan
type ScanStatus struct {
	LastRun             time.Time `json:"last_run"`
	LastRunID           string    `json:"last_run_id,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	Scans               int       `json:"scans"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// DriftScanner runs drift detection on a cron schedule
type DriftScanner struct {
	detector Detector
	hosts    []string
	schedule cron.Schedule
	spec     string
	onResult ResultHandler
	logger   *logger.Logger

	mu     sync.Mutex
	status ScanStatus
}

// NewDriftScanner creates a scanner. schedule is a standard five-field cron
// expression or a descriptor such as "@hourly" or "@every 30m".
func NewDriftScanner(det Detector, hosts []string, schedule string, log *logger.Logger) (*DriftScanner, error) {
	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule: %w", err)
	}
	return &DriftScanner{
		detector: det,
		hosts:    hosts,
		schedule: parsed,
		spec:     schedule,
		logger:   log.WithComponent("watch"),
	}, nil
}

// OnResult registers a handler for finished scans.
func (s *DriftScanner) OnResult(h ResultHandler) {
	s.onResult = h
}

// Next returns the first scheduled run after t.
func (s *DriftScanner) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Status returns a copy of the current scan status.
func (s *DriftScanner) Status() ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run scans once immediately, then on every tick of the schedule until ctx
// is cancelled. A scan still in progress when a tick fires is not overlapped.
func (s *DriftScanner) Run(ctx context.Context) error {
	s.logger.WithFields(map[string]interface{}{
		"schedule": s.spec,
		"hosts":    len(s.hosts),
	}).Info("Starting drift scanner")

	// Run initial scan
	s.Scan(ctx)
	if ctx.Err() != nil {
		return nil
	}

	c := cron.New(
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.Scan(ctx) }))
	c.Start()

	s.logger.WithFields(map[string]interface{}{
		"next_run": s.Next(time.Now()).Format(time.RFC3339),
	}).Info("Drift scanner scheduled")

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Drift scanner stopped")
	return nil
}

// Scan performs one detection pass and records its outcome.
func (s *DriftScanner) Scan(ctx context.Context) {
	started := time.Now()
	det, err := s.detector.Detect(ctx, s.hosts)

	s.mu.Lock()
	s.status.LastRun = started
	s.status.Scans++
	if err != nil {
		s.status.ConsecutiveFailures++
		s.status.LastError = err.Error()
	} else {
		s.status.ConsecutiveFailures = 0
		s.status.LastError = ""
		s.status.LastRunID = det.Result.RunID
	}
	failures := s.status.ConsecutiveFailures
	s.mu.Unlock()

	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"consecutive_failures": failures,
		}).ErrorWithErr(err, "Scheduled detection failed")
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"run_id":              det.Result.RunID,
		"entities_with_drift": det.Result.EntitiesWithDrift,
		"duration":            time.Since(started).String(),
	}).Info("Scheduled detection finished")

	if s.onResult != nil {
		s.onResult(ctx, det)
	}
}

// cronLogger forwards scheduler messages to the application logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairs(keysAndValues)).ErrorWithErr(err, msg)
}

func pairs(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
