package audit

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/pratik-mahalle/stackdrift/internal/baseline"
	"github.com/pratik-mahalle/stackdrift/internal/domain/entity"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/metrics"
)

// StaleKind classifies a cleanup finding
type StaleKind string

// Cleanup finding kinds
const (
	StaleManifest StaleKind = "compose"
	StaleEnv      StaleKind = "env"
	StaleMapping  StaleKind = "deployment_mapping"
)

// StaleFile is a file, or an entry in the deployment mapping, that no
// running entity depends on.
type StaleFile struct {
	Path     string    `json:"file_path"`
	Kind     StaleKind `json:"file_type"`
	Reason   string    `json:"reason"`
	Stack    string    `json:"stack_name"`
	Services []string  `json:"service_names,omitempty"`
}

// CleanupReport is the outcome of one cleanup audit
type CleanupReport struct {
	Timestamp        time.Time   `json:"timestamp"`
	RunningEntities  []string    `json:"running_entities"`
	DeclaredServices []string    `json:"declared_services"`
	Findings         []StaleFile `json:"findings"`
	// SkippedHosts could not be fully inspected. While any is set, findings
	// that depend on nothing running are withheld and only counted.
	SkippedHosts []string `json:"skipped_hosts,omitempty"`
	Withheld     int      `json:"withheld_findings,omitempty"`
}

// Partial reports whether some hosts were skipped.
func (r *CleanupReport) Partial() bool {
	return len(r.SkippedHosts) > 0
}

// flag adds a finding. A finding that only holds because nothing is running
// is withheld from a partial report, since the entity may run on a skipped
// host.
func (r *CleanupReport) flag(f StaleFile, needsRuntime bool) {
	if needsRuntime && r.Partial() {
		r.Withheld++
		return
	}
	r.Findings = append(r.Findings, f)
}

// Total returns the number of findings
func (r *CleanupReport) Total() int {
	return len(r.Findings)
}

// ByKind returns the findings of one kind in report order
func (r *CleanupReport) ByKind(kind StaleKind) []StaleFile {
	var out []StaleFile
	for _, f := range r.Findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// CleanupOptions configures the cleanup auditor
type CleanupOptions struct {
	// Roots are the baseline repository roots; the first one must exist.
	Roots []string
	// CheckTargets enables the stack-targets.yml check.
	CheckTargets bool
	// Strict turns findings into a failing exit status.
	Strict bool
}

// CleanupAuditor flags baseline files without a running consumer. It only
// reports and never deletes.
type CleanupAuditor struct {
	opts    CleanupOptions
	logger  *logger.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewCleanupAuditor creates a cleanup auditor. rec may be nil.
func NewCleanupAuditor(opts CleanupOptions, log *logger.Logger, rec *metrics.Recorder) *CleanupAuditor {
	return &CleanupAuditor{
		opts:    opts,
		logger:  log.WithComponent("cleanup"),
		metrics: rec,
		now:     time.Now,
	}
}

type declaredService struct {
	name          string
	containerName string
}

// Audit compares the running entity names against every stack declared in
// the repositories. skipped names the hosts whose entities are unknown.
func (a *CleanupAuditor) Audit(running, skipped []string) (*CleanupReport, error) {
	if len(a.opts.Roots) == 0 || a.opts.Roots[0] == "" {
		return nil, errors.Config("baseline repository is not configured", nil)
	}
	if !exists(a.opts.Roots[0]) {
		return nil, errors.ManifestNotFound(a.opts.Roots[0])
	}

	names := append([]string(nil), running...)
	sort.Strings(names)
	report := &CleanupReport{
		Timestamp:       a.now().UTC().Truncate(time.Second),
		RunningEntities: names,
		Findings:        []StaleFile{},
	}
	if len(skipped) > 0 {
		report.SkippedHosts = append([]string(nil), skipped...)
		sort.Strings(report.SkippedHosts)
	}
	declared := map[string]bool{}

	for i, root := range a.opts.Roots {
		if root == "" {
			continue
		}
		if i > 0 && !exists(root) {
			a.logger.Warnf("repository %s not found, skipping", root)
			continue
		}
		a.auditRoot(root, running, declared, report)
	}

	for name := range declared {
		report.DeclaredServices = append(report.DeclaredServices, name)
	}
	sort.Strings(report.DeclaredServices)

	a.record(report)
	a.logger.WithFields(map[string]interface{}{
		"running":  len(running),
		"declared": len(report.DeclaredServices),
		"findings": report.Total(),
		"withheld": report.Withheld,
		"skipped":  len(report.SkippedHosts),
	}).Info("Cleanup audit completed")

	return report, nil
}

func (a *CleanupAuditor) auditRoot(root string, running []string, declared map[string]bool, report *CleanupReport) {
	parent, dirs, err := baseline.StackDirs(root)
	if err != nil {
		a.logger.WarnWithErr(err, "failed to list stacks")
		return
	}

	for _, dir := range dirs {
		stack := filepath.Base(dir)

		for _, file := range manifestFiles(dir) {
			services, err := a.services(file)
			if err != nil || len(services) == 0 {
				continue
			}
			for _, s := range services {
				declared[s.name] = true
			}
			if !anyRunning(running, stack, services) {
				report.flag(StaleFile{
					Path:     relPath(root, file),
					Kind:     StaleManifest,
					Reason:   "no service declared in this manifest is running",
					Stack:    stack,
					Services: serviceNames(services),
				}, true)
			}
		}

		envs := envFiles(dir)
		if len(envs) == 0 {
			continue
		}
		reason := ""
		needsRuntime := false
		var names []string
		if manifest := baseline.FindManifest(dir); manifest == "" {
			reason = "stack has no manifest"
		} else if services, err := a.services(manifest); err == nil && !anyRunning(running, stack, services) {
			reason = "no service of this stack is running"
			names = serviceNames(services)
			needsRuntime = true
		}
		if reason == "" {
			continue
		}
		for _, env := range envs {
			report.flag(StaleFile{
				Path:     relPath(root, env),
				Kind:     StaleEnv,
				Reason:   reason,
				Stack:    stack,
				Services: names,
			}, needsRuntime)
		}
	}

	if a.opts.CheckTargets {
		a.auditTargets(root, parent, running, report)
	}
}

func (a *CleanupAuditor) auditTargets(root, parent string, running []string, report *CleanupReport) {
	targets, err := baseline.LoadTargets(root)
	if err != nil {
		a.logger.WarnWithErr(err, "failed to parse "+baseline.TargetsFile)
		return
	}
	for _, t := range targets {
		dir := filepath.Join(parent, t.Stack)
		if !exists(dir) {
			report.flag(StaleFile{
				Path:   baseline.TargetsFile,
				Kind:   StaleMapping,
				Reason: fmt.Sprintf("stack %q directory does not exist", t.Stack),
				Stack:  t.Stack,
			}, false)
			continue
		}
		manifest := baseline.FindManifest(dir)
		if manifest == "" {
			continue
		}
		services, err := a.services(manifest)
		if err != nil || anyRunning(running, t.Stack, services) {
			continue
		}
		report.flag(StaleFile{
			Path:     baseline.TargetsFile,
			Kind:     StaleMapping,
			Reason:   fmt.Sprintf("no service of stack %q is running", t.Stack),
			Stack:    t.Stack,
			Services: serviceNames(services),
		}, true)
	}
}

// services lists the services a manifest declares. Unparseable manifests
// are logged and skipped; the structure validator reports them.
func (a *CleanupAuditor) services(file string) ([]declaredService, error) {
	tree, err := baseline.ParseManifest(file)
	if err != nil {
		a.logger.WithFields(map[string]interface{}{"file": file}).WarnWithErr(err, "Skipping unparseable manifest")
		return nil, err
	}
	svcs := baseline.Services(tree)
	out := make([]declaredService, 0, len(svcs))
	for name, raw := range svcs {
		s := declaredService{name: name}
		if def, ok := raw.(map[string]any); ok {
			s.containerName, _ = def["container_name"].(string)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// anyRunning reports whether a running entity belongs to one of services,
// after stripping stack prefixes and replica suffixes.
func anyRunning(running []string, stack string, services []declaredService) bool {
	for _, r := range running {
		bare := entity.TrimReplica(r)
		for _, s := range services {
			if entity.MatchesService(r, stack, s.name, s.containerName) || bare == s.name {
				return true
			}
		}
	}
	return false
}

func serviceNames(services []declaredService) []string {
	out := make([]string, len(services))
	for i, s := range services {
		out[i] = s.name
	}
	return out
}

func (a *CleanupAuditor) record(r *CleanupReport) {
	if a.metrics == nil {
		return
	}
	for _, kind := range []StaleKind{StaleManifest, StaleEnv, StaleMapping} {
		a.metrics.SetAuditFindings("cleanup", string(kind), len(r.ByKind(kind)))
	}
}

// ExitError returns the status a command should exit with: nil unless
// strict mode is on and something was found.
func (a *CleanupAuditor) ExitError(r *CleanupReport) error {
	if a.opts.Strict && r.Total() > 0 {
		return errors.Findings(fmt.Sprintf("%d stale file(s) found", r.Total()))
	}
	return nil
}
