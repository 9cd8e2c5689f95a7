package audit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pratik-mahalle/stackdrift/internal/baseline"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/metrics"
	"github.com/pratik-mahalle/stackdrift/internal/rules"
)

// Level is the severity of a structure violation
type Level string

// Violation levels
const (
	LevelError   Level = "ERROR"
	LevelWarning Level = "WARNING"
	LevelInfo    Level = "INFO"
)

// Structure rules
const (
	RuleYAMLSyntax         = "yaml-syntax"
	RuleFileRead           = "file-read"
	RulePinnedTags         = "pinned-tags"
	RuleComposeV2          = "compose-v2-syntax"
	RuleEnvSample          = "env-sample"
	RuleTraefikEnable      = "traefik-enable"
	RuleTraefikConventions = "traefik-conventions"
	RuleExternalProxy      = "external-proxy-network"
)

// DefaultProxyNetwork is the shared ingress network services attach to.
const DefaultProxyNetwork = "proxy"

// Issue is one convention violation
type Issue struct {
	Level      Level  `json:"severity"`
	File       string `json:"file_path"`
	Rule       string `json:"rule"`
	Message    string `json:"message"`
	Line       int    `json:"line_number,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidationReport is the outcome of one structure validation
type ValidationReport struct {
	Timestamp    time.Time `json:"timestamp"`
	FilesChecked int       `json:"total_files_checked"`
	Issues       []Issue   `json:"issues"`
	Errors       int       `json:"errors"`
	Warnings     int       `json:"warnings"`
	Info         int       `json:"info"`
	// Passed is true when there are no ERROR level issues.
	Passed bool `json:"passed"`
}

// ByLevel returns the issues of one level in report order
func (r *ValidationReport) ByLevel(level Level) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Level == level {
			out = append(out, i)
		}
	}
	return out
}

// StructureOptions configures the structure validator
type StructureOptions struct {
	Roots []string
	// ProxyNetwork defaults to DefaultProxyNetwork.
	ProxyNetwork string
	// Strict also fails on warnings.
	Strict bool
}

// StructureValidator checks manifests against repository conventions
type StructureValidator struct {
	opts    StructureOptions
	rules   *rules.RuleSet
	logger  *logger.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewStructureValidator creates a validator. A nil rule set means the
// built-in defaults; rec may be nil.
func NewStructureValidator(opts StructureOptions, rs *rules.RuleSet, log *logger.Logger, rec *metrics.Recorder) *StructureValidator {
	if opts.ProxyNetwork == "" {
		opts.ProxyNetwork = DefaultProxyNetwork
	}
	if rs == nil {
		rs = rules.Default()
	}
	return &StructureValidator{
		opts:    opts,
		rules:   rs,
		logger:  log.WithComponent("structure"),
		metrics: rec,
		now:     time.Now,
	}
}

// Validate checks every stack of every configured repository.
func (v *StructureValidator) Validate() (*ValidationReport, error) {
	if len(v.opts.Roots) == 0 || v.opts.Roots[0] == "" {
		return nil, errors.Config("baseline repository is not configured", nil)
	}
	if !exists(v.opts.Roots[0]) {
		return nil, errors.ManifestNotFound(v.opts.Roots[0])
	}

	report := &ValidationReport{
		Timestamp: v.now().UTC().Truncate(time.Second),
		Issues:    []Issue{},
	}
	for i, root := range v.opts.Roots {
		if root == "" || (i > 0 && !exists(root)) {
			continue
		}
		_, dirs, err := baseline.StackDirs(root)
		if err != nil {
			v.logger.WarnWithErr(err, "failed to list stacks")
			continue
		}
		for _, dir := range dirs {
			for _, file := range manifestFiles(dir) {
				report.FilesChecked++
				report.Issues = append(report.Issues, v.checkManifest(root, file)...)
			}
			report.Issues = append(report.Issues, v.checkEnvSample(root, dir)...)
		}
	}

	for _, i := range report.Issues {
		switch i.Level {
		case LevelError:
			report.Errors++
		case LevelWarning:
			report.Warnings++
		default:
			report.Info++
		}
	}
	report.Passed = report.Errors == 0

	if v.metrics != nil {
		v.metrics.SetAuditFindings("structure", string(LevelError), report.Errors)
		v.metrics.SetAuditFindings("structure", string(LevelWarning), report.Warnings)
		v.metrics.SetAuditFindings("structure", string(LevelInfo), report.Info)
	}
	v.logger.WithFields(map[string]interface{}{
		"files":    report.FilesChecked,
		"errors":   report.Errors,
		"warnings": report.Warnings,
		"info":     report.Info,
	}).Info("Structure validation completed")

	return report, nil
}

// ExitError returns nil when the report passes; strict mode also fails on
// warnings.
func (v *StructureValidator) ExitError(r *ValidationReport) error {
	if r.Errors > 0 {
		return errors.Findings(fmt.Sprintf("%d structure error(s) found", r.Errors))
	}
	if v.opts.Strict && r.Warnings > 0 {
		return errors.Findings(fmt.Sprintf("%d structure warning(s) found", r.Warnings))
	}
	return nil
}

// level applies the rule set's override for rule, if any.
func (v *StructureValidator) level(rule string, def Level) Level {
	if l, ok := v.rules.StructureSeverity[rule]; ok {
		return Level(strings.ToUpper(l))
	}
	return def
}

func (v *StructureValidator) issue(rule string, def Level, file string, line int, msg, fix string) Issue {
	return Issue{
		Level:      v.level(rule, def),
		File:       file,
		Rule:       rule,
		Message:    msg,
		Line:       line,
		Suggestion: fix,
	}
}

func (v *StructureValidator) checkManifest(root, path string) []Issue {
	rel := relPath(root, path)
	data, err := os.ReadFile(path)
	if err != nil {
		return []Issue{v.issue(RuleFileRead, LevelError, rel, 0, fmt.Sprintf("failed to read file: %v", err), "")}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		line := 0
		if _, perr := baseline.DecodeManifest(path, data); perr != nil {
			if appErr, ok := errors.As(perr); ok {
				line = appErr.Location().Line
			}
		}
		return []Issue{v.issue(RuleYAMLSyntax, LevelError, rel, line, fmt.Sprintf("invalid YAML syntax: %v", err), "")}
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return []Issue{v.issue(RuleYAMLSyntax, LevelError, rel, 1, "top level must be a mapping", "")}
	}
	top := doc.Content[0]

	var issues []Issue
	if key, _ := lookup(top, "version"); key != nil {
		issues = append(issues, v.issue(RuleComposeV2, LevelWarning, rel, key.Line,
			"manifest contains the obsolete 'version' field",
			"remove the 'version' field, it is ignored by Compose v2"))
	}

	if _, nets := lookup(top, "networks"); nets != nil {
		if key, proxy := lookup(nets, v.opts.ProxyNetwork); key != nil && !isExternal(proxy) {
			issues = append(issues, v.issue(RuleExternalProxy, LevelError, rel, key.Line,
				fmt.Sprintf("'%s' network should be external", v.opts.ProxyNetwork),
				fmt.Sprintf("add 'external: true' to the %s network definition", v.opts.ProxyNetwork)))
		}
	}

	if _, services := lookup(top, "services"); services != nil && services.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(services.Content); i += 2 {
			issues = append(issues, v.checkService(rel, services.Content[i].Value, services.Content[i+1])...)
		}
	}
	return issues
}

func (v *StructureValidator) checkService(file, name string, svc *yaml.Node) []Issue {
	if svc.Kind != yaml.MappingNode {
		return nil
	}
	var issues []Issue

	if _, img := lookup(svc, "image"); img != nil && img.Kind == yaml.ScalarNode {
		if msg, fix := unpinned(name, img.Value); msg != "" {
			issues = append(issues, v.issue(RulePinnedTags, LevelError, file, img.Line, msg, fix))
		}
	}

	labelKey, labelNode := lookup(svc, "labels")
	if labelNode == nil {
		return issues
	}
	var raw any
	if err := labelNode.Decode(&raw); err != nil {
		return issues
	}
	labels := baseline.KeyValues(raw)
	traefik := false
	routers := map[string]bool{}
	for k := range labels {
		if !strings.HasPrefix(k, "traefik.") {
			continue
		}
		traefik = true
		if rest, ok := strings.CutPrefix(k, "traefik.http.routers."); ok {
			if router, _, found := strings.Cut(rest, "."); found {
				routers[router] = true
			}
		}
	}
	if !traefik {
		return issues
	}

	for _, router := range sortedKeys(routers) {
		if router != name && !strings.HasPrefix(router, name) {
			issues = append(issues, v.issue(RuleTraefikConventions, LevelInfo, file, labelKey.Line,
				fmt.Sprintf("service '%s' router name '%s' does not match the service name", name, router),
				fmt.Sprintf("consider using '%s' as the router name", name)))
		}
	}

	enable, hasEnable := labels["traefik.enable"]
	if !hasEnable {
		issues = append(issues, v.issue(RuleTraefikEnable, LevelWarning, file, labelKey.Line,
			fmt.Sprintf("service '%s' has Traefik labels but no 'traefik.enable' label", name),
			"add 'traefik.enable: true'"))
	}
	if hasEnable && strings.EqualFold(enable, "false") {
		return issues
	}
	if _, mode := lookup(svc, "network_mode"); mode != nil {
		return issues
	}
	if !onNetwork(svc, v.opts.ProxyNetwork) {
		issues = append(issues, v.issue(RuleExternalProxy, LevelWarning, file, labelKey.Line,
			fmt.Sprintf("service '%s' is routed by Traefik but not attached to the '%s' network", name, v.opts.ProxyNetwork),
			fmt.Sprintf("add '%s' to the service networks", v.opts.ProxyNetwork)))
	}
	return issues
}

func (v *StructureValidator) checkEnvSample(root, dir string) []Issue {
	if baseline.FindManifest(dir) == "" {
		return nil
	}
	for name := range sampleEnvNames {
		if exists(filepath.Join(dir, name)) {
			return nil
		}
	}
	return []Issue{v.issue(RuleEnvSample, LevelWarning, relPath(root, dir), 0,
		fmt.Sprintf("stack '%s' has no .env.sample file", filepath.Base(dir)),
		"create .env.sample with example values for every variable")}
}

// unpinned returns a message when image has no explicit tag or digest, or
// uses "latest". Interpolated references are resolved at deploy time and
// are not checked.
func unpinned(service, image string) (string, string) {
	if image == "" || strings.Contains(image, "$") {
		return "", ""
	}
	ref := rules.ParseImage(image)
	if ref.Digest != "" {
		return "", ""
	}
	last := image[strings.LastIndex(image, "/")+1:]
	if !strings.Contains(last, ":") {
		return fmt.Sprintf("service '%s' uses untagged image %s", service, image),
			fmt.Sprintf("add a specific version tag, e.g. %s:1.0.0", image)
	}
	if ref.Tag == "latest" {
		return fmt.Sprintf("service '%s' uses the latest tag: %s", service, image),
			"pin to a specific version instead of latest"
	}
	return "", ""
}

// lookup returns the key and value nodes of a mapping entry.
func lookup(m *yaml.Node, key string) (*yaml.Node, *yaml.Node) {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i], m.Content[i+1]
		}
	}
	return nil, nil
}

func isExternal(def *yaml.Node) bool {
	_, ext := lookup(def, "external")
	if ext == nil {
		return false
	}
	if ext.Kind == yaml.MappingNode {
		return true
	}
	return ext.Value == "true"
}

func onNetwork(svc *yaml.Node, network string) bool {
	_, nets := lookup(svc, "networks")
	if nets == nil {
		return false
	}
	switch nets.Kind {
	case yaml.SequenceNode:
		for _, n := range nets.Content {
			if n.Value == network {
				return true
			}
		}
	case yaml.MappingNode:
		key, _ := lookup(nets, network)
		return key != nil
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
