package remediation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	"github.com/pratik-mahalle/stackdrift/internal/report"
)

const bodyValueLimit = 120

var urlCredentials = regexp.MustCompile(`([A-Za-z][A-Za-z0-9+.-]*://)[^/@\s]+@`)

// Redactor masks values that must not appear in published text
type Redactor struct {
	Sensitive func(fieldPath string) bool
}

// Value renders one value for publication.
func (r Redactor) Value(fieldPath string, v any) string {
	if v == nil {
		return "*[not set]*"
	}
	if r.Sensitive != nil && r.Sensitive(fieldPath) {
		return report.Code(report.Redacted)
	}
	s := urlCredentials.ReplaceAllString(report.FormatValue(v), "${1}***@")
	return report.Code(report.Truncate(s, bodyValueLimit))
}

// Title is the review request title for an entity.
func Title(service string) string {
	return fmt.Sprintf("fix(%s): sync config with running state", scopeName(service))
}

// CommitMessage builds a conventional commit message naming the fields
// and the highest severity being fixed.
func CommitMessage(service string, items []drift.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "fix(%s): sync %s with running state\n\n", scopeName(service), fieldSummary(items))
	for _, it := range items {
		fmt.Fprintf(&b, "- %s (%s)\n", it.FieldPath, it.Severity)
	}
	if top := highest(items); top != "" {
		fmt.Fprintf(&b, "\nSeverity: %s\n", top)
	}
	return b.String()
}

// BodyInput is what a review request description is built from
type BodyInput struct {
	EntityName string
	Service    string
	Stack      string
	Host       string
	FilePath   string
	ReportPath string
	Items      []drift.Item
	Warnings   []string
	Labels     []string
	Generated  time.Time
}

// Body renders the review request description. Every value passes through
// the redactor first.
func (r Redactor) Body(in BodyInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Drift Remediation: %s\n\n", report.EscapeText(in.EntityName))
	if in.Stack != "" {
		fmt.Fprintf(&b, "**Stack**: %s  \n", report.EscapeText(in.Stack))
	}
	if in.Host != "" {
		fmt.Fprintf(&b, "**Host**: %s  \n", report.EscapeText(in.Host))
	}
	fmt.Fprintf(&b, "**Manifest**: %s  \n", report.Code(in.FilePath))
	fmt.Fprintf(&b, "**Generated**: %s\n\n", in.Generated.UTC().Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "Updates the baseline of %s to match the running state, remediating %d drift item(s).\n\n",
		report.Code(in.Service), len(in.Items))

	b.WriteString("| Field | Severity | Baseline | Running |\n")
	b.WriteString("|-------|----------|----------|---------|\n")
	for _, it := range in.Items {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			report.Code(it.FieldPath),
			it.Severity,
			escapeCell(r.Value(it.FieldPath, it.BaselineValue)),
			escapeCell(r.Value(it.FieldPath, it.RuntimeValue)),
		)
	}
	b.WriteString("\n")

	if len(in.Warnings) > 0 {
		b.WriteString("## Needs Manual Attention\n\n")
		for _, w := range in.Warnings {
			fmt.Fprintf(&b, "- %s\n", report.EscapeText(w))
		}
		b.WriteString("\n")
	}

	if in.ReportPath != "" {
		b.WriteString("## Drift Report\n\n")
		fmt.Fprintf(&b, "Full analysis: %s\n\n", report.Code(in.ReportPath))
	}

	b.WriteString("## Review Checklist\n\n")
	b.WriteString("- [ ] Running configuration is correct and intentional\n")
	b.WriteString("- [ ] Changes align with deployment standards\n")
	b.WriteString("- [ ] No sensitive data exposed in configuration\n")
	b.WriteString("- [ ] Documentation updated if needed\n\n")

	b.WriteString("---\n*Generated by stackdrift. This change is never merged automatically.*\n")
	if len(in.Labels) > 0 {
		labels := make([]string, len(in.Labels))
		for i, l := range in.Labels {
			labels[i] = report.Code(l)
		}
		fmt.Fprintf(&b, "**Labels**: %s\n", strings.Join(labels, ", "))
	}
	return b.String()
}

// escapeCell keeps pipes inside code spans from splitting table cells.
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func fieldSummary(items []drift.Item) string {
	switch len(items) {
	case 0:
		return "config"
	case 1:
		return items[0].FieldPath
	}
	return fmt.Sprintf("%d fields", len(items))
}

func highest(items []drift.Item) drift.Severity {
	return drift.EntityDrift{Items: items}.HighestSeverity()
}

func scopeName(service string) string {
	s := sanitizeSegment(service)
	if s == "" {
		return "stack"
	}
	return s
}
