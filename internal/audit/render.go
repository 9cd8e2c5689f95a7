package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pratik-mahalle/stackdrift/internal/report"
)

// JSON renders either audit report as indented JSON.
func JSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode audit report: %w", err)
	}
	return buf.Bytes(), nil
}

// Markdown renders the cleanup report for human review.
func (r *CleanupReport) Markdown() string {
	var b strings.Builder
	b.WriteString("# Repository Cleanup Report\n\n")
	fmt.Fprintf(&b, "**Generated**: %s  \n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Total Stale Files**: %d\n", r.Total())
	if r.Partial() {
		fmt.Fprintf(&b, "**Skipped Hosts**: %s\n", report.EscapeText(strings.Join(r.SkippedHosts, ", ")))
	}
	b.WriteString("\n")
	if r.Partial() {
		fmt.Fprintf(&b, "> ⚠️ Some hosts could not be inspected. %d findings withheld because their services may run there.\n\n", r.Withheld)
	}

	manifests, envs, mappings := r.ByKind(StaleManifest), r.ByKind(StaleEnv), r.ByKind(StaleMapping)

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Running entities: %d\n", len(r.RunningEntities))
	fmt.Fprintf(&b, "- Declared services: %d\n", len(r.DeclaredServices))
	fmt.Fprintf(&b, "- Stale manifests: %d\n", len(manifests))
	fmt.Fprintf(&b, "- Stale environment files: %d\n", len(envs))
	fmt.Fprintf(&b, "- Deployment mapping issues: %d\n\n", len(mappings))

	if r.Total() == 0 {
		b.WriteString("✅ **No stale files detected.** The repository is clean.\n\n")
		b.WriteString("---\n*Generated by stackdrift*\n")
		return b.String()
	}

	if len(manifests) > 0 {
		b.WriteString("## Stale Manifests\n\n")
		b.WriteString("No service declared in these manifests is running:\n\n")
		for _, f := range manifests {
			fmt.Fprintf(&b, "### %s\n\n", report.Code(f.Path))
			fmt.Fprintf(&b, "- **Stack**: %s\n", report.EscapeText(f.Stack))
			fmt.Fprintf(&b, "- **Services**: %s\n", report.EscapeText(strings.Join(f.Services, ", ")))
			fmt.Fprintf(&b, "- **Reason**: %s\n\n", report.EscapeText(f.Reason))
		}
	}

	if len(envs) > 0 {
		b.WriteString("## Stale Environment Files\n\n")
		for _, f := range envs {
			fmt.Fprintf(&b, "- %s (%s): %s\n", report.Code(f.Path), report.EscapeText(f.Stack), report.EscapeText(f.Reason))
		}
		b.WriteString("\n")
	}

	if len(mappings) > 0 {
		fmt.Fprintf(&b, "## Deployment Mapping Issues\n\nEntries in %s:\n\n", report.Code("stack-targets.yml"))
		for _, f := range mappings {
			fmt.Fprintf(&b, "- **%s**: %s\n", report.EscapeText(f.Stack), report.EscapeText(f.Reason))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recommendations\n\n")
	b.WriteString("1. Review each stale file manually\n")
	b.WriteString("2. Confirm the services are decommissioned on every host\n")
	b.WriteString("3. Check whether the files are needed for another target\n")
	b.WriteString("4. Remove confirmed files in a reviewed change\n\n")
	b.WriteString("---\n*Generated by stackdrift*\n")
	return b.String()
}

var levelHeadings = []struct {
	level Level
	title string
	intro string
}{
	{LevelError, "❌ Errors", "These must be fixed before merge:"},
	{LevelWarning, "⚠️ Warnings", "These should be fixed:"},
	{LevelInfo, "ℹ️ Info", "Optional improvements:"},
}

// Markdown renders the validation report for human review.
func (r *ValidationReport) Markdown() string {
	var b strings.Builder
	b.WriteString("# Repository Structure Validation Report\n\n")
	fmt.Fprintf(&b, "**Generated**: %s  \n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Files Checked**: %d  \n", r.FilesChecked)
	fmt.Fprintf(&b, "**Total Issues**: %d\n\n", len(r.Issues))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Errors: %d (must fix)\n", r.Errors)
	fmt.Fprintf(&b, "- Warnings: %d (should fix)\n", r.Warnings)
	fmt.Fprintf(&b, "- Info: %d (optional)\n\n", r.Info)
	if r.Passed {
		b.WriteString("**Status**: ✅ PASSED\n\n")
	} else {
		b.WriteString("**Status**: ❌ FAILED\n\n")
	}

	if len(r.Issues) == 0 {
		b.WriteString("✅ **No issues found.** The repository follows all conventions.\n\n")
	}

	for _, h := range levelHeadings {
		issues := r.ByLevel(h.level)
		if len(issues) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", h.title, h.intro)
		for _, i := range issues {
			fmt.Fprintf(&b, "### %s\n\n", report.Code(i.File))
			fmt.Fprintf(&b, "- **Rule**: %s\n", report.Code(i.Rule))
			fmt.Fprintf(&b, "- **Issue**: %s\n", report.EscapeText(i.Message))
			if i.Line > 0 {
				fmt.Fprintf(&b, "- **Line**: %d\n", i.Line)
			}
			if i.Suggestion != "" {
				fmt.Fprintf(&b, "- **Fix**: %s\n", report.EscapeText(i.Suggestion))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("---\n*Generated by stackdrift*\n")
	return b.String()
}
