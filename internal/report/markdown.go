package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
)

// DefaultTruncate is the value length used when none is configured.
const DefaultTruncate = 80

// Redacted replaces masked values.
const Redacted = "[REDACTED]"

// DefaultSymbols maps severities to the markers shown in reports.
var DefaultSymbols = map[drift.Severity]string{
	drift.SeverityBreaking:      "🔴",
	drift.SeverityFunctional:    "🟡",
	drift.SeverityCosmetic:      "🔵",
	drift.SeverityInformational: "⚪",
}

var severityHelp = map[drift.Severity]string{
	drift.SeverityBreaking:      "Changes that break functionality",
	drift.SeverityFunctional:    "Changes that affect behavior",
	drift.SeverityCosmetic:      "No functional impact",
	drift.SeverityInformational: "Expected differences",
}

// Options controls rendering
type Options struct {
	// TruncateAt limits displayed values, in runes. Zero disables truncation.
	TruncateAt int
	Symbols    map[drift.Severity]string
	// Redact reports whether the value at a field path must be masked.
	Redact func(fieldPath string) bool
}

// DefaultOptions returns the rendering defaults.
func DefaultOptions() Options {
	return Options{TruncateAt: DefaultTruncate, Symbols: DefaultSymbols}
}

// Renderer turns drift results into report documents. It holds no state
// besides its options and is safe for concurrent use.
type Renderer struct {
	opts Options
}

// NewRenderer creates a renderer
func NewRenderer(opts Options) *Renderer {
	if opts.Symbols == nil {
		opts.Symbols = DefaultSymbols
	}
	return &Renderer{opts: opts}
}

// Markdown renders res as a Markdown document.
func (r *Renderer) Markdown(res *drift.Result) string {
	var b strings.Builder

	b.WriteString("# Configuration Drift Report\n\n")
	r.writeMetadata(&b, res)
	r.writeSummary(&b, res)
	r.writeFailures(&b, res)

	b.WriteString("## Entity Details\n\n")
	drifted := res.Drifted()
	clean := res.Clean()
	if len(drifted) > 0 {
		b.WriteString("### Entities with Drift\n\n")
		for _, e := range drifted {
			r.writeEntity(&b, e)
			b.WriteString("\n---\n\n")
		}
	}
	if len(clean) > 0 {
		b.WriteString("### Entities without Drift\n\n")
		b.WriteString("<details>\n<summary>Clean entities</summary>\n\n")
		for _, e := range clean {
			r.writeEntity(&b, e)
			b.WriteString("\n")
		}
		b.WriteString("</details>\n\n")
	}

	r.writeRecommendations(&b, res)
	b.WriteString("---\n*Generated by stackdrift*\n")
	return b.String()
}

func (r *Renderer) writeMetadata(b *strings.Builder, res *drift.Result) {
	b.WriteString("---\n")
	fmt.Fprintf(b, "**Run**: %s  \n", Code(res.RunID))
	fmt.Fprintf(b, "**Generated**: %s  \n", res.Timestamp.UTC().Format(time.RFC3339))
	if res.Target != "" {
		fmt.Fprintf(b, "**Target**: %s  \n", EscapeText(res.Target))
	}
	hosts := "N/A"
	if len(res.Hosts) > 0 {
		escaped := make([]string, len(res.Hosts))
		for i, h := range res.Hosts {
			escaped[i] = EscapeText(h)
		}
		hosts = strings.Join(escaped, ", ")
	}
	fmt.Fprintf(b, "**Hosts**: %s  \n", hosts)
	repo := "N/A"
	if res.BaselineRepo != "" {
		repo = EscapeText(res.BaselineRepo)
	}
	fmt.Fprintf(b, "**Baseline Repository**: %s  \n", repo)
	b.WriteString("---\n\n")
}

func (r *Renderer) writeSummary(b *strings.Builder, res *drift.Result) {
	b.WriteString("## Executive Summary\n\n")
	if !res.HasDrift() {
		fmt.Fprintf(b, "✅ **No configuration drift detected.** All %d entities match their baselines.\n", res.EntitiesAnalyzed)
	} else {
		fmt.Fprintf(b, "⚠️ **Configuration drift detected in %d of %d entities (%.1f%%)**\n\n",
			res.EntitiesWithDrift, res.EntitiesAnalyzed, res.DriftPercent())
		fmt.Fprintf(b, "Total drift items: **%d**\n", res.TotalItems)
	}

	b.WriteString("\n### Drift by Severity\n\n")
	b.WriteString("| Severity | Count | Description |\n")
	b.WriteString("|----------|-------|-------------|\n")
	for _, s := range drift.Severities {
		fmt.Fprintf(b, "| %s %s | **%d** | %s |\n", r.symbol(s), title(s), res.SeveritySummary.Get(s), severityHelp[s])
	}

	if n := breakingEntities(res); n > 0 {
		fmt.Fprintf(b, "\n🚨 **CRITICAL**: %d entities have BREAKING drift that may impact functionality.\n", n)
	}
	b.WriteString("\n")
}

func (r *Renderer) writeFailures(b *strings.Builder, res *drift.Result) {
	if len(res.Failures) == 0 {
		return
	}
	b.WriteString("## Collection Failures\n\n")
	b.WriteString("The following inputs could not be collected; their entities are not part of this report.\n\n")
	b.WriteString("| Kind | Source | Error |\n")
	b.WriteString("|------|--------|-------|\n")
	for _, f := range res.Failures {
		fmt.Fprintf(b, "| %s | %s | %s |\n",
			EscapeText(f.Kind), EscapeText(f.Source), EscapeText(Truncate(f.Message, 200)))
	}
	b.WriteString("\n")
	if len(res.Unverified) > 0 {
		b.WriteString("Declared entities not found on any inspected host. They may run on a host listed above, so they are not reported as missing:\n\n")
		for _, name := range res.Unverified {
			fmt.Fprintf(b, "- %s\n", EscapeText(name))
		}
		b.WriteString("\n")
	}
}

func (r *Renderer) writeEntity(b *strings.Builder, e drift.EntityDrift) {
	fmt.Fprintf(b, "#### %s\n\n", EscapeText(e.EntityName))
	if e.Stack != "" {
		fmt.Fprintf(b, "**Stack**: %s  \n", EscapeText(e.Stack))
	}
	if e.BaselineName != "" {
		fmt.Fprintf(b, "**Declared as**: %s  \n", EscapeText(e.BaselineName))
	}
	if e.Host != "" {
		fmt.Fprintf(b, "**Host**: %s  \n", EscapeText(e.Host))
	}
	if e.RuntimeID != "" {
		fmt.Fprintf(b, "**Runtime ID**: %s  \n", Code(shortID(e.RuntimeID)))
	}
	if e.SourceFile != "" {
		fmt.Fprintf(b, "**Manifest**: %s  \n", Code(e.SourceFile))
	}

	switch {
	case e.BaselineMissing:
		b.WriteString("\n❌ **Status**: Running but not declared in any baseline\n\n")
		b.WriteString("**Recommended Action**: Add it to the baseline repository or remove it if no longer needed.\n")
		return
	case e.EntityMissing:
		b.WriteString("\n❌ **Status**: Declared but not running\n\n")
		b.WriteString("**Recommended Action**: Deploy it or remove it from the baseline if deprecated.\n")
		return
	case len(e.Items) == 0:
		b.WriteString("\n✅ **Status**: No drift detected\n")
		return
	}

	fmt.Fprintf(b, "\n⚠️ **Status**: Drift detected (%d items)\n\n", len(e.Items))
	b.WriteString("**Configuration Differences**\n")
	for _, s := range drift.Severities {
		items := e.ItemsBySeverity(s)
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(b, "\n%s **%s Changes**\n\n", r.symbol(s), title(s))
		for _, it := range items {
			fmt.Fprintf(b, "- %s\n", Code(it.FieldPath))
			fmt.Fprintf(b, "  - Baseline: %s\n", r.value(it.FieldPath, it.BaselineValue))
			fmt.Fprintf(b, "  - Runtime: %s\n", r.value(it.FieldPath, it.RuntimeValue))
		}
	}

	b.WriteString("\n**Recommended Actions**\n\n")
	switch e.HighestSeverity() {
	case drift.SeverityBreaking:
		b.WriteString("🚨 **Priority: HIGH**: breaking changes detected\n\n")
		b.WriteString("1. Review image version and critical environment variable changes\n")
		b.WriteString("2. Update the baseline to match the running configuration if it is correct\n")
		b.WriteString("3. Otherwise redeploy from the baseline\n")
	case drift.SeverityFunctional:
		b.WriteString("⚠️ **Priority: MEDIUM**: functional changes detected\n\n")
		b.WriteString("1. Review port, volume, network and environment differences\n")
		b.WriteString("2. Update the baseline to match the running configuration\n")
	default:
		b.WriteString("✨ **Priority: LOW**: cosmetic changes only\n\n")
		b.WriteString("1. Update the baseline for documentation accuracy\n")
	}
}

func (r *Renderer) writeRecommendations(b *strings.Builder, res *drift.Result) {
	b.WriteString("## Recommendations\n\n")
	if !res.HasDrift() {
		b.WriteString("✅ No action required.\n\n")
		return
	}

	b.WriteString("### Immediate Actions\n\n")
	step := 1
	if n := breakingEntities(res); n > 0 {
		fmt.Fprintf(b, "%d. **Review %d entities with BREAKING drift first**\n", step, n)
		for _, e := range res.Drifted() {
			if e.HighestSeverity() == drift.SeverityBreaking {
				fmt.Fprintf(b, "   - %s\n", EscapeText(e.EntityName))
			}
		}
		step++
	}
	fmt.Fprintf(b, "%d. **Review all %d drifted entities**\n", step, res.EntitiesWithDrift)
	b.WriteString("   - Decide whether the running configuration or the baseline is authoritative\n")
	b.WriteString("   - Open pull requests to bring the baseline in line with the running state\n\n")

	b.WriteString("### Process Improvements\n\n")
	b.WriteString("- Run drift detection on a schedule and after every deployment\n")
	b.WriteString("- Route all configuration changes through pull requests\n\n")
}

// value renders one side of a drift item.
func (r *Renderer) value(fieldPath string, v any) string {
	if v == nil {
		return "*[not set]*"
	}
	if r.opts.Redact != nil && r.opts.Redact(fieldPath) {
		return Code(Redacted)
	}
	return Code(Truncate(FormatValue(v), r.opts.TruncateAt))
}

func (r *Renderer) symbol(s drift.Severity) string {
	if sym, ok := r.opts.Symbols[s]; ok {
		return sym
	}
	return ""
}

// FormatValue renders a comparable value as a single display string.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = FormatValue(e)
		}
		return strings.Join(parts, ", ")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func breakingEntities(res *drift.Result) int {
	n := 0
	for _, e := range res.Entities {
		if e.HighestSeverity() == drift.SeverityBreaking {
			n++
		}
	}
	return n
}

func title(s drift.Severity) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
