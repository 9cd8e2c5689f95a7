package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
)

func sampleResult() *drift.Result {
	res := &drift.Result{
		RunID:        "run-42",
		Timestamp:    time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Target:       "production",
		Hosts:        []string{"docker-01"},
		BaselineRepo: "/srv/apps",
		Entities: []drift.EntityDrift{
			{
				EntityName: "web",
				Stack:      "site",
				Host:       "docker-01",
				RuntimeID:  "0123456789abcdef",
				SourceFile: "stacks/site/docker-compose.yml",
				Matched:    true,
				Items:      []drift.Item{},
			},
			{
				EntityName: "pihole",
				Stack:      "dns-pihole",
				Host:       "docker-01",
				Matched:    true,
				Items: []drift.Item{
					{
						FieldPath:     "environment.WEBPASSWORD",
						BaselineValue: "hunter2",
						RuntimeValue:  "s3cret",
						Severity:      drift.SeverityFunctional,
						Description:   "environment.WEBPASSWORD changed (value hidden)",
					},
					{
						FieldPath:     "image",
						BaselineValue: "pihole/pihole:2023.05",
						RuntimeValue:  "pihole/pihole:2024.01",
						Severity:      drift.SeverityBreaking,
						Description:   "image changed",
					},
					{
						FieldPath:     "labels.app.note",
						BaselineValue: nil,
						RuntimeValue:  "| injected | row |\n# heading `code`",
						Severity:      drift.SeverityCosmetic,
						Description:   "labels.app.note is set at runtime",
					},
				},
			},
			{
				EntityName:    "unbound",
				Stack:         "dns-pihole",
				EntityMissing: true,
				Items:         []drift.Item{},
			},
		},
		Failures: []drift.Failure{{Kind: "CONNECTION_ERROR", Source: "docker-02", Message: "dial tcp: i/o timeout"}},
	}
	res.Recount()
	return res
}

func TestMarkdownUnverifiedEntities(t *testing.T) {
	res := sampleResult()
	res.Unverified = []string{"plex", "sonarr"}

	md := NewRenderer(DefaultOptions()).Markdown(res)
	failures := strings.Index(md, "## Collection Failures")
	require.GreaterOrEqual(t, failures, 0)
	assert.Greater(t, strings.Index(md, "- plex\n- sonarr"), failures)
	assert.Contains(t, md, "not reported as missing")

	assert.NotContains(t, NewRenderer(DefaultOptions()).Markdown(sampleResult()), "not reported as missing")
}

func TestMarkdownStructure(t *testing.T) {
	md := NewRenderer(DefaultOptions()).Markdown(sampleResult())

	sections := []string{
		"# Configuration Drift Report",
		"**Run**: `run-42`",
		"## Executive Summary",
		"drift detected in 2 of 3 entities (66.7%)",
		"🚨 **CRITICAL**: 1 entities have BREAKING drift",
		"## Collection Failures",
		"### Entities with Drift",
		"### Entities without Drift",
		"## Recommendations",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(md, s)
		require.GreaterOrEqual(t, idx, 0, "missing %q", s)
		assert.Greater(t, idx, last, "%q is out of order", s)
		last = idx
	}

	// drifted entities come before clean ones
	assert.Less(t, strings.Index(md, "#### pihole"), strings.Index(md, "#### web"))
	assert.Less(t, strings.Index(md, "#### unbound"), strings.Index(md, "#### web"))
	// breaking items are listed before cosmetic ones
	assert.Less(t, strings.Index(md, "`image`"), strings.Index(md, "`labels.app.note`"))
	assert.Contains(t, md, "*[not set]*")
	assert.Contains(t, md, "Declared but not running")
}

func TestMarkdownEscapesValues(t *testing.T) {
	md := NewRenderer(DefaultOptions()).Markdown(sampleResult())

	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "# heading") {
			t.Fatalf("value produced a heading line: %q", line)
		}
		if strings.HasPrefix(line, "| injected") {
			t.Fatalf("value produced a table row: %q", line)
		}
	}
	assert.Contains(t, md, "`` | injected | row | # heading `code` ``")
}

func TestMarkdownTruncatesAndRedacts(t *testing.T) {
	res := sampleResult()
	res.Entities[1].Items[1].RuntimeValue = "registry.example.com/" + strings.Repeat("x", 100) + ":1"

	r := NewRenderer(Options{
		TruncateAt: 20,
		Redact:     func(p string) bool { return strings.Contains(p, "PASSWORD") },
	})
	md := r.Markdown(res)

	assert.Contains(t, md, "`registry.example.co…`")
	assert.NotContains(t, md, "hunter2")
	assert.NotContains(t, md, "s3cret")
	assert.Contains(t, md, "`[REDACTED]`")
}

func TestMarkdownNoDrift(t *testing.T) {
	res := &drift.Result{RunID: "r", Entities: []drift.EntityDrift{{EntityName: "web", Matched: true, Items: []drift.Item{}}}}
	res.Recount()

	md := NewRenderer(DefaultOptions()).Markdown(res)
	assert.Contains(t, md, "No configuration drift detected")
	assert.Contains(t, md, "No action required")
	assert.NotContains(t, md, "CRITICAL")
}

func TestMarkdownIsDeterministic(t *testing.T) {
	r := NewRenderer(DefaultOptions())
	assert.Equal(t, r.Markdown(sampleResult()), r.Markdown(sampleResult()))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "a, b", FormatValue([]any{"a", "b"}))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, `{"k":"v"}`, FormatValue(map[string]any{"k": "v"}))
}
