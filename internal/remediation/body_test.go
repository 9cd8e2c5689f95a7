package remediation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
)

func TestRedactorValue(t *testing.T) {
	r := Redactor{Sensitive: isPassword}

	tests := []struct {
		name  string
		path  string
		value any
		want  string
	}{
		{name: "unset", path: "image", value: nil, want: "*[not set]*"},
		{name: "plain", path: "image", value: "nginx:1.25", want: "`nginx:1.25`"},
		{name: "sensitive", path: "environment.DB_PASSWORD", value: "hunter2", want: "`[REDACTED]`"},
		{name: "url credentials", path: "environment.DATABASE_URL", value: "postgres://app:s3cret@db:5432/app",
			want: "`postgres://***@db:5432/app`"},
		{name: "list", path: "networks", value: []any{"a", "b"}, want: "`a, b`"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Value(tt.path, tt.value))
		})
	}
}

func TestTitleAndCommitMessage(t *testing.T) {
	assert.Equal(t, "fix(pihole): sync config with running state", Title("pihole"))
	assert.Equal(t, "fix(stack): sync config with running state", Title("$$$"))

	one := CommitMessage("web", []drift.Item{{FieldPath: "image", Severity: drift.SeverityBreaking}})
	assert.True(t, strings.HasPrefix(one, "fix(web): sync image with running state\n\n"))
	assert.Contains(t, one, "- image (breaking)\n")
	assert.Contains(t, one, "Severity: breaking")

	many := CommitMessage("web", []drift.Item{
		{FieldPath: "image", Severity: drift.SeverityFunctional},
		{FieldPath: "labels.app.version", Severity: drift.SeverityCosmetic},
	})
	assert.True(t, strings.HasPrefix(many, "fix(web): sync 2 fields with running state"))
	assert.Contains(t, many, "Severity: functional")
}

func TestBody(t *testing.T) {
	r := Redactor{Sensitive: isPassword}
	body := r.Body(BodyInput{
		EntityName: "dns-pihole_pihole_1",
		Service:    "pihole",
		Stack:      "dns",
		Host:       "nas01",
		FilePath:   "stacks/dns/docker-compose.yml",
		ReportPath: "reports/drift-report-20240115-103000.md",
		Items: []drift.Item{
			{FieldPath: "environment.WEBPASSWORD", BaselineValue: "old-secret", RuntimeValue: "new-secret", Severity: drift.SeverityFunctional},
			{FieldPath: "labels.traefik.http.routers.pihole.rule", BaselineValue: "Host(`a`) || Host(`b`)",
				RuntimeValue: "Host(`c`)", Severity: drift.SeverityFunctional},
		},
		Warnings:  []string{"environment.WEBPASSWORD: sensitive value not written to the manifest, update it by hand"},
		Labels:    []string{"drift-remediation", "automated"},
		Generated: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	})

	assert.NotContains(t, body, "old-secret")
	assert.NotContains(t, body, "new-secret")
	assert.Contains(t, body, "# Drift Remediation: dns-pihole\\_pihole\\_1")
	assert.Contains(t, body, "**Generated**: 2024-01-15T10:30:00Z")
	assert.Contains(t, body, "remediating 2 drift item(s)")
	assert.Contains(t, body, `Host(`+"`a`"+`) \|\| Host(`)
	assert.Contains(t, body, "## Needs Manual Attention")
	assert.Contains(t, body, "Full analysis: `reports/drift-report-20240115-103000.md`")
	assert.Contains(t, body, "never merged automatically")
	assert.Contains(t, body, "**Labels**: `drift-remediation`, `automated`")

	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "| `labels.") {
			assert.Equal(t, 5, strings.Count(line, " | ")+2, "row must keep four cells: %s", line)
		}
	}
}
