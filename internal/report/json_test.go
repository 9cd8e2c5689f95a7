package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/stackdrift/internal/detector"
	"github.com/pratik-mahalle/stackdrift/internal/domain/entity"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/rules"
)

func TestJSONRoundTrip(t *testing.T) {
	baseline := entity.Baseline{
		Spec: entity.Spec{
			Name:        "web",
			Image:       "nginx:1.25",
			Labels:      map[string]string{"app.version": "1.0", "traefik.enable": "true"},
			Networks:    []string{"proxy"},
			Environment: map[string]string{"TZ": "UTC"},
			Ports:       []string{"8080:80/tcp"},
		},
		Service:    "web",
		Stack:      "site",
		SourceFile: "stacks/site/docker-compose.yml",
	}
	runtime := entity.Runtime{
		Spec: entity.Spec{
			Name:        "web",
			Image:       "nginx:1.26",
			Labels:      map[string]string{"app.version": "1.1", "traefik.enable": "true"},
			Networks:    []string{"proxy", "site_default"},
			Environment: map[string]string{"TZ": "UTC", "DEBUG": "1"},
		},
		ID:   "abc",
		Host: "docker-01",
	}
	missing := baseline
	missing.Name, missing.Service = "worker", "worker"

	d := detector.NewDriftDetector(rules.Default(), detector.Options{Target: "prod"}, logger.New(logger.Config{Level: "error", Format: "json"}))
	res := d.Compare(detector.Input{
		RunID:     "run-1",
		Timestamp: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Hosts:     []string{"docker-01"},
		Runtime:   []entity.Runtime{runtime},
		Baseline:  []entity.Baseline{baseline, missing},
	})
	require.NotZero(t, res.TotalItems)

	data, err := NewRenderer(DefaultOptions()).JSON(res)
	require.NoError(t, err)

	parsed, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, res, parsed)
}

func TestJSONRedacts(t *testing.T) {
	res := sampleResult()
	r := NewRenderer(Options{Redact: func(p string) bool { return p == "environment.WEBPASSWORD" }})

	data, err := r.JSON(res)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Contains(t, string(data), Redacted)
	// the input is left untouched
	assert.Equal(t, "hunter2", res.Entities[1].Items[0].BaselineValue)

	// only unmasked fields survive a round trip
	parsed, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, Redacted, parsed.Entities[1].Items[0].BaselineValue)
	assert.NotEqual(t, res, parsed)
	parsed.Entities[1].Items[0] = res.Entities[1].Items[0]
	assert.Equal(t, res, parsed)
}

func TestParseJSONRejectsInconsistentCounts(t *testing.T) {
	_, err := ParseJSON([]byte(`{"run_id":"x","entities_analyzed":3,"entities":[]}`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`not json`))
	assert.Error(t, err)
}
