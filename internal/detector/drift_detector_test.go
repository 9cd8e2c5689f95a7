package detector

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	"github.com/pratik-mahalle/stackdrift/internal/domain/entity"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/rules"
)

var fixedTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestDetector(opts Options) *DriftDetector {
	return NewDriftDetector(rules.Default(), opts, logger.New(logger.Config{Level: "error", Format: "json"}))
}

func piholeBaseline() entity.Baseline {
	return entity.Baseline{
		Spec: entity.Spec{
			Name:  "pihole",
			Image: "pihole/pihole:2023.05",
			Labels: map[string]string{
				"app.version":                      "1",
				"traefik.http.routers.pihole.rule": "Host(`dns.lan`)",
			},
			Networks:    []string{"dns-pihole_default", "proxy"},
			Environment: map[string]string{"TZ": "UTC", "WEBPASSWORD": "hunter2"},
			Ports:       []string{"53:53/tcp", "53:53/udp"},
			Volumes: []entity.Mount{
				{Source: "/srv/pihole/etc", Destination: "/etc/pihole", Mode: "rw"},
				{Source: "/srv/pihole/dnsmasq", Destination: "/etc/dnsmasq.d", Mode: "rw"},
			},
		},
		Service:    "pihole",
		Stack:      "dns-pihole",
		SourceFile: "stacks/dns-pihole/docker-compose.yml",
	}
}

func piholeRuntime() entity.Runtime {
	b := piholeBaseline()
	spec := b.Spec
	spec.Labels = map[string]string{
		"app.version":                      "1",
		"traefik.http.routers.pihole.rule": "Host(`dns.lan`)",
		"com.docker.compose.project":       "dns-pihole",
		"com.docker.compose.service":       "pihole",
	}
	spec.Environment = map[string]string{"TZ": "UTC", "WEBPASSWORD": "hunter2", "PATH": "/usr/bin"}
	return entity.Runtime{
		Spec:    spec,
		ID:      "abc123",
		Host:    "docker-01",
		Status:  "running",
		Created: fixedTime,
	}
}

func input(runtime []entity.Runtime, baseline []entity.Baseline) Input {
	return Input{RunID: "run-1", Timestamp: fixedTime, Runtime: runtime, Baseline: baseline}
}

func TestCompareIdenticalHasNoItems(t *testing.T) {
	d := newTestDetector(Options{})
	res := d.Compare(input([]entity.Runtime{piholeRuntime()}, []entity.Baseline{piholeBaseline()}))

	require.Len(t, res.Entities, 1)
	assert.True(t, res.Entities[0].Matched)
	assert.Empty(t, res.Entities[0].Items)
	assert.NotNil(t, res.Entities[0].Items)
	assert.Equal(t, 0, res.EntitiesWithDrift)
	assert.NoError(t, res.Validate())
}

func TestCompareImageUpgradeIsBreaking(t *testing.T) {
	r := piholeRuntime()
	r.Image = "pihole/pihole:2024.01"

	res := newTestDetector(Options{}).Compare(input([]entity.Runtime{r}, []entity.Baseline{piholeBaseline()}))

	require.Len(t, res.Entities, 1)
	items := res.Entities[0].Items
	require.Len(t, items, 1)
	assert.Equal(t, "image", items[0].FieldPath)
	assert.Equal(t, drift.SeverityBreaking, items[0].Severity)
	assert.Equal(t, "pihole/pihole:2023.05", items[0].BaselineValue)
	assert.Equal(t, "pihole/pihole:2024.01", items[0].RuntimeValue)
	assert.Equal(t, 1, res.SeveritySummary.Breaking)
	assert.Equal(t, 1, res.EntitiesWithDrift)
}

func TestCompareCosmeticLabel(t *testing.T) {
	r := piholeRuntime()
	r.Labels["app.version"] = "2"

	res := newTestDetector(Options{}).Compare(input([]entity.Runtime{r}, []entity.Baseline{piholeBaseline()}))

	items := res.Entities[0].Items
	require.Len(t, items, 1)
	assert.Equal(t, "labels.app.version", items[0].FieldPath)
	assert.Equal(t, drift.SeverityCosmetic, items[0].Severity)
}

func TestCompareRoutingLabelIsFunctional(t *testing.T) {
	r := piholeRuntime()
	r.Labels["traefik.http.routers.pihole.rule"] = "Host(`pihole.lan`)"

	res := newTestDetector(Options{}).Compare(input([]entity.Runtime{r}, []entity.Baseline{piholeBaseline()}))

	items := res.Entities[0].Items
	require.Len(t, items, 1)
	assert.Equal(t, drift.SeverityFunctional, items[0].Severity)
}

func TestCompareSensitiveValueHiddenInDescription(t *testing.T) {
	r := piholeRuntime()
	r.Environment["WEBPASSWORD"] = "s3cret-new"

	res := newTestDetector(Options{}).Compare(input([]entity.Runtime{r}, []entity.Baseline{piholeBaseline()}))

	items := res.Entities[0].Items
	require.Len(t, items, 1)
	assert.Equal(t, "environment.WEBPASSWORD", items[0].FieldPath)
	assert.NotContains(t, items[0].Description, "hunter2")
	assert.NotContains(t, items[0].Description, "s3cret-new")
}

func TestCompareEphemeralOnlyDifferences(t *testing.T) {
	r := piholeRuntime()
	r.ID = "fff"
	r.Status = "restarting"
	r.Started = fixedTime.Add(time.Hour)
	r.Labels["com.docker.compose.config-hash"] = "deadbeef"
	r.Labels["org.opencontainers.image.version"] = "2023.05"
	r.Environment["PATH"] = "/sbin"

	res := newTestDetector(Options{}).Compare(input([]entity.Runtime{r}, []entity.Baseline{piholeBaseline()}))

	assert.Empty(t, res.Entities[0].Items)
}

func TestComparePrefixMatch(t *testing.T) {
	r := piholeRuntime()
	r.Name = "dns-pihole_pihole_1"

	res := newTestDetector(Options{}).Compare(input([]entity.Runtime{r}, []entity.Baseline{piholeBaseline()}))

	require.Len(t, res.Entities, 1)
	e := res.Entities[0]
	assert.True(t, e.Matched)
	assert.Equal(t, "dns-pihole_pihole_1", e.EntityName)
	assert.Equal(t, "pihole", e.BaselineName)
	assert.Equal(t, "dns-pihole", e.Stack)
	assert.Empty(t, e.Items)
}

func TestCompareStrictPrefixMatchSingleCandidate(t *testing.T) {
	plex := entity.Baseline{
		Spec:       entity.Spec{Name: "plex", Image: "linuxserver/plex:1.40"},
		Service:    "plex",
		Stack:      "media",
		SourceFile: "stacks/media/docker-compose.yml",
	}
	r := entity.Runtime{
		Spec:   entity.Spec{Name: "media-plex-1", Image: "plexinc/pms-docker:1.40"},
		ID:     "p1",
		Host:   "nas",
		Status: "running",
	}

	res := newTestDetector(Options{StrictPrefixMatch: true}).Compare(input([]entity.Runtime{r}, []entity.Baseline{plex}))

	require.Len(t, res.Entities, 1)
	e := res.Entities[0]
	assert.True(t, e.Matched)
	assert.Equal(t, "plex", e.BaselineName)
	require.Len(t, e.Items, 1)
	assert.Equal(t, "image", e.Items[0].FieldPath)
	assert.Equal(t, drift.SeverityBreaking, e.Items[0].Severity)
	assert.Equal(t, "linuxserver/plex:1.40", e.Items[0].BaselineValue)
	assert.Equal(t, "plexinc/pms-docker:1.40", e.Items[0].RuntimeValue)
	assert.Equal(t, 1, res.EntitiesWithDrift)
	assert.NoError(t, res.Validate())
}

func TestCompareStrictPrefixMatchAmbiguous(t *testing.T) {
	short := piholeBaseline()
	short.Stack = "dns"
	short.Service = "pihole_pihole"
	short.Name = "pihole_pihole"
	short.Image = "adguard/adguardhome:v0.107"
	long := piholeBaseline()

	r := piholeRuntime()
	r.Name = "dns-pihole_pihole_1"
	r.Image = "adguard/adguardhome:v0.107"
	delete(r.Labels, "com.docker.compose.project")
	delete(r.Labels, "com.docker.compose.service")

	loose := newTestDetector(Options{}).Compare(input([]entity.Runtime{r}, []entity.Baseline{short, long}))
	require.NotEmpty(t, loose.Entities)
	assert.Equal(t, "dns-pihole", loose.Entities[0].Stack)

	strict := newTestDetector(Options{StrictPrefixMatch: true}).Compare(input([]entity.Runtime{r}, []entity.Baseline{short, long}))
	require.NotEmpty(t, strict.Entities)
	assert.True(t, strict.Entities[0].Matched)
	assert.Equal(t, "dns", strict.Entities[0].Stack)
	assert.Equal(t, "pihole_pihole", strict.Entities[0].BaselineName)

	other := r
	other.Image = "mvance/unbound:1.19"
	none := newTestDetector(Options{StrictPrefixMatch: true}).Compare(input([]entity.Runtime{other}, []entity.Baseline{short, long}))
	require.NotEmpty(t, none.Entities)
	assert.True(t, none.Entities[0].BaselineMissing)
	assert.NoError(t, none.Validate())
}

func TestComparePrefixPrefersLongestStack(t *testing.T) {
	short := piholeBaseline()
	short.Stack = "dns"
	short.Service = "pihole_pihole"
	short.Name = "pihole_pihole"
	long := piholeBaseline()

	r := piholeRuntime()
	r.Name = "dns-pihole_pihole_1"
	delete(r.Labels, "com.docker.compose.project")
	delete(r.Labels, "com.docker.compose.service")

	res := newTestDetector(Options{}).Compare(input([]entity.Runtime{r}, []entity.Baseline{short, long}))
	require.NotEmpty(t, res.Entities)
	assert.Equal(t, "dns-pihole", res.Entities[0].Stack)
}

func TestCompareMissingSides(t *testing.T) {
	orphan := piholeRuntime()
	orphan.Name = "watchtower"
	orphan.Image = "containrrr/watchtower"

	unbound := piholeBaseline()
	unbound.Name = "unbound"
	unbound.Service = "unbound"
	unbound.Image = "mvance/unbound:1.19"

	res := newTestDetector(Options{}).Compare(input(
		[]entity.Runtime{piholeRuntime(), orphan},
		[]entity.Baseline{piholeBaseline(), unbound},
	))

	require.Len(t, res.Entities, 3)
	assert.Equal(t, "pihole", res.Entities[0].EntityName)
	assert.Equal(t, "watchtower", res.Entities[1].EntityName)
	assert.True(t, res.Entities[1].BaselineMissing)
	assert.Empty(t, res.Entities[1].Items)
	assert.Equal(t, "unbound", res.Entities[2].EntityName)
	assert.True(t, res.Entities[2].EntityMissing)
	assert.Empty(t, res.Entities[2].Items)

	assert.Equal(t, 3, res.EntitiesAnalyzed)
	assert.Equal(t, 2, res.EntitiesWithDrift)
	assert.NoError(t, res.Validate())
}

func TestCompareIncompleteHostsLeaveBaselinesUnverified(t *testing.T) {
	unbound := piholeBaseline()
	unbound.Name = "unbound"
	unbound.Service = "unbound"
	unbound.Image = "mvance/unbound:1.19"

	in := input([]entity.Runtime{piholeRuntime()}, []entity.Baseline{piholeBaseline(), unbound})
	in.Hosts = []string{"docker-01", "docker-02"}
	in.IncompleteHosts = []string{"docker-02"}
	res := newTestDetector(Options{}).Compare(in)

	require.Len(t, res.Entities, 1)
	assert.Equal(t, "pihole", res.Entities[0].EntityName)
	assert.Equal(t, []string{"unbound"}, res.Unverified)
	assert.Equal(t, 1, res.EntitiesAnalyzed)
	assert.Equal(t, 0, res.EntitiesWithDrift)
	assert.False(t, res.HasDrift())
	assert.NoError(t, res.Validate())
}

func TestCompareIsIdempotent(t *testing.T) {
	r := piholeRuntime()
	r.Image = "pihole/pihole:latest"
	r.Labels["app.version"] = "7"
	in := input([]entity.Runtime{r}, []entity.Baseline{piholeBaseline()})

	d := newTestDetector(Options{Target: "production"})
	first, err := json.Marshal(d.Compare(in))
	require.NoError(t, err)
	second, err := json.Marshal(d.Compare(in))
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestListOrderSensitivity(t *testing.T) {
	r := piholeRuntime()
	r.Volumes = []entity.Mount{r.Volumes[1], r.Volumes[0]}
	r.Networks = []string{"proxy", "dns-pihole_default"}

	tests := []struct {
		name      string
		unordered []string
		wantPaths []string
	}{
		{name: "set semantics", unordered: []string{"networks", "ports", "volumes"}, wantPaths: nil},
		{name: "volumes positional", unordered: []string{"networks", "ports"}, wantPaths: []string{"volumes"}},
		{name: "all positional", unordered: []string{}, wantPaths: []string{"networks", "volumes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := rules.Default()
			rs.UnorderedLists = tt.unordered
			d := NewDriftDetector(rs, Options{}, logger.New(logger.Config{Level: "error", Format: "json"}))

			res := d.Compare(input([]entity.Runtime{r}, []entity.Baseline{piholeBaseline()}))

			var paths []string
			for _, it := range res.Entities[0].Items {
				paths = append(paths, it.FieldPath)
			}
			assert.Equal(t, tt.wantPaths, paths)
		})
	}
}

func TestDeepCompareNormalization(t *testing.T) {
	d := newTestDetector(Options{})

	tests := []struct {
		name     string
		baseline map[string]any
		runtime  map[string]any
		want     int
	}{
		{
			name:     "empty string equals absent",
			baseline: map[string]any{"environment": map[string]any{"EXTRA": ""}},
			runtime:  map[string]any{},
			want:     0,
		},
		{
			name:     "bool strings",
			baseline: map[string]any{"labels": map[string]any{"traefik.enable": "true"}},
			runtime:  map[string]any{"labels": map[string]any{"traefik.enable": true}},
			want:     0,
		},
		{
			name:     "empty list equals absent",
			baseline: map[string]any{"ports": []any{}},
			runtime:  map[string]any{},
			want:     0,
		},
		{
			name:     "implicit tag",
			baseline: map[string]any{"image": "nginx"},
			runtime:  map[string]any{"image": "nginx:latest"},
			want:     0,
		},
		{
			name:     "added variable",
			baseline: map[string]any{},
			runtime:  map[string]any{"environment": map[string]any{"DEBUG": "1"}},
			want:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.DeepCompare(tt.baseline, tt.runtime)
			if len(got) != tt.want {
				t.Errorf("DeepCompare() = %+v, want %d items", got, tt.want)
			}
		})
	}
}

func TestNewInputStampsRun(t *testing.T) {
	in := NewInput(nil, nil)
	assert.NotEmpty(t, in.RunID)
	assert.Equal(t, time.UTC, in.Timestamp.Location())
	assert.NotEqual(t, in.RunID, NewInput(nil, nil).RunID)
}
