package inspector

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/metrics"
)

// fakeRunner answers commands from a fixed table.
type fakeRunner struct {
	mu       sync.Mutex
	outputs  map[string]string
	failures map[string]error
	commands []string
	closed   bool
}

func (f *fakeRunner) Run(_ context.Context, command string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if err, ok := f.failures[command]; ok {
		return nil, err
	}
	out, ok := f.outputs[command]
	if !ok {
		return nil, fmt.Errorf("unexpected command %q", command)
	}
	return []byte(out), nil
}

func (f *fakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeDialer struct {
	runners map[string]*fakeRunner
}

func (d *fakeDialer) Dial(_ context.Context, host string) (Runner, error) {
	r, ok := d.runners[host]
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", host)
	}
	return r, nil
}

const (
	idPihole  = "aaaaaaaaaaaa"
	idUnbound = "bbbbbbbbbbbb"
)

func containerJSON(name, image string) string {
	return fmt.Sprintf(`[{"Id":"%s","Name":"/%s","State":{"Status":"running"},"Config":{"Image":"%s","Env":["TZ=UTC"]}}]`, name, name, image)
}

func newHostRunner() *fakeRunner {
	return &fakeRunner{
		outputs: map[string]string{
			"docker ps -q --no-trunc":                      idPihole + "\n" + idUnbound + "\n",
			"docker inspect --type container " + idPihole:  containerJSON("pihole", "pihole/pihole:2024.01"),
			"docker inspect --type container " + idUnbound: containerJSON("unbound", "mvance/unbound:1.19"),
		},
	}
}

func newTestInspector(d Dialer, rec *metrics.Recorder) *Inspector {
	return New(d, Options{}, logger.New(logger.Config{Level: "error", Format: "json"}), rec)
}

func TestInspectHost(t *testing.T) {
	runner := newHostRunner()
	insp := newTestInspector(&fakeDialer{runners: map[string]*fakeRunner{"docker-01": runner}}, nil)

	res, err := insp.InspectHost(context.Background(), "docker-01")
	require.NoError(t, err)

	require.Len(t, res.Entities, 2)
	assert.Equal(t, "pihole", res.Entities[0].Name)
	assert.Equal(t, "docker-01", res.Entities[0].Host)
	assert.Empty(t, res.Failures)
	assert.True(t, runner.closed, "session must be closed")
}

func TestInspectHostSkipsFailedEntity(t *testing.T) {
	runner := newHostRunner()
	runner.failures = map[string]error{
		"docker inspect --type container " + idPihole: stderrors.New("No such container"),
	}
	insp := newTestInspector(&fakeDialer{runners: map[string]*fakeRunner{"docker-01": runner}}, nil)

	res, err := insp.InspectHost(context.Background(), "docker-01")
	require.NoError(t, err, "a single entity failure must not abort the host")

	require.Len(t, res.Entities, 1)
	assert.Equal(t, "unbound", res.Entities[0].Name)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, idPihole, res.Failures[0].ID)
	assert.Equal(t, errors.ErrCodeInspection, errors.Kind(res.Failures[0].Err))
}

func TestInspectHostsIsolatesHostFailures(t *testing.T) {
	rec := metrics.New()
	insp := newTestInspector(&fakeDialer{runners: map[string]*fakeRunner{
		"docker-01": newHostRunner(),
		"docker-03": newHostRunner(),
	}}, rec)

	inv, err := insp.InspectHosts(context.Background(), []string{"docker-01", "docker-02", "docker-03"})
	require.NoError(t, err)

	require.Len(t, inv.Hosts, 2)
	assert.Equal(t, "docker-01", inv.Hosts[0].Host)
	assert.Equal(t, "docker-03", inv.Hosts[1].Host)
	require.Len(t, inv.Failures, 1)
	assert.Equal(t, "docker-02", inv.Failures[0].Host)
	assert.Equal(t, errors.ErrCodeConnection, errors.Kind(inv.Failures[0].Err))

	entities := inv.Entities()
	require.Len(t, entities, 4)
	assert.Equal(t, "docker-01", entities[0].Host)
	assert.Equal(t, []string{"pihole", "unbound"}, inv.Names())
	assert.Equal(t, []string{"docker-02"}, inv.Incomplete())
}

func TestInventoryIncomplete(t *testing.T) {
	inv := &Inventory{
		Hosts: []HostResult{
			{Host: "nas"},
			{Host: "edge", Failures: []EntityFailure{{ID: "a"}, {ID: "b"}}},
		},
		Failures: []HostFailure{{Host: "pi", Err: stderrors.New("dial tcp: i/o timeout")}},
	}
	assert.Equal(t, []string{"edge", "pi"}, inv.Incomplete())
	assert.Empty(t, (&Inventory{Hosts: []HostResult{{Host: "nas"}}}).Incomplete())
}

func TestInspectHostsAllFailing(t *testing.T) {
	insp := newTestInspector(&fakeDialer{}, nil)

	inv, err := insp.InspectHosts(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConnection, errors.Kind(err))
	assert.Len(t, inv.Failures, 2)
}

func TestInspectHostsRequiresHosts(t *testing.T) {
	_, err := newTestInspector(&fakeDialer{}, nil).InspectHosts(context.Background(), nil)
	assert.Equal(t, errors.ErrCodeConfig, errors.Kind(err))
}

func TestInspectHostListFailure(t *testing.T) {
	runner := newHostRunner()
	runner.failures = map[string]error{"docker ps -q --no-trunc": stderrors.New("permission denied")}
	insp := newTestInspector(&fakeDialer{runners: map[string]*fakeRunner{"h": runner}}, nil)

	_, err := insp.InspectHost(context.Background(), "h")
	assert.Equal(t, errors.ErrCodeConnection, errors.Kind(err))
}

func TestIncludeStoppedAndCustomBinary(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"sudo docker ps -q --no-trunc --all": ""}}
	insp := New(&fakeDialer{runners: map[string]*fakeRunner{"h": runner}},
		Options{Docker: "sudo docker", IncludeStopped: true}, logger.Nop(), nil)

	res, err := insp.InspectHost(context.Background(), "h")
	require.NoError(t, err)
	assert.Empty(t, res.Entities)
	assert.True(t, strings.HasPrefix(runner.commands[0], "sudo docker ps"))
}

func TestInspectFixtureEndToEnd(t *testing.T) {
	data, err := os.ReadFile("testdata/pihole.json")
	require.NoError(t, err)

	id := "3f4e8a1b2c3d4e5f60718293a4b5c6d7e8f90123456789abcdef0123456789ab"
	runner := &fakeRunner{outputs: map[string]string{
		"docker ps -q --no-trunc":               id + "\n",
		"docker inspect --type container " + id: string(data),
	}}
	insp := newTestInspector(&fakeDialer{runners: map[string]*fakeRunner{"docker-01": runner}}, nil)

	res, err := insp.InspectHost(context.Background(), "docker-01")
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "dns-pihole_pihole_1", res.Entities[0].Name)
}
