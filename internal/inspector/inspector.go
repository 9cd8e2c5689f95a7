package inspector

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pratik-mahalle/stackdrift/internal/domain/entity"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/metrics"
)

// Options tunes what is inspected
type Options struct {
	// Docker is the command used to reach the container runtime, e.g. "docker" or "sudo docker".
	Docker string
	// IncludeStopped inspects stopped containers as well.
	IncludeStopped bool
	// HostTimeout bounds the whole inspection of one host. Zero means no bound.
	HostTimeout time.Duration
}

// EntityFailure is a container that could not be inspected
type EntityFailure struct {
	ID  string
	Err error
}

// HostResult is the outcome of inspecting one host
type HostResult struct {
	Host        string
	InspectedAt time.Time
	Entities    []entity.Runtime
	Failures    []EntityFailure
}

// HostFailure is a host that could not be inspected at all
type HostFailure struct {
	Host string
	Err  error
}

// Inventory is the outcome of inspecting several hosts
type Inventory struct {
	Hosts    []HostResult
	Failures []HostFailure
}

// Entities flattens all inspected entities in (host, name) order.
func (inv *Inventory) Entities() []entity.Runtime {
	var out []entity.Runtime
	for _, h := range inv.Hosts {
		out = append(out, h.Entities...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Names returns the sorted set of inspected entity names.
func (inv *Inventory) Names() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range inv.Entities() {
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out
}

// Inspector collects runtime state from hosts
type Inspector struct {
	dialer  Dialer
	opts    Options
	logger  *logger.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// New creates a new inspector. rec may be nil.
func New(dialer Dialer, opts Options, log *logger.Logger, rec *metrics.Recorder) *Inspector {
	if opts.Docker == "" {
		opts.Docker = "docker"
	}
	return &Inspector{
		dialer:  dialer,
		opts:    opts,
		logger:  log.WithComponent("inspector"),
		metrics: rec,
		now:     time.Now,
	}
}

// InspectHost lists and inspects every container on one host. Failures of
// single containers are recorded in the result; only failing to reach the
// host or to list containers is returned as an error.
func (i *Inspector) InspectHost(ctx context.Context, host string) (*HostResult, error) {
	if i.opts.HostTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.opts.HostTimeout)
		defer cancel()
	}

	log := i.logger.With("host", host)
	log.Debug("Connecting")

	runner, err := i.dialer.Dial(ctx, host)
	if err != nil {
		if _, ok := errors.As(err); !ok {
			err = errors.ConnectionError(host, err)
		}
		return nil, err
	}
	defer runner.Close()

	listCmd := i.opts.Docker + " ps -q --no-trunc"
	if i.opts.IncludeStopped {
		listCmd += " --all"
	}
	out, err := runner.Run(ctx, listCmd)
	if err != nil {
		return nil, errors.ConnectionError(host, fmt.Errorf("list containers: %w", err))
	}
	ids, err := parseIDs(out)
	if err != nil {
		return nil, errors.ConnectionError(host, err)
	}

	result := &HostResult{Host: host, InspectedAt: i.now().UTC()}
	for _, id := range ids {
		e, err := i.inspectOne(ctx, runner, host, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.ConnectionError(host, ctx.Err())
			}
			log.WithFields(map[string]interface{}{"entity": id}).WarnWithErr(err, "Failed to inspect container")
			result.Failures = append(result.Failures, EntityFailure{ID: id, Err: errors.InspectionError(host, id, err)})
			continue
		}
		result.Entities = append(result.Entities, e)
	}
	sort.SliceStable(result.Entities, func(a, b int) bool { return result.Entities[a].Name < result.Entities[b].Name })

	log.WithFields(map[string]interface{}{
		"entities": len(result.Entities),
		"failures": len(result.Failures),
	}).Info("Inspected host")

	return result, nil
}

func (i *Inspector) inspectOne(ctx context.Context, runner Runner, host, id string) (entity.Runtime, error) {
	out, err := runner.Run(ctx, i.opts.Docker+" inspect --type container "+id)
	if err != nil {
		return entity.Runtime{}, err
	}
	c, err := decodeInspect(out)
	if err != nil {
		return entity.Runtime{}, err
	}
	return project(host, c), nil
}

// InspectHosts inspects hosts concurrently, one worker per host. A host
// that fails does not affect the others; the error is returned only when
// every host failed.
func (i *Inspector) InspectHosts(ctx context.Context, hosts []string) (*Inventory, error) {
	if len(hosts) == 0 {
		return nil, errors.Config("no hosts to inspect", nil)
	}

	results := make([]*HostResult, len(hosts))
	errs := make([]error, len(hosts))

	var g errgroup.Group
	g.SetLimit(len(hosts))
	for idx, host := range hosts {
		g.Go(func() error {
			res, err := i.InspectHost(ctx, host)
			results[idx], errs[idx] = res, err
			i.record(host, res, err)
			return nil
		})
	}
	_ = g.Wait()

	inv := &Inventory{}
	for idx, host := range hosts {
		if errs[idx] != nil {
			i.logger.WithFields(map[string]interface{}{"host": host}).ErrorWithErr(errs[idx], "Host inspection failed")
			inv.Failures = append(inv.Failures, HostFailure{Host: host, Err: errs[idx]})
			continue
		}
		inv.Hosts = append(inv.Hosts, *results[idx])
	}

	if len(inv.Hosts) == 0 {
		joined := make([]error, 0, len(inv.Failures))
		for _, f := range inv.Failures {
			joined = append(joined, f.Err)
		}
		return inv, errors.ConnectionError(strings.Join(hosts, ","), stderrors.Join(joined...))
	}
	return inv, nil
}

func (i *Inspector) record(host string, res *HostResult, err error) {
	if i.metrics == nil {
		return
	}
	if err != nil {
		i.metrics.RecordHostInspection(host, false, 0, 0)
		return
	}
	i.metrics.RecordHostInspection(host, true, len(res.Entities), len(res.Failures))
}

// Incomplete returns the sorted hosts that were unreachable or had at least
// one container that could not be inspected.
func (inv *Inventory) Incomplete() []string {
	var out []string
	for _, f := range inv.Failures {
		out = append(out, f.Host)
	}
	for _, h := range inv.Hosts {
		if len(h.Failures) > 0 {
			out = append(out, h.Host)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}
