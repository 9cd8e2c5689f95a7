package inspector

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pratik-mahalle/stackdrift/internal/domain/entity"
)

var containerID = regexp.MustCompile(`^[0-9a-f]{12,64}$`)

// container mirrors the subset of `docker inspect` output that is projected.
type container struct {
	ID      string `json:"Id"`
	Name    string `json:"Name"`
	Created string `json:"Created"`
	State   struct {
		Status    string `json:"Status"`
		StartedAt string `json:"StartedAt"`
	} `json:"State"`
	Config struct {
		Image  string            `json:"Image"`
		Labels map[string]string `json:"Labels"`
		Env    []string          `json:"Env"`
	} `json:"Config"`
	NetworkSettings struct {
		Networks map[string]json.RawMessage `json:"Networks"`
		Ports    map[string][]portBinding   `json:"Ports"`
	} `json:"NetworkSettings"`
	Mounts []mount `json:"Mounts"`
}

type portBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

type mount struct {
	Type        string `json:"Type"`
	Name        string `json:"Name"`
	Source      string `json:"Source"`
	Destination string `json:"Destination"`
	Mode        string `json:"Mode"`
	RW          bool   `json:"RW"`
}

// parseIDs splits `docker ps -q` output and rejects anything that is not a
// container id, since ids are interpolated into the next remote command.
func parseIDs(out []byte) ([]string, error) {
	var ids []string
	for _, line := range strings.Split(string(out), "\n") {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		if !containerID.MatchString(id) {
			return nil, fmt.Errorf("unexpected container id %q", id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// decodeInspect decodes the output of `docker inspect <id>`.
func decodeInspect(out []byte) (*container, error) {
	var list []container
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, fmt.Errorf("decode inspect output: %w", err)
	}
	if len(list) != 1 {
		return nil, fmt.Errorf("expected one container, got %d", len(list))
	}
	return &list[0], nil
}

// project converts inspect metadata into a runtime entity.
func project(host string, c *container) entity.Runtime {
	r := entity.Runtime{
		Spec: entity.Spec{
			Name:        strings.TrimPrefix(c.Name, "/"),
			Image:       c.Config.Image,
			Labels:      c.Config.Labels,
			Environment: splitEnv(c.Config.Env),
			Networks:    networkNames(c.NetworkSettings.Networks),
			Ports:       publishedPorts(c.NetworkSettings.Ports),
			Volumes:     mounts(c.Mounts),
		},
		ID:      c.ID,
		Host:    host,
		Status:  c.State.Status,
		Created: parseTime(c.Created),
		Started: parseTime(c.State.StartedAt),
	}
	if r.Labels == nil {
		r.Labels = map[string]string{}
	}
	return r
}

func splitEnv(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}

func networkNames(nets map[string]json.RawMessage) []string {
	names := make([]string, 0, len(nets))
	for n := range nets {
		names = append(names, n)
	}
	return entity.SortedNetworks(names)
}

func publishedPorts(ports map[string][]portBinding) []string {
	seen := map[string]struct{}{}
	var out []string
	for key, bindings := range ports {
		containerPort, proto, _ := strings.Cut(key, "/")
		for _, b := range bindings {
			p := entity.FormatPort(b.HostIP, b.HostPort, containerPort, proto)
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

var anonymousVolume = regexp.MustCompile(`^[0-9a-f]{64}$`)

func mounts(ms []mount) []entity.Mount {
	var out []entity.Mount
	for _, m := range ms {
		src := m.Source
		switch m.Type {
		case "bind":
		case "volume":
			src = m.Name
			if anonymousVolume.MatchString(src) {
				src = ""
			}
		default:
			continue
		}
		mode := entity.ModeReadWrite
		if !m.RW {
			mode = entity.ModeReadOnly
		}
		out = append(out, entity.Mount{Source: src, Destination: m.Destination, Mode: mode})
	}
	return out
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.Year() <= 1 {
		return time.Time{}
	}
	return t.UTC()
}
