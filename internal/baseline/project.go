package baseline

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/pratik-mahalle/stackdrift/internal/domain/entity"
)

// projector turns the services of one merged manifest into baseline entities.
type projector struct {
	stack      Stack
	project    string
	deployRoot string
	networks   map[string]any
	volumes    map[string]any
	warn       func(format string, args ...any)
}

func newProjector(stack Stack, tree map[string]any, deployRoot string, warn func(string, ...any)) *projector {
	nets, _ := tree["networks"].(map[string]any)
	vols, _ := tree["volumes"].(map[string]any)
	project := entity.ProjectName(stack.Name)
	if name, ok := tree["name"].(string); ok && name != "" {
		project = entity.ProjectName(name)
	}
	return &projector{
		stack:      stack,
		project:    project,
		deployRoot: deployRoot,
		networks:   nets,
		volumes:    vols,
		warn:       warn,
	}
}

func (p *projector) build(service string, raw any) (entity.Baseline, error) {
	svc, ok := raw.(map[string]any)
	if !ok {
		return entity.Baseline{}, fmt.Errorf("service %q is not a mapping", service)
	}

	name := service
	if cn, ok := svc["container_name"].(string); ok && cn != "" {
		name = cn
	}

	image := scalarString(svc["image"])
	if image == "" && svc["build"] != nil {
		image = p.project + "-" + service
	}

	ports, err := p.ports(svc["ports"])
	if err != nil {
		return entity.Baseline{}, fmt.Errorf("service %q: %w", service, err)
	}

	b := entity.Baseline{
		Spec: entity.Spec{
			Name:        name,
			Image:       image,
			Labels:      KeyValues(svc["labels"]),
			Networks:    p.networkNames(svc),
			Volumes:     p.mounts(svc["volumes"]),
			Environment: p.environment(svc),
			Ports:       ports,
		},
		Service:      service,
		Stack:        p.stack.Name,
		SourceFile:   p.stack.rel(p.stack.Manifest),
		OverrideFile: p.stack.rel(p.stack.Override),
	}
	return b, nil
}

// environment merges env_file entries under the explicit environment block.
func (p *projector) environment(svc map[string]any) map[string]string {
	env := map[string]string{}
	for _, file := range envFiles(svc["env_file"]) {
		full := file
		if !filepath.IsAbs(full) {
			full = filepath.Join(p.stack.Dir, file)
		}
		vars, err := godotenv.Read(full)
		if err != nil {
			p.warn("env_file %s of stack %s: %v", file, p.stack.Name, err)
			continue
		}
		for k, v := range vars {
			env[k] = v
		}
	}
	for k, v := range KeyValues(svc["environment"]) {
		env[k] = v
	}
	return env
}

func envFiles(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			switch e := item.(type) {
			case string:
				out = append(out, e)
			case map[string]any:
				if p, ok := e["path"].(string); ok {
					out = append(out, p)
				}
			}
		}
		return out
	}
	return nil
}

// networkNames resolves service networks to the names the runtime reports.
func (p *projector) networkNames(svc map[string]any) []string {
	if mode, ok := svc["network_mode"].(string); ok && mode != "" {
		switch mode {
		case "host", "bridge", "none":
			return []string{mode}
		}
		return nil
	}

	var names []string
	switch t := svc["networks"].(type) {
	case []any:
		for _, n := range t {
			if s := scalarString(n); s != "" {
				names = append(names, s)
			}
		}
	case map[string]any:
		for n := range t {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		names = []string{"default"}
	}

	resolved := make([]string, 0, len(names))
	for _, n := range names {
		resolved = append(resolved, p.resolveNetwork(n))
	}
	return entity.SortedNetworks(resolved)
}

func (p *projector) resolveNetwork(name string) string {
	return resolveTopLevel(p.project, name, p.networks[name])
}

func (p *projector) resolveVolume(name string) string {
	return resolveTopLevel(p.project, name, p.volumes[name])
}

// resolveTopLevel applies compose naming: explicit names and external
// resources keep their name, everything else is project-scoped.
func resolveTopLevel(project, name string, def any) string {
	m, _ := def.(map[string]any)
	if n, ok := m["name"].(string); ok && n != "" {
		return n
	}
	switch ext := m["external"].(type) {
	case bool:
		if ext {
			return name
		}
	case map[string]any:
		if n, ok := ext["name"].(string); ok && n != "" {
			return n
		}
		return name
	}
	return project + "_" + name
}

func (p *projector) mounts(v any) []entity.Mount {
	list, _ := v.([]any)
	out := make([]entity.Mount, 0, len(list))
	for _, item := range list {
		switch t := item.(type) {
		case string:
			out = append(out, p.shortMount(t))
		case map[string]any:
			if m, ok := p.longMount(t); ok {
				out = append(out, m)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (p *projector) shortMount(spec string) entity.Mount {
	parts := strings.Split(spec, ":")
	m := entity.Mount{Mode: entity.ModeReadWrite}
	switch len(parts) {
	case 1:
		m.Destination = parts[0]
		return m
	case 2:
		m.Source, m.Destination = parts[0], parts[1]
	default:
		m.Source, m.Destination = parts[0], parts[1]
		m.Mode = mountMode(parts[2])
	}
	m.Source = p.mountSource(m.Source)
	return m
}

func (p *projector) longMount(def map[string]any) (entity.Mount, bool) {
	kind := scalarString(def["type"])
	if kind != "" && kind != "bind" && kind != "volume" {
		return entity.Mount{}, false
	}
	m := entity.Mount{
		Source:      scalarString(def["source"]),
		Destination: scalarString(def["target"]),
		Mode:        entity.ModeReadWrite,
	}
	if ro, ok := def["read_only"].(bool); ok && ro {
		m.Mode = entity.ModeReadOnly
	}
	if m.Source != "" {
		if kind == "volume" {
			m.Source = p.resolveVolume(m.Source)
		} else {
			m.Source = p.mountSource(m.Source)
		}
	}
	return m, m.Destination != ""
}

// mountSource resolves bind paths against the deploy root and named
// volumes against the project.
func (p *projector) mountSource(src string) string {
	if !isHostPath(src) {
		return p.resolveVolume(src)
	}
	if p.deployRoot != "" && strings.HasPrefix(src, ".") {
		return path.Join(p.deployRoot, p.stack.Name, src)
	}
	return src
}

func isHostPath(src string) bool {
	return strings.HasPrefix(src, "/") || strings.HasPrefix(src, ".") || strings.HasPrefix(src, "~") || strings.HasPrefix(src, "$")
}

func mountMode(opts string) string {
	for _, o := range strings.Split(opts, ",") {
		if o == entity.ModeReadOnly {
			return entity.ModeReadOnly
		}
	}
	return entity.ModeReadWrite
}

func (p *projector) ports(v any) ([]string, error) {
	list, _ := v.([]any)
	var out []string
	for _, item := range list {
		switch t := item.(type) {
		case map[string]any:
			target := scalarString(t["target"])
			if target == "" {
				return nil, fmt.Errorf("port without target")
			}
			out = append(out, entity.FormatPort(
				scalarString(t["host_ip"]),
				scalarString(t["published"]),
				target,
				scalarString(t["protocol"]),
			))
		default:
			expanded, err := entity.ParsePortSpec(scalarString(t))
			if err != nil {
				return nil, err
			}
			out = append(out, expanded...)
		}
	}
	sort.Strings(out)
	return out, nil
}
