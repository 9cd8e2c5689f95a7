package remediation

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	"github.com/pratik-mahalle/stackdrift/internal/domain/entity"
	"github.com/pratik-mahalle/stackdrift/internal/report"
)

// PatchOptions tells the patcher how runtime values map back to manifest
// syntax.
type PatchOptions struct {
	// Project is the compose project name; runtime networks and named
	// volumes carry it as a prefix.
	Project string
	// DeployDir is the host directory relative bind mounts resolve to.
	DeployDir string
	// Sensitive marks field paths whose runtime value must not be written.
	Sensitive func(fieldPath string) bool
}

// PatchResult is the outcome of applying drift items to one manifest
type PatchResult struct {
	Data     []byte
	Applied  []string
	Warnings []string
}

// Patcher rewrites one service of a compose manifest so it declares the
// running configuration. Editing happens on the YAML node tree, so comments
// key order and quoting of untouched entries survive.
type Patcher struct {
	opts PatchOptions
}

// NewPatcher creates a manifest patcher
func NewPatcher(opts PatchOptions) *Patcher {
	return &Patcher{opts: opts}
}

// Apply sets every item's field to its runtime value, removing fields the
// runtime does not have.
func (p *Patcher) Apply(data []byte, service string, items []drift.Item) (*PatchResult, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("manifest root is not a mapping")
	}
	root := doc.Content[0]
	res := &PatchResult{}

	services := ensureMapping(root, "services")
	if services == nil {
		return nil, fmt.Errorf("services is not a mapping")
	}
	svc := mapValue(services, service)
	if svc == nil {
		svc = &yaml.Node{Kind: yaml.MappingNode}
		setMapValue(services, service, svc)
		res.Warnings = append(res.Warnings, fmt.Sprintf("service %s was not declared in this file and has been added", service))
	}
	if svc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("service %s is not a mapping", service)
	}

	sorted := append([]drift.Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FieldPath < sorted[j].FieldPath })

	for _, it := range sorted {
		applied, warning, err := p.applyItem(root, svc, it)
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", it.FieldPath, err)
		}
		if warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
		if applied {
			res.Applied = append(res.Applied, it.FieldPath)
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(detectIndent(data))
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	res.Data = buf.Bytes()
	return res, nil
}

// applyItem reports whether the item was written, plus an optional warning.
func (p *Patcher) applyItem(root, svc *yaml.Node, it drift.Item) (bool, string, error) {
	path := it.FieldPath
	value := it.RuntimeValue
	if containsRedacted(value) || containsRedacted(it.BaselineValue) {
		return false, fmt.Sprintf("%s: value was redacted in the report, update it by hand", path), nil
	}
	if value != nil && p.opts.Sensitive != nil && p.opts.Sensitive(path) {
		return false, fmt.Sprintf("%s: sensitive value not written to the manifest, update it by hand", path), nil
	}

	top, rest, _ := strings.Cut(path, ".")
	switch {
	case (top == entity.FieldEnvironment || top == entity.FieldLabels) && rest != "":
		return p.setKeyValue(svc, top, rest, value)
	case top == entity.FieldNetworks && rest == "":
		return p.setNetworks(root, svc, value)
	case top == entity.FieldVolumes && rest == "":
		setList(svc, top, mapStrings(value, p.volumeSpec), 0)
		return true, "", nil
	case top == entity.FieldPorts && rest == "":
		setList(svc, top, mapStrings(value, portSpec), yaml.DoubleQuotedStyle)
		return true, "", nil
	}
	return setPath(svc, strings.Split(path, "."), value)
}

// setKeyValue edits environment or labels entries, keeping the list
// ("KEY=value") or mapping form the file already uses. Keys may contain
// dots, so the whole remainder of the path is the key.
func (p *Patcher) setKeyValue(svc *yaml.Node, section, key string, value any) (bool, string, error) {
	str, present := scalarValue(value)
	sec := mapValue(svc, section)
	if sec == nil || (sec.Kind == yaml.ScalarNode && sec.Tag == "!!null") {
		if !present {
			return true, "", nil
		}
		sec = &yaml.Node{Kind: yaml.MappingNode}
		setMapValue(svc, section, sec)
	}

	switch sec.Kind {
	case yaml.SequenceNode:
		idx := -1
		for i, n := range sec.Content {
			if n.Value == key || strings.HasPrefix(n.Value, key+"=") {
				idx = i
				break
			}
		}
		if idx >= 0 && interpolated(strings.TrimPrefix(sec.Content[idx].Value, key+"=")) {
			return false, fmt.Sprintf("%s.%s: value is interpolated, update the environment file instead", section, key), nil
		}
		switch {
		case !present && idx >= 0:
			sec.Content = append(sec.Content[:idx], sec.Content[idx+1:]...)
		case present && idx >= 0:
			sec.Content[idx].Value = key + "=" + str
			sec.Content[idx].Tag = "!!str"
		case present:
			sec.Content = append(sec.Content, strNode(key+"="+str))
		}
	case yaml.MappingNode:
		existing := mapValue(sec, key)
		if existing != nil && existing.Kind == yaml.ScalarNode && interpolated(existing.Value) {
			return false, fmt.Sprintf("%s.%s: value is interpolated, update the environment file instead", section, key), nil
		}
		switch {
		case !present:
			deleteMapKey(sec, key)
		case existing != nil && existing.Kind == yaml.ScalarNode:
			existing.Value = str
			existing.Tag = "!!str"
		default:
			setMapValue(sec, key, strNode(str))
		}
	default:
		return false, fmt.Sprintf("%s: unsupported %s syntax", section, section), nil
	}

	if len(sec.Content) == 0 {
		deleteMapKey(svc, section)
	}
	return true, "", nil
}

// setNetworks replaces the service's network membership. Mapping form
// entries keep their per-network settings.
func (p *Patcher) setNetworks(root, svc *yaml.Node, value any) (bool, string, error) {
	if mapValue(svc, "network_mode") != nil {
		return false, "networks: service uses network_mode, update it by hand", nil
	}
	names := mapStrings(value, p.networkName)

	sec := mapValue(svc, "networks")
	if sec != nil && sec.Kind == yaml.MappingNode && len(names) > 0 {
		keep := make(map[string]bool, len(names))
		for _, n := range names {
			keep[n] = true
		}
		for i := 0; i+1 < len(sec.Content); {
			if !keep[sec.Content[i].Value] {
				sec.Content = append(sec.Content[:i], sec.Content[i+2:]...)
				continue
			}
			delete(keep, sec.Content[i].Value)
			i += 2
		}
		for _, n := range names {
			if keep[n] {
				setMapValue(sec, n, &yaml.Node{Kind: yaml.MappingNode, Style: yaml.FlowStyle})
			}
		}
	} else {
		setList(svc, "networks", names, 0)
	}

	declared := mapValue(root, "networks")
	var undeclared []string
	for _, n := range names {
		if n != "default" && mapValue(declared, n) == nil {
			undeclared = append(undeclared, n)
		}
	}
	if len(undeclared) > 0 {
		return true, fmt.Sprintf("networks: %s not declared at the top level", strings.Join(undeclared, ", ")), nil
	}
	return true, "", nil
}

func (p *Patcher) networkName(n string) string {
	if p.opts.Project != "" {
		if rest, ok := strings.CutPrefix(n, p.opts.Project+"_"); ok && rest != "" {
			return rest
		}
	}
	return n
}

// volumeSpec turns a runtime mount string back into short manifest syntax.
func (p *Patcher) volumeSpec(v string) string {
	parts := strings.Split(v, ":")
	mode := ""
	if last := parts[len(parts)-1]; len(parts) > 1 && (last == entity.ModeReadOnly || last == entity.ModeReadWrite) {
		mode = last
		parts = parts[:len(parts)-1]
	}
	if len(parts) >= 2 {
		src := parts[0]
		switch {
		case p.opts.DeployDir != "" && strings.HasPrefix(src, p.opts.DeployDir+"/"):
			src = "./" + strings.TrimPrefix(src, p.opts.DeployDir+"/")
		case !strings.HasPrefix(src, "/") && p.opts.Project != "":
			src = strings.TrimPrefix(src, p.opts.Project+"_")
		}
		parts[0] = src
	}
	out := strings.Join(parts, ":")
	if mode == entity.ModeReadOnly {
		out += ":" + mode
	}
	return out
}

func portSpec(v string) string {
	return strings.TrimSuffix(v, "/tcp")
}

// setPath sets a nested mapping value, creating intermediate mappings.
func setPath(node *yaml.Node, segs []string, value any) (bool, string, error) {
	cur := node
	for i, seg := range segs[:len(segs)-1] {
		next := mapValue(cur, seg)
		if next == nil {
			if value == nil {
				return true, "", nil
			}
			next = &yaml.Node{Kind: yaml.MappingNode}
			setMapValue(cur, seg, next)
		}
		if next.Kind != yaml.MappingNode {
			return false, fmt.Sprintf("%s: %s is not a mapping, update it by hand",
				strings.Join(segs, "."), strings.Join(segs[:i+1], ".")), nil
		}
		cur = next
	}

	last := segs[len(segs)-1]
	existing := mapValue(cur, last)
	if existing != nil && existing.Kind == yaml.ScalarNode && interpolated(existing.Value) {
		return false, fmt.Sprintf("%s: value is interpolated, update the environment file instead", strings.Join(segs, ".")), nil
	}
	if value == nil {
		deleteMapKey(cur, last)
		return true, "", nil
	}
	if existing != nil && existing.Kind == yaml.ScalarNode {
		if s, ok := scalarValue(value); ok && !isCollection(value) {
			existing.Value = s
			existing.Tag = "!!str"
			return true, "", nil
		}
	}
	setMapValue(cur, last, toNode(value))
	return true, "", nil
}

func isCollection(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return true
	}
	return false
}

func setList(svc *yaml.Node, key string, values []string, style yaml.Style) {
	if len(values) == 0 {
		deleteMapKey(svc, key)
		return
	}
	content := make([]*yaml.Node, len(values))
	for i, v := range values {
		n := strNode(v)
		n.Style = style
		content[i] = n
	}
	if sec := mapValue(svc, key); sec != nil && sec.Kind == yaml.SequenceNode {
		sec.Content = content
		return
	}
	setMapValue(svc, key, &yaml.Node{Kind: yaml.SequenceNode, Content: content})
}

func mapValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setMapValue(m *yaml.Node, key string, v *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
	m.Content = append(m.Content, strNode(key), v)
}

func deleteMapKey(m *yaml.Node, key string) {
	if m == nil || m.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content = append(m.Content[:i], m.Content[i+2:]...)
			return
		}
	}
}

func ensureMapping(m *yaml.Node, key string) *yaml.Node {
	v := mapValue(m, key)
	if v == nil || (v.Kind == yaml.ScalarNode && v.Tag == "!!null") {
		v = &yaml.Node{Kind: yaml.MappingNode}
		setMapValue(m, key, v)
	}
	if v.Kind != yaml.MappingNode {
		return nil
	}
	return v
}

func strNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func toNode(v any) *yaml.Node {
	switch t := v.(type) {
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode}
		for _, e := range t {
			n.Content = append(n.Content, toNode(e))
		}
		return n
	case map[string]any:
		n := &yaml.Node{Kind: yaml.MappingNode}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			n.Content = append(n.Content, strNode(k), toNode(t[k]))
		}
		return n
	}
	s, _ := scalarValue(v)
	return strNode(s)
}

// scalarValue renders a leaf value; ok is false when the value is absent.
func scalarValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	}
	return report.FormatValue(v), true
}

func mapStrings(v any, conv func(string) string) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, e := range list {
		s, ok := scalarValue(e)
		if !ok {
			continue
		}
		out = append(out, conv(s))
	}
	return out
}

func containsRedacted(v any) bool {
	switch t := v.(type) {
	case string:
		return t == report.Redacted
	case []any:
		for _, e := range t {
			if containsRedacted(e) {
				return true
			}
		}
	}
	return false
}

func interpolated(v string) bool {
	for i := 0; i+1 < len(v); i++ {
		if v[i] != '$' {
			continue
		}
		c := v[i+1]
		if c == '$' {
			i++
			continue
		}
		if c == '{' || c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			return true
		}
	}
	return false
}

// detectIndent returns the indentation width of the first nested line.
func detectIndent(data []byte) int {
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimLeft(line, " ")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if n := len(line) - len(trimmed); n > 0 {
			if n > 8 {
				return 8
			}
			if n < 2 {
				return 2
			}
			return n
		}
	}
	return 2
}
