package entity

import (
	"sort"
	"time"
)

// Mount is a single volume attachment of an entity.
type Mount struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mode        string `json:"mode"` // ro or rw
}

// Mount modes
const (
	ModeReadOnly  = "ro"
	ModeReadWrite = "rw"
)

// Spec is the comparable configuration shared by runtime and baseline entities.
type Spec struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Labels      map[string]string `json:"labels,omitempty"`
	Networks    []string          `json:"networks,omitempty"`
	Volumes     []Mount           `json:"volumes,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Ports       []string          `json:"ports,omitempty"`
}

// Runtime is an entity observed on a live host.
type Runtime struct {
	Spec
	ID      string    `json:"id"`
	Host    string    `json:"host"`
	Status  string    `json:"status"`
	Created time.Time `json:"created"`
	Started time.Time `json:"started"`
}

// Baseline is an entity declared in a manifest.
type Baseline struct {
	Spec
	// Service is the key the entity is declared under; Name may differ
	// when an explicit container name is set.
	Service string `json:"service"`
	Stack   string `json:"stack"`
	// SourceFile and OverrideFile are relative to the baseline repository root.
	SourceFile   string `json:"source_file"`
	OverrideFile string `json:"override_file,omitempty"`
}

// Field keys of the comparable tree.
const (
	FieldName        = "name"
	FieldImage       = "image"
	FieldLabels      = "labels"
	FieldNetworks    = "networks"
	FieldVolumes     = "volumes"
	FieldEnvironment = "environment"
	FieldPorts       = "ports"
	FieldID          = "id"
	FieldHost        = "host"
	FieldStatus      = "status"
	FieldCreated     = "created"
	FieldStarted     = "started"
	FieldService     = "service"
	FieldStack       = "stack"
	FieldSourceFile  = "source_file"
)

// Fields returns the field set as a JSON-shaped tree: strings, []any and
// map[string]any only.
func (s Spec) Fields() map[string]any {
	out := map[string]any{
		FieldName:  s.Name,
		FieldImage: s.Image,
	}
	if len(s.Labels) > 0 {
		out[FieldLabels] = stringMap(s.Labels)
	}
	if len(s.Environment) > 0 {
		out[FieldEnvironment] = stringMap(s.Environment)
	}
	if len(s.Networks) > 0 {
		out[FieldNetworks] = stringList(s.Networks)
	}
	if len(s.Ports) > 0 {
		out[FieldPorts] = stringList(s.Ports)
	}
	if len(s.Volumes) > 0 {
		vols := make([]any, 0, len(s.Volumes))
		for _, m := range s.Volumes {
			vols = append(vols, m.String())
		}
		out[FieldVolumes] = vols
	}
	return out
}

// Fields returns the comparable tree including runtime-only metadata.
func (r Runtime) Fields() map[string]any {
	out := r.Spec.Fields()
	out[FieldID] = r.ID
	out[FieldHost] = r.Host
	out[FieldStatus] = r.Status
	if !r.Created.IsZero() {
		out[FieldCreated] = r.Created.UTC().Format(time.RFC3339)
	}
	if !r.Started.IsZero() {
		out[FieldStarted] = r.Started.UTC().Format(time.RFC3339)
	}
	return out
}

// Fields returns the comparable tree including manifest-only metadata.
func (b Baseline) Fields() map[string]any {
	out := b.Spec.Fields()
	out[FieldService] = b.Service
	out[FieldStack] = b.Stack
	out[FieldSourceFile] = b.SourceFile
	return out
}

// String renders the mount in short manifest syntax.
func (m Mount) String() string {
	mode := m.Mode
	if mode == "" {
		mode = ModeReadWrite
	}
	if m.Source == "" {
		return m.Destination + ":" + mode
	}
	return m.Source + ":" + m.Destination + ":" + mode
}

// SortedNetworks returns a sorted copy of names with duplicates removed.
func SortedNetworks(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringList(l []string) []any {
	out := make([]any, 0, len(l))
	for _, v := range l {
		out = append(out, v)
	}
	return out
}
