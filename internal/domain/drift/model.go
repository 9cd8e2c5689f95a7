package drift

import (
	"fmt"
	"sort"
	"time"
)

// Severity classifies the impact of a drift item
type Severity string

// Severity levels, most severe first
const (
	SeverityBreaking      Severity = "breaking"
	SeverityFunctional    Severity = "functional"
	SeverityCosmetic      Severity = "cosmetic"
	SeverityInformational Severity = "informational"
)

// Severities lists all levels in descending order of impact.
var Severities = []Severity{SeverityBreaking, SeverityFunctional, SeverityCosmetic, SeverityInformational}

// Rank orders severities; lower is more severe. Unknown values rank last.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return len(Severities)
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() < len(Severities)
}

// ParseSeverity parses a severity name.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// Item is a single field-level difference
type Item struct {
	FieldPath     string   `json:"field_path"`
	BaselineValue any      `json:"baseline_value"`
	RuntimeValue  any      `json:"runtime_value"`
	Severity      Severity `json:"severity"`
	Description   string   `json:"description"`
}

// EntityDrift is the comparison outcome for one entity
type EntityDrift struct {
	EntityName string `json:"entity_name"`
	// BaselineName is set when the match went through the stack prefix
	// and the declared name differs from the runtime one.
	BaselineName    string `json:"baseline_name,omitempty"`
	Service         string `json:"service,omitempty"`
	Stack           string `json:"stack,omitempty"`
	Host            string `json:"host,omitempty"`
	RuntimeID       string `json:"runtime_id,omitempty"`
	SourceFile      string `json:"source_file,omitempty"`
	OverrideFile    string `json:"override_file,omitempty"`
	Matched         bool   `json:"matched"`
	BaselineMissing bool   `json:"baseline_missing"`
	EntityMissing   bool   `json:"entity_missing"`
	Items           []Item `json:"items"`
}

// HasDrift reports whether the entity needs attention.
func (e EntityDrift) HasDrift() bool {
	return len(e.Items) > 0 || e.BaselineMissing || e.EntityMissing
}

// HighestSeverity returns the most severe item level, or "" when there are no items.
func (e EntityDrift) HighestSeverity() Severity {
	var top Severity
	for _, it := range e.Items {
		if top == "" || it.Severity.Rank() < top.Rank() {
			top = it.Severity
		}
	}
	return top
}

// ItemsBySeverity returns the items at the given level, in field path order.
func (e EntityDrift) ItemsBySeverity(s Severity) []Item {
	var out []Item
	for _, it := range e.Items {
		if it.Severity == s {
			out = append(out, it)
		}
	}
	return out
}

// Counts is the per-severity histogram of drift items
type Counts struct {
	Breaking      int `json:"breaking"`
	Functional    int `json:"functional"`
	Cosmetic      int `json:"cosmetic"`
	Informational int `json:"informational"`
}

// Get returns the count for a severity.
func (c Counts) Get(s Severity) int {
	switch s {
	case SeverityBreaking:
		return c.Breaking
	case SeverityFunctional:
		return c.Functional
	case SeverityCosmetic:
		return c.Cosmetic
	case SeverityInformational:
		return c.Informational
	}
	return 0
}

func (c *Counts) add(s Severity) {
	switch s {
	case SeverityBreaking:
		c.Breaking++
	case SeverityFunctional:
		c.Functional++
	case SeverityCosmetic:
		c.Cosmetic++
	case SeverityInformational:
		c.Informational++
	}
}

// Total sums all levels.
func (c Counts) Total() int {
	return c.Breaking + c.Functional + c.Cosmetic + c.Informational
}

// Map returns the histogram keyed by severity name.
func (c Counts) Map() map[string]int {
	out := make(map[string]int, len(Severities))
	for _, s := range Severities {
		out[string(s)] = c.Get(s)
	}
	return out
}

// Failure records an input that could not be collected during a run.
type Failure struct {
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Result is the aggregate of one detection run
type Result struct {
	RunID             string        `json:"run_id"`
	Timestamp         time.Time     `json:"timestamp"`
	Target            string        `json:"target,omitempty"`
	Hosts             []string      `json:"hosts,omitempty"`
	BaselineRepo      string        `json:"baseline_repo,omitempty"`
	EntitiesAnalyzed  int           `json:"entities_analyzed"`
	EntitiesWithDrift int           `json:"entities_with_drift"`
	TotalItems        int           `json:"total_items"`
	SeveritySummary   Counts        `json:"severity_summary"`
	Entities          []EntityDrift `json:"entities"`
	Failures          []Failure     `json:"failures,omitempty"`
	// Unverified lists declared entities that no runtime entity matched
	// while at least one host could not be fully inspected. They are not
	// reported as missing and do not count as drift.
	Unverified []string `json:"unverified,omitempty"`
}

// Recount recomputes every aggregate from the entity list.
func (r *Result) Recount() {
	r.EntitiesAnalyzed = len(r.Entities)
	r.EntitiesWithDrift = 0
	r.TotalItems = 0
	r.SeveritySummary = Counts{}
	for _, e := range r.Entities {
		if e.HasDrift() {
			r.EntitiesWithDrift++
		}
		for _, it := range e.Items {
			r.TotalItems++
			r.SeveritySummary.add(it.Severity)
		}
	}
}

// SortItems orders the items of every entity by field path. Entity order
// is left as produced.
func (r *Result) SortItems() {
	for i := range r.Entities {
		items := r.Entities[i].Items
		sort.SliceStable(items, func(a, b int) bool { return items[a].FieldPath < items[b].FieldPath })
	}
}

// Validate checks the structural invariants of a result.
func (r *Result) Validate() error {
	var counts Counts
	withDrift, total := 0, 0
	for _, e := range r.Entities {
		if e.EntityMissing && len(e.Items) > 0 {
			return fmt.Errorf("entity %q is missing but carries %d items", e.EntityName, len(e.Items))
		}
		if e.BaselineMissing && len(e.Items) > 0 {
			return fmt.Errorf("entity %q has no baseline but carries %d items", e.EntityName, len(e.Items))
		}
		if e.Matched && (e.EntityMissing || e.BaselineMissing) {
			return fmt.Errorf("entity %q is both matched and missing", e.EntityName)
		}
		if e.HasDrift() {
			withDrift++
		}
		for _, it := range e.Items {
			if !it.Severity.Valid() {
				return fmt.Errorf("entity %q item %q has unknown severity %q", e.EntityName, it.FieldPath, it.Severity)
			}
			counts.add(it.Severity)
			total++
		}
	}
	if r.EntitiesAnalyzed != len(r.Entities) {
		return fmt.Errorf("entities_analyzed = %d, want %d", r.EntitiesAnalyzed, len(r.Entities))
	}
	if r.EntitiesWithDrift != withDrift {
		return fmt.Errorf("entities_with_drift = %d, want %d", r.EntitiesWithDrift, withDrift)
	}
	if r.TotalItems != total || r.SeveritySummary != counts {
		return fmt.Errorf("severity summary %+v does not match items %+v", r.SeveritySummary, counts)
	}
	return nil
}

// HasDrift reports whether any entity needs attention.
func (r *Result) HasDrift() bool {
	return r.EntitiesWithDrift > 0
}

// DriftPercent is the share of analyzed entities with drift.
func (r *Result) DriftPercent() float64 {
	if r.EntitiesAnalyzed == 0 {
		return 0
	}
	return float64(r.EntitiesWithDrift) / float64(r.EntitiesAnalyzed) * 100
}

// Drifted returns the entities that need attention.
func (r *Result) Drifted() []EntityDrift {
	var out []EntityDrift
	for _, e := range r.Entities {
		if e.HasDrift() {
			out = append(out, e)
		}
	}
	return out
}

// Clean returns matched entities without items.
func (r *Result) Clean() []EntityDrift {
	var out []EntityDrift
	for _, e := range r.Entities {
		if !e.HasDrift() {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the first entity with the given runtime or baseline name.
func (r *Result) Find(name string) (EntityDrift, bool) {
	for _, e := range r.Entities {
		if e.EntityName == name || (e.BaselineName != "" && e.BaselineName == name) || (e.Service != "" && e.Service == name) {
			return e, true
		}
	}
	return EntityDrift{}, false
}
