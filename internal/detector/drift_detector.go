package detector

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	"github.com/pratik-mahalle/stackdrift/internal/domain/entity"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/internal/rules"
)

// Options tunes matching and annotates results
type Options struct {
	// StrictPrefixMatch only trusts a stack-prefix match when the runtime
	// and baseline images share a repository.
	StrictPrefixMatch bool
	Target            string
	BaselineRepo      string
}

// Input is everything one comparison needs
type Input struct {
	RunID     string
	Timestamp time.Time
	Hosts     []string
	Runtime   []entity.Runtime
	Baseline  []entity.Baseline
	Failures  []drift.Failure
	// IncompleteHosts were unreachable or only partly inspected. While any
	// is set an unmatched baseline may simply live there, so it is reported
	// as unverified rather than missing.
	IncompleteHosts []string
}

// NewInput stamps a fresh run id and time on the given entity sets.
func NewInput(runtime []entity.Runtime, baseline []entity.Baseline) Input {
	return Input{
		RunID:     uuid.NewString(),
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Runtime:   runtime,
		Baseline:  baseline,
	}
}

// DriftDetector compares runtime entities against their declared baselines
type DriftDetector struct {
	rules  *rules.RuleSet
	opts   Options
	logger *logger.Logger
}

// NewDriftDetector creates a new drift detector
func NewDriftDetector(rs *rules.RuleSet, opts Options, log *logger.Logger) *DriftDetector {
	if rs == nil {
		rs = rules.Default()
	}
	return &DriftDetector{
		rules:  rs,
		opts:   opts,
		logger: log.WithComponent("detector"),
	}
}

// Compare matches every runtime entity to a baseline and diffs the pairs.
// Entities are reported in (host, name) order, followed by unmatched
// baselines in (stack, name) order. The same input always yields the same
// result. Unmatched baselines become unverified instead of missing when
// in.IncompleteHosts is set.
func (d *DriftDetector) Compare(in Input) *drift.Result {
	runtime := append([]entity.Runtime(nil), in.Runtime...)
	sort.SliceStable(runtime, func(i, j int) bool {
		if runtime[i].Host != runtime[j].Host {
			return runtime[i].Host < runtime[j].Host
		}
		return runtime[i].Name < runtime[j].Name
	})
	baselines := append([]entity.Baseline(nil), in.Baseline...)
	sort.SliceStable(baselines, func(i, j int) bool {
		if baselines[i].Stack != baselines[j].Stack {
			return baselines[i].Stack < baselines[j].Stack
		}
		if baselines[i].Name != baselines[j].Name {
			return baselines[i].Name < baselines[j].Name
		}
		return baselines[i].SourceFile < baselines[j].SourceFile
	})

	m := newMatcher(baselines, d.opts.StrictPrefixMatch)
	result := &drift.Result{
		RunID:        in.RunID,
		Timestamp:    in.Timestamp,
		Target:       d.opts.Target,
		BaselineRepo: d.opts.BaselineRepo,
		Entities:     make([]drift.EntityDrift, 0, len(runtime)+len(baselines)),
	}
	if len(in.Hosts) > 0 {
		result.Hosts = append([]string(nil), in.Hosts...)
	}
	if len(in.Failures) > 0 {
		result.Failures = append([]drift.Failure(nil), in.Failures...)
	}

	for _, r := range runtime {
		idx := m.match(r)
		if idx < 0 {
			result.Entities = append(result.Entities, drift.EntityDrift{
				EntityName:      r.Name,
				Host:            r.Host,
				RuntimeID:       r.ID,
				BaselineMissing: true,
				Items:           []drift.Item{},
			})
			continue
		}

		b := baselines[idx]
		ed := drift.EntityDrift{
			EntityName:   r.Name,
			Service:      b.Service,
			Stack:        b.Stack,
			Host:         r.Host,
			RuntimeID:    r.ID,
			SourceFile:   b.SourceFile,
			OverrideFile: b.OverrideFile,
			Matched:      true,
			Items:        d.DeepCompare(b.Fields(), r.Fields()),
		}
		if b.Name != r.Name {
			ed.BaselineName = b.Name
		}
		result.Entities = append(result.Entities, ed)
	}

	for idx, b := range baselines {
		if m.consumed[idx] {
			continue
		}
		if len(in.IncompleteHosts) > 0 {
			result.Unverified = append(result.Unverified, b.Name)
			continue
		}
		result.Entities = append(result.Entities, drift.EntityDrift{
			EntityName:    b.Name,
			Service:       b.Service,
			Stack:         b.Stack,
			SourceFile:    b.SourceFile,
			OverrideFile:  b.OverrideFile,
			EntityMissing: true,
			Items:         []drift.Item{},
		})
	}

	result.Recount()

	if len(result.Unverified) > 0 {
		d.logger.WithFields(map[string]interface{}{
			"incomplete_hosts": strings.Join(in.IncompleteHosts, ","),
			"unverified":       len(result.Unverified),
		}).Warn("Unmatched baselines not reported as missing, some hosts were not fully inspected")
	}

	d.logger.WithFields(map[string]interface{}{
		"run_id":              result.RunID,
		"entities_analyzed":   result.EntitiesAnalyzed,
		"entities_with_drift": result.EntitiesWithDrift,
		"total_items":         result.TotalItems,
	}).Info("Comparison complete")

	return result
}

// DeepCompare walks two comparable trees in parallel and returns one item
// per differing leaf, sorted by field path.
func (d *DriftDetector) DeepCompare(baseline, runtime map[string]any) []drift.Item {
	items := []drift.Item{}
	d.compareValues("", baseline, runtime, &items)
	sort.SliceStable(items, func(i, j int) bool { return items[i].FieldPath < items[j].FieldPath })
	return items
}

func (d *DriftDetector) compareValues(path string, baseline, runtime any, items *[]drift.Item) {
	if path != "" && d.rules.IsEphemeral(path) {
		return
	}
	baseline, runtime = normalize(baseline), normalize(runtime)

	bMap, bIsMap := baseline.(map[string]any)
	rMap, rIsMap := runtime.(map[string]any)
	if (bIsMap || baseline == nil) && (rIsMap || runtime == nil) && (bIsMap || rIsMap) {
		for _, key := range unionKeys(bMap, rMap) {
			d.compareValues(joinPath(path, key), bMap[key], rMap[key], items)
		}
		return
	}

	top, _, _ := strings.Cut(path, ".")
	bList, bIsList := baseline.([]any)
	rList, rIsList := runtime.([]any)
	unordered := d.rules.IsUnordered(top) && (bIsList || rIsList)
	if unordered {
		if bIsList {
			bList = sortedList(bList)
			baseline = bList
		}
		if rIsList {
			rList = sortedList(rList)
			runtime = rList
		}
	}

	if d.valuesEqual(top, baseline, runtime) {
		return
	}

	*items = append(*items, drift.Item{
		FieldPath:     path,
		BaselineValue: baseline,
		RuntimeValue:  runtime,
		Severity:      d.rules.Classify(path, baseline, runtime),
		Description:   d.describe(path, baseline, runtime, unordered),
	})
}

// valuesEqual compares two normalized values for equality
func (d *DriftDetector) valuesEqual(field string, v1, v2 any) bool {
	if v1 == nil && v2 == nil {
		return true
	}
	if v1 == nil || v2 == nil {
		return false
	}
	if field == entity.FieldImage {
		s1, ok1 := v1.(string)
		s2, ok2 := v2.(string)
		if ok1 && ok2 {
			return rules.SameImage(s1, s2)
		}
	}
	return reflect.DeepEqual(v1, v2)
}

// describe creates a human-readable description of one change
func (d *DriftDetector) describe(path string, baseline, runtime any, unordered bool) string {
	switch {
	case baseline == nil:
		if d.rules.IsSensitive(path) {
			return fmt.Sprintf("%s is set at runtime but not declared", path)
		}
		return fmt.Sprintf("%s is set at runtime to %s but not declared", path, display(runtime))
	case runtime == nil:
		return fmt.Sprintf("%s is declared but not set at runtime", path)
	}

	bList, bok := baseline.([]any)
	rList, rok := runtime.([]any)
	if bok && rok {
		if unordered {
			added, removed := listDelta(bList, rList)
			return fmt.Sprintf("%s differs: %d added at runtime, %d missing at runtime", path, len(added), len(removed))
		}
		return fmt.Sprintf("%s differs from position %d", path, firstDifference(bList, rList))
	}

	if d.rules.IsSensitive(path) {
		return fmt.Sprintf("%s changed (value hidden)", path)
	}
	return fmt.Sprintf("%s changed from %s to %s", path, display(baseline), display(runtime))
}

// normalize folds equivalent encodings: "" and empty collections are
// absent, and the exact strings "true" and "false" are booleans.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		switch t {
		case "":
			return nil
		case "true":
			return true
		case "false":
			return false
		}
		return t
	case []any:
		if len(t) == 0 {
			return nil
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
		return t
	default:
		return v
	}
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func sortedList(l []any) []any {
	out := append([]any(nil), l...)
	sort.SliceStable(out, func(i, j int) bool { return canonical(out[i]) < canonical(out[j]) })
	return out
}

func canonical(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func listDelta(baseline, runtime []any) (added, removed []string) {
	inBaseline := map[string]int{}
	for _, v := range baseline {
		inBaseline[canonical(v)]++
	}
	for _, v := range runtime {
		key := canonical(v)
		if inBaseline[key] > 0 {
			inBaseline[key]--
			continue
		}
		added = append(added, key)
	}
	for key, n := range inBaseline {
		for ; n > 0; n-- {
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	return added, removed
}

func firstDifference(a, b []any) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if !reflect.DeepEqual(a[i], b[i]) {
			return i
		}
	}
	if len(a) < len(b) {
		return len(a)
	}
	return len(b)
}

func display(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return canonical(v)
}
