package baseline

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
)

// TargetsFile maps stacks to the deployment targets they run on.
const TargetsFile = "stack-targets.yml"

// StackTarget is one entry of the deployment mapping file
type StackTarget struct {
	Stack   string   `json:"stack"`
	Targets []string `json:"targets,omitempty"`
}

// LoadTargets parses <root>/stack-targets.yml. A missing file yields no
// entries and no error. Entries whose value is not a mapping are ignored.
func LoadTargets(root string) ([]StackTarget, error) {
	path := filepath.Join(root, TargetsFile)
	data, err := os.ReadFile(path)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	tree, err := DecodeManifest(path, data)
	if err != nil {
		return nil, err
	}

	out := make([]StackTarget, 0, len(tree))
	for stack, raw := range tree {
		info, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		st := StackTarget{Stack: stack}
		for _, key := range []string{"targets", "hosts", "endpoints"} {
			if list, ok := info[key].([]any); ok {
				for _, t := range list {
					st.Targets = append(st.Targets, scalarString(t))
				}
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stack < out[j].Stack })
	return out, nil
}
