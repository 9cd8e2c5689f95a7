package baseline

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
)

// ManifestNames are the recognised base manifest file names, in priority order.
var ManifestNames = []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"}

var yamlLine = regexp.MustCompile(`line (\d+)`)

// ParseManifest reads and decodes a manifest file into a plain tree of
// map[string]any, []any and scalars.
func ParseManifest(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.ManifestNotFound(path)
		}
		return nil, errors.Internal(fmt.Sprintf("failed to read %s", path), err)
	}
	return DecodeManifest(path, data)
}

// DecodeManifest decodes manifest content; path is only used for error reporting.
func DecodeManifest(path string, data []byte) (map[string]any, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, errors.ParseError(path, 0, fmt.Errorf("empty manifest"))
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.ParseError(path, errorLine(err), err)
	}
	tree, ok := normalizeTree(raw).(map[string]any)
	if !ok {
		return nil, errors.ParseError(path, 1, fmt.Errorf("top level must be a mapping"))
	}
	return tree, nil
}

// errorLine extracts the first line number reported by the YAML decoder.
func errorLine(err error) int {
	m := yamlLine.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// normalizeTree converts decoder output to string-keyed maps throughout.
func normalizeTree(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeTree(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeTree(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeTree(val)
		}
		return out
	default:
		return v
	}
}

// Services returns the services mapping of a manifest, or nil.
func Services(tree map[string]any) map[string]any {
	svcs, _ := tree["services"].(map[string]any)
	return svcs
}

// scalarString renders a YAML scalar the way it would appear in a container
// environment. nil becomes "".
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// KeyValues normalizes the two encodings of labels and environment, a
// mapping or a list of "KEY=value" strings, into one map. List entries
// without "=" map to an empty value.
func KeyValues(v any) map[string]string {
	out := map[string]string{}
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			out[k] = scalarString(val)
		}
	case []any:
		for _, item := range t {
			s := scalarString(item)
			if s == "" {
				continue
			}
			k, val, _ := strings.Cut(s, "=")
			out[strings.TrimSpace(k)] = val
		}
	}
	return out
}
