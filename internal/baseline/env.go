package baseline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
)

// EnvFileNames are tried in order; the first existing file wins.
var EnvFileNames = []string{".env", ".env.sample", ".env.example"}

// LoadEnv reads the environment file of a stack directory. It returns the
// variables and the file they came from, or an empty map when the stack has
// no environment file at all.
func LoadEnv(dir string) (map[string]string, string, error) {
	for _, name := range EnvFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		vars, err := godotenv.Read(path)
		if err != nil {
			return nil, path, errors.ParseError(path, 0, err)
		}
		return vars, path, nil
	}
	return map[string]string{}, "", nil
}

// Substitute resolves variable references in every string of a decoded
// manifest tree. Keys are left untouched.
func Substitute(v any, env map[string]string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Substitute(val, env)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Substitute(val, env)
		}
		return out
	case string:
		return SubstituteString(t, env)
	default:
		return v
	}
}

// SubstituteString expands $VAR, ${VAR}, ${VAR:-default}, ${VAR-default},
// ${VAR:+alt}, ${VAR+alt} and the ${VAR:?msg} forms. "$$" is a literal "$".
// Unresolved variables expand to the empty string.
func SubstituteString(s string, env map[string]string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch {
		case next == '$':
			b.WriteByte('$')
			i++
		case next == '{':
			end := closingBrace(s, i+2)
			if end < 0 {
				b.WriteString(s[i:])
				return b.String()
			}
			b.WriteString(expandExpr(s[i+2:end], env))
			i = end
		case isNameStart(next):
			j := i + 1
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			b.WriteString(env[s[i+1:j]])
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// closingBrace finds the brace that closes an expression starting at from,
// honouring nested ${...} in default values.
func closingBrace(s string, from int) int {
	depth := 1
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func expandExpr(expr string, env map[string]string) string {
	end := 0
	for end < len(expr) && isNameChar(expr[end]) {
		end++
	}
	name, rest := expr[:end], expr[end:]
	val, set := env[name]

	switch {
	case rest == "":
		return val
	case strings.HasPrefix(rest, ":-"):
		if val == "" {
			return SubstituteString(rest[2:], env)
		}
		return val
	case strings.HasPrefix(rest, "-"):
		if !set {
			return SubstituteString(rest[1:], env)
		}
		return val
	case strings.HasPrefix(rest, ":+"):
		if val != "" {
			return SubstituteString(rest[2:], env)
		}
		return ""
	case strings.HasPrefix(rest, "+"):
		if set {
			return SubstituteString(rest[1:], env)
		}
		return ""
	case strings.HasPrefix(rest, ":?"), strings.HasPrefix(rest, "?"):
		// A required variable that is missing is not fatal here.
		return val
	default:
		return val
	}
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
