package entity

import (
	"regexp"
	"strings"
)

var replicaSuffix = regexp.MustCompile(`[_-][0-9]+$`)

// TrimReplica strips an orchestrator replica suffix such as "_1" or "-2".
func TrimReplica(name string) string {
	return replicaSuffix.ReplaceAllString(name, "")
}

// ProjectName normalizes a stack name the way compose derives project names.
func ProjectName(stack string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(stack) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StackRemainder returns what is left of a runtime name once the stack
// prefix and separator are removed, with any replica suffix stripped.
// ok is false when name does not start with the stack prefix.
func StackRemainder(name, stack string) (string, bool) {
	if stack == "" {
		return "", false
	}
	candidates := []string{stack}
	if p := ProjectName(stack); p != stack {
		candidates = append(candidates, p)
	}
	for _, prefix := range candidates {
		for _, sep := range []string{"_", "-"} {
			if rest, found := strings.CutPrefix(name, prefix+sep); found && rest != "" {
				return TrimReplica(rest), true
			}
		}
	}
	return "", false
}

// MatchesService reports whether a runtime name refers to a declared service,
// either directly or through the stack-prefixed naming orchestrators apply.
func MatchesService(runtimeName, stack, service, containerName string) bool {
	if containerName != "" && runtimeName == containerName {
		return true
	}
	if runtimeName == service {
		return true
	}
	rest, ok := StackRemainder(runtimeName, stack)
	return ok && rest == service
}
