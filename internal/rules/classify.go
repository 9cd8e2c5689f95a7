package rules

import (
	"strings"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
)

// Classify assigns a severity to a difference at fieldPath. Image changes
// are graded by CompareImages; everything unknown is treated as functional.
func (rs *RuleSet) Classify(fieldPath string, baseline, runtime any) drift.Severity {
	if s, ok := rs.Override(fieldPath); ok {
		return s
	}

	top, rest, _ := strings.Cut(fieldPath, ".")
	switch top {
	case "image":
		b, _ := baseline.(string)
		r, _ := runtime.(string)
		return CompareImages(b, r)
	case "environment":
		if rest != "" && rs.IsCriticalEnv(rest) {
			return drift.SeverityBreaking
		}
		return drift.SeverityFunctional
	case "labels":
		for _, prefix := range rs.RoutingLabels {
			if rest == prefix || strings.HasPrefix(rest, prefix+".") {
				return drift.SeverityFunctional
			}
		}
		return drift.SeverityCosmetic
	}
	// ports, volumes, networks and anything unknown
	return drift.SeverityFunctional
}
