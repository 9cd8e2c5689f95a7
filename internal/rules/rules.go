// Package rules holds the tunable tables that drive comparison,
// classification and redaction.
package rules

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
)

// SeverityOverride forces a severity for field paths matching Pattern.
type SeverityOverride struct {
	Pattern  string         `yaml:"pattern" json:"pattern"`
	Severity drift.Severity `yaml:"severity" json:"severity"`
}

// RuleSet is immutable once loaded and safe to share between goroutines.
type RuleSet struct {
	// EphemeralFields are excluded from comparison.
	EphemeralFields []string `yaml:"ephemeral_fields"`
	// UnorderedLists are list fields compared as sets.
	UnorderedLists []string `yaml:"unordered_lists"`
	// CriticalEnv are variable name patterns whose change is breaking.
	CriticalEnv []string `yaml:"critical_env"`
	// RoutingLabels are label key prefixes whose change is functional.
	RoutingLabels []string `yaml:"routing_labels"`
	// Sensitive are field name patterns whose values are redacted.
	Sensitive []string `yaml:"sensitive"`
	// Overrides take precedence over every built-in classification.
	Overrides []SeverityOverride `yaml:"overrides"`
	// StructureSeverity overrides the default level of structure rules.
	StructureSeverity map[string]string `yaml:"structure_severity"`
}

// Default returns the built-in rule tables.
func Default() *RuleSet {
	return &RuleSet{
		EphemeralFields: []string{
			"name", "service", "stack", "source_file",
			"id", "host", "status", "created", "started",
			"labels.com.docker.compose.*",
			"labels.org.opencontainers.image.*",
			"environment.PATH",
		},
		UnorderedLists: []string{"networks", "ports", "volumes"},
		CriticalEnv: []string{
			"*DATABASE*", "DB_HOST", "DB_PORT",
			"REDIS_URL", "REDIS_HOST",
			"*API_KEY*", "API_URL",
			"VPN_*", "TUNNEL_*",
		},
		RoutingLabels: []string{
			"traefik.http.routers",
			"traefik.http.services",
		},
		Sensitive: []string{
			"*PASSWORD*", "*PASSWD*", "*PWD*", "*SECRET*", "*TOKEN*",
			"*KEY*", "*AUTH*", "*CREDENTIAL*", "*PRIVATE*", "*CERTIFICATE*",
			"*DATABASE_URL*", "*REDIS_URL*",
		},
	}
}

// Load reads a YAML rule file and layers it over the defaults. Lists in the
// file replace the built-in ones; absent keys keep the defaults.
func Load(file string) (*RuleSet, error) {
	rs := Default()
	if file == "" {
		return rs, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", file, err)
	}
	var overlay RuleSet
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", file, err)
	}
	if overlay.EphemeralFields != nil {
		rs.EphemeralFields = overlay.EphemeralFields
	}
	if overlay.UnorderedLists != nil {
		rs.UnorderedLists = overlay.UnorderedLists
	}
	if overlay.CriticalEnv != nil {
		rs.CriticalEnv = overlay.CriticalEnv
	}
	if overlay.RoutingLabels != nil {
		rs.RoutingLabels = overlay.RoutingLabels
	}
	if overlay.Sensitive != nil {
		rs.Sensitive = overlay.Sensitive
	}
	rs.Overrides = overlay.Overrides
	rs.StructureSeverity = overlay.StructureSeverity
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("rules %s: %w", file, err)
	}
	return rs, nil
}

// Validate checks that every pattern compiles and every severity is known.
func (rs *RuleSet) Validate() error {
	groups := [][]string{rs.EphemeralFields, rs.CriticalEnv, rs.Sensitive}
	for _, g := range groups {
		for _, p := range g {
			if _, err := path.Match(p, ""); err != nil {
				return fmt.Errorf("invalid pattern %q: %w", p, err)
			}
		}
	}
	for _, o := range rs.Overrides {
		if _, err := path.Match(o.Pattern, ""); err != nil {
			return fmt.Errorf("invalid override pattern %q: %w", o.Pattern, err)
		}
		if !o.Severity.Valid() {
			return fmt.Errorf("override %q: unknown severity %q", o.Pattern, o.Severity)
		}
	}
	for rule, level := range rs.StructureSeverity {
		switch strings.ToLower(level) {
		case "error", "warning", "info":
		default:
			return fmt.Errorf("structure rule %q: unknown level %q", rule, level)
		}
	}
	return nil
}

// IsEphemeral reports whether a field path is excluded from comparison.
// A pattern excludes the paths it matches and everything below them.
func (rs *RuleSet) IsEphemeral(fieldPath string) bool {
	for _, p := range rs.EphemeralFields {
		if matchPath(p, fieldPath) {
			return true
		}
	}
	return false
}

// IsUnordered reports whether a top-level list field is compared as a set.
func (rs *RuleSet) IsUnordered(field string) bool {
	for _, f := range rs.UnorderedLists {
		if f == field {
			return true
		}
	}
	return false
}

// IsCriticalEnv reports whether a variable name is in the breaking family.
func (rs *RuleSet) IsCriticalEnv(name string) bool {
	return matchAnyFold(rs.CriticalEnv, name)
}

// IsSensitive reports whether a field path carries a value that must never
// be published. Critical variables are treated as sensitive as well.
func (rs *RuleSet) IsSensitive(fieldPath string) bool {
	name := fieldPath
	if i := strings.Index(fieldPath, "."); i >= 0 {
		name = fieldPath[i+1:]
	}
	if matchAnyFold(rs.Sensitive, name) || matchAnyFold(rs.Sensitive, fieldPath) {
		return true
	}
	return strings.HasPrefix(fieldPath, "environment.") && rs.IsCriticalEnv(name)
}

// Override returns a forced severity for the path, if one is configured.
func (rs *RuleSet) Override(fieldPath string) (drift.Severity, bool) {
	for _, o := range rs.Overrides {
		if matchPath(o.Pattern, fieldPath) {
			return o.Severity, true
		}
	}
	return "", false
}

func matchPath(pattern, fieldPath string) bool {
	if ok, _ := path.Match(pattern, fieldPath); ok {
		return true
	}
	return strings.HasPrefix(fieldPath, pattern+".")
}

func matchAnyFold(patterns []string, name string) bool {
	upper := strings.ToUpper(name)
	for _, p := range patterns {
		if ok, _ := path.Match(strings.ToUpper(p), upper); ok {
			return true
		}
	}
	return false
}
