package remediation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	branchPrefix   = "fix/drift-"
	maxBranchLen   = 200
	maxSegmentLen  = 40
	branchStampFmt = "20060102-150405"
)

var (
	unsafeBranchChars = regexp.MustCompile(`[^a-z0-9._-]+`)
	repeatedDashes    = regexp.MustCompile(`-{2,}`)
	repeatedDots      = regexp.MustCompile(`\.{2,}`)
	validBranch       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)
)

// BranchName derives the remediation branch for an entity. Stack and entity
// names come from hosts and manifests, so everything outside [a-z0-9._-] is
// replaced before they reach git.
func BranchName(stack, entity string, at time.Time) string {
	parts := []string{branchPrefix[:len(branchPrefix)-1]}
	if s := sanitizeSegment(stack); s != "" {
		parts = append(parts, s)
	}
	e := sanitizeSegment(entity)
	if e == "" {
		e = "entity"
	}
	parts = append(parts, e, at.UTC().Format(branchStampFmt))
	return strings.Join(parts, "-")
}

func sanitizeSegment(s string) string {
	s = unsafeBranchChars.ReplaceAllString(strings.ToLower(s), "-")
	s = repeatedDots.ReplaceAllString(s, ".")
	s = repeatedDashes.ReplaceAllString(s, "-")
	if len(s) > maxSegmentLen {
		s = s[:maxSegmentLen]
	}
	return strings.Trim(s, "-.")
}

// ValidateBranch rejects names git would refuse or a shell could misread.
func ValidateBranch(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("branch name is empty")
	case len(name) > maxBranchLen:
		return fmt.Errorf("branch name longer than %d characters", maxBranchLen)
	case !validBranch.MatchString(name):
		return fmt.Errorf("branch name %q contains unsupported characters", name)
	case strings.Contains(name, ".."), strings.Contains(name, "//"), strings.Contains(name, "/."):
		return fmt.Errorf("branch name %q contains an invalid sequence", name)
	case strings.HasSuffix(name, "/"), strings.HasSuffix(name, "."), strings.HasSuffix(name, ".lock"):
		return fmt.Errorf("branch name %q has an invalid suffix", name)
	}
	return nil
}
