package detector

import (
	"github.com/pratik-mahalle/stackdrift/internal/domain/entity"
	"github.com/pratik-mahalle/stackdrift/internal/rules"
)

const (
	labelComposeProject = "com.docker.compose.project"
	labelComposeService = "com.docker.compose.service"
)

// matcher pairs runtime entities with baselines. Each baseline is consumed
// by at most one runtime entity.
type matcher struct {
	baselines []entity.Baseline
	byName    map[string][]int
	consumed  map[int]bool
	strict    bool
}

func newMatcher(baselines []entity.Baseline, strict bool) *matcher {
	m := &matcher{
		baselines: baselines,
		byName:    make(map[string][]int),
		consumed:  make(map[int]bool),
		strict:    strict,
	}
	for i, b := range baselines {
		m.byName[b.Name] = append(m.byName[b.Name], i)
	}
	return m
}

// match returns the index of the baseline for r, or -1.
func (m *matcher) match(r entity.Runtime) int {
	if idx := m.direct(r); idx >= 0 {
		m.consumed[idx] = true
		return idx
	}
	if idx := m.prefixed(r); idx >= 0 {
		m.consumed[idx] = true
		return idx
	}
	return -1
}

// direct matches on identical names. Among several candidates a baseline
// with the same image repository wins, then one not yet consumed.
func (m *matcher) direct(r entity.Runtime) int {
	candidates := m.byName[r.Name]
	if len(candidates) == 0 {
		return -1
	}
	best, bestScore := -1, -1
	for _, idx := range candidates {
		score := 0
		if rules.SameRepository(m.baselines[idx].Image, r.Image) {
			score += 2
		}
		if !m.consumed[idx] {
			score++
		}
		if score > bestScore {
			best, bestScore = idx, score
		}
	}
	return best
}

// prefixed matches "<stack>_<service>" style names against unconsumed
// baselines. A single candidate always matches, so an image repository
// change surfaces as drift. Among several candidates strict mode keeps only
// those with the runtime image repository, then ties go to the baseline
// whose compose labels agree with the runtime entity and finally to the
// longest stack name.
func (m *matcher) prefixed(r entity.Runtime) int {
	var candidates []int
	for idx, b := range m.baselines {
		if m.consumed[idx] {
			continue
		}
		rest, ok := entity.StackRemainder(r.Name, b.Stack)
		if !ok || (rest != b.Service && rest != b.Name) {
			continue
		}
		candidates = append(candidates, idx)
	}
	if len(candidates) > 1 && m.strict {
		candidates = m.sameRepository(candidates, r.Image)
	}

	best, bestScore := -1, -1
	for _, idx := range candidates {
		b := m.baselines[idx]
		score := 0
		if r.Labels[labelComposeProject] == entity.ProjectName(b.Stack) && r.Labels[labelComposeService] == b.Service {
			score = 1 << 16
		}
		score += len(b.Stack)
		if score > bestScore {
			best, bestScore = idx, score
		}
	}
	return best
}

func (m *matcher) sameRepository(candidates []int, image string) []int {
	kept := candidates[:0:0]
	for _, idx := range candidates {
		if rules.SameRepository(m.baselines[idx].Image, image) {
			kept = append(kept, idx)
		}
	}
	return kept
}
