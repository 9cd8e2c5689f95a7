package rules

import (
	"strconv"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
)

const latestTag = "latest"

// ImageRef is a parsed image reference.
type ImageRef struct {
	Repository string
	Tag        string
	Digest     string
}

// ParseImage splits an image reference into repository and tag. Short names
// are expanded the way registries resolve them, and a missing tag means
// "latest". Unparseable references fall back to splitting on the last colon.
func ParseImage(image string) ImageRef {
	image = strings.TrimSpace(image)
	if image == "" {
		return ImageRef{}
	}
	ref, err := name.ParseReference(image, name.WeakValidation)
	if err == nil {
		switch r := ref.(type) {
		case name.Tag:
			return ImageRef{Repository: r.Context().Name(), Tag: r.TagStr()}
		case name.Digest:
			return ImageRef{Repository: r.Context().Name(), Digest: r.DigestStr()}
		}
	}

	repo, tag := image, latestTag
	if at := strings.Index(repo, "@"); at >= 0 {
		return ImageRef{Repository: repo[:at], Digest: repo[at+1:]}
	}
	if i := strings.LastIndex(image, ":"); i > strings.LastIndex(image, "/") {
		repo, tag = image[:i], image[i+1:]
	}
	return ImageRef{Repository: repo, Tag: tag}
}

// SameImage reports whether two references resolve to the same repository and tag.
func SameImage(a, b string) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	return ParseImage(a) == ParseImage(b)
}

// SameRepository reports whether two references share a repository.
func SameRepository(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return ParseImage(a).Repository == ParseImage(b).Repository
}

// CompareImages grades an image change.
//   - different repositories: breaking
//   - pinned baseline replaced by "latest": breaking
//   - different leading numeric version component: breaking
//   - anything else: functional
func CompareImages(baseline, runtime string) drift.Severity {
	if baseline == "" || runtime == "" {
		return drift.SeverityBreaking
	}
	b, r := ParseImage(baseline), ParseImage(runtime)
	if b.Repository != r.Repository {
		return drift.SeverityBreaking
	}
	if b.Tag != "" && b.Tag != latestTag && r.Tag == latestTag {
		return drift.SeverityBreaking
	}
	bMajor, bok := majorVersion(b.Tag)
	rMajor, rok := majorVersion(r.Tag)
	if bok && rok && bMajor != rMajor {
		return drift.SeverityBreaking
	}
	return drift.SeverityFunctional
}

// majorVersion extracts the leading numeric component of a tag such as
// "v1.2.3-alpine" or "2024.01".
func majorVersion(tag string) (int, bool) {
	tag = strings.TrimPrefix(strings.TrimPrefix(tag, "v"), "V")
	end := strings.IndexFunc(tag, func(r rune) bool { return r < '0' || r > '9' })
	if end == 0 {
		return 0, false
	}
	if end < 0 {
		end = len(tag)
	}
	n, err := strconv.Atoi(tag[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
