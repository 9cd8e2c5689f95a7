// Package audit checks baseline repositories for stale files and
// convention violations. Nothing here modifies the repository.
package audit

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// manifestPatterns match base manifests and their target overrides.
var manifestPatterns = []string{"docker-compose*.yml", "docker-compose*.yaml", "compose*.yml", "compose*.yaml"}

// sampleEnvNames are template environment files that are never stale.
var sampleEnvNames = map[string]bool{".env.sample": true, ".env.example": true}

// manifestFiles returns every manifest in dir, sorted.
func manifestFiles(dir string) []string {
	seen := map[string]bool{}
	var out []string
	for _, pattern := range manifestPatterns {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out
}

// envFiles returns the live environment files of dir, skipping samples.
func envFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ".env") || sampleEnvNames[name] {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	return out
}

// relPath renders p relative to root with forward slashes.
func relPath(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
