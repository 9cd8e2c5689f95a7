package baseline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pratik-mahalle/stackdrift/internal/domain/entity"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/errors"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
)

// Options configures where and how baselines are loaded
type Options struct {
	// AppsRoot is the primary repository root and must exist.
	AppsRoot string
	// InfraRoot is an optional secondary repository root.
	InfraRoot string
	// Target selects docker-compose.<target>.yml overrides.
	Target string
	// DeployRoot, when set, is the directory stacks are deployed under on
	// the hosts; relative bind mounts are resolved against it.
	DeployRoot string
}

// Stack is one deployable unit found in a repository
type Stack struct {
	Name     string `json:"name"`
	Root     string `json:"root"`
	Dir      string `json:"dir"`
	Manifest string `json:"manifest"`
	Override string `json:"override,omitempty"`
	EnvFile  string `json:"env_file,omitempty"`
}

// rel returns p relative to the repository root, slash-separated.
func (s Stack) rel(p string) string {
	if p == "" {
		return ""
	}
	r, err := filepath.Rel(s.Root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}

// LoadResult is everything one loader pass produced
type LoadResult struct {
	Entities []entity.Baseline
	Stacks   []Stack
	// Errors holds per-stack failures; they never abort other stacks.
	Errors []error
}

// Loader reads declarative baselines from repositories
type Loader struct {
	opts   Options
	logger *logger.Logger
}

// NewLoader creates a new baseline loader
func NewLoader(opts Options, log *logger.Logger) *Loader {
	return &Loader{
		opts:   opts,
		logger: log.WithComponent("baseline"),
	}
}

// Discover enumerates stacks in the configured repositories.
func (l *Loader) Discover() ([]Stack, error) {
	if l.opts.AppsRoot == "" {
		return nil, errors.Config("baseline repository is not configured", nil)
	}
	if !isDir(l.opts.AppsRoot) {
		return nil, errors.ManifestNotFound(l.opts.AppsRoot)
	}

	stacks := l.discoverRoot(l.opts.AppsRoot)
	if l.opts.InfraRoot != "" {
		if isDir(l.opts.InfraRoot) {
			stacks = append(stacks, l.discoverRoot(l.opts.InfraRoot)...)
		} else {
			l.logger.Warnf("infra repository %s not found, skipping", l.opts.InfraRoot)
		}
	}

	sort.SliceStable(stacks, func(i, j int) bool {
		if stacks[i].Name != stacks[j].Name {
			return stacks[i].Name < stacks[j].Name
		}
		return stacks[i].Root < stacks[j].Root
	})

	l.logger.WithFields(map[string]interface{}{
		"stacks": len(stacks),
		"target": l.opts.Target,
	}).Info("Discovered stacks")

	return stacks, nil
}

// discoverRoot scans the stack directories of root and finally the root
// itself.
func (l *Loader) discoverRoot(root string) []Stack {
	_, dirs, err := StackDirs(root)
	if err != nil {
		l.logger.WarnWithErr(err, "failed to list stacks")
		return nil
	}

	var stacks []Stack
	for _, dir := range dirs {
		if s, ok := l.stackAt(root, dir); ok {
			stacks = append(stacks, s)
		}
	}
	if len(stacks) == 0 {
		if s, ok := l.stackAt(root, root); ok {
			stacks = append(stacks, s)
		}
	}
	return stacks
}

// StackDirs lists the candidate stack directories of a repository root:
// <root>/stacks/* when that directory exists, else <root>/*. parent is the
// directory that was listed. Hidden directories are skipped.
func StackDirs(root string) (parent string, dirs []string, err error) {
	parent = filepath.Join(root, "stacks")
	if !isDir(parent) {
		parent = root
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		return parent, nil, err
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dirs = append(dirs, filepath.Join(parent, e.Name()))
	}
	return parent, dirs, nil
}

// FindManifest returns the base manifest of a stack directory, or "".
func FindManifest(dir string) string {
	return findFile(dir, ManifestNames)
}

func (l *Loader) stackAt(root, dir string) (Stack, bool) {
	manifest := FindManifest(dir)
	if manifest == "" {
		return Stack{}, false
	}
	s := Stack{
		Name:     filepath.Base(dir),
		Root:     root,
		Dir:      dir,
		Manifest: manifest,
	}
	if l.opts.Target != "" {
		s.Override = findFile(dir, OverrideNames(l.opts.Target))
	}
	s.EnvFile = findFile(dir, EnvFileNames)
	return s, true
}

// OverrideNames lists the file names a target-specific override may use.
func OverrideNames(target string) []string {
	return []string{
		fmt.Sprintf("docker-compose.%s.yml", target),
		fmt.Sprintf("docker-compose.%s.yaml", target),
		fmt.Sprintf("compose.%s.yml", target),
		fmt.Sprintf("compose.%s.yaml", target),
	}
}

// LoadStack resolves one stack into baseline entities: env lookup, override
// merge, substitution, then projection of every service.
func (l *Loader) LoadStack(s Stack) ([]entity.Baseline, error) {
	env, envFile, err := LoadEnv(s.Dir)
	if err != nil {
		return nil, err
	}
	if envFile != "" && filepath.Base(envFile) != ".env" {
		l.logger.WithFields(map[string]interface{}{
			"stack":    s.Name,
			"env_file": filepath.Base(envFile),
		}).Debug("Using sample environment file")
	}

	tree, err := ParseManifest(s.Manifest)
	if err != nil {
		return nil, err
	}
	if s.Override != "" {
		override, err := ParseManifest(s.Override)
		if err != nil {
			return nil, err
		}
		merged, _ := Merge(tree, override).(map[string]any)
		tree = merged
	}
	tree, _ = Substitute(tree, env).(map[string]any)

	services := Services(tree)
	if len(services) == 0 {
		l.logger.WithFields(map[string]interface{}{"stack": s.Name}).Warn("Manifest declares no services")
		return nil, nil
	}

	p := newProjector(s, tree, l.opts.DeployRoot, func(format string, args ...any) {
		l.logger.Warnf(format, args...)
	})

	keys := make([]string, 0, len(services))
	for k := range services {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]entity.Baseline, 0, len(keys))
	for _, k := range keys {
		b, err := p.build(k, services[k])
		if err != nil {
			return nil, errors.ParseError(s.Manifest, 0, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Load discovers and loads every stack. A missing repository root is fatal;
// per-stack failures are collected in the result.
func (l *Loader) Load() (*LoadResult, error) {
	stacks, err := l.Discover()
	if err != nil {
		return nil, err
	}

	result := &LoadResult{Stacks: stacks}
	for _, s := range stacks {
		entities, err := l.LoadStack(s)
		if err != nil {
			l.logger.WithFields(map[string]interface{}{
				"stack": s.Name,
			}).ErrorWithErr(err, "Failed to load stack")
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Entities = append(result.Entities, entities...)
	}

	l.logger.WithFields(map[string]interface{}{
		"entities": len(result.Entities),
		"stacks":   len(stacks),
		"errors":   len(result.Errors),
	}).Info("Loaded baselines")

	return result, nil
}

func findFile(dir string, names []string) string {
	for _, n := range names {
		p := filepath.Join(dir, n)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
