package syncproc

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"
)

// Filter decides whether a relative path participates in replication.
// Grounded on the teacher's FilterEngine cascade (filter.go): name
// validation is not needed here (the replicator targets ordinary
// local filesystems, not a cloud provider's naming rules), but the
// glob cascade and ignore-marker cascade are reused directly.
type Filter struct {
	includes []string
	excludes []string

	ignoreMarker string
	log          *slog.Logger

	mu     sync.RWMutex
	cached map[string]*ignore.GitIgnore
}

// NewFilter builds a Filter from include/exclude glob lists (spec
// §4.3) plus an optional ignore-marker filename (SPEC_FULL.md DOMAIN
// STACK enrichment; empty string disables the marker cascade).
func NewFilter(includes, excludes []string, ignoreMarker string, log *slog.Logger) *Filter {
	return &Filter{
		includes:     includes,
		excludes:     excludes,
		ignoreMarker: ignoreMarker,
		log:          log,
		cached:       make(map[string]*ignore.GitIgnore),
	}
}

// Included reports whether rel (relative to root) is included: it
// must not match any exclude glob (basename, full path, or
// separator-normalized), and either no include globs are configured
// or it matches at least one. The ignore-marker cascade, if enabled,
// runs last and can additionally exclude a path the globs allow.
func (f *Filter) Included(root, rel string, isDir bool) bool {
	normalized := filepath.ToSlash(rel)
	base := filepath.Base(rel)

	for _, pat := range f.excludes {
		if matchesGlob(pat, base, normalized) {
			return false
		}
	}

	if len(f.includes) > 0 {
		matched := false

		for _, pat := range f.includes {
			if matchesGlob(pat, base, normalized) {
				matched = true
				break
			}
		}

		if !matched {
			return false
		}
	}

	if f.ignoreMarker != "" && f.matchesIgnoreFile(root, rel) {
		return false
	}

	return true
}

// matchesGlob matches pat against both the basename and the
// slash-normalized full relative path, so a pattern like "*.tmp" and
// a pattern like "build/*" both work as users expect. A pattern
// naming a directory segment — "build", or a deeper "node_modules/
// cache" — additionally excludes everything under that directory via
// an exact match or a `pattern + "/"` prefix match against the full
// path, mirroring original_source/core/scanner.py's _should_exclude:
// fnmatch on name and path, plus the `norm_path == norm_pattern` /
// `norm_path.startswith(norm_pattern + os.sep)` pair that lets a
// directory exclude reach its descendants. This replaces a prior
// `strings.Contains(fullPath, strings.Trim(pat, "*"))` fallback that
// matched the pattern as a substring anywhere in the path — "temp"
// wrongly excluded "temperature.txt" — which has no grounding in
// either the teacher or the original.
func matchesGlob(pat, base, fullPath string) bool {
	if ok, _ := filepath.Match(pat, base); ok {
		return true
	}

	if ok, _ := filepath.Match(pat, fullPath); ok {
		return true
	}

	normPat := filepath.ToSlash(pat)

	return fullPath == normPat || strings.HasPrefix(fullPath, normPat+"/")
}

// matchesIgnoreFile consults the nearest ignore-marker file walking up
// from rel's directory, loading and caching each directory's parsed
// matcher, mirroring the teacher's loadOdignore RWMutex-cached pattern.
func (f *Filter) matchesIgnoreFile(root, rel string) bool {
	dir := filepath.Dir(rel)

	for {
		m := f.loadIgnore(root, dir)
		if m != nil && m.MatchesPath(filepath.ToSlash(rel)) {
			return true
		}

		if dir == "." || dir == "" {
			return false
		}

		dir = filepath.Dir(dir)
	}
}

func (f *Filter) loadIgnore(root, dir string) *ignore.GitIgnore {
	key := dir

	f.mu.RLock()
	m, ok := f.cached[key]
	f.mu.RUnlock()

	if ok {
		return m
	}

	path := filepath.Join(root, dir, f.ignoreMarker)

	m, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.Debug("filter: ignore marker parse failed", "path", path, "error", err)
		}

		m = nil
	}

	f.mu.Lock()
	f.cached[key] = m
	f.mu.Unlock()

	return m
}
