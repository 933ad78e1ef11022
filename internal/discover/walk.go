// Package discover implements the discovery engine: the file walker
// (C1), the byte-level pre-filter (C2), and orchestration between the
// structured parser (C3) and the tolerant fallback parser (C4).
package discover

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"fastgo/internal/config"
	"fastgo/internal/errs"
	"fastgo/internal/logging"
)

// testFileRe matches basenames like test_foo.py or foo_test.py,
// case-insensitively, per spec §4.1/§6. The extension is substituted
// per-call since it comes from config.
func testFileRe(sourceExt string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^(test_.*|.*_test)\.` + regexp.QuoteMeta(sourceExt) + `$`)
}

// excludedBasenames are never eligible regardless of naming, per spec §6.
var excludedBasenames = map[string]bool{
	"__init__": true, "conftest": true, "setup": true,
	"__main__": true, "settings": true, "config": true,
}

// Walker enumerates candidate files under a set of roots.
type Walker struct {
	cfg          config.DiscoveryConfig
	excludedDirs map[string]bool
}

// NewWalker builds a Walker from discovery config.
func NewWalker(cfg config.DiscoveryConfig) *Walker {
	excluded := make(map[string]bool, len(cfg.ExcludedDirs))
	for _, d := range cfg.ExcludedDirs {
		excluded[d] = true
	}
	return &Walker{cfg: cfg, excludedDirs: excluded}
}

// Walk traverses each root and returns eligible file paths in a
// deterministic order (the combined list of all roots sorted
// lexicographically by full path),
// honoring per-directory ignore files, the hidden-file switch, and the
// hard-coded skip list, per spec §4.1.
func (w *Walker) Walk(roots []string) ([]string, []error) {
	timer := logging.StartTimer(logging.CategoryDiscovery, "Walk")
	defer timer.Stop()

	re := testFileRe(w.cfg.SourceExt)
	var files []string
	var errsOut []error

	for _, root := range roots {
		found, walkErrs := w.walkRoot(root, re)
		files = append(files, found...)
		errsOut = append(errsOut, walkErrs...)
	}

	sort.Strings(files)
	if len(files) == 0 && len(errsOut) == 0 && len(roots) > 0 {
		errsOut = append(errsOut, &ValidationError{Roots: roots})
	}
	logging.DiscoveryDebug("walk found %d eligible files across %d roots (%d errors)", len(files), len(roots), len(errsOut))
	return files, errsOut
}

func (w *Walker) walkRoot(root string, re *regexp.Regexp) ([]string, []error) {
	var files []string
	var errsOut []error

	info, err := os.Stat(root)
	if err != nil {
		errsOut = append(errsOut, &errs.DiscoveryIOError{Path: root, Err: err})
		return nil, errsOut
	}
	if !info.IsDir() {
		if w.eligible(root, re) {
			files = append(files, root)
		}
		return files, errsOut
	}

	ignore := loadIgnoreFile(filepath.Join(root, w.cfg.IgnoreFileName))

	entries, err := os.ReadDir(root)
	if err != nil {
		errsOut = append(errsOut, &errs.DiscoveryIOError{Path: root, Err: err})
		return nil, errsOut
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	byName := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		byName[e.Name()] = e
	}

	for _, name := range names {
		e := byName[name]
		full := filepath.Join(root, name)

		if ignore.matches(name) {
			logging.DiscoveryDebug("ignored by %s: %s", w.cfg.IgnoreFileName, full)
			continue
		}

		if e.IsDir() {
			if w.excludedDirs[name] {
				continue
			}
			if !w.cfg.FollowHidden && strings.HasPrefix(name, ".") {
				continue
			}
			sub, subErrs := w.walkRoot(full, re)
			files = append(files, sub...)
			errsOut = append(errsOut, subErrs...)
			continue
		}

		if w.eligible(full, re) {
			files = append(files, full)
		}
	}

	return files, errsOut
}

func (w *Walker) eligible(path string, re *regexp.Regexp) bool {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if excludedBasenames[strings.ToLower(stem)] {
		return false
	}
	for dir := range w.excludedDirs {
		if pathHasComponent(path, dir) {
			return false
		}
	}
	return re.MatchString(base)
}

func pathHasComponent(path, component string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == component {
			return true
		}
	}
	return false
}

// ignoreRules holds gitignore-style glob patterns loaded from a
// per-directory ignore file, per spec §4.1's "per-directory ignore
// files" and SPEC_FULL.md's .fastgoignore supplement.
type ignoreRules struct {
	patterns []string
}

func loadIgnoreFile(path string) ignoreRules {
	f, err := os.Open(path)
	if err != nil {
		return ignoreRules{}
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return ignoreRules{patterns: patterns}
}

func (r ignoreRules) matches(name string) bool {
	for _, p := range r.patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidationError is returned when the walk found no eligible files and
// hit no I/O errors, kept distinct from per-file DiscoveryIOError (which
// is what a missing root produces) so callers can fail fast on roots that
// exist but hold no test files.
type ValidationError struct{ Roots []string }

func (e *ValidationError) Error() string {
	return fmt.Sprintf("no eligible files found under roots: %v", e.Roots)
}
