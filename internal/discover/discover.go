package discover

import (
	"os"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"fastgo/internal/config"
	"fastgo/internal/discover/structured"
	"fastgo/internal/discover/tolerant"
	"fastgo/internal/errs"
	"fastgo/internal/fixture"
	"fastgo/internal/logging"
	"fastgo/internal/testitem"
)

// Engine ties the file walker (C1), pre-filter (C2), and the
// structured/tolerant parsers (C3/C4) into the discovery pipeline
// described by spec §2's control flow: roots -> C1 -> C2 -> (C3 | C4)
// -> list<TestItem>.
type Engine struct {
	walker    *Walker
	prefilter *PreFilter
	cfg       config.DiscoveryConfig
}

// NewEngine builds a discovery Engine from config.
func NewEngine(cfg config.DiscoveryConfig) *Engine {
	return &Engine{
		walker:    NewWalker(cfg),
		prefilter: NewPreFilter(),
		cfg:       cfg,
	}
}

// Result is the outcome of a discovery run: the ordered item list, the
// fixture declarations found alongside them, plus any non-fatal errors
// encountered along the way (§7: discovery errors never abort the run).
type Result struct {
	Items    []testitem.Item
	Fixtures []fixture.Fixture
	Errors   []error
}

// Discover walks roots, pre-filters candidate files, and parses each
// surviving file with the structured parser, falling back to the
// tolerant parser when the structured parser rejects it. Per-file work
// fans out across runtime.NumCPU() goroutines (or cfg.ParserPoolSize),
// mirroring the original's rayon-chunked parallel discovery and the
// teacher's bounded-concurrency file scan in internal/world/fs.go.
func (e *Engine) Discover(roots []string) Result {
	timer := logging.StartTimer(logging.CategoryDiscovery, "Discover")
	defer timer.Stop()

	files, walkErrs := e.walker.Walk(roots)

	workers := e.cfg.ParserPoolSize
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	perFileItems := make([][]testitem.Item, len(files))
	perFileFixtures := make([][]fixture.Fixture, len(files))
	var extraErrs []error

	sem := make(chan struct{}, workers)
	var g errgroup.Group

	for idx, path := range files {
		idx, path := idx, path
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			items, fixtures, err := e.discoverFile(path)
			if err != nil {
				mu.Lock()
				extraErrs = append(extraErrs, err)
				mu.Unlock()
				return nil // per §7, discovery errors never abort the run
			}
			perFileItems[idx] = items
			perFileFixtures[idx] = fixtures
			return nil
		})
	}
	_ = g.Wait()

	var items []testitem.Item
	for _, fi := range perFileItems {
		items = append(items, fi...)
	}
	var fixtures []fixture.Fixture
	for _, ff := range perFileFixtures {
		fixtures = append(fixtures, ff...)
	}

	allErrs := append(walkErrs, extraErrs...)
	sortItemsDeterministically(items)

	logging.Discovery("discovered %d items and %d fixtures across %d files (%d errors)", len(items), len(fixtures), len(files), len(allErrs))
	return Result{Items: items, Fixtures: fixtures, Errors: allErrs}
}

// discoverFile reads content, pre-filters it, parses tests with C3
// (falling back to C4 if C3 rejects the file), and separately scans
// for fixture declarations regardless of which test parser ran.
func (e *Engine) discoverFile(path string) ([]testitem.Item, []fixture.Fixture, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &errs.DiscoveryIOError{Path: path, Err: err}
	}

	fixtures := ScanFixtures(path, content)

	if !e.prefilter.MayContainTests(content) {
		return nil, fixtures, nil
	}

	parser := structured.Pool.Get().(*structured.Parser)
	defer structured.Pool.Put(parser)

	items, err := parser.Parse(path, content)
	if err == nil {
		return items, fixtures, nil
	}

	logging.DiscoveryDebug("structured parser rejected %s (%v), falling back to tolerant", path, err)
	return tolerant.Parse(path, content), fixtures, nil
}

// sortItemsDeterministically orders items by path, then declaration
// order within a file (line number), then parametrization index, so
// repeated runs over unchanged inputs yield the same order (§8 property 7).
func sortItemsDeterministically(items []testitem.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.LineNumber != b.LineNumber {
			return a.LineNumber < b.LineNumber
		}
		return a.ParamIndex < b.ParamIndex
	})
}
