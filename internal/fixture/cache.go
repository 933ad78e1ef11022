package fixture

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fastgo/internal/errs"
	"fastgo/internal/logging"
)

// CacheKey identifies one cached fixture instance, per spec §3's
// FixtureCacheKey tuple: (fixture_name, scope, scope_id, param_id?).
// scope_id is derived from the consuming test by the executor: the test
// id for function scope, the class-qualified prefix for class scope,
// the file path for module/package scope, the literal "session" for
// session scope.
type CacheKey struct {
	FixtureName string
	Scope       Scope
	ScopeID     string
	ParamID     string
	HasParamID  bool
}

// TeardownHandle is an opaque reference to a suspended yield-fixture
// generator, produced by the VM layer (C8) and resumed exactly once at
// scope teardown.
type TeardownHandle interface {
	// Resume continues the suspended generator past its yield point.
	// StopIteration-equivalent completion is not an error; any other
	// error is logged by the cache and swallowed so later teardowns in
	// the same batch still run.
	Resume() error
}

// Value is a cached fixture instance, per spec §3's FixtureValue.
type Value struct {
	Name          string
	Value         interface{}
	Scope         Scope
	CreatedAt     time.Time
	LastAccessed  time.Time
	AccessCount   int
	Teardown      TeardownHandle
	ExecutionTime time.Duration
}

// Factory produces a fixture's value, optionally returning a teardown
// handle when the underlying factory is a yield-style generator.
type Factory func() (interface{}, TeardownHandle, error)

// Cache is the concurrent, scope-keyed fixture value store (C7). Entry
// creation is at-most-once per key even under concurrent requesters,
// implemented with golang.org/x/sync/singleflight the way the rest of
// this module fans work out with golang.org/x/sync/errgroup — same
// family, chosen here specifically for its request-coalescing guarantee
// (§4.6: "the runner never suspends while holding a cache slot lock;
// cache slots use a create-once pattern where the creator publishes the
// value and then drops the slot lock").
type Cache struct {
	mu      sync.RWMutex
	values  map[CacheKey]*Value
	group   singleflight.Group
	stacks  map[scopeInstance][]teardownEntry
	stackMu sync.Mutex
	maxSize int
}

// scopeInstance identifies one (scope, scope_id) teardown stack.
type scopeInstance struct {
	Scope   Scope
	ScopeID string
}

type teardownEntry struct {
	key     CacheKey
	handle  TeardownHandle
	fixture string
}

// NewCache returns an empty fixture Cache. maxSize of 0 means unbounded.
func NewCache(maxSize int) *Cache {
	return &Cache{
		values:  make(map[CacheKey]*Value),
		stacks:  make(map[scopeInstance][]teardownEntry),
		maxSize: maxSize,
	}
}

func (k CacheKey) groupKey() string {
	s := k.FixtureName + "\x00" + k.Scope.String() + "\x00" + k.ScopeID
	if k.HasParamID {
		s += "\x00" + k.ParamID
	}
	return s
}

// GetOrCreate returns the cached Value for key, creating it via factory
// if absent. Concurrent callers for the same key observe exactly one
// factory invocation; all others block until it publishes and then
// observe the same *Value.
func (c *Cache) GetOrCreate(key CacheKey, factory Factory) (*Value, error) {
	c.mu.RLock()
	if v, ok := c.values[key]; ok {
		c.mu.RUnlock()
		c.touch(v)
		return v, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(key.groupKey(), func() (interface{}, error) {
		c.mu.RLock()
		if v, ok := c.values[key]; ok {
			c.mu.RUnlock()
			return v, nil
		}
		c.mu.RUnlock()

		start := time.Now()
		raw, handle, ferr := factory()
		if ferr != nil {
			return nil, &errs.FixtureFailureError{FixtureName: key.FixtureName, Err: ferr}
		}

		v := &Value{
			Name:          key.FixtureName,
			Value:         raw,
			Scope:         key.Scope,
			CreatedAt:     start,
			LastAccessed:  start,
			AccessCount:   1,
			Teardown:      handle,
			ExecutionTime: time.Since(start),
		}

		c.mu.Lock()
		c.values[key] = v
		c.mu.Unlock()

		if handle != nil {
			inst := scopeInstance{Scope: key.Scope, ScopeID: key.ScopeID}
			c.stackMu.Lock()
			c.stacks[inst] = append(c.stacks[inst], teardownEntry{key: key, handle: handle, fixture: key.FixtureName})
			c.stackMu.Unlock()
		}

		c.evictIfNeeded()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	v := result.(*Value)
	c.touch(v)
	return v, nil
}

func (c *Cache) touch(v *Value) {
	c.mu.Lock()
	v.LastAccessed = time.Now()
	v.AccessCount++
	c.mu.Unlock()
}

// Teardown pops and resumes teardown handles for (scope, scopeID) in
// LIFO order of creation, per §3's lifecycle and §4.6's contract.
// Errors from individual resumes are logged and do not abort teardown
// of the remaining entries in the stack.
func (c *Cache) Teardown(scope Scope, scopeID string) {
	inst := scopeInstance{Scope: scope, ScopeID: scopeID}

	c.stackMu.Lock()
	entries := c.stacks[inst]
	delete(c.stacks, inst)
	c.stackMu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.handle.Resume(); err != nil {
			logging.FixturesError("teardown of fixture %q (%s/%s) raised: %v", e.fixture, scope, scopeID, err)
		}
		c.mu.Lock()
		delete(c.values, e.key)
		c.mu.Unlock()
	}
}

// evictIfNeeded drops the lowest-priority entries when the cache
// exceeds maxSize. Priority per §4.6: narrowest scope first (function,
// then class, module, session last), then lower access-count, then
// older last-accessed time. Entries still on a live teardown stack are
// never evicted — only Teardown retires those.
func (c *Cache) evictIfNeeded() {
	if c.maxSize <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.values) <= c.maxSize {
		return
	}

	c.stackMu.Lock()
	pinned := make(map[CacheKey]bool)
	for _, stack := range c.stacks {
		for _, e := range stack {
			pinned[e.key] = true
		}
	}
	c.stackMu.Unlock()

	type entry struct {
		key CacheKey
		v   *Value
	}
	var candidates []entry
	for k, v := range c.values {
		if pinned[k] {
			continue
		}
		candidates = append(candidates, entry{k, v})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.v.Scope.rank() != b.v.Scope.rank() {
			return a.v.Scope.rank() < b.v.Scope.rank() // narrowest scope evicted first
		}
		if a.v.AccessCount != b.v.AccessCount {
			return a.v.AccessCount < b.v.AccessCount
		}
		return a.v.LastAccessed.Before(b.v.LastAccessed)
	})

	excess := len(c.values) - c.maxSize
	for i := 0; i < excess && i < len(candidates); i++ {
		delete(c.values, candidates[i].key)
	}
}

// Size returns the number of cached entries, for tests and pool stats.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
