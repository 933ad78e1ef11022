package vm

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"fastgo/internal/fixture"
)

// Interpreter wraps a single process-wide yaegi interpreter instance.
// Per spec §4.9's concurrency model ("The embedded interpreter is a
// process-wide singleton; a process never spawns a second interpreter"
// and "any call into it serializes on its exclusive lock"), every call
// into the VM holds mu for its duration; parallelism happens around the
// VM, never inside it.
type Interpreter struct {
	mu           sync.Mutex
	eng          *interp.Interpreter
	searchPaths  map[string]bool
	loadedModule map[string]bool
	stdout       *bytes.Buffer
	stderr       *bytes.Buffer
}

// New constructs the process-wide Interpreter. Only one should exist
// per process; the executor obtains it once at startup and shares it
// across every worker goroutine, the same pattern as the teacher's
// YaegiExecutor but long-lived rather than one-shot-per-call.
func New() (*Interpreter, error) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	eng := interp.New(interp.Options{
		Stdout: stdout,
		Stderr: stderr,
	})
	if err := eng.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("vm: failed to load stdlib symbols: %w", err)
	}

	return &Interpreter{
		eng:          eng,
		searchPaths:  make(map[string]bool),
		loadedModule: make(map[string]bool),
		stdout:       stdout,
		stderr:       stderr,
	}, nil
}

// AddSearchPath registers a source-root directory on the interpreter's
// module search path exactly once per distinct directory, per §4.6.
func (i *Interpreter) AddSearchPath(dir string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	i.searchPaths[abs] = true
	return nil
}

// LoadModule evaluates a source file's content into the interpreter
// namespace exactly once per distinct module path, caching source
// modules by name as required by §4.6.
func (i *Interpreter) LoadModule(modulePath string, source string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.loadedModule[modulePath] {
		return nil
	}
	if _, err := i.eng.Eval(source); err != nil {
		return fmt.Errorf("vm: failed to load module %s: %w", modulePath, err)
	}
	i.loadedModule[modulePath] = true
	return nil
}

// generatorHandle adapts a Go teardown closure to the fixture package's
// TeardownHandle interface, letting a yield-style fixture factory be
// expressed idiomatically as `func() (interface{}, func() error)`
// instead of a real language-level generator — the VM layer's
// resolution of spec §4.6's "generator-valued return" detection for an
// embedding whose host language has no generators of its own.
type generatorHandle struct {
	resume func() error
	once   sync.Once
	err    error
}

func (g *generatorHandle) Resume() error {
	g.once.Do(func() { g.err = g.resume() })
	return g.err
}

// Call invokes a module-qualified function with keyword arguments and
// returns its value, plus a suspended handle when the function returns
// a yield-style (value, teardown) pair, per §4.6's call() primitive.
// paramOrder gives the callee's declared parameter names in source
// order (the executor already has this as the fixture's or test's
// fixture_deps) so kwargs — an unordered-by-construction name->value
// map — can be bound positionally against the target Go function.
// ctx bounds how long the caller is willing to wait; the interpreter
// lock is held for the whole call, consistent with §4.9's single-
// threaded VM model.
func (i *Interpreter) Call(ctx context.Context, qualifiedName string, paramOrder []string, kwargs map[string]Value) (Value, fixture.TeardownHandle, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	fn, err := i.eng.Eval(qualifiedName)
	if err != nil {
		return Null, nil, fmt.Errorf("vm: symbol %s not found: %w", qualifiedName, err)
	}

	fnVal := fn
	if fnVal.Kind() != reflect.Func {
		return Null, nil, fmt.Errorf("vm: %s is not callable (kind %s)", qualifiedName, fnVal.Kind())
	}

	args, err := bindArgs(fnVal, paramOrder, kwargs)
	if err != nil {
		return Null, nil, err
	}

	type callResult struct {
		out []reflect.Value
		err error
	}
	resultCh := make(chan callResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- callResult{err: fmt.Errorf("vm: panic in %s: %v", qualifiedName, r)}
			}
		}()
		resultCh <- callResult{out: fnVal.Call(args)}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return Null, nil, res.err
		}
		return decodeReturn(res.out)
	case <-ctx.Done():
		return Null, nil, ctx.Err()
	}
}

// decodeReturn translates a function's reflect.Value return tuple into
// the canonical Value union, recognizing a trailing func() error (or
// bare func()) as a yield-fixture teardown handle.
func decodeReturn(out []reflect.Value) (Value, fixture.TeardownHandle, error) {
	if len(out) == 0 {
		return Null, nil, nil
	}

	last := out[len(out)-1]
	if isErrorValue(last) {
		if !last.IsNil() {
			return Null, nil, last.Interface().(error)
		}
		out = out[:len(out)-1]
		if len(out) == 0 {
			return Null, nil, nil
		}
		last = out[len(out)-1]
	}

	if handle, ok := asTeardownFunc(last); ok {
		if len(out) < 2 {
			return Null, handle, nil
		}
		return FromNative(out[0].Interface()), handle, nil
	}

	return FromNative(out[0].Interface()), nil, nil
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

func isErrorValue(v reflect.Value) bool {
	return v.Type().Implements(errType)
}

func asTeardownFunc(v reflect.Value) (fixture.TeardownHandle, bool) {
	if v.Kind() != reflect.Func {
		return nil, false
	}
	switch f := v.Interface().(type) {
	case func() error:
		return &generatorHandle{resume: f}, true
	case func():
		return &generatorHandle{resume: func() error { f(); return nil }}, true
	default:
		return nil, false
	}
}

// bindArgs positionally binds kwargs to fn's parameters using
// paramOrder to recover declaration order (map iteration over kwargs
// itself is unordered and would bind arguments to the wrong
// positions). A name in paramOrder absent from kwargs is passed as its
// parameter's zero value.
func bindArgs(fn reflect.Value, paramOrder []string, kwargs map[string]Value) ([]reflect.Value, error) {
	t := fn.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("vm: variadic target functions are not supported")
	}
	if len(paramOrder) < t.NumIn() {
		return nil, fmt.Errorf("vm: %d parameters declared but only %d names given", t.NumIn(), len(paramOrder))
	}

	args := make([]reflect.Value, t.NumIn())
	for idx := 0; idx < t.NumIn(); idx++ {
		paramType := t.In(idx)
		if v, ok := kwargs[paramOrder[idx]]; ok {
			native := reflect.ValueOf(v.Native())
			if native.IsValid() && native.Type().ConvertibleTo(paramType) {
				args[idx] = native.Convert(paramType)
				continue
			}
		}
		args[idx] = reflect.Zero(paramType)
	}
	return args, nil
}

// DrainOutput returns and clears everything the interpreted code has
// written to stdout/stderr since the last drain, per §6's output
// stream redirection requirement (captured output is attached to
// TestResult.stdout/stderr by the executor).
func (i *Interpreter) DrainOutput() (stdout, stderr string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	stdout = i.stdout.String()
	stderr = i.stderr.String()
	i.stdout.Reset()
	i.stderr.Reset()
	return
}

// WithTimeout is a convenience wrapper matching the teacher's pattern
// of bounding a blocking interpreter call with a context deadline
// (internal/autopoiesis/yaegi_executor.go's select on ctx.Done()).
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
