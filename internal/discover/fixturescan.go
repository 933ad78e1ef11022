package discover

import (
	"bufio"
	"bytes"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"fastgo/internal/fixture"
	"fastgo/internal/logging"
)

// ScanFixtures extracts Fixture declarations from content using the
// same line-oriented, never-fail scanning style as the tolerant parser
// (C4), since fixture factories are syntactically ordinary functions
// distinguished only by a decorator containing the `fixture` token
// (§4.2's decorator recognition list) rather than a `test`-prefixed
// name. Run over every file regardless of whether the structured
// parser accepted it, so a fixture module with no test functions of
// its own still contributes to the registry.
func ScanFixtures(path string, content []byte) []fixture.Fixture {
	var fixtures []fixture.Fixture
	var pendingDecorator string
	module := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		trimmed := strings.TrimLeft(scanner.Text(), " \t")

		switch {
		case strings.HasPrefix(trimmed, "@"):
			dec := strings.TrimPrefix(trimmed, "@")
			if fixtureDecoratorRe.MatchString(dec) {
				pendingDecorator = dec
			}
			continue

		case strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "async def "):
			if pendingDecorator == "" {
				continue
			}
			decorator := pendingDecorator
			pendingDecorator = ""

			name, ok := fixtureFuncName(trimmed)
			if !ok {
				continue
			}

			fixtures = append(fixtures, fixture.Fixture{
				Name:         name,
				Scope:        fixtureScopeFrom(decorator),
				Autouse:      fixtureAutouseFrom(decorator),
				Params:       fixtureParamsFrom(decorator),
				Dependencies: fixtureDepsFrom(trimmed),
				ModulePath:   path,
				FuncName:     name,
			})

		default:
			if strings.TrimSpace(trimmed) != "" {
				pendingDecorator = ""
			}
		}
	}

	if len(fixtures) > 0 {
		logging.DiscoveryDebug("fixture scan: %s (module %s) -> %d fixtures", path, module, len(fixtures))
	}
	return fixtures
}

var (
	fixtureDecoratorRe = regexp.MustCompile(`(?i)\bfixture\b`)
	fixtureScopeRe     = regexp.MustCompile(`scope\s*=\s*["'](\w+)["']`)
	fixtureAutouseRe   = regexp.MustCompile(`autouse\s*=\s*True`)
	fixtureParamsRe    = regexp.MustCompile(`params\s*=\s*\[([^\]]*)\]`)
)

func fixtureScopeFrom(decorator string) fixture.Scope {
	m := fixtureScopeRe.FindStringSubmatch(decorator)
	if m == nil {
		return fixture.ScopeFunction
	}
	switch strings.ToLower(m[1]) {
	case "class":
		return fixture.ScopeClass
	case "module":
		return fixture.ScopeModule
	case "package":
		return fixture.ScopePackage
	case "session":
		return fixture.ScopeSession
	default:
		return fixture.ScopeFunction
	}
}

func fixtureAutouseFrom(decorator string) bool {
	return fixtureAutouseRe.MatchString(decorator)
}

// fixtureParamsFrom does a best-effort split of a params=[...] literal
// into raw string/number tokens; each becomes one parametrized fixture
// instance indexed by position, per §3's Fixture.params.
func fixtureParamsFrom(decorator string) []interface{} {
	m := fixtureParamsRe.FindStringSubmatch(decorator)
	if m == nil {
		return nil
	}
	parts := strings.Split(m[1], ",")
	var params []interface{}
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), `"'`))
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			params = append(params, n)
			continue
		}
		params = append(params, p)
	}
	return params
}

func fixtureFuncName(trimmed string) (string, bool) {
	rest := strings.TrimPrefix(strings.TrimPrefix(trimmed, "async def "), "def ")
	idx := strings.IndexByte(rest, '(')
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:idx]), true
}

// fixtureDepsFrom reuses the same parameter-list splitting shape as the
// tolerant test parser, without dropping a leading self: fixture
// factories are module-level functions in the host framework, not
// methods, so every declared parameter is a dependency name.
func fixtureDepsFrom(trimmed string) []string {
	open := strings.IndexByte(trimmed, '(')
	closeIdx := strings.LastIndexByte(trimmed, ')')
	if open < 0 || closeIdx < 0 || closeIdx <= open {
		return nil
	}
	inner := trimmed[open+1 : closeIdx]
	if strings.TrimSpace(inner) == "" {
		return nil
	}

	var names []string
	depth := 0
	start := 0
	split := func(part string) {
		part = strings.TrimSpace(part)
		if part == "" || strings.HasPrefix(part, "*") {
			return
		}
		if idx := strings.IndexAny(part, ":="); idx >= 0 {
			part = part[:idx]
		}
		part = strings.TrimSpace(part)
		if part != "" {
			names = append(names, part)
		}
	}
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				split(inner[start:i])
				start = i + 1
			}
		}
	}
	split(inner[start:])
	return names
}
