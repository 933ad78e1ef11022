// Package tolerant implements C4: a line-oriented fallback extractor
// used when the structured parser (C3) rejects a file. It never fails:
// on any recognition error it simply skips to the next line, per §4.4.
package tolerant

import (
	"bufio"
	"bytes"
	"strings"

	"fastgo/internal/discover/paramcount"
	"fastgo/internal/logging"
	"fastgo/internal/testitem"
)

// Parse extracts TestItems from content by scanning it line by line
// with a bufio.Scanner; each line is copied into a string, so the scan
// is not allocation-free. It tracks class context by detecting "class Test…" at
// column 0 and clearing it on dedent, and accumulates pending
// decorators to attach to the next function definition.
func Parse(path string, content []byte) []testitem.Item {
	timer := logging.StartTimer(logging.CategoryDiscovery, "tolerant.Parse")
	defer timer.Stop()

	var items []testitem.Item
	var pendingDecorators []string
	var currentClass string
	lineNo := 0

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimLeft(line, " \t")
		indent := len(line) - len(trimmed)

		if indent == 0 {
			if strings.HasPrefix(trimmed, "class Test") {
				currentClass = extractClassName(trimmed)
				pendingDecorators = nil
				continue
			}
			if currentClass != "" && trimmed != "" && !strings.HasPrefix(trimmed, "@") {
				// Any other column-0 statement dedents out of the class.
				currentClass = ""
			}
		}

		switch {
		case strings.HasPrefix(trimmed, "@"):
			pendingDecorators = append(pendingDecorators, strings.TrimPrefix(trimmed, "@"))
			continue

		case looksLikeFunctionDef(trimmed):
			name, isAsync, ok := parseFunctionSignature(trimmed)
			if !ok {
				pendingDecorators = nil
				continue
			}
			if !strings.HasPrefix(name, "test") {
				pendingDecorators = nil
				continue
			}

			decorators := pendingDecorators
			pendingDecorators = nil

			fixtureDeps := extractFixtureDeps(trimmed, currentClass != "")
			isXFail := false
			for _, d := range decorators {
				if strings.Contains(d, "xfail") {
					isXFail = true
					break
				}
			}

			total := paramcount.Total(decorators)
			if total < 1 {
				total = 1
			}

			base := testitem.Item{
				Path:         path,
				FunctionName: name,
				ClassName:    currentClass,
				LineNumber:   lineNo,
				IsAsync:      isAsync,
				Decorators:   decorators,
				FixtureDeps:  fixtureDeps,
				IsXFail:      isXFail,
			}

			if total <= 1 {
				base.ID = testitem.BuildID(path, currentClass, name, 0, false)
				base.DisplayName = testitem.BuildDisplayName(name, 0, false)
				items = append(items, base)
				continue
			}
			for i := 0; i < total; i++ {
				it := base
				it.ParamIndex = i
				it.HasParamIndex = true
				it.ID = testitem.BuildID(path, currentClass, name, i, true)
				it.DisplayName = testitem.BuildDisplayName(name, i, true)
				items = append(items, it)
			}

		default:
			// Non-decorator, non-def, non-blank lines clear any
			// speculative pending decorators that never attached.
			if trimmed != "" {
				pendingDecorators = nil
			}
		}
	}

	logging.DiscoveryDebug("tolerant parser: %s -> %d items", path, len(items))
	return items
}

func extractClassName(trimmed string) string {
	rest := strings.TrimPrefix(trimmed, "class ")
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c == '(' || c == ':' || c == ' ' {
			return rest[:i]
		}
	}
	return rest
}

func looksLikeFunctionDef(trimmed string) bool {
	return strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "async def ")
}

// parseFunctionSignature extracts the function name ending at the
// first "(", per §4.4.
func parseFunctionSignature(trimmed string) (name string, isAsync bool, ok bool) {
	isAsync = strings.HasPrefix(trimmed, "async def ")
	rest := trimmed
	if isAsync {
		rest = strings.TrimPrefix(rest, "async def ")
	} else {
		rest = strings.TrimPrefix(rest, "def ")
	}
	idx := strings.IndexByte(rest, '(')
	if idx < 0 {
		return "", false, false
	}
	return strings.TrimSpace(rest[:idx]), isAsync, true
}

// extractFixtureDeps does a best-effort split of the parenthesized
// parameter list on a single line. Multi-line signatures are not
// supported by the tolerant parser; this is acceptable since the
// tolerant parser is a fallback for files the structured parser could
// not handle at all, not a full grammar.
func extractFixtureDeps(trimmed string, isMethod bool) []string {
	open := strings.IndexByte(trimmed, '(')
	close := strings.LastIndexByte(trimmed, ')')
	if open < 0 || close < 0 || close <= open {
		return nil
	}
	inner := trimmed[open+1 : close]
	if strings.TrimSpace(inner) == "" {
		return nil
	}
	rawParts := splitTopLevelCommas(inner)

	var names []string
	skippedFirst := !isMethod
	for _, part := range rawParts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, "*") {
			continue
		}
		// Strip type annotation / default value.
		name := part
		if idx := strings.IndexAny(name, ":="); idx >= 0 {
			name = name[:idx]
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !skippedFirst {
			skippedFirst = true
			continue
		}
		names = append(names, name)
	}
	return names
}

func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
