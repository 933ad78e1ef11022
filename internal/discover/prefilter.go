package discover

import "strings"

// PreFilter implements C2: a byte-level multi-pattern scan that cheaply
// rejects files containing none of the literal patterns spec §4.2
// requires the runner to recognize. False positives are acceptable;
// false negatives are forbidden, so the pattern set errs toward broad
// matches (e.g. the "@pytest.mark." prefix alongside the individual
// "@mark.*" marker tokens) and relies on the
// structured/tolerant parsers to do precise decoration.
type PreFilter struct {
	automaton *ahoCorasick
}

// defaultPatterns are the literal, case-insensitive substrings spec
// §4.2 names: the two test-def forms, the Test class prefix, and the
// marker decorator tokens recognized per §6.
var defaultPatterns = []string{
	"def test_",
	"async def test_",
	"class test",
	"@mark.skip",
	"@mark.skipif",
	"@mark.xfail",
	"@mark.parametrize",
	"@fixture",
	"@pytest.fixture",
	"@pytest.mark.",
}

// NewPreFilter builds a PreFilter over the default pattern set.
func NewPreFilter() *PreFilter {
	return &PreFilter{automaton: newAhoCorasick(defaultPatterns)}
}

// MayContainTests returns true iff any recognized pattern occurs
// anywhere in content, case-insensitively.
func (p *PreFilter) MayContainTests(content []byte) bool {
	return p.automaton.containsAny(content)
}

// ahoCorasick is a minimal Aho-Corasick automaton over a fixed,
// case-folded pattern set, sized for the small dictionary in
// defaultPatterns. It gives the multi-pattern, single-pass scan spec
// §4.2 calls for without bringing in an external automaton library
// (none of the teacher's or the pack's dependencies provide one; see
// DESIGN.md).
type ahoCorasick struct {
	root *acNode
}

type acNode struct {
	children map[byte]*acNode
	fail     *acNode
	output   bool
}

func newAcNode() *acNode {
	return &acNode{children: make(map[byte]*acNode)}
}

func newAhoCorasick(patterns []string) *ahoCorasick {
	root := newAcNode()
	for _, pat := range patterns {
		pat = strings.ToLower(pat)
		node := root
		for i := 0; i < len(pat); i++ {
			c := pat[i]
			next, ok := node.children[c]
			if !ok {
				next = newAcNode()
				node.children[c] = next
			}
			node = next
		}
		node.output = true
	}
	buildFailureLinks(root)
	return &ahoCorasick{root: root}
}

func buildFailureLinks(root *acNode) {
	queue := make([]*acNode, 0)
	for _, child := range root.children {
		child.fail = root
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for c, child := range node.children {
			queue = append(queue, child)
			failNode := node.fail
			for failNode != nil {
				if next, ok := failNode.children[c]; ok {
					child.fail = next
					break
				}
				failNode = failNode.fail
			}
			if child.fail == nil {
				child.fail = root
			}
			if child.fail.output {
				child.output = true
			}
		}
	}
}

// containsAny scans content once, case-insensitively, and reports
// whether any pattern matched.
func (a *ahoCorasick) containsAny(content []byte) bool {
	node := a.root
	for _, b := range content {
		c := toLowerByte(b)
		for node != a.root {
			if _, ok := node.children[c]; ok {
				break
			}
			node = node.fail
		}
		if next, ok := node.children[c]; ok {
			node = next
		} else {
			node = a.root
		}
		if node.output {
			return true
		}
	}
	return false
}

func toLowerByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
