package structured

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// E1: a single top-level test function.
func TestParse_E1_TopLevelFunction(t *testing.T) {
	src := "\n\ndef test_a():\n    pass\n"
	p := New()
	items, err := p.Parse("t.py", []byte(src))
	require.NoError(t, err)
	require.Len(t, items, 1)

	it := items[0]
	assert.Equal(t, "t.py::test_a", it.ID)
	assert.Equal(t, 3, it.LineNumber)
	assert.False(t, it.IsAsync)
	assert.Empty(t, it.FixtureDeps)
}

// E2: a class method with fixture dependencies.
func TestParse_E2_ClassMethod(t *testing.T) {
	src := "class TestK:\n    def test_m(self, x, y):\n        pass\n"
	p := New()
	items, err := p.Parse("path.py", []byte(src))
	require.NoError(t, err)
	require.Len(t, items, 1)

	it := items[0]
	assert.Equal(t, "path.py::TestK::test_m", it.ID)
	assert.Equal(t, "TestK", it.ClassName)
	assert.Equal(t, []string{"x", "y"}, it.FixtureDeps)
}

// E3: parametrize expansion into three siblings.
func TestParse_E3_Parametrize(t *testing.T) {
	src := "@mark.parametrize(\"v\", [1, 2, 3])\ndef test_p(v):\n    pass\n"
	p := New()
	items, err := p.Parse("p.py", []byte(src))
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "p.py::test_p[0]", items[0].ID)
	assert.Equal(t, "p.py::test_p[1]", items[1].ID)
	assert.Equal(t, "p.py::test_p[2]", items[2].ID)
	for i, it := range items {
		assert.True(t, it.HasParamIndex)
		assert.Equal(t, i, it.ParamIndex)
	}
}

// E4: trailing comma parametrize yields two items.
func TestParse_E4_TrailingComma(t *testing.T) {
	src := "@mark.parametrize(\"v\", [1, 2,])\ndef test_p(v):\n    pass\n"
	p := New()
	items, err := p.Parse("p.py", []byte(src))
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestParse_AsyncFunction(t *testing.T) {
	src := "async def test_async_thing():\n    pass\n"
	p := New()
	items, err := p.Parse("a.py", []byte(src))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].IsAsync)
}

func TestParse_UnittestTestCaseSkipped(t *testing.T) {
	src := "import unittest\n\nclass TestLegacy(unittest.TestCase):\n    def test_old(self):\n        pass\n"
	p := New()
	items, err := p.Parse("legacy.py", []byte(src))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParse_IndirectUnittestInheritanceSkipped(t *testing.T) {
	src := "class TestBase(unittest.TestCase):\n    pass\n\nclass TestChild(TestBase):\n    def test_child(self):\n        pass\n"
	p := New()
	items, err := p.Parse("legacy2.py", []byte(src))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParse_NonTestFunctionsIgnored(t *testing.T) {
	src := "def helper():\n    pass\n\ndef test_real():\n    pass\n"
	p := New()
	items, err := p.Parse("m.py", []byte(src))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "test_real", items[0].FunctionName)
}

func TestParse_VariadicArgsDropped(t *testing.T) {
	src := "def test_varargs(x, *args, **kwargs):\n    pass\n"
	p := New()
	items, err := p.Parse("v.py", []byte(src))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"x"}, items[0].FixtureDeps)
}

func TestParse_XFailDetected(t *testing.T) {
	src := "@mark.xfail(reason=\"known bug\")\ndef test_broken():\n    pass\n"
	p := New()
	items, err := p.Parse("x.py", []byte(src))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].IsXFail)
}

func TestParse_StackedParametrizeMultiplies(t *testing.T) {
	src := "@mark.parametrize(\"a\", [1, 2])\n@mark.parametrize(\"b\", [1, 2, 3])\ndef test_stacked(a, b):\n    pass\n"
	p := New()
	items, err := p.Parse("s.py", []byte(src))
	require.NoError(t, err)
	assert.Len(t, items, 6)
}

func TestParse_IdempotentReparse(t *testing.T) {
	src := "class TestK:\n    def test_m(self, x):\n        pass\n"
	p := New()
	first, err := p.Parse("same.py", []byte(src))
	require.NoError(t, err)
	second, err := p.Parse("same.py", []byte(src))
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestParse_NoDuplicateIDsInOneFile(t *testing.T) {
	src := "def test_a():\n    pass\n\nclass TestK:\n    def test_a(self):\n        pass\n"
	p := New()
	items, err := p.Parse("dup.py", []byte(src))
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, it := range items {
		assert.False(t, seen[it.ID], "duplicate id %s", it.ID)
		seen[it.ID] = true
	}
}
