package discover

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"fastgo/internal/config"
)

// TestDiscover_IsDeterministicAcrossRuns is §8 property 7: repeated
// discovery over an unchanged tree yields byte-identical TestItem
// slices, not just equal counts. cmp.Diff gives a structural diff on
// failure instead of a useless "not equal" assertion.
func TestDiscover_IsDeterministicAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "test_alpha.py"), `
import pytest

@pytest.fixture
def conn():
    yield "c"

def test_one(conn):
    assert conn == "c"

@pytest.mark.xfail
def test_two():
    raise ValueError("nope")

class TestGroup:
    def test_three(self, conn):
        assert conn
`)
	writeFile(t, filepath.Join(dir, "test_beta.py"), `
def test_four():
    pass

@pytest.mark.parametrize("n", [1, 2, 3])
def test_five(n):
    assert n > 0
`)

	cfg := config.DefaultConfig().Discovery
	cfg.Roots = []string{dir}

	first := NewEngine(cfg).Discover([]string{dir})
	second := NewEngine(cfg).Discover([]string{dir})

	require.Empty(t, first.Errors)
	require.Empty(t, second.Errors)
	require.NotEmpty(t, first.Items)

	if diff := cmp.Diff(first.Items, second.Items); diff != "" {
		t.Errorf("discovery is not deterministic (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Fixtures, second.Fixtures); diff != "" {
		t.Errorf("fixture scan is not deterministic (-first +second):\n%s", diff)
	}
}
