package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fastgo/internal/config"
	"fastgo/internal/testitem"
)

func items(n int) []testitem.Item {
	out := make([]testitem.Item, n)
	for i := range out {
		out[i] = testitem.Item{FunctionName: "test_x"}
	}
	return out
}

func TestSelect_SmallSimpleSuiteIsNativeFast(t *testing.T) {
	cfg := config.DefaultConfig().Execution
	res := Resources{NumCores: 4}
	s := Select(items(10), cfg, res)
	assert.Equal(t, NativeFast, s)
}

func TestSelect_SmallComplexSuiteFallsBackToBurst(t *testing.T) {
	cfg := config.DefaultConfig().Execution
	res := Resources{NumCores: 4}
	complex := items(10)
	for i := range complex {
		complex[i].Decorators = []string{"@a", "@b", "@c", "@d", "@e"}
		complex[i].FixtureDeps = []string{"a", "b", "c"}
	}
	s := Select(complex, cfg, res)
	assert.Equal(t, Burst, s)
}

func TestSelect_MidRangeIsBurst(t *testing.T) {
	cfg := config.DefaultConfig().Execution
	res := Resources{NumCores: 4}
	assert.Equal(t, Burst, Select(items(50), cfg, res))
}

func TestSelect_LargerRangeIsInProcess(t *testing.T) {
	cfg := config.DefaultConfig().Execution
	res := Resources{NumCores: 4}
	assert.Equal(t, InProcess, Select(items(300), cfg, res))
}

func TestSelect_AboveWorkStealingThresholdWithManyCoresAndIdleCPU(t *testing.T) {
	cfg := config.DefaultConfig().Execution
	res := Resources{NumCores: 16, LoadAverage1Min: 1.0}
	assert.Equal(t, WorkStealing, Select(items(600), cfg, res))
}

func TestSelect_AboveWorkStealingThresholdButTooFewCoresIsInProcess(t *testing.T) {
	cfg := config.DefaultConfig().Execution
	res := Resources{NumCores: 4, LoadAverage1Min: 0.1}
	assert.Equal(t, InProcess, Select(items(600), cfg, res))
}

func TestSelect_AboveWorkStealingThresholdButBusyCPUIsInProcess(t *testing.T) {
	cfg := config.DefaultConfig().Execution
	res := Resources{NumCores: 16, LoadAverage1Min: 15.0}
	assert.Equal(t, InProcess, Select(items(600), cfg, res))
}

func TestSelect_AboveMassiveParallelThresholdAlwaysMassive(t *testing.T) {
	cfg := config.DefaultConfig().Execution
	res := Resources{NumCores: 2, LoadAverage1Min: 10}
	assert.Equal(t, MassiveParallel, Select(items(1500), cfg, res))
}

func TestBurstWorkerCount_BoundedByConfigAndCores(t *testing.T) {
	cfg := config.DefaultConfig().Execution
	res := Resources{NumCores: 2}
	w := BurstWorkerCount(100, cfg, res)
	assert.LessOrEqual(t, w, 2)
	assert.GreaterOrEqual(t, w, 1)
}
