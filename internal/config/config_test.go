package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Execution.NativeFastMax)
	assert.Equal(t, "py", cfg.Discovery.SourceExt)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fastgo.yaml")
	cfg := DefaultConfig()
	cfg.Discovery.SourceExt = "rb"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rb", loaded.Discovery.SourceExt)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FASTGO_DEBUG", "true")
	t.Setenv("FASTGO_SOURCE_EXT", "rb")
	t.Setenv("FASTGO_WORKER_POOL_SIZE", "8")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.True(t, cfg.Logging.DebugMode)
	assert.Equal(t, "rb", cfg.Discovery.SourceExt)
	assert.Equal(t, 8, cfg.WorkerPool.Size)
}

func TestEnvOverrides_InvalidWorkerPoolSizeIgnored(t *testing.T) {
	t.Setenv("FASTGO_WORKER_POOL_SIZE", "not-a-number")
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Equal(t, 4, cfg.WorkerPool.Size)
}
