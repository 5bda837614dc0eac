package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/kektorrag
backend: sqlite
precision: float16
batch_size: 25
batch_yield: 5ms
init_retry_delay: 2s
index:
  m: 12
  ef_search: 64
`), 0o644))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/kektorrag", opts.DataDir)
	assert.Equal(t, "sqlite", opts.Backend)
	assert.Equal(t, "float16", opts.Precision)
	assert.Equal(t, 25, opts.BatchSize)
	assert.Equal(t, 5*time.Millisecond, opts.BatchYield)
	assert.Equal(t, 2*time.Second, opts.InitRetryDelay)
	assert.Equal(t, 12, opts.Index.M)
	assert.Equal(t, 64, opts.Index.EfSearch)

	// Untouched fields keep their defaults.
	assert.Equal(t, 4, opts.Index.MaxLevel)
	assert.Equal(t, 3, opts.InitRetries)
	assert.Equal(t, 50, opts.DeleteBatchSize)
}

func TestLoadOptionsRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: badger\nshards: 4\n"), 0o644))
	_, err := LoadOptions(path)
	assert.Error(t, err)
}

func TestLoadOptionsValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("precision: int8\n"), 0o644))
	_, err := LoadOptions(path)
	assert.Error(t, err)

	opts, err := LoadOptions("")
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(""), opts)
}
