package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorrag/pkg/engine"
)

// fakeOllama embeds by counting vowels, which is enough to rank short texts.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		v := make([]float32, 5)
		for _, c := range strings.ToLower(req.Prompt) {
			if i := strings.IndexRune("aeiou", c); i >= 0 {
				v[i]++
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": v})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, embedURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kektorrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
backend: badger
batch_yield: 0s
embedder:
  provider: ollama
  url: %s
  model: test
  cache_size: 0
rag:
  chunk_size: 200
`, embedURL)), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "http://embed"))
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Engine.Backend)
	assert.Equal(t, time.Duration(0), cfg.Engine.BatchYield)
	assert.Equal(t, "http://embed", cfg.Embedder.URL)
	assert.Equal(t, 200, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, ":9091", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Engine.Index.M)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("embedder:\n  modle: x\n"), 0o644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestCommandsEndToEnd(t *testing.T) {
	cfgPath := writeConfig(t, fakeOllama(t).URL)
	dataDir := t.TempDir()
	docs := t.TempDir()
	apple := filepath.Join(docs, "apple.txt")
	require.NoError(t, os.WriteFile(apple, []byte("a banana and an apple"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "moon.md"), []byte("moon room of wool"), 0o644))

	base := []string{"--config", cfgPath, "--data-dir", dataDir}
	with := func(args ...string) []string { return append(append([]string{}, args...), base...) }

	out, err := run(t, with("ingest", docs, "--collection", "fruit")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, `Indexed 2 chunks into "fruit"`)

	out, err = run(t, with("stats")...)
	require.NoError(t, err, out)
	var stats engine.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.Vectors)
	assert.Equal(t, "ready", stats.State)

	out, err = run(t, with("query", "banana apple", "--collection", "fruit", "--limit", "1")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, apple)

	out, err = run(t, with("query", "a banana and an apple", "--collection", "fruit", "--limit", "1", "--context")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "["+apple+"] (100% relevant):\na banana and an apple")

	out, err = run(t, with("query", "banana", "--collection", "other", "--json")...)
	require.NoError(t, err, out)
	assert.Equal(t, "[]\n", out)

	out, err = run(t, with("delete", "--document", apple)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deleted 1 vectors")

	_, err = run(t, with("clear")...)
	assert.Error(t, err)

	out, err = run(t, with("clear", "--yes")...)
	require.NoError(t, err, out)

	out, err = run(t, with("stats")...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 0, stats.Vectors)
}

func TestFlagValidation(t *testing.T) {
	_, err := run(t, "delete", "--backend", "memory")
	assert.Error(t, err)

	_, err = run(t, "delete", "--id", "x", "--document", "y", "--backend", "memory")
	assert.Error(t, err)

	_, err = run(t, "stats", "--backend", "cassandra")
	assert.Error(t, err)

	out, err := run(t, "stats", "--backend", "memory")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"vectors": 0`)
}
