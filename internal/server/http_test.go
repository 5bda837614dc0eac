package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorrag/pkg/core/types"
	"github.com/sanonone/kektorrag/pkg/embeddings"
	"github.com/sanonone/kektorrag/pkg/engine"
	"github.com/sanonone/kektorrag/pkg/persistence"
	"github.com/sanonone/kektorrag/pkg/rag"
)

const token = "test-secret-token"

type client struct {
	t   *testing.T
	url string
}

func (c client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.url+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func newTestServer(t *testing.T, asm func(*engine.Engine) *rag.Assembler) (*engine.Engine, client) {
	t.Helper()
	opts := engine.DefaultOptions("")
	opts.BatchYield = 0
	eng := engine.New(persistence.NewMemoryStore(), opts)
	t.Cleanup(func() { _ = eng.Close() })

	var a *rag.Assembler
	if asm != nil {
		a = asm(eng)
	}
	srv := httptest.NewServer(NewServer(eng, a, Config{AuthToken: token}).Handler())
	t.Cleanup(srv.Close)
	return eng, client{t: t, url: srv.URL}
}

func rec(id, col, doc string, v ...float32) types.Record {
	return types.Record{ID: id, Vector: v, Metadata: types.Metadata{CollectionID: col, DocumentID: doc, FileName: doc + ".md"}}
}

func TestAuthAndPublicEndpoints(t *testing.T) {
	_, c := newTestServer(t, nil)

	resp, err := http.Get(c.url + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(c.url + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(c.url + "/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, c.url+"/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var stats engine.Stats
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/stats", nil, &stats))
}

func TestVectorLifecycle(t *testing.T) {
	eng, c := newTestServer(t, nil)

	var added VectorAddResponse
	r := rec("a", "c1", "d1", 1, 0, 0)
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/vectors", VectorAddRequest{Record: &r}, &added))
	assert.Equal(t, []string{"a"}, added.IDs)

	batch := VectorAddRequest{Records: []types.Record{
		rec("", "c1", "d1", 0.9, 0.1, 0),
		rec("b", "c1", "d2", 0, 1, 0),
		rec("x", "c2", "d3", 1, 0, 0),
	}}
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/vectors", batch, &added))
	assert.Equal(t, 3, added.Added)
	require.Len(t, added.IDs, 3)
	assert.NotEmpty(t, added.IDs[0])
	generated := added.IDs[0]

	var found VectorSearchResponse
	search := VectorSearchRequest{Vector: []float32{1, 0, 0}, CollectionIDs: []string{"c1"}, Limit: 2}
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/search", search, &found))
	require.Len(t, found.Results, 2)
	assert.Equal(t, "a", found.Results[0].ID)
	assert.Equal(t, generated, found.Results[1].ID)
	assert.Nil(t, found.Results[0].Vector)

	var deleted DeleteResponse
	require.Equal(t, http.StatusOK, c.do(http.MethodDelete, "/documents/d1", nil, &deleted))
	assert.ElementsMatch(t, []string{"a", generated}, deleted.Deleted)

	require.Equal(t, http.StatusOK, c.do(http.MethodDelete, "/documents/missing", nil, &deleted))
	assert.Empty(t, deleted.Deleted)

	assert.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, "/vectors/b", nil, nil))
	assert.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, "/vectors/b", nil, nil))

	require.Equal(t, http.StatusOK, c.do(http.MethodDelete, "/collections/c2", nil, &deleted))
	assert.Equal(t, []string{"x"}, deleted.Deleted)
	assert.Equal(t, 0, eng.Stats().Vectors)
	require.NoError(t, eng.Validate())
}

func TestValidationErrors(t *testing.T) {
	_, c := newTestServer(t, nil)

	r := rec("a", "c", "d", 1, 0)
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/vectors", VectorAddRequest{Record: &r}, nil))

	var e errorResponse
	bad := rec("b", "c", "d", 1, 0, 0)
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/vectors", VectorAddRequest{Record: &bad}, &e))
	assert.Contains(t, e.Error, "same length")

	both := rec("p", "c", "d", 1, 0)
	both.Metadata.Bytes = &types.ByteRange{Start: 0, End: 1}
	both.Metadata.Lines = &types.LineRange{Start: 1, End: 1}
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/vectors", VectorAddRequest{Record: &both}, nil))

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/vectors", map[string]any{"records": []any{}}, nil))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/search", map[string]any{"unknown": 1}, nil))

	var partial VectorAddResponse
	mixed := VectorAddRequest{Records: []types.Record{rec("ok", "c", "d", 0, 1), rec("bad", "c", "d", 0, 1, 1)}}
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/vectors", mixed, &partial))
	assert.Equal(t, 0, partial.Added)
}

func TestClearEndpoint(t *testing.T) {
	eng, c := newTestServer(t, nil)
	r := rec("a", "c", "d", 1, 0)
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/vectors", VectorAddRequest{Record: &r}, nil))

	assert.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, "/vectors", nil, nil))
	assert.Equal(t, 0, eng.Stats().Vectors)

	// The dimension is free again after a clear.
	r = rec("b", "c", "d", 1, 0, 0, 0)
	assert.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/vectors", VectorAddRequest{Record: &r}, nil))
}

func TestContextEndpoint(t *testing.T) {
	_, noAsm := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotImplemented, noAsm.do(http.MethodPost, "/context", ContextRequest{Query: "q"}, nil))

	embed := embeddings.EmbedderFunc(func(string) ([]float32, error) { return []float32{1, 0}, nil })
	eng, c := newTestServer(t, func(eng *engine.Engine) *rag.Assembler {
		cfg := rag.DefaultConfig()
		cfg.ReadyTimeout = 0
		return rag.NewAssembler(cfg, eng, embed, rag.NewFileSource(rag.NewTextLoader()))
	})

	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("prefix. The answer is 42."), 0o644))
	_, err := eng.AddVector(context.Background(), types.Record{
		Vector: []float32{1, 0},
		Metadata: types.Metadata{
			CollectionID: "c",
			DocumentID:   "notes",
			FileName:     path,
			Bytes:        &types.ByteRange{Start: 8, End: 25},
		},
	})
	require.NoError(t, err)

	var out ContextResponse
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/context", ContextRequest{Query: "q", CollectionIDs: []string{"c"}}, &out))
	assert.Contains(t, out.Context, "["+path+"] (100% relevant):\nThe answer is 42.\n")

	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/context", ContextRequest{Query: "q", CollectionIDs: []string{"other"}}, &out))
	assert.Empty(t, out.Context)
}

func TestRecoveryMiddleware(t *testing.T) {
	s := &Server{}
	h := s.RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, rr.Body.String())
}
