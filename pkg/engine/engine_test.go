package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorrag/pkg/core/distance"
	"github.com/sanonone/kektorrag/pkg/core/types"
	"github.com/sanonone/kektorrag/pkg/events"
	"github.com/sanonone/kektorrag/pkg/persistence"
)

// faultyStore wraps a store and fails on demand.
type faultyStore struct {
	persistence.Store

	mu sync.Mutex
	// breakAfter makes PutBatch fail once this many records are stored. 0 disables it.
	breakAfter int
	stored     int
	// poisonID makes any PutBatch containing it fail.
	poisonID string
	// getAllFailures is how many GetAll calls fail before one succeeds.
	getAllFailures int
	getAllCalls    int32
}

var errInjected = fmt.Errorf("%w: injected fault", persistence.ErrStorageFault)

func (s *faultyStore) PutBatch(ctx context.Context, recs []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.breakAfter > 0 && s.stored >= s.breakAfter {
		return errInjected
	}
	for _, r := range recs {
		if s.poisonID != "" && r.ID == s.poisonID {
			return errInjected
		}
	}
	if err := s.Store.PutBatch(ctx, recs); err != nil {
		return err
	}
	s.stored += len(recs)
	return nil
}

func (s *faultyStore) Put(ctx context.Context, rec types.Record) error {
	return s.PutBatch(ctx, []types.Record{rec})
}

func (s *faultyStore) GetAll(ctx context.Context) ([]types.Record, error) {
	n := atomic.AddInt32(&s.getAllCalls, 1)
	if int(n) <= s.getAllFailures {
		return nil, errInjected
	}
	return s.Store.GetAll(ctx)
}

func testOptions() Options {
	opts := DefaultOptions("")
	opts.Backend = persistence.BackendMemory
	opts.BatchYield = 0
	opts.InitRetryDelay = time.Millisecond
	opts.CompactInterval = 0
	opts.Index.Seed = 42
	return opts
}

func newMemoryEngine(t *testing.T) *Engine {
	t.Helper()
	eng := New(persistence.NewMemoryStore(), testOptions())
	t.Cleanup(func() { eng.Close() })
	return eng
}

func randomRecords(rng *rand.Rand, n, dim int, collections ...string) []types.Record {
	recs := make([]types.Record, n)
	for i := range recs {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		recs[i] = types.Record{
			ID:     fmt.Sprintf("rec-%03d", i),
			Vector: v,
			Metadata: types.Metadata{
				CollectionID: collections[i%len(collections)],
				DocumentID:   fmt.Sprintf("doc-%d", i/10),
				FileName:     fmt.Sprintf("doc-%d.md", i/10),
			},
		}
	}
	return recs
}

func resultIDs(results []types.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)

	meta := types.Metadata{CollectionID: "c1", DocumentID: "d1", FileName: "notes.md"}
	for id, vec := range map[string][]float32{
		"a": {1, 0, 0},
		"b": {0.9, 0.1, 0},
		"c": {0, 1, 0},
	} {
		_, err := eng.AddVector(ctx, types.Record{ID: id, Vector: vec, Metadata: meta})
		require.NoError(t, err)
	}

	results, err := eng.FindSimilarVectors(ctx, []float32{1, 0, 0}, []string{"c1"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, "b", results[1].ID)
	assert.InDelta(t, 0.9939, results[1].Similarity, 1e-3)

	ids, err := eng.DeleteDocumentVectors(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	results, err = eng.FindSimilarVectors(ctx, []float32{1, 0, 0}, []string{"c1"}, 2)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRoundTripAndOrdering(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)
	rng := rand.New(rand.NewSource(1))
	recs := randomRecords(rng, 300, 24, "c1")

	n, err := eng.AddVectorsBatch(ctx, recs)
	require.NoError(t, err)
	require.Equal(t, 300, n)

	for _, rec := range recs[:60] {
		results, err := eng.FindSimilarVectors(ctx, rec.Vector, []string{"c1"}, 3)
		require.NoError(t, err)
		assert.Contains(t, resultIDs(results), rec.ID)
		assert.LessOrEqual(t, len(results), 3)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
		}
	}
}

func TestCollectionIsolation(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)
	rng := rand.New(rand.NewSource(2))
	recs := randomRecords(rng, 120, 8, "red", "green", "blue")
	_, err := eng.AddVectorsBatch(ctx, recs)
	require.NoError(t, err)

	results, err := eng.FindSimilarVectors(ctx, recs[0].Vector, []string{"green", "blue"}, 20)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.NotEqual(t, "red", r.Metadata.CollectionID)
	}

	results, err = eng.FindSimilarVectors(ctx, recs[0].Vector, nil, 20)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDefaultLimit(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)
	rng := rand.New(rand.NewSource(3))
	_, err := eng.AddVectorsBatch(ctx, randomRecords(rng, 40, 4, "c"))
	require.NoError(t, err)

	results, err := eng.FindSimilarVectors(ctx, []float32{1, 0, 0, 0}, []string{"c"}, 0)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestDimensionInvariant(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)

	_, err := eng.AddVector(ctx, types.Record{ID: "a", Vector: []float32{1, 0, 0}, Metadata: types.Metadata{CollectionID: "c"}})
	require.NoError(t, err)

	_, err = eng.AddVector(ctx, types.Record{ID: "b", Vector: []float32{1, 0}, Metadata: types.Metadata{CollectionID: "c"}})
	require.ErrorIs(t, err, distance.ErrDimensionMismatch)

	_, err = eng.FindSimilarVectors(ctx, []float32{1, 0}, []string{"c"}, 1)
	require.ErrorIs(t, err, distance.ErrDimensionMismatch)

	n, err := eng.AddVectorsBatch(ctx, []types.Record{
		{ID: "x", Vector: []float32{0, 1, 0}},
		{ID: "y", Vector: []float32{0, 1}},
	})
	require.ErrorIs(t, err, distance.ErrDimensionMismatch)
	assert.Zero(t, n)
	assert.Equal(t, 1, eng.Stats().Vectors)
}

func TestInvalidProvenanceRejected(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)
	_, err := eng.AddVector(ctx, types.Record{
		Vector: []float32{1},
		Metadata: types.Metadata{
			Bytes: &types.ByteRange{Start: 0, End: 10},
			Lines: &types.LineRange{Start: 1, End: 2},
		},
	})
	require.ErrorIs(t, err, types.ErrInvalidProvenance)
}

func TestAddVectorGeneratesID(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)
	id, err := eng.AddVector(ctx, types.Record{Vector: []float32{1, 2}, Metadata: types.Metadata{CollectionID: "c"}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	results, err := eng.FindSimilarVectors(ctx, []float32{1, 2}, []string{"c"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
}

func TestAddVectorReplacesExistingID(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)
	meta := types.Metadata{CollectionID: "c"}
	_, err := eng.AddVector(ctx, types.Record{ID: "a", Vector: []float32{1, 0}, Metadata: meta})
	require.NoError(t, err)
	_, err = eng.AddVector(ctx, types.Record{ID: "a", Vector: []float32{0, 1}, Metadata: meta})
	require.NoError(t, err)

	assert.Equal(t, 1, eng.Stats().Vectors)
	results, err := eng.FindSimilarVectors(ctx, []float32{0, 1}, []string{"c"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestDeleteCompleteness(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)
	rng := rand.New(rand.NewSource(4))
	recs := randomRecords(rng, 200, 8, "alpha", "beta")
	_, err := eng.AddVectorsBatch(ctx, recs)
	require.NoError(t, err)

	deleted, err := eng.DeleteDocumentVectors(ctx, "doc-3")
	require.NoError(t, err)
	assert.Len(t, deleted, 10)

	gone, err := eng.DeleteCollectionVectors(ctx, "beta")
	require.NoError(t, err)
	assert.Len(t, gone, 95)

	require.NoError(t, eng.Validate())

	removed := map[string]bool{}
	for _, id := range append(deleted, gone...) {
		removed[id] = true
	}
	for _, rec := range recs[:50] {
		results, err := eng.FindSimilarVectors(ctx, rec.Vector, []string{"alpha", "beta"}, 10)
		require.NoError(t, err)
		for _, r := range results {
			assert.False(t, removed[r.ID], "deleted id %s returned", r.ID)
			assert.Equal(t, "alpha", r.Metadata.CollectionID)
		}
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)
	_, err := eng.AddVector(ctx, types.Record{ID: "a", Vector: []float32{1, 0}, Metadata: types.Metadata{CollectionID: "c"}})
	require.NoError(t, err)

	require.NoError(t, eng.DeleteVector(ctx, "a"))
	require.NoError(t, eng.DeleteVector(ctx, "a"))
	require.NoError(t, eng.DeleteVector(ctx, "never-added"))

	ids, err := eng.DeleteDocumentVectors(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, eng.Stats().Vectors)
}

func TestRebuildConsistency(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{persistence.BackendBadger, persistence.BackendSQLite, persistence.BackendAOF} {
		t.Run(backend, func(t *testing.T) {
			opts := testOptions()
			opts.Backend = backend
			opts.DataDir = t.TempDir()
			rng := rand.New(rand.NewSource(5))
			recs := randomRecords(rng, 150, 16, "c1", "c2")
			queries := randomRecords(rng, 10, 16, "q")

			search := func(eng *Engine) [][]string {
				out := make([][]string, len(queries))
				for i, q := range queries {
					results, err := eng.FindSimilarVectors(ctx, q.Vector, []string{"c1", "c2"}, 5)
					require.NoError(t, err)
					out[i] = resultIDs(results)
					sort.Strings(out[i])
				}
				return out
			}

			// 1. Populate and query the live graph.
			eng, err := Open(opts)
			require.NoError(t, err)
			_, err = eng.AddVectorsBatch(ctx, recs)
			require.NoError(t, err)
			before := search(eng)
			require.NoError(t, eng.Close())

			// 2. The rebuilt graph answers the same.
			eng, err = Open(opts)
			require.NoError(t, err)
			require.NoError(t, eng.Init(ctx))
			assert.Equal(t, 150, eng.Stats().Vectors)
			assert.Equal(t, before, search(eng))

			deleted, err := eng.DeleteDocumentVectors(ctx, "doc-2")
			require.NoError(t, err)
			require.Len(t, deleted, 10)
			require.NoError(t, eng.Close())

			// 3. Deletes survive the restart.
			eng, err = Open(opts)
			require.NoError(t, err)
			defer eng.Close()
			assert.Equal(t, "uninitialized", eng.Stats().State)
			require.NoError(t, eng.Init(ctx))
			assert.Equal(t, 140, eng.Stats().Vectors)
			for _, rec := range recs[20:30] {
				results, err := eng.FindSimilarVectors(ctx, rec.Vector, []string{"c1", "c2"}, 3)
				require.NoError(t, err)
				assert.NotContains(t, resultIDs(results), rec.ID)
			}
		})
	}
}

func TestClearAllThenReinsertMatchesFreshInit(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		backend   string
		precision string
	}{
		{persistence.BackendAOF, "float32"},
		{persistence.BackendBadger, "float32"},
		{persistence.BackendAOF, "float16"},
		{persistence.BackendBadger, "float16"},
	}
	for _, tc := range cases {
		t.Run(tc.backend+"/"+tc.precision, func(t *testing.T) {
			opts := testOptions()
			opts.Backend = tc.backend
			opts.Precision = tc.precision
			opts.DataDir = t.TempDir()
			rng := rand.New(rand.NewSource(8))
			stale := randomRecords(rng, 60, 12, "old")
			recs := randomRecords(rng, 100, 12, "c1", "c2")
			queries := randomRecords(rng, 10, 12, "q")

			search := func(eng *Engine) []map[string]float64 {
				out := make([]map[string]float64, len(queries))
				for i, q := range queries {
					results, err := eng.FindSimilarVectors(ctx, q.Vector, []string{"c1", "c2", "old"}, 5)
					require.NoError(t, err)
					out[i] = make(map[string]float64, len(results))
					for _, r := range results {
						out[i][r.ID] = r.Similarity
					}
				}
				return out
			}

			eng, err := Open(opts)
			require.NoError(t, err)
			_, err = eng.AddVectorsBatch(ctx, stale)
			require.NoError(t, err)
			require.NoError(t, eng.ClearAll(ctx))
			_, err = eng.AddVectorsBatch(ctx, recs)
			require.NoError(t, err)
			live := search(eng)
			require.NoError(t, eng.Close())

			eng, err = Open(opts)
			require.NoError(t, err)
			defer eng.Close()
			require.NoError(t, eng.Init(ctx))
			assert.Equal(t, 100, eng.Stats().Vectors)
			rebuilt := search(eng)

			for i := range queries {
				require.Len(t, rebuilt[i], len(live[i]), "query %d", i)
				for id, sim := range live[i] {
					got, ok := rebuilt[i][id]
					require.True(t, ok, "query %d lost %s after rebuild", i, id)
					assert.InDelta(t, sim, got, 1e-9)
				}
			}
		})
	}
}

func TestBatchAtomicityBoundary(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(6))
	recs := randomRecords(rng, 120, 8, "c")

	t.Run("StoreBreaksAfterRecord75", func(t *testing.T) {
		store := &faultyStore{Store: persistence.NewMemoryStore(), breakAfter: 75}
		eng := New(store, testOptions())
		defer eng.Close()

		n, err := eng.AddVectorsBatch(ctx, recs)
		require.ErrorIs(t, err, persistence.ErrStorageFault)
		assert.Equal(t, 100, n)
		assert.Equal(t, 100, eng.Stats().Vectors)

		stored, err := store.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, stored, 100)

		for _, rec := range recs {
			results, err := eng.FindSimilarVectors(ctx, rec.Vector, []string{"c"}, 1)
			require.NoError(t, err)
			require.Len(t, results, 1)
			if rec.ID < "rec-100" {
				assert.Equal(t, rec.ID, results[0].ID)
			} else {
				assert.NotEqual(t, rec.ID, results[0].ID)
			}
		}
	})

	t.Run("FailingBatchLeavesNoPartialRecords", func(t *testing.T) {
		store := &faultyStore{Store: persistence.NewMemoryStore(), poisonID: "rec-075"}
		eng := New(store, testOptions())
		defer eng.Close()

		n, err := eng.AddVectorsBatch(ctx, recs)
		require.Error(t, err)
		assert.Equal(t, 50, n)
		assert.Equal(t, 50, eng.Stats().Vectors)
		require.NoError(t, eng.Validate())
	})
}

func TestStoreFailureLeavesGraphUntouched(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{Store: persistence.NewMemoryStore(), poisonID: "bad"}
	eng := New(store, testOptions())
	defer eng.Close()

	var updates int32
	eng.Subscribe(func(e events.Event) {
		if e.Name == events.VectorsUpdated {
			atomic.AddInt32(&updates, 1)
		}
	})

	_, err := eng.AddVector(ctx, types.Record{ID: "bad", Vector: []float32{1, 0}, Metadata: types.Metadata{CollectionID: "c"}})
	require.ErrorIs(t, err, persistence.ErrStorageFault)
	assert.Zero(t, eng.Stats().Vectors)
	assert.Zero(t, atomic.LoadInt32(&updates))
}

func TestInitRetriesAndSharedLoad(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewMemoryStore()
	require.NoError(t, mem.Put(ctx, types.Record{ID: "a", Vector: []float32{1, 0}, Metadata: types.Metadata{CollectionID: "c"}}))

	store := &faultyStore{Store: mem, getAllFailures: 2}
	eng := New(store, testOptions())
	defer eng.Close()

	var ready int32
	eng.Bus().SubscribeTo(events.IndexReady, func(events.Event) { atomic.AddInt32(&ready, 1) })

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = eng.Init(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, StateReady, eng.State())
	assert.Equal(t, int32(3), atomic.LoadInt32(&store.getAllCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ready))
	assert.Equal(t, 1, eng.Stats().Vectors)
}

func TestFailedInitCanBeRetried(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.InitRetries = 2
	store := &faultyStore{Store: persistence.NewMemoryStore(), getAllFailures: 2}
	eng := New(store, opts)
	defer eng.Close()

	err := eng.Init(ctx)
	require.ErrorIs(t, err, persistence.ErrStorageFault)
	assert.Equal(t, StateUninitialized, eng.State())

	_, err = eng.FindSimilarVectors(ctx, []float32{1}, []string{"c"}, 1)
	require.NoError(t, err)
	assert.Equal(t, StateReady, eng.State())
}

func TestInitWaitHonoursContext(t *testing.T) {
	store := &slowStore{Store: persistence.NewMemoryStore(), release: make(chan struct{})}
	eng := New(store, testOptions())
	defer eng.Close()
	defer close(store.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := eng.Init(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateLoading, eng.State())
}

type slowStore struct {
	persistence.Store
	release chan struct{}
}

func (s *slowStore) GetAll(ctx context.Context) ([]types.Record, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Store.GetAll(ctx)
}

func TestEventsFollowMutations(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)

	var mu sync.Mutex
	var names []string
	eng.Subscribe(func(e events.Event) {
		mu.Lock()
		names = append(names, e.Name)
		mu.Unlock()
		if e.Name == events.VectorsUpdated {
			// Handlers observe the committed state.
			change := e.Payload.(events.Change)
			assert.Equal(t, change.Total, eng.Stats().Vectors)
		}
	})

	require.NoError(t, eng.Init(ctx))
	_, err := eng.AddVector(ctx, types.Record{ID: "a", Vector: []float32{1, 0}, Metadata: types.Metadata{CollectionID: "c", DocumentID: "d"}})
	require.NoError(t, err)
	_, err = eng.DeleteDocumentVectors(ctx, "d")
	require.NoError(t, err)
	_, err = eng.AddVector(ctx, types.Record{ID: "b", Vector: []float32{1, 0}, Metadata: types.Metadata{CollectionID: "c"}})
	require.NoError(t, err)
	_, err = eng.DeleteCollectionVectors(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, eng.ClearAll(ctx))

	assert.Equal(t, []string{
		events.IndexReady,
		events.VectorsUpdated,
		events.DocumentDeleted, events.VectorsUpdated,
		events.VectorsUpdated,
		events.CollectionDeleted, events.VectorsUpdated,
		events.IndexCleared,
	}, names)
}

func TestDeleteAllEntryPointsStillAnswers(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)
	rng := rand.New(rand.NewSource(7))
	recs := randomRecords(rng, 80, 6, "c")
	_, err := eng.AddVectorsBatch(ctx, recs)
	require.NoError(t, err)

	for _, id := range eng.index.EntryPoints() {
		require.NoError(t, eng.DeleteVector(ctx, id))
	}
	require.Empty(t, eng.index.EntryPoints())

	for _, rec := range recs {
		if !eng.index.Contains(rec.ID) {
			continue
		}
		results, err := eng.FindSimilarVectors(ctx, rec.Vector, []string{"c"}, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, rec.ID, results[0].ID)
		break
	}
}

func TestClearAllThenReuse(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)
	_, err := eng.AddVector(ctx, types.Record{ID: "a", Vector: []float32{1, 0, 0}, Metadata: types.Metadata{CollectionID: "c"}})
	require.NoError(t, err)
	require.NoError(t, eng.ClearAll(ctx))
	assert.Equal(t, StateReady, eng.State())
	assert.Zero(t, eng.Stats().Vectors)

	// The dimension is released with the last vector.
	_, err = eng.AddVector(ctx, types.Record{ID: "b", Vector: []float32{1, 0}, Metadata: types.Metadata{CollectionID: "c"}})
	require.NoError(t, err)
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	eng := New(persistence.NewMemoryStore(), testOptions())
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())

	_, err := eng.AddVector(ctx, types.Record{Vector: []float32{1}})
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = eng.FindSimilarVectors(ctx, []float32{1}, []string{"c"}, 1)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestConcurrentQueriesDuringImport(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.BatchSize = 10
	eng := New(persistence.NewMemoryStore(), opts)
	defer eng.Close()

	rng := rand.New(rand.NewSource(8))
	recs := randomRecords(rng, 200, 8, "c")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := eng.AddVectorsBatch(ctx, recs)
		assert.NoError(t, err)
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for j := 0; j < 50; j++ {
				q := randomRecords(r, 1, 8, "c")[0].Vector
				results, err := eng.FindSimilarVectors(ctx, q, []string{"c"}, 5)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(results), 5)
			}
		}(int64(i))
	}
	wg.Wait()

	require.NoError(t, eng.Validate())
	assert.Equal(t, 200, eng.Stats().Vectors)
}

func TestStatsCounts(t *testing.T) {
	ctx := context.Background()
	eng := newMemoryEngine(t)
	_, err := eng.AddVectorsBatch(ctx, []types.Record{
		{ID: "a", Vector: []float32{1, 0}, Metadata: types.Metadata{CollectionID: "x", DocumentID: "d1", ContentType: types.ContentCode}},
		{ID: "b", Vector: []float32{0, 1}, Metadata: types.Metadata{CollectionID: "x", DocumentID: "d2"}},
		{ID: "c", Vector: []float32{1, 1}, Metadata: types.Metadata{CollectionID: "y", DocumentID: "d2"}},
	})
	require.NoError(t, err)

	s := eng.Stats()
	assert.Equal(t, "ready", s.State)
	assert.Equal(t, 3, s.Vectors)
	assert.Equal(t, 2, s.Dimension)
	assert.Equal(t, map[string]int{"x": 2, "y": 1}, s.Collections)
	assert.Equal(t, 2, s.Documents)
	assert.Equal(t, map[string]int{"code": 1, "text": 2}, s.ContentTypes)
}
