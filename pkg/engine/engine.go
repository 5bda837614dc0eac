// Package engine provides the high-level, embedded interface for kektorrag.
//
// It coordinates the durable record store (persistence) and the in-memory
// HNSW graph, and announces every change on an event bus. The graph is
// rebuilt from the store the first time any operation runs.
//
// Basic usage:
//
//	opts := engine.DefaultOptions("./data")
//	eng, err := engine.Open(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	id, err := eng.AddVector(ctx, types.Record{Vector: vec, Metadata: meta})
//	results, err := eng.FindSimilarVectors(ctx, query, []string{"docs"}, 5)
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sanonone/kektorrag/pkg/core/distance"
	"github.com/sanonone/kektorrag/pkg/core/hnsw"
	"github.com/sanonone/kektorrag/pkg/core/types"
	"github.com/sanonone/kektorrag/pkg/events"
	"github.com/sanonone/kektorrag/pkg/metrics"
	"github.com/sanonone/kektorrag/pkg/persistence"
)

var (
	// ErrNotInitialized is returned when an operation finds no ready index.
	ErrNotInitialized = errors.New("index is not initialized")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("engine is closed")
)

// State is the lifecycle phase of the index.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// quantizer is implemented by stores that persist vectors at reduced precision.
type quantizer interface {
	Quantize(vec []float32) []float32
}

// compacter is implemented by stores whose log can be rewritten.
type compacter interface {
	Compact(ctx context.Context) error
	Frames() int
}

// Engine is the main entry point for kektorrag.
//
// Use Open (or New with a custom store) to create an Engine and Close to shut
// it down. Every method is safe for concurrent use.
type Engine struct {
	opts  Options
	store persistence.Store
	index *hnsw.Index
	bus   *events.Bus

	// mu serialises mutations so the store and the graph see the same order.
	mu sync.Mutex

	stateMu sync.Mutex
	state   State
	loading chan struct{}
	loadErr error

	// lifetime is cancelled by Close and bounds the load and background tasks.
	lifetime context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	closeErr error
	once     sync.Once
}

// Open creates the store selected by opts and wraps it in an Engine.
// The index is loaded lazily; call Init to load it eagerly.
func Open(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	precision, _ := distance.ParsePrecision(opts.Precision)
	distance.LogComputeEngine()

	store, err := persistence.Open(persistence.Options{
		Backend:         opts.Backend,
		Dir:             opts.DataDir,
		Precision:       precision,
		DeleteBatchSize: opts.DeleteBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", opts.Backend, err)
	}
	slog.Info("[ENGINE] Store opened", "backend", opts.Backend, "data_dir", opts.DataDir, "precision", opts.Precision)
	return New(store, opts), nil
}

// New wraps an existing store. The Engine owns the store and closes it.
func New(store persistence.Store, opts Options) *Engine {
	opts = opts.withDefaults()
	lifetime, stop := context.WithCancel(context.Background())
	e := &Engine{
		opts:     opts,
		store:    store,
		index:    hnsw.New(opts.Index),
		bus:      events.NewBus(),
		lifetime: lifetime,
		stop:     stop,
	}
	if c, ok := store.(compacter); ok && opts.CompactInterval > 0 {
		e.wg.Add(1)
		go e.compactLoop(c)
	}
	return e
}

// Close stops background work and closes the store. It is safe to call more
// than once.
func (e *Engine) Close() error {
	e.once.Do(func() {
		e.stateMu.Lock()
		e.state = StateClosed
		e.stateMu.Unlock()

		e.stop()
		e.wg.Wait()

		e.mu.Lock()
		defer e.mu.Unlock()
		e.closeErr = e.store.Close()
		metrics.ObserveStore("close", e.closeErr)
	})
	return e.closeErr
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// Options returns the effective configuration.
func (e *Engine) Options() Options {
	return e.opts
}

// Subscribe registers h for every event published by the engine.
func (e *Engine) Subscribe(h events.Handler) func() {
	return e.bus.Subscribe(h)
}

// Bus exposes the event bus for name-filtered subscriptions.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Init loads every stored record and builds the graph. Concurrent callers
// share one load. A failed load leaves the engine uninitialized so a later
// call retries. Cancelling ctx stops the wait, not the load.
func (e *Engine) Init(ctx context.Context) error {
	e.stateMu.Lock()
	switch e.state {
	case StateClosed:
		e.stateMu.Unlock()
		return ErrClosed
	case StateReady:
		e.stateMu.Unlock()
		return nil
	case StateUninitialized:
		e.state = StateLoading
		e.loading = make(chan struct{})
		e.loadErr = nil
		e.wg.Add(1)
		go e.load(e.loading)
	}
	done := e.loading
	e.stateMu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	switch e.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	}
	if e.loadErr != nil {
		return e.loadErr
	}
	return ErrNotInitialized
}

// ensureReady is called by every public operation.
func (e *Engine) ensureReady(ctx context.Context) error {
	return e.Init(ctx)
}

// load runs the store scan with retries and builds the graph.
func (e *Engine) load(done chan struct{}) {
	defer e.wg.Done()

	records, err := e.scanWithRetry()
	if err != nil {
		slog.Error("[ENGINE] Index load failed", "error", err)
		e.stateMu.Lock()
		if e.state == StateLoading {
			e.state = StateUninitialized
		}
		e.loadErr = err
		e.stateMu.Unlock()
		close(done)
		return
	}

	start := time.Now()
	n := e.index.Build(records)
	elapsed := time.Since(start)
	metrics.IndexBuildDuration.Observe(elapsed.Seconds())
	metrics.TotalVectors.Set(float64(n))

	e.stateMu.Lock()
	ready := e.state == StateLoading
	if ready {
		e.state = StateReady
	}
	e.stateMu.Unlock()

	// Subscribers hear about readiness before any waiter is released.
	if ready {
		slog.Info("[ENGINE] Index ready", "vectors", n, "dimension", e.index.Dimension(), "took", elapsed)
		e.bus.Publish(events.IndexReady, events.Change{Total: n})
	}
	close(done)
}

func (e *Engine) scanWithRetry() ([]types.Record, error) {
	var lastErr error
	for attempt := 1; attempt <= e.opts.InitRetries; attempt++ {
		records, err := e.store.GetAll(e.lifetime)
		metrics.ObserveStore("get_all", err)
		if err == nil {
			return records, nil
		}
		lastErr = err
		if attempt == e.opts.InitRetries {
			break
		}
		slog.Warn("[ENGINE] Store scan failed, retrying", "attempt", attempt, "of", e.opts.InitRetries, "error", err)
		select {
		case <-time.After(e.opts.InitRetryDelay):
		case <-e.lifetime.Done():
			return nil, ErrClosed
		}
	}
	return nil, fmt.Errorf("failed to load records after %d attempts: %w", e.opts.InitRetries, lastErr)
}

// --- Mutations ---

// prepare assigns an id and validates a record against the graph dimension.
// dim is the dimension the batch must match; 0 means unset.
func prepare(rec types.Record, dim int) (types.Record, error) {
	if rec.ID == "" {
		rec.ID = types.NewRecordID()
	}
	if len(rec.Vector) == 0 {
		return rec, fmt.Errorf("record %s: %w", rec.ID, hnsw.ErrEmptyVector)
	}
	if dim != 0 && len(rec.Vector) != dim {
		return rec, fmt.Errorf("record %s: %w: expected %d, got %d", rec.ID, distance.ErrDimensionMismatch, dim, len(rec.Vector))
	}
	if err := rec.Metadata.Validate(); err != nil {
		return rec, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	return rec, nil
}

// applyUnlocked mirrors committed records into the graph. A record whose id
// is already indexed replaces the old node. Vectors enter the graph as the
// store will return them, so a rebuild sees exactly the same values.
func (e *Engine) applyUnlocked(recs []types.Record) {
	q, quantizes := e.store.(quantizer)
	for _, rec := range recs {
		if quantizes {
			rec.Vector = q.Quantize(rec.Vector)
		}
		if err := e.index.Replace(rec); err != nil {
			slog.Error("[ENGINE] Graph insert failed after commit", "id", rec.ID, "error", err)
		}
	}
	metrics.TotalVectors.Set(float64(e.index.Len()))
}

// AddVector stores one record and inserts it into the graph. An empty id is
// replaced by a generated one, which is returned.
func (e *Engine) AddVector(ctx context.Context, rec types.Record) (string, error) {
	if err := e.ensureReady(ctx); err != nil {
		return "", err
	}

	e.mu.Lock()
	rec, err := prepare(rec, e.index.Dimension())
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	err = e.store.Put(ctx, rec)
	metrics.ObserveStore("put", err)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	e.applyUnlocked([]types.Record{rec})
	total := e.index.Len()
	e.mu.Unlock()

	e.bus.Publish(events.VectorsUpdated, events.Change{Added: []string{rec.ID}, Total: total})
	return rec.ID, nil
}

// AddVectorsBatch stores records in batches of BatchSize, in input order.
// Each batch is one store transaction and reaches the graph after its commit.
// The first failing batch stops the import; it returns how many records were
// committed before it.
func (e *Engine) AddVectorsBatch(ctx context.Context, recs []types.Record) (int, error) {
	if err := e.ensureReady(ctx); err != nil {
		return 0, err
	}

	committed := 0
	size := e.opts.BatchSize
	for start := 0; start < len(recs); start += size {
		end := min(start+size, len(recs))
		ids, err := e.commitBatch(ctx, recs[start:end])
		if err != nil {
			slog.Warn("[ENGINE] Batch import stopped", "committed", committed, "failed_batch", start/size, "error", err)
			return committed, fmt.Errorf("batch %d (records %d-%d): %w", start/size, start, end-1, err)
		}
		committed += len(ids)
		e.bus.Publish(events.VectorsUpdated, events.Change{Added: ids, Total: e.index.Len()})

		if end < len(recs) && e.opts.BatchYield > 0 {
			select {
			case <-time.After(e.opts.BatchYield):
			case <-ctx.Done():
				return committed, ctx.Err()
			}
		}
	}
	return committed, nil
}

func (e *Engine) commitBatch(ctx context.Context, batch []types.Record) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dim := e.index.Dimension()
	prepared := make([]types.Record, len(batch))
	ids := make([]string, len(batch))
	for i, rec := range batch {
		if dim == 0 {
			dim = len(rec.Vector)
		}
		p, err := prepare(rec, dim)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
		ids[i] = p.ID
	}

	err := e.store.PutBatch(ctx, prepared)
	metrics.ObserveStore("put_batch", err)
	if err != nil {
		return nil, err
	}
	e.applyUnlocked(prepared)
	return ids, nil
}

// DeleteVector removes one record. Absent ids are a no-op.
func (e *Engine) DeleteVector(ctx context.Context, id string) error {
	if err := e.ensureReady(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	err := e.store.DeleteByID(ctx, id)
	metrics.ObserveStore("delete", err)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	existed := e.index.Delete(id)
	total := e.index.Len()
	metrics.TotalVectors.Set(float64(total))
	e.mu.Unlock()

	if existed {
		e.bus.Publish(events.VectorsUpdated, events.Change{Deleted: []string{id}, Total: total})
	}
	return nil
}

// DeleteDocumentVectors removes every record of a document and returns their ids.
func (e *Engine) DeleteDocumentVectors(ctx context.Context, documentID string) ([]string, error) {
	ids, total, err := e.deleteOwned(ctx, "delete_document", func(ctx context.Context) ([]string, error) {
		return e.store.DeleteByDocumentID(ctx, documentID)
	})
	if len(ids) > 0 {
		change := events.Change{Deleted: ids, DocumentID: documentID, Total: total}
		e.bus.Publish(events.DocumentDeleted, change)
		e.bus.Publish(events.VectorsUpdated, change)
		slog.Info("[ENGINE] Document deleted", "document_id", documentID, "vectors", len(ids))
	}
	return ids, err
}

// DeleteCollectionVectors removes every record of a collection and returns their ids.
func (e *Engine) DeleteCollectionVectors(ctx context.Context, collectionID string) ([]string, error) {
	ids, total, err := e.deleteOwned(ctx, "delete_collection", func(ctx context.Context) ([]string, error) {
		return e.store.DeleteByCollectionID(ctx, collectionID)
	})
	if len(ids) > 0 {
		change := events.Change{Deleted: ids, CollectionID: collectionID, Total: total}
		e.bus.Publish(events.CollectionDeleted, change)
		e.bus.Publish(events.VectorsUpdated, change)
		slog.Info("[ENGINE] Collection deleted", "collection_id", collectionID, "vectors", len(ids))
	}
	return ids, err
}

// deleteOwned removes from the graph whatever the store reports as deleted,
// including the ids of batches committed before a failure.
func (e *Engine) deleteOwned(ctx context.Context, op string, del func(context.Context) ([]string, error)) ([]string, int, error) {
	if err := e.ensureReady(ctx); err != nil {
		return nil, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ids, err := del(ctx)
	metrics.ObserveStore(op, err)
	e.index.DeleteMany(ids)
	total := e.index.Len()
	metrics.TotalVectors.Set(float64(total))
	return ids, total, err
}

// ClearAll wipes the store and the graph. The engine stays ready.
func (e *Engine) ClearAll(ctx context.Context) error {
	if err := e.ensureReady(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	err := e.store.Clear(ctx)
	metrics.ObserveStore("clear", err)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.index.Clear()
	metrics.TotalVectors.Set(0)
	e.mu.Unlock()

	slog.Info("[ENGINE] Index cleared")
	e.bus.Publish(events.IndexCleared, events.Change{})
	return nil
}

// --- Queries ---

// FindSimilarVectors returns up to limit records from the given collections
// ranked by cosine similarity to query. No collections means no results.
// A limit <= 0 uses Options.DefaultLimit.
func (e *Engine) FindSimilarVectors(ctx context.Context, query []float32, collectionIDs []string, limit int) ([]types.SearchResult, error) {
	if err := e.ensureReady(ctx); err != nil {
		return nil, err
	}
	if len(collectionIDs) == 0 {
		return []types.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}
	allowed := make(map[string]struct{}, len(collectionIDs))
	for _, c := range collectionIDs {
		allowed[c] = struct{}{}
	}

	start := time.Now()
	results, err := e.index.FindSimilar(query, allowed, limit)
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Stats describes the index.
type Stats struct {
	State        string         `json:"state"`
	Backend      string         `json:"backend"`
	Vectors      int            `json:"vectors"`
	Dimension    int            `json:"dimension"`
	Graph        hnsw.Stats     `json:"graph"`
	Levels       map[int]int    `json:"levels"`
	Collections  map[string]int `json:"collections"`
	Documents    int            `json:"documents"`
	ContentTypes map[string]int `json:"content_types"`
}

// Stats returns a snapshot of the index. It does not trigger a load.
func (e *Engine) Stats() Stats {
	g := e.index.Stats()
	docs := e.index.CountBy(func(m types.Metadata) string { return m.DocumentID })
	return Stats{
		State:       e.State().String(),
		Backend:     e.opts.Backend,
		Vectors:     g.Nodes,
		Dimension:   g.Dimension,
		Graph:       g,
		Levels:      e.index.Levels(),
		Collections: e.index.CountBy(func(m types.Metadata) string { return m.CollectionID }),
		Documents:   len(docs),
		ContentTypes: e.index.CountBy(func(m types.Metadata) string {
			if m.ContentType == "" {
				return types.ContentText
			}
			return m.ContentType
		}),
	}
}

// Validate checks the graph invariants. Intended for tests and diagnostics.
func (e *Engine) Validate() error {
	return e.index.Validate()
}

// --- Background tasks ---

// compactLoop rewrites the store log once it has grown past CompactMinFrames
// and holds at least twice as many frames as live records.
func (e *Engine) compactLoop(c compacter) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.CompactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.lifetime.Done():
			return
		case <-ticker.C:
			e.maybeCompact(c)
		}
	}
}

func (e *Engine) maybeCompact(c compacter) {
	frames := c.Frames()
	if frames < e.opts.CompactMinFrames || frames < 2*e.index.Len() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err := c.Compact(e.lifetime)
	metrics.ObserveStore("compact", err)
	if err != nil {
		slog.Error("[ENGINE] Background compaction failed", "error", err)
	}
}
