// Package hnsw provides the implementation of the Hierarchical Navigable Small World
// (HNSW) graph algorithm for approximate nearest neighbor search.
//
// The Index is a derived, in-memory structure: it is rebuilt from the durable
// record store on startup (Build) and kept in sync incrementally afterwards
// (Add, Delete). Similarity is cosine similarity; higher is closer.
//
// Adjacency is symmetric at every level. Delete tears a node out of every
// neighbour list, so the graph never holds dangling ids, and then relinks the
// neighbours it leaves behind so the graph stays connected.
package hnsw

import (
	"container/heap"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sanonone/kektorrag/pkg/core/distance"
	"github.com/sanonone/kektorrag/pkg/core/types"
)

var (
	// ErrDuplicateID is returned by Add when the id is already indexed.
	ErrDuplicateID = errors.New("id already exists in the index")
	// ErrEmptyVector is returned when a record has no embedding.
	ErrEmptyVector = errors.New("vector is empty")
)

// Index represents the hierarchical graph structure.
type Index struct {
	mu sync.RWMutex

	cfg Config
	// levelMult is 1/ln(M), the normalization factor of the level distribution.
	levelMult float64
	rng       *rand.Rand

	// dim is fixed by the first vector; 0 while the index is empty.
	dim int

	// nodes is indexed by internal id; deleted slots are nil until the next
	// compaction renumbers the live nodes.
	nodes      []*Node
	externalID map[string]uint32
	count      int

	// entryPoints seeds every search. Ids of deleted nodes are left in place
	// and skipped during search.
	entryPoints []uint32

	visitedPool sync.Pool
}

// Stats summarizes the graph shape.
type Stats struct {
	Nodes            int `json:"nodes"`
	Dimension        int `json:"dimension"`
	MaxLevel         int `json:"max_level"`
	EntryPoints      int `json:"entry_points"`
	StaleEntryPoints int `json:"stale_entry_points"`
	Edges            int `json:"edges"`
}

// compactMinSlots is the slice length below which deleted slots are not reclaimed.
const compactMinSlots = 64

// New creates an empty index.
func New(cfg Config) *Index {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	h := &Index{
		cfg:        cfg,
		levelMult:  1.0 / math.Log(float64(cfg.M)),
		rng:        rand.New(rand.NewSource(seed)),
		externalID: make(map[string]uint32),
	}
	h.visitedPool = sync.Pool{
		New: func() any { return newVisitSet(256) },
	}
	return h
}

// Config returns the effective parameters.
func (h *Index) Config() Config {
	return h.cfg
}

// randomLevel draws min(MaxLevel, floor(-ln(U) / ln(M))) with U in (0, 1].
func (h *Index) randomLevel() int {
	u := 1.0 - h.rng.Float64()
	level := int(math.Floor(-math.Log(u) * h.levelMult))
	if level > h.cfg.MaxLevel {
		level = h.cfg.MaxLevel
	}
	if level < 0 {
		level = 0
	}
	return level
}

// Build discards the current graph and rebuilds it from records.
// All nodes are created first, then each one is connected in input order.
// Records with a duplicate id or a mismatching dimension are skipped and
// logged. It returns the number of indexed nodes.
func (h *Index) Build(records []types.Record) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.resetUnlocked()
	created := make([]*Node, 0, len(records))
	skipped := 0
	for _, rec := range records {
		if err := h.admitUnlocked(rec); err != nil {
			slog.Warn("[HNSW] Skipping record during build", "id", rec.ID, "error", err)
			skipped++
			continue
		}
		created = append(created, h.placeUnlocked(rec))
	}
	for _, node := range created {
		h.connectUnlocked(node)
	}
	if skipped > 0 {
		slog.Warn("[HNSW] Build finished with skipped records", "indexed", len(created), "skipped", skipped)
	}
	return len(created)
}

// Add inserts a single record and wires it into the graph.
func (h *Index) Add(rec types.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.admitUnlocked(rec); err != nil {
		return err
	}
	node := h.placeUnlocked(rec)
	h.connectUnlocked(node)
	return nil
}

// Replace inserts rec, swapping out the node of the same id if there is one.
// Readers never observe the id missing in between.
func (h *Index) Replace(rec types.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, exists := h.externalID[rec.ID]
	if len(rec.Vector) == 0 {
		return ErrEmptyVector
	}
	// Replacing the only node may change the dimension.
	if !exists || h.count > 1 {
		if err := h.checkDimUnlocked(rec.Vector); err != nil {
			return err
		}
	}
	if exists {
		h.deleteUnlocked(rec.ID)
	}
	h.connectUnlocked(h.placeUnlocked(rec))
	h.maybeCompactUnlocked()
	return nil
}

// AddBatch inserts records in order. It stops at the first invalid record and
// returns how many were inserted.
func (h *Index) AddBatch(records []types.Record) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, rec := range records {
		if err := h.admitUnlocked(rec); err != nil {
			return i, err
		}
		h.connectUnlocked(h.placeUnlocked(rec))
	}
	return len(records), nil
}

// CheckVector reports whether a vector can be inserted or used as a query.
func (h *Index) CheckVector(vector []float32) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.checkDimUnlocked(vector)
}

func (h *Index) checkDimUnlocked(vector []float32) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if h.dim != 0 && len(vector) != h.dim {
		return fmt.Errorf("%w: index has %d dimensions, got %d", distance.ErrDimensionMismatch, h.dim, len(vector))
	}
	return nil
}

// admitUnlocked validates rec against the current contents.
func (h *Index) admitUnlocked(rec types.Record) error {
	if _, exists := h.externalID[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	return h.checkDimUnlocked(rec.Vector)
}

// placeUnlocked creates the node and registers it, without any edges.
func (h *Index) placeUnlocked(rec types.Record) *Node {
	if h.dim == 0 {
		h.dim = len(rec.Vector)
	}
	internalID := uint32(len(h.nodes))
	node := newNode(rec, internalID, h.randomLevel())
	h.nodes = append(h.nodes, node)
	h.externalID[rec.ID] = internalID
	h.count++

	// A node becomes an entry point when it reaches a level no live entry
	// point covers. This also recovers after every entry point was deleted.
	if node.Level > h.liveMaxLevelUnlocked() {
		h.entryPoints = append(h.entryPoints, internalID)
	}
	return node
}

// connectUnlocked links node to the M nearest reachable nodes at each of its levels.
func (h *Index) connectUnlocked(node *Node) {
	exclude := map[uint32]struct{}{node.InternalID: {}}
	for level := 0; level <= node.Level; level++ {
		neighbors, _ := h.searchLayerUnlocked(node.Vector, h.cfg.M, level, exclude, h.cfg.EfSearch)
		for _, c := range neighbors {
			h.linkUnlocked(node.InternalID, c.Id, level)
		}
		if h.cfg.MaxConnections > 0 {
			for _, c := range neighbors {
				h.pruneUnlocked(h.nodes[c.Id], level)
			}
		}
	}
}

// linkUnlocked adds the symmetric edge a<->b at level.
func (h *Index) linkUnlocked(a, b uint32, level int) {
	if a == b {
		return
	}
	na, nb := h.nodes[a], h.nodes[b]
	if na == nil || nb == nil || na.Level < level || nb.Level < level {
		return
	}
	na.addLink(level, b)
	nb.addLink(level, a)
}

// pruneUnlocked trims node's edges at level down to MaxConnections, dropping
// the least similar neighbours first. An edge is kept when removing it would
// leave the other endpoint without any neighbour at that level.
func (h *Index) pruneUnlocked(node *Node, level int) {
	if node == nil || len(node.Connections[level]) <= h.cfg.MaxConnections {
		return
	}
	ranked := make([]types.Candidate, 0, len(node.Connections[level]))
	for _, id := range node.Connections[level] {
		sim, err := distance.CosineSimilarity(node.Vector, h.nodes[id].Vector)
		if err != nil {
			continue
		}
		ranked = append(ranked, types.Candidate{Id: id, Similarity: sim})
	}
	// Worst first.
	sort.Slice(ranked, func(i, j int) bool { return ranked[j].Better(ranked[i]) })

	for _, c := range ranked {
		if len(node.Connections[level]) <= h.cfg.MaxConnections {
			return
		}
		other := h.nodes[c.Id]
		if len(other.Connections[level]) <= 1 {
			continue
		}
		node.removeLink(level, c.Id)
		other.removeLink(level, node.InternalID)
	}
}

// Delete removes a node and every edge pointing at it. Absent ids are ignored.
func (h *Index) Delete(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := h.deleteUnlocked(id)
	h.maybeCompactUnlocked()
	return removed
}

// DeleteMany removes several ids under one lock and returns how many existed.
func (h *Index) DeleteMany(ids []string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if h.deleteUnlocked(id) {
			removed++
		}
	}
	h.maybeCompactUnlocked()
	return removed
}

func (h *Index) deleteUnlocked(id string) bool {
	internalID, ok := h.externalID[id]
	if !ok {
		return false
	}
	node := h.nodes[internalID]
	h.nodes[internalID] = nil
	delete(h.externalID, id)
	h.count--

	if h.count == 0 {
		h.resetUnlocked()
		return true
	}
	for level, conns := range node.Connections {
		for _, neighborID := range conns {
			if neighbor := h.nodes[neighborID]; neighbor != nil {
				neighbor.removeLink(level, internalID)
			}
		}
	}
	for level, conns := range node.Connections {
		h.relinkUnlocked(conns, level)
	}
	return true
}

// relinkUnlocked reconnects the former neighbours of a deleted node at level.
// Each one is linked to its M nearest nodes reachable from the entry points,
// which joins back any part of the graph the deleted node used to bridge.
func (h *Index) relinkUnlocked(orphans []uint32, level int) {
	for _, id := range orphans {
		orphan := h.nodes[id]
		if orphan == nil {
			continue
		}
		exclude := map[uint32]struct{}{id: {}}
		neighbors, _ := h.searchLayerUnlocked(orphan.Vector, h.cfg.M, level, exclude, h.cfg.EfSearch)
		for _, c := range neighbors {
			h.linkUnlocked(id, c.Id, level)
		}
		if h.cfg.MaxConnections > 0 {
			for _, c := range neighbors {
				h.pruneUnlocked(h.nodes[c.Id], level)
			}
		}
	}
}

// maybeCompactUnlocked renumbers the live nodes once deleted slots make up
// more than half of the node slice. Relative id order, and with it the
// similarity tie-break, is preserved. Stale entry points are dropped.
func (h *Index) maybeCompactUnlocked() {
	if len(h.nodes) < compactMinSlots || len(h.nodes) <= 2*h.count {
		return
	}
	remap := make([]uint32, len(h.nodes))
	live := make([]*Node, 0, h.count)
	for old, node := range h.nodes {
		if node == nil {
			continue
		}
		remap[old] = uint32(len(live))
		live = append(live, node)
	}
	for _, node := range live {
		node.InternalID = remap[node.InternalID]
		h.externalID[node.Id] = node.InternalID
		// The mapping is monotonic, so the lists stay sorted.
		for _, conns := range node.Connections {
			for i, n := range conns {
				conns[i] = remap[n]
			}
		}
	}
	entryPoints := make([]uint32, 0, len(h.entryPoints))
	for _, id := range h.entryPoints {
		if h.nodes[id] != nil {
			entryPoints = append(entryPoints, remap[id])
		}
	}
	slog.Debug("[HNSW] Compacted node slots", "before", len(h.nodes), "after", len(live))
	h.nodes = live
	h.entryPoints = entryPoints
}

// Slots returns the length of the internal node slice, deleted slots included.
func (h *Index) Slots() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Clear removes every node. The index stays usable.
func (h *Index) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetUnlocked()
}

func (h *Index) resetUnlocked() {
	h.nodes = nil
	h.externalID = make(map[string]uint32)
	h.entryPoints = nil
	h.count = 0
	h.dim = 0
}

// FindSimilar returns up to limit nodes whose collection is in allowed, ranked
// by similarity. A nil allowed set disables the filter. The search over-fetches
// limit*2 candidates to make up for filtered ones. When that still yields
// fewer than limit hits, and either the walk did not reach every node or the
// filter dropped candidates, the allowed nodes are scanned linearly instead.
func (h *Index) FindSimilar(query []float32, allowed map[string]struct{}, limit int) ([]types.SearchResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || h.count == 0 {
		return []types.SearchResult{}, nil
	}
	if err := h.checkDimUnlocked(query); err != nil {
		return nil, err
	}

	candidates, reached := h.searchLayerUnlocked(query, limit*2, 0, nil, h.cfg.EfSearch)
	results := h.collectUnlocked(candidates, allowed, limit)
	if len(results) < limit && (reached < h.count || len(results) < len(candidates)) {
		results = h.collectUnlocked(h.scanAllowedUnlocked(query, limit, allowed), allowed, limit)
	}
	return results, nil
}

// collectUnlocked turns candidates into filtered, sorted results.
func (h *Index) collectUnlocked(candidates []types.Candidate, allowed map[string]struct{}, limit int) []types.SearchResult {
	results := make([]types.SearchResult, 0, limit)
	for _, c := range candidates {
		node := h.nodes[c.Id]
		if node == nil {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[node.Metadata.CollectionID]; !ok {
				continue
			}
		}
		vec := make([]float32, len(node.Vector))
		copy(vec, node.Vector)
		results = append(results, types.SearchResult{
			ID:         node.Id,
			Vector:     vec,
			Metadata:   node.Metadata.Clone(),
			Similarity: c.Similarity,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// scanAllowedUnlocked compares the query with every node of an allowed collection.
func (h *Index) scanAllowedUnlocked(query []float32, k int, allowed map[string]struct{}) []types.Candidate {
	results := make(resultHeap, 0, k+1)
	for _, node := range h.nodes {
		if node == nil {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[node.Metadata.CollectionID]; !ok {
				continue
			}
		}
		sim, err := distance.CosineSimilarity(query, node.Vector)
		if err != nil {
			slog.Warn("[HNSW] Skipping candidate", "id", node.Id, "error", err)
			continue
		}
		results.keep(types.Candidate{Id: node.InternalID, Similarity: sim}, k)
	}
	return results.sorted()
}

// searchLayerUnlocked finds the k nodes most similar to query at level,
// skipping excluded ids. It seeds from the live entry points and falls back
// to a linear scan when none is usable. It also returns how many nodes the
// search compared with the query.
func (h *Index) searchLayerUnlocked(query []float32, k, level int, exclude map[uint32]struct{}, ef int) ([]types.Candidate, int) {
	if k <= 0 {
		return nil, 0
	}
	seeds := h.seedsUnlocked(query, level, exclude, ef)
	if len(seeds) == 0 {
		return h.linearScanUnlocked(query, k, level, exclude)
	}
	return h.searchFromUnlocked(query, seeds, k, level, exclude, ef)
}

// seedsUnlocked returns the live entry points usable at level. With a bounded
// search, the best node found by a greedy descent from the top level is added.
func (h *Index) seedsUnlocked(query []float32, level int, exclude map[uint32]struct{}, ef int) []uint32 {
	seeds := h.liveEntryPointsUnlocked(level, exclude)
	if len(seeds) == 0 || ef <= 0 {
		return seeds
	}
	top := h.liveMaxLevelUnlocked()
	var best []types.Candidate
	for l := top; l > level; l-- {
		layerSeeds := h.liveEntryPointsUnlocked(l, exclude)
		if len(best) > 0 {
			layerSeeds = append(layerSeeds, best[0].Id)
		}
		if len(layerSeeds) == 0 {
			continue
		}
		if found, _ := h.searchFromUnlocked(query, layerSeeds, 1, l, exclude, 1); len(found) > 0 {
			best = found
		}
	}
	if len(best) > 0 {
		seeds = append(seeds, best[0].Id)
	}
	return seeds
}

// searchFromUnlocked is the greedy best-first search at one level.
// The most similar queued node is expanded first; its unvisited, non-excluded
// neighbours at this level join the frontier. With ef <= 0 the search ends
// when the frontier is exhausted. The second result counts the nodes scored.
func (h *Index) searchFromUnlocked(query []float32, seeds []uint32, k, level int, exclude map[uint32]struct{}, ef int) ([]types.Candidate, int) {
	visited := h.visitedPool.Get().(*visitSet)
	defer func() {
		visited.reset()
		h.visitedPool.Put(visited)
	}()
	visited.ensure(uint32(len(h.nodes)))

	bounded := ef > 0
	keep := k
	if bounded && ef > keep {
		keep = ef
	}

	frontier := make(frontierHeap, 0, len(seeds))
	results := make(resultHeap, 0, keep+1)
	scored := 0

	enqueue := func(id uint32) {
		if visited.visit(id) {
			return
		}
		if _, skip := exclude[id]; skip {
			return
		}
		node := h.nodes[id]
		if node == nil || node.Level < level {
			return
		}
		sim, err := distance.CosineSimilarity(query, node.Vector)
		if err != nil {
			slog.Warn("[HNSW] Skipping candidate", "id", node.Id, "error", err)
			return
		}
		scored++
		heap.Push(&frontier, types.Candidate{Id: id, Similarity: sim})
	}

	for _, id := range seeds {
		enqueue(id)
	}

	for frontier.Len() > 0 {
		current := heap.Pop(&frontier).(types.Candidate)
		if bounded && results.Len() >= keep && results.worst().Better(current) {
			break
		}
		results.keep(current, keep)

		node := h.nodes[current.Id]
		if level < len(node.Connections) {
			for _, neighborID := range node.Connections[level] {
				enqueue(neighborID)
			}
		}
	}

	out := results.sorted()
	if len(out) > k {
		out = out[:k]
	}
	return out, scored
}

// linearScanUnlocked compares the query with every node present at level.
func (h *Index) linearScanUnlocked(query []float32, k, level int, exclude map[uint32]struct{}) ([]types.Candidate, int) {
	results := make(resultHeap, 0, k+1)
	scored := 0
	for _, node := range h.nodes {
		if node == nil || node.Level < level {
			continue
		}
		if _, skip := exclude[node.InternalID]; skip {
			continue
		}
		sim, err := distance.CosineSimilarity(query, node.Vector)
		if err != nil {
			slog.Warn("[HNSW] Skipping candidate", "id", node.Id, "error", err)
			continue
		}
		scored++
		results.keep(types.Candidate{Id: node.InternalID, Similarity: sim}, k)
	}
	return results.sorted(), scored
}

// liveEntryPointsUnlocked returns entry points that still exist, reach level
// and are not excluded.
func (h *Index) liveEntryPointsUnlocked(level int, exclude map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(h.entryPoints))
	for _, id := range h.entryPoints {
		node := h.nodes[id]
		if node == nil || node.Level < level {
			continue
		}
		if _, skip := exclude[id]; skip {
			continue
		}
		out = append(out, id)
	}
	return out
}

// liveMaxLevelUnlocked is the highest level among live entry points, -1 if none.
func (h *Index) liveMaxLevelUnlocked() int {
	top := -1
	for _, id := range h.entryPoints {
		if node := h.nodes[id]; node != nil && node.Level > top {
			top = node.Level
		}
	}
	return top
}

// --- Introspection ---

// Len returns the number of indexed nodes.
func (h *Index) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dimension returns the vector length fixed by the first record, 0 when empty.
func (h *Index) Dimension() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dim
}

// Contains reports whether id is indexed.
func (h *Index) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.externalID[id]
	return ok
}

// Level returns the level assigned to id.
func (h *Index) Level(id string) (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	internalID, ok := h.externalID[id]
	if !ok {
		return 0, false
	}
	return h.nodes[internalID].Level, true
}

// Levels returns how many nodes sit at each top level.
func (h *Index) Levels() map[int]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[int]int)
	for _, node := range h.nodes {
		if node != nil {
			out[node.Level]++
		}
	}
	return out
}

// EntryPoints returns the ids of the live entry points in insertion order.
func (h *Index) EntryPoints() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	live := h.liveEntryPointsUnlocked(0, nil)
	out := make([]string, len(live))
	for i, id := range live {
		out[i] = h.nodes[id].Id
	}
	return out
}

// Neighbors returns the ids linked to id at level.
func (h *Index) Neighbors(id string, level int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	internalID, ok := h.externalID[id]
	if !ok {
		return nil
	}
	node := h.nodes[internalID]
	if level < 0 || level >= len(node.Connections) {
		return nil
	}
	out := make([]string, 0, len(node.Connections[level]))
	for _, n := range node.Connections[level] {
		if neighbor := h.nodes[n]; neighbor != nil {
			out = append(out, neighbor.Id)
		}
	}
	return out
}

// CountBy groups the indexed nodes by key(metadata) and counts them.
func (h *Index) CountBy(key func(types.Metadata) string) map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int)
	for _, node := range h.nodes {
		if node != nil {
			out[key(node.Metadata)]++
		}
	}
	return out
}

// Stats returns a snapshot of the graph shape.
func (h *Index) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Stats{
		Nodes:     h.count,
		Dimension: h.dim,
		MaxLevel:  h.liveMaxLevelUnlocked(),
	}
	for _, id := range h.entryPoints {
		if h.nodes[id] == nil {
			s.StaleEntryPoints++
		} else {
			s.EntryPoints++
		}
	}
	for _, node := range h.nodes {
		if node == nil {
			continue
		}
		for _, conns := range node.Connections {
			s.Edges += len(conns)
		}
	}
	s.Edges /= 2
	return s
}

// Validate walks every edge and reports dangling, asymmetric, self or
// level-violating links.
func (h *Index) Validate() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var errs []error
	for _, node := range h.nodes {
		if node == nil {
			continue
		}
		for level, conns := range node.Connections {
			for _, n := range conns {
				neighbor := h.nodes[n]
				switch {
				case n == node.InternalID:
					errs = append(errs, fmt.Errorf("node %s links to itself at level %d", node.Id, level))
				case neighbor == nil:
					errs = append(errs, fmt.Errorf("node %s has dangling neighbour %d at level %d", node.Id, n, level))
				case neighbor.Level < level:
					errs = append(errs, fmt.Errorf("node %s links to %s at level %d above its level %d", node.Id, neighbor.Id, level, neighbor.Level))
				case !neighbor.hasLink(level, node.InternalID):
					errs = append(errs, fmt.Errorf("edge %s->%s at level %d is not symmetric", node.Id, neighbor.Id, level))
				}
			}
		}
	}
	return errors.Join(errs...)
}
