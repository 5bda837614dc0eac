package persistence

import (
	"context"
	"sync"

	"github.com/tidwall/btree"

	"github.com/sanonone/kektorrag/pkg/core/types"
)

// ownerItem is a secondary index entry associating a document or collection
// id with a record id.
type ownerItem struct {
	Owner string
	ID    string
}

func ownerItemLess(a, b ownerItem) bool {
	if a.Owner != b.Owner {
		return a.Owner < b.Owner
	}
	return a.ID < b.ID
}

func recordLess(a, b types.Record) bool {
	return a.ID < b.ID
}

// recordTree is an ordered in-memory copy of the records with secondary
// indexes by document and collection. It is not safe for concurrent use.
type recordTree struct {
	records      *btree.BTreeG[types.Record]
	byDocument   *btree.BTreeG[ownerItem]
	byCollection *btree.BTreeG[ownerItem]
}

func newRecordTree() *recordTree {
	return &recordTree{
		records:      btree.NewBTreeG[types.Record](recordLess),
		byDocument:   btree.NewBTreeG[ownerItem](ownerItemLess),
		byCollection: btree.NewBTreeG[ownerItem](ownerItemLess),
	}
}

func (t *recordTree) put(rec types.Record) {
	t.remove(rec.ID)
	t.records.Set(rec)
	t.byDocument.Set(ownerItem{Owner: rec.Metadata.DocumentID, ID: rec.ID})
	t.byCollection.Set(ownerItem{Owner: rec.Metadata.CollectionID, ID: rec.ID})
}

func (t *recordTree) remove(id string) bool {
	old, ok := t.records.Delete(types.Record{ID: id})
	if !ok {
		return false
	}
	t.byDocument.Delete(ownerItem{Owner: old.Metadata.DocumentID, ID: id})
	t.byCollection.Delete(ownerItem{Owner: old.Metadata.CollectionID, ID: id})
	return true
}

func (t *recordTree) all() []types.Record {
	out := make([]types.Record, 0, t.records.Len())
	t.records.Scan(func(rec types.Record) bool {
		out = append(out, rec)
		return true
	})
	return out
}

// owned lists the record ids whose owner in tree equals owner.
func owned(tree *btree.BTreeG[ownerItem], owner string) []string {
	var ids []string
	tree.Ascend(ownerItem{Owner: owner}, func(item ownerItem) bool {
		if item.Owner != owner {
			return false
		}
		ids = append(ids, item.ID)
		return true
	})
	return ids
}

func (t *recordTree) clear() {
	t.records.Clear()
	t.byDocument.Clear()
	t.byCollection.Clear()
}

// MemoryStore keeps records in ordered in-memory trees. Nothing is written to
// disk; it backs tests and ephemeral engines.
type MemoryStore struct {
	mu     sync.RWMutex
	tree   *recordTree
	closed bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tree: newRecordTree()}
}

func (s *MemoryStore) Put(ctx context.Context, rec types.Record) error {
	return s.PutBatch(ctx, []types.Record{rec})
}

func (s *MemoryStore) PutBatch(ctx context.Context, recs []types.Record) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, rec := range recs {
		s.tree.put(cloneRecord(rec))
	}
	return nil
}

func (s *MemoryStore) GetAll(ctx context.Context) ([]types.Record, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	all := s.tree.all()
	for i := range all {
		all[i] = cloneRecord(all[i])
	}
	return all, nil
}

func (s *MemoryStore) DeleteByID(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.tree.remove(id)
	return nil
}

func (s *MemoryStore) DeleteByDocumentID(ctx context.Context, documentID string) ([]string, error) {
	return s.deleteOwned(ctx, func(t *recordTree) []string { return owned(t.byDocument, documentID) })
}

func (s *MemoryStore) DeleteByCollectionID(ctx context.Context, collectionID string) ([]string, error) {
	return s.deleteOwned(ctx, func(t *recordTree) []string { return owned(t.byCollection, collectionID) })
}

func (s *MemoryStore) deleteOwned(ctx context.Context, lookup func(*recordTree) []string) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := lookup(s.tree)
	for _, id := range ids {
		s.tree.remove(id)
	}
	return ids, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.tree.clear()
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneRecord(rec types.Record) types.Record {
	out := rec
	out.Vector = append([]float32(nil), rec.Vector...)
	out.Metadata = rec.Metadata.Clone()
	return out
}
