package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/sanonone/kektorrag/pkg/core/types"
)

// Key prefixes. Components are separated by a zero byte, which cannot occur in
// the ids accepted by the store.
var (
	prefixRecord     = []byte("r\x00")
	prefixCollection = []byte("c\x00")
	prefixDocument   = []byte("d\x00")
)

const keySep = "\x00"

func recordKey(id string) []byte {
	return append(append([]byte{}, prefixRecord...), id...)
}

func ownerKey(prefix []byte, owner, id string) []byte {
	k := append([]byte{}, prefix...)
	k = append(k, owner...)
	k = append(k, keySep...)
	return append(k, id...)
}

func ownerPrefix(prefix []byte, owner string) []byte {
	k := append([]byte{}, prefix...)
	k = append(k, owner...)
	return append(k, keySep...)
}

// BadgerOptions configures the badger store.
type BadgerOptions struct {
	// Dir is the directory for badger data files. Required unless InMemory.
	Dir string
	// InMemory runs badger without touching disk.
	InMemory bool
	Codec    Codec
	// DeleteBatchSize bounds the records removed per transaction by the
	// delete-by-owner calls. Default: 50.
	DeleteBatchSize int
	// Logger overrides the slog-backed badger logger.
	Logger badger.Logger
}

// BadgerStore keeps framed records in badger with secondary index keys for
// documents and collections.
type BadgerStore struct {
	db          *badger.DB
	codec       Codec
	deleteBatch int
}

// NewBadgerStore opens the badger database described by opts.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger store: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(slogBadgerLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fault("open badger", err)
	}
	if opts.Codec.precision == "" {
		opts.Codec = NewCodec("")
	}
	if opts.DeleteBatchSize <= 0 {
		opts.DeleteBatchSize = DefaultDeleteBatchSize
	}
	return &BadgerStore{db: db, codec: opts.Codec, deleteBatch: opts.DeleteBatchSize}, nil
}

func validID(id string) error {
	if id == "" || strings.Contains(id, keySep) {
		return fmt.Errorf("invalid record id %q", id)
	}
	return nil
}

// Quantize returns vec at the precision values are stored with.
func (s *BadgerStore) Quantize(vec []float32) []float32 {
	return s.codec.Quantize(vec)
}

func (s *BadgerStore) Put(ctx context.Context, rec types.Record) error {
	return s.PutBatch(ctx, []types.Record{rec})
}

func (s *BadgerStore) PutBatch(ctx context.Context, recs []types.Record) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	encoded := make([][]byte, len(recs))
	for i, rec := range recs {
		if err := validID(rec.ID); err != nil {
			return fault("put", err)
		}
		data, err := s.codec.Encode(rec)
		if err != nil {
			return fault("put", err)
		}
		encoded[i] = data
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for i, rec := range recs {
			if err := s.dropOwnersTxn(txn, rec.ID); err != nil {
				return err
			}
			if err := txn.Set(recordKey(rec.ID), encoded[i]); err != nil {
				return err
			}
			if err := txn.Set(ownerKey(prefixCollection, rec.Metadata.CollectionID, rec.ID), []byte{}); err != nil {
				return err
			}
			if err := txn.Set(ownerKey(prefixDocument, rec.Metadata.DocumentID, rec.ID), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
	return fault("put batch", err)
}

// dropOwnersTxn removes the secondary keys of the stored version of id, if any.
func (s *BadgerStore) dropOwnersTxn(txn *badger.Txn, id string) error {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var old types.Record
	err = item.Value(func(val []byte) error {
		var derr error
		old, derr = s.codec.Decode(val)
		return derr
	})
	if err != nil {
		// Undecodable: no way to know its owners, leave the stale keys to be
		// filtered at delete time.
		slog.Warn("[BADGER] Overwriting undecodable record", "id", id, "error", err)
		return nil
	}
	if err := txn.Delete(ownerKey(prefixCollection, old.Metadata.CollectionID, id)); err != nil {
		return err
	}
	return txn.Delete(ownerKey(prefixDocument, old.Metadata.DocumentID, id))
}

func (s *BadgerStore) GetAll(ctx context.Context) ([]types.Record, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	out := []types.Record{}
	skipped := 0
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefixRecord
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefixRecord); it.ValidForPrefix(prefixRecord); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec, err := s.codec.Decode(val)
				if err != nil {
					slog.Warn("[BADGER] Skipping corrupt record", "key", string(bytes.TrimPrefix(item.Key(), prefixRecord)), "error", err)
					skipped++
					return nil
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fault("scan records", err)
	}
	if skipped > 0 {
		slog.Warn("[BADGER] Load finished with corrupt records", "loaded", len(out), "skipped", skipped)
	}
	return out, nil
}

func (s *BadgerStore) DeleteByID(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	_, err := s.deleteIDs([]string{id})
	return err
}

// deleteIDs removes records and their index keys in one transaction and
// returns the ids that existed.
func (s *BadgerStore) deleteIDs(ids []string) ([]string, error) {
	var deleted []string
	err := s.db.Update(func(txn *badger.Txn) error {
		deleted = deleted[:0]
		for _, id := range ids {
			if _, err := txn.Get(recordKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
				continue
			} else if err != nil {
				return err
			}
			if err := s.dropOwnersTxn(txn, id); err != nil {
				return err
			}
			if err := txn.Delete(recordKey(id)); err != nil {
				return err
			}
			deleted = append(deleted, id)
		}
		return nil
	})
	if err != nil {
		return nil, fault("delete", err)
	}
	return deleted, nil
}

// ownedIDs lists the record ids under an owner prefix.
func (s *BadgerStore) ownedIDs(prefix []byte, owner string) ([]string, error) {
	p := ownerPrefix(prefix, owner)
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = p
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(p):]))
		}
		return nil
	})
	if err != nil {
		return nil, fault("scan index", err)
	}
	return ids, nil
}

func (s *BadgerStore) deleteOwned(ctx context.Context, prefix []byte, owner string) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	ids, err := s.ownedIDs(prefix, owner)
	if err != nil {
		return nil, err
	}
	deleted := make([]string, 0, len(ids))
	for _, batch := range chunk(ids, s.deleteBatch) {
		if err := checkCtx(ctx); err != nil {
			return deleted, err
		}
		done, err := s.deleteIDs(batch)
		if err != nil {
			return deleted, err
		}
		deleted = append(deleted, done...)
	}
	// Drop index keys whose record vanished without them.
	if len(deleted) < len(ids) {
		_ = s.db.Update(func(txn *badger.Txn) error {
			for _, id := range ids {
				_ = txn.Delete(ownerKey(prefix, owner, id))
			}
			return nil
		})
	}
	return deleted, nil
}

func (s *BadgerStore) DeleteByDocumentID(ctx context.Context, documentID string) ([]string, error) {
	return s.deleteOwned(ctx, prefixDocument, documentID)
}

func (s *BadgerStore) DeleteByCollectionID(ctx context.Context, collectionID string) ([]string, error) {
	return s.deleteOwned(ctx, prefixCollection, collectionID)
}

func (s *BadgerStore) Clear(ctx context.Context) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return fault("drop all", s.db.DropAll())
}

func (s *BadgerStore) Close() error {
	return fault("close badger", s.db.Close())
}

// slogBadgerLogger routes badger's logs to slog, dropping debug and info noise.
type slogBadgerLogger struct{}

func (slogBadgerLogger) Errorf(f string, v ...interface{}) {
	slog.Error("[BADGER] " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (slogBadgerLogger) Warningf(f string, v ...interface{}) {
	slog.Warn("[BADGER] " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (slogBadgerLogger) Infof(string, ...interface{})  {}
func (slogBadgerLogger) Debugf(string, ...interface{}) {}
