// Package persistence holds the durable record stores behind the search engine.
//
// Every backend implements Store. The graph index is rebuilt from GetAll on
// startup, so a store only has to answer full scans and the delete-by-owner
// lookups; it is never queried by similarity.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sanonone/kektorrag/pkg/core/distance"
	"github.com/sanonone/kektorrag/pkg/core/types"
)

// ErrStorageFault wraps every I/O failure of a backend.
var ErrStorageFault = errors.New("storage fault")

// ErrClosed is returned by calls made after Close.
var ErrClosed = fmt.Errorf("%w: store is closed", ErrStorageFault)

// DefaultDeleteBatchSize bounds how many records one delete transaction touches.
const DefaultDeleteBatchSize = 50

// Store is the durable record store contract.
type Store interface {
	// Put inserts or overwrites one record.
	Put(ctx context.Context, rec types.Record) error
	// PutBatch writes all records in one transaction. On error none are visible.
	PutBatch(ctx context.Context, recs []types.Record) error
	// GetAll returns every record. Order is backend specific.
	GetAll(ctx context.Context) ([]types.Record, error)
	// DeleteByID removes one record. Absent ids are not an error.
	DeleteByID(ctx context.Context, id string) error
	// DeleteByDocumentID removes every record of a document and returns their ids.
	DeleteByDocumentID(ctx context.Context, documentID string) ([]string, error)
	// DeleteByCollectionID removes every record of a collection and returns their ids.
	DeleteByCollectionID(ctx context.Context, collectionID string) ([]string, error)
	// Clear removes every record.
	Clear(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendAOF    = "aof"
	BackendMemory = "memory"
)

// Options configures Open.
type Options struct {
	Backend         string
	Dir             string
	Precision       distance.PrecisionType
	DeleteBatchSize int
}

// Open creates the store selected by opts.Backend inside opts.Dir.
func Open(opts Options) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		backend = BackendBadger
	}
	if backend != BackendMemory {
		if opts.Dir == "" {
			return nil, fmt.Errorf("data directory is required for the %s backend", backend)
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fault("create data dir", err)
		}
	}
	codec := NewCodec(opts.Precision)

	switch backend {
	case BackendBadger:
		return NewBadgerStore(BadgerOptions{
			Dir:             filepath.Join(opts.Dir, "badger"),
			Codec:           codec,
			DeleteBatchSize: opts.DeleteBatchSize,
		})
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(opts.Dir, "vectors.db"), opts.DeleteBatchSize)
	case BackendAOF:
		return NewAOFStore(filepath.Join(opts.Dir, "vectors.aof"), codec)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

// fault wraps err so that errors.Is(err, ErrStorageFault) holds.
func fault(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageFault) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageFault, op, err)
}

// chunk splits ids into slices of at most size elements.
func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultDeleteBatchSize
	}
	var out [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func checkCtx(ctx context.Context) error {
	return ctx.Err()
}
