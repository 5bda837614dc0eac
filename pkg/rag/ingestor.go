package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sanonone/kektorrag/pkg/core/types"
	"github.com/sanonone/kektorrag/pkg/embeddings"
)

// Chunk is one pre-split piece of a document waiting to be embedded.
type Chunk struct {
	Text     string
	Metadata types.Metadata
}

// Ingestor turns text into records: Load -> Split -> Embed -> Store.
type Ingestor struct {
	cfg      Config
	loader   Loader
	embedder embeddings.Embedder
	store    Writer
}

func NewIngestor(cfg Config, store Writer, embedder embeddings.Embedder) *Ingestor {
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 1
	}
	return &Ingestor{
		cfg:      cfg,
		loader:   NewAutoLoader(),
		embedder: embedder,
		store:    store,
	}
}

// Ingest embeds the chunks and adds them to the store in one batched call.
// If any embedding fails nothing is written. It returns the number of records added.
func (in *Ingestor) Ingest(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	recs, err := in.embed(ctx, chunks)
	if err != nil {
		return 0, err
	}
	return in.store.AddVectorsBatch(ctx, recs)
}

// embed computes the vectors of every chunk, EmbedConcurrency at a time.
func (in *Ingestor) embed(ctx context.Context, chunks []Chunk) ([]types.Record, error) {
	recs := make([]types.Record, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.EmbedConcurrency)

	for i, c := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := in.embedder.Embed(c.Text)
			if err != nil {
				return fmt.Errorf("embedding chunk %d of %q: %w", i, c.Metadata.FileName, err)
			}
			recs[i] = types.Record{Vector: vec, Metadata: c.Metadata}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return recs, nil
}

// IngestFile loads, splits and ingests one file as a document of collectionID.
// The document id is the file path. Vectors of an earlier version of the
// same document are replaced only once every new chunk has been embedded.
func (in *Ingestor) IngestFile(ctx context.Context, path, collectionID string) (int, error) {
	text, err := in.loader.Load(path)
	if err != nil {
		return 0, err
	}

	cfg := in.cfg
	contentType := types.ContentText
	if IsCode(path) {
		contentType = types.ContentCode
		if cfg.ChunkingStrategy == "" || cfg.ChunkingStrategy == "recursive" {
			cfg.ChunkingStrategy = "code"
		}
	}

	pieces := NewSplitter(cfg).SplitText(text)
	offsets := locate(text, pieces)

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		meta := types.Metadata{
			CollectionID: collectionID,
			DocumentID:   path,
			FileName:     path,
			ContentType:  contentType,
		}
		if offsets[i] >= 0 {
			meta.Bytes = &types.ByteRange{Start: offsets[i], End: offsets[i] + len(p)}
		}
		chunks[i] = Chunk{Text: p, Metadata: meta}
	}

	recs, err := in.embed(ctx, chunks)
	if err != nil {
		return 0, err
	}
	if _, err := in.store.DeleteDocumentVectors(ctx, path); err != nil {
		return 0, fmt.Errorf("removing previous version of %q: %w", path, err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	n, err := in.store.AddVectorsBatch(ctx, recs)
	if err != nil {
		return n, err
	}
	slog.Info("[RAG] Ingested file", "path", path, "collection", collectionID, "chunks", n)
	return n, nil
}

// IngestDir walks root and ingests every supported file that passes the
// include and exclude patterns. Failing files are logged and skipped.
func (in *Ingestor) IngestDir(ctx context.Context, root, collectionID string) (int, error) {
	total := 0
	var errs []error

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !in.accepts(d.Name()) || !Supported(path) {
			return nil
		}

		n, err := in.IngestFile(ctx, path, collectionID)
		total += n
		if err != nil {
			slog.Error("[RAG] Error processing file", "path", path, "error", err)
			errs = append(errs, err)
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, errors.Join(errs...)
}

func (in *Ingestor) accepts(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	if len(in.cfg.IncludePatterns) > 0 {
		matched := false
		for _, pattern := range in.cfg.IncludePatterns {
			if ok, _ := filepath.Match(pattern, name); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pattern := range in.cfg.ExcludePatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return false
		}
	}
	return true
}
