package rag

import (
	"context"

	"github.com/sanonone/kektorrag/pkg/core/types"
)

// Searcher is the query side of the engine used by the Assembler.
type Searcher interface {
	FindSimilarVectors(ctx context.Context, query []float32, collectionIDs []string, limit int) ([]types.SearchResult, error)
}

// Writer is the mutation side of the engine used by the Ingestor.
type Writer interface {
	AddVectorsBatch(ctx context.Context, recs []types.Record) (int, error)
	DeleteDocumentVectors(ctx context.Context, documentID string) ([]string, error)
}

// ContentSource returns the text a search hit points at.
type ContentSource interface {
	Content(meta types.Metadata) (string, error)
}
