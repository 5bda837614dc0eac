package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/kektorrag/pkg/embeddings"
	"github.com/sanonone/kektorrag/pkg/engine"
	"github.com/sanonone/kektorrag/pkg/rag"
)

var errNoEmbedder = errors.New("no embedder configured")

// Service implements the tool handlers on top of the Engine.
type Service struct {
	engine   *engine.Engine
	embedder embeddings.Embedder
	source   rag.ContentSource
	ingestor *rag.Ingestor
	limit    int
}

// NewService wires the tools. embedder may be nil, which disables the tools
// that need embeddings.
func NewService(eng *engine.Engine, embedder embeddings.Embedder, cfg rag.Config) *Service {
	s := &Service{
		engine:   eng,
		embedder: embedder,
		source:   rag.NewFileSource(rag.NewAutoLoader()),
		limit:    cfg.Limit,
	}
	if embedder != nil {
		s.ingestor = rag.NewIngestor(cfg, eng, embedder)
	}
	return s
}

// --- Tool Handlers ---

func (s *Service) SearchContext(ctx context.Context, req *mcp.CallToolRequest, args SearchContextArgs) (*mcp.CallToolResult, SearchContextResult, error) {
	if s.embedder == nil {
		return nil, SearchContextResult{}, errNoEmbedder
	}
	limit := args.Limit
	if limit <= 0 {
		limit = s.limit
	}

	vec, err := s.embedder.Embed(args.Query)
	if err != nil {
		return nil, SearchContextResult{}, fmt.Errorf("embedding error: %w", err)
	}
	results, err := s.engine.FindSimilarVectors(ctx, vec, args.CollectionIDs, limit)
	if err != nil {
		return nil, SearchContextResult{}, err
	}

	out := SearchContextResult{
		Context: rag.FormatContext(results, s.source),
		Hits:    make([]HitResult, len(results)),
	}
	for i, r := range results {
		out.Hits[i] = HitResult{
			ID:         r.ID,
			FileName:   r.Metadata.FileName,
			DocumentID: r.Metadata.DocumentID,
			Similarity: r.Similarity,
		}
	}
	return nil, out, nil
}

func (s *Service) DeleteDocument(ctx context.Context, req *mcp.CallToolRequest, args DeleteDocumentArgs) (*mcp.CallToolResult, DeleteResult, error) {
	ids, err := s.engine.DeleteDocumentVectors(ctx, args.DocumentID)
	return nil, DeleteResult{Deleted: len(ids)}, err
}

func (s *Service) DeleteCollection(ctx context.Context, req *mcp.CallToolRequest, args DeleteCollectionArgs) (*mcp.CallToolResult, DeleteResult, error) {
	ids, err := s.engine.DeleteCollectionVectors(ctx, args.CollectionID)
	return nil, DeleteResult{Deleted: len(ids)}, err
}

func (s *Service) IngestPath(ctx context.Context, req *mcp.CallToolRequest, args IngestPathArgs) (*mcp.CallToolResult, IngestPathResult, error) {
	if s.ingestor == nil {
		return nil, IngestPathResult{}, errNoEmbedder
	}
	info, err := os.Stat(args.Path)
	if err != nil {
		return nil, IngestPathResult{}, err
	}
	var n int
	if info.IsDir() {
		n, err = s.ingestor.IngestDir(ctx, args.Path, args.CollectionID)
	} else {
		n, err = s.ingestor.IngestFile(ctx, args.Path, args.CollectionID)
	}
	return nil, IngestPathResult{Chunks: n}, err
}

func (s *Service) IndexStats(ctx context.Context, req *mcp.CallToolRequest, args IndexStatsArgs) (*mcp.CallToolResult, IndexStatsResult, error) {
	st := s.engine.Stats()
	return nil, IndexStatsResult{
		State:        st.State,
		Backend:      st.Backend,
		Vectors:      st.Vectors,
		Dimension:    st.Dimension,
		Documents:    st.Documents,
		MaxLevel:     st.Graph.MaxLevel,
		Collections:  st.Collections,
		ContentTypes: st.ContentTypes,
	}, nil
}
