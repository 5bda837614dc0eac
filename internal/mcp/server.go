// Package mcp exposes the search engine as Model Context Protocol tools, so
// an assistant can pull document context and manage collections.
package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/kektorrag/pkg/embeddings"
	"github.com/sanonone/kektorrag/pkg/engine"
	"github.com/sanonone/kektorrag/pkg/rag"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// NewMCPServer registers the tools on a new SDK server.
func NewMCPServer(eng *engine.Engine, embedder embeddings.Embedder, cfg rag.Config) *mcp.Server {
	service := NewService(eng, embedder, cfg)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "kektorrag",
		Version: Version,
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "search_context",
		Description: "Find the document chunks most relevant to a query in the given collections, formatted as context.",
	}, service.SearchContext)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "delete_document",
		Description: "Remove every indexed chunk of a document.",
	}, service.DeleteDocument)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "delete_collection",
		Description: "Remove every indexed chunk of a collection.",
	}, service.DeleteCollection)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ingest_path",
		Description: "Index a file or a directory tree into a collection. Re-indexing a file replaces its previous chunks.",
	}, service.IngestPath)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "index_stats",
		Description: "Report vector, document and collection counts of the index.",
	}, service.IndexStats)

	return s
}

// RunStdio serves s over stdin/stdout until ctx is cancelled.
func RunStdio(ctx context.Context, s *mcp.Server) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves s over streamable HTTP on addr until ctx is cancelled.
func RunHTTP(ctx context.Context, s *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
