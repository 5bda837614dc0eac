package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorrag/internal/mcp"
	"github.com/sanonone/kektorrag/pkg/embeddings"
)

func (a *app) newMCPCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server for AI assistant integration.

By default the server speaks JSON-RPC over stdio. Use --addr (or mcp.addr)
to serve streamable HTTP instead.

Tools: search_context, delete_document, delete_collection, ingest_path, index_stats.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.MCP.Addr = addr
			}
			ctx := cmd.Context()

			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			emb, err := embeddings.New(a.cfg.Embedder)
			if err != nil {
				return err
			}
			s := mcp.NewMCPServer(eng, emb, a.cfg.RAG)

			if a.cfg.MCP.Addr != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on %s\n", a.cfg.MCP.Addr)
				return mcp.RunHTTP(ctx, s, a.cfg.MCP.Addr)
			}
			return mcp.RunStdio(ctx, s)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}
