package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorrag/pkg/core/types"
	"github.com/sanonone/kektorrag/pkg/embeddings"
	"github.com/sanonone/kektorrag/pkg/rag"
)

func (a *app) newQueryCmd() *cobra.Command {
	var (
		collections []string
		limit       int
		asJSON      bool
		asContext   bool
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the index",
		Long: `Embed the text and print the most similar chunks of the given collections.
With --context the output is the prompt prefix an assistant would receive.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			emb, err := embeddings.New(a.cfg.Embedder)
			if err != nil {
				return err
			}
			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			if asContext {
				cfg := a.cfg.RAG
				cfg.Limit = limit
				asm := rag.NewAssembler(cfg, eng, emb, nil)
				asm.MarkReady()
				fmt.Fprintln(cmd.OutOrStdout(), asm.BuildContext(ctx, args[0], collections))
				return nil
			}

			vec, err := emb.Embed(args[0])
			if err != nil {
				return fmt.Errorf("embedding query: %w", err)
			}
			results, err := eng.FindSimilarVectors(ctx, vec, collections, limit)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if asJSON {
				return printJSON(cmd, results)
			}
			printResults(cmd, results)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&collections, "collection", nil, "collection id to search (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of results (0 = default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	cmd.Flags().BoolVar(&asContext, "context", false, "print the assembled RAG context")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func printResults(cmd *cobra.Command, results []types.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s (%.2f)\n", i+1, r.Metadata.FileName, r.Similarity)
		fmt.Fprintf(cmd.OutOrStdout(), "      id=%s document=%s collection=%s\n", r.ID, r.Metadata.DocumentID, r.Metadata.CollectionID)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
