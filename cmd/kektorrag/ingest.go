package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorrag/pkg/embeddings"
	"github.com/sanonone/kektorrag/pkg/rag"
)

func (a *app) newIngestCmd() *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Index files or directories into a collection",
		Long: `Load, split and embed files, then store their chunks.

Directories are walked recursively; hidden files and unsupported formats are
skipped. A file that was indexed before replaces its previous chunks.`,
		Args: cobra.MinimumNArgs(1),
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

			ing := rag.NewIngestor(a.cfg.RAG, eng, emb)
			total := 0
			var errs []error
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				var n int
				if info.IsDir() {
					n, err = ing.IngestDir(ctx, path, collection)
				} else {
					n, err = ing.IngestFile(ctx, path, collection)
				}
				total += n
				if err != nil {
					errs = append(errs, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks into %q\n", total, collection)
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection (project) id")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}
