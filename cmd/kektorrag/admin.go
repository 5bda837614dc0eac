package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newDeleteCmd() *cobra.Command {
	var id, document, collection string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a vector, a document or a collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			switch {
			case id != "":
				if err := eng.DeleteVector(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted vector %q\n", id)
			case document != "":
				ids, err := eng.DeleteDocumentVectors(ctx, document)
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d vectors of document %q\n", len(ids), document)
				return err
			case collection != "":
				ids, err := eng.DeleteCollectionVectors(ctx, collection)
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d vectors of collection %q\n", len(ids), collection)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "vector id")
	cmd.Flags().StringVar(&document, "document", "", "document id")
	cmd.Flags().StringVar(&collection, "collection", "", "collection id")
	cmd.MarkFlagsOneRequired("id", "document", "collection")
	cmd.MarkFlagsMutuallyExclusive("id", "document", "collection")
	return cmd
}

func (a *app) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()
			return printJSON(cmd, eng.Stats())
		},
	}
}

func (a *app) newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every vector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the index without --yes")
			}
			eng, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := eng.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Index cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}
