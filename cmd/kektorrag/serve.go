package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorrag/internal/server"
	"github.com/sanonone/kektorrag/pkg/embeddings"
	"github.com/sanonone/kektorrag/pkg/rag"
)

func (a *app) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API on the configured address.

Routes: /healthz and /metrics are public, everything else requires the
bearer token when server.auth_token is set. POST /context needs an embedder.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	eng, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	var asm *rag.Assembler
	if emb, err := embeddings.New(a.cfg.Embedder); err != nil {
		slog.Warn("[HTTP] Context endpoint disabled", "error", err)
	} else {
		// openEngine has already loaded the index.
		asm = rag.NewAssembler(a.cfg.RAG, eng, emb, nil)
		asm.MarkReady()
	}

	srv := server.NewServer(eng, asm, a.cfg.Server)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := srv.Shutdown(context.Background()); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}
