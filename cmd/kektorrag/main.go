// Command kektorrag indexes documents for retrieval-augmented generation and
// serves similarity search over HTTP, MCP and the command line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorrag/pkg/engine"
)

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	dataDir    string
	backend    string
	verbose    bool

	cfg Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "kektorrag",
		Short:         "Embedded vector search for retrieval-augmented generation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to the YAML config file")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (overrides the config file)")
	root.PersistentFlags().StringVar(&a.backend, "backend", "", "record store: badger, sqlite, aof or memory (overrides the config file)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.newServeCmd(),
		a.newMCPCmd(),
		a.newIngestCmd(),
		a.newQueryCmd(),
		a.newDeleteCmd(),
		a.newStatsCmd(),
		a.newClearCmd(),
	)
	return root
}

func (a *app) setup() error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	// Logs go to stderr: stdout belongs to command output and to the MCP stdio transport.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.Engine.DataDir = a.dataDir
	}
	if a.backend != "" {
		cfg.Engine.Backend = a.backend
	}
	a.cfg = cfg
	return cfg.Engine.Validate()
}

// openEngine opens the store and loads the index.
func (a *app) openEngine(ctx context.Context) (*engine.Engine, error) {
	eng, err := engine.Open(a.cfg.Engine)
	if err != nil {
		return nil, err
	}
	if err := eng.Init(ctx); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("loading index: %w", err)
	}
	return eng, nil
}
