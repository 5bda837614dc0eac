package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sanonone/kektorrag/pkg/core/types"
	"github.com/sanonone/kektorrag/pkg/embeddings"
	"github.com/sanonone/kektorrag/pkg/events"
)

const (
	contextHeader = "Relevant context from your documents:\n\n"
	contextFooter = "\n\nPlease use this context to inform your response while maintaining a natural conversation flow."
	contextSep    = "\n---\n\n"
)

// Assembler turns a user query into a prompt prefix built from the most
// similar chunks of the active collections.
type Assembler struct {
	cfg      Config
	searcher Searcher
	embedder embeddings.Embedder
	source   ContentSource

	readyOnce sync.Once
	ready     chan struct{}
}

func NewAssembler(cfg Config, searcher Searcher, embedder embeddings.Embedder, source ContentSource) *Assembler {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	if source == nil {
		source = NewFileSource(NewAutoLoader())
	}
	return &Assembler{
		cfg:      cfg,
		searcher: searcher,
		embedder: embedder,
		source:   source,
		ready:    make(chan struct{}),
	}
}

// Watch marks the assembler ready on the first index-ready or vectors-updated
// event of bus. The returned func unsubscribes.
func (a *Assembler) Watch(bus *events.Bus) func() {
	return bus.Subscribe(func(ev events.Event) {
		if ev.Name == events.IndexReady || ev.Name == events.VectorsUpdated {
			a.MarkReady()
		}
	})
}

// MarkReady is for callers that know the index is already loaded.
func (a *Assembler) MarkReady() {
	a.readyOnce.Do(func() { close(a.ready) })
}

// Ready reports whether a readiness event has been seen.
func (a *Assembler) Ready() bool {
	select {
	case <-a.ready:
		return true
	default:
		return false
	}
}

// BuildContext returns the formatted context for query, or "" when there is
// nothing to add. Failures are logged and never returned: a chat turn must go
// on without context rather than fail.
func (a *Assembler) BuildContext(ctx context.Context, query string, collectionIDs []string) string {
	if len(collectionIDs) == 0 || strings.TrimSpace(query) == "" {
		return ""
	}
	if !a.waitReady(ctx) {
		return ""
	}

	vec, err := a.embedder.Embed(query)
	if err != nil {
		slog.Warn("[RAG] Query embedding failed, continuing without context", "error", err)
		return ""
	}

	results, err := a.searcher.FindSimilarVectors(ctx, vec, collectionIDs, a.cfg.Limit)
	if err != nil {
		slog.Warn("[RAG] Search failed, continuing without context", "error", err)
		return ""
	}

	return FormatContext(results, a.source)
}

// FormatContext renders ranked hits as "[file] (NN% relevant):" blocks.
// Hits whose content cannot be read are skipped; no readable hit gives "".
func FormatContext(results []types.SearchResult, source ContentSource) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		content, err := source.Content(r.Metadata)
		if err != nil {
			slog.Warn("[RAG] Skipping unreadable chunk", "file", r.Metadata.FileName, "error", err)
			continue
		}
		blocks = append(blocks, formatBlock(r, content))
	}
	if len(blocks) == 0 {
		return ""
	}
	return contextHeader + strings.Join(blocks, contextSep) + contextFooter
}

// waitReady blocks until a readiness event, the ready timeout or ctx.
// On timeout the search still runs, since the engine loads lazily.
func (a *Assembler) waitReady(ctx context.Context) bool {
	if a.cfg.ReadyTimeout <= 0 || a.Ready() {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(a.cfg.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-a.ready:
		return true
	case <-timer.C:
		slog.Debug("[RAG] Index not reported ready, searching anyway")
		return true
	case <-ctx.Done():
		return false
	}
}

func formatBlock(r types.SearchResult, content string) string {
	pct := int(math.Round(r.Similarity * 100))
	return fmt.Sprintf("[%s] (%d%% relevant):\n%s\n", r.Metadata.FileName, pct, content)
}

// FileSource reads chunk text back from the source file through a Loader and
// cuts it to the record's provenance range.
type FileSource struct {
	loader Loader
}

func NewFileSource(loader Loader) *FileSource {
	return &FileSource{loader: loader}
}

func (s *FileSource) Content(meta types.Metadata) (string, error) {
	text, err := s.loader.Load(meta.FileName)
	if err != nil {
		return "", err
	}
	return cut(text, meta), nil
}

// cut applies a byte range (end exclusive) or a 1-based inclusive line range.
// Out of bounds ranges are clamped.
func cut(text string, meta types.Metadata) string {
	switch {
	case meta.Bytes != nil:
		start := min(max(meta.Bytes.Start, 0), len(text))
		end := min(max(meta.Bytes.End, start), len(text))
		return text[start:end]
	case meta.Lines != nil:
		lines := strings.SplitAfter(text, "\n")
		start := min(max(meta.Lines.Start-1, 0), len(lines))
		end := min(max(meta.Lines.End, start), len(lines))
		return strings.TrimSuffix(strings.Join(lines[start:end], ""), "\n")
	default:
		return text
	}
}
